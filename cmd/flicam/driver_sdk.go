//go:build fliusbsdk

package main

import (
	"github.com/nasa-jpl/fliacq/fli"
	"github.com/nasa-jpl/fliacq/fli/sdk"
)

func sdkDriver() (fli.Driver, error) {
	return sdk.New(), nil
}
