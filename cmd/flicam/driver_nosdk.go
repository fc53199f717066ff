//go:build !fliusbsdk

package main

import (
	"errors"

	"github.com/nasa-jpl/fliacq/fli"
)

func sdkDriver() (fli.Driver, error) {
	return nil, errors.New("flicam was built without the FLI SDK, rebuild with -tags fliusbsdk or set Mock: true")
}
