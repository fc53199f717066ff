// Package ascii exposes a line-oriented configuration console over HTTP.
//
// The console answers each command with one response terminated by its
// prompt, so a request may carry exactly one command on one line.
package ascii

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/fliacq/generichttp"
)

// ErrBadCommand is generated for empty or multi-line commands
var ErrBadCommand = errors.New("console commands must be a single non-empty line")

// Console sends a single command and returns the response
type Console interface {
	Raw(string) (string, error)
}

// ConsoleWrapper serves a Console over HTTP
type ConsoleWrapper struct {
	Console Console
}

// Command trims cmd and checks that it is one line.  A command spanning
// lines would be answered with several prompts and desynchronize the
// console's response framing.
func Command(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		return "", errors.Wrapf(ErrBadCommand, "%q", cmd)
	}
	return cmd, nil
}

// HTTPRaw sends {"str": cmd} to the console and replies with its response
func (cw *ConsoleWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd, err := Command(str.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := cw.Console.Raw(cmd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: resp}
	hp.EncodeAndRespond(w, r)
}

// InjectConsole adds a POST /raw route for c to the route table of an HTTPer
func InjectConsole(other generichttp.HTTPer, c Console) {
	wrap := ConsoleWrapper{Console: c}
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = wrap.HTTPRaw
}
