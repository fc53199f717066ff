// Package locker provides an HTTP middleware that refuses requests which
// would change the camera while it is locked, returning 423 (locked).
//
// The lock is taken either by a client through POST /lock, or by the server
// itself for the duration of an operation such as a capture.  Reads are
// never refused, so status and images stay available while locked.
package locker

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/nasa-jpl/fliacq/generichttp"
)

// Inject adds a lock route to a generichttp.HTTPer which is used to manipulate the locker
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// State is the reply to GET /lock
type State struct {
	Bool bool `json:"bool"`

	// Holders names the operations holding the lock, in the order they took it
	Holders []string `json:"holders,omitempty"`
}

// Locker is a non-blocking lock.  It is locked while a client has locked it
// or while any operation holds it.
type Locker struct {
	mu      sync.Mutex
	manual  bool
	holders []string

	// DoNotProtect is a list of paths not to apply the lock to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker on behalf of a client
func (l *Locker) Lock() {
	l.mu.Lock()
	l.manual = true
	l.mu.Unlock()
}

// Unlock releases the client's lock.  Operations holding the locker keep it
// locked until they finish.
func (l *Locker) Unlock() {
	l.mu.Lock()
	l.manual = false
	l.mu.Unlock()
}

// Hold locks the locker on behalf of the operation named op and returns the
// function that releases it.  The release function may be called more than
// once.
func (l *Locker) Hold(op string) (release func()) {
	l.mu.Lock()
	l.holders = append(l.holders, op)
	l.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, h := range l.holders {
				if h == op {
					l.holders = append(l.holders[:i], l.holders[i+1:]...)
					return
				}
			}
		})
	}
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	return l.State().Bool
}

// State reports whether the locker is locked and who holds it
func (l *Locker) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := State{Bool: l.manual || len(l.holders) > 0}
	if len(l.holders) > 0 {
		s.Holders = append([]string(nil), l.holders...)
	}
	return s
}

func (l *Locker) protects(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	for _, str := range l.DoNotProtect {
		if strings.Contains(r.URL.Path, str) {
			return false
		}
	}
	return true
}

// Check is an HTTP middleware that returns http.StatusLocked for protected
// requests while Locked() is true, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.protects(r) {
			if s := l.State(); s.Bool {
				msg := "locked"
				if len(s.Holders) > 0 {
					msg = "locked by " + strings.Join(s.Holders, ", ")
				}
				http.Error(w, msg, http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet replies with the State as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(l.State())
}
