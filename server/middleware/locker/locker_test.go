package locker_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/fliacq/generichttp"
	"github.com/nasa-jpl/fliacq/server/middleware/locker"
)

type table struct{ rt generichttp.RouteTable }

func (t table) RT() generichttp.RouteTable { return t.rt }

func TestLockerBouncesProtectedRoutes(t *testing.T) {
	l := locker.New()
	tbl := table{rt: generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/viewer/start"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}}
	locker.Inject(tbl, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	tbl.rt.Bind(r)

	do := func(method, path, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := do(http.MethodPost, "/viewer/start", ""); code != http.StatusOK {
		t.Errorf("expected 200 while unlocked, got %d", code)
	}
	if code := do(http.MethodPost, "/lock", `{"bool":true}`); code != http.StatusOK {
		t.Fatalf("lock request failed with %d", code)
	}
	if code := do(http.MethodPost, "/viewer/start", ""); code != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %d", code)
	}
	if code := do(http.MethodGet, "/lock", ""); code != http.StatusOK {
		t.Errorf("the lock route itself must stay reachable, got %d", code)
	}
	do(http.MethodPost, "/lock", `{"bool":false}`)
	if code := do(http.MethodPost, "/viewer/start", ""); code != http.StatusOK {
		t.Errorf("expected 200 after unlock, got %d", code)
	}
}

func TestHoldLocksWritesOnly(t *testing.T) {
	l := locker.New()
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	tbl := table{rt: generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/configure"}: ok,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}:     ok,
	}}
	locker.Inject(tbl, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	tbl.rt.Bind(r)
	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	release := l.Hold("capture")
	rec := do(http.MethodPost, "/configure", "")
	if rec.Code != http.StatusLocked {
		t.Errorf("expected 423 during a capture, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "capture") {
		t.Errorf("expected the holder in the reply, got %q", rec.Body.String())
	}
	if rec := do(http.MethodGet, "/status", ""); rec.Code != http.StatusOK {
		t.Errorf("expected reads to pass while held, got %d", rec.Code)
	}

	var st locker.State
	json.NewDecoder(do(http.MethodGet, "/lock", "").Body).Decode(&st)
	if !st.Bool || len(st.Holders) != 1 || st.Holders[0] != "capture" {
		t.Errorf("unexpected lock state %+v", st)
	}

	l.Unlock()
	if !l.Locked() {
		t.Error("a client unlock must not release a held lock")
	}
	release()
	release()
	if l.Locked() {
		t.Error("expected the locker to be free after release")
	}
	if rec := do(http.MethodPost, "/configure", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 after release, got %d", rec.Code)
	}
}
