package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labhive/instruments/generichttp"
)

type fakeHTTPer struct {
	rt generichttp.RouteTable
}

func (f fakeHTTPer) RT() generichttp.RouteTable { return f.rt }

func TestInjectAddsLockRoutes(t *testing.T) {
	h := fakeHTTPer{rt: generichttp.RouteTable{}}
	Inject(h, New())
	eps := h.rt.Endpoints()
	joined := strings.Join(eps, ";")
	if !strings.Contains(joined, "GET /lock") || !strings.Contains(joined, "POST /lock") {
		t.Errorf("lock routes missing from %v", eps)
	}
}

func TestCheckBouncesWhenLocked(t *testing.T) {
	l := New()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := l.Check(ok)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/frequency", nil))
	if w.Code != http.StatusOK {
		t.Errorf("unlocked request got %d", w.Code)
	}

	l.Lock()
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/frequency", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("locked request got %d, want 423", w.Code)
	}

	// the lock route itself stays reachable so the lock can be released
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lock", nil))
	if w.Code != http.StatusOK {
		t.Errorf("lock route got %d while locked", w.Code)
	}
}

func TestHTTPSetTogglesLock(t *testing.T) {
	l := New()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool":true}`))
	l.HTTPSet(w, req)
	if !l.Locked() {
		t.Error("expected locked after set true")
	}
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool":false}`))
	l.HTTPSet(w, req)
	if l.Locked() {
		t.Error("expected unlocked after set false")
	}
}
