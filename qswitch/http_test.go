package qswitch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"

	"github.com/labhive/instruments/comm"
	"github.com/labhive/instruments/generichttp"
)

func newTestServer(t *testing.T) (*httptest.Server, *QSwitch) {
	t.Helper()
	m := NewMock()
	pool := comm.NewPool(1, time.Hour, m.Maker())
	q, err := NewWithPool(pool)
	if err != nil {
		t.Fatal(err)
	}
	q.errorSettle = 0
	router := chi.NewRouter()
	NewHTTPWrapper(q).RT().Bind(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, q
}

func TestHTTPStateRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body generichttp.StrT
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Str != "(@1!0:24!0)" {
		t.Errorf("got %s", body.Str)
	}

	buf, _ := json.Marshal(generichttp.StrT{Str: "(@5!9)"})
	resp2, err := http.Post(srv.URL+"/state", "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp2.StatusCode)
	}

	resp3, err := http.Get(srv.URL + "/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp3.Body.Close()
	if err := json.NewDecoder(resp3.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Str != "(@5!9)" {
		t.Errorf("got %s after set", body.Str)
	}
}

func TestHTTPBreakoutAndOverview(t *testing.T) {
	srv, _ := newTestServer(t)
	buf, _ := json.Marshal(map[string]string{"line": "22", "tap": "7"})
	resp, err := http.Post(srv.URL+"/breakout", "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/overview")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var over map[string][]string
	if err := json.NewDecoder(resp2.Body).Decode(&over); err != nil {
		t.Fatal(err)
	}
	if len(over["22"]) != 2 {
		t.Errorf("line 22: got %v", over["22"])
	}
}

func TestHTTPParamValidationRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	buf, _ := json.Marshal(generichttp.StrT{Str: "maybe"})
	resp, err := http.Post(srv.URL+"/param/auto_save", "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", resp.StatusCode)
	}
}

func TestHTTPSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var snap map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap["state"] != "(@1!0:24!0)" {
		t.Errorf("snapshot state: got %v", snap["state"])
	}
	if snap["auto_save"] != "off" {
		t.Errorf("snapshot auto_save: got %v", snap["auto_save"])
	}
}
