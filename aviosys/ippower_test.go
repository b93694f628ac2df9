package aviosys

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeSwitch emulates the device's set.cmd API with four sockets
func fakeSwitch(t *testing.T) (*IPPower9258, *[4]bool) {
	t.Helper()
	var states [4]bool
	states[0] = true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "12345678" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/set.cmd" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var id, v int
		if n, _ := fmt.Sscanf(r.URL.RawQuery, "cmd=setpower+p6%d=%d", &id, &v); n == 2 {
			states[id-1] = v == 1
		}
		fmt.Fprintf(w, "<html>p61=%d,p62=%d,p63=%d,p64=%d",
			b2i(states[0]), b2i(states[1]), b2i(states[2]), b2i(states[3]))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, "admin", "12345678"), &states
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestPowerStatesParsed(t *testing.T) {
	ip, _ := fakeSwitch(t)
	states, err := ip.PowerStates()
	if err != nil {
		t.Fatal(err)
	}
	if !states["A"] || states["B"] || states["C"] || states["D"] {
		t.Errorf("got %v, want only A on", states)
	}
}

func TestSetPowerRoundTrip(t *testing.T) {
	ip, states := fakeSwitch(t)
	if err := ip.SetPower("C", true); err != nil {
		t.Fatal(err)
	}
	if !states[2] {
		t.Error("socket C did not turn on")
	}
	on, err := ip.Power("C")
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Error("readback disagrees with the device")
	}
}

func TestUnknownSocketRejected(t *testing.T) {
	ip, _ := fakeSwitch(t)
	if _, err := ip.Power("E"); err == nil {
		t.Error("expected error for socket E")
	}
	if err := ip.SetPower("Z", true); err == nil {
		t.Error("expected error for socket Z")
	}
}

func TestBadCredentialsSurface(t *testing.T) {
	ip, _ := fakeSwitch(t)
	ip.pass = "wrong"
	if _, err := ip.PowerStates(); err == nil {
		t.Error("expected an error on 401")
	}
}

func TestParamsCoverEverySocket(t *testing.T) {
	ip, _ := fakeSwitch(t)
	names := ip.Params().Names()
	want := []string{"socket_a_power", "socket_b_power", "socket_c_power", "socket_d_power"}
	if len(names) != len(want) {
		t.Fatalf("got %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("got %v, want %v", names, want)
		}
	}
}
