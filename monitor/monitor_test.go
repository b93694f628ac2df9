package monitor

import (
	"encoding/json"
	"go/types"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labhive/instruments/parameter"
)

func countingTable(counter *int64) *parameter.Table {
	t := parameter.NewTable()
	t.Add(parameter.Parameter{
		Name: "reading",
		Kind: types.Int,
		Getter: func() (interface{}, error) {
			return int(atomic.AddInt64(counter, 1)), nil
		},
	})
	return t
}

func TestRingWrapsOldestFirst(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 5; i++ {
		r.Append(Sample{Values: map[string]interface{}{"n": i}})
	}
	samples := r.Contiguous()
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	for i, want := range []int{3, 4, 5} {
		if samples[i].Values["n"] != want {
			t.Errorf("sample %d = %v, want %d", i, samples[i].Values["n"], want)
		}
	}
}

func TestMonitorRecordsSnapshots(t *testing.T) {
	var counter int64
	m := New(time.Millisecond, 100, 1e6)
	m.Register("env", countingTable(&counter))
	m.Start()
	time.Sleep(25 * time.Millisecond)
	m.Stop()
	samples, err := m.History("env")
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) == 0 {
		t.Fatal("no samples recorded")
	}
	latest, err := m.Latest("env")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Values["reading"].(int) < len(samples) {
		t.Error("latest sample should carry the highest reading")
	}
}

func TestUnknownSourceErrors(t *testing.T) {
	m := New(time.Second, 10, 1)
	if _, err := m.History("nope"); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestMuxServesHistory(t *testing.T) {
	var counter int64
	m := New(time.Millisecond, 10, 1e6)
	m.Register("env", countingTable(&counter))
	m.Start()
	time.Sleep(10 * time.Millisecond)
	m.Stop()

	srv := httptest.NewServer(m.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sources")
	if err != nil {
		t.Fatal(err)
	}
	var sources []string
	if err := json.NewDecoder(resp.Body).Decode(&sources); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(sources) != 1 || sources[0] != "env" {
		t.Errorf("sources = %v", sources)
	}

	resp, err = http.Get(srv.URL + "/env/history")
	if err != nil {
		t.Fatal(err)
	}
	var samples []Sample
	if err := json.NewDecoder(resp.Body).Decode(&samples); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(samples) == 0 {
		t.Error("expected recorded samples over HTTP")
	}

	resp, err = http.Get(srv.URL + "/nope/history")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown source got %d, want 404", resp.StatusCode)
	}
}

func TestConfigTickParsed(t *testing.T) {
	cfg := DefaultConfig()
	tick, err := cfg.Tick()
	if err != nil {
		t.Fatal(err)
	}
	if tick != 10*time.Second {
		t.Errorf("got %v, want 10s", tick)
	}
}
