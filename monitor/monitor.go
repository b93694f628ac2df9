/*Package monitor contains the machinery for a background recording server.

It snapshots the parameter tables registered with it every <interval>
and stores up to N samples per instrument in a ring buffer, serving the
history over HTTP.  A rate limiter paces the polling so a short interval
with many instruments cannot flood the hardware.
*/
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"goji.io"
	"goji.io/pat"

	"golang.org/x/time/rate"

	"github.com/labhive/instruments/parameter"
)

// Sample is one snapshot of an instrument's readable parameters
type Sample struct {
	Time   time.Time              `json:"timestamp"`
	Values map[string]interface{} `json:"values"`
}

// ring is a fixed capacity circular buffer of samples
type ring struct {
	buf   []Sample
	head  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Sample, capacity)}
}

func (r *ring) Append(s Sample) {
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Contiguous returns the samples oldest first
func (r *ring) Contiguous() []Sample {
	out := make([]Sample, 0, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

type source struct {
	table   *parameter.Table
	history *ring
}

// Monitor polls parameter tables on a ticker and stores their snapshots
type Monitor struct {
	mu      sync.Mutex
	sources map[string]*source

	tick     time.Duration
	capacity int
	limiter  *rate.Limiter

	ticker *time.Ticker
	stop   chan struct{}
}

// New creates a new Monitor.  pollHz bounds how many instrument
// snapshots are taken per second across all sources.
func New(tick time.Duration, capacity int, pollHz float64) *Monitor {
	return &Monitor{
		sources:  make(map[string]*source),
		tick:     tick,
		capacity: capacity,
		limiter:  rate.NewLimiter(rate.Limit(pollHz), 1),
	}
}

// Register adds an instrument's parameter table under a name
func (m *Monitor) Register(name string, t *parameter.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = &source{table: t, history: newRing(m.capacity)}
}

// Start triggers operation of the monitor
func (m *Monitor) Start() {
	m.ticker = time.NewTicker(m.tick)
	m.stop = make(chan struct{})
	go m.runner()
}

// Stop kills the monitor.  It may be restarted.
func (m *Monitor) Stop() {
	m.ticker.Stop()
	m.stop <- struct{}{}
}

func (m *Monitor) runner() {
	for {
		select {
		case t := <-m.ticker.C:
			m.pollAll(t)
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) pollAll(t time.Time) {
	m.mu.Lock()
	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)
	for _, name := range names {
		m.limiter.Wait(context.Background())
		m.mu.Lock()
		src, ok := m.sources[name]
		m.mu.Unlock()
		if !ok {
			continue
		}
		snap := src.table.Snapshot()
		m.mu.Lock()
		src.history.Append(Sample{Time: t, Values: snap})
		m.mu.Unlock()
	}
}

// Sources returns the registered source names, sorted
func (m *Monitor) Sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// History returns the recorded samples of a source, oldest first
func (m *Monitor) History(name string) ([]Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}
	return src.history.Contiguous(), nil
}

// Latest returns the most recent sample of a source
func (m *Monitor) Latest(name string) (Sample, error) {
	samples, err := m.History(name)
	if err != nil {
		return Sample{}, err
	}
	if len(samples) == 0 {
		return Sample{}, fmt.Errorf("no samples recorded yet for %q", name)
	}
	return samples[len(samples)-1], nil
}

// Mux returns a goji mux serving the recorded data:
//
//	GET /sources           -> list of source names
//	GET /:source/history   -> all recorded samples, oldest first
//	GET /:source/latest    -> the most recent sample
func (m *Monitor) Mux() *goji.Mux {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/sources"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(m.Sources()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	mux.HandleFunc(pat.Get("/:source/history"), func(w http.ResponseWriter, r *http.Request) {
		samples, err := m.History(pat.Param(r, "source"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(samples); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	mux.HandleFunc(pat.Get("/:source/latest"), func(w http.ResponseWriter, r *http.Request) {
		sample, err := m.Latest(pat.Param(r, "source"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(sample); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux
}
