// Package relay exposes switch matrices over HTTP
package relay

import (
	"encoding/json"
	"net/http"

	"github.com/labhive/instruments/generichttp"
)

// Switcher is a relay matrix: a set of lines, each of which can be
// closed onto taps by name or by SCPI channel-list syntax
type Switcher interface {
	// State returns the closed relays as a channel list
	State() (string, error)

	// SetState reconciles the hardware to exactly the given channel list
	SetState(string) error

	// CloseChannelList closes the listed relays, leaving others alone
	CloseChannelList(string) error

	// OpenChannelList opens the listed relays, leaving others alone
	OpenChannelList(string) error

	// Ground connects the named lines to the ground bus
	Ground(...string) error

	// Unground disconnects the named lines from the ground bus
	Unground(...string) error

	// Connect closes the through relay of the named lines
	Connect(...string) error

	// Disconnect opens the through relay of the named lines
	Disconnect(...string) error

	// Breakout connects a named line to a named breakout tap
	Breakout(string, string) error

	// Unbreakout disconnects a named line from a named breakout tap
	Unbreakout(string, string) error

	// Overview describes each line's connections in human terms
	Overview() (map[string][]string, error)

	// Reset releases every relay and re-grounds all lines
	Reset() error
}

// linesT is the body for routes acting on a set of named lines
type linesT struct {
	Lines []string `json:"lines"`
}

// breakoutT is the body for routes acting on a line/tap pair
type breakoutT struct {
	Line string `json:"line"`
	Tap  string `json:"tap"`
}

// HTTPSwitch wraps a Switcher with HTTP handlers
type HTTPSwitch struct {
	S Switcher

	RouteTable generichttp.RouteTable
}

// NewHTTPSwitch wraps a switcher and populates its route table
func NewHTTPSwitch(s Switcher) HTTPSwitch {
	w := HTTPSwitch{S: s}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/state"}:       generichttp.GetString(s.State),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/state"}:      generichttp.SetString(s.SetState),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/close"}:      generichttp.SetString(s.CloseChannelList),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/open"}:       generichttp.SetString(s.OpenChannelList),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/ground"}:     w.onLines(s.Ground),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/unground"}:   w.onLines(s.Unground),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/connect"}:    w.onLines(s.Connect),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/disconnect"}: w.onLines(s.Disconnect),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/breakout"}:   w.onBreakout(s.Breakout),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/unbreakout"}: w.onBreakout(s.Unbreakout),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/overview"}:    w.overview,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/reset"}:      w.resetHandler,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPSwitch) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPSwitch) onLines(fcn func(...string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := linesT{}
		err := json.NewDecoder(r.Body).Decode(&body)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := fcn(body.Lines...); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h HTTPSwitch) onBreakout(fcn func(string, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := breakoutT{}
		err := json.NewDecoder(r.Body).Decode(&body)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := fcn(body.Line, body.Tap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h HTTPSwitch) overview(w http.ResponseWriter, r *http.Request) {
	over, err := h.S.Overview()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(over); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h HTTPSwitch) resetHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.S.Reset(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
