package thermotek

import (
	"encoding/json"
	"net/http"

	"github.com/labhive/instruments/generichttp"
	"github.com/labhive/instruments/generichttp/ascii"
)

// HTTPWrapper exposes a T255p over HTTP
type HTTPWrapper struct {
	*T255p

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper wraps a chiller with HTTP routes
func NewHTTPWrapper(t *T255p) HTTPWrapper {
	w := HTTPWrapper{T255p: t}
	rt := generichttp.InstrumentRoutes(t.Params(), t.Identification)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}] = w.status
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/alarms"}] = w.alarms
	ascii.InjectRawComm(rt, t)
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPWrapper) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.Status()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h HTTPWrapper) alarms(w http.ResponseWriter, r *http.Request) {
	alarms, err := h.AlarmState()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(alarms); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
