package attocube

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/labhive/instruments/generichttp"
	"github.com/labhive/instruments/generichttp/ascii"
)

// HTTPWrapper exposes an ANC300 over HTTP
type HTTPWrapper struct {
	*ANC300

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper wraps a controller with HTTP routes
func NewHTTPWrapper(a *ANC300) HTTPWrapper {
	w := HTTPWrapper{ANC300: a}
	rt := generichttp.InstrumentRoutes(a.Params(), a.Version)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/move"}] = w.move
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/stop"}] = w.stop
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}] = w.stopAll
	ascii.InjectRawComm(rt, a)
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPWrapper) axisOf(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "axis"))
}

func (h HTTPWrapper) move(w http.ResponseWriter, r *http.Request) {
	axis, err := h.axisOf(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body := generichttp.IntT{}
	err = json.NewDecoder(r.Body).Decode(&body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Move(axis, body.Int); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPWrapper) stop(w http.ResponseWriter, r *http.Request) {
	axis, err := h.axisOf(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Stop(axis); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPWrapper) stopAll(w http.ResponseWriter, r *http.Request) {
	if err := h.StopAll(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
