package valon

import (
	"net/http"

	"github.com/labhive/instruments/generichttp"
	"github.com/labhive/instruments/generichttp/ascii"
)

// HTTPWrapper exposes a Valon5015 over HTTP
type HTTPWrapper struct {
	*Valon5015

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper wraps a synthesizer with HTTP routes
func NewHTTPWrapper(v *Valon5015) HTTPWrapper {
	w := HTTPWrapper{Valon5015: v}
	rt := generichttp.InstrumentRoutes(v.Params(), v.Identification)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}] = generichttp.GetString(v.Status)
	ascii.InjectRawComm(rt, v)
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}
