package qswitch

import (
	"net/http"

	"github.com/labhive/instruments/generichttp"
	"github.com/labhive/instruments/generichttp/ascii"
	"github.com/labhive/instruments/generichttp/relay"
)

// HTTPWrapper exposes a QSwitch over HTTP, combining the relay routes,
// the parameter surface, and a raw escape hatch
type HTTPWrapper struct {
	*QSwitch

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper wraps a QSwitch with HTTP routes
func NewHTTPWrapper(q *QSwitch) HTTPWrapper {
	w := HTTPWrapper{QSwitch: q}
	rt := relay.NewHTTPSwitch(q).RT()
	for mp, handler := range generichttp.InstrumentRoutes(q.Params(), q.Identification) {
		rt[mp] = handler
	}
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/errors"}] = generichttp.GetString(q.Errors)
	ascii.InjectRawComm(rt, q)
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}
