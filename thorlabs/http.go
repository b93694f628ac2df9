package thorlabs

import (
	"github.com/labhive/instruments/generichttp"
	"github.com/labhive/instruments/generichttp/ascii"
)

// HTTPWrapper exposes a PM100D over HTTP
type HTTPWrapper struct {
	*PM100D

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper wraps a meter with HTTP routes
func NewHTTPWrapper(p *PM100D) HTTPWrapper {
	w := HTTPWrapper{PM100D: p}
	rt := generichttp.InstrumentRoutes(p.Params(), p.Identification)
	ascii.InjectRawComm(rt, p)
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}
