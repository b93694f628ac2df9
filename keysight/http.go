package keysight

import (
	"github.com/labhive/instruments/generichttp"
	"github.com/labhive/instruments/generichttp/ascii"
	"github.com/labhive/instruments/parameter"
)

// instrument is the part of the drivers in this package used by the
// HTTP layer
type instrument interface {
	Params() *parameter.Table

	Identification() (string, error)

	Raw(string) (string, error)
}

// HTTPWrapper exposes a driver from this package over HTTP
type HTTPWrapper struct {
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper wraps a supply or attenuator with HTTP routes
func NewHTTPWrapper(i instrument) HTTPWrapper {
	rt := generichttp.InstrumentRoutes(i.Params(), i.Identification)
	ascii.InjectRawComm(rt, i)
	return HTTPWrapper{RouteTable: rt}
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}
