package aviosys

import (
	"github.com/labhive/instruments/generichttp"
)

// HTTPWrapper exposes an IPPower9258 over HTTP
type HTTPWrapper struct {
	*IPPower9258

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper wraps a power switch with HTTP routes
func NewHTTPWrapper(ip *IPPower9258) HTTPWrapper {
	w := HTTPWrapper{IPPower9258: ip}
	w.RouteTable = generichttp.InstrumentRoutes(ip.Params(), ip.Identification)
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}
