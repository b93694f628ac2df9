package lakeshore

import (
	"net/http"

	"github.com/labhive/instruments/generichttp"
	"github.com/labhive/instruments/generichttp/ascii"
)

// HTTPWrapper exposes a Model625 over HTTP
type HTTPWrapper struct {
	*Model625

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper wraps a supply with HTTP routes
func NewHTTPWrapper(m *Model625) HTTPWrapper {
	w := HTTPWrapper{Model625: m}
	rt := generichttp.InstrumentRoutes(m.Params(), m.Identification)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/operational-errors"}] = generichttp.GetString(m.OperationalErrors)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/field-blocking"}] = generichttp.SetFloat(func(f float64) error {
		return m.SetField(f, true)
	})
	ascii.InjectRawComm(rt, m)
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}
