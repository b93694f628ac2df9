package oxford

import (
	"net/http"

	"github.com/labhive/instruments/generichttp"
	"github.com/labhive/instruments/generichttp/ascii"
)

// HTTPWrapper exposes an ITC503 over HTTP
type HTTPWrapper struct {
	*ITC503

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper wraps a controller with HTTP routes
func NewHTTPWrapper(i *ITC503) HTTPWrapper {
	w := HTTPWrapper{ITC503: i}
	rt := generichttp.ParamRoutes(i.Params())
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/examine"}] = generichttp.GetString(i.Examine)
	ascii.InjectRawComm(rt, i)
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}
