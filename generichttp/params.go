package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/labhive/instruments/parameter"
)

// ParamRoutes builds the uniform parameter surface for an instrument's
// parameter table:
//
//	GET  /params        -> sorted list of parameter names
//	GET  /snapshot      -> every readable parameter's current value
//	GET  /param/{name}  -> typed payload for one parameter
//	POST /param/{name}  -> set one parameter from a typed payload
func ParamRoutes(t *parameter.Table) RouteTable {
	return RouteTable{
		MethodPath{Method: http.MethodGet, Path: "/params"}:        ListParams(t),
		MethodPath{Method: http.MethodGet, Path: "/snapshot"}:      Snapshot(t),
		MethodPath{Method: http.MethodGet, Path: "/param/{name}"}:  GetParam(t),
		MethodPath{Method: http.MethodPost, Path: "/param/{name}"}: SetParam(t),
	}
}

// InstrumentRoutes is ParamRoutes plus a GET /idn route, the surface
// shared by every identifiable instrument
func InstrumentRoutes(t *parameter.Table, idn func() (string, error)) RouteTable {
	rt := ParamRoutes(t)
	rt[MethodPath{Method: http.MethodGet, Path: "/idn"}] = GetString(idn)
	return rt
}

// ListParams returns the names in the table as a JSON array
func ListParams(t *parameter.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(t.Names())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Snapshot returns every readable parameter as a JSON object
func Snapshot(t *parameter.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(t.Snapshot())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// GetParam reads one parameter and responds with the typed payload
// matching its kind
func GetParam(t *parameter.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		p, err := t.Lookup(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		v, err := t.Get(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: p.Kind}
		switch p.Kind {
		case types.Float64:
			f, ok := v.(float64)
			if !ok {
				break
			}
			hp.Float = f
		case types.Int:
			i, ok := v.(int)
			if !ok {
				break
			}
			hp.Int = i
		case types.String:
			s, ok := v.(string)
			if !ok {
				break
			}
			hp.String = s
		case types.Bool:
			b, ok := v.(bool)
			if !ok {
				break
			}
			hp.Bool = b
		default:
			// compound values (relay states, overviews) pass through as-is
			w.Header().Set("Content-Type", "application/json")
			err := json.NewEncoder(w).Encode(v)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
		hp.EncodeAndRespond(w, r)
	}
}

// SetParam decodes the typed payload matching the parameter's kind and
// writes it through the table, picking up validation on the way
func SetParam(t *parameter.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		p, err := t.Lookup(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		defer r.Body.Close()
		var v interface{}
		switch p.Kind {
		case types.Float64:
			body := FloatT{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			v = body.F64
		case types.Int:
			body := IntT{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			v = body.Int
		case types.String:
			body := StrT{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			v = body.Str
		case types.Bool:
			body := BoolT{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			v = body.Bool
		default:
			if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if err := t.Set(name, v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
