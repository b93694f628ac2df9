/*Package multiserver assembles instrument drivers from a config file
into a single HTTP server, with each instrument submounted at its own
endpoint and guarded by a lock middleware.

The server carries a special route, /endpoints, which returns the full
supergraph of mounted instruments and their routes as JSON.
*/
package multiserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-yaml/yaml"

	"github.com/labhive/instruments/attocube"
	"github.com/labhive/instruments/aviosys"
	"github.com/labhive/instruments/comm"
	"github.com/labhive/instruments/generichttp"
	"github.com/labhive/instruments/keysight"
	"github.com/labhive/instruments/lakeshore"
	"github.com/labhive/instruments/oxford"
	"github.com/labhive/instruments/parameter"
	"github.com/labhive/instruments/qswitch"
	"github.com/labhive/instruments/server/middleware/locker"
	"github.com/labhive/instruments/thermotek"
	"github.com/labhive/instruments/thorlabs"
	"github.com/labhive/instruments/valon"
)

// ObjSetup holds the typical triplet of args for a New<device> call.
// Serial is not always used, and need not be populated in the config
// file if not used.
type ObjSetup struct {
	// Addr holds the network or filesystem address of the remote device,
	// e.g. 192.168.100.123:2006 for a device connected to port 6
	// on a digi portserver, or /dev/ttyS4 for an RS232 device on a serial cable
	Addr string `yaml:"Addr"`

	// Endpoint is the path the routes from this device will be served
	// under, e.g. "cryo/qswitch" produces routes of /cryo/qswitch/state, etc.
	Endpoint string `yaml:"Endpoint"`

	// Serial determines if the connection is serial/RS232 (true) or TCP (false)
	Serial bool `yaml:"Serial"`

	// Type is the "type" of the object, e.g. qswitch
	Type string `yaml:"Type"`

	// Args holds any extra arguments for the constructor, e.g. User and
	// Password for devices behind basic auth
	Args map[string]interface{} `yaml:"Args"`
}

// Config is a struct that holds the initialization parameters for the
// instruments to serve.  It is to be populated by a yaml unmarshal call.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Mock substitutes simulated hardware where a simulator exists
	Mock bool `yaml:"Mock"`

	// Nodes is the list of instruments to set up
	Nodes []ObjSetup `yaml:"Nodes"`
}

// LoadYaml converts a (path to a) yaml file into a Config struct
func LoadYaml(path string) (Config, error) {
	cfg := Config{}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&cfg)
	return cfg, err
}

// Graph is the assembled server: the root router, plus each
// instrument's parameter table keyed by endpoint so a monitor can poll
// the same instances the router serves
type Graph struct {
	Router chi.Router
	Tables map[string]*parameter.Table
}

func stringArg(args map[string]interface{}, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// BuildMux builds a submux per node and binds them onto a root router
// with logging and per-node lock middleware
func BuildMux(c Config) (Graph, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}
	tables := map[string]*parameter.Table{}

	for _, node := range c.Nodes {
		var (
			httper generichttp.HTTPer
			table  *parameter.Table
		)
		typ := strings.ToLower(node.Type)
		switch typ {
		case "qswitch":
			var (
				q   *qswitch.QSwitch
				err error
			)
			if c.Mock {
				mock := qswitch.NewMock()
				q, err = qswitch.NewWithPool(comm.NewPool(1, time.Hour, mock.Maker()))
			} else {
				q, err = qswitch.New(node.Addr, node.Serial)
			}
			if err != nil {
				return Graph{}, fmt.Errorf("qswitch at %s: %w", node.Addr, err)
			}
			httper = qswitch.NewHTTPWrapper(q)
			table = q.Params()

		case "e36313a", "keysight-psu":
			if c.Mock {
				return Graph{}, fmt.Errorf("%s has no mock interface", typ)
			}
			e := keysight.NewE36313A(node.Addr)
			httper = keysight.NewHTTPWrapper(e)
			table = e.Params()

		case "j7211", "step-attenuator":
			if c.Mock {
				return Graph{}, fmt.Errorf("%s has no mock interface", typ)
			}
			j, err := keysight.NewJ7211(node.Addr)
			if err != nil {
				return Graph{}, fmt.Errorf("j7211 at %s: %w", node.Addr, err)
			}
			httper = keysight.NewHTTPWrapper(j)
			table = j.Params()

		case "valon", "valon5015":
			if c.Mock {
				return Graph{}, fmt.Errorf("%s has no mock interface", typ)
			}
			v := valon.New(node.Addr, node.Serial)
			httper = valon.NewHTTPWrapper(v)
			table = v.Params()

		case "model625", "lakeshore625":
			if c.Mock {
				return Graph{}, fmt.Errorf("%s has no mock interface", typ)
			}
			m := lakeshore.New(node.Addr, node.Serial)
			httper = lakeshore.NewHTTPWrapper(m)
			table = m.Params()

		case "itc503", "oxford-itc":
			if c.Mock {
				return Graph{}, fmt.Errorf("%s has no mock interface", typ)
			}
			i := oxford.New(node.Addr, node.Serial)
			httper = oxford.NewHTTPWrapper(i)
			table = i.Params()

		case "anc300", "attocube":
			if c.Mock {
				return Graph{}, fmt.Errorf("%s has no mock interface", typ)
			}
			a, err := attocube.New(node.Addr, node.Serial)
			if err != nil {
				return Graph{}, fmt.Errorf("anc300 at %s: %w", node.Addr, err)
			}
			httper = attocube.NewHTTPWrapper(a)
			table = a.Params()

		case "pm100d":
			if c.Mock {
				return Graph{}, fmt.Errorf("%s has no mock interface", typ)
			}
			p, err := thorlabs.NewPM100D()
			if err != nil {
				return Graph{}, fmt.Errorf("pm100d: %w", err)
			}
			httper = thorlabs.NewHTTPWrapper(p)
			table = p.Params()

		case "ippower", "ippower9258":
			ip := aviosys.New(node.Addr, stringArg(node.Args, "User"), stringArg(node.Args, "Password"))
			httper = aviosys.NewHTTPWrapper(ip)
			table = ip.Params()

		case "t255p", "thermotek":
			if c.Mock {
				return Graph{}, fmt.Errorf("%s has no mock interface", typ)
			}
			t := thermotek.NewT255p(node.Addr)
			httper = thermotek.NewHTTPWrapper(t)
			table = t.Params()

		default:
			return Graph{}, fmt.Errorf("type %s not understood", node.Type)
		}

		// prepare the URL, "cryo/qswitch" => "/cryo/qswitch"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)
		if _, ok := supergraph[hndlS]; ok {
			return Graph{}, fmt.Errorf("endpoint %s used by more than one node", hndlS)
		}

		// add a lock interface for this node, then snapshot its routes
		lock := locker.New()
		locker.Inject(httper, lock)
		supergraph[hndlS] = httper.RT().Endpoints()
		tables[strings.TrimPrefix(hndlS, "/")] = table

		// bind to the mux
		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return Graph{Router: root, Tables: tables}, nil
}
