// monitorsrv records instrument snapshots on an interval and serves
// the history over HTTP.  It shares its config file with labsrv; the
// Nodes list describes the instruments, and MonitorAddr, Interval,
// Capacity and PollHz control the recording.
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/labhive/instruments/monitor"
	"github.com/labhive/instruments/multiserver"
)

func main() {
	path := flag.String("config", "labsrv.yml", "path to the config file")
	flag.Parse()

	mcfg, err := monitor.LoadYaml(*path)
	if err != nil {
		log.Fatalf("error loading monitor config: %v", err)
	}
	scfg, err := multiserver.LoadYaml(*path)
	if err != nil {
		log.Fatalf("error loading node config: %v", err)
	}
	tick, err := mcfg.Tick()
	if err != nil {
		log.Fatalf("bad interval %q: %v", mcfg.Interval, err)
	}

	g, err := multiserver.BuildMux(scfg)
	if err != nil {
		log.Fatal(err)
	}

	m := monitor.New(tick, mcfg.Capacity, mcfg.PollHz)
	for name, table := range g.Tables {
		if table == nil {
			continue
		}
		m.Register(name, table)
	}
	m.Start()
	defer m.Stop()

	log.Println("recording", len(g.Tables), "instruments every", tick)
	log.Println("now serving history at", mcfg.Addr)
	log.Fatal(http.ListenAndServe(mcfg.Addr, m.Mux()))
}
