package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/labhive/instruments/multiserver"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "labsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(multiserver.Config{
		Addr:  ":8000",
		Nodes: []multiserver.ObjSetup{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `labsrv communicates with lab hardware and exposes an HTTP interface to it.
This enables a server-client architecture, and the clients can leverage the
excellent HTTP libraries for any programming language.

Usage:
	labsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `labsrv is amenable to configuration via its .yaml file.  For a primer on YAML,
see https://yaml.org/start.html

Without a configuration, the server will close immediately and display an error
that there are no endpoints.

No two endpoints can have the same URL.

URLs may look like any variation between "cryo/qswitch" or "/cryo/qswitch/*",
the leading and trailing slashes, as well as the *, are added by the server if
missing.

Hardware and matching "type" fields, case insensitive, alphabetical by vendor:
- Attocube:
	> ANC300 piezo controller "anc300", "attocube"
- Aviosys:
	> IP Power 9258S networked power switch "ippower", "ippower9258"
	  (Args: User, Password)
- Keysight:
	> E36313A DC power supply "e36313a", "keysight-psu"
	> J7211 step attenuator "j7211", "step-attenuator"
- Lakeshore:
	> Model 625 magnet power supply "model625", "lakeshore625"
- Oxford Instruments:
	> ITC503 temperature controller "itc503", "oxford-itc"
- QDevil:
	> QSwitch relay matrix "qswitch" (supports Mock)
- Thermotek:
	> T255p recirculating chiller "t255p", "thermotek"
- Thorlabs:
	> PM100D optical power meter "pm100d" (USB, Addr unused)
- Valon:
	> 5015 frequency synthesizer "valon", "valon5015"`
	fmt.Println(str)
}

func mkconf() {
	c := multiserver.Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := multiserver.Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("labsrv version %v\n", Version)
}

func run() {
	c := multiserver.Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	spincfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " bringing up instrument nodes",
		StopCharacter:   "OK",
		StopColors:      []string{"fgGreen"},
		StopFailMessage: "failed",
	}
	spinner, err := yacspin.New(spincfg)
	if err == nil {
		spinner.Start()
	}
	g, err := multiserver.BuildMux(c)
	if err != nil {
		if spinner != nil {
			spinner.StopFail()
		}
		log.Fatal(err)
	}
	if spinner != nil {
		spinner.Stop()
	}
	log.Println("now listening for requests at", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, g.Router))
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
