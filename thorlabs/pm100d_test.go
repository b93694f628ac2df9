package thorlabs

import (
	"math"
	"strings"
	"testing"

	"github.com/labhive/instruments/usbtmc"
)

// scriptedBus answers queries from a canned table and plays back a
// queue of error strings for SYST:ERR?
type scriptedBus struct {
	replies map[string]string
	sent    []string
	pending string
	errs    []string
}

func (f *scriptedBus) Write(b []byte) error {
	cmd := strings.TrimRight(string(b), "\n")
	f.sent = append(f.sent, cmd)
	f.pending = cmd
	return nil
}

func (f *scriptedBus) Read() (usbtmc.BulkInResponse, error) {
	reply := ""
	if f.pending == "SYST:ERR?" {
		reply = `+0,"No error"`
		if len(f.errs) > 0 {
			reply = f.errs[0]
			f.errs = f.errs[1:]
		}
	} else if r, ok := f.replies[f.pending]; ok {
		reply = r
	}
	return usbtmc.BulkInResponse{Data: []byte(reply + "\n")}, nil
}

func (f *scriptedBus) Close() error { return nil }

func meter(replies map[string]string) (*PM100D, *scriptedBus) {
	bus := &scriptedBus{replies: replies}
	p := &PM100D{dev: bus}
	p.buildParams()
	return p, bus
}

func TestWavelengthScaledToMeters(t *testing.T) {
	p, _ := meter(map[string]string{"SENS:CORR:WAV?": "1550"})
	m, err := p.Wavelength()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(m-1550e-9) > 1e-15 {
		t.Errorf("got %g, want 1.55e-06", m)
	}
}

func TestSetWavelengthSendsNanometers(t *testing.T) {
	p, bus := meter(nil)
	if err := p.SetWavelength(1.55e-6); err != nil {
		t.Fatal(err)
	}
	if bus.sent[0] != "SENS:CORR:WAV 1550" {
		t.Errorf("sent %q", bus.sent[0])
	}
}

func TestSetWavelengthBoundsChecked(t *testing.T) {
	p, bus := meter(nil)
	if err := p.SetWavelength(100e-9); err == nil {
		t.Error("expected error below 185 nm")
	}
	if len(bus.sent) != 0 {
		t.Errorf("out of range value reached the bus: %v", bus.sent)
	}
}

func TestPowerTriggersAndFetches(t *testing.T) {
	p, bus := meter(map[string]string{
		"ABOR;:STAT:OPER?": "0",
		"FETC?":            "1.234E-3",
	})
	w, err := p.Power()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(w-1.234e-3) > 1e-12 {
		t.Errorf("got %g, want 1.234e-3", w)
	}
	joined := strings.Join(bus.sent, ";")
	for _, cmd := range []string{"CONF:POW", "INIT", "MEAS:POW", "FETC?"} {
		if !strings.Contains(joined, cmd) {
			t.Errorf("measurement sequence missing %s: %v", cmd, bus.sent)
		}
	}
}

func TestErrorQueueSurfaces(t *testing.T) {
	p, bus := meter(nil)
	bus.errs = append(bus.errs, `-222,"Data out of range"`)
	err := p.SetAttenuation(10)
	if err == nil {
		t.Fatal("expected an error from the queue")
	}
	if !strings.Contains(err.Error(), "DATA OUT OF RANGE") {
		t.Errorf("got %q", err.Error())
	}
}

func TestAutoRangeParsed(t *testing.T) {
	p, _ := meter(map[string]string{"SENS:POW:RANG:AUTO?": "1"})
	on, err := p.AutoRange()
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Error("expected auto range on")
	}
}

func TestBeamDiameterScaledToMeters(t *testing.T) {
	p, _ := meter(map[string]string{"CORR:BEAM?": "2.5"})
	m, err := p.BeamDiameter()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(m-2.5e-3) > 1e-12 {
		t.Errorf("got %g, want 2.5e-3", m)
	}
}

func TestParamsValidateAttenuation(t *testing.T) {
	p, _ := meter(nil)
	if err := p.Params().Set("attenuation", 100.0); err == nil {
		t.Error("expected a validation error above 60 dB")
	}
}
