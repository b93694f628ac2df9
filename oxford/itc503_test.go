package oxford

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/labhive/instruments/comm"
)

// scriptedController answers carriage-return framed commands from a
// canned table keyed by the full command
func scriptedController(replies map[string]string) *ITC503 {
	maker := func() (io.ReadWriteCloser, error) {
		us, them := net.Pipe()
		go func() {
			rdr := bufio.NewReader(them)
			for {
				line, err := rdr.ReadString('\r')
				if err != nil {
					return
				}
				line = strings.TrimRight(line, "\r")
				resp, ok := replies[line]
				if !ok {
					resp = "?" + line
				}
				them.Write([]byte(resp + "\r"))
			}
		}()
		return us, nil
	}
	i := &ITC503{pool: comm.NewPool(1, time.Minute, maker)}
	i.buildParams()
	return i
}

func TestTemperatureStripsRPrefix(t *testing.T) {
	i := scriptedController(map[string]string{"R1": "R4.215"})
	k, err := i.Temperature(1)
	if err != nil {
		t.Fatal(err)
	}
	if float64(k) != 4.215 {
		t.Errorf("got %v, want 4.215", k)
	}
}

func TestTemperatureSensorRangeChecked(t *testing.T) {
	i := scriptedController(nil)
	if _, err := i.Temperature(4); err == nil {
		t.Error("expected error for sensor 4")
	}
}

func TestSetpointWriteAcknowledged(t *testing.T) {
	i := scriptedController(map[string]string{"T00001.5": "T"})
	if err := i.SetSetpoint(1.5); err != nil {
		t.Fatal(err)
	}
}

func TestRejectedCommandSurfaces(t *testing.T) {
	i := scriptedController(nil)
	if err := i.SetHeaterPower(50); err == nil {
		t.Error("expected an error for an unrecognized command")
	}
}

func TestStatusFieldParsing(t *testing.T) {
	i := scriptedController(map[string]string{"X": "X0A1C3S00H2L0"})
	mode, err := i.RemoteMode()
	if err != nil {
		t.Fatal(err)
	}
	if mode != "remote_unlocked" {
		t.Errorf("got %s, want remote_unlocked", mode)
	}
	auto, err := i.HeaterAuto()
	if err != nil {
		t.Fatal(err)
	}
	if !auto {
		t.Error("expected heater auto")
	}
	heater, err := i.SelectedHeater()
	if err != nil {
		t.Fatal(err)
	}
	if heater != 2 {
		t.Errorf("got heater %d, want 2", heater)
	}
}

func TestParamsValidateSetpointRange(t *testing.T) {
	i := scriptedController(nil)
	if err := i.Params().Set("temp_set_point", 77.0); err == nil {
		t.Error("expected a validation error above 40 K")
	}
}
