package valon

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/labhive/instruments/comm"
)

// scriptedSynth echoes each command and then answers from a canned
// table, the way the hardware does
func scriptedSynth(replies map[string]string) *Valon5015 {
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
				out := line + "\r\n"
				for cmd, resp := range replies {
					if strings.HasPrefix(line, cmd) {
						out += resp + "\r\n"
					}
				}
				them.Write([]byte(out))
			}
		}()
		return us, nil
	}
	v := &Valon5015{pool: comm.NewPool(1, time.Minute, maker)}
	v.buildParams()
	return v
}

func TestFrequencyParsesMegahertzReply(t *testing.T) {
	v := scriptedSynth(map[string]string{"frequency": "F 1000 MHz; // Act 1000 MHz"})
	hz, err := v.Frequency()
	if err != nil {
		t.Fatal(err)
	}
	if hz != 1e9 {
		t.Errorf("got %v, want 1e9", hz)
	}
}

func TestPowerParsesSignedReply(t *testing.T) {
	v := scriptedSynth(map[string]string{"power": "PWR -4.0"})
	dBm, err := v.Power()
	if err != nil {
		t.Fatal(err)
	}
	if dBm != -4.0 {
		t.Errorf("got %v, want -4", dBm)
	}
}

func TestModulationFrequencyScalesKilohertz(t *testing.T) {
	v := scriptedSynth(map[string]string{"amf": "AMF 1.5 kHz"})
	hz, err := v.ModulationFrequency()
	if err != nil {
		t.Fatal(err)
	}
	if hz != 1500 {
		t.Errorf("got %v, want 1500", hz)
	}
}

func TestLowPowerModeParsesFlag(t *testing.T) {
	v := scriptedSynth(map[string]string{"pdn": "PDN 1"})
	on, err := v.LowPowerMode()
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Error("expected low power mode on")
	}
}

func TestUnexpectedReplyErrors(t *testing.T) {
	v := scriptedSynth(map[string]string{"offset": "garbage"})
	if _, err := v.Offset(); err == nil {
		t.Error("expected a parse error")
	}
}

func TestParamsValidateRange(t *testing.T) {
	v := scriptedSynth(nil)
	if err := v.Params().Set("frequency", 1e3); err == nil {
		t.Error("expected a validation error below 10 MHz")
	}
	if err := v.Params().Set("modulation_frequency", 5e3); err == nil {
		t.Error("expected a validation error above 2 kHz")
	}
}
