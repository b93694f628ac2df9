package scpi_test

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/labhive/instruments/comm"
	"github.com/labhive/instruments/scpi"
)

// scriptedDevice answers queries from a canned table, newline framed,
// echoing "+0, No error" for the trailing error query when handshaking
func scriptedDevice(t *testing.T, replies map[string]string) *comm.Pool {
	maker := func() (io.ReadWriteCloser, error) {
		us, them := net.Pipe()
		go func() {
			rdr := bufio.NewReader(them)
			for {
				line, err := rdr.ReadString('\n')
				if err != nil {
					return
				}
				line = strings.TrimRight(line, "\n")
				var out []string
				for cmd, resp := range replies {
					if strings.Contains(line, cmd) {
						out = append(out, resp)
					}
				}
				if strings.Contains(line, "SYSTem:ERRor?") {
					out = append(out, `+0,"No error"`)
				}
				if len(out) > 0 {
					them.Write([]byte(strings.Join(out, ";") + "\n"))
				}
			}
		}()
		return us, nil
	}
	return comm.NewPool(1, time.Minute, maker)
}

func TestReadFloatParsesResponse(t *testing.T) {
	pool := scriptedDevice(t, map[string]string{"VOLT?": "3.14159"})
	s := scpi.SCPI{Pool: pool}
	v, err := s.ReadFloat("VOLT?")
	if err != nil {
		t.Fatal(err)
	}
	if v != 3.14159 {
		t.Errorf("expected 3.14159, got %v", v)
	}
}

func TestHandshakingStripsErrorField(t *testing.T) {
	pool := scriptedDevice(t, map[string]string{"FREQ?": "1000000"})
	s := scpi.SCPI{Pool: pool, Handshaking: true}
	v, err := s.ReadInt("FREQ?")
	if err != nil {
		t.Fatal(err)
	}
	if v != 1000000 {
		t.Errorf("expected 1000000, got %v", v)
	}
}

func TestWriteHandshakingAcceptsOK(t *testing.T) {
	pool := scriptedDevice(t, nil)
	s := scpi.SCPI{Pool: pool, Handshaking: true}
	if err := s.Write("OUTP ON"); err != nil {
		t.Fatal(err)
	}
}

func TestReadFloatsSplitsCSV(t *testing.T) {
	pool := scriptedDevice(t, map[string]string{"MEAS:ALL?": "1.0, 2.5,3"})
	s := scpi.SCPI{Pool: pool}
	vs, err := s.ReadFloats("MEAS:ALL?")
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1.0, 2.5, 3}
	if len(vs) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(vs))
	}
	for i := range want {
		if vs[i] != want[i] {
			t.Errorf("value %d: expected %v got %v", i, want[i], vs[i])
		}
	}
}

func TestOnOff(t *testing.T) {
	if scpi.OnOff(true) != "ON" || scpi.OnOff(false) != "OFF" {
		t.Error("OnOff mnemonics wrong")
	}
}
