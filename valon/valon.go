/*Package valon provides an interface to Valon 5015 frequency synthesizers.

The 5015 is not SCPI compliant.  Commands are plain words ("frequency",
"power"), the device echoes every command before answering, and replies
carry units which must be parsed off ("F 1000 MHz").  The echo line is
read and discarded on every exchange.
*/
package valon

import (
	"fmt"
	"go/types"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/labhive/instruments/comm"
	"github.com/labhive/instruments/parameter"
)

var (
	frequencyRe = regexp.MustCompile(`F (-?\d+(\.\d+)?) MHz`)
	offsetRe    = regexp.MustCompile(`OFFSET (-?\d+(\.\d+)?) MHz`)
	powerRe     = regexp.MustCompile(`PWR (-?\d+\.\d+)`)
	amDepthRe   = regexp.MustCompile(`AMD (-?\d+\.\d+) dB`)
	amFreqRe    = regexp.MustCompile(`AMF (-?\d+(\.\d+)?) kHz`)
	lowPowerRe  = regexp.MustCompile(`PDN ([01])`)
	buffAmpRe   = regexp.MustCompile(`OEN ([01])`)
)

// statusLines is the number of lines in the stat reply, echo included
const statusLines = 14

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// Valon5015 is an interface to a 5015 synthesizer
type Valon5015 struct {
	pool *comm.Pool

	params *parameter.Table
}

// New creates a Valon5015 driver
func New(addr string, useSerial bool) *Valon5015 {
	var maker comm.CreationFunc
	if useSerial {
		maker = comm.BackingOffSerialConnMaker(makeSerConf(addr))
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	v := &Valon5015{pool: comm.NewPool(1, 10*time.Second, maker)}
	v.buildParams()
	return v
}

// ask sends a command and reads lines replies, the first of which is
// the device echoing the command
func (v *Valon5015) ask(cmd string, lines int) ([]string, error) {
	conn, err := v.pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() { v.pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(conn, '\n', '\r')
	if _, err = comm.NewTimeout(wrap, 5*time.Second); err != nil {
		return nil, err
	}
	if _, err = wrap.Write([]byte(cmd)); err != nil {
		return nil, err
	}
	out := make([]string, 0, lines)
	buf := make([]byte, 256)
	for i := 0; i < lines; i++ {
		var n int
		n, err = wrap.Read(buf)
		if err != nil {
			return out, err
		}
		out = append(out, strings.TrimRight(string(buf[:n]), "\r"))
	}
	return out, nil
}

// askMatch sends a command, discards the echo, and extracts the first
// capture group of re from the reply
func (v *Valon5015) askMatch(cmd string, re *regexp.Regexp) (string, error) {
	resp, err := v.ask(cmd, 2)
	if err != nil {
		return "", err
	}
	m := re.FindStringSubmatch(resp[1])
	if m == nil {
		return "", fmt.Errorf("unexpected reply %q to %q", resp[1], cmd)
	}
	return m[1], nil
}

func (v *Valon5015) askFloat(cmd string, re *regexp.Regexp, scale float64) (float64, error) {
	s, err := v.askMatch(cmd, re)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return f * scale, nil
}

func (v *Valon5015) askBool(cmd string, re *regexp.Regexp) (bool, error) {
	s, err := v.askMatch(cmd, re)
	if err != nil {
		return false, err
	}
	return s == "1", nil
}

// Status returns the multi-line stat report: manufacturer, model,
// serial, firmware, supply voltage, internal temperature and more
func (v *Valon5015) Status() (string, error) {
	resp, err := v.ask("stat", statusLines)
	if err != nil {
		return "", err
	}
	return strings.Join(resp[1:], "\n"), nil
}

// Identification returns the id reply: Valon Technology, 5015, serial
// number, firmware revision
func (v *Valon5015) Identification() (string, error) {
	resp, err := v.ask("id", 2)
	if err != nil {
		return "", err
	}
	return strings.Join(resp[1:], "\n"), nil
}

// BlinkID flashes the status LED n times, to find one unit in a rack
func (v *Valon5015) BlinkID(n int) error {
	_, err := v.ask(fmt.Sprintf("id %d", n), 1)
	return err
}

// Frequency returns the output frequency in Hz
func (v *Valon5015) Frequency() (float64, error) {
	return v.askFloat("frequency", frequencyRe, 1e6)
}

// SetFrequency sets the output frequency in Hz, 10 MHz to 15 GHz
func (v *Valon5015) SetFrequency(hz float64) error {
	_, err := v.ask(fmt.Sprintf("frequency %d Hz", int(hz)), 2)
	return err
}

// Offset returns the frequency offset in Hz
func (v *Valon5015) Offset() (float64, error) {
	return v.askFloat("offset", offsetRe, 1e6)
}

// SetOffset sets the frequency offset in Hz
func (v *Valon5015) SetOffset(hz float64) error {
	_, err := v.ask(fmt.Sprintf("offset %d Hz", int(hz)), 2)
	return err
}

// Power returns the output power in dBm
func (v *Valon5015) Power() (float64, error) {
	return v.askFloat("power", powerRe, 1)
}

// SetPower sets the output power in dBm
func (v *Valon5015) SetPower(dBm float64) error {
	_, err := v.ask(fmt.Sprintf("power %g", dBm), 2)
	return err
}

// ModulationDepth returns the AM modulation depth in dB
func (v *Valon5015) ModulationDepth() (float64, error) {
	return v.askFloat("amd", amDepthRe, 1)
}

// SetModulationDepth sets the AM modulation depth in dB, 0 disables AM
func (v *Valon5015) SetModulationDepth(dB float64) error {
	if dB < 0 {
		return fmt.Errorf("modulation depth %g must not be negative", dB)
	}
	_, err := v.ask(fmt.Sprintf("amd %g", dB), 2)
	return err
}

// ModulationFrequency returns the AM modulation frequency in Hz
func (v *Valon5015) ModulationFrequency() (float64, error) {
	return v.askFloat("amf", amFreqRe, 1e3)
}

// SetModulationFrequency sets the AM modulation frequency in Hz, 1 to 2000
func (v *Valon5015) SetModulationFrequency(hz float64) error {
	_, err := v.ask(fmt.Sprintf("amf %d", int(hz)), 2)
	return err
}

// LowPowerMode reports whether the synthesizer is in low power mode
func (v *Valon5015) LowPowerMode() (bool, error) {
	return v.askBool("pdn", lowPowerRe)
}

// SetLowPowerMode enables or disables low power mode
func (v *Valon5015) SetLowPowerMode(on bool) error {
	_, err := v.ask("pdn "+onez(on), 2)
	return err
}

// BufferAmplifiers reports whether the RF output buffer amplifiers are on
func (v *Valon5015) BufferAmplifiers() (bool, error) {
	return v.askBool("oen", buffAmpRe)
}

// SetBufferAmplifiers enables or disables the RF output buffer amplifiers
func (v *Valon5015) SetBufferAmplifiers(on bool) error {
	_, err := v.ask("oen "+onez(on), 2)
	return err
}

func onez(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Raw sends a command and returns the reply with the echo removed
func (v *Valon5015) Raw(cmd string) (string, error) {
	resp, err := v.ask(cmd, 2)
	if err != nil {
		return "", err
	}
	return strings.Join(resp[1:], "\n"), nil
}

func (v *Valon5015) buildParams() {
	t := parameter.NewTable()
	t.Add(parameter.Parameter{
		Name: "frequency",
		Unit: "Hz",
		Kind: types.Float64,
		Vals: parameter.Range{Min: 10e6, Max: 15e9},
		Getter: func() (interface{}, error) {
			return v.Frequency()
		},
		Setter: func(val interface{}) error {
			return v.SetFrequency(val.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "offset",
		Unit: "Hz",
		Kind: types.Float64,
		Vals: parameter.Range{Min: -4295e6, Max: 4295e6},
		Getter: func() (interface{}, error) {
			return v.Offset()
		},
		Setter: func(val interface{}) error {
			return v.SetOffset(val.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "power",
		Unit: "dBm",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return v.Power()
		},
		Setter: func(val interface{}) error {
			return v.SetPower(val.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "modulation_depth",
		Unit: "dB",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return v.ModulationDepth()
		},
		Setter: func(val interface{}) error {
			return v.SetModulationDepth(val.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "modulation_frequency",
		Unit: "Hz",
		Kind: types.Float64,
		Vals: parameter.Range{Min: 1, Max: 2e3},
		Getter: func() (interface{}, error) {
			return v.ModulationFrequency()
		},
		Setter: func(val interface{}) error {
			return v.SetModulationFrequency(val.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "low_power_mode",
		Kind: types.Bool,
		Getter: func() (interface{}, error) {
			return v.LowPowerMode()
		},
		Setter: func(val interface{}) error {
			return v.SetLowPowerMode(val.(bool))
		},
	})
	t.Add(parameter.Parameter{
		Name: "buffer_amplifiers",
		Kind: types.Bool,
		Getter: func() (interface{}, error) {
			return v.BufferAmplifiers()
		},
		Setter: func(val interface{}) error {
			return v.SetBufferAmplifiers(val.(bool))
		},
	})
	v.params = t
}

// Params returns the parameter table of the synthesizer
func (v *Valon5015) Params() *parameter.Table {
	return v.params
}
