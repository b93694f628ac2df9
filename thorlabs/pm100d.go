// Package thorlabs provides a driver for the Thorlabs PM100D optical
// power and energy meter console, spoken to over USBTMC
package thorlabs

import (
	"fmt"
	"go/types"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labhive/instruments/parameter"
	"github.com/labhive/instruments/usbtmc"
)

const (
	// TLVID is the Thorlabs USB vendor ID
	TLVID = 0x1313

	// PM100DPID is the PM100D product ID
	PM100DPID = 0x8078
)

// PMError is an error reported by the meter's SYST:ERR? queue
type PMError struct {
	Code int
	Text string
}

// Error satisfies the error interface
func (e PMError) Error() string {
	if s, ok := pmErrors[e.Code]; ok {
		return fmt.Sprintf("%d - %s", e.Code, s)
	}
	if e.Text != "" {
		return fmt.Sprintf("%d - %s", e.Code, e.Text)
	}
	return fmt.Sprintf("%d - UNKNOWN ERROR CODE", e.Code)
}

// pmErrors maps the SCPI error codes the PM100D emits to strings
var pmErrors = map[int]string{
	-100: "COMMAND ERROR",
	-101: "INVALID CHARACTER",
	-102: "SYNTAX ERROR",
	-103: "INVALID SEPARATOR",
	-104: "DATA TYPE ERROR",
	-108: "PARAMETER NOT ALLOWED",
	-109: "MISSING PARAMETER",
	-110: "COMMAND HEADER ERROR",
	-113: "UNDEFINED HEADER (UNKNOWN COMMAND)",
	-115: "UNEXPECTED NUMBER OF PARAMETERS",
	-120: "NUMERIC DATA ERROR",
	-130: "SUFFIX ERROR",
	-131: "INVALID SUFFIX",
	-151: "INVALID STRING DATA",
	-220: "PARAMETER ERROR",
	-221: "SETTINGS CONFLICT",
	-222: "DATA OUT OF RANGE",
	-230: "DATA CORRUPT OR STALE",
	-231: "DATA QUESTIONABLE",
	-240: "HARDWARE ERROR",
	-241: "HARDWARE MISSING",
	-310: "SYSTEM ERROR",
	-311: "MEMORY ERROR",
	-313: "CALIBRATION MEMORY LOST",
	-315: "CONFIGURATION MEMORY LOST",
	-321: "OUT OF MEMORY",
	-330: "SELF-TEST FAILED",
	-350: "QUEUE OVERFLOW",
	-363: "INPUT BUFFER OVERRUN",
	-400: "QUERY ERROR",
	-410: "QUERY INTERRUPTED",
}

// tmcBus is the message-level transport the driver speaks over.  It is
// satisfied by usbtmc.USBDevice.
type tmcBus interface {
	Write([]byte) error
	Read() (usbtmc.BulkInResponse, error)
	Close() error
}

// PM100D represents a PM100D power meter.  The USB connection is held
// open for the lifetime of the instance.
type PM100D struct {
	sync.Mutex

	dev tmcBus

	params *parameter.Table

	// measureSettle is the pause between triggering a measurement and
	// fetching the result
	measureSettle time.Duration
}

// NewPM100D opens the first PM100D on the bus and configures it for
// power measurements with 300 sample averaging
func NewPM100D() (*PM100D, error) {
	d, err := usbtmc.NewUSBDevice(TLVID, PM100DPID)
	if err != nil {
		return nil, err
	}
	p := &PM100D{dev: d, measureSettle: 200 * time.Millisecond}
	p.buildParams()
	if err := p.SetAverages(300); err != nil {
		return p, err
	}
	if err := p.configurePower(); err != nil {
		return p, err
	}
	return p, nil
}

// Close releases the USB device
func (p *PM100D) Close() error {
	return p.dev.Close()
}

func (p *PM100D) writeBus(cmd string) error {
	return p.dev.Write([]byte(cmd + "\n"))
}

func (p *PM100D) askBus(cmd string) (string, error) {
	if err := p.writeBus(cmd); err != nil {
		return "", err
	}
	resp, err := p.dev.Read()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(resp.Data), "\r\n"), nil
}

// checkError drains one entry from the error queue and converts a
// nonzero code to a PMError
func (p *PM100D) checkError() error {
	resp, err := p.askBus("SYST:ERR?")
	if err != nil {
		return err
	}
	pieces := strings.SplitN(resp, ",", 2)
	code, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(pieces[0]), "+"))
	if err != nil {
		return fmt.Errorf("malformed error queue reply %q", resp)
	}
	if code == 0 {
		return nil
	}
	text := ""
	if len(pieces) == 2 {
		text = strings.Trim(pieces[1], `" `)
	}
	return PMError{Code: code, Text: text}
}

// write sends a command and verifies it against the error queue
func (p *PM100D) write(cmd string) error {
	p.Lock()
	defer p.Unlock()
	if err := p.writeBus(cmd); err != nil {
		return err
	}
	return p.checkError()
}

// ask sends a query and returns the reply with framing stripped
func (p *PM100D) ask(cmd string) (string, error) {
	p.Lock()
	defer p.Unlock()
	return p.askBus(cmd)
}

func (p *PM100D) askFloat(cmd string) (float64, error) {
	resp, err := p.ask(cmd)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// configurePower puts the sensor in power mode and arms a measurement
func (p *PM100D) configurePower() error {
	p.Lock()
	defer p.Unlock()
	if err := p.writeBus("CONF:POW"); err != nil {
		return err
	}
	// reading the operation register clears a stale trigger
	if _, err := p.askBus("ABOR;:STAT:OPER?"); err != nil {
		return err
	}
	return p.writeBus("INIT")
}

// Power triggers a power measurement and returns the result in watts
func (p *PM100D) Power() (float64, error) {
	if err := p.configurePower(); err != nil {
		return 0, err
	}
	if err := p.write("MEAS:POW"); err != nil {
		return 0, err
	}
	time.Sleep(p.measureSettle)
	return p.askFloat("FETC?")
}

// Averages returns the number of samples averaged per reading
func (p *PM100D) Averages() (int, error) {
	resp, err := p.ask("AVER?")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(resp)
}

// SetAverages programs the number of samples averaged per reading.
// One sample takes roughly 3 ms.
func (p *PM100D) SetAverages(n int) error {
	if n < 1 {
		return fmt.Errorf("averaging count %d must be at least 1", n)
	}
	return p.write(fmt.Sprintf("AVER %d", n))
}

// Wavelength returns the correction wavelength in meters
func (p *PM100D) Wavelength() (float64, error) {
	nm, err := p.askFloat("SENS:CORR:WAV?")
	if err != nil {
		return 0, err
	}
	return nm * 1e-9, nil
}

// SetWavelength programs the correction wavelength in meters.
// The sensor accepts 185 nm to 25 um.
func (p *PM100D) SetWavelength(meters float64) error {
	if meters < 185e-9 || meters > 25e-6 {
		return fmt.Errorf("wavelength %g m outside range [185 nm, 25 um]", meters)
	}
	return p.write(fmt.Sprintf("SENS:CORR:WAV %.6G", meters*1e9))
}

// Attenuation returns the input attenuation correction in dB
func (p *PM100D) Attenuation() (float64, error) {
	return p.askFloat("CORR?")
}

// SetAttenuation programs the input attenuation correction in dB
func (p *PM100D) SetAttenuation(db float64) error {
	if db < -60 || db > 60 {
		return fmt.Errorf("attenuation %g dB outside range [-60, 60]", db)
	}
	return p.write(fmt.Sprintf("CORR %.6G", db))
}

// PowerRange returns the upper limit of the power range in watts
func (p *PM100D) PowerRange() (float64, error) {
	return p.askFloat("SENS:POW:RANG:UPP?")
}

// SetPowerRange programs the upper limit of the power range in watts
func (p *PM100D) SetPowerRange(watts float64) error {
	return p.write(fmt.Sprintf("SENS:POW:RANG:UPP %.6G", watts))
}

// AutoRange returns whether the meter selects the power range itself
func (p *PM100D) AutoRange() (bool, error) {
	resp, err := p.ask("SENS:POW:RANG:AUTO?")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(resp) == "1", nil
}

// SetAutoRange turns automatic power ranging on or off
func (p *PM100D) SetAutoRange(on bool) error {
	state := 0
	if on {
		state = 1
	}
	return p.write(fmt.Sprintf("SENS:POW:RANG:AUTO %d", state))
}

// Frequency measures the modulation frequency of the input in Hz
func (p *PM100D) Frequency() (float64, error) {
	return p.askFloat("MEAS:FREQ?")
}

// Current measures the photodiode current in amps
func (p *PM100D) Current() (float64, error) {
	return p.askFloat("MEAS:CURR?")
}

// CurrentRange returns the upper limit of the current range in amps
func (p *PM100D) CurrentRange() (float64, error) {
	return p.askFloat("SENS:CURR:RANG:UPP?")
}

// ZeroMagnitude returns the magnitude of the dark offset in watts
func (p *PM100D) ZeroMagnitude() (float64, error) {
	return p.askFloat("CORR:COLL:ZERO:MAGN?")
}

// BeamDiameter returns the assumed beam diameter in meters
func (p *PM100D) BeamDiameter() (float64, error) {
	mm, err := p.askFloat("CORR:BEAM?")
	if err != nil {
		return 0, err
	}
	return mm * 1e-3, nil
}

// SetBeamDiameter programs the assumed beam diameter in meters
func (p *PM100D) SetBeamDiameter(meters float64) error {
	if meters <= 0 {
		return fmt.Errorf("beam diameter must be positive, got %g m", meters)
	}
	return p.write(fmt.Sprintf("CORR:BEAM %.6G", meters*1e3))
}

// SetTransitionFilter programs the positive and negative transition
// filters of the operation register, then reads the register to clear
// it.  Settling takes several seconds on the hardware.
func (p *PM100D) SetTransitionFilter(positive, negative int) error {
	if err := p.write(fmt.Sprintf("STAT:OPER:PTR %d", positive)); err != nil {
		return err
	}
	time.Sleep(p.measureSettle)
	if err := p.write(fmt.Sprintf("STAT:OPER:NTR %d", negative)); err != nil {
		return err
	}
	time.Sleep(25 * p.measureSettle)
	_, err := p.ask("STAT:OPER?")
	return err
}

// Identification returns the *IDN? response of the meter
func (p *PM100D) Identification() (string, error) {
	return p.ask("*IDN?")
}

// Raw sends a command to the meter.  If it contains a ?, the reply is
// returned.
func (p *PM100D) Raw(cmd string) (string, error) {
	if strings.Contains(cmd, "?") {
		return p.ask(cmd)
	}
	return "", p.write(cmd)
}

func (p *PM100D) buildParams() {
	t := parameter.NewTable()
	t.Add(parameter.Parameter{
		Name: "averaging",
		Kind: types.Int,
		Vals: parameter.Ints{Min: 1, Max: 10000},
		Getter: func() (interface{}, error) {
			return p.Averages()
		},
		Setter: func(v interface{}) error {
			return p.SetAverages(v.(int))
		},
	})
	t.Add(parameter.Parameter{
		Name: "wavelength",
		Unit: "m",
		Kind: types.Float64,
		Vals: parameter.Range{Min: 185e-9, Max: 25e-6},
		Getter: func() (interface{}, error) {
			return p.Wavelength()
		},
		Setter: func(v interface{}) error {
			return p.SetWavelength(v.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "power",
		Unit: "W",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return p.Power()
		},
	})
	t.Add(parameter.Parameter{
		Name: "attenuation",
		Unit: "dB",
		Kind: types.Float64,
		Vals: parameter.Range{Min: -60, Max: 60},
		Getter: func() (interface{}, error) {
			return p.Attenuation()
		},
		Setter: func(v interface{}) error {
			return p.SetAttenuation(v.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "power_range",
		Unit: "W",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return p.PowerRange()
		},
		Setter: func(v interface{}) error {
			return p.SetPowerRange(v.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "auto_range",
		Kind: types.Bool,
		Getter: func() (interface{}, error) {
			return p.AutoRange()
		},
		Setter: func(v interface{}) error {
			return p.SetAutoRange(v.(bool))
		},
	})
	t.Add(parameter.Parameter{
		Name: "frequency",
		Unit: "Hz",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return p.Frequency()
		},
	})
	t.Add(parameter.Parameter{
		Name: "current",
		Unit: "A",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return p.Current()
		},
	})
	t.Add(parameter.Parameter{
		Name: "current_range",
		Unit: "A",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return p.CurrentRange()
		},
	})
	t.Add(parameter.Parameter{
		Name: "zero_value",
		Unit: "W",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return p.ZeroMagnitude()
		},
	})
	t.Add(parameter.Parameter{
		Name: "beam_diameter",
		Unit: "m",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return p.BeamDiameter()
		},
		Setter: func(v interface{}) error {
			return p.SetBeamDiameter(v.(float64))
		},
	})
	p.params = t
}

// Params returns the parameter table of the meter
func (p *PM100D) Params() *parameter.Table {
	return p.params
}
