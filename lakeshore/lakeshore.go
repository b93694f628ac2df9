/*Package lakeshore provides tools for working with Lakeshore Model 625
superconducting magnet power supplies.

Per the Lakeshore manual, the serial interface uses 9600 baud, 7 data
bits, odd parity, 1 stop bit, CRLF terminators, and fewer than 20
commands per second.  The command rate is enforced with a limiter so
callers cannot overrun the instrument.

Field values are in tesla, currents in amps, and ramp rates in A/s,
except FieldRampRate which follows the front panel in T/min.
*/
package lakeshore

import (
	"fmt"
	"go/types"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/labhive/instruments/comm"
	"github.com/labhive/instruments/parameter"
	"github.com/labhive/instruments/scpi"
)

const kilogaussPerTesla = 10

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        7,
		Parity:      serial.ParityOdd,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// Model625 is an interface to a Lakeshore Model 625 magnet power supply
type Model625 struct {
	scpi.SCPI

	// rampPoll is how often the supply is asked if it is still ramping
	// during a blocking field set
	rampPoll time.Duration

	params *parameter.Table
}

// New creates a Model625 driver
func New(addr string, useSerial bool) *Model625 {
	var maker comm.CreationFunc
	if useSerial {
		maker = comm.BackingOffSerialConnMaker(makeSerConf(addr))
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	pool := comm.NewPool(1, 10*time.Second, maker)
	m := &Model625{
		SCPI: scpi.SCPI{
			Pool:    pool,
			Limiter: rate.NewLimiter(rate.Limit(10), 1),
			Rx:      '\n',
			Tx:      '\n'},
		rampPoll: 300 * time.Millisecond,
	}
	m.buildParams()
	return m
}

// Identification returns the *IDN? response of the supply
func (m *Model625) Identification() (string, error) {
	return m.ReadString("*IDN?")
}

// Reset restores the supply to power-up configuration
func (m *Model625) Reset() error {
	return m.SCPI.Write("*RST")
}

// Clear clears the status registers of the supply
func (m *Model625) Clear() error {
	return m.SCPI.Write("*CLS")
}

// Limits returns the output limits: max current (A), max compliance
// voltage (V), and max current ramp rate (A/s)
func (m *Model625) Limits() (current, voltage, ramp float64, err error) {
	vals, err := m.ReadFloats("LIMIT?")
	if err != nil {
		return 0, 0, 0, err
	}
	if len(vals) != 3 {
		return 0, 0, 0, fmt.Errorf("expected 3 limit values, got %d", len(vals))
	}
	return vals[0], vals[1], vals[2], nil
}

func (m *Model625) writeLimits(current, voltage, ramp float64) error {
	return m.SCPI.Write(fmt.Sprintf("LIMIT %g, %g, %g", current, voltage, ramp))
}

// SetCurrentLimit sets the maximum output current in amps, preserving
// the other limits
func (m *Model625) SetCurrentLimit(amps float64) error {
	_, voltage, ramp, err := m.Limits()
	if err != nil {
		return err
	}
	return m.writeLimits(amps, voltage, ramp)
}

// SetVoltageLimit sets the maximum compliance voltage in volts,
// preserving the other limits
func (m *Model625) SetVoltageLimit(volts float64) error {
	current, _, ramp, err := m.Limits()
	if err != nil {
		return err
	}
	return m.writeLimits(current, volts, ramp)
}

// SetCurrentRateLimit sets the maximum current ramp rate in A/s,
// preserving the other limits
func (m *Model625) SetCurrentRateLimit(ampsPerSec float64) error {
	current, voltage, _, err := m.Limits()
	if err != nil {
		return err
	}
	return m.writeLimits(current, voltage, ampsPerSec)
}

// Voltage returns the measured output voltage in volts
func (m *Model625) Voltage() (float64, error) {
	return m.ReadFloat("RDGV?")
}

// SetVoltage programs the output voltage in volts
func (m *Model625) SetVoltage(volts float64) error {
	return m.SCPI.Write(fmt.Sprintf("SETV %g", volts))
}

// Current returns the measured output current in amps
func (m *Model625) Current() (float64, error) {
	return m.ReadFloat("RDGI?")
}

// SetCurrent ramps the output to the given current in amps
func (m *Model625) SetCurrent(amps float64) error {
	return m.SCPI.Write(fmt.Sprintf("SETI %g", amps))
}

// CurrentRampRate returns the output current ramp rate in A/s
func (m *Model625) CurrentRampRate() (float64, error) {
	return m.ReadFloat("RATE?")
}

// SetCurrentRampRate sets the output current ramp rate in A/s
func (m *Model625) SetCurrentRampRate(ampsPerSec float64) error {
	return m.SCPI.Write(fmt.Sprintf("RATE %g", ampsPerSec))
}

// RampSegments reports whether ramp segments are enabled
func (m *Model625) RampSegments() (bool, error) {
	return m.ReadBool("RSEG?")
}

// SetRampSegments enables or disables ramp segments
func (m *Model625) SetRampSegments(enabled bool) error {
	return m.SCPI.Write(fmt.Sprintf("RSEG %d", boolToInt(enabled)))
}

// PersistentSwitchHeaterEnabled reports whether a persistent switch
// heater is configured
func (m *Model625) PersistentSwitchHeaterEnabled() (bool, error) {
	vals, err := m.ReadFloats("PSHS?")
	if err != nil {
		return false, err
	}
	if len(vals) != 3 {
		return false, fmt.Errorf("expected 3 PSH setup values, got %d", len(vals))
	}
	return vals[0] == 1, nil
}

// SetPersistentSwitchHeaterEnabled configures whether a persistent
// switch heater is present, preserving its current and delay settings
func (m *Model625) SetPersistentSwitchHeaterEnabled(enabled bool) error {
	vals, err := m.ReadFloats("PSHS?")
	if err != nil {
		return err
	}
	if len(vals) != 3 {
		return fmt.Errorf("expected 3 PSH setup values, got %d", len(vals))
	}
	return m.SCPI.Write(fmt.Sprintf("PSHS %d, %g, %g", boolToInt(enabled), vals[1], vals[2]))
}

var pshStates = map[int]string{
	0: "off",
	1: "on",
	2: "warming",
	3: "cooling",
}

// PersistentSwitchHeater returns the heater state: off, on, warming,
// or cooling
func (m *Model625) PersistentSwitchHeater() (string, error) {
	i, err := m.ReadInt("PSH?")
	if err != nil {
		return "", err
	}
	state, ok := pshStates[i]
	if !ok {
		return "", fmt.Errorf("unknown persistent switch heater state %d", i)
	}
	return state, nil
}

// SetPersistentSwitchHeater turns the heater on or off.  Wait for the
// state to leave warming/cooling before relying on it.
func (m *Model625) SetPersistentSwitchHeater(on bool) error {
	return m.SCPI.Write(fmt.Sprintf("PSH %d", boolToInt(on)))
}

// PersistentSwitchHeaterLastCurrent returns the output current when the
// heater was last turned off, in amps.  99.9999 means unknown.
func (m *Model625) PersistentSwitchHeaterLastCurrent() (float64, error) {
	return m.ReadFloat("PSHIS?")
}

// QuenchDetection reports whether quench detection is enabled
func (m *Model625) QuenchDetection() (bool, error) {
	vals, err := m.ReadFloats("QNCH?")
	if err != nil {
		return false, err
	}
	if len(vals) != 2 {
		return false, fmt.Errorf("expected 2 quench setup values, got %d", len(vals))
	}
	return vals[0] == 1, nil
}

// SetQuenchDetection enables or disables quench detection, preserving
// the current step limit
func (m *Model625) SetQuenchDetection(enabled bool) error {
	vals, err := m.ReadFloats("QNCH?")
	if err != nil {
		return err
	}
	if len(vals) != 2 {
		return fmt.Errorf("expected 2 quench setup values, got %d", len(vals))
	}
	return m.SCPI.Write(fmt.Sprintf("QNCH %d, %g", boolToInt(enabled), vals[1]))
}

// QuenchCurrentStepLimit returns the current step limit for quench
// detection in A/s
func (m *Model625) QuenchCurrentStepLimit() (float64, error) {
	vals, err := m.ReadFloats("QNCH?")
	if err != nil {
		return 0, err
	}
	if len(vals) != 2 {
		return 0, fmt.Errorf("expected 2 quench setup values, got %d", len(vals))
	}
	return vals[1], nil
}

// SetQuenchCurrentStepLimit sets the current step limit for quench
// detection in A/s, preserving the enable flag
func (m *Model625) SetQuenchCurrentStepLimit(ampsPerSec float64) error {
	vals, err := m.ReadFloats("QNCH?")
	if err != nil {
		return err
	}
	if len(vals) != 2 {
		return fmt.Errorf("expected 2 quench setup values, got %d", len(vals))
	}
	return m.SCPI.Write(fmt.Sprintf("QNCH %g, %g", vals[0], ampsPerSec))
}

// fieldSetup returns the coil constant unit flag (0 T/A, 1 kG/A) and
// the coil constant
func (m *Model625) fieldSetup() (int, float64, error) {
	resp, err := m.ReadString("FLDS?")
	if err != nil {
		return 0, 0, err
	}
	pieces := strings.Split(resp, ",")
	if len(pieces) != 2 {
		return 0, 0, fmt.Errorf("expected 2 field setup values, got %q", resp)
	}
	unit, err := strconv.Atoi(strings.TrimSpace(pieces[0]))
	if err != nil {
		return 0, 0, err
	}
	constant, err := strconv.ParseFloat(strings.TrimSpace(pieces[1]), 64)
	if err != nil {
		return 0, 0, err
	}
	return unit, constant, nil
}

// CoilConstant returns the magnet coil constant in the active unit
func (m *Model625) CoilConstant() (float64, error) {
	_, constant, err := m.fieldSetup()
	return constant, err
}

// CoilConstantUnit returns "T/A" or "kG/A"
func (m *Model625) CoilConstantUnit() (string, error) {
	unit, _, err := m.fieldSetup()
	if err != nil {
		return "", err
	}
	if unit == 1 {
		return "kG/A", nil
	}
	return "T/A", nil
}

// coilConstantTeslaPerAmp returns the coil constant in T/A regardless
// of the active unit
func (m *Model625) coilConstantTeslaPerAmp() (float64, error) {
	unit, constant, err := m.fieldSetup()
	if err != nil {
		return 0, err
	}
	if unit == 1 {
		return constant * kilogaussPerTesla, nil
	}
	return constant, nil
}

// SetCoilConstant sets the coil constant in the active unit and rescales
// the current ramp rate so the field ramp rate is unchanged
func (m *Model625) SetCoilConstant(constant float64) error {
	fieldRate, err := m.FieldRampRate()
	if err != nil {
		return err
	}
	unit, _, err := m.fieldSetup()
	if err != nil {
		return err
	}
	if err := m.SCPI.Write(fmt.Sprintf("FLDS %d, %g", unit, constant)); err != nil {
		return err
	}
	return m.SetCurrentRampRate(fieldRate / constant / 60)
}

// Field returns the computed magnetic field in the active unit
func (m *Model625) Field() (float64, error) {
	return m.ReadFloat("RDGF?")
}

// Ramping reports whether the supply is ramping the output, from the
// operation condition register
func (m *Model625) Ramping() (bool, error) {
	opst, err := m.ReadInt("OPST?")
	if err != nil {
		return false, err
	}
	// bit 1 is 0 while ramping, 1 when settled
	return opst >= 2 && (opst>>1)&1 == 0, nil
}

// SetField ramps to a field setpoint in the active unit.  When block is
// true the call does not return until the supply reports the ramp done.
func (m *Model625) SetField(field float64, block bool) error {
	if err := m.SCPI.Write(fmt.Sprintf("SETF %g", field)); err != nil {
		return err
	}
	if !block {
		return nil
	}
	// give the supply a beat to enter the ramping state
	time.Sleep(m.rampPoll)
	for {
		ramping, err := m.Ramping()
		if err != nil {
			return err
		}
		if !ramping {
			return nil
		}
		time.Sleep(m.rampPoll)
	}
}

// FieldRampRate returns the field ramp rate in T/min
func (m *Model625) FieldRampRate() (float64, error) {
	constant, err := m.coilConstantTeslaPerAmp()
	if err != nil {
		return 0, err
	}
	rampRate, err := m.CurrentRampRate()
	if err != nil {
		return 0, err
	}
	return rampRate * constant * 60, nil
}

// SetFieldRampRate sets the field ramp rate in T/min by programming the
// corresponding current ramp rate
func (m *Model625) SetFieldRampRate(teslaPerMin float64) error {
	constant, err := m.coilConstantTeslaPerAmp()
	if err != nil {
		return err
	}
	return m.SetCurrentRampRate(teslaPerMin / constant / 60)
}

// OperationalErrors returns the operational error status as a 9-bit
// binary string, most significant bit first
func (m *Model625) OperationalErrors() (string, error) {
	resp, err := m.ReadString("ERST?")
	if err != nil {
		return "", err
	}
	pieces := strings.Split(resp, ",")
	if len(pieces) != 3 {
		return "", fmt.Errorf("expected 3 error registers, got %q", resp)
	}
	oer, err := strconv.Atoi(strings.TrimSpace(pieces[1]))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%09b", oer), nil
}

// QuenchDetected reports whether the supply has detected a quench
func (m *Model625) QuenchDetected() (bool, error) {
	bits, err := m.OperationalErrors()
	if err != nil {
		return false, err
	}
	return bits[3] == '1', nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (m *Model625) buildParams() {
	t := parameter.NewTable()
	t.Add(parameter.Parameter{
		Name: "current",
		Unit: "A",
		Kind: types.Float64,
		Vals: parameter.Range{Min: -60, Max: 60},
		Getter: func() (interface{}, error) {
			return m.Current()
		},
		Setter: func(v interface{}) error {
			return m.SetCurrent(v.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "voltage",
		Unit: "V",
		Kind: types.Float64,
		Vals: parameter.Range{Min: -5, Max: 5},
		Getter: func() (interface{}, error) {
			return m.Voltage()
		},
		Setter: func(v interface{}) error {
			return m.SetVoltage(v.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "field",
		Unit: "T",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return m.Field()
		},
		Setter: func(v interface{}) error {
			return m.SetField(v.(float64), false)
		},
	})
	t.Add(parameter.Parameter{
		Name: "current_ramp_rate",
		Unit: "A/s",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return m.CurrentRampRate()
		},
		Setter: func(v interface{}) error {
			return m.SetCurrentRampRate(v.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "field_ramp_rate",
		Unit: "T/min",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return m.FieldRampRate()
		},
		Setter: func(v interface{}) error {
			return m.SetFieldRampRate(v.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "coil_constant",
		Kind: types.Float64,
		Vals: parameter.Range{Min: 0.001, Max: 999.99999},
		Getter: func() (interface{}, error) {
			return m.CoilConstant()
		},
		Setter: func(v interface{}) error {
			return m.SetCoilConstant(v.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "current_limit",
		Unit: "A",
		Kind: types.Float64,
		Vals: parameter.Range{Min: 0, Max: 60.1},
		Getter: func() (interface{}, error) {
			c, _, _, err := m.Limits()
			return c, err
		},
		Setter: func(v interface{}) error {
			return m.SetCurrentLimit(v.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "voltage_limit",
		Unit: "V",
		Kind: types.Float64,
		Vals: parameter.Range{Min: 0, Max: 5},
		Getter: func() (interface{}, error) {
			_, v, _, err := m.Limits()
			return v, err
		},
		Setter: func(v interface{}) error {
			return m.SetVoltageLimit(v.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "ramping",
		Kind: types.Bool,
		Getter: func() (interface{}, error) {
			return m.Ramping()
		},
	})
	t.Add(parameter.Parameter{
		Name: "quench_detected",
		Kind: types.Bool,
		Getter: func() (interface{}, error) {
			return m.QuenchDetected()
		},
	})
	t.Add(parameter.Parameter{
		Name: "persistent_switch_heater",
		Kind: types.String,
		Vals: parameter.Enum{"on", "off"},
		Getter: func() (interface{}, error) {
			return m.PersistentSwitchHeater()
		},
		Setter: func(v interface{}) error {
			return m.SetPersistentSwitchHeater(v.(string) == "on")
		},
	})
	m.params = t
}

// Params returns the parameter table of the supply
func (m *Model625) Params() *parameter.Table {
	return m.params
}
