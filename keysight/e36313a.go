// Package keysight provides drivers for Keysight power supplies and
// attenuation control units
package keysight

import (
	"fmt"
	"go/types"
	"time"

	"github.com/labhive/instruments/comm"
	"github.com/labhive/instruments/parameter"
	"github.com/labhive/instruments/scpi"
)

// E36313AChannels is the number of outputs on the supply
const E36313AChannels = 3

// E36313A is an interface to a Keysight E36313A programmable DC power
// supply.  The supply has three outputs, addressed 1 to 3 with SCPI
// channel-list suffixes.
type E36313A struct {
	scpi.SCPI

	params *parameter.Table
}

// NewE36313A creates a new E36313A instance
func NewE36313A(addr string) *E36313A {
	maker := comm.BackingOffTCPConnMaker(addr, 1*time.Second)
	pool := comm.NewPool(1, time.Hour, maker)
	e := &E36313A{SCPI: scpi.SCPI{Pool: pool, Handshaking: true}}
	e.buildParams()
	return e
}

func checkChannel(channel int) error {
	if channel < 1 || channel > E36313AChannels {
		return fmt.Errorf("channel %d out of range [1, %d]", channel, E36313AChannels)
	}
	return nil
}

// SetVoltageSetpoint programs the output voltage of a channel in volts
func (e *E36313A) SetVoltageSetpoint(channel int, volts float64) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	return e.Write(fmt.Sprintf("VOLT %.8G,(@%d)", volts, channel))
}

// VoltageSetpoint returns the programmed output voltage of a channel in volts
func (e *E36313A) VoltageSetpoint(channel int) (float64, error) {
	if err := checkChannel(channel); err != nil {
		return 0, err
	}
	return e.ReadFloat(fmt.Sprintf("VOLT? (@%d)", channel))
}

// SetCurrentSetpoint programs the current limit of a channel in amps
func (e *E36313A) SetCurrentSetpoint(channel int, amps float64) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	return e.Write(fmt.Sprintf("CURR %.8G,(@%d)", amps, channel))
}

// CurrentSetpoint returns the programmed current limit of a channel in amps
func (e *E36313A) CurrentSetpoint(channel int) (float64, error) {
	if err := checkChannel(channel); err != nil {
		return 0, err
	}
	return e.ReadFloat(fmt.Sprintf("CURR? (@%d)", channel))
}

// Voltage measures the actual output voltage of a channel in volts
func (e *E36313A) Voltage(channel int) (float64, error) {
	if err := checkChannel(channel); err != nil {
		return 0, err
	}
	return e.ReadFloat(fmt.Sprintf("MEAS:VOLT? (@%d)", channel))
}

// Current measures the actual output current of a channel in amps
func (e *E36313A) Current(channel int) (float64, error) {
	if err := checkChannel(channel); err != nil {
		return 0, err
	}
	return e.ReadFloat(fmt.Sprintf("MEAS:CURR? (@%d)", channel))
}

// SetOutput turns the output of a channel on or off
func (e *E36313A) SetOutput(channel int, on bool) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	state := 0
	if on {
		state = 1
	}
	return e.Write(fmt.Sprintf("OUTP %d,(@%d)", state, channel))
}

// Output returns whether the output of a channel is on
func (e *E36313A) Output(channel int) (bool, error) {
	if err := checkChannel(channel); err != nil {
		return false, err
	}
	return e.ReadBool(fmt.Sprintf("OUTP? (@%d)", channel))
}

// Identification returns the *IDN? response of the supply
func (e *E36313A) Identification() (string, error) {
	return e.ReadString("*IDN?")
}

func (e *E36313A) buildParams() {
	t := parameter.NewTable()
	for ch := 1; ch <= E36313AChannels; ch++ {
		ch := ch
		t.Add(parameter.Parameter{
			Name: fmt.Sprintf("ch%d_voltage_setpoint", ch),
			Unit: "V",
			Kind: types.Float64,
			Getter: func() (interface{}, error) {
				return e.VoltageSetpoint(ch)
			},
			Setter: func(v interface{}) error {
				return e.SetVoltageSetpoint(ch, v.(float64))
			},
		})
		t.Add(parameter.Parameter{
			Name: fmt.Sprintf("ch%d_current_setpoint", ch),
			Unit: "A",
			Kind: types.Float64,
			Getter: func() (interface{}, error) {
				return e.CurrentSetpoint(ch)
			},
			Setter: func(v interface{}) error {
				return e.SetCurrentSetpoint(ch, v.(float64))
			},
		})
		t.Add(parameter.Parameter{
			Name: fmt.Sprintf("ch%d_voltage", ch),
			Unit: "V",
			Kind: types.Float64,
			Getter: func() (interface{}, error) {
				return e.Voltage(ch)
			},
		})
		t.Add(parameter.Parameter{
			Name: fmt.Sprintf("ch%d_current", ch),
			Unit: "A",
			Kind: types.Float64,
			Getter: func() (interface{}, error) {
				return e.Current(ch)
			},
		})
		t.Add(parameter.Parameter{
			Name: fmt.Sprintf("ch%d_output", ch),
			Kind: types.Bool,
			Getter: func() (interface{}, error) {
				return e.Output(ch)
			},
			Setter: func(v interface{}) error {
				return e.SetOutput(ch, v.(bool))
			},
		})
	}
	e.params = t
}

// Params returns the parameter table of the supply
func (e *E36313A) Params() *parameter.Table {
	return e.params
}
