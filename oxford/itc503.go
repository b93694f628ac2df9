/*Package oxford provides an interface to Oxford Instruments ITC503
intelligent temperature controllers.

The ITC503 predates SCPI.  Commands are single letters with packed
numeric arguments, replies echo the command letter ("R4.2" for a
reading, "?T..." when a command is rejected), and messages end in a
bare carriage return.  The examine command "X" returns a status string
like "X0A1C3S00H1L0" which is parsed per letter.
*/
package oxford

import (
	"fmt"
	"go/types"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/labhive/instruments/comm"
	"github.com/labhive/instruments/parameter"
	"github.com/labhive/instruments/temperature"
)

// Sensors is the number of temperature sensors on the controller
const Sensors = 3

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop2,
		ReadTimeout: 1 * time.Second}
}

// RemoteModes maps mode names to the C command argument
var RemoteModes = map[string]int{
	"local_locked":    0,
	"remote_locked":   1,
	"local_unlocked":  2,
	"remote_unlocked": 3,
}

// ITC503 is an interface to an intelligent temperature controller
type ITC503 struct {
	pool *comm.Pool

	params *parameter.Table
}

// New creates an ITC503 driver
func New(addr string, useSerial bool) *ITC503 {
	var maker comm.CreationFunc
	if useSerial {
		maker = comm.BackingOffSerialConnMaker(makeSerConf(addr))
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	i := &ITC503{pool: comm.NewPool(1, 10*time.Second, maker)}
	i.buildParams()
	return i
}

// ask sends a command and reads the single-line reply
func (i *ITC503) ask(cmd string) (string, error) {
	conn, err := i.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { i.pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(conn, '\r', '\r')
	if _, err = comm.NewTimeout(wrap, 5*time.Second); err != nil {
		return "", err
	}
	if _, err = wrap.Write([]byte(cmd)); err != nil {
		return "", err
	}
	buf := make([]byte, 256)
	var n int
	n, err = wrap.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// readValue sends a read command (R0..R9) and parses the R-prefixed reply
func (i *ITC503) readValue(cmd string) (float64, error) {
	resp, err := i.ask(cmd)
	if err != nil {
		return 0, err
	}
	idx := strings.LastIndex(resp, "R")
	if idx < 0 {
		return 0, fmt.Errorf("command %q not recognized, got %q", cmd, resp)
	}
	return strconv.ParseFloat(resp[idx+1:], 64)
}

// write sends a set command and checks the acknowledgement
func (i *ITC503) write(cmd string) error {
	resp, err := i.ask(cmd)
	if err != nil {
		return err
	}
	if strings.Contains(resp, "?") {
		return fmt.Errorf("command %q rejected: %s", cmd, resp)
	}
	return nil
}

// statusField examines the controller and returns the digit following
// the given letter in the status string
func (i *ITC503) statusField(letter string) (int, error) {
	resp, err := i.ask("X")
	if err != nil {
		return 0, err
	}
	if strings.Contains(resp, "?") {
		return 0, fmt.Errorf("examine rejected: %s", resp)
	}
	pieces := strings.SplitN(resp, letter, 2)
	if len(pieces) != 2 || len(pieces[1]) == 0 {
		return 0, fmt.Errorf("status %q lacks field %s", resp, letter)
	}
	return strconv.Atoi(pieces[1][0:1])
}

// Temperature reads a sensor (1 to 3) in Kelvin
func (i *ITC503) Temperature(sensor int) (temperature.Kelvin, error) {
	if sensor < 1 || sensor > Sensors {
		return 0, fmt.Errorf("sensor %d out of range [1, %d]", sensor, Sensors)
	}
	f, err := i.readValue(fmt.Sprintf("R%d", sensor))
	return temperature.Kelvin(f), err
}

// Setpoint returns the temperature set point in Kelvin
func (i *ITC503) Setpoint() (temperature.Kelvin, error) {
	f, err := i.readValue("R0")
	return temperature.Kelvin(f), err
}

// SetSetpoint programs the temperature set point in Kelvin.  The
// controller must be in a remote mode.
func (i *ITC503) SetSetpoint(k temperature.Kelvin) error {
	return i.write(fmt.Sprintf("T0000%g", float64(k)))
}

// HeaterPower returns the heater output in percent
func (i *ITC503) HeaterPower() (float64, error) {
	return i.readValue("R5")
}

// SetHeaterPower sets the heater output in percent.  The controller
// must be in a remote mode and the heater in manual mode.
func (i *ITC503) SetHeaterPower(pct float64) error {
	return i.write(fmt.Sprintf("O00%g", pct))
}

// RemoteMode returns the control mode, one of local_locked,
// remote_locked, local_unlocked, remote_unlocked
func (i *ITC503) RemoteMode() (string, error) {
	v, err := i.statusField("C")
	if err != nil {
		return "", err
	}
	for name, code := range RemoteModes {
		if code == v {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown remote mode %d", v)
}

// SetRemoteMode sets the control mode by name
func (i *ITC503) SetRemoteMode(mode string) error {
	code, ok := RemoteModes[mode]
	if !ok {
		return fmt.Errorf("unknown remote mode %q", mode)
	}
	return i.write(fmt.Sprintf("C%d", code))
}

// HeaterAuto reports whether the heater is in automatic control
func (i *ITC503) HeaterAuto() (bool, error) {
	v, err := i.statusField("A")
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// SetHeaterAuto switches the heater between automatic and manual
// control.  Going to auto immediately drives toward the set point.
func (i *ITC503) SetHeaterAuto(auto bool) error {
	code := 0
	if auto {
		code = 1
	}
	return i.write(fmt.Sprintf("A%d", code))
}

// SelectedHeater returns which heater/sensor pair is active (1 to 3)
func (i *ITC503) SelectedHeater() (int, error) {
	return i.statusField("H")
}

// SetSelectedHeater chooses the active heater/sensor pair (1 to 3).
// The set point is overwritten with the current temperature on change.
func (i *ITC503) SetSelectedHeater(heater int) error {
	if heater < 1 || heater > Sensors {
		return fmt.Errorf("heater %d out of range [1, %d]", heater, Sensors)
	}
	return i.write(fmt.Sprintf("H%d", heater))
}

// Examine returns the raw status string, e.g. "X0A1C3S00H1L0"
func (i *ITC503) Examine() (string, error) {
	return i.ask("X")
}

// Raw sends a command and returns the reply
func (i *ITC503) Raw(cmd string) (string, error) {
	return i.ask(cmd)
}

func (i *ITC503) buildParams() {
	t := parameter.NewTable()
	for sensor := 1; sensor <= Sensors; sensor++ {
		sensor := sensor
		t.Add(parameter.Parameter{
			Name: fmt.Sprintf("temp_%d", sensor),
			Unit: "K",
			Kind: types.Float64,
			Getter: func() (interface{}, error) {
				k, err := i.Temperature(sensor)
				return float64(k), err
			},
		})
	}
	t.Add(parameter.Parameter{
		Name: "temp_set_point",
		Unit: "K",
		Kind: types.Float64,
		Vals: parameter.Range{Min: 0.3, Max: 40},
		Getter: func() (interface{}, error) {
			k, err := i.Setpoint()
			return float64(k), err
		},
		Setter: func(v interface{}) error {
			return i.SetSetpoint(temperature.Kelvin(v.(float64)))
		},
	})
	t.Add(parameter.Parameter{
		Name: "heater_power",
		Unit: "%",
		Kind: types.Float64,
		Vals: parameter.Range{Min: 0, Max: 99.9},
		Getter: func() (interface{}, error) {
			return i.HeaterPower()
		},
		Setter: func(v interface{}) error {
			return i.SetHeaterPower(v.(float64))
		},
	})
	t.Add(parameter.Parameter{
		Name: "remote_mode",
		Kind: types.String,
		Vals: parameter.Enum{"local_locked", "remote_locked", "local_unlocked", "remote_unlocked"},
		Getter: func() (interface{}, error) {
			return i.RemoteMode()
		},
		Setter: func(v interface{}) error {
			return i.SetRemoteMode(v.(string))
		},
	})
	t.Add(parameter.Parameter{
		Name: "heater_auto",
		Kind: types.Bool,
		Getter: func() (interface{}, error) {
			return i.HeaterAuto()
		},
		Setter: func(v interface{}) error {
			return i.SetHeaterAuto(v.(bool))
		},
	})
	t.Add(parameter.Parameter{
		Name: "select_heater",
		Kind: types.Int,
		Vals: parameter.Ints{Min: 1, Max: Sensors},
		Getter: func() (interface{}, error) {
			return i.SelectedHeater()
		},
		Setter: func(v interface{}) error {
			return i.SetSelectedHeater(v.(int))
		},
	})
	i.params = t
}

// Params returns the parameter table of the controller
func (i *ITC503) Params() *parameter.Table {
	return i.params
}
