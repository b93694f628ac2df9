/*Package attocube provides an interface to Attocube ANC300 piezo
step controllers.

The ANC300 command interface is line oriented: the controller may echo
the command, then prints zero or more response lines such as
"frequency = 220 Hz", and finally a status line reading OK or ERROR.
Responses are collected until the status line arrives.  There is no
position feedback from the motors; a move command succeeds even with
no motor attached.
*/
package attocube

import (
	"fmt"
	"go/types"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/labhive/instruments/comm"
	"github.com/labhive/instruments/parameter"
)

const (
	// Axes is the number of axis slots in the controller chassis
	Axes = 7

	// TriggerOutputs is the number of trigger outputs on the controller
	TriggerOutputs = 3
)

// Modes are the axis output modes the controller understands
var Modes = []string{"gnd", "cap", "stp", "off", "stp+", "stp-", "inp"}

// ErrMoveTimeout is generated when a blocking wait outlives its deadline
var ErrMoveTimeout = fmt.Errorf("axis did not stop moving before the timeout")

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        38400,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// ANC300 is an interface to a piezo controller
type ANC300 struct {
	pool *comm.Pool

	// axes maps installed axis numbers to their module serial numbers,
	// discovered at connect time
	axes map[int]string

	params *parameter.Table
}

// New creates an ANC300 driver, verifies the controller identity, and
// probes which axis slots are populated
func New(addr string, useSerial bool) (*ANC300, error) {
	var maker comm.CreationFunc
	if useSerial {
		maker = comm.BackingOffSerialConnMaker(makeSerConf(addr))
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	a := &ANC300{pool: comm.NewPool(1, 10*time.Second, maker)}
	ver, err := a.Version()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(ver, "attocube ANC300") {
		return nil, fmt.Errorf("invalid device identity %q", ver)
	}
	a.axes = make(map[int]string)
	for ax := 1; ax <= Axes; ax++ {
		sn, err := a.SerialNumber(ax)
		if err != nil {
			// empty slots answer with an error
			continue
		}
		a.axes[ax] = sn
	}
	a.buildParams()
	return a, nil
}

// transact sends a command and gathers response lines until the
// controller prints its OK or ERROR status
func (a *ANC300) transact(cmd string) (string, error) {
	conn, err := a.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { a.pool.ReturnWithError(conn, err) }()
	if _, err = comm.NewTimeout(conn, 5*time.Second); err != nil {
		return "", err
	}
	if _, err = io.WriteString(conn, cmd+"\r\n"); err != nil {
		return "", err
	}
	rdr := comm.NewTerminator(conn, '\n', '\n')
	buf := make([]byte, 512)
	var response []string
	for {
		var n int
		n, err = rdr.Read(buf)
		if err != nil {
			return "", err
		}
		line := strings.TrimRight(string(buf[:n]), "\r")
		line = strings.TrimPrefix(line, "> ")
		switch {
		case line == cmd:
			// command echo
		case line == "OK":
			return strings.Join(response, " - "), nil
		case strings.HasPrefix(line, "ERROR"):
			if len(response) > 0 {
				err = fmt.Errorf("%s: %s", cmd, strings.Join(response, " - "))
			} else {
				err = fmt.Errorf("%s: %s", cmd, line)
			}
			return "", err
		default:
			response = append(response, line)
		}
	}
}

// askValue runs a query and extracts the value from a reply like
// "frequency = 220 Hz"
func (a *ANC300) askValue(cmd string) (string, error) {
	resp, err := a.transact(cmd)
	if err != nil {
		return "", err
	}
	if idx := strings.Index(resp, "="); idx >= 0 {
		fields := strings.Fields(resp[idx+1:])
		if len(fields) > 0 {
			return fields[0], nil
		}
	}
	return resp, nil
}

func (a *ANC300) askFloat(cmd string) (float64, error) {
	s, err := a.askValue(cmd)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

func (a *ANC300) askInt(cmd string) (int, error) {
	s, err := a.askValue(cmd)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

func checkAxis(axis int) error {
	if axis < 1 || axis > Axes {
		return fmt.Errorf("axis %d out of range [1, %d]", axis, Axes)
	}
	return nil
}

// Version returns the controller version banner
func (a *ANC300) Version() (string, error) {
	return a.transact("ver")
}

// SerialNumber returns the serial number of the module in an axis slot
func (a *ANC300) SerialNumber(axis int) (string, error) {
	if err := checkAxis(axis); err != nil {
		return "", err
	}
	return a.transact(fmt.Sprintf("getser %d", axis))
}

// InstalledAxes returns the axis numbers with modules present, mapped
// to their serial numbers
func (a *ANC300) InstalledAxes() map[int]string {
	out := make(map[int]string, len(a.axes))
	for ax, sn := range a.axes {
		out[ax] = sn
	}
	return out
}

// Frequency returns the stepping frequency of an axis in Hz
func (a *ANC300) Frequency(axis int) (int, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return a.askInt(fmt.Sprintf("getf %d", axis))
}

// SetFrequency sets the stepping frequency of an axis in Hz, 1 to 10000.
// The usable maximum is bounded by amplitude and actuator capacitance.
func (a *ANC300) SetFrequency(axis, hz int) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if hz < 1 || hz > 10000 {
		return fmt.Errorf("frequency %d out of range [1, 10000]", hz)
	}
	_, err := a.transact(fmt.Sprintf("setf %d %d", axis, hz))
	return err
}

// Amplitude returns the stepping amplitude of an axis in volts
func (a *ANC300) Amplitude(axis int) (float64, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return a.askFloat(fmt.Sprintf("getv %d", axis))
}

// SetAmplitude sets the stepping amplitude of an axis in volts, 0 to 150
func (a *ANC300) SetAmplitude(axis int, volts float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if volts < 0 || volts > 150 {
		return fmt.Errorf("amplitude %g out of range [0, 150]", volts)
	}
	_, err := a.transact(fmt.Sprintf("setv %d %g", axis, volts))
	return err
}

// Voltage returns the present stepping output voltage of an axis in
// volts.  It reads zero when the axis is not stepping.
func (a *ANC300) Voltage(axis int) (float64, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return a.askFloat(fmt.Sprintf("geto %d", axis))
}

// Offset returns the DC offset voltage of an axis in volts
func (a *ANC300) Offset(axis int) (float64, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	return a.askFloat(fmt.Sprintf("geta %d", axis))
}

// SetOffset sets the DC offset voltage of an axis in volts, 0 to 150
func (a *ANC300) SetOffset(axis int, volts float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if volts < 0 || volts > 150 {
		return fmt.Errorf("offset %g out of range [0, 150]", volts)
	}
	_, err := a.transact(fmt.Sprintf("seta %d %g", axis, volts))
	return err
}

// Mode returns the output mode of an axis
func (a *ANC300) Mode(axis int) (string, error) {
	if err := checkAxis(axis); err != nil {
		return "", err
	}
	return a.askValue(fmt.Sprintf("getm %d", axis))
}

// SetMode sets the output mode of an axis.  gnd grounds the outputs,
// cap runs a capacitance measurement then returns to gnd, stp enables
// stepping, off enables offset, stp+/stp- add stepping to an offset,
// inp routes the AC/DC inputs through.
func (a *ANC300) SetMode(axis int, mode string) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	ok := false
	for _, m := range Modes {
		if m == mode {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("unknown mode %q", mode)
	}
	_, err := a.transact(fmt.Sprintf("setm %d %s", axis, mode))
	return err
}

// Move steps an axis.  Positive steps move out, negative steps move
// in.  The call returns as soon as the move is started.
func (a *ANC300) Move(axis, steps int) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	var err error
	switch {
	case steps > 0:
		_, err = a.transact(fmt.Sprintf("stepu %d %d", axis, steps))
	case steps < 0:
		_, err = a.transact(fmt.Sprintf("stepd %d %d", axis, -steps))
	default:
		err = fmt.Errorf("zero is an invalid move parameter")
	}
	return err
}

// StartContinuous starts an endless move on an axis, up when the flag
// is true, until Stop is called
func (a *ANC300) StartContinuous(axis int, up bool) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	verb := "stepd"
	if up {
		verb = "stepu"
	}
	_, err := a.transact(fmt.Sprintf("%s %d c", verb, axis))
	return err
}

// Stop halts the motion of one axis
func (a *ANC300) Stop(axis int) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	_, err := a.transact(fmt.Sprintf("stop %d", axis))
	return err
}

// StopAll halts every axis, installed or not
func (a *ANC300) StopAll() error {
	for ax := 1; ax <= Axes; ax++ {
		if err := a.Stop(ax); err != nil {
			return err
		}
	}
	return nil
}

// WaitMove polls the stepping voltage of an axis until it falls to
// zero, meaning the axis has stopped.  A zero timeout waits forever.
func (a *ANC300) WaitMove(axis int, poll, timeout time.Duration) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for {
		v, err := a.Voltage(axis)
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return ErrMoveTimeout
		}
		time.Sleep(poll)
	}
}

// TriggerOutput returns whether a trigger output (1 to 3) is on
func (a *ANC300) TriggerOutput(num int) (bool, error) {
	if num < 1 || num > TriggerOutputs {
		return false, fmt.Errorf("trigger output %d out of range [1, %d]", num, TriggerOutputs)
	}
	i, err := a.askInt(fmt.Sprintf("getto %d", num))
	return i == 1, err
}

// SetTriggerOutput turns a trigger output (1 to 3) on or off
func (a *ANC300) SetTriggerOutput(num int, on bool) error {
	if num < 1 || num > TriggerOutputs {
		return fmt.Errorf("trigger output %d out of range [1, %d]", num, TriggerOutputs)
	}
	state := 0
	if on {
		state = 1
	}
	_, err := a.transact(fmt.Sprintf("setto %d %d", num, state))
	return err
}

// Raw sends a command and returns the collected response
func (a *ANC300) Raw(cmd string) (string, error) {
	return a.transact(cmd)
}

func (a *ANC300) buildParams() {
	t := parameter.NewTable()
	for ax := range a.axes {
		ax := ax
		t.Add(parameter.Parameter{
			Name: fmt.Sprintf("axis%d_frequency", ax),
			Unit: "Hz",
			Kind: types.Int,
			Vals: parameter.Ints{Min: 1, Max: 10000},
			Getter: func() (interface{}, error) {
				return a.Frequency(ax)
			},
			Setter: func(v interface{}) error {
				return a.SetFrequency(ax, v.(int))
			},
		})
		t.Add(parameter.Parameter{
			Name: fmt.Sprintf("axis%d_amplitude", ax),
			Unit: "V",
			Kind: types.Float64,
			Vals: parameter.Range{Min: 0, Max: 150},
			Getter: func() (interface{}, error) {
				return a.Amplitude(ax)
			},
			Setter: func(v interface{}) error {
				return a.SetAmplitude(ax, v.(float64))
			},
		})
		t.Add(parameter.Parameter{
			Name: fmt.Sprintf("axis%d_offset", ax),
			Unit: "V",
			Kind: types.Float64,
			Vals: parameter.Range{Min: 0, Max: 150},
			Getter: func() (interface{}, error) {
				return a.Offset(ax)
			},
			Setter: func(v interface{}) error {
				return a.SetOffset(ax, v.(float64))
			},
		})
		t.Add(parameter.Parameter{
			Name: fmt.Sprintf("axis%d_voltage", ax),
			Unit: "V",
			Kind: types.Float64,
			Getter: func() (interface{}, error) {
				return a.Voltage(ax)
			},
		})
		t.Add(parameter.Parameter{
			Name: fmt.Sprintf("axis%d_mode", ax),
			Kind: types.String,
			Vals: parameter.Enum(Modes),
			Getter: func() (interface{}, error) {
				return a.Mode(ax)
			},
			Setter: func(v interface{}) error {
				return a.SetMode(ax, v.(string))
			},
		})
	}
	a.params = t
}

// Params returns the parameter table of the controller
func (a *ANC300) Params() *parameter.Table {
	return a.params
}
