// Package thermotek provides a driver for the Thermotek T255p
// recirculating laser chiller
package thermotek

import (
	"errors"
	"fmt"
	"go/types"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labhive/instruments/comm"
	"github.com/labhive/instruments/parameter"
	"github.com/tarm/serial"
)

// T255p command primer
//
// commands are [SOC] [command code] [qualifiers] [checksum], terminated
// by a carriage return.  Responses are [SOR] [command echo] [comm error
// status] [data] [checksum].  SOC and SOR are constants in this
// package.  The checksum is two ASCII hex bytes, the 8 bit sum of every
// preceding byte including SOC/SOR.
//
// The chiller requires 3 seconds between commands, and drops into a
// safety default if it hears nothing for 5 seconds, so a watchdog (U)
// precedes any command sent after a silence.
const (
	txTerm = '\r'
	soc    = '.' // start of command
	sor    = '#' // start of response

	commandGap  = 3 * time.Second
	watchdogGap = 5 * time.Second
)

var (
	errmap = map[byte]string{
		'0': "No Error",
		'1': "Checksum Error",
		'2': "Bad Command",
		'3': "Out of Bound Qualifier",
	}

	modeStatus = map[byte]string{
		'0': "Auto Start",
		'1': "Stand By",
		'2': "Chiller Run",
		'3': "Safety Default",
	}

	// alarm flag order in the J reply
	alarmNames = []string{
		"Float Switch", "Hi Alarm", "Lo Alarm",
		"Sensor Alarm", "EEPROM Fail", "Watch dog",
	}

	ErrMsgDoesNotStartWithSOR = errors.New("chiller response did not begin with start-of-response (#)")
	ErrWrongCommandEcho       = errors.New("chiller response echoed a different command code")
	ErrChecksumMismatch       = errors.New("checksum mismatch")
)

// frameMessage wraps a command code and qualifiers with SOC and the
// checksum.  The terminator is appended on the wire by the Terminator.
func frameMessage(cmd string) []byte {
	msg := make([]byte, 0, len(cmd)+3)
	msg = append(msg, soc)
	msg = append(msg, strings.ToUpper(cmd)...)
	cs := checksum(msg)
	return append(msg, cs[0], cs[1])
}

// checkAndUnframeResponse validates SOR, command echo, error status and
// checksum, and returns the data field
func checkAndUnframeResponse(resp []byte, echo byte) ([]byte, error) {
	//   0       1           2          3~(N-3)   N-2, N-1
	// [SOR] [cmd echo] [error status] [data]    [checksum]
	if len(resp) < 5 {
		return nil, fmt.Errorf("chiller response %q too short to unframe", string(resp))
	}
	if resp[0] != sor {
		return nil, ErrMsgDoesNotStartWithSOR
	}
	if resp[1] != echo {
		return nil, ErrWrongCommandEcho
	}
	l := len(resp)
	cs := checksum(resp[:l-2])
	if resp[l-2] != cs[0] || resp[l-1] != cs[1] {
		return nil, ErrChecksumMismatch
	}
	if errc := resp[2]; errc != '0' {
		if s, ok := errmap[errc]; ok {
			return nil, errors.New(s)
		}
		return nil, fmt.Errorf("chiller returned error code %c, which was nonzero and unknown", errc)
	}
	return resp[3 : l-2], nil
}

// makeSerConf makes a new serial.Config with correct parity, baud, etc, set.
func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 3 * time.Second} // manual, under 3.1 timing
}

// T255p talks to the chiller of the same model name
type T255p struct {
	mu   sync.Mutex
	pool *comm.Pool

	// lastCommand paces commands and decides when a watchdog is due
	lastCommand time.Time

	// commandGap and watchdogGap default to the manual's timing and are
	// shrunk in tests
	commandGap  time.Duration
	watchdogGap time.Duration

	params *parameter.Table
}

// NewT255p creates a new T255p instance
func NewT255p(addr string) *T255p {
	maker := comm.BackingOffSerialConnMaker(makeSerConf(addr))
	pool := comm.NewPool(1, time.Hour, maker)
	t := &T255p{pool: pool, commandGap: commandGap, watchdogGap: watchdogGap}
	t.buildParams()
	return t
}

// transact sends one command, preceded by a watchdog if the line has
// been silent too long, and returns the response data field
func (t *T255p) transact(cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cmd[0] != 'U' && time.Since(t.lastCommand) > t.watchdogGap {
		if _, err := t.exchange("U"); err != nil {
			return "", err
		}
	}
	return t.exchange(cmd)
}

func (t *T255p) exchange(cmd string) (string, error) {
	if wait := t.commandGap - time.Since(t.lastCommand); wait > 0 {
		time.Sleep(wait)
	}
	defer func() { t.lastCommand = time.Now() }()
	conn, err := t.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { t.pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(conn, txTerm, txTerm)
	msg := frameMessage(cmd)
	if _, err = wrap.Write(msg); err != nil {
		return "", err
	}
	buf := make([]byte, 64)
	n, err := wrap.Read(buf)
	if err != nil {
		return "", err
	}
	data, err := checkAndUnframeResponse(buf[:n], strings.ToUpper(cmd)[0])
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Watchdog sends the watchdog command and returns the four status
// characters (mode, alarm, chiller, dryer)
func (t *T255p) Watchdog() (string, error) {
	return t.transact("U")
}

// Status decodes the watchdog reply into human readable fields
func (t *T255p) Status() (map[string]string, error) {
	resp, err := t.Watchdog()
	if err != nil {
		return nil, err
	}
	if len(resp) < 4 {
		return nil, fmt.Errorf("status reply %q too short", resp)
	}
	onOff := func(b byte) string {
		if b == '1' {
			return "ON"
		}
		return "OFF"
	}
	alarm := "No Alarms"
	if resp[1] == '1' {
		alarm = "Alarm"
	}
	return map[string]string{
		"Mode Status":    modeStatus[resp[0]],
		"Alarm Status":   alarm,
		"Chiller Status": onOff(resp[2]),
		"Dryer Status":   onOff(resp[3]),
	}, nil
}

// Enabled returns whether the chiller is in run mode
func (t *T255p) Enabled() (bool, error) {
	resp, err := t.Watchdog()
	if err != nil {
		return false, err
	}
	if len(resp) < 3 {
		return false, fmt.Errorf("status reply %q too short", resp)
	}
	return resp[2] == '1', nil
}

// SetEnabled moves the chiller between run mode and stand by
func (t *T255p) SetEnabled(on bool) error {
	state := "0"
	if on {
		state = "1"
	}
	_, err := t.transact("G" + state)
	return err
}

// Setpoints returns the temperature setpoint in Celsius and the max
// power setting in watts
func (t *T255p) Setpoints() (float64, float64, error) {
	resp, err := t.transact("H0")
	if err != nil {
		return 0, 0, err
	}
	pieces := strings.Split(resp, ",")
	if len(pieces) != 2 || len(pieces[0]) < 2 {
		return 0, 0, fmt.Errorf("unrecognized setpoint reply %q", resp)
	}
	// the first byte of the temperature field echoes the qualifier
	tenths, err := strconv.Atoi(pieces[0][1:])
	if err != nil {
		return 0, 0, err
	}
	power, err := strconv.ParseFloat(pieces[1], 64)
	if err != nil {
		return 0, 0, err
	}
	return float64(tenths) / 10, power, nil
}

// TemperatureSetpoint returns the setpoint in Celsius
func (t *T255p) TemperatureSetpoint() (float64, error) {
	temp, _, err := t.Setpoints()
	return temp, err
}

// MaxPower returns the max power setting in watts
func (t *T255p) MaxPower() (float64, error) {
	_, power, err := t.Setpoints()
	return power, err
}

// SetTemperatureSetpoint programs the setpoint in Celsius.  The wire
// format is signed tenths of a degree.
func (t *T255p) SetTemperatureSetpoint(celsius float64) error {
	_, err := t.transact(fmt.Sprintf("M%+d", int(celsius*10)))
	return err
}

// ManifoldTemperature reads the manifold temperature in Celsius
func (t *T255p) ManifoldTemperature() (float64, error) {
	resp, err := t.transact("I")
	if err != nil {
		return 0, err
	}
	hundredths, err := strconv.Atoi(resp)
	if err != nil {
		return 0, err
	}
	return float64(hundredths) / 100, nil
}

// SetTemperatureSenseMode selects the control sensor, "internal" or
// "external".  The chiller offers no readback for this setting.
func (t *T255p) SetTemperatureSenseMode(mode string) error {
	var q string
	switch mode {
	case "internal":
		q = "0"
	case "external":
		q = "1"
	default:
		return fmt.Errorf("sense mode %q not one of {internal, external}", mode)
	}
	_, err := t.transact("O" + q)
	return err
}

// AlarmState returns each alarm flag by name
func (t *T255p) AlarmState() (map[string]bool, error) {
	resp, err := t.transact("J")
	if err != nil {
		return nil, err
	}
	if len(resp) < len(alarmNames) {
		return nil, fmt.Errorf("alarm reply %q too short", resp)
	}
	out := make(map[string]bool, len(alarmNames))
	for i, name := range alarmNames {
		out[name] = resp[i] == '1'
	}
	return out, nil
}

// Raw sends a command code with qualifiers, framing and checksumming it
// on the way out, and returns the unframed response data
func (t *T255p) Raw(cmd string) (string, error) {
	return t.transact(cmd)
}

// Identification returns the vendor and model.  The chiller has no
// identification query.
func (t *T255p) Identification() (string, error) {
	return "Thermotek,T255p", nil
}

func (t *T255p) buildParams() {
	tab := parameter.NewTable()
	tab.Add(parameter.Parameter{
		Name: "enabled",
		Kind: types.Bool,
		Getter: func() (interface{}, error) {
			return t.Enabled()
		},
		Setter: func(v interface{}) error {
			return t.SetEnabled(v.(bool))
		},
	})
	tab.Add(parameter.Parameter{
		Name: "temperature_setpoint",
		Unit: "C",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return t.TemperatureSetpoint()
		},
		Setter: func(v interface{}) error {
			return t.SetTemperatureSetpoint(v.(float64))
		},
	})
	tab.Add(parameter.Parameter{
		Name: "max_power_setpoint",
		Unit: "W",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return t.MaxPower()
		},
	})
	tab.Add(parameter.Parameter{
		Name: "manifold_temperature",
		Unit: "C",
		Kind: types.Float64,
		Getter: func() (interface{}, error) {
			return t.ManifoldTemperature()
		},
	})
	tab.Add(parameter.Parameter{
		Name: "temperature_sense_mode",
		Kind: types.String,
		Vals: parameter.Enum{"internal", "external"},
		Setter: func(v interface{}) error {
			return t.SetTemperatureSenseMode(v.(string))
		},
	})
	t.params = tab
}

// Params returns the parameter table of the chiller
func (t *T255p) Params() *parameter.Table {
	return t.params
}
