/*Package qswitch provides an interface to QDevil QSwitch relay matrices.

The instrument holds 24 signal lines which can each be connected to a
ground bus (tap 0), a through connection (tap 9), or one of eight
breakout taps.  Relay manipulation is stateful: the driver caches the
closed-relay set and emits only the minimal open/close commands relative
to that cache, batching contiguous lines into SCPI range syntax.  New
connections are closed before stale ones are opened so a line is never
left floating mid-transition.

Every set command is error checked by draining the instrument error
queue after a short settle, because the QSwitch reports relay faults
asynchronously.
*/
package qswitch

import (
	"fmt"
	"go/types"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/labhive/instruments/comm"
	"github.com/labhive/instruments/parameter"
)

const (
	// RelayLines is the number of signal lines on the switch
	RelayLines = 24

	// RelaysPerLine is the number of non-ground relays on each line
	RelaysPerLine = 9

	noError = `0,"No error"`

	// the instrument needs a beat between a relay command and the
	// error query reflecting its outcome
	defaultErrorSettle = 75 * time.Millisecond

	// *rst physically releases every relay, which takes a while
	resetSettle = 600 * time.Millisecond

	leastCompatibleFirmware = "0.155"

	replyBufSize = 4096
)

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// QSwitch speaks to a single QSwitch over TCP or RS232
type QSwitch struct {
	mu   sync.Mutex
	pool *comm.Pool

	// state is the cached channel list, as last seen or effectuated
	state string

	lineNames map[string]int
	tapNames  map[string]int

	errorSettle time.Duration

	recording bool
	sent      []string

	params *parameter.Table
}

// New creates a QSwitch driver, verifies the model and firmware, and
// primes the relay-state cache from the hardware
func New(addr string, useSerial bool) (*QSwitch, error) {
	var maker comm.CreationFunc
	if useSerial {
		maker = comm.BackingOffSerialConnMaker(makeSerConf(addr))
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	return NewWithPool(comm.NewPool(1, 10*time.Second, maker))
}

// NewWithPool creates a QSwitch driver over an existing connection pool
func NewWithPool(pool *comm.Pool) (*QSwitch, error) {
	q := &QSwitch{
		pool:        pool,
		errorSettle: defaultErrorSettle,
	}
	q.setDefaultNames()
	if err := q.checkModelAndFirmware(); err != nil {
		return nil, err
	}
	if err := q.RefreshState(); err != nil {
		return nil, err
	}
	q.buildParams()
	return q, nil
}

func (q *QSwitch) setDefaultNames() {
	q.lineNames = make(map[string]int, RelayLines)
	q.tapNames = make(map[string]int, RelaysPerLine-1)
	for line := 1; line <= RelayLines; line++ {
		q.lineNames[strconv.Itoa(line)] = line
	}
	for tap := 1; tap < RelaysPerLine; tap++ {
		q.tapNames[strconv.Itoa(tap)] = tap
	}
}

func (q *QSwitch) buildParams() {
	t := parameter.NewTable()
	t.Add(parameter.Parameter{
		Name: "state",
		Kind: types.String,
		Getter: func() (interface{}, error) {
			return q.State()
		},
		Setter: func(v interface{}) error {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("expected a channel list string, got %T", v)
			}
			return q.SetState(s)
		},
	})
	t.Add(parameter.Parameter{
		Name: "auto_save",
		Kind: types.String,
		Vals: parameter.Enum{"on", "off"},
		Getter: func() (interface{}, error) {
			return q.AutoSave()
		},
		Setter: func(v interface{}) error {
			return q.SetAutoSave(v.(string))
		},
	})
	t.Add(parameter.Parameter{
		Name: "error_indicator",
		Kind: types.String,
		Vals: parameter.Enum{"on", "off"},
		Getter: func() (interface{}, error) {
			return q.ErrorIndicator()
		},
		Setter: func(v interface{}) error {
			return q.SetErrorIndicator(v.(string))
		},
	})
	q.params = t
}

// Params returns the parameter table of the switch
func (q *QSwitch) Params() *parameter.Table {
	return q.params
}

// -----------------------------------------------------------------------
// low level communication

func (q *QSwitch) record(cmd string) {
	if q.recording {
		q.sent = append(q.sent, cmd)
	}
}

// send transmits a command without reading a reply or checking errors
func (q *QSwitch) send(cmd string) error {
	conn, err := q.pool.Get()
	if err != nil {
		return err
	}
	defer func() { q.pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap = comm.NewTerminator(conn, '\n', '\n')
	wrap, err = comm.NewTimeout(wrap, 5*time.Second)
	if err != nil {
		return err
	}
	_, err = io.WriteString(wrap, cmd)
	return err
}

// askRaw transmits a query and returns the reply, bypassing recording
func (q *QSwitch) askRaw(cmd string) (string, error) {
	conn, err := q.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { q.pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap = comm.NewTerminator(conn, '\n', '\n')
	wrap, err = comm.NewTimeout(wrap, 5*time.Second)
	if err != nil {
		return "", err
	}
	_, err = io.WriteString(wrap, cmd)
	if err != nil {
		return "", err
	}
	buf := make([]byte, replyBufSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf[:n]), "\r"), nil
}

// ask transmits a query and returns the reply
func (q *QSwitch) ask(cmd string) (string, error) {
	q.record(cmd)
	return q.askRaw(cmd)
}

// write transmits a set command, then drains the instrument error queue
// and fails unless it was empty
func (q *QSwitch) write(cmd string) error {
	q.record(cmd)
	if err := q.send(cmd); err != nil {
		return fmt.Errorf("error %w while executing %q", err, cmd)
	}
	time.Sleep(q.errorSettle)
	errs, err := q.askRaw("all?")
	if err != nil {
		return fmt.Errorf("error %w after executing %q", err, cmd)
	}
	if errs != noError {
		return fmt.Errorf("error %s after executing %q", errs, cmd)
	}
	return nil
}

// -----------------------------------------------------------------------
// instrument-wide functions

// Identification returns the *IDN? response of the switch
func (q *QSwitch) Identification() (string, error) {
	return q.ask("*idn?")
}

func (q *QSwitch) checkModelAndFirmware() error {
	idn, err := q.askRaw("*idn?")
	if err != nil {
		return err
	}
	pieces := strings.Split(idn, ",")
	if len(pieces) < 4 {
		return fmt.Errorf("malformed identification %q", idn)
	}
	model := strings.TrimSpace(pieces[1])
	firmware := strings.TrimSpace(pieces[3])
	if !strings.HasPrefix(model, "QSwitch") {
		return fmt.Errorf("unknown model %s, wrong driver for this instrument?", model)
	}
	if compareVersions(firmware, leastCompatibleFirmware) < 0 {
		return fmt.Errorf("incompatible firmware %s, need at least %s",
			firmware, leastCompatibleFirmware)
	}
	return nil
}

// compareVersions compares dotted numeric versions, -1/0/1 like strcmp
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var an, bn int
		if i < len(as) {
			an, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bn, _ = strconv.Atoi(bs[i])
		}
		if an != bn {
			if an < bn {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Reset releases every relay and re-grounds all lines, then re-reads the
// relay state once the hardware settles
func (q *QSwitch) Reset() error {
	q.mu.Lock()
	q.record("*rst")
	q.mu.Unlock()
	if err := q.send("*rst"); err != nil {
		return err
	}
	time.Sleep(resetSettle)
	return q.RefreshState()
}

// Abort stops an ongoing relay operation
func (q *QSwitch) Abort() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.write("abor")
}

// Errors retrieves and clears all queued errors.  The reply is a comma
// separated list, or `0,"No error"`.
func (q *QSwitch) Errors() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ask("all?")
}

// NextError retrieves a single queued error
func (q *QSwitch) NextError() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ask("next?")
}

// Raw sends a command to the switch and returns a response if it was a
// query, else a blank string
func (q *QSwitch) Raw(cmd string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if strings.Contains(cmd, "?") {
		return q.ask(cmd)
	}
	return "", q.write(cmd)
}

// -----------------------------------------------------------------------
// relay state

// RefreshState re-reads the closed-relay set from the hardware,
// replacing the cache
func (q *QSwitch) RefreshState() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.refreshStateLocked()
}

func (q *QSwitch) refreshStateLocked() error {
	resp, err := q.ask("stat?")
	if err != nil {
		return err
	}
	if _, err := ParseChannelList(resp); err != nil {
		return fmt.Errorf("malformed relay state from instrument: %w", err)
	}
	q.state = resp
	return nil
}

// State re-reads and returns the channel list of closed relays
func (q *QSwitch) State() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.refreshStateLocked(); err != nil {
		return "", err
	}
	return q.state, nil
}

// SetState reconciles the hardware to exactly the given channel list
func (q *QSwitch) SetState(channelList string) error {
	target, err := ParseChannelList(channelList)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.effectuate(target)
}

// ClosedRelays re-reads and returns the set of closed relays
func (q *QSwitch) ClosedRelays() (State, error) {
	s, err := q.State()
	if err != nil {
		return nil, err
	}
	return ParseChannelList(s)
}

// SetClosedRelays reconciles the hardware to exactly the given relay set
func (q *QSwitch) SetClosedRelays(relays State) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.effectuate(relays)
}

// CloseRelays closes the given relays, leaving all others as they are
func (q *QSwitch) CloseRelays(relays State) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	current, err := ParseChannelList(q.state)
	if err != nil {
		return err
	}
	return q.effectuate(append(current, relays...))
}

// CloseRelay closes a single relay
func (q *QSwitch) CloseRelay(line, tap int) error {
	return q.CloseRelays(State{{Line: line, Tap: tap}})
}

// OpenRelays opens the given relays, leaving all others as they are
func (q *QSwitch) OpenRelays(relays State) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	current, err := ParseChannelList(q.state)
	if err != nil {
		return err
	}
	drop := make(map[Relay]struct{}, len(relays))
	for _, r := range relays {
		drop[r] = struct{}{}
	}
	var target State
	for _, r := range current {
		if _, gone := drop[r]; !gone {
			target = append(target, r)
		}
	}
	return q.effectuate(target)
}

// OpenRelay opens a single relay
func (q *QSwitch) OpenRelay(line, tap int) error {
	return q.OpenRelays(State{{Line: line, Tap: tap}})
}

// CloseChannelList closes the relays named in a channel list, leaving
// all others as they are
func (q *QSwitch) CloseChannelList(channelList string) error {
	relays, err := ParseChannelList(channelList)
	if err != nil {
		return err
	}
	return q.CloseRelays(relays)
}

// OpenChannelList opens the relays named in a channel list, leaving all
// others as they are
func (q *QSwitch) OpenChannelList(channelList string) error {
	relays, err := ParseChannelList(channelList)
	if err != nil {
		return err
	}
	return q.OpenRelays(relays)
}

// effectuate diffs target against the cache and emits the minimal
// close/open commands, closing before opening.  The caller must hold mu.
func (q *QSwitch) effectuate(target State) error {
	current, err := ParseChannelList(q.state)
	if err != nil {
		return err
	}
	toClose, toOpen := Diff(current, target)
	if len(toClose) > 0 {
		if err := q.write("clos " + toClose.Compressed()); err != nil {
			return err
		}
	}
	if len(toOpen) > 0 {
		if err := q.write("open " + toOpen.Compressed()); err != nil {
			return err
		}
	}
	q.state = target.Compressed()
	return nil
}

// -----------------------------------------------------------------------
// manipulation by name

// Arrange gives names to lines and breakout taps, so later operations
// can refer to instruments instead of connector numbers
func (q *QSwitch) Arrange(lines map[string]int, breakouts map[string]int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for name, line := range lines {
		q.lineNames[name] = line
	}
	for name, tap := range breakouts {
		q.tapNames[name] = tap
	}
}

func (q *QSwitch) toLine(name string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	line, ok := q.lineNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown line %q", name)
	}
	return line, nil
}

func (q *QSwitch) toTap(name string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tap, ok := q.tapNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown tap %q", name)
	}
	return tap, nil
}

func (q *QSwitch) linesToRelays(tap int, lines []string) (State, error) {
	relays := make(State, 0, len(lines))
	for _, name := range lines {
		line, err := q.toLine(name)
		if err != nil {
			return nil, err
		}
		relays = append(relays, Relay{Line: line, Tap: tap})
	}
	return relays, nil
}

// Ground connects the named lines to the ground bus
func (q *QSwitch) Ground(lines ...string) error {
	relays, err := q.linesToRelays(0, lines)
	if err != nil {
		return err
	}
	return q.CloseRelays(relays)
}

// Unground disconnects the named lines from the ground bus
func (q *QSwitch) Unground(lines ...string) error {
	relays, err := q.linesToRelays(0, lines)
	if err != nil {
		return err
	}
	return q.OpenRelays(relays)
}

// Connect closes the through relay of the named lines
func (q *QSwitch) Connect(lines ...string) error {
	relays, err := q.linesToRelays(RelaysPerLine, lines)
	if err != nil {
		return err
	}
	return q.CloseRelays(relays)
}

// Disconnect opens the through relay of the named lines
func (q *QSwitch) Disconnect(lines ...string) error {
	relays, err := q.linesToRelays(RelaysPerLine, lines)
	if err != nil {
		return err
	}
	return q.OpenRelays(relays)
}

// Breakout connects a named line to a named breakout tap
func (q *QSwitch) Breakout(line, tap string) error {
	l, err := q.toLine(line)
	if err != nil {
		return err
	}
	t, err := q.toTap(tap)
	if err != nil {
		return err
	}
	return q.CloseRelay(l, t)
}

// Unbreakout disconnects a named line from a named breakout tap
func (q *QSwitch) Unbreakout(line, tap string) error {
	l, err := q.toLine(line)
	if err != nil {
		return err
	}
	t, err := q.toTap(tap)
	if err != nil {
		return err
	}
	return q.OpenRelay(l, t)
}

// Overview maps each line with closed relays to human readable
// descriptions of its connections, using arranged names
func (q *QSwitch) Overview() (map[string][]string, error) {
	state, err := q.ClosedRelays()
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	lineNames := make(map[int]string, len(q.lineNames))
	for name, line := range q.lineNames {
		lineNames[line] = name
	}
	tapNames := make(map[int]string, len(q.tapNames))
	for name, tap := range q.tapNames {
		tapNames[tap] = name
	}
	result := make(map[string][]string)
	for _, r := range state.Sorted() {
		name, ok := lineNames[r.Line]
		if !ok {
			name = strconv.Itoa(r.Line)
		}
		switch r.Tap {
		case 0:
			result[name] = append(result[name], "grounded")
		case RelaysPerLine:
			result[name] = append(result[name], "connected")
		default:
			tapName, ok := tapNames[r.Tap]
			if !ok {
				tapName = strconv.Itoa(r.Tap)
			}
			result[name] = append(result[name], "breakout "+tapName)
		}
	}
	return result, nil
}

// -----------------------------------------------------------------------
// auto save and error indicator

// AutoSave reports whether the switch persists relay state across power
// cycles, "on" or "off"
func (q *QSwitch) AutoSave() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ask("aut?")
}

// SetAutoSave enables ("on") or disables ("off") state persistence
func (q *QSwitch) SetAutoSave(v string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.write("aut " + v)
}

// ErrorIndicator reports whether the beeper and red LED flash on
// errors, "on" or "off"
func (q *QSwitch) ErrorIndicator() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ask("beep:stat?")
}

// SetErrorIndicator enables ("on") or disables ("off") audible errors
func (q *QSwitch) SetErrorIndicator(v string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.write("beep:stat " + v)
}

// -----------------------------------------------------------------------
// debugging and testing

// StartRecording begins recording commands sent to the instrument.
// Any previous recording is discarded.
func (q *QSwitch) StartRecording() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = nil
	q.recording = true
}

// RecordedCommands returns and clears the commands sent since
// StartRecording
func (q *QSwitch) RecordedCommands() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmds := q.sent
	q.sent = nil
	return cmds
}
