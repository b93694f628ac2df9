package qswitch

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/labhive/instruments/comm"
)

// Mock emulates a QSwitch behind the same byte protocol the hardware
// speaks, so the driver and HTTP layer can be exercised without a
// physical switch.  It implements io.ReadWriteCloser and plugs into a
// comm.Pool through Maker.
type Mock struct {
	mu sync.Mutex

	// idn is the *idn? reply, overridable to emulate other firmware
	idn string

	closed   map[Relay]struct{}
	autoSave string
	beep     string
	errs     []string

	pending bytes.Buffer
}

// NewMock returns a mock switch in the power-on state, every line
// connected to the ground bus
func NewMock() *Mock {
	m := &Mock{idn: "QDevil,QSwitch-8,1,0.160"}
	m.reset()
	return m
}

func (m *Mock) reset() {
	m.closed = make(map[Relay]struct{}, RelayLines)
	for line := 1; line <= RelayLines; line++ {
		m.closed[Relay{Line: line, Tap: 0}] = struct{}{}
	}
	m.autoSave = "off"
	m.beep = "off"
	m.errs = nil
}

// Maker adapts the mock to a comm.CreationFunc, for use with
// comm.NewPool in place of a TCP or serial maker
func (m *Mock) Maker() comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return m, nil
	}
}

// Write consumes newline-terminated commands
func (m *Mock) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cmd := range strings.Split(string(p), "\n") {
		cmd = strings.TrimSpace(cmd)
		if cmd != "" {
			m.handle(cmd)
		}
	}
	return len(p), nil
}

// Read produces queued replies, newline terminated
func (m *Mock) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Read(p)
}

// Close satisfies io.Closer and does nothing
func (m *Mock) Close() error {
	return nil
}

func (m *Mock) reply(s string) {
	m.pending.WriteString(s + "\n")
}

func (m *Mock) pushError(s string) {
	m.errs = append(m.errs, s)
}

func (m *Mock) state() State {
	s := make(State, 0, len(m.closed))
	for r := range m.closed {
		s = append(s, r)
	}
	return s.Sorted()
}

func (m *Mock) manipulate(arg string, close bool) {
	relays, err := ParseChannelList(arg)
	if err != nil {
		m.pushError(`-151,"Invalid string data"`)
		return
	}
	for _, r := range relays {
		if r.Line < 1 || r.Line > RelayLines || r.Tap < 0 || r.Tap > RelaysPerLine {
			m.pushError(`-222,"Data out of range"`)
			continue
		}
		if close {
			m.closed[r] = struct{}{}
		} else {
			delete(m.closed, r)
		}
	}
}

func (m *Mock) handle(cmd string) {
	lower := strings.ToLower(cmd)
	switch {
	case lower == "*idn?":
		m.reply(m.idn)
	case lower == "*rst":
		m.reset()
	case lower == "stat?":
		m.reply(m.state().Compressed())
	case strings.HasPrefix(lower, "clos "):
		m.manipulate(strings.TrimSpace(cmd[5:]), true)
	case strings.HasPrefix(lower, "open "):
		m.manipulate(strings.TrimSpace(cmd[5:]), false)
	case lower == "aut?":
		m.reply(m.autoSave)
	case lower == "aut on" || lower == "aut off":
		m.autoSave = lower[4:]
	case lower == "beep:stat?":
		m.reply(m.beep)
	case lower == "beep:stat on" || lower == "beep:stat off":
		m.beep = lower[10:]
	case lower == "all?":
		if len(m.errs) == 0 {
			m.reply(noError)
		} else {
			m.reply(strings.Join(m.errs, ","))
			m.errs = nil
		}
	case lower == "next?":
		if len(m.errs) == 0 {
			m.reply(noError)
		} else {
			m.reply(m.errs[0])
			m.errs = m.errs[1:]
		}
	case lower == "abor":
		// nothing in flight to stop
	default:
		m.pushError(`-113,"Undefined header"`)
	}
}
