package thermotek

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/labhive/instruments/comm"
)

func TestChecksumManualExample(t *testing.T) {
	cs := checksum([]byte(".U"))
	if cs[0] != '8' || cs[1] != '3' {
		t.Fatalf("expected checksum to be 83, got %c%c", cs[0], cs[1])
	}
}

func TestFrameMessageUppercasesAndChecksums(t *testing.T) {
	msg := frameMessage("g1")
	if string(msg) != ".G1A6" {
		t.Errorf("got %q, want .G1A6", string(msg))
	}
}

func respond(echo byte, data string) []byte {
	body := []byte{sor, echo, '0'}
	body = append(body, data...)
	cs := checksum(body)
	return append(body, cs[0], cs[1])
}

func TestResponseUnframing(t *testing.T) {
	resp := respond('I', "2500")
	data, err := checkAndUnframeResponse(resp, 'I')
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "2500" {
		t.Errorf("got %q, want 2500", string(data))
	}
}

func TestResponseChecksumRejected(t *testing.T) {
	resp := respond('I', "2500")
	resp[len(resp)-1] = 'F'
	if _, err := checkAndUnframeResponse(resp, 'I'); err != ErrChecksumMismatch {
		t.Errorf("got %v, want checksum mismatch", err)
	}
}

func TestResponseWrongEchoRejected(t *testing.T) {
	resp := respond('I', "2500")
	if _, err := checkAndUnframeResponse(resp, 'U'); err != ErrWrongCommandEcho {
		t.Errorf("got %v, want wrong command echo", err)
	}
}

func TestResponseErrorStatusSurfaces(t *testing.T) {
	body := []byte{sor, 'G', '2'}
	cs := checksum(body)
	resp := append(body, cs[0], cs[1])
	_, err := checkAndUnframeResponse(resp, 'G')
	if err == nil || err.Error() != "Bad Command" {
		t.Errorf("got %v, want Bad Command", err)
	}
}

// scriptedChiller answers framed commands from a table keyed by the
// command code and qualifiers, checksumming replies itself
func scriptedChiller(replies map[string]string) *T255p {
	maker := func() (io.ReadWriteCloser, error) {
		us, them := net.Pipe()
		go func() {
			rdr := bufio.NewReader(them)
			for {
				line, err := rdr.ReadString('\r')
				if err != nil {
					return
				}
				line = strings.TrimRight(line, "\r")
				// strip SOC and the two checksum characters
				cmd := line[1 : len(line)-2]
				data, ok := replies[cmd]
				if !ok && cmd != "U" {
					body := []byte{sor, cmd[0], '2'}
					cs := checksum(body)
					them.Write(append(append(body, cs[0], cs[1]), '\r'))
					continue
				}
				if cmd == "U" && data == "" {
					data = "1000"
				}
				them.Write(append(respond(cmd[0], data), '\r'))
			}
		}()
		return us, nil
	}
	c := &T255p{
		pool:        comm.NewPool(1, time.Minute, maker),
		watchdogGap: time.Hour,
		lastCommand: time.Now(),
	}
	c.buildParams()
	return c
}

func TestEnabledFromWatchdogReply(t *testing.T) {
	c := scriptedChiller(map[string]string{"U": "2010"})
	on, err := c.Enabled()
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Error("expected chiller on from status 2010")
	}
}

func TestStatusDecoded(t *testing.T) {
	c := scriptedChiller(map[string]string{"U": "2110"})
	status, err := c.Status()
	if err != nil {
		t.Fatal(err)
	}
	if status["Mode Status"] != "Chiller Run" {
		t.Errorf("mode = %q", status["Mode Status"])
	}
	if status["Alarm Status"] != "Alarm" {
		t.Errorf("alarm = %q", status["Alarm Status"])
	}
	if status["Dryer Status"] != "OFF" {
		t.Errorf("dryer = %q", status["Dryer Status"])
	}
}

func TestSetpointsParsed(t *testing.T) {
	c := scriptedChiller(map[string]string{"H0": "0+250,500.0"})
	temp, power, err := c.Setpoints()
	if err != nil {
		t.Fatal(err)
	}
	if temp != 25.0 {
		t.Errorf("temp = %v, want 25", temp)
	}
	if power != 500.0 {
		t.Errorf("power = %v, want 500", power)
	}
}

func TestSetTemperatureSetpointWireFormat(t *testing.T) {
	c := scriptedChiller(map[string]string{"M+205": ""})
	if err := c.SetTemperatureSetpoint(20.5); err != nil {
		t.Fatal(err)
	}
	// an unknown qualifier produces a Bad Command reply
	if err := c.SetTemperatureSetpoint(21.0); err == nil {
		t.Error("expected Bad Command for an unscripted setpoint")
	}
}

func TestManifoldTemperatureScaled(t *testing.T) {
	c := scriptedChiller(map[string]string{"I": "2345"})
	temp, err := c.ManifoldTemperature()
	if err != nil {
		t.Fatal(err)
	}
	if temp != 23.45 {
		t.Errorf("got %v, want 23.45", temp)
	}
}

func TestAlarmStateFlags(t *testing.T) {
	c := scriptedChiller(map[string]string{"J": "010000"})
	alarms, err := c.AlarmState()
	if err != nil {
		t.Fatal(err)
	}
	if !alarms["Hi Alarm"] {
		t.Error("expected Hi Alarm set")
	}
	if alarms["Float Switch"] {
		t.Error("did not expect Float Switch set")
	}
}

func TestSenseModeValidated(t *testing.T) {
	c := scriptedChiller(map[string]string{"O1": ""})
	if err := c.SetTemperatureSenseMode("external"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetTemperatureSenseMode("sideways"); err == nil {
		t.Error("expected error for an unknown mode")
	}
}

func TestWatchdogPrecedesCommandAfterSilence(t *testing.T) {
	c := scriptedChiller(map[string]string{"I": "2345", "U": "1000"})
	c.watchdogGap = 0
	c.lastCommand = time.Time{}
	if _, err := c.ManifoldTemperature(); err != nil {
		t.Fatal(err)
	}
}

func TestNewT255pDefaults(t *testing.T) {
	c := NewT255p("/dev/ttyS4")
	if c.commandGap != commandGap || c.watchdogGap != watchdogGap {
		t.Errorf("pacing = (%v, %v), want manual defaults", c.commandGap, c.watchdogGap)
	}
	if c.Params() == nil {
		t.Error("expected a parameter table")
	}
}
