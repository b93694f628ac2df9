package qswitch

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/labhive/instruments/comm"
)

func newTestSwitch(t *testing.T) (*QSwitch, *Mock) {
	t.Helper()
	m := NewMock()
	pool := comm.NewPool(1, time.Hour, m.Maker())
	q, err := NewWithPool(pool)
	if err != nil {
		t.Fatal(err)
	}
	// the mock reports errors synchronously, no settle needed
	q.errorSettle = 0
	return q, m
}

func TestInitialStateIsAllGrounded(t *testing.T) {
	q, _ := newTestSwitch(t)
	state, err := q.State()
	if err != nil {
		t.Fatal(err)
	}
	if state != "(@1!0:24!0)" {
		t.Errorf("got %s, want (@1!0:24!0)", state)
	}
}

func TestSetClosedRelaysEmitsMinimalCommands(t *testing.T) {
	q, _ := newTestSwitch(t)
	q.StartRecording()
	err := q.SetClosedRelays(State{{24, 8}, {24, 8}, {22, 7}, {20, 6}, {1, 9}, {2, 0}})
	if err != nil {
		t.Fatal(err)
	}
	got := q.RecordedCommands()
	want := []string{
		"clos (@20!6,22!7,24!8,1!9)",
		"open (@1!0,3!0:24!0)",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	state, err := q.State()
	if err != nil {
		t.Fatal(err)
	}
	if state != "(@2!0,20!6,22!7,24!8,1!9)" {
		t.Errorf("got state %s", state)
	}
}

func TestSetStateToCurrentEmitsNothing(t *testing.T) {
	q, _ := newTestSwitch(t)
	q.StartRecording()
	if err := q.SetState("(@1!0:24!0)"); err != nil {
		t.Fatal(err)
	}
	if got := q.RecordedCommands(); len(got) != 0 {
		t.Errorf("expected no commands, got %v", got)
	}
}

func TestCloseThenOpenRelay(t *testing.T) {
	q, _ := newTestSwitch(t)
	q.StartRecording()
	if err := q.CloseRelay(22, 7); err != nil {
		t.Fatal(err)
	}
	if err := q.OpenRelay(22, 7); err != nil {
		t.Fatal(err)
	}
	got := q.RecordedCommands()
	want := []string{"clos (@22!7)", "open (@22!7)"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestOpenRelaysIgnoresAlreadyOpen(t *testing.T) {
	q, _ := newTestSwitch(t)
	q.StartRecording()
	// 22!7 is open, 2!0 is closed
	err := q.OpenRelays(State{{22, 7}, {2, 0}})
	if err != nil {
		t.Fatal(err)
	}
	got := q.RecordedCommands()
	want := []string{"open (@2!0)"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGroundUngroundConnectDisconnect(t *testing.T) {
	q, _ := newTestSwitch(t)
	q.StartRecording()
	if err := q.Unground("15"); err != nil {
		t.Fatal(err)
	}
	if err := q.Ground("15"); err != nil {
		t.Fatal(err)
	}
	if err := q.Connect("7", "8"); err != nil {
		t.Fatal(err)
	}
	if err := q.Disconnect("7", "8"); err != nil {
		t.Fatal(err)
	}
	got := q.RecordedCommands()
	want := []string{
		"open (@15!0)",
		"clos (@15!0)",
		"clos (@7!9:8!9)",
		"open (@7!9:8!9)",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGroundAlreadyGroundedIsANoop(t *testing.T) {
	q, _ := newTestSwitch(t)
	q.StartRecording()
	if err := q.Ground("15"); err != nil {
		t.Fatal(err)
	}
	if got := q.RecordedCommands(); len(got) != 0 {
		t.Errorf("expected no commands, got %v", got)
	}
}

func TestBreakoutWithArrangedNames(t *testing.T) {
	q, _ := newTestSwitch(t)
	q.Arrange(map[string]int{"dmm": 22}, map[string]int{"vna": 7})
	q.StartRecording()
	if err := q.Breakout("dmm", "vna"); err != nil {
		t.Fatal(err)
	}
	if err := q.Unbreakout("dmm", "vna"); err != nil {
		t.Fatal(err)
	}
	got := q.RecordedCommands()
	want := []string{"clos (@22!7)", "open (@22!7)"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestUnknownLineNameErrors(t *testing.T) {
	q, _ := newTestSwitch(t)
	if err := q.Ground("bogus"); err == nil {
		t.Error("expected an error for an unknown line name")
	}
}

func TestOverviewDescribesConnections(t *testing.T) {
	q, _ := newTestSwitch(t)
	if err := q.Breakout("22", "7"); err != nil {
		t.Fatal(err)
	}
	if err := q.Connect("5"); err != nil {
		t.Fatal(err)
	}
	over, err := q.Overview()
	if err != nil {
		t.Fatal(err)
	}
	if got := over["22"]; !reflect.DeepEqual(got, []string{"grounded", "breakout 7"}) {
		t.Errorf("line 22: got %v", got)
	}
	if got := over["5"]; !reflect.DeepEqual(got, []string{"grounded", "connected"}) {
		t.Errorf("line 5: got %v", got)
	}
}

func TestStateRefreshQueriesHardware(t *testing.T) {
	q, _ := newTestSwitch(t)
	q.StartRecording()
	if _, err := q.State(); err != nil {
		t.Fatal(err)
	}
	got := q.RecordedCommands()
	if !reflect.DeepEqual(got, []string{"stat?"}) {
		t.Errorf("got %v, want [stat?]", got)
	}
}

func TestAutoSaveDefaultsOff(t *testing.T) {
	q, _ := newTestSwitch(t)
	v, err := q.AutoSave()
	if err != nil {
		t.Fatal(err)
	}
	if v != "off" {
		t.Errorf("got %s, want off", v)
	}
	if err := q.SetAutoSave("on"); err != nil {
		t.Fatal(err)
	}
	v, err = q.AutoSave()
	if err != nil {
		t.Fatal(err)
	}
	if v != "on" {
		t.Errorf("got %s, want on", v)
	}
}

func TestErrorIndicatorDefaultsOff(t *testing.T) {
	q, _ := newTestSwitch(t)
	v, err := q.ErrorIndicator()
	if err != nil {
		t.Fatal(err)
	}
	if v != "off" {
		t.Errorf("got %s, want off", v)
	}
	if err := q.SetErrorIndicator("on"); err != nil {
		t.Fatal(err)
	}
}

func TestUnknownCommandSurfacesInstrumentError(t *testing.T) {
	q, _ := newTestSwitch(t)
	_, err := q.Raw("frobnicate")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "-113") {
		t.Errorf("got %v, want an undefined header error", err)
	}
}

func TestResetRegroundsEverything(t *testing.T) {
	q, _ := newTestSwitch(t)
	if err := q.CloseRelay(22, 7); err != nil {
		t.Fatal(err)
	}
	if err := q.Reset(); err != nil {
		t.Fatal(err)
	}
	state, err := q.State()
	if err != nil {
		t.Fatal(err)
	}
	if state != "(@1!0:24!0)" {
		t.Errorf("got %s after reset", state)
	}
}

func TestWrongModelRejected(t *testing.T) {
	m := NewMock()
	m.idn = "QDevil,QDAC-II,1,0.160"
	pool := comm.NewPool(1, time.Hour, m.Maker())
	if _, err := NewWithPool(pool); err == nil {
		t.Error("expected an error for a non-QSwitch identification")
	}
}

func TestOldFirmwareRejected(t *testing.T) {
	m := NewMock()
	m.idn = "QDevil,QSwitch-8,1,0.152"
	pool := comm.NewPool(1, time.Hour, m.Maker())
	if _, err := NewWithPool(pool); err == nil {
		t.Error("expected an error for firmware older than the minimum")
	}
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"0.160", "0.155", 1},
		{"0.155", "0.155", 0},
		{"0.9", "0.155", -1},
		{"1.0", "0.155", 1},
		{"0.155.1", "0.155", 1},
	}
	for _, c := range cases {
		if got := compareVersions(c.a, c.b); got != c.want {
			t.Errorf("compareVersions(%s, %s) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestParamsSurface(t *testing.T) {
	q, _ := newTestSwitch(t)
	table := q.Params()
	v, err := table.Get("state")
	if err != nil {
		t.Fatal(err)
	}
	if v.(string) != "(@1!0:24!0)" {
		t.Errorf("got %v", v)
	}
	if err := table.Set("auto_save", "maybe"); err == nil {
		t.Error("expected a validation error for auto_save=maybe")
	}
	if err := table.Set("auto_save", "on"); err != nil {
		t.Fatal(err)
	}
	if err := table.Set("state", "(@1!9)"); err != nil {
		t.Fatal(err)
	}
	v, err = table.Get("state")
	if err != nil {
		t.Fatal(err)
	}
	if v.(string) != "(@1!9)" {
		t.Errorf("got %v after set", v)
	}
}
