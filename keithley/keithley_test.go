package keithley_test

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/photovolt/ivlab/keithley"
)

// fake2401 answers handshake-wrapped commands the way the hardware does:
// plain commands get the error-queue reply, queries get data joined with
// the error-queue reply by a semicolon.
type fake2401 struct {
	addr     string
	commands chan string
	sweep    string
}

func newFake2401(t *testing.T, sweep string) *fake2401 {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal("could not listen:", err)
	}
	t.Cleanup(func() { ln.Close() })
	f := &fake2401{addr: ln.Addr().String(), commands: make(chan string, 64), sweep: sweep}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				sc := bufio.NewScanner(c)
				sc.Buffer(make([]byte, 64*1024), 64*1024)
				for sc.Scan() {
					line := sc.Text()
					f.commands <- line
					switch {
					case strings.Contains(line, "read?"):
						c.Write([]byte(f.sweep + `;+0,"No error"` + "\n"))
					case strings.Contains(line, "route:term?"):
						c.Write([]byte(`front;+0,"No error"` + "\n"))
					case strings.Contains(line, "output?"):
						c.Write([]byte(`1;+0,"No error"` + "\n"))
					case strings.Contains(line, "*IDN?"):
						c.Write([]byte(`KEITHLEY INSTRUMENTS INC.,MODEL 2401,1414000,C32;+0,"No error"` + "\n"))
					default:
						c.Write([]byte(`+0,"No error"` + "\n"))
					}
				}
			}(conn)
		}
	}()
	return f
}

func (f *fake2401) drain() []string {
	var out []string
	for {
		select {
		case s := <-f.commands:
			out = append(out, s)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func validConfig() keithley.SweepConfig {
	return keithley.SweepConfig{Start: 0, Stop: 2, Points: 3, Terminal: keithley.TerminalFront}
}

func TestConfigureSendsRecipeInOrder(t *testing.T) {
	f := newFake2401(t, "")
	sm := keithley.NewSourceMeter(f.addr, false)
	if err := sm.Configure(validConfig()); err != nil {
		t.Fatal("Configure failed:", err)
	}
	seen := f.drain()
	want := []string{
		"syst:beep 440",
		"route:term front",
		"source:function:mode volt",
		"source:volt:start 0.00",
		"source:volt:stop 2.00",
		"source:volt:mode sweep",
		"format:elements voltage, current",
		"source:sweep:points 3",
		"trig:count 3",
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %d commands, instrument saw %d: %v", len(want), len(seen), seen)
	}
	for i, cmd := range want {
		if !strings.Contains(seen[i], cmd) {
			t.Errorf("command %d: expected %q within %q", i, cmd, seen[i])
		}
	}
}

func TestConfigureRejectsBadParameters(t *testing.T) {
	f := newFake2401(t, "")
	sm := keithley.NewSourceMeter(f.addr, false)
	cases := []keithley.SweepConfig{
		{Start: -6, Stop: 2, Points: 3, Terminal: "front"},
		{Start: 0, Stop: 9, Points: 3, Terminal: "front"},
		{Start: 0, Stop: 2, Points: 0, Terminal: "front"},
		{Start: 0, Stop: 2, Points: 1001, Terminal: "front"},
		{Start: 0, Stop: 2, Points: 3, Terminal: "side"},
	}
	for _, cfg := range cases {
		if err := sm.Configure(cfg); err == nil {
			t.Errorf("config %+v should be rejected", cfg)
		}
	}
	if cmds := f.drain(); len(cmds) != 0 {
		t.Errorf("rejected configs must not reach the instrument, saw %v", cmds)
	}
}

func TestRunSweepParsesReply(t *testing.T) {
	f := newFake2401(t, "0.000000E+00,1.000000E-02,1.000000E+00,6.000000E-03,2.000000E+00,0.000000E+00")
	sm := keithley.NewSourceMeter(f.addr, false)
	if err := sm.Configure(validConfig()); err != nil {
		t.Fatal("Configure failed:", err)
	}
	f.drain()
	c, err := sm.RunSweep()
	if err != nil {
		t.Fatal("RunSweep failed:", err)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 points, got %d", c.Len())
	}
	if c.Voltage[2] != 2.0 || c.Current[1] != 0.006 {
		t.Errorf("curve misparsed: %+v", c)
	}
	seen := f.drain()
	joined := strings.Join(seen, "\n")
	onIdx := strings.Index(joined, "output on")
	readIdx := strings.Index(joined, "read?")
	offIdx := strings.Index(joined, "output off")
	if onIdx == -1 || readIdx == -1 || offIdx == -1 || !(onIdx < readIdx && readIdx < offIdx) {
		t.Errorf("sweep sequence out of order:\n%s", joined)
	}
}

func TestRunSweepShortReplyIsHardError(t *testing.T) {
	f := newFake2401(t, "0.000000E+00,1.000000E-02")
	sm := keithley.NewSourceMeter(f.addr, false)
	if err := sm.Configure(validConfig()); err != nil {
		t.Fatal("Configure failed:", err)
	}
	f.drain()
	if _, err := sm.RunSweep(); err == nil {
		t.Fatal("short sweep reply should error")
	}
	// output must still have been shut off
	if !strings.Contains(strings.Join(f.drain(), "\n"), "output off") {
		t.Error("output not disabled after failed sweep")
	}
}

func TestRunSweepUnconfigured(t *testing.T) {
	f := newFake2401(t, "")
	sm := keithley.NewSourceMeter(f.addr, false)
	if _, err := sm.RunSweep(); err != keithley.ErrNotConfigured {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestIdentification(t *testing.T) {
	f := newFake2401(t, "")
	sm := keithley.NewSourceMeter(f.addr, false)
	id, err := sm.Identification()
	if err != nil {
		t.Fatal("Identification failed:", err)
	}
	if !strings.Contains(id, "2401") {
		t.Errorf("unexpected identity %q", id)
	}
}

func TestMockSweepReducesLikeACell(t *testing.T) {
	m := keithley.NewMock("")
	cfg := keithley.SweepConfig{Start: 0, Stop: 1, Points: 101, Terminal: keithley.TerminalFront}
	if err := m.Configure(cfg); err != nil {
		t.Fatal("Configure failed:", err)
	}
	c, err := m.RunSweep()
	if err != nil {
		t.Fatal("RunSweep failed:", err)
	}
	if c.Len() != 101 {
		t.Fatalf("expected 101 points, got %d", c.Len())
	}
	if c.Current[0] <= 0 {
		t.Error("short-circuit current should be positive")
	}
	if c.Current[100] >= c.Current[0] {
		t.Error("current should fall across the sweep")
	}
	on, _ := m.GetOutput()
	if on {
		t.Error("output should be off after the sweep")
	}
}

func TestMockUnconfigured(t *testing.T) {
	m := keithley.NewMock("")
	if _, err := m.RunSweep(); err != keithley.ErrNotConfigured {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
