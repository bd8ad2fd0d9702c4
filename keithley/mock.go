package keithley

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/photovolt/ivlab/iv"
)

// Mock simulates a SourceMeter measuring an illuminated photodiode.  It
// implements the same method set as SourceMeter and is used when no
// hardware is on the bench.
type Mock struct {
	mu         sync.Mutex
	cfg        SweepConfig
	configured bool
	output     bool
	terminal   string

	// Isc and I0 parameterize the simulated cell (short-circuit current
	// and dark saturation current, amps)
	Isc float64
	I0  float64

	// Vt is the thermal voltage scale of the diode term
	Vt float64
}

// NewMock returns a simulated SourceMeter.  addr is accepted for symmetry
// with NewSourceMeter and ignored.
func NewMock(addr string) *Mock {
	return &Mock{
		terminal: TerminalFront,
		Isc:      10e-3,
		I0:       1e-9,
		Vt:       0.05,
	}
}

// Identification mimics the *IDN? reply shape
func (m *Mock) Identification() (string, error) {
	return "IVLAB,MODEL MOCK2401,0,A00", nil
}

// Beep does nothing, quietly
func (m *Mock) Beep() error { return nil }

// SetTerminal records the requested terminal pair
func (m *Mock) SetTerminal(term string) error {
	if term != TerminalFront && term != TerminalRear {
		return fmt.Errorf("terminal %q is not front or rear", term)
	}
	m.mu.Lock()
	m.terminal = term
	m.mu.Unlock()
	return nil
}

// GetTerminal returns the recorded terminal pair
func (m *Mock) GetTerminal() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminal, nil
}

// SetStartVoltage adjusts the sweep start point
func (m *Mock) SetStartVoltage(v float64) error {
	if !voltageLimits.Check(v) {
		return fmt.Errorf("start voltage %v outside %v..%v V", v, voltageLimits.Min, voltageLimits.Max)
	}
	m.mu.Lock()
	m.cfg.Start = v
	m.mu.Unlock()
	return nil
}

// SetStopVoltage adjusts the sweep stop point
func (m *Mock) SetStopVoltage(v float64) error {
	if !voltageLimits.Check(v) {
		return fmt.Errorf("stop voltage %v outside %v..%v V", v, voltageLimits.Min, voltageLimits.Max)
	}
	m.mu.Lock()
	m.cfg.Stop = v
	m.mu.Unlock()
	return nil
}

// Configure validates and records the sweep configuration
func (m *Mock) Configure(cfg SweepConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.configured = true
	m.terminal = cfg.Terminal
	m.mu.Unlock()
	return nil
}

// Config returns the recorded sweep configuration
func (m *Mock) Config() SweepConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// EnableOutput marks the output live
func (m *Mock) EnableOutput() error {
	m.mu.Lock()
	m.output = true
	m.mu.Unlock()
	return nil
}

// DisableOutput marks the output off
func (m *Mock) DisableOutput() error {
	m.mu.Lock()
	m.output = false
	m.mu.Unlock()
	return nil
}

// GetOutput reports the simulated output state
func (m *Mock) GetOutput() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.output, nil
}

// Raw accepts anything and answers queries with an empty-ish reply
func (m *Mock) Raw(cmd string) (string, error) {
	if strings.Contains(cmd, "?") {
		return "0", nil
	}
	return "", nil
}

// RunSweep synthesizes the instrument's interleaved CSV reply from the
// diode model and pushes it through the same parser the hardware path
// uses, so the full reduction pipeline is exercised
func (m *Mock) RunSweep() (iv.Curve, error) {
	m.mu.Lock()
	cfg := m.cfg
	configured := m.configured
	m.mu.Unlock()
	if !configured {
		return iv.Curve{}, ErrNotConfigured
	}
	m.EnableOutput()
	defer m.DisableOutput()

	fields := make([]string, 0, 2*cfg.Points)
	for i := 0; i < cfg.Points; i++ {
		frac := 0.0
		if cfg.Points > 1 {
			frac = float64(i) / float64(cfg.Points-1)
		}
		v := cfg.Start + (cfg.Stop-cfg.Start)*frac
		a := m.Isc - m.I0*(math.Exp(v/m.Vt)-1)
		fields = append(fields,
			fmt.Sprintf("%0.6E", v),
			fmt.Sprintf("%0.6E", a))
	}
	return iv.ParseCurve(strings.Join(fields, ","), cfg.Points)
}
