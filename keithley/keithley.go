/*Package keithley provides access to Keithley 24xx SourceMeters in Go.

The 2401 runs voltage sweeps on its own: the host configures the sweep,
arms the output, and issues one blocking read that returns every
(voltage, current) pair as interleaved CSV.  The read blocks for the
duration of the sweep, tens of seconds for a fine sweep, so the bus
timeout is raised well above the usual SCPI default.
*/
package keithley

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
	"go.uber.org/multierr"

	"github.com/photovolt/ivlab/comm"
	"github.com/photovolt/ivlab/iv"
	"github.com/photovolt/ivlab/scpi"
	"github.com/photovolt/ivlab/util"
)

const (
	// MaxPoints is the largest sweep the instrument's buffer can hold
	MaxPoints = 1000

	// sweepTimeout bounds the blocking read that returns the sweep data
	sweepTimeout = 30 * time.Second

	// TerminalFront and TerminalRear select the measurement terminal pair
	TerminalFront = "front"
	TerminalRear  = "rear"
)

// voltageLimits is the source range accepted by the panel
var voltageLimits = util.Limiter{Min: -5, Max: 5}

// ErrNotConfigured is returned when a sweep is run before Configure
var ErrNotConfigured = errors.New("no sweep configuration applied")

// SweepConfig holds the parameters of one voltage sweep
type SweepConfig struct {
	// Start and Stop are the sweep endpoints in volts
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`

	// Points is the number of samples taken between Start and Stop
	Points int `json:"points"`

	// Terminal selects the front or rear connector pair
	Terminal string `json:"terminal"`
}

// Validate checks the configuration against the instrument's limits
func (c SweepConfig) Validate() error {
	if !voltageLimits.Check(c.Start) {
		return errors.Errorf("start voltage %v outside %v..%v V", c.Start, voltageLimits.Min, voltageLimits.Max)
	}
	if !voltageLimits.Check(c.Stop) {
		return errors.Errorf("stop voltage %v outside %v..%v V", c.Stop, voltageLimits.Min, voltageLimits.Max)
	}
	if c.Points < 1 || c.Points > MaxPoints {
		return errors.Errorf("point count %d outside 1..%d", c.Points, MaxPoints)
	}
	switch c.Terminal {
	case TerminalFront, TerminalRear:
	default:
		return errors.Errorf("terminal %q is not front or rear", c.Terminal)
	}
	return nil
}

// makeSerConf makes a new serial.Config with the 2401's RS-232 defaults
func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: sweepTimeout}
}

// SourceMeter is a remote interface to the 2401 and other SourceMeters
// with the same SCPI surface
type SourceMeter struct {
	scpi.SCPI

	mu         sync.Mutex
	cfg        SweepConfig
	configured bool
}

// NewSourceMeter creates a new SourceMeter over TCP (a terminal server or
// LAN bridge), or RS-232 when serialConn is true
func NewSourceMeter(addr string, serialConn bool) *SourceMeter {
	var maker comm.CreationFunc
	if serialConn {
		maker = comm.SerialMaker(makeSerConf(addr))
	} else {
		maker = comm.TCPMaker(addr, 3*time.Second)
	}
	return NewSourceMeterBus(maker)
}

// NewSourceMeterBus creates a SourceMeter over an arbitrary bus maker,
// e.g. a GPIB controller or USBTMC adapter
func NewSourceMeterBus(maker comm.CreationFunc) *SourceMeter {
	return &SourceMeter{SCPI: scpi.SCPI{
		Pool:        comm.NewPool(1, time.Minute, maker),
		Handshaking: true,
		Timeout:     sweepTimeout,
	}}
}

// Identification returns the *IDN? response
func (sm *SourceMeter) Identification() (string, error) {
	return sm.ReadString("*IDN?")
}

// Beep sounds concert A on the instrument, audible confirmation that the
// right box is on the other end of the cable
func (sm *SourceMeter) Beep() error {
	return sm.Write("syst:beep 440")
}

// SetTerminal routes measurement to the front or rear connector pair
func (sm *SourceMeter) SetTerminal(term string) error {
	if term != TerminalFront && term != TerminalRear {
		return errors.Errorf("terminal %q is not front or rear", term)
	}
	err := sm.Write(fmt.Sprintf("route:term %s", term))
	if err == nil {
		sm.mu.Lock()
		sm.cfg.Terminal = term
		sm.mu.Unlock()
	}
	return err
}

// GetTerminal returns the active measurement terminal pair
func (sm *SourceMeter) GetTerminal() (string, error) {
	return sm.ReadString("route:term?")
}

// SetStartVoltage moves the sweep start point without a full reconfigure
func (sm *SourceMeter) SetStartVoltage(v float64) error {
	if !voltageLimits.Check(v) {
		return errors.Errorf("start voltage %v outside %v..%v V", v, voltageLimits.Min, voltageLimits.Max)
	}
	err := sm.Write(fmt.Sprintf("source:volt:start %0.2f", v))
	if err == nil {
		sm.mu.Lock()
		sm.cfg.Start = v
		sm.mu.Unlock()
	}
	return err
}

// SetStopVoltage moves the sweep stop point without a full reconfigure
func (sm *SourceMeter) SetStopVoltage(v float64) error {
	if !voltageLimits.Check(v) {
		return errors.Errorf("stop voltage %v outside %v..%v V", v, voltageLimits.Min, voltageLimits.Max)
	}
	err := sm.Write(fmt.Sprintf("source:volt:stop %0.2f", v))
	if err == nil {
		sm.mu.Lock()
		sm.cfg.Stop = v
		sm.mu.Unlock()
	}
	return err
}

// Configure applies a full sweep configuration to the instrument.  The
// command order matters and mirrors the instrument manual's sweep recipe.
func (sm *SourceMeter) Configure(cfg SweepConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cmds := []string{
		"syst:beep 440",
		fmt.Sprintf("route:term %s", cfg.Terminal),
		"source:function:mode volt",
		fmt.Sprintf("source:volt:start %0.2f", cfg.Start),
		fmt.Sprintf("source:volt:stop %0.2f", cfg.Stop),
		"source:volt:mode sweep",
		"format:elements voltage, current",
		fmt.Sprintf("source:sweep:points %d", cfg.Points),
		fmt.Sprintf("trig:count %d", cfg.Points),
	}
	for _, cmd := range cmds {
		if err := sm.Write(cmd); err != nil {
			return errors.Wrapf(err, "applying %q", cmd)
		}
	}
	sm.mu.Lock()
	sm.cfg = cfg
	sm.configured = true
	sm.mu.Unlock()
	return nil
}

// Config returns the last applied sweep configuration
func (sm *SourceMeter) Config() SweepConfig {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.cfg
}

// EnableOutput connects the source to the terminals
func (sm *SourceMeter) EnableOutput() error {
	return sm.Write("output on")
}

// DisableOutput disconnects the source from the terminals
func (sm *SourceMeter) DisableOutput() error {
	return sm.Write("output off")
}

// GetOutput queries whether the output is live
func (sm *SourceMeter) GetOutput() (bool, error) {
	return sm.ReadBool("output?")
}

// RunSweep arms the output, performs the blocking sweep read, disconnects
// the output, and parses the reply.  Any failure aborts the sweep; the
// output-off command is always attempted, and a failure there is reported
// alongside the one that caused the abort.
func (sm *SourceMeter) RunSweep() (iv.Curve, error) {
	sm.mu.Lock()
	cfg := sm.cfg
	configured := sm.configured
	sm.mu.Unlock()
	if !configured {
		return iv.Curve{}, ErrNotConfigured
	}
	if err := sm.EnableOutput(); err != nil {
		return iv.Curve{}, errors.Wrap(err, "enabling output")
	}
	raw, readErr := sm.ReadString("read?")
	offErr := sm.DisableOutput()
	if readErr != nil {
		readErr = errors.Wrap(readErr, "sweep read")
		return iv.Curve{}, multierr.Append(readErr, offErr)
	}
	if offErr != nil {
		return iv.Curve{}, errors.Wrap(offErr, "disabling output after sweep")
	}
	return iv.ParseCurve(raw, cfg.Points)
}
