// Package bench runs solar cell measurements.  A Session owns one
// sourcemeter, the sample parameters, and the most recent sweep result,
// and exposes everything an operator's front panel needs: arm and run a
// sweep, inspect the figures of merit, plot the curve, and write the trace
// file.
package bench

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/photovolt/ivlab/export"
	"github.com/photovolt/ivlab/iv"
	"github.com/photovolt/ivlab/keithley"
	"github.com/photovolt/ivlab/plot"
)

// Defaults for a sample nobody has described yet.  Area is in cm^2,
// flux in mW/cm^2 (one sun at AM1.5 is very close to 100).
const (
	DefaultArea = 2.76
	DefaultFlux = 100.0
)

// ErrSweepInProgress is returned when a sweep is requested while the
// instrument is already mid-sweep
var ErrSweepInProgress = errors.New("a sweep is already in progress")

// ErrNoResult is returned when results are queried before any sweep has run
var ErrNoResult = errors.New("no sweep has been run yet")

// Instrument is the required surface of a sweep-capable sourcemeter.
// keithley.SourceMeter and keithley.Mock both satisfy it.
type Instrument interface {
	Identification() (string, error)

	Beep() error

	SetTerminal(string) error

	GetTerminal() (string, error)

	SetStartVoltage(float64) error

	SetStopVoltage(float64) error

	Configure(keithley.SweepConfig) error

	Config() keithley.SweepConfig

	EnableOutput() error

	DisableOutput() error

	GetOutput() (bool, error)

	RunSweep() (iv.Curve, error)
}

// Result is one completed sweep with its reduction
type Result struct {
	// ID uniquely labels the sweep
	ID uuid.UUID `json:"id"`

	// Taken is when the sweep completed
	Taken time.Time `json:"taken"`

	Curve   iv.Curve   `json:"curve"`
	Metrics iv.Metrics `json:"metrics"`
}

// Session couples an instrument to sample parameters and holds the most
// recent result
type Session struct {
	mu   sync.Mutex
	inst Instrument

	area float64
	flux float64

	sweeping bool
	last     *Result
}

// NewSession returns a Session with default sample parameters
func NewSession(inst Instrument) *Session {
	return &Session{inst: inst, area: DefaultArea, flux: DefaultFlux}
}

// Identification passes through to the instrument
func (s *Session) Identification() (string, error) {
	return s.inst.Identification()
}

// Beep passes through to the instrument
func (s *Session) Beep() error {
	return s.inst.Beep()
}

// SetTerminal passes through to the instrument
func (s *Session) SetTerminal(term string) error {
	return s.inst.SetTerminal(term)
}

// GetTerminal passes through to the instrument
func (s *Session) GetTerminal() (string, error) {
	return s.inst.GetTerminal()
}

// EnableOutput passes through to the instrument
func (s *Session) EnableOutput() error {
	return s.inst.EnableOutput()
}

// DisableOutput passes through to the instrument
func (s *Session) DisableOutput() error {
	return s.inst.DisableOutput()
}

// GetOutput passes through to the instrument
func (s *Session) GetOutput() (bool, error) {
	return s.inst.GetOutput()
}

// Configure programs the sweep recipe into the instrument
func (s *Session) Configure(cfg keithley.SweepConfig) error {
	return s.inst.Configure(cfg)
}

// Config returns the sweep recipe currently programmed
func (s *Session) Config() keithley.SweepConfig {
	return s.inst.Config()
}

// Area returns the sample area in cm^2
func (s *Session) Area() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.area, nil
}

// SetArea updates the sample area and re-derives the figures of merit of
// the last result, if there is one
func (s *Session) SetArea(a float64) error {
	if a <= 0 {
		return errors.New("sample area must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.area = a
	return s.rederive()
}

// Flux returns the incident flux in mW/cm^2
func (s *Session) Flux() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flux, nil
}

// SetFlux updates the incident flux and re-derives the figures of merit of
// the last result, if there is one
func (s *Session) SetFlux(f float64) error {
	if f <= 0 {
		return errors.New("flux must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flux = f
	return s.rederive()
}

// rederive recomputes the metrics of the last result with the current
// sample parameters.  Callers hold the mutex.
func (s *Session) rederive() error {
	if s.last == nil {
		return nil
	}
	m, err := iv.Reduce(s.last.Curve, s.area, s.flux)
	if err != nil {
		return errors.Wrap(err, "re-deriving figures of merit")
	}
	s.last.Metrics = m
	return nil
}

// Sweep performs the blocking sweep and stores the result.  Only one
// sweep may be in flight; concurrent calls receive ErrSweepInProgress.
func (s *Session) Sweep() (Result, error) {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		return Result{}, ErrSweepInProgress
	}
	s.sweeping = true
	area := s.area
	flux := s.flux
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	cfg := s.inst.Config()
	l := log.WithFields(log.Fields{
		"start":  cfg.Start,
		"stop":   cfg.Stop,
		"points": cfg.Points,
	})
	l.Info("sweep started")
	t0 := time.Now()
	curve, err := s.inst.RunSweep()
	if err != nil {
		l.WithError(err).Error("sweep failed")
		return Result{}, err
	}
	m, err := iv.Reduce(curve, area, flux)
	if err != nil {
		return Result{}, errors.Wrap(err, "reducing sweep")
	}
	res := Result{ID: uuid.New(), Taken: time.Now(), Curve: curve, Metrics: m}
	s.mu.Lock()
	s.last = &res
	s.mu.Unlock()
	l.WithFields(log.Fields{
		"duration":   time.Since(t0).Round(time.Millisecond),
		"fillFactor": m.FillFactor,
		"efficiency": m.Efficiency,
	}).Info("sweep complete")
	return res, nil
}

// Last returns the most recent result
func (s *Session) Last() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, ErrNoResult
	}
	return *s.last, nil
}

// Trace bundles the last result for export
func (s *Session) Trace() (export.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return export.Trace{}, ErrNoResult
	}
	return export.Trace{
		Area:    s.area,
		Flux:    s.flux,
		Metrics: s.last.Metrics,
		Curve:   s.last.Curve,
	}, nil
}

// ExportTo writes the last trace onto w
func (s *Session) ExportTo(w io.Writer) error {
	t, err := s.Trace()
	if err != nil {
		return err
	}
	return t.Write(w)
}

// SaveTo writes the last trace to a file at path
func (s *Session) SaveTo(path string) error {
	t, err := s.Trace()
	if err != nil {
		return err
	}
	log.WithField("path", path).Info("saving trace")
	return t.Save(path)
}

// PlotSVG renders the last curve as an SVG chart, current in mA against
// voltage in V
func (s *Session) PlotSVG() (string, error) {
	res, err := s.Last()
	if err != nil {
		return "", err
	}
	ma := make([]float64, len(res.Curve.Current))
	for i, a := range res.Curve.Current {
		ma[i] = a * 1000
	}
	p := plot.New(640, 480)
	p.Title = "I-V curve"
	p.XLabel = "Voltage (V)"
	p.YLabel = "Current (mA)"
	p.AddSeries(plot.Series{
		X:       res.Curve.Voltage,
		Y:       ma,
		Label:   "sweep",
		Color:   "#e41a1c",
		Scatter: true,
	})
	return p.Render(), nil
}
