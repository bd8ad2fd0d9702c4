/*Package iv holds the data model and reduction for current-voltage sweeps.

A sweep produces one Curve: two equal-length ordered sequences of voltage
and current samples, replaced wholesale on each new sweep.  Reduce computes
the figures of merit from a curve and the sample geometry; it is a pure
function and is recomputed from scratch after every sweep.
*/
package iv

import (
	"math"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// ZeroCurrent is the magnitude below which a current sample is considered
// zero when locating the open-circuit point
const ZeroCurrent = 1e-5

// ErrEmptyCurve is returned when a reduction or parse is attempted over
// zero points
var ErrEmptyCurve = errors.New("curve has no points")

// Curve is one sweep result: voltage and current samples in sweep order
type Curve struct {
	Voltage []float64 `json:"voltage"`
	Current []float64 `json:"current"`
}

// Len returns the number of points in the curve
func (c Curve) Len() int {
	return len(c.Voltage)
}

// ParseCurve decodes the instrument's sweep reply: 2N comma-separated
// fields with voltage and current interleaved, v0,i0,v1,i1,...
// A token count that does not match the declared point count, or any
// malformed field, is a hard error; no partial curve is returned.
func ParseCurve(raw string, points int) (Curve, error) {
	if points <= 0 {
		return Curve{}, errors.Wrap(ErrEmptyCurve, "sweep configured for zero points")
	}
	fields := strings.Split(strings.TrimSpace(raw), ",")
	if len(fields) != 2*points {
		return Curve{}, errors.Errorf("sweep reply holds %d fields, expected %d for %d points",
			len(fields), 2*points, points)
	}
	c := Curve{
		Voltage: make([]float64, points),
		Current: make([]float64, points),
	}
	for i := 0; i < points; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[2*i]), 64)
		if err != nil {
			return Curve{}, errors.Wrapf(err, "bad voltage field at point %d", i)
		}
		a, err := strconv.ParseFloat(strings.TrimSpace(fields[2*i+1]), 64)
		if err != nil {
			return Curve{}, errors.Wrapf(err, "bad current field at point %d", i)
		}
		c.Voltage[i] = v
		c.Current[i] = a
	}
	return c, nil
}

// Metrics are the figures of merit derived from one curve.  All indices
// refer to positions in the source curve; ties resolve to the first index
// achieving the extreme.
type Metrics struct {
	// MaxCurrent is the largest current sample (the short-circuit current
	// for a well-formed sweep starting at 0 V)
	MaxCurrent      float64 `json:"maxCurrent"`
	MaxCurrentIndex int     `json:"maxCurrentIndex"`

	// MaxPower is the largest V*I product along the curve
	MaxPower      float64 `json:"maxPower"`
	MaxPowerIndex int     `json:"maxPowerIndex"`

	// OpenCircuitV is the voltage at the first point whose current
	// magnitude falls below ZeroCurrent; if no point does, the point of
	// smallest current magnitude
	OpenCircuitV     float64 `json:"openCircuitV"`
	OpenCircuitIndex int     `json:"openCircuitIndex"`

	// FillFactor is MaxPower / (MaxCurrent * OpenCircuitV)
	FillFactor float64 `json:"fillFactor"`

	// Efficiency is MaxPower * area / flux
	Efficiency float64 `json:"efficiency"`
}

// Reduce computes the figures of merit for a curve measured on a sample of
// the given area (cm^2) under the given flux (mW/cm^2)
func Reduce(c Curve, area, flux float64) (Metrics, error) {
	var m Metrics
	n := c.Len()
	if n == 0 || len(c.Current) != n {
		return m, ErrEmptyCurve
	}

	maxI, err := stats.Max(c.Current)
	if err != nil {
		return m, errors.Wrap(err, "max current")
	}
	m.MaxCurrent = maxI
	m.MaxCurrentIndex = firstIndexOf(c.Current, maxI)

	power := make([]float64, n)
	for i := 0; i < n; i++ {
		power[i] = c.Voltage[i] * c.Current[i]
	}
	maxP, err := stats.Max(power)
	if err != nil {
		return m, errors.Wrap(err, "max power")
	}
	m.MaxPower = maxP
	m.MaxPowerIndex = firstIndexOf(power, maxP)

	m.OpenCircuitIndex = zeroCrossing(c.Current)
	m.OpenCircuitV = c.Voltage[m.OpenCircuitIndex]

	if m.MaxCurrent != 0 && m.OpenCircuitV != 0 {
		m.FillFactor = m.MaxPower / (m.MaxCurrent * m.OpenCircuitV)
	}
	if flux != 0 {
		m.Efficiency = m.MaxPower * area / flux
	}
	return m, nil
}

// firstIndexOf returns the first position of v in xs.  v always originates
// from xs, so exact comparison is safe.
func firstIndexOf(xs []float64, v float64) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return 0
}

// zeroCrossing locates the open-circuit point: the first sample whose
// current magnitude is below the zero threshold, or failing that, the
// sample closest to zero current
func zeroCrossing(current []float64) int {
	best := 0
	bestMag := math.Abs(current[0])
	for i, a := range current {
		mag := math.Abs(a)
		if mag < ZeroCurrent {
			return i
		}
		if mag < bestMag {
			best = i
			bestMag = mag
		}
	}
	return best
}
