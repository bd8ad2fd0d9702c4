package iv_test

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/photovolt/ivlab/iv"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestParseCurveRoundTrip(t *testing.T) {
	voltage := []float64{0.0, 0.5, 1.0, 1.5}
	current := []float64{0.010, 0.008, 0.004, 0.000}
	fields := make([]string, 0, 8)
	for i := range voltage {
		fields = append(fields,
			fmt.Sprintf("%0.5f", voltage[i]),
			fmt.Sprintf("%0.5g", current[i]))
	}
	c, err := iv.ParseCurve(strings.Join(fields, ","), 4)
	if err != nil {
		t.Fatal("ParseCurve failed:", err)
	}
	if c.Len() != 4 {
		t.Fatalf("expected 4 points, got %d", c.Len())
	}
	for i := range voltage {
		if !almostEqual(c.Voltage[i], voltage[i], 1e-5) {
			t.Errorf("voltage %d: expected %v, got %v", i, voltage[i], c.Voltage[i])
		}
		if !almostEqual(c.Current[i], current[i], 1e-5) {
			t.Errorf("current %d: expected %v, got %v", i, current[i], c.Current[i])
		}
	}
}

func TestParseCurveScientificNotation(t *testing.T) {
	c, err := iv.ParseCurve("0.0000E+00,1.0000E-02,5.0000E-01,6.0000E-03", 2)
	if err != nil {
		t.Fatal("ParseCurve failed:", err)
	}
	if c.Current[0] != 0.01 || c.Current[1] != 0.006 {
		t.Errorf("scientific fields misparsed: %v", c.Current)
	}
}

func TestParseCurveLengthMismatch(t *testing.T) {
	// 3 points declared, 2 provided
	_, err := iv.ParseCurve("0.0,0.01,0.5,0.006", 3)
	if err == nil {
		t.Fatal("short reply should be a hard error")
	}
	if !strings.Contains(err.Error(), "expected 6") {
		t.Errorf("error should state the expected count: %v", err)
	}
}

func TestParseCurveZeroPoints(t *testing.T) {
	if _, err := iv.ParseCurve("", 0); err == nil {
		t.Error("zero points should fail fast")
	}
	if _, err := iv.ParseCurve("1.0,2.0", -1); err == nil {
		t.Error("negative points should fail fast")
	}
}

func TestParseCurveBadToken(t *testing.T) {
	_, err := iv.ParseCurve("0.0,0.01,oops,0.006", 2)
	if err == nil {
		t.Fatal("malformed field should be a hard error")
	}
	if !strings.Contains(err.Error(), "point 1") {
		t.Errorf("error should locate the bad point: %v", err)
	}
}

// the worked example from the station's commissioning notes
func TestReduceReferenceCell(t *testing.T) {
	c := iv.Curve{
		Voltage: []float64{0.0, 0.5, 1.0},
		Current: []float64{0.010, 0.006, 0.000},
	}
	m, err := iv.Reduce(c, 2.76, 100.0)
	if err != nil {
		t.Fatal("Reduce failed:", err)
	}
	if m.MaxCurrent != 0.010 || m.MaxCurrentIndex != 0 {
		t.Errorf("max current: expected 0.010 at 0, got %v at %d", m.MaxCurrent, m.MaxCurrentIndex)
	}
	if !almostEqual(m.MaxPower, 0.003, 1e-12) || m.MaxPowerIndex != 1 {
		t.Errorf("max power: expected 0.003 at 1, got %v at %d", m.MaxPower, m.MaxPowerIndex)
	}
	if m.OpenCircuitV != 1.0 || m.OpenCircuitIndex != 2 {
		t.Errorf("open circuit: expected 1.0 at 2, got %v at %d", m.OpenCircuitV, m.OpenCircuitIndex)
	}
	if !almostEqual(m.FillFactor, 0.3, 1e-12) {
		t.Errorf("fill factor: expected 0.3, got %v", m.FillFactor)
	}
	if !almostEqual(m.Efficiency, 0.0000828, 1e-12) {
		t.Errorf("efficiency: expected 8.28e-05, got %v", m.Efficiency)
	}
}

func TestReduceDeterministic(t *testing.T) {
	c := iv.Curve{
		Voltage: []float64{0.0, 0.25, 0.5, 0.75, 1.0},
		Current: []float64{0.0101, 0.0099, 0.0080, 0.0042, 0.0000071},
	}
	first, err := iv.Reduce(c, 2.76, 100.0)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := iv.Reduce(c, 2.76, 100.0)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("reduction not reproducible: %+v != %+v", again, first)
		}
	}
}

func TestReduceTieBreaksToFirstIndex(t *testing.T) {
	c := iv.Curve{
		Voltage: []float64{0.0, 0.5, 1.0, 1.5},
		Current: []float64{0.010, 0.010, 0.005, 0.0}, // duplicate max current
	}
	m, err := iv.Reduce(c, 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if m.MaxCurrentIndex != 0 {
		t.Errorf("duplicate maximum should resolve to the first index, got %d", m.MaxCurrentIndex)
	}
}

func TestReduceNoZeroCrossingFallsBackToClosest(t *testing.T) {
	c := iv.Curve{
		Voltage: []float64{0.0, 0.5, 1.0},
		Current: []float64{0.010, 0.006, 0.002}, // never reaches zero
	}
	m, err := iv.Reduce(c, 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if m.OpenCircuitIndex != 2 {
		t.Errorf("expected the smallest-magnitude point (2), got %d", m.OpenCircuitIndex)
	}
}

func TestReduceEmptyCurve(t *testing.T) {
	_, err := iv.Reduce(iv.Curve{}, 1, 100)
	if err == nil {
		t.Error("empty curve should not reduce")
	}
}
