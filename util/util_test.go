package util_test

import (
	"testing"

	"github.com/photovolt/ivlab/util"
)

func TestLimiterCheck(t *testing.T) {
	l := util.Limiter{Min: -5, Max: 5}
	for _, v := range []float64{-5, 0, 5} {
		if !l.Check(v) {
			t.Errorf("expected %v in range", v)
		}
	}
	for _, v := range []float64{-5.01, 5.01, 100} {
		if l.Check(v) {
			t.Errorf("expected %v out of range", v)
		}
	}
}

func TestClampHigh(t *testing.T) {
	if got := util.Clamp(20, 0, 10); got != 10 {
		t.Errorf("expected 10, got %v", got)
	}
}

func TestClampLow(t *testing.T) {
	if got := util.Clamp(-1, 0, 10); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestClampPassthrough(t *testing.T) {
	if got := util.Clamp(5, 0, 10); got != 5 {
		t.Errorf("expected 5, got %v", got)
	}
}
