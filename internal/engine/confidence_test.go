package engine

import (
	"errors"
	"math"
	"testing"
)

func TestNormalizeRoundsHalfUp(t *testing.T) {
	cases := []struct {
		raw  float64
		want int
	}{
		{0, 0},
		{1, 100},
		{0.5, 50},
		{0.9, 90},
		{0.75, 75},
		// boundary cases where the float representation sits just below
		// the half; naive math.Round(raw*100) would land one short
		{0.855, 86},
		{0.845, 85},
		{0.905, 91},
		{0.004, 0},
		{0.005, 1},
		{0.995, 100},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.raw)
		if err != nil {
			t.Fatalf("normalize %v: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("normalize %v: got %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestNormalizeRejectsOutOfRange(t *testing.T) {
	for _, raw := range []float64{-0.01, 1.01, math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Normalize(raw); !errors.Is(err, ErrInvalidConfidence) {
			t.Fatalf("normalize %v: expected ErrInvalidConfidence, got %v", raw, err)
		}
	}
}
