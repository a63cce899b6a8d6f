package stats

import (
	"math"
	"testing"
)

func TestQuantile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		q      float64
		want   float64
	}{
		{"lower quartile", []float64{10, 12, 11, 13, 1000}, 0.25, 11},
		{"upper quartile", []float64{10, 12, 11, 13, 1000}, 0.75, 13},
		{"interpolated median", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"interpolated tenth", []float64{1, 2, 3, 4}, 0.1, 1.3},
		{"minimum", []float64{5, 1, 3}, 0, 1},
		{"maximum", []float64{5, 1, 3}, 1, 5},
		{"single value", []float64{7}, 0.3, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quantile(tt.values, tt.q)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Quantile(%v, %v) = %v, want %v", tt.values, tt.q, got, tt.want)
			}
		})
	}

	if !math.IsNaN(Quantile(nil, 0.5)) {
		t.Error("expected NaN for empty input")
	}
}

func TestQuantileDoesNotMutate(t *testing.T) {
	values := []float64{3, 1, 2}
	_ = Median(values)
	if values[0] != 3 || values[1] != 1 || values[2] != 2 {
		t.Errorf("input was reordered: %v", values)
	}
}

func TestModes(t *testing.T) {
	if got := ModeFloat([]float64{3, 1, 3, 1, 2}); got != 1 {
		t.Errorf("ModeFloat tie should pick smallest, got %v", got)
	}
	if got := ModeFloat([]float64{4, 4, 1}); got != 4 {
		t.Errorf("ModeFloat = %v, want 4", got)
	}
	if got, _ := ModeString([]string{"b", "a", "b", "a", "c"}); got != "a" {
		t.Errorf("ModeString tie should pick lexicographically first, got %q", got)
	}
	if _, ok := ModeString(nil); ok {
		t.Error("ModeString(nil) should report false")
	}
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if mean != 5 {
		t.Errorf("mean = %v, want 5", mean)
	}
	// sample std: sqrt(32/7)
	if want := math.Sqrt(32.0 / 7.0); math.Abs(std-want) > 1e-12 {
		t.Errorf("std = %v, want %v", std, want)
	}
	if got := PopulationStd([]float64{2, 4, 4, 4, 5, 5, 7, 9}); math.Abs(got-2) > 1e-12 {
		t.Errorf("population std = %v, want 2", got)
	}
}
