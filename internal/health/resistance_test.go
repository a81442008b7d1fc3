package health

import (
	"errors"
	"testing"
	"time"
)

// loadSamples builds a sample series from parallel current/voltage slices.
func loadSamples(currents, voltages []float64) []TelemetrySample {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]TelemetrySample, len(currents))
	for i := range currents {
		out[i] = TelemetrySample{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			CellID:    "cell-1",
			VoltageV:  voltages[i],
			CurrentA:  currents[i],
		}
	}
	return out
}

func TestFitResistance_ReferenceVector(t *testing.T) {
	// I = [1, 2, 3] A, V = [3.70, 3.65, 3.60] V:
	// a perfectly linear drop of 50 mV per ampere.
	samples := loadSamples([]float64{1, 2, 3}, []float64{3.70, 3.65, 3.60})

	fit, err := fitResistance(samples, DefaultNoiseFloorA, 3)
	if err != nil {
		t.Fatalf("fitResistance() error = %v", err)
	}
	if !almostEqual(fit.SlopeVPerA, -0.05, 1e-9) {
		t.Errorf("slope = %v, want -0.05", fit.SlopeVPerA)
	}
	if !almostEqual(fit.InterceptV, 3.75, 1e-9) {
		t.Errorf("intercept = %v, want 3.75", fit.InterceptV)
	}
	if !almostEqual(fit.ResistanceMilliohm(), 50.0, 1e-9) {
		t.Errorf("resistance = %v mΩ, want 50.0", fit.ResistanceMilliohm())
	}
	if !almostEqual(fit.RSquared, 1.0, 1e-9) {
		t.Errorf("r² = %v, want 1.0 for an exact fit", fit.RSquared)
	}
	if fit.SampleCount != 3 {
		t.Errorf("sample count = %d, want 3", fit.SampleCount)
	}
}

func TestFitResistance_OrderIndependent(t *testing.T) {
	// Permuting in-window samples must not change the fitted slope.
	orderings := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{2, 0, 3, 1},
	}
	currents := []float64{0.5, 1.5, 2.5, 3.5}
	voltages := []float64{3.72, 3.68, 3.64, 3.60}

	var first float64
	for i, order := range orderings {
		permI := make([]float64, len(order))
		permV := make([]float64, len(order))
		for j, idx := range order {
			permI[j] = currents[idx]
			permV[j] = voltages[idx]
		}
		fit, err := fitResistance(loadSamples(permI, permV), DefaultNoiseFloorA, 3)
		if err != nil {
			t.Fatalf("ordering %d: fitResistance() error = %v", i, err)
		}
		if i == 0 {
			first = fit.SlopeVPerA
			continue
		}
		if !almostEqual(fit.SlopeVPerA, first, 1e-12) {
			t.Errorf("ordering %d: slope = %v, want %v (order-independent)", i, fit.SlopeVPerA, first)
		}
	}
}

func TestFitResistance_NoiseFloorFiltering(t *testing.T) {
	// Samples at rest (|I| below the noise floor) must be excluded from the
	// window before the minimum-count check.
	samples := loadSamples(
		[]float64{0.01, -0.02, 1, 2, 3},
		[]float64{3.75, 3.75, 3.70, 3.65, 3.60},
	)
	fit, err := fitResistance(samples, 0.05, 3)
	if err != nil {
		t.Fatalf("fitResistance() error = %v", err)
	}
	if fit.SampleCount != 3 {
		t.Errorf("sample count = %d, want 3 (rest samples excluded)", fit.SampleCount)
	}
	if !almostEqual(fit.ResistanceMilliohm(), 50.0, 1e-9) {
		t.Errorf("resistance = %v mΩ, want 50.0", fit.ResistanceMilliohm())
	}
}

func TestFitResistance_InsufficientData(t *testing.T) {
	tests := []struct {
		name     string
		currents []float64
		voltages []float64
	}{
		{"too few samples", []float64{1, 2}, []float64{3.7, 3.65}},
		{"all below noise floor", []float64{0.01, 0.02, 0.03}, []float64{3.7, 3.7, 3.7}},
		{"zero current variance", []float64{2, 2, 2}, []float64{3.7, 3.65, 3.6}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fitResistance(loadSamples(tc.currents, tc.voltages), DefaultNoiseFloorA, 3)
			var insufficient *InsufficientDataError
			if !errors.As(err, &insufficient) {
				t.Fatalf("fitResistance() error = %v, want *InsufficientDataError", err)
			}
		})
	}
}

func TestResistanceMilliohm_ClampsNegative(t *testing.T) {
	// A positive slope (voltage rising with current draw) would yield a
	// negative resistance; the conversion clamps it to zero.
	fit := ResistanceFit{SlopeVPerA: 0.02}
	if got := fit.ResistanceMilliohm(); got != 0 {
		t.Errorf("ResistanceMilliohm() = %v, want 0", got)
	}
}
