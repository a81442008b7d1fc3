package health

import (
	"errors"
	"math"
	"testing"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

// threePointTable is the reference table used across the interpolator tests:
// 3.0 V → 0 %, 3.7 V → 50 %, 4.2 V → 100 %.
func threePointTable() OCVTable {
	return OCVTable{{3.0, 0}, {3.7, 50}, {4.2, 100}}
}

func TestOCVTable_SoC(t *testing.T) {
	table := threePointTable()

	tests := []struct {
		name    string
		voltage float64
		want    float64
	}{
		{"exact table entry — no interpolation error", 3.7, 50},
		{"exact first entry", 3.0, 0},
		{"exact last entry", 4.2, 100},
		// (3.35-3.0)/(3.7-3.0) = 0.5 → halfway between 0 and 50
		{"midpoint of lower segment", 3.35, 25},
		// (3.95-3.7)/(4.2-3.7) = 0.5 → halfway between 50 and 100
		{"midpoint of upper segment", 3.95, 75},
		{"below minimum clamps to first entry", 2.5, 0},
		{"above maximum clamps to last entry", 4.5, 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := table.SoC(tc.voltage)
			if !almostEqual(got, tc.want, 1e-9) {
				t.Errorf("SoC(%v) = %v, want %v", tc.voltage, got, tc.want)
			}
		})
	}
}

func TestOCVTable_ClampingProperty(t *testing.T) {
	table := threePointTable()

	// Any voltage at or below the minimum entry maps to its SoC; symmetric
	// for the maximum.
	for _, v := range []float64{0.1, 1.0, 2.99, 3.0} {
		if got := table.SoC(v); got != 0 {
			t.Errorf("SoC(%v) = %v, want 0 (clamped)", v, got)
		}
	}
	for _, v := range []float64{4.2, 4.21, 5.0, 12.0} {
		if got := table.SoC(v); got != 100 {
			t.Errorf("SoC(%v) = %v, want 100 (clamped)", v, got)
		}
	}
}

func TestOCVTable_Validate(t *testing.T) {
	tests := []struct {
		name    string
		table   OCVTable
		wantErr bool
	}{
		{"valid table", threePointTable(), false},
		{"empty table", OCVTable{}, true},
		{"single point", OCVTable{{3.7, 50}}, true},
		{"voltage not strictly increasing", OCVTable{{3.0, 0}, {3.0, 50}}, true},
		{"voltage decreasing", OCVTable{{3.7, 50}, {3.0, 0}}, true},
		{"soc decreasing", OCVTable{{3.0, 50}, {3.7, 0}}, true},
		{"soc plateau is allowed", OCVTable{{3.0, 0}, {3.1, 0}, {3.7, 50}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.table.validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				var cfgErr *ConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Errorf("validate() error type = %T, want *ConfigurationError", err)
				}
			}
		})
	}
}
