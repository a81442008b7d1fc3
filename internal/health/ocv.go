package health

import (
	"fmt"
	"sort"
)

// OCVPoint maps an open-circuit voltage to a state-of-charge percentage.
type OCVPoint struct {
	VoltageV   float64
	SoCPercent float64
}

// OCVTable is the calibration table used to estimate SoC from voltage.
// Entries must be strictly increasing by voltage and non-decreasing by SoC.
// The table is supplied by configuration and read-only to the engine.
type OCVTable []OCVPoint

// validate checks the table invariants the interpolator relies on.
func (t OCVTable) validate() error {
	if len(t) < 2 {
		return &ConfigurationError{
			Field:  "ocv_table",
			Reason: fmt.Sprintf("need at least 2 points, got %d", len(t)),
		}
	}
	for i := 1; i < len(t); i++ {
		if t[i].VoltageV <= t[i-1].VoltageV {
			return &ConfigurationError{
				Field: "ocv_table",
				Reason: fmt.Sprintf("voltage not strictly increasing at index %d (%v then %v)",
					i, t[i-1].VoltageV, t[i].VoltageV),
			}
		}
		if t[i].SoCPercent < t[i-1].SoCPercent {
			return &ConfigurationError{
				Field: "ocv_table",
				Reason: fmt.Sprintf("soc decreasing at index %d (%v then %v)",
					i, t[i-1].SoCPercent, t[i].SoCPercent),
			}
		}
	}
	return nil
}

// SoC interpolates the state of charge for the given voltage.
//
// Voltages below the first table entry clamp to its SoC; voltages above the
// last entry clamp symmetrically. An exact match on a table entry returns
// that entry's SoC with no interpolation error. The table must have passed
// validate — SoC itself is a pure function with no failure mode.
func (t OCVTable) SoC(voltage float64) float64 {
	if voltage <= t[0].VoltageV {
		return t[0].SoCPercent
	}
	last := t[len(t)-1]
	if voltage >= last.VoltageV {
		return last.SoCPercent
	}

	// Binary search for the first entry with voltage >= the reading, then
	// interpolate linearly against its predecessor.
	hi := sort.Search(len(t), func(i int) bool { return t[i].VoltageV >= voltage })
	if t[hi].VoltageV == voltage {
		return t[hi].SoCPercent
	}
	lo := hi - 1
	frac := (voltage - t[lo].VoltageV) / (t[hi].VoltageV - t[lo].VoltageV)
	return t[lo].SoCPercent + frac*(t[hi].SoCPercent-t[lo].SoCPercent)
}
