package health

// estimateSoH combines capacity fade, resistance growth and cycle
// degradation into a single health percentage.
//
// Each factor is normalised and clamped to [0,1] before weighting:
//
//	capacity_factor   = measured / nominal
//	resistance_factor = 1 - (current - baseline) / baseline
//	cycle_factor      = 1 - cycles / ratedCycleLife
//	soh               = 100 × (w₁·capacity + w₂·resistance + w₃·cycle)
//
// The result is clamped to [0,100]: a cell measuring above nominal capacity
// reports 100, never more. Nominal capacity and baseline resistance are
// validated as positive by Config.Validate before any cell reaches here.
func estimateSoH(params CellParams, resistanceMilliohm float64, ratedCycleLife int, w SoHWeights) float64 {
	capacityFactor := clamp01(params.MeasuredCapacityAh / params.NominalCapacityAh)

	growth := (resistanceMilliohm - params.BaselineResistanceMilliohm) / params.BaselineResistanceMilliohm
	resistanceFactor := clamp01(1 - growth)

	cycleFactor := clamp01(1 - float64(params.CycleCount)/float64(ratedCycleLife))

	soh := 100 * (w.Capacity*capacityFactor + w.Resistance*resistanceFactor + w.Cycle*cycleFactor)
	return clamp(soh, 0, 100)
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

// clamp restricts v to the range [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
