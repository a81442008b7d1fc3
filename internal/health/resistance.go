package health

import (
	"fmt"
	"math"
)

// varianceEpsilon is the minimum current variance (in A², unnormalised sum
// of squared deviations) the regression accepts. Below it the slope is
// numerically meaningless, so the fit fails rather than returning a
// degenerate resistance.
const varianceEpsilon = 1e-9

// loadWindow returns the samples whose |current| exceeds the noise floor —
// the readings taken under enough load to carry resistance information.
func loadWindow(samples []TelemetrySample, noiseFloorA float64) []TelemetrySample {
	out := make([]TelemetrySample, 0, len(samples))
	for _, s := range samples {
		if math.Abs(s.CurrentA) > noiseFloorA {
			out = append(out, s)
		}
	}
	return out
}

// fitResistance runs an ordinary least-squares regression of voltage against
// current over the cell's load window: voltage = intercept + slope·current.
// Internal resistance follows from the slope (see ResistanceFit).
//
// It fails with *InsufficientDataError when fewer than minSamples readings
// remain in the window, or when the current variance is below the numeric
// stability epsilon.
func fitResistance(samples []TelemetrySample, noiseFloorA float64, minSamples int) (ResistanceFit, error) {
	window := loadWindow(samples, noiseFloorA)
	n := len(window)
	if n < minSamples {
		return ResistanceFit{}, &InsufficientDataError{
			Samples: n,
			Reason:  fmt.Sprintf("need at least %d load-window samples", minSamples),
		}
	}

	var sumI, sumV float64
	for _, s := range window {
		sumI += s.CurrentA
		sumV += s.VoltageV
	}
	meanI := sumI / float64(n)
	meanV := sumV / float64(n)

	// Sxx is the sum of squared current deviations, Sxy the current/voltage
	// cross deviation. slope = Sxy/Sxx.
	var sxx, sxy float64
	for _, s := range window {
		di := s.CurrentA - meanI
		sxx += di * di
		sxy += di * (s.VoltageV - meanV)
	}
	if sxx < varianceEpsilon {
		return ResistanceFit{}, &InsufficientDataError{
			Samples: n,
			Reason:  "current variance too low for a stable fit",
		}
	}

	slope := sxy / sxx
	intercept := meanV - slope*meanI

	// R² from residual vs. total sum of squares. A flat voltage series has
	// zero total variance; the fit is then exact by construction.
	var ssRes, ssTot float64
	for _, s := range window {
		pred := intercept + slope*s.CurrentA
		ssRes += (s.VoltageV - pred) * (s.VoltageV - pred)
		ssTot += (s.VoltageV - meanV) * (s.VoltageV - meanV)
	}
	r2 := 1.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}

	return ResistanceFit{
		SlopeVPerA:  slope,
		InterceptV:  intercept,
		RSquared:    r2,
		SampleCount: n,
	}, nil
}
