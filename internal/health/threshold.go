package health

// evaluateThresholds resolves a metric value against all configured
// thresholds for its metric type.
//
// A threshold is breached when value < min (if min is set) or value > max
// (if max is set). With no breach the value passes with severity none.
// Otherwise the reported severity is the most severe breached threshold
// (critical > warning > none); among breaches of equal severity the one with
// the larger margin wins — the "most wrong" bound is the one reported.
func evaluateThresholds(metric MetricType, value float64, thresholds []Threshold) (passes bool, severity Severity) {
	severity = SeverityNone
	passes = true
	var worstMargin float64

	for _, t := range thresholds {
		if t.Metric != metric {
			continue
		}
		breached, margin := breach(value, t)
		if !breached {
			continue
		}
		switch {
		case !passes && t.Severity.rank() < severity.rank():
			// Less severe than what we already hold.
		case passes || t.Severity.rank() > severity.rank() || margin > worstMargin:
			severity = t.Severity
			worstMargin = margin
		}
		passes = false
	}
	return passes, severity
}

// breach reports whether value falls outside t's band, and by how much.
func breach(value float64, t Threshold) (bool, float64) {
	if t.Min != nil && value < *t.Min {
		return true, *t.Min - value
	}
	if t.Max != nil && value > *t.Max {
		return true, value - *t.Max
	}
	return false, 0
}
