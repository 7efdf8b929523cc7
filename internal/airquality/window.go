package airquality

// BuildWindow returns the scaled model input built from the last stepsIn
// observations of series, which must be ordered ascending by time.
//
// ok is false when series has fewer than stepsIn rows; that is the normal
// "no forecast available" outcome and the caller must not run inference.
// A non-nil error means the rows or the scaler are inconsistent with features.
func BuildWindow(series []Observation, features FeatureOrder, scaler *Scaler, stepsIn int) (window InputWindow, ok bool, err error) {
	if stepsIn <= 0 || len(series) < stepsIn {
		return nil, false, nil
	}

	tail := series[len(series)-stepsIn:]
	raw := make([][]float64, 0, stepsIn)
	for _, obs := range tail {
		v, err := obs.Vector(features)
		if err != nil {
			return nil, false, err
		}
		raw = append(raw, v)
	}

	scaled, err := scaler.Transform(raw)
	if err != nil {
		return nil, false, err
	}
	return InputWindow(scaled), true, nil
}
