package airquality

import (
	"fmt"
	"time"
)

// TimeLabelLayout formats forecast step times for display.
const TimeLabelLayout = "15:04"

// Postprocess inverse-scales the model output and turns the target column
// into hourly forecast steps starting one hour after start. Step times are
// expressed in loc; a nil loc keeps start's location.
func Postprocess(scaled [][]float64, scaler *Scaler, targetIndex int, start time.Time, loc *time.Location) ([]ForecastStep, error) {
	if targetIndex < 0 || targetIndex >= scaler.FeatureCount() {
		return nil, &ConfigError{
			Field:   "target",
			Message: fmt.Sprintf("target column %d outside %d features", targetIndex, scaler.FeatureCount()),
		}
	}

	raw, err := scaler.InverseTransform(scaled)
	if err != nil {
		return nil, err
	}

	if loc != nil {
		start = start.In(loc)
	}

	steps := make([]ForecastStep, 0, len(raw))
	for i, row := range raw {
		value := row[targetIndex]
		cat, err := Categorize(value)
		if err != nil {
			return nil, fmt.Errorf("forecast step %d: %w", i, err)
		}
		ts := start.Add(time.Duration(i+1) * time.Hour)
		steps = append(steps, ForecastStep{
			Time:      ts,
			TimeLabel: ts.Format(TimeLabelLayout),
			Value:     value,
			Category:  cat,
		})
	}
	return steps, nil
}
