package airquality

import (
	"fmt"
	"math"
)

// ScalerParams are the fitted per-feature constants of a min-max scaler:
// scaled = raw*Scale + Min.
type ScalerParams struct {
	Min   []float64 `json:"min"`
	Scale []float64 `json:"scale"`
}

// Scaler applies a fitted min-max normalization. It holds no mutable state
// after construction and is safe for concurrent use.
type Scaler struct {
	min   []float64
	scale []float64
}

// NewScaler validates params and returns a Scaler over len(params.Min)
// features.
func NewScaler(params ScalerParams) (*Scaler, error) {
	if len(params.Min) == 0 {
		return nil, &ConfigError{Field: "scaler", Message: "empty parameter vectors"}
	}
	if len(params.Min) != len(params.Scale) {
		return nil, &ConfigError{
			Field:   "scaler",
			Message: fmt.Sprintf("min has %d entries but scale has %d", len(params.Min), len(params.Scale)),
		}
	}
	for j, s := range params.Scale {
		if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, &ConfigError{
				Field:   "scaler",
				Message: fmt.Sprintf("scale[%d] = %v is not invertible", j, s),
			}
		}
		if m := params.Min[j]; math.IsNaN(m) || math.IsInf(m, 0) {
			return nil, &ConfigError{
				Field:   "scaler",
				Message: fmt.Sprintf("min[%d] = %v is not finite", j, m),
			}
		}
	}

	sc := &Scaler{
		min:   make([]float64, len(params.Min)),
		scale: make([]float64, len(params.Scale)),
	}
	copy(sc.min, params.Min)
	copy(sc.scale, params.Scale)
	return sc, nil
}

// FeatureCount returns the number of columns the scaler was fitted on.
func (s *Scaler) FeatureCount() int {
	return len(s.min)
}

// Params returns a copy of the scaler constants.
func (s *Scaler) Params() ScalerParams {
	p := ScalerParams{
		Min:   make([]float64, len(s.min)),
		Scale: make([]float64, len(s.scale)),
	}
	copy(p.Min, s.min)
	copy(p.Scale, s.scale)
	return p
}

// Transform scales every row. Rows are not modified in place.
func (s *Scaler) Transform(rows [][]float64) ([][]float64, error) {
	return s.apply(rows, func(j int, v float64) float64 {
		return v*s.scale[j] + s.min[j]
	})
}

// InverseTransform maps scaled rows back to raw concentrations.
func (s *Scaler) InverseTransform(rows [][]float64) ([][]float64, error) {
	return s.apply(rows, func(j int, v float64) float64 {
		return (v - s.min[j]) / s.scale[j]
	})
}

func (s *Scaler) apply(rows [][]float64, fn func(j int, v float64) float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(s.min) {
			return nil, &ConfigError{
				Field:   "features",
				Message: fmt.Sprintf("row %d has %d features, scaler expects %d", i, len(row), len(s.min)),
			}
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = fn(j, v)
		}
		out[i] = scaled
	}
	return out, nil
}
