package airquality

import (
	"time"
)

// Pollutant identifies a monitored pollutant column.
type Pollutant string

const (
	PM10 Pollutant = "PM10"
	PM25 Pollutant = "PM2.5"
	CO   Pollutant = "CO"
	SO2  Pollutant = "SO2"
	NO2  Pollutant = "NO2"
	O3   Pollutant = "O3"
)

// FeatureOrder is the ordered list of pollutant columns the scaler was fitted
// on and the model was trained with. The same value is passed to every stage
// so the column order cannot drift between scaling, windowing and inversion.
type FeatureOrder []Pollutant

// DefaultFeatures is the training-time feature order of the shipped model.
var DefaultFeatures = FeatureOrder{PM10, PM25, CO, SO2, NO2, O3}

// Index returns the column of p, or -1 if p is not part of the order.
func (f FeatureOrder) Index(p Pollutant) int {
	for i, q := range f {
		if q == p {
			return i
		}
	}
	return -1
}

// Strings returns the feature identifiers as plain strings.
func (f FeatureOrder) Strings() []string {
	out := make([]string, len(f))
	for i, p := range f {
		out[i] = string(p)
	}
	return out
}

// Observation is one timestamped row of the history table.
type Observation struct {
	Time           time.Time             `json:"time"`
	Concentrations map[Pollutant]float64 `json:"concentrations"`
}

// Vector returns the concentrations of o in feature order.
func (o Observation) Vector(features FeatureOrder) ([]float64, error) {
	v := make([]float64, len(features))
	for i, p := range features {
		c, ok := o.Concentrations[p]
		if !ok {
			return nil, &ConfigError{
				Field:   string(p),
				Message: "observation at " + o.Time.Format(time.RFC3339) + " has no value for " + string(p),
			}
		}
		v[i] = c
	}
	return v, nil
}

// InputWindow is one scaled model input: StepsIn rows by len(features)
// columns, oldest row first.
type InputWindow [][]float64

// ForecastStep is one predicted hour of the target pollutant.
type ForecastStep struct {
	Time      time.Time `json:"time"`
	TimeLabel string    `json:"timeLabel"`
	Value     float64   `json:"value"`
	Category  Category  `json:"category"`
}

// Forecast is the outcome of one pipeline invocation. When Available is
// false, Steps is empty and Reason says why.
type Forecast struct {
	ID          string         `json:"id"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Target      Pollutant      `json:"target"`
	Available   bool           `json:"available"`
	Reason      string         `json:"reason,omitempty"`
	Steps       []ForecastStep `json:"steps"`
}

// Status is the current reading surfaced on the summary view.
type Status struct {
	Time      time.Time `json:"time"`
	Pollutant Pollutant `json:"pollutant"`
	Value     float64   `json:"value"`
	Category  Category  `json:"category"`
}

// City is the monitored location shown on the map.
type City struct {
	Name    string  `json:"city"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Marker is the map pin for the city, colored by the current category.
type Marker struct {
	City
	Pollutant Pollutant `json:"pollutant"`
	Value     float64   `json:"value"`
	Category  Category  `json:"category"`
}

// ChartPoint is one point of the forecast chart.
type ChartPoint struct {
	X        string  `json:"x"`
	Y        float64 `json:"y"`
	Category string  `json:"category"`
	Color    string  `json:"color"`
}

// Chart bundles the recent history and forecast of the target pollutant.
type Chart struct {
	Target   Pollutant    `json:"target"`
	History  []ChartPoint `json:"history"`
	Forecast []ChartPoint `json:"forecast"`
}
