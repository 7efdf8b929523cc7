package airquality

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultStepsIn is the window length the shipped model was trained on.
	DefaultStepsIn = 6
	// DefaultStepsOut is the forecast horizon in hours.
	DefaultStepsOut = 3
)

// ReasonInsufficientHistory is reported when fewer than StepsIn rows exist.
const ReasonInsufficientHistory = "insufficient history"

// ForecasterConfig holds everything a Forecaster needs. It is loaded once at
// startup.
type ForecasterConfig struct {
	Model    Model
	Scaler   *Scaler
	Features FeatureOrder
	Target   Pollutant
	StepsIn  int
	StepsOut int

	// Location is the time zone of forecast timestamps. Defaults to UTC.
	Location *time.Location
	// Clock returns the invocation time. Defaults to time.Now.
	Clock func() time.Time
}

// Forecaster runs the window -> predict -> postprocess pipeline. All of its
// state is fixed at construction, so one value can serve concurrent callers.
type Forecaster struct {
	model       Model
	scaler      *Scaler
	features    FeatureOrder
	target      Pollutant
	targetIndex int
	stepsIn     int
	stepsOut    int
	loc         *time.Location
	clock       func() time.Time
}

// NewForecaster checks that the scaler, feature order and target agree.
func NewForecaster(cfg ForecasterConfig) (*Forecaster, error) {
	if cfg.Model == nil {
		return nil, &ConfigError{Field: "model", Message: "no model configured"}
	}
	if cfg.Scaler == nil {
		return nil, &ConfigError{Field: "scaler", Message: "no scaler configured"}
	}
	if len(cfg.Features) == 0 {
		return nil, &ConfigError{Field: "features", Message: "empty feature order"}
	}
	seen := make(map[Pollutant]bool, len(cfg.Features))
	for _, p := range cfg.Features {
		if seen[p] {
			return nil, &ConfigError{Field: "features", Message: "duplicate feature " + string(p)}
		}
		seen[p] = true
	}
	if cfg.Scaler.FeatureCount() != len(cfg.Features) {
		return nil, &ConfigError{
			Field:   "scaler",
			Message: fmt.Sprintf("scaler has %d features, feature order has %d", cfg.Scaler.FeatureCount(), len(cfg.Features)),
		}
	}
	idx := cfg.Features.Index(cfg.Target)
	if idx < 0 {
		return nil, &ConfigError{Field: "target", Message: string(cfg.Target) + " is not a model feature"}
	}

	f := &Forecaster{
		model:       cfg.Model,
		scaler:      cfg.Scaler,
		features:    append(FeatureOrder(nil), cfg.Features...),
		target:      cfg.Target,
		targetIndex: idx,
		stepsIn:     cfg.StepsIn,
		stepsOut:    cfg.StepsOut,
		loc:         cfg.Location,
		clock:       cfg.Clock,
	}
	if f.stepsIn <= 0 {
		f.stepsIn = DefaultStepsIn
	}
	if f.stepsOut <= 0 {
		f.stepsOut = DefaultStepsOut
	}
	if f.loc == nil {
		f.loc = time.UTC
	}
	if f.clock == nil {
		f.clock = time.Now
	}
	return f, nil
}

// Features returns the feature order.
func (f *Forecaster) Features() FeatureOrder {
	return append(FeatureOrder(nil), f.features...)
}

// Target returns the forecast pollutant.
func (f *Forecaster) Target() Pollutant {
	return f.target
}

// StepsIn returns the window length.
func (f *Forecaster) StepsIn() int {
	return f.stepsIn
}

// StepsOut returns the forecast horizon.
func (f *Forecaster) StepsOut() int {
	return f.stepsOut
}

// Scaler returns the scaler shared by window building and post-processing.
func (f *Forecaster) Scaler() *Scaler {
	return f.scaler
}

// TargetIndex returns the column of the target in the feature order.
func (f *Forecaster) TargetIndex() int {
	return f.targetIndex
}

// Location returns the time zone used for timestamps.
func (f *Forecaster) Location() *time.Location {
	return f.loc
}

// Forecast predicts the next StepsOut hours of the target pollutant from the
// tail of series. Insufficient history yields Available=false and no model
// call.
func (f *Forecaster) Forecast(ctx context.Context, series []Observation) (Forecast, error) {
	now := f.clock().In(f.loc)
	fc := Forecast{
		ID:          uuid.NewString(),
		GeneratedAt: now,
		Target:      f.target,
		Steps:       []ForecastStep{},
	}

	window, ok, err := BuildWindow(series, f.features, f.scaler, f.stepsIn)
	if err != nil {
		return Forecast{}, fmt.Errorf("build window: %w", err)
	}
	if !ok {
		fc.Reason = ReasonInsufficientHistory
		return fc, nil
	}

	out, err := f.model.Predict(ctx, window)
	if err != nil {
		return Forecast{}, fmt.Errorf("predict: %w", err)
	}
	if len(out) != f.stepsOut {
		return Forecast{}, &ConfigError{
			Field:   "model",
			Message: fmt.Sprintf("model returned %d steps, want %d", len(out), f.stepsOut),
		}
	}

	steps, err := Postprocess(out, f.scaler, f.targetIndex, now, f.loc)
	if err != nil {
		return Forecast{}, fmt.Errorf("postprocess: %w", err)
	}

	fc.Available = true
	fc.Steps = steps
	return fc, nil
}

// Status returns the most recent target reading of series and its category.
func (f *Forecaster) Status(series []Observation) (Status, error) {
	if len(series) == 0 {
		return Status{}, ErrNoObservations
	}
	return StatusOf(series[len(series)-1], f.target, f.loc)
}

// StatusOf categorizes the p reading of obs.
func StatusOf(obs Observation, p Pollutant, loc *time.Location) (Status, error) {
	value, ok := obs.Concentrations[p]
	if !ok {
		return Status{}, &ConfigError{Field: string(p), Message: "latest observation has no value"}
	}
	cat, err := Categorize(value)
	if err != nil {
		return Status{}, err
	}
	ts := obs.Time
	if loc != nil {
		ts = ts.In(loc)
	}
	return Status{
		Time:      ts,
		Pollutant: p,
		Value:     value,
		Category:  cat,
	}, nil
}
