package airquality

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/airquality-forecast/internal/metrics"
)

// Service orchestrates the history source, the in-memory store and the
// forecaster for one city.
type Service struct {
	store      Store
	source     Source
	forecaster *Forecaster
	city       City
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// NewService creates a new Service. logger and collector may be nil.
func NewService(store Store, source Source, forecaster *Forecaster, city City, logger *zap.Logger, collector *metrics.Collector) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		source:     source,
		forecaster: forecaster,
		city:       city,
		logger:     logger,
		metrics:    collector,
	}
}

// Refresh loads the history from the source and swaps it into the store.
// An empty load keeps the last good series.
func (s *Service) Refresh(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("no history source configured")
	}

	series, err := s.source.Load(ctx)
	if err != nil {
		s.metrics.RecordHistoryReload("error", 0)
		return fmt.Errorf("load history from %s: %w", s.source.Name(), err)
	}

	if len(series) == 0 {
		s.metrics.RecordHistoryReload("empty", 0)
		s.logger.Warn("history source returned no rows; keeping last good series",
			zap.String("source", s.source.Name()))
		return nil
	}

	s.store.Replace(series)
	kept := len(s.store.All())
	s.metrics.RecordHistoryReload("ok", kept)
	s.logger.Info("history loaded",
		zap.String("source", s.source.Name()),
		zap.Int("rows", len(series)),
		zap.Int("kept", kept),
		zap.Time("latest", series[len(series)-1].Time))
	return nil
}

// Status returns the current reading of the target pollutant.
func (s *Service) Status() (Status, error) {
	latest, err := s.store.Latest()
	if err != nil {
		return Status{}, ErrNoObservations
	}
	return StatusOf(latest, s.forecaster.Target(), s.forecaster.Location())
}

// Forecast runs the pipeline over the most recent rows of the store.
func (s *Service) Forecast(ctx context.Context) (Forecast, error) {
	start := time.Now()
	fc, err := s.forecaster.Forecast(ctx, s.store.Tail(s.forecaster.StepsIn()))
	elapsed := time.Since(start)

	switch {
	case err != nil:
		s.metrics.RecordForecast("error", elapsed)
		s.logger.Error("forecast failed", zap.Error(err))
		return Forecast{}, err
	case !fc.Available:
		s.metrics.RecordForecast("unavailable", elapsed)
		s.logger.Info("forecast unavailable",
			zap.String("reason", fc.Reason),
			zap.Int("steps_in", s.forecaster.StepsIn()))
	default:
		s.metrics.RecordForecast("ok", elapsed)
		s.logger.Debug("forecast generated",
			zap.String("id", fc.ID),
			zap.Duration("elapsed", elapsed))
	}
	return fc, nil
}

// History returns the stored observations between from and to (inclusive).
func (s *Service) History(from, to time.Time) ([]Observation, error) {
	return s.store.Range(from, to)
}

// Chart returns the last historyPoints target readings and the forecast as
// chart series.
func (s *Service) Chart(ctx context.Context, historyPoints int) (Chart, error) {
	fc, err := s.Forecast(ctx)
	if err != nil {
		return Chart{}, err
	}

	target := s.forecaster.Target()
	chart := Chart{
		Target:   target,
		History:  []ChartPoint{},
		Forecast: make([]ChartPoint, 0, len(fc.Steps)),
	}

	for _, obs := range s.store.Tail(historyPoints) {
		st, err := StatusOf(obs, target, s.forecaster.Location())
		if err != nil {
			return Chart{}, err
		}
		chart.History = append(chart.History, ChartPoint{
			X:        st.Time.Format(TimeLabelLayout),
			Y:        st.Value,
			Category: st.Category.Label,
			Color:    st.Category.Color,
		})
	}

	for _, step := range fc.Steps {
		chart.Forecast = append(chart.Forecast, ChartPoint{
			X:        step.TimeLabel,
			Y:        step.Value,
			Category: step.Category.Label,
			Color:    step.Category.Color,
		})
	}
	return chart, nil
}

// Marker returns the city map pin colored by the current reading.
func (s *Service) Marker() (Marker, error) {
	st, err := s.Status()
	if err != nil {
		return Marker{}, err
	}
	return Marker{
		City:      s.city,
		Pollutant: st.Pollutant,
		Value:     st.Value,
		Category:  st.Category,
	}, nil
}

// City returns the monitored city.
func (s *Service) City() City {
	return s.city
}

// Forecaster returns the pipeline the service runs.
func (s *Service) Forecaster() *Forecaster {
	return s.forecaster
}
