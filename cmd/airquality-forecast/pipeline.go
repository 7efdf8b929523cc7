package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/i474232898/airquality-forecast/internal/airquality"
	"github.com/i474232898/airquality-forecast/internal/config"
	"github.com/i474232898/airquality-forecast/internal/geo"
	"github.com/i474232898/airquality-forecast/internal/history"
	"github.com/i474232898/airquality-forecast/internal/inference"
	"github.com/i474232898/airquality-forecast/internal/metrics"
	"github.com/i474232898/airquality-forecast/internal/store"
)

// pipeline holds everything built from configuration at startup.
type pipeline struct {
	service   *airquality.Service
	collector *metrics.Collector
	closers   []func() error
}

func (p *pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	return errors.Join(errs...)
}

// buildPipeline loads the scaler and model, connects the history source and
// performs the initial history load. Any failure aborts startup.
func buildPipeline(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*pipeline, error) {
	p := &pipeline{collector: metrics.NewCollector("airquality")}

	// Shared HTTP client for outbound model server calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	params, err := airquality.LoadScalerParams(cfg.ScalerPath)
	if err != nil {
		return nil, err
	}
	scaler, err := airquality.NewScaler(params)
	if err != nil {
		return nil, err
	}

	model, err := buildModel(ctx, cfg, httpClient, logger)
	if err != nil {
		return nil, err
	}

	forecaster, err := airquality.NewForecaster(airquality.ForecasterConfig{
		Model:    model,
		Scaler:   scaler,
		Features: cfg.Features,
		Target:   cfg.TargetPollutant,
		StepsIn:  cfg.StepsIn,
		StepsOut: cfg.StepsOut,
		Location: cfg.Location,
	})
	if err != nil {
		return nil, err
	}

	source, err := buildSource(ctx, cfg, p)
	if err != nil {
		return nil, err
	}

	var lookup geo.Lookup
	if cfg.GeocoderAPIKey != "" {
		lookup = geo.GoogleLookup(cfg.GeocoderAPIKey)
	}
	city := geo.ResolveCity(ctx, geo.Options{
		Name:    cfg.City,
		Country: cfg.Country,
		Lat:     cfg.CityLat,
		Lon:     cfg.CityLon,
		Lookup:  lookup,
	}, logger)

	memStore := store.NewMemoryStore(cfg.StoreMaxHistory)
	p.service = airquality.NewService(memStore, source, forecaster, city, logger, p.collector)

	if err := p.service.Refresh(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("initial history load: %w", err)
	}
	return p, nil
}

func buildModel(ctx context.Context, cfg *config.AppConfig, client *http.Client, logger *zap.Logger) (airquality.Model, error) {
	switch cfg.ModelBackend {
	case config.BackendRemote:
		m := inference.NewRemoteModel(client, cfg.ModelServingURL, cfg.ModelName, cfg.StepsIn, cfg.StepsOut, cfg.Features)
		if err := m.CheckAvailable(ctx); err != nil {
			return nil, err
		}
		logger.Info("using remote model",
			zap.String("url", cfg.ModelServingURL),
			zap.String("model", cfg.ModelName))
		return m, nil
	default:
		m, err := inference.LoadNative(cfg.ModelPath, cfg.Features, cfg.StepsIn, cfg.StepsOut, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("using native model",
			zap.String("path", cfg.ModelPath),
			zap.String("name", m.Name()))
		return m, nil
	}
}

func buildSource(ctx context.Context, cfg *config.AppConfig, p *pipeline) (airquality.Source, error) {
	switch cfg.HistorySource {
	case config.SourcePostgres:
		src, err := history.NewPostgresSource(ctx, cfg.PostgresURL, cfg.City, cfg.StoreMaxHistory, cfg.Features)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, src.Close)
		return src, nil
	default:
		return history.NewCSVSource(cfg.HistoryPath, cfg.Features, cfg.Location), nil
	}
}
