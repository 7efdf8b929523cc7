// Command airquality-forecast serves short-horizon PM2.5 forecasts for one
// city from a pre-trained sequence model.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/i474232898/airquality-forecast/internal/config"
	"github.com/i474232898/airquality-forecast/internal/logging"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "airquality-forecast",
	Short: "Air quality forecasting service",
	Long: `airquality-forecast loads hourly pollutant observations, runs a pre-trained
sequence model over the most recent window and reports the next hours of
PM2.5 with their health categories.

Configuration is read from the environment and an optional .env file.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(forecastCmd)
	rootCmd.AddCommand(checkCmd)
}

// setup loads configuration and builds the logger shared by all commands.
func setup() (*config.AppConfig, *zap.Logger, error) {
	envErr := config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	if envErr != nil {
		logger.Debug("no .env file loaded", zap.Error(envErr))
	}
	return cfg, logger, nil
}

// withPipeline runs fn against a freshly built pipeline and tears it down.
func withPipeline(ctx context.Context, fn func(*config.AppConfig, *zap.Logger, *pipeline) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	p, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer p.Close()

	return fn(cfg, logger, p)
}
