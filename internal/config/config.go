package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on images without a zoneinfo database

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/airquality-forecast/internal/airquality"
)

// History sources.
const (
	SourceCSV      = "csv"
	SourcePostgres = "postgres"
)

// Model backends.
const (
	BackendNative = "native"
	BackendRemote = "remote"
)

type AppConfig struct {
	Port      string `validate:"required,numeric"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`

	// City shown on the map; coordinates are optional and geocoded when
	// GeocoderAPIKey is set.
	City           string   `validate:"required"`
	Country        string   `validate:"required"`
	CityLat        *float64 `validate:"omitempty,gte=-90,lte=90"`
	CityLon        *float64 `validate:"omitempty,gte=-180,lte=180"`
	GeocoderAPIKey string

	Timezone string `validate:"required,timezone"`
	Location *time.Location

	HistorySource string `validate:"oneof=csv postgres"`
	HistoryPath   string `validate:"required_if=HistorySource csv"`
	PostgresURL   string `validate:"required_if=HistorySource postgres"`

	// HistoryReloadInterval controls how often the history is reloaded
	// (0 = load once at startup).
	HistoryReloadInterval time.Duration `validate:"gte=0s"`

	// In-memory store retention.
	StoreMaxHistory int `validate:"gte=0"` // max number of observations kept (0 = unlimited)

	ModelBackend    string `validate:"oneof=native remote"`
	ModelPath       string `validate:"required_if=ModelBackend native"`
	ModelServingURL string `validate:"required_if=ModelBackend remote"`
	ModelName       string `validate:"required_if=ModelBackend remote"`
	ScalerPath      string `validate:"required"`

	HTTPTimeout time.Duration `validate:"gt=0s"`

	Features        airquality.FeatureOrder `validate:"min=1,unique,dive,required"`
	TargetPollutant airquality.Pollutant    `validate:"required"`
	StepsIn         int                     `validate:"gt=0"`
	StepsOut        int                     `validate:"gt=0"`
}

var validate = validator.New()

// LoadDotEnv loads a .env file into the environment if one exists.
// Variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	return godotenv.Load(paths...)
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "json"))

	cfg.City = getenvDefault("CITY", "Yogyakarta")
	cfg.Country = getenvDefault("COUNTRY", "Indonesia")
	var err error
	if cfg.CityLat, err = getenvFloatPtr("CITY_LAT"); err != nil {
		return nil, err
	}
	if cfg.CityLon, err = getenvFloatPtr("CITY_LON"); err != nil {
		return nil, err
	}
	if (cfg.CityLat == nil) != (cfg.CityLon == nil) {
		return nil, errors.New("CITY_LAT and CITY_LON must be set together")
	}
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")
	cfg.Timezone = getenvDefault("TIMEZONE", "Asia/Jakarta")

	cfg.HistorySource = strings.ToLower(getenvDefault("HISTORY_SOURCE", SourceCSV))
	cfg.HistoryPath = getenvDefault("HISTORY_PATH", "data/history.csv")
	cfg.PostgresURL = os.Getenv("POSTGRES_URL")

	// Reload interval: default 1 hour, matching the hourly observations.
	if cfg.HistoryReloadInterval, err = getenvDuration("HISTORY_RELOAD_INTERVAL", "1h"); err != nil {
		return nil, err
	}
	// Roughly 90 days of hourly rows.
	if cfg.StoreMaxHistory, err = getenvInt("STORE_MAX_HISTORY", 24*90); err != nil {
		return nil, err
	}

	cfg.ModelBackend = strings.ToLower(getenvDefault("MODEL_BACKEND", BackendNative))
	cfg.ModelPath = getenvDefault("MODEL_PATH", "models/lstm_pm25.json")
	cfg.ModelServingURL = os.Getenv("MODEL_SERVING_URL")
	cfg.ModelName = getenvDefault("MODEL_NAME", "lstm_pm25")
	cfg.ScalerPath = getenvDefault("SCALER_PATH", "models/scaler.npy")

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}

	cfg.Features = append(airquality.FeatureOrder(nil), airquality.DefaultFeatures...)
	if v := os.Getenv("FEATURES"); v != "" {
		cfg.Features = parseFeatures(v)
	}
	cfg.TargetPollutant = airquality.Pollutant(getenvDefault("TARGET_POLLUTANT", string(airquality.PM25)))
	if cfg.StepsIn, err = getenvInt("N_STEPS_IN", airquality.DefaultStepsIn); err != nil {
		return nil, err
	}
	if cfg.StepsOut, err = getenvInt("N_STEPS_OUT", airquality.DefaultStepsOut); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Features.Index(cfg.TargetPollutant) < 0 {
		return nil, fmt.Errorf("invalid configuration: TARGET_POLLUTANT %s is not in FEATURES", cfg.TargetPollutant)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	return cfg, nil
}

func parseFeatures(v string) airquality.FeatureOrder {
	var out airquality.FeatureOrder
	for _, f := range strings.Split(v, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, airquality.Pollutant(f))
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvFloatPtr(key string) (*float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &f, nil
}
