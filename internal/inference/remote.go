package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/airquality-forecast/internal/airquality"
)

// RemoteModel calls a TensorFlow-Serving style REST model server.
type RemoteModel struct {
	baseURL  string
	name     string
	stepsIn  int
	stepsOut int
	width    int
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
}

// NewRemoteModel creates a client for model name served at baseURL.
func NewRemoteModel(client *http.Client, baseURL, name string, stepsIn, stepsOut int, features airquality.FeatureOrder) *RemoteModel {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "model-server",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
	})

	return &RemoteModel{
		baseURL:  strings.TrimRight(baseURL, "/"),
		name:     name,
		stepsIn:  stepsIn,
		stepsOut: stepsOut,
		width:    len(features),
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: DefaultBackoff,
		},
		circuit: cb,
	}
}

// WithBackoff overrides the retry policy.
func (m *RemoteModel) WithBackoff(b BackoffConfig) *RemoteModel {
	m.httpCfg.Backoff = b
	return m
}

func (m *RemoteModel) modelURL() string {
	return fmt.Sprintf("%s/v1/models/%s", m.baseURL, m.name)
}

// CheckAvailable asks the server for the model status. Any failure, or no
// version in state AVAILABLE, is a ModelLoadError.
func (m *RemoteModel) CheckAvailable(ctx context.Context) error {
	buildRequest := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, m.modelURL(), nil)
	}

	resp, err := doRequestWithResilience(ctx, m.httpCfg, m.circuit, buildRequest)
	if err != nil {
		return &airquality.ModelLoadError{Path: m.modelURL(), Err: err}
	}
	defer resp.Body.Close()

	var payload struct {
		ModelVersionStatus []struct {
			Version string `json:"version"`
			State   string `json:"state"`
		} `json:"model_version_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return &airquality.ModelLoadError{Path: m.modelURL(), Err: fmt.Errorf("decode model status: %w", err)}
	}
	for _, v := range payload.ModelVersionStatus {
		if v.State == "AVAILABLE" {
			return nil
		}
	}
	return &airquality.ModelLoadError{Path: m.modelURL(), Err: fmt.Errorf("no available version of model %q", m.name)}
}

// Predict sends one window and validates the returned shape.
func (m *RemoteModel) Predict(ctx context.Context, window airquality.InputWindow) ([][]float64, error) {
	if len(window) != m.stepsIn {
		return nil, &airquality.ConfigError{
			Field:   "window",
			Message: fmt.Sprintf("got %d rows, model expects %d", len(window), m.stepsIn),
		}
	}

	body, err := json.Marshal(map[string]any{"instances": []airquality.InputWindow{window}})
	if err != nil {
		return nil, err
	}

	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, m.modelURL()+":predict", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, m.httpCfg, m.circuit, buildRequest)
	if err != nil {
		return nil, fmt.Errorf("model server: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Predictions [][][]float64 `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}
	if len(payload.Predictions) != 1 {
		return nil, fmt.Errorf("model server returned %d predictions, want 1", len(payload.Predictions))
	}

	out := payload.Predictions[0]
	if len(out) != m.stepsOut {
		return nil, fmt.Errorf("model server returned %d steps, want %d", len(out), m.stepsOut)
	}
	for i, row := range out {
		if len(row) != m.width {
			return nil, fmt.Errorf("model server step %d has %d values, want %d", i, len(row), m.width)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("model server step %d contains a non-finite value", i)
			}
		}
	}
	return out, nil
}
