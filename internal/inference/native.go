package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/i474232898/airquality-forecast/internal/airquality"
	"github.com/i474232898/airquality-forecast/internal/common"
)

// NativeModel evaluates an exported artifact in process. It is immutable
// after loading and safe for concurrent use.
type NativeModel struct {
	name     string
	layers   []layer
	stepsIn  int
	stepsOut int
	width    int
}

// LoadNative reads, normalizes and compiles the artifact at path. The model
// must accept (stepsIn, len(features)) windows and produce
// (stepsOut, len(features)) outputs; anything else is a ModelLoadError.
func LoadNative(path string, features airquality.FeatureOrder, stepsIn, stepsOut int, logger *zap.Logger) (*NativeModel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &airquality.ModelLoadError{Path: path, Err: err}
	}
	m, err := buildNative(data, features, stepsIn, stepsOut, logger.With(zap.String("path", path)))
	if err != nil {
		return nil, &airquality.ModelLoadError{Path: path, Err: err}
	}
	return m, nil
}

// NewNativeModel is LoadNative for an artifact already in memory.
func NewNativeModel(data []byte, features airquality.FeatureOrder, stepsIn, stepsOut int, logger *zap.Logger) (*NativeModel, error) {
	m, err := buildNative(data, features, stepsIn, stepsOut, logger)
	if err != nil {
		return nil, &airquality.ModelLoadError{Path: "<memory>", Err: err}
	}
	return m, nil
}

func buildNative(data []byte, features airquality.FeatureOrder, stepsIn, stepsOut int, logger *zap.Logger) (*NativeModel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(features) == 0 || stepsIn <= 0 || stepsOut <= 0 {
		return nil, fmt.Errorf("invalid expected shape: %d steps in, %d steps out, %d features", stepsIn, stepsOut, len(features))
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}

	report, err := Normalize(&a)
	if err != nil {
		return nil, err
	}
	if report.Changed() {
		logger.Info("normalized model artifact",
			zap.Int("from_version", report.FromVersion),
			zap.Int("to_version", CurrentFormatVersion),
			zap.Strings("stripped_attributes", report.StrippedAttributes),
			zap.Strings("removed_layers", report.RemovedLayers),
		)
	}

	if err := resolveActivations(&a); err != nil {
		return nil, err
	}

	if err := checkDeclared(a, features, stepsIn, stepsOut); err != nil {
		return nil, err
	}
	if len(a.Layers) == 0 {
		return nil, fmt.Errorf("artifact has no layers")
	}

	in := shape{steps: stepsIn, width: len(features)}
	cur := in
	layers := make([]layer, 0, len(a.Layers))
	for i, spec := range a.Layers {
		l, next, err := compileLayer(spec, cur)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", layerLabel(i, spec), err)
		}
		layers = append(layers, l)
		cur = next
	}

	want := shape{steps: stepsOut, width: len(features)}
	if cur != want {
		return nil, fmt.Errorf("model output shape %s does not match expected %s", cur, want)
	}

	m := &NativeModel{
		name:     a.Name,
		layers:   layers,
		stepsIn:  stepsIn,
		stepsOut: stepsOut,
		width:    len(features),
	}

	// Dry run on a zero window.
	zero := make(airquality.InputWindow, stepsIn)
	for i := range zero {
		zero[i] = make([]float64, len(features))
	}
	out := m.run(zero)
	if len(out) != stepsOut {
		return nil, fmt.Errorf("dry run produced %d rows, want %d", len(out), stepsOut)
	}
	for _, row := range out {
		if len(row) != len(features) {
			return nil, fmt.Errorf("dry run produced rows of width %d, want %d", len(row), len(features))
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("dry run produced a non-finite value")
			}
		}
	}

	logger.Debug("compiled native model",
		zap.String("name", a.Name),
		zap.Int("layers", len(layers)),
		zap.Stringer("input", in),
		zap.Stringer("output", want),
	)
	return m, nil
}

// checkDeclared compares the metadata an artifact may carry with what the
// pipeline expects.
func checkDeclared(a Artifact, features airquality.FeatureOrder, stepsIn, stepsOut int) error {
	if a.StepsIn != 0 && a.StepsIn != stepsIn {
		return fmt.Errorf("artifact expects %d input steps, configured %d", a.StepsIn, stepsIn)
	}
	if a.StepsOut != 0 && a.StepsOut != stepsOut {
		return fmt.Errorf("artifact produces %d output steps, configured %d", a.StepsOut, stepsOut)
	}
	if len(a.Features) == 0 {
		return nil
	}
	if len(a.Features) != len(features) {
		return fmt.Errorf("artifact was trained on %d features, configured %d", len(a.Features), len(features))
	}
	for i, name := range a.Features {
		if common.ColumnKey(name) != common.ColumnKey(string(features[i])) {
			return fmt.Errorf("artifact feature %d is %q, configured %q", i, name, features[i])
		}
	}
	return nil
}

// Name returns the model name recorded in the artifact.
func (m *NativeModel) Name() string {
	return m.name
}

// Predict runs the model on one scaled window.
func (m *NativeModel) Predict(ctx context.Context, window airquality.InputWindow) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(window) != m.stepsIn {
		return nil, &airquality.ConfigError{
			Field:   "window",
			Message: fmt.Sprintf("got %d rows, model expects %d", len(window), m.stepsIn),
		}
	}
	for i, row := range window {
		if len(row) != m.width {
			return nil, &airquality.ConfigError{
				Field:   "window",
				Message: fmt.Sprintf("row %d has %d values, model expects %d", i, len(row), m.width),
			}
		}
	}
	return m.run(window), nil
}

func (m *NativeModel) run(window airquality.InputWindow) [][]float64 {
	x := tensor{rows: make([][]float64, len(window)), seq: true}
	for i, row := range window {
		x.rows[i] = append([]float64(nil), row...)
	}
	for _, l := range m.layers {
		x = l.forward(x)
	}
	return x.rows
}
