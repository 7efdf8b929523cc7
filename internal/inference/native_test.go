package inference

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/i474232898/airquality-forecast/internal/airquality"
)

var oneFeature = airquality.FeatureOrder{airquality.PM25}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// lstmArtifact is LSTM(1) -> RepeatVector(stepsOut) -> TimeDistributed(Dense(1)),
// so the output of every step is the final hidden state.
func lstmArtifact(t *testing.T, version, stepsOut int, lstmConfig map[string]any) []byte {
	t.Helper()
	cfg := map[string]any{"units": 1}
	for k, v := range lstmConfig {
		cfg[k] = v
	}
	a := map[string]any{
		"format_version": version,
		"name":           "test",
		"features":       []string{"PM2.5"},
		"layers": []map[string]any{
			{"class_name": "InputLayer", "config": map[string]any{"batch_input_shape": []any{nil, 2, 1}}},
			{
				"class_name": "LSTM",
				"name":       "lstm",
				"config":     cfg,
				"weights": map[string]any{
					"kernel":           [][]float64{{0.2, 0.4, 0.6, 0.8}},
					"recurrent_kernel": [][]float64{{0.1, -0.1, 0.3, 0.05}},
					"bias":             []float64{0.01, 1, 0, -0.02},
				},
			},
			{"class_name": "Dropout", "config": map[string]any{"rate": 0.2}},
			{"class_name": "RepeatVector", "config": map[string]any{"n": stepsOut}},
			{
				"class_name": "TimeDistributed",
				"config": map[string]any{
					"layer": map[string]any{"class_name": "Dense", "config": map[string]any{"units": 1, "activation": "linear"}},
				},
				"weights": map[string]any{
					"kernel": [][]float64{{1}},
					"bias":   []float64{0},
				},
			},
		},
	}
	data, err := json.Marshal(a)
	require.NoError(t, err)
	return data
}

func TestNativeLSTMMatchesHandComputed(t *testing.T) {
	m, err := NewNativeModel(lstmArtifact(t, CurrentFormatVersion, 1, nil), oneFeature, 2, 1, nil)
	require.NoError(t, err)

	out, err := m.Predict(context.Background(), airquality.InputWindow{{1}, {2}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0], 1)

	// Gate order i, f, c, o.
	h, c := 0.0, 0.0
	for _, x := range []float64{1, 2} {
		i := sigmoid(0.2*x + 0.1*h + 0.01)
		f := sigmoid(0.4*x - 0.1*h + 1)
		g := math.Tanh(0.6*x + 0.3*h)
		o := sigmoid(0.8*x + 0.05*h - 0.02)
		c = f*c + i*g
		h = o * math.Tanh(c)
	}
	assert.InDelta(t, h, out[0][0], 1e-12)
}

func TestNativeReturnSequences(t *testing.T) {
	a := Artifact{
		FormatVersion: CurrentFormatVersion,
		Layers: []LayerSpec{
			{
				ClassName: "LSTM",
				Config:    rawMap(t, map[string]any{"units": 2, "return_sequences": true}),
				Weights: rawMap(t, map[string]any{
					"kernel":           [][]float64{{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}},
					"recurrent_kernel": [][]float64{make([]float64, 8), make([]float64, 8)},
					"bias":             make([]float64, 8),
				}),
			},
			{
				ClassName: "Dense",
				Config:    rawMap(t, map[string]any{"units": 1}),
				Weights: rawMap(t, map[string]any{
					"kernel": [][]float64{{1}, {1}},
					"bias":   []float64{0.5},
				}),
			},
		},
	}
	data, err := json.Marshal(a)
	require.NoError(t, err)

	m, err := NewNativeModel(data, oneFeature, 3, 3, nil)
	require.NoError(t, err)

	out, err := m.Predict(context.Background(), airquality.InputWindow{{0}, {0}, {0}})
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, row := range out {
		assert.InDelta(t, 0.5, row[0], 1e-12)
	}
}

func rawMap(t *testing.T, m map[string]any) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		out[k] = data
	}
	return out
}

func TestNormalizeStripsObsoleteAttributes(t *testing.T) {
	var a Artifact
	require.NoError(t, json.Unmarshal(lstmArtifact(t, 1, 3, map[string]any{"time_major": false, "unroll": false}), &a))
	weightsBefore, err := json.Marshal(a.Layers[1].Weights)
	require.NoError(t, err)

	report, err := Normalize(&a)
	require.NoError(t, err)
	assert.True(t, report.Changed())
	assert.Equal(t, 1, report.FromVersion)
	assert.Equal(t, CurrentFormatVersion, a.FormatVersion)
	assert.Contains(t, report.StrippedAttributes, "lstm.time_major")
	assert.Contains(t, report.StrippedAttributes, "lstm.unroll")
	assert.Contains(t, report.StrippedAttributes, "InputLayer#0.batch_input_shape")
	assert.Equal(t, []string{"Dropout#2"}, report.RemovedLayers)

	require.Len(t, a.Layers, 4)
	lstm := a.Layers[1]
	assert.NotContains(t, lstm.Config, "time_major")
	assert.Contains(t, lstm.Config, "units")

	weightsAfter, err := json.Marshal(lstm.Weights)
	require.NoError(t, err)
	assert.JSONEq(t, string(weightsBefore), string(weightsAfter))
}

func TestNormalizeCurrentVersionUntouched(t *testing.T) {
	var a Artifact
	require.NoError(t, json.Unmarshal(lstmArtifact(t, CurrentFormatVersion, 3, nil), &a))

	report, err := Normalize(&a)
	require.NoError(t, err)
	assert.False(t, report.Changed())
	assert.Len(t, a.Layers, 5)
}

func TestNormalizeRejectsNewerVersion(t *testing.T) {
	a := Artifact{FormatVersion: CurrentFormatVersion + 1}
	_, err := Normalize(&a)
	assert.Error(t, err)
}

func TestLoadLegacyArtifactLogsNormalization(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, lstmArtifact(t, 0, 3, map[string]any{"time_major": false}), 0o644))

	core, logs := observer.New(zapcore.InfoLevel)
	m, err := LoadNative(path, oneFeature, 2, 3, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, "test", m.Name())

	entries := logs.FilterMessage("normalized model artifact").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(0), entries[0].ContextMap()["from_version"])

	out, err := m.Predict(context.Background(), airquality.InputWindow{{0.3}, {0.1}})
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestLoadNativeErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}

	tests := []struct {
		name     string
		path     string
		stepsOut int
	}{
		{"missing file", filepath.Join(dir, "missing.json"), 3},
		{"not json", write("garbage.json", []byte("not a model")), 3},
		{"wrong output steps", write("steps.json", lstmArtifact(t, CurrentFormatVersion, 2, nil)), 3},
		{"go backwards", write("backwards.json", lstmArtifact(t, CurrentFormatVersion, 3, map[string]any{"go_backwards": true})), 3},
		{"stateful", write("stateful.json", lstmArtifact(t, CurrentFormatVersion, 3, map[string]any{"stateful": true})), 3},
		{"unknown activation", write("act.json", lstmArtifact(t, CurrentFormatVersion, 3, map[string]any{"activation": "swish"})), 3},
		{"newer version", write("newer.json", lstmArtifact(t, CurrentFormatVersion+1, 3, nil)), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadNative(tt.path, oneFeature, 2, tt.stepsOut, nil)
			require.Error(t, err)
			assert.True(t, airquality.IsModelLoadError(err), "got %T: %v", err, err)
		})
	}
}

func TestLoadNativeFeatureMismatch(t *testing.T) {
	_, err := NewNativeModel(lstmArtifact(t, CurrentFormatVersion, 3, nil), airquality.FeatureOrder{airquality.PM10}, 2, 3, nil)
	require.Error(t, err)
	assert.True(t, airquality.IsModelLoadError(err))
}

func TestNativePredictRejectsBadWindow(t *testing.T) {
	m, err := NewNativeModel(lstmArtifact(t, CurrentFormatVersion, 3, nil), oneFeature, 2, 3, nil)
	require.NoError(t, err)

	_, err = m.Predict(context.Background(), airquality.InputWindow{{1}})
	assert.True(t, airquality.IsConfigError(err))

	_, err = m.Predict(context.Background(), airquality.InputWindow{{1}, {1, 2}})
	assert.True(t, airquality.IsConfigError(err))
}

func withKerasVersion(t *testing.T, data []byte, version string) []byte {
	t.Helper()
	var a map[string]any
	require.NoError(t, json.Unmarshal(data, &a))
	a["keras_version"] = version
	out, err := json.Marshal(a)
	require.NoError(t, err)
	return out
}

func TestResolveActivationsKeras3(t *testing.T) {
	data := lstmArtifact(t, CurrentFormatVersion, 1, map[string]any{"recurrent_activation": "hard_sigmoid"})
	var a Artifact
	require.NoError(t, json.Unmarshal(withKerasVersion(t, data, "3.4.1"), &a))
	a.Layers[4].Config["layer"] = json.RawMessage(`{"class_name":"Dense","config":{"units":1,"activation":"hard_sigmoid"}}`)

	require.NoError(t, resolveActivations(&a))
	assert.JSONEq(t, `"`+hardSigmoidKeras3+`"`, string(a.Layers[1].Config["recurrent_activation"]))

	var wrapped struct {
		Config struct {
			Activation string `json:"activation"`
			Units      int    `json:"units"`
		} `json:"config"`
	}
	require.NoError(t, json.Unmarshal(a.Layers[4].Config["layer"], &wrapped))
	assert.Equal(t, hardSigmoidKeras3, wrapped.Config.Activation)
	assert.Equal(t, 1, wrapped.Config.Units)
}

func TestResolveActivationsKeras2Untouched(t *testing.T) {
	data := lstmArtifact(t, CurrentFormatVersion, 1, map[string]any{"recurrent_activation": "hard_sigmoid"})
	for _, version := range []string{"", "2.15.0"} {
		var a Artifact
		require.NoError(t, json.Unmarshal(withKerasVersion(t, data, version), &a))
		require.NoError(t, resolveActivations(&a))
		assert.JSONEq(t, `"hard_sigmoid"`, string(a.Layers[1].Config["recurrent_activation"]), version)
	}

	a := Artifact{KerasVersion: "three"}
	assert.Error(t, resolveActivations(&a))
}

func TestHardSigmoidFollowsKerasVersion(t *testing.T) {
	data := lstmArtifact(t, CurrentFormatVersion, 1, map[string]any{"recurrent_activation": "hard_sigmoid"})
	window := airquality.InputWindow{{0.5}, {1.5}}

	keras2, err := NewNativeModel(data, oneFeature, 2, 1, nil)
	require.NoError(t, err)
	keras3, err := NewNativeModel(withKerasVersion(t, data, "3.1.0"), oneFeature, 2, 1, nil)
	require.NoError(t, err)

	out2, err := keras2.Predict(context.Background(), window)
	require.NoError(t, err)
	out3, err := keras3.Predict(context.Background(), window)
	require.NoError(t, err)
	assert.NotEqual(t, out2[0][0], out3[0][0])
}
