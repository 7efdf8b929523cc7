package airquality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// makeSeries builds n hourly observations. Row i has PM2.5 = 10*i and the
// other pollutants offset from it so columns are distinguishable.
func makeSeries(n int) []Observation {
	series := make([]Observation, n)
	for i := range series {
		v := float64(i)
		series[i] = Observation{
			Time: baseTime.Add(time.Duration(i) * time.Hour),
			Concentrations: map[Pollutant]float64{
				PM10: 100 + v,
				PM25: 10 * v,
				CO:   0.5 + v/100,
				SO2:  20 + v,
				NO2:  30 + v,
				O3:   40 + v,
			},
		}
	}
	return series
}

func identityScaler(t *testing.T, n int) *Scaler {
	t.Helper()
	p := ScalerParams{Min: make([]float64, n), Scale: make([]float64, n)}
	for i := range p.Scale {
		p.Scale[i] = 1
	}
	s, err := NewScaler(p)
	require.NoError(t, err)
	return s
}

// tailModel echoes the last n rows of the window.
func tailModel(n int) ModelFunc {
	return func(_ context.Context, window InputWindow) ([][]float64, error) {
		return window[len(window)-n:], nil
	}
}

func TestBuildWindowInsufficientHistory(t *testing.T) {
	s := identityScaler(t, 6)
	for n := 0; n < 6; n++ {
		w, ok, err := BuildWindow(makeSeries(n), DefaultFeatures, s, 6)
		require.NoError(t, err)
		assert.False(t, ok, "n=%d", n)
		assert.Nil(t, w)
	}
}

func TestBuildWindowUsesLastRows(t *testing.T) {
	s, err := NewScaler(testScalerParams())
	require.NoError(t, err)

	series := makeSeries(10)
	w, ok, err := BuildWindow(series, DefaultFeatures, s, 6)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, w, 6)
	for _, row := range w {
		assert.Len(t, row, 6)
	}

	// First window row is series[4], scaled.
	assert.InDelta(t, 40*0.02-0.05, w[0][1], 1e-12)
	assert.InDelta(t, 90*0.02-0.05, w[5][1], 1e-12)

	// Earlier rows do not influence the window.
	changed := makeSeries(10)
	changed[0].Concentrations[PM25] = 999
	changed[3].Concentrations[PM10] = -1
	changed[0], changed[2] = changed[2], changed[0]
	w2, ok, err := BuildWindow(changed, DefaultFeatures, s, 6)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, w, w2)
}

func TestBuildWindowMissingFeature(t *testing.T) {
	series := makeSeries(6)
	delete(series[5].Concentrations, O3)

	_, _, err := BuildWindow(series, DefaultFeatures, identityScaler(t, 6), 6)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestBuildWindowScalerWidthMismatch(t *testing.T) {
	_, _, err := BuildWindow(makeSeries(6), DefaultFeatures, identityScaler(t, 4), 6)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestPostprocess(t *testing.T) {
	s, err := NewScaler(testScalerParams())
	require.NoError(t, err)

	raw := [][]float64{
		{0, 8, 0, 0, 0, 0},
		{0, 40, 0, 0, 0, 0},
		{0, 230, 0, 0, 0, 0},
	}
	scaled, err := s.Transform(raw)
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 22, 30, 0, 0, time.UTC)
	steps, err := Postprocess(scaled, s, 1, start, time.UTC)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, "23:30", steps[0].TimeLabel)
	assert.Equal(t, "00:30", steps[1].TimeLabel)
	assert.Equal(t, "01:30", steps[2].TimeLabel)
	assert.Equal(t, start.Add(3*time.Hour), steps[2].Time)

	assert.InDelta(t, 8, steps[0].Value, 1e-9)
	assert.Equal(t, "Good", steps[0].Category.Label)
	assert.Equal(t, "Unhealthy for Sensitive Groups", steps[1].Category.Label)
	assert.Equal(t, "Hazardous", steps[2].Category.Label)
}

func TestPostprocessLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	steps, err := Postprocess([][]float64{{0, 5, 0, 0, 0, 0}}, identityScaler(t, 6), 1, start, jakarta)
	require.NoError(t, err)
	assert.Equal(t, "18:00", steps[0].TimeLabel)
}

func TestPostprocessTargetOutOfRange(t *testing.T) {
	_, err := Postprocess([][]float64{{1, 2}}, identityScaler(t, 2), 2, baseTime, nil)
	assert.True(t, IsConfigError(err))
}

func newTestForecaster(t *testing.T, model Model) *Forecaster {
	t.Helper()
	f, err := NewForecaster(ForecasterConfig{
		Model:    model,
		Scaler:   identityScaler(t, 6),
		Features: DefaultFeatures,
		Target:   PM25,
		Location: time.UTC,
		Clock: func() time.Time {
			return time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
		},
	})
	require.NoError(t, err)
	return f
}

func TestForecasterEndToEnd(t *testing.T) {
	f := newTestForecaster(t, tailModel(3))

	fc, err := f.Forecast(context.Background(), makeSeries(8))
	require.NoError(t, err)
	require.True(t, fc.Available)
	assert.NotEmpty(t, fc.ID)
	assert.Equal(t, PM25, fc.Target)
	require.Len(t, fc.Steps, 3)

	want := []struct {
		label    string
		value    float64
		category string
	}{
		{"11:00", 50, "Unhealthy for Sensitive Groups"},
		{"12:00", 60, "Unhealthy"},
		{"13:00", 70, "Unhealthy"},
	}
	for i, w := range want {
		assert.Equal(t, w.label, fc.Steps[i].TimeLabel)
		assert.InDelta(t, w.value, fc.Steps[i].Value, 1e-9)
		assert.Equal(t, w.category, fc.Steps[i].Category.Label)
	}
}

func TestForecasterSixRowSeries(t *testing.T) {
	f := newTestForecaster(t, tailModel(3))
	series := makeSeries(6)

	fc, err := f.Forecast(context.Background(), series)
	require.NoError(t, err)
	require.Len(t, fc.Steps, 3)
	for i, step := range fc.Steps {
		want := series[3+i].Concentrations[PM25]
		assert.InDelta(t, want, step.Value, 1e-9)
		cat, err := Categorize(want)
		require.NoError(t, err)
		assert.Equal(t, cat, step.Category)
	}
	assert.Equal(t, time.Hour, fc.Steps[1].Time.Sub(fc.Steps[0].Time))
	assert.Equal(t, time.Hour, fc.Steps[2].Time.Sub(fc.Steps[1].Time))
}

func TestForecasterInsufficientHistorySkipsModel(t *testing.T) {
	called := false
	model := ModelFunc(func(context.Context, InputWindow) ([][]float64, error) {
		called = true
		return nil, nil
	})
	f := newTestForecaster(t, model)

	fc, err := f.Forecast(context.Background(), makeSeries(5))
	require.NoError(t, err)
	assert.False(t, fc.Available)
	assert.Equal(t, ReasonInsufficientHistory, fc.Reason)
	assert.Empty(t, fc.Steps)
	assert.False(t, called)
}

func TestForecasterModelError(t *testing.T) {
	boom := errors.New("boom")
	f := newTestForecaster(t, ModelFunc(func(context.Context, InputWindow) ([][]float64, error) {
		return nil, boom
	}))

	_, err := f.Forecast(context.Background(), makeSeries(6))
	assert.ErrorIs(t, err, boom)
}

func TestForecasterWrongOutputShape(t *testing.T) {
	f := newTestForecaster(t, tailModel(2))

	_, err := f.Forecast(context.Background(), makeSeries(6))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestForecasterStatusUsesLastRow(t *testing.T) {
	f := newTestForecaster(t, tailModel(3))

	st, err := f.Status(makeSeries(4))
	require.NoError(t, err)
	assert.Equal(t, 30.0, st.Value)
	assert.Equal(t, "Moderate", st.Category.Label)
	assert.Equal(t, baseTime.Add(3*time.Hour), st.Time)

	_, err = f.Status(nil)
	assert.ErrorIs(t, err, ErrNoObservations)
}

func TestNewForecasterValidation(t *testing.T) {
	model := tailModel(3)
	tests := []struct {
		name string
		cfg  ForecasterConfig
	}{
		{"no model", ForecasterConfig{Scaler: identityScaler(t, 6), Features: DefaultFeatures, Target: PM25}},
		{"no scaler", ForecasterConfig{Model: model, Features: DefaultFeatures, Target: PM25}},
		{"no features", ForecasterConfig{Model: model, Scaler: identityScaler(t, 6), Target: PM25}},
		{"duplicate feature", ForecasterConfig{Model: model, Scaler: identityScaler(t, 2), Features: FeatureOrder{PM25, PM25}, Target: PM25}},
		{"scaler width", ForecasterConfig{Model: model, Scaler: identityScaler(t, 5), Features: DefaultFeatures, Target: PM25}},
		{"target not a feature", ForecasterConfig{Model: model, Scaler: identityScaler(t, 2), Features: FeatureOrder{PM10, CO}, Target: PM25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewForecaster(tt.cfg)
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
		})
	}
}

func TestNewForecasterDefaults(t *testing.T) {
	f, err := NewForecaster(ForecasterConfig{
		Model:    tailModel(3),
		Scaler:   identityScaler(t, 6),
		Features: DefaultFeatures,
		Target:   PM25,
	})
	require.NoError(t, err)
	assert.Equal(t, 6, f.StepsIn())
	assert.Equal(t, 3, f.StepsOut())
	assert.Equal(t, time.UTC, f.Location())
	assert.Equal(t, 1, f.TargetIndex())
	assert.Equal(t, identityScaler(t, 6).Params(), f.Scaler().Params())
}
