package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/airquality-forecast/internal/airquality"
)

const sampleCSV = `datetime,PM10,PM2.5,CO,SO2,NO2,O3,station
2024-03-01 02:00:00,40,12.5,0.6,5,18,30,DIY
2024-03-01 00:00:00,38,10,0.5,4,17,29,DIY
2024-03-01 01:00:00,39,,0.55,4,17,29,DIY
2024-03-01 03:00:00,41,13,0.7,6,19,NaN,DIY
2024-03-01 04:00:00,42,14,0.8,6,20,32,DIY
`

func TestParseCSVSortsAndSkipsIncompleteRows(t *testing.T) {
	series, err := ParseCSV(context.Background(), strings.NewReader(sampleCSV), airquality.DefaultFeatures, time.UTC)
	require.NoError(t, err)
	require.Len(t, series, 3)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), series[0].Time)
	assert.Equal(t, time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC), series[1].Time)
	assert.Equal(t, time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC), series[2].Time)
	assert.Equal(t, 12.5, series[1].Concentrations[airquality.PM25])
	assert.Equal(t, 32.0, series[2].Concentrations[airquality.O3])
}

func TestParseCSVHeaderVariants(t *testing.T) {
	data := "Timestamp,pm10,pm25,co,so2,no2,o3\n2024-03-01T05:00:00+07:00,1,2,3,4,5,6\n"
	series, err := ParseCSV(context.Background(), strings.NewReader(data), airquality.DefaultFeatures, time.UTC)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.True(t, series[0].Time.Equal(time.Date(2024, 2, 29, 22, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2.0, series[0].Concentrations[airquality.PM25])
}

func TestParseCSVLocation(t *testing.T) {
	wib := time.FixedZone("WIB", 7*3600)
	data := "datetime,PM2.5\n2024-03-01 10:00,20\n"
	series, err := ParseCSV(context.Background(), strings.NewReader(data), airquality.FeatureOrder{airquality.PM25}, wib)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC), series[0].Time.UTC())
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		wantConfig bool
	}{
		{"empty", "", true},
		{"no time column", "PM10,PM2.5\n1,2\n", true},
		{"missing feature column", "datetime,PM10,PM2.5,CO,SO2,NO2\n2024-03-01,1,2,3,4,5\n", true},
		{"bad number", "datetime,PM10,PM2.5,CO,SO2,NO2,O3\n2024-03-01,1,x,3,4,5,6\n", false},
		{"bad time", "datetime,PM10,PM2.5,CO,SO2,NO2,O3\nyesterday,1,2,3,4,5,6\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(context.Background(), strings.NewReader(tt.data), airquality.DefaultFeatures, time.UTC)
			require.Error(t, err)
			assert.Equal(t, tt.wantConfig, airquality.IsConfigError(err), err.Error())
		})
	}
}

func TestCSVSourceLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	src := NewCSVSource(path, airquality.DefaultFeatures, nil)
	assert.Equal(t, "csv:"+path, src.Name())

	series, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, series, 3)

	_, err = NewCSVSource(filepath.Join(t.TempDir(), "missing.csv"), airquality.DefaultFeatures, nil).Load(context.Background())
	assert.Error(t, err)
}

func TestCSVSourceLoadCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCSVSource(path, airquality.DefaultFeatures, nil).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestObservationRowConversion(t *testing.T) {
	ts := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	row := observationRow{
		ObservedAt: ts,
		PM10:       sql.NullFloat64{Float64: 40, Valid: true},
		PM25:       sql.NullFloat64{Float64: 12, Valid: true},
		CO:         sql.NullFloat64{Float64: 0.5, Valid: true},
		SO2:        sql.NullFloat64{Float64: 4, Valid: true},
		NO2:        sql.NullFloat64{Float64: 17, Valid: true},
		O3:         sql.NullFloat64{},
	}

	_, ok := row.toObservation(airquality.DefaultFeatures)
	assert.False(t, ok, "O3 is NULL")

	obs, ok := row.toObservation(airquality.FeatureOrder{airquality.PM10, airquality.PM25})
	require.True(t, ok)
	assert.Equal(t, ts, obs.Time)
	assert.Equal(t, 12.0, obs.Concentrations[airquality.PM25])
	assert.NotContains(t, obs.Concentrations, airquality.O3)
}
