// Package history provides read-only sources of the observation table.
package history

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/airquality-forecast/internal/airquality"
	"github.com/i474232898/airquality-forecast/internal/common"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// CSVSource reads observations from a CSV file with a header row containing
// a datetime column and one column per feature.
type CSVSource struct {
	path     string
	features airquality.FeatureOrder
	loc      *time.Location
}

// NewCSVSource creates a source for path. Timestamps without a zone are
// interpreted in loc (UTC when nil).
func NewCSVSource(path string, features airquality.FeatureOrder, loc *time.Location) *CSVSource {
	if loc == nil {
		loc = time.UTC
	}
	return &CSVSource{path: path, features: features, loc: loc}
}

// Name returns the source name.
func (s *CSVSource) Name() string {
	return "csv:" + s.path
}

// Load reads the whole file. Rows with an empty or NaN cell in any feature
// column are skipped. The result is sorted ascending by time.
func (s *CSVSource) Load(ctx context.Context) ([]airquality.Observation, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	return ParseCSV(ctx, f, s.features, s.loc)
}

// ParseCSV decodes observations from r.
func ParseCSV(ctx context.Context, r io.Reader, features airquality.FeatureOrder, loc *time.Location) ([]airquality.Observation, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &airquality.ConfigError{Field: "history", Message: "empty file"}
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	timeCol := -1
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := common.ColumnKey(h)
		cols[key] = i
		if timeCol < 0 && (key == "date" || key == "time" || common.HasAny(key, "datetime", "timestamp")) {
			timeCol = i
		}
	}
	if timeCol < 0 {
		return nil, &airquality.ConfigError{Field: "history", Message: "no datetime column in header"}
	}

	featureCols := make([]int, len(features))
	for j, p := range features {
		idx, ok := cols[common.ColumnKey(string(p))]
		if !ok {
			return nil, &airquality.ConfigError{Field: string(p), Message: "column missing from history header"}
		}
		featureCols[j] = idx
	}

	var series []airquality.Observation
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) <= timeCol {
			continue
		}

		ts, err := parseTime(record[timeCol], loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		obs := airquality.Observation{
			Time:           ts,
			Concentrations: make(map[airquality.Pollutant]float64, len(features)),
		}
		complete := true
		for j, p := range features {
			col := featureCols[j]
			if col >= len(record) {
				complete = false
				break
			}
			cell := strings.TrimSpace(record[col])
			if cell == "" {
				complete = false
				break
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, p, err)
			}
			if math.IsNaN(v) {
				complete = false
				break
			}
			obs.Concentrations[p] = v
		}
		if complete {
			series = append(series, obs)
		}
	}

	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Time.Before(series[j].Time)
	})
	return series, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", s)
}
