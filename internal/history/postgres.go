package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/i474232898/airquality-forecast/internal/airquality"
)

const (
	allObservationsQuery = `
	SELECT observed_at, pm10, pm25, co, so2, no2, o3
	FROM air_quality_observations
	WHERE city = $1
	ORDER BY observed_at DESC
`
	recentObservationsQuery = allObservationsQuery + "LIMIT $2\n"
)

// observationRow maps one row of air_quality_observations.
type observationRow struct {
	ObservedAt time.Time       `db:"observed_at"`
	PM10       sql.NullFloat64 `db:"pm10"`
	PM25       sql.NullFloat64 `db:"pm25"`
	CO         sql.NullFloat64 `db:"co"`
	SO2        sql.NullFloat64 `db:"so2"`
	NO2        sql.NullFloat64 `db:"no2"`
	O3         sql.NullFloat64 `db:"o3"`
}

// toObservation converts the row, dropping NULL columns. ok is false when a
// feature the model needs is NULL.
func (r observationRow) toObservation(features airquality.FeatureOrder) (airquality.Observation, bool) {
	values := map[airquality.Pollutant]sql.NullFloat64{
		airquality.PM10: r.PM10,
		airquality.PM25: r.PM25,
		airquality.CO:   r.CO,
		airquality.SO2:  r.SO2,
		airquality.NO2:  r.NO2,
		airquality.O3:   r.O3,
	}

	obs := airquality.Observation{
		Time:           r.ObservedAt,
		Concentrations: make(map[airquality.Pollutant]float64, len(values)),
	}
	for p, v := range values {
		if v.Valid {
			obs.Concentrations[p] = v.Float64
		}
	}
	for _, p := range features {
		if _, ok := obs.Concentrations[p]; !ok {
			return airquality.Observation{}, false
		}
	}
	return obs, true
}

// PostgresSource reads the most recent observations of one city from
// PostgreSQL. It never writes.
type PostgresSource struct {
	db       *sqlx.DB
	city     string
	limit    int
	features airquality.FeatureOrder
}

// NewPostgresSource connects to url and verifies the connection.
// limit <= 0 reads every row of the city.
func NewPostgresSource(ctx context.Context, url, city string, limit int, features airquality.FeatureOrder) (*PostgresSource, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresSourceFromDB(db, city, limit, features), nil
}

// NewPostgresSourceFromDB wraps an existing connection pool.
func NewPostgresSourceFromDB(db *sqlx.DB, city string, limit int, features airquality.FeatureOrder) *PostgresSource {
	if limit < 0 {
		limit = 0
	}
	return &PostgresSource{db: db, city: city, limit: limit, features: features}
}

// Name returns the source name.
func (s *PostgresSource) Name() string {
	return "postgres:" + s.city
}

// Load returns the most recent rows in ascending time order. Rows missing a
// model feature are skipped.
func (s *PostgresSource) Load(ctx context.Context) ([]airquality.Observation, error) {
	query, args := s.query()

	var rows []observationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	return ascending(rows, s.features), nil
}

func (s *PostgresSource) query() (string, []any) {
	if s.limit == 0 {
		return allObservationsQuery, []any{s.city}
	}
	return recentObservationsQuery, []any{s.city, s.limit}
}

// ascending converts newest-first rows into an oldest-first series, dropping
// rows that miss a feature.
func ascending(rows []observationRow, features airquality.FeatureOrder) []airquality.Observation {
	series := make([]airquality.Observation, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		if obs, ok := rows[i].toObservation(features); ok {
			series = append(series, obs)
		}
	}
	return series
}

// Close releases the connection pool.
func (s *PostgresSource) Close() error {
	return s.db.Close()
}
