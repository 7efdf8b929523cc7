// Package geo resolves the coordinates of the monitored city for the map
// marker.
package geo

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"
	"go.uber.org/zap"

	"github.com/i474232898/airquality-forecast/internal/airquality"
)

// Default city, used when nothing else is configured.
const (
	DefaultCity    = "Yogyakarta"
	DefaultCountry = "Indonesia"
	DefaultLat     = -7.7956
	DefaultLon     = 110.3695
)

// Lookup geocodes a city name.
type Lookup func(ctx context.Context, city, country string) (lat, lon float64, err error)

var errNoResult = errors.New("geocoder returned no coordinates")

// geocoder keeps its API key in a package variable.
var geocoderMu sync.Mutex

// GoogleLookup geocodes through the Google Maps geocoding API.
func GoogleLookup(apiKey string) Lookup {
	return func(ctx context.Context, city, country string) (float64, float64, error) {
		type result struct {
			loc geocoder.Location
			err error
		}
		done := make(chan result, 1)
		go func() {
			geocoderMu.Lock()
			defer geocoderMu.Unlock()
			geocoder.ApiKey = apiKey
			loc, err := geocoder.Geocoding(geocoder.Address{City: city, Country: country})
			done <- result{loc: loc, err: err}
		}()

		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case r := <-done:
			if r.err != nil {
				return 0, 0, r.err
			}
			if r.loc.Latitude == 0 && r.loc.Longitude == 0 {
				return 0, 0, errNoResult
			}
			return r.loc.Latitude, r.loc.Longitude, nil
		}
	}
}

// Options describe how the city was configured.
type Options struct {
	Name    string
	Country string
	Lat     *float64
	Lon     *float64
	// Lookup is consulted when coordinates are not given. May be nil.
	Lookup Lookup
}

// ResolveCity returns the city with coordinates. Explicit coordinates win,
// then the lookup, then the default coordinates. A failed lookup is logged,
// not returned, because the marker is the only consumer.
func ResolveCity(ctx context.Context, opts Options, logger *zap.Logger) airquality.City {
	if logger == nil {
		logger = zap.NewNop()
	}

	city := airquality.City{
		Name:    strings.TrimSpace(opts.Name),
		Country: strings.TrimSpace(opts.Country),
		Lat:     DefaultLat,
		Lon:     DefaultLon,
	}
	if city.Name == "" {
		city.Name = DefaultCity
	}
	if city.Country == "" {
		city.Country = DefaultCountry
	}

	if opts.Lat != nil && opts.Lon != nil {
		city.Lat, city.Lon = *opts.Lat, *opts.Lon
		return city
	}

	if opts.Lookup == nil {
		if !strings.EqualFold(city.Name, DefaultCity) {
			logger.Warn("no coordinates or geocoder key for city, using default coordinates",
				zap.String("city", city.Name))
		}
		return city
	}

	lat, lon, err := opts.Lookup(ctx, city.Name, city.Country)
	if err != nil {
		logger.Warn("geocoding failed, using default coordinates",
			zap.String("city", city.Name),
			zap.String("country", city.Country),
			zap.Error(err),
		)
		return city
	}
	city.Lat, city.Lon = lat, lon
	logger.Info("geocoded city",
		zap.String("city", city.Name),
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
	)
	return city
}
