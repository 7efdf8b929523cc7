package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/i474232898/airquality-forecast/internal/airquality"
	"github.com/i474232898/airquality-forecast/internal/metrics"
	"github.com/i474232898/airquality-forecast/internal/store"
)

var validate = validator.New()

// DefaultChartPoints is the number of history points in a chart when the
// request does not say.
const DefaultChartPoints = 24

// RegisterRoutes wires the HTTP handlers into the Fiber app. collector may
// be nil, in which case /metrics is not served.
func RegisterRoutes(app *fiber.App, service *airquality.Service, collector *metrics.Collector) {
	if collector != nil {
		app.Get("/metrics", adaptor.HTTPHandler(collector.Handler()))
	}

	v1 := app.Group("/api/v1", metricsMiddleware(collector))

	v1.Get("/status", func(c *fiber.Ctx) error {
		status, err := service.Status()
		if err != nil {
			return pipelineError(err, "failed to read current status")
		}
		return c.JSON(status)
	})

	v1.Get("/forecast", func(c *fiber.Ctx) error {
		fc, err := service.Forecast(c.UserContext())
		if err != nil {
			return pipelineError(err, "failed to generate forecast")
		}
		return c.JSON(fc)
	})

	v1.Get("/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		observations, err := service.History(req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no observations for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch history")
		}

		return c.JSON(fiber.Map{
			"city":         service.City(),
			"from":         req.From,
			"to":           req.To,
			"observations": observations,
		})
	})

	v1.Get("/chart", func(c *fiber.Ctx) error {
		req := chartQuery{Points: c.QueryInt("points", DefaultChartPoints)}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		chart, err := service.Chart(c.UserContext(), req.Points)
		if err != nil {
			return pipelineError(err, "failed to build chart")
		}
		return c.JSON(chart)
	})

	v1.Get("/map", func(c *fiber.Ctx) error {
		marker, err := service.Marker()
		if err != nil {
			return pipelineError(err, "failed to build map marker")
		}
		return c.JSON(marker)
	})

	v1.Get("/categories", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"pollutant": service.Forecaster().Target(),
			"bands":     airquality.Bands(),
		})
	})
}

// pipelineError maps pipeline errors to HTTP errors.
func pipelineError(err error, fallback string) error {
	switch {
	case errors.Is(err, airquality.ErrNoObservations), errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "no observations loaded")
	case airquality.IsConfigError(err):
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, fallback)
	}
}

func metricsMiddleware(collector *metrics.Collector) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		collector.RecordAPIRequest(c.Route().Path, c.Method(), strconv.Itoa(status), time.Since(start))
		return err
	}
}

type chartQuery struct {
	Points int `validate:"gte=1,lte=720"`
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
