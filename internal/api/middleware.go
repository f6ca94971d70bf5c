package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of http request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)
)

// InternalAuthMiddleware guards the scheduling endpoints. Only trusted
// internal callers (the admin gateway, batch jobs) hold the shared secret.
func InternalAuthMiddleware(expectedSecret string) fiber.Handler {
	if expectedSecret == "" {
		panic("internal shared secret is not configured")
	}

	return func(c *fiber.Ctx) error {
		secret := c.Get("X-Internal-Secret")

		if secret != expectedSecret {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Internal access denied!"})
		}

		return c.Next()
	}
}

func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start).Seconds()
		statusCode := c.Response().StatusCode()

		if err != nil {
			var e *fiber.Error

			if errors.As(err, &e) {
				statusCode = e.Code
			} else {
				statusCode = fiber.StatusInternalServerError
			}
		}

		method := c.Method()
		path := c.Path()
		statusStr := fmt.Sprintf("%d", statusCode)

		httpRequestTotal.WithLabelValues(method, path, statusStr).Inc()
		httpRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration)

		return err
	}
}
