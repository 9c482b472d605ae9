package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/breez/quiz-sync/logger"
	"github.com/breez/quiz-sync/metrics"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type contextKey string

const (
	REQUEST_ID_CONTEXT_KEY contextKey = "request_id"
	REQUEST_ID_HEADER                 = "X-Request-Id"
)

// RequestID tags every request with an id, reusing the caller's
// X-Request-Id when present, and echoes it back in the response.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(REQUEST_ID_HEADER)
			if id == "" {
				id = uuid.New().String()
			}
			ctx := context.WithValue(c.Request().Context(), REQUEST_ID_CONTEXT_KEY, id)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Response().Header().Set(REQUEST_ID_HEADER, id)
			return next(c)
		}
	}
}

// RequestIDFrom returns the id RequestID stored in ctx, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(REQUEST_ID_CONTEXT_KEY).(string)
	return id
}

// RequestLogger logs one line per request. Server errors are logged at
// error level, everything else at debug.
func RequestLogger(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", RequestIDFrom(c.Request().Context())),
			}
			if status >= 500 {
				log.Error("request failed", err, fields...)
			} else {
				log.Debug("request handled", fields...)
			}
			return nil
		}
	}
}

// Metrics counts requests by route template and status and observes their
// latency.
func Metrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(c.Response().Status)).Inc()
			m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
