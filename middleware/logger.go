package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/bridge-hds/log"
)

// RequestLogger logs one line per request with method, path, status and
// latency. Server errors log at error level.
func RequestLogger(logger log.Logger) echo.MiddlewareFunc {
	logger = logger.Named("http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let the error handler pick the status before logging
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			fields := log.Fields{
				"method":     req.Method,
				"path":       req.URL.Path,
				"status":     status,
				"latency_ms": time.Since(start).Milliseconds(),
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}
			switch {
			case status >= 500:
				logger.Error(req.Context(), "request failed", err, fields)
			case status >= 400:
				logger.Warn(req.Context(), "request rejected", fields)
			default:
				logger.Debug(req.Context(), "request", fields)
			}
			return nil
		}
	}
}
