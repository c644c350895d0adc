// Package middleware provides HTTP middleware components for the dermascan server.
package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dermascan/dermascan/internal/logger"
)

// HeaderRequestID carries the trace id in and out of the server.
const HeaderRequestID = echo.HeaderXRequestID

// NewTraceID attaches a trace id to every request context. An id sent by the
// client is kept so calls can be followed across services.
func NewTraceID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(HeaderRequestID)
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, id)
			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), id)))
			return next(c)
		}
	}
}

// NewRequestLogger creates a request logging middleware.
func NewRequestLogger(log logger.Logger) echo.MiddlewareFunc {
	return NewRequestLoggerWithSkipper(log, nil)
}

// NewRequestLoggerWithSkipper creates a request logging middleware with a custom skipper.
func NewRequestLoggerWithSkipper(log logger.Logger, skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:     skipper,
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if log == nil {
				return nil
			}

			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}

			l := log.WithContext(c.Request().Context())
			switch {
			case v.Error != nil:
				l.Warn("request", append(fields, logger.Error(v.Error))...)
			case v.Status >= 500:
				l.Warn("request", fields...)
			default:
				l.Info("request", fields...)
			}
			return nil
		},
	})
}
