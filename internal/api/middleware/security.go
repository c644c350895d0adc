package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// HSTSMaxAge is the max-age value for the HSTS header (1 year in seconds).
const HSTSMaxAge = 31536000

// SecurityConfig holds configuration for security middleware.
type SecurityConfig struct {
	// CORS settings. An empty list disables cross-origin access.
	AllowedOrigins   []string
	AllowCredentials bool

	HSTSMaxAge int

	ContentSecurityPolicy string
}

// DefaultSecurityConfig returns a same-origin configuration.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		AllowCredentials:      true,
		HSTSMaxAge:            HSTSMaxAge,
		ContentSecurityPolicy: "default-src 'self'; img-src 'self' data: blob:",
	}
}

// NewCORS creates a CORS middleware with the given configuration. It is a
// no-op when no origins are configured.
func NewCORS(config SecurityConfig) echo.MiddlewareFunc {
	if len(config.AllowedOrigins) == 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: config.AllowedOrigins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPut,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			echo.HeaderXRequestID,
		},
		ExposeHeaders:    []string{echo.HeaderXRequestID, echo.HeaderContentDisposition},
		AllowCredentials: config.AllowCredentials,
	})
}

// NewSecureHeaders creates a middleware that sets security-related HTTP headers.
func NewSecureHeaders(config SecurityConfig) echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            config.HSTSMaxAge,
		ContentSecurityPolicy: config.ContentSecurityPolicy,
	})
}

// NewBodyLimit creates a middleware that limits the request body size.
func NewBodyLimit(limit string) echo.MiddlewareFunc {
	return middleware.BodyLimit(limit)
}
