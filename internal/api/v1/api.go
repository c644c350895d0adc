// Package api implements the JSON endpoints under /api/v1.
package api

import (
	"crypto/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dermascan/dermascan/internal/auth"
	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/datastore"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/examination"
	"github.com/dermascan/dermascan/internal/history"
	"github.com/dermascan/dermascan/internal/logger"
	"github.com/dermascan/dermascan/internal/observability"
	"github.com/dermascan/dermascan/internal/storage"
)

// Prefix is the mount point of the JSON API.
const Prefix = "/api/v1"

const defaultImagesPath = "/images"

// Controller manages the API routes and handlers
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings

	auth    *auth.Service
	cookies *auth.CookieSessions
	visits  *examination.Service
	history *history.Service
	store   datastore.Interface
	bucket  storage.Bucket
	metrics *observability.Metrics
	logger  logger.Logger

	startTime time.Time
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithAuth sets the session service and the cookie transport.
func WithAuth(svc *auth.Service, cookies *auth.CookieSessions) Option {
	return func(c *Controller) {
		c.auth = svc
		c.cookies = cookies
	}
}

// WithExaminations sets the visit workflow.
func WithExaminations(svc *examination.Service) Option {
	return func(c *Controller) {
		c.visits = svc
	}
}

// WithHistory sets the history views.
func WithHistory(svc *history.Service) Option {
	return func(c *Controller) {
		c.history = svc
	}
}

// WithDataStore sets the datastore used for direct patient lookups and health checks.
func WithDataStore(ds datastore.Interface) Option {
	return func(c *Controller) {
		c.store = ds
	}
}

// WithBucket sets the image bucket served under the public image path.
func WithBucket(b storage.Bucket) Option {
	return func(c *Controller) {
		c.bucket = b
	}
}

// WithMetrics sets the shared metrics instance.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithLogger overrides the api module logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// New creates the controller and registers its routes on e.
func New(e *echo.Echo, settings *conf.Settings, opts ...Option) (*Controller, error) {
	c := &Controller{
		Echo:      e,
		Settings:  settings,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Global().Module("api")
	}

	switch {
	case c.auth == nil:
		return nil, missingDependency("auth service")
	case c.visits == nil:
		return nil, missingDependency("examination service")
	case c.history == nil:
		return nil, missingDependency("history service")
	case c.store == nil:
		return nil, missingDependency("datastore")
	}

	c.Group = e.Group(Prefix)
	c.initRoutes()
	return c, nil
}

func missingDependency(name string) error {
	return errors.Newf("api controller requires a %s", name).
		Component("api").
		Category(errors.CategoryConfiguration).
		Build()
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)
	if c.metrics != nil && c.Settings.WebServer.Metrics {
		c.Group.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	c.initAuthRoutes()
	c.initPatientRoutes()
	c.initVisitRoutes()
	c.initExaminationRoutes()
	c.initCaptureRoutes()
	c.initMediaRoutes()

	c.logger.Debug("routes initialized", logger.String("prefix", Prefix))
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError logs err with a correlation id and writes the JSON error body.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	log := c.logger.WithContext(ctx.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error("API error", fields...)
	} else {
		log.Warn("API error", fields...)
	}

	return ctx.JSON(code, resp)
}

// fail maps err to a status by category and responds.
func (c *Controller) fail(ctx echo.Context, err error, message string) error {
	return c.HandleError(ctx, err, message, StatusFor(err))
}

// StatusFor maps an error category onto an HTTP status.
func StatusFor(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation, errors.CategoryCapture:
		return http.StatusBadRequest
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict, errors.CategoryState:
		return http.StatusConflict
	case errors.CategoryLimit:
		return http.StatusTooManyRequests
	case errors.CategoryInference:
		return http.StatusBadGateway
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// imagesPath is the route prefix matching storage.publicbaseurl.
func (c *Controller) imagesPath() string {
	u, err := url.Parse(c.Settings.Storage.PublicBaseURL)
	if err != nil || strings.Trim(u.Path, "/") == "" {
		return defaultImagesPath
	}
	return "/" + strings.Trim(u.Path, "/")
}
