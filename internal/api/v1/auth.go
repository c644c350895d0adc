package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dermascan/dermascan/internal/auth"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

const sessionContextKey = "dermascan.session"

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Controller) initAuthRoutes() {
	g := c.Group.Group("/auth")
	g.POST("/register", c.Register)
	g.POST("/login", c.Login)
	g.POST("/logout", c.Logout, c.AuthMiddleware)
	g.GET("/session", c.GetSession, c.AuthMiddleware)
}

// AuthMiddleware resolves the session from a bearer token or the session
// cookie. Requests without a valid session get 401.
func (c *Controller) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		token := c.requestToken(ctx)
		if token == "" {
			c.recordAuthFailure("missing")
			return c.HandleError(ctx, auth.ErrSessionInvalid, "Authentication required", http.StatusUnauthorized)
		}

		sess, err := c.auth.Authenticate(ctx.Request().Context(), token)
		if err != nil {
			if !errors.IsCategory(err, errors.CategoryAuth) {
				return c.fail(ctx, err, "Failed to verify session")
			}
			c.recordAuthFailure("invalid")
			return c.HandleError(ctx, err, "Authentication required", http.StatusUnauthorized)
		}

		ctx.Set(sessionContextKey, sess)
		return next(ctx)
	}
}

func (c *Controller) requestToken(ctx echo.Context) string {
	header := ctx.Request().Header.Get(echo.HeaderAuthorization)
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if c.cookies != nil {
		return c.cookies.Token(ctx.Request())
	}
	return ""
}

func (c *Controller) recordAuthFailure(reason string) {
	if c.metrics != nil {
		c.metrics.HTTP.RecordAuthFailure(reason)
	}
}

// session returns the session stored by AuthMiddleware.
func session(ctx echo.Context) *auth.Session {
	sess, _ := ctx.Get(sessionContextKey).(*auth.Session)
	return sess
}

// Register handles POST /auth/register.
func (c *Controller) Register(ctx echo.Context) error {
	var req RegisterRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	doctor, err := c.auth.Register(ctx.Request().Context(), req.FullName, req.Email, req.Password)
	if err != nil {
		return c.fail(ctx, err, "Registration failed")
	}
	return ctx.JSON(http.StatusCreated, doctor)
}

// Login handles POST /auth/login. The token is returned in the body and
// also stored in the session cookie.
func (c *Controller) Login(ctx echo.Context) error {
	var req LoginRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	sess, err := c.auth.Login(ctx.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryAuth) {
			c.recordAuthFailure("credentials")
		}
		return c.fail(ctx, err, "Login failed")
	}
	if c.cookies != nil {
		if err := c.cookies.Save(ctx.Response(), ctx.Request(), sess.Token, sess.ExpiresAt); err != nil {
			c.logger.Warn("failed to write session cookie", logger.Error(err))
		}
	}
	return ctx.JSON(http.StatusOK, sess)
}

// Logout handles POST /auth/logout.
func (c *Controller) Logout(ctx echo.Context) error {
	sess := session(ctx)
	if err := c.auth.Logout(ctx.Request().Context(), sess.Token); err != nil {
		return c.fail(ctx, err, "Logout failed")
	}
	if c.cookies != nil {
		if err := c.cookies.Clear(ctx.Response(), ctx.Request()); err != nil {
			c.logger.Warn("failed to clear session cookie", logger.Error(err))
		}
	}
	return ctx.NoContent(http.StatusNoContent)
}

// GetSession handles GET /auth/session.
func (c *Controller) GetSession(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, session(ctx))
}
