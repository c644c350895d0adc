package api

import (
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"

	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
	"github.com/dermascan/dermascan/internal/storage"
)

const imageCacheControl = "private, max-age=86400"

func (c *Controller) initMediaRoutes() {
	c.Group.GET("/previews/:token", c.ServePreview, c.AuthMiddleware)
	if c.bucket != nil {
		c.Echo.GET(c.imagesPath()+"/:bucket/:key", c.ServeImage, c.AuthMiddleware)
	}
}

// ServePreview handles GET /previews/:token, the not-yet-uploaded image of
// a visit. Tokens stop working once the visit is released.
func (c *Controller) ServePreview(ctx echo.Context) error {
	img, ok := c.visits.Previews().Get(ctx.Param("token"))
	if !ok {
		return c.HandleError(ctx, nil, "Preview not found or expired", http.StatusNotFound)
	}
	ctx.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return ctx.Blob(http.StatusOK, img.ContentType, img.Data)
}

// ServeImage handles GET <publicbaseurl path>/:bucket/:key. Object keys are
// timestamp based, so a session is required; browsers send the session
// cookie with <img> requests.
func (c *Controller) ServeImage(ctx echo.Context) error {
	if ctx.Param("bucket") != c.bucket.Name() {
		return c.HandleError(ctx, nil, "Image not found", http.StatusNotFound)
	}
	key := ctx.Param("key")

	rc, err := c.bucket.Open(ctx.Request().Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return c.HandleError(ctx, err, "Image not found", http.StatusNotFound)
		}
		return c.fail(ctx, err, "Failed to read image")
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	ctx.Response().Header().Set(echo.HeaderCacheControl, imageCacheControl)
	ctx.Response().Header().Set(echo.HeaderContentType, contentType)
	ctx.Response().WriteHeader(http.StatusOK)
	if _, err := io.Copy(ctx.Response(), rc); err != nil {
		c.logger.Warn("image transfer interrupted",
			logger.String("key", key),
			logger.Error(err))
	}
	return nil
}
