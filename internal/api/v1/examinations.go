package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/history"
	"github.com/dermascan/dermascan/internal/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (c *Controller) initExaminationRoutes() {
	g := c.Group.Group("/examinations", c.AuthMiddleware)
	g.GET("", c.ListExaminations)
	g.GET("/export", c.ExportExaminations)
	g.GET("/:id", c.GetExamination)
	g.PUT("/:id/note", c.UpdateExaminationNote)
	g.DELETE("/:id", c.DeleteExamination)
}

// ListExaminations handles GET /examinations?search=&sort=&order=&page=&per_page=.
func (c *Controller) ListExaminations(ctx echo.Context) error {
	q, err := parseQuery(ctx)
	if err != nil {
		return c.fail(ctx, err, "Invalid query")
	}
	page, err := c.history.Examinations(ctx.Request().Context(), q)
	if err != nil {
		return c.fail(ctx, err, "Failed to list examinations")
	}
	return ctx.JSON(http.StatusOK, page)
}

// ExportExaminations handles GET /examinations/export. Paging parameters
// are ignored; every matching row is exported.
func (c *Controller) ExportExaminations(ctx echo.Context) error {
	q, err := parseQuery(ctx)
	if err != nil {
		return c.fail(ctx, err, "Invalid query")
	}

	var buf bytes.Buffer
	n, err := c.history.Export(ctx.Request().Context(), &buf, q)
	if err != nil {
		return c.fail(ctx, err, "Export failed")
	}

	filename := fmt.Sprintf("examinations-%s.xlsx", time.Now().Format("20060102-150405"))
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	c.logger.Info("examinations exported",
		logger.Int("rows", n),
		logger.String("doctor_id", session(ctx).Doctor.ID))
	return ctx.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}

// GetExamination handles GET /examinations/:id.
func (c *Controller) GetExamination(ctx echo.Context) error {
	exam, err := c.history.Examination(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.fail(ctx, err, "Failed to load examination")
	}
	return ctx.JSON(http.StatusOK, exam)
}

// UpdateExaminationNote handles PUT /examinations/:id/note.
func (c *Controller) UpdateExaminationNote(ctx echo.Context) error {
	var req NoteRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	exam, err := c.history.UpdateNote(ctx.Request().Context(), ctx.Param("id"), req.Note)
	if err != nil {
		return c.fail(ctx, err, "Failed to save note")
	}
	return ctx.JSON(http.StatusOK, exam)
}

// DeleteExamination handles DELETE /examinations/:id.
func (c *Controller) DeleteExamination(ctx echo.Context) error {
	if err := c.history.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.fail(ctx, err, "Failed to delete examination")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// parseQuery reads the shared list parameters. Missing numbers are zero and
// take the service defaults.
func parseQuery(ctx echo.Context) (history.Query, error) {
	q := history.Query{
		Search: ctx.QueryParam("search"),
		Sort:   ctx.QueryParam("sort"),
		Order:  ctx.QueryParam("order"),
	}
	var err error
	if q.Page, err = intParam(ctx, "page"); err != nil {
		return q, err
	}
	if q.PerPage, err = intParam(ctx, "per_page"); err != nil {
		return q, err
	}
	return q, nil
}

func intParam(ctx echo.Context, name string) (int, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Newf("%s must be a non-negative integer", name).
			Component("api").
			Category(errors.CategoryValidation).
			Context("value", raw).
			Build()
	}
	return n, nil
}
