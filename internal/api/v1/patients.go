package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dermascan/dermascan/internal/datastore"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/examination"
)

func (c *Controller) initPatientRoutes() {
	g := c.Group.Group("/patients", c.AuthMiddleware)
	g.POST("", c.CreatePatient)
	g.GET("/search", c.SearchPatients)
	g.GET("/:id", c.GetPatient)
	g.GET("/:id/examinations", c.GetPatientExaminations)

	c.Group.GET("/history/patients", c.ListPatientHistory, c.AuthMiddleware)
}

// CreatePatient handles POST /patients.
func (c *Controller) CreatePatient(ctx echo.Context) error {
	var in examination.PatientInput
	if err := ctx.Bind(&in); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	patient, err := c.visits.RegisterPatient(ctx.Request().Context(), in)
	if err != nil {
		return c.fail(ctx, err, "Failed to register patient")
	}
	return ctx.JSON(http.StatusCreated, patient)
}

// SearchPatients handles GET /patients/search?q=. Queries shorter than the
// configured minimum return an empty list.
func (c *Controller) SearchPatients(ctx echo.Context) error {
	patients, err := c.visits.SearchPatients(ctx.Request().Context(), ctx.QueryParam("q"))
	if err != nil {
		return c.fail(ctx, err, "Patient search failed")
	}
	if patients == nil {
		patients = []datastore.Patient{}
	}
	return ctx.JSON(http.StatusOK, patients)
}

// GetPatient handles GET /patients/:id.
func (c *Controller) GetPatient(ctx echo.Context) error {
	id, err := patientID(ctx)
	if err != nil {
		return c.fail(ctx, err, "Invalid patient id")
	}
	patient, err := c.store.GetPatient(ctx.Request().Context(), id)
	if err != nil {
		return c.fail(ctx, err, "Failed to load patient")
	}
	return ctx.JSON(http.StatusOK, patient)
}

// GetPatientExaminations handles GET /patients/:id/examinations.
func (c *Controller) GetPatientExaminations(ctx echo.Context) error {
	id, err := patientID(ctx)
	if err != nil {
		return c.fail(ctx, err, "Invalid patient id")
	}
	h, err := c.history.PatientHistory(ctx.Request().Context(), id)
	if err != nil {
		return c.fail(ctx, err, "Failed to load patient history")
	}
	return ctx.JSON(http.StatusOK, h)
}

// ListPatientHistory handles GET /history/patients?search=&page=.
func (c *Controller) ListPatientHistory(ctx echo.Context) error {
	q, err := parseQuery(ctx)
	if err != nil {
		return c.fail(ctx, err, "Invalid query")
	}
	page, err := c.history.Patients(ctx.Request().Context(), q)
	if err != nil {
		return c.fail(ctx, err, "Failed to load history")
	}
	return ctx.JSON(http.StatusOK, page)
}

func patientID(ctx echo.Context) (uint, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Newf("patient id must be a positive integer").
			Component("api").
			Category(errors.CategoryValidation).
			Context("value", ctx.Param("id")).
			Build()
	}
	return uint(id), nil
}
