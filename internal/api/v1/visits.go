package api

import (
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dermascan/dermascan/internal/capture"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/examination"
)

const (
	formFile   = "file"
	formSource = "source"

	sourceCamera = "camera"
)

// SelectPatientRequest selects an existing patient when PatientID is set,
// otherwise registers a new one from the remaining fields.
type SelectPatientRequest struct {
	PatientID uint `json:"patient_id"`
	examination.PatientInput
}

// NoteRequest is the body of the note endpoints.
type NoteRequest struct {
	Note string `json:"note"`
}

func (c *Controller) initVisitRoutes() {
	g := c.Group.Group("/visits", c.AuthMiddleware)
	g.POST("", c.StartVisit)
	g.GET("/:id", c.GetVisit)
	g.POST("/:id/patient", c.SelectPatient)
	g.POST("/:id/image", c.AttachImage)
	g.POST("/:id/detect", c.Detect)
	g.POST("/:id/retake", c.Retake)
	g.PUT("/:id/note", c.SaveVisitNote)
	g.DELETE("/:id", c.EndVisit)
}

// StartVisit handles POST /visits.
func (c *Controller) StartVisit(ctx echo.Context) error {
	v, err := c.visits.Start(session(ctx).Doctor)
	if err != nil {
		return c.fail(ctx, err, "Failed to start visit")
	}
	return ctx.JSON(http.StatusCreated, v)
}

// GetVisit handles GET /visits/:id.
func (c *Controller) GetVisit(ctx echo.Context) error {
	v, err := c.visits.Get(session(ctx).Doctor.ID, ctx.Param("id"))
	if err != nil {
		return c.fail(ctx, err, "Failed to load visit")
	}
	return ctx.JSON(http.StatusOK, v)
}

// SelectPatient handles POST /visits/:id/patient.
func (c *Controller) SelectPatient(ctx echo.Context) error {
	var req SelectPatientRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	doctorID, visitID := session(ctx).Doctor.ID, ctx.Param("id")
	var (
		v   *examination.Snapshot
		err error
	)
	if req.PatientID > 0 {
		v, err = c.visits.SelectExistingPatient(ctx.Request().Context(), doctorID, visitID, req.PatientID, req.Complaint)
	} else {
		v, err = c.visits.SelectNewPatient(ctx.Request().Context(), doctorID, visitID, req.PatientInput)
	}
	if err != nil {
		return c.fail(ctx, err, "Failed to select patient")
	}
	return ctx.JSON(http.StatusOK, v)
}

// AttachImage handles POST /visits/:id/image. The multipart field "file"
// carries either a picked file or, with source=camera, a raw camera frame
// that is re-encoded as JPEG.
func (c *Controller) AttachImage(ctx echo.Context) error {
	fh, err := ctx.FormFile(formFile)
	if err != nil {
		return c.HandleError(ctx, err, "Multipart field \"file\" is required", http.StatusBadRequest)
	}

	var img *capture.Image
	if ctx.FormValue(formSource) == sourceCamera {
		img, err = c.readFrame(fh)
	} else {
		img, err = capture.FromUpload(fh, c.maxUploadBytes())
	}
	if err != nil {
		if errors.IsCategory(err, errors.CategoryLimit) {
			return c.HandleError(ctx, err, "Image is too large", http.StatusRequestEntityTooLarge)
		}
		return c.fail(ctx, err, "Failed to read image")
	}

	v, err := c.visits.AttachImage(session(ctx).Doctor.ID, ctx.Param("id"), img)
	if err != nil {
		return c.fail(ctx, err, "Failed to attach image")
	}
	return ctx.JSON(http.StatusOK, v)
}

func (c *Controller) readFrame(fh *multipart.FileHeader) (*capture.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.New(err).
			Component("api").
			Category(errors.CategoryCapture).
			Context("operation", "open-frame").
			Build()
	}
	defer f.Close()

	return capture.FromFrame(f, c.Settings.Capture.JPEGQuality, c.maxUploadBytes())
}

func (c *Controller) maxUploadBytes() int64 {
	return int64(c.Settings.Capture.MaxUploadMiB) << 20
}

// Detect handles POST /visits/:id/detect. It blocks until the classifier
// answers and the examination is recorded.
func (c *Controller) Detect(ctx echo.Context) error {
	v, err := c.visits.Detect(ctx.Request().Context(), session(ctx).Doctor.ID, ctx.Param("id"))
	if err != nil {
		return c.fail(ctx, err, "Detection failed")
	}
	return ctx.JSON(http.StatusOK, v)
}

// Retake handles POST /visits/:id/retake.
func (c *Controller) Retake(ctx echo.Context) error {
	v, err := c.visits.Retake(session(ctx).Doctor.ID, ctx.Param("id"))
	if err != nil {
		return c.fail(ctx, err, "Retake not possible")
	}
	return ctx.JSON(http.StatusOK, v)
}

// SaveVisitNote handles PUT /visits/:id/note.
func (c *Controller) SaveVisitNote(ctx echo.Context) error {
	var req NoteRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	v, err := c.visits.SaveNote(ctx.Request().Context(), session(ctx).Doctor.ID, ctx.Param("id"), req.Note)
	if err != nil {
		return c.fail(ctx, err, "Failed to save note")
	}
	return ctx.JSON(http.StatusOK, v)
}

// EndVisit handles DELETE /visits/:id.
func (c *Controller) EndVisit(ctx echo.Context) error {
	if err := c.visits.End(session(ctx).Doctor.ID, ctx.Param("id")); err != nil {
		return c.fail(ctx, err, "Failed to end visit")
	}
	return ctx.NoContent(http.StatusNoContent)
}
