package app

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dermascan/dermascan/internal/capture"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/examination"
	"github.com/dermascan/dermascan/internal/history"
	"github.com/dermascan/dermascan/internal/logger"
)

// ExamineRequest describes a visit run from the command line.
type ExamineRequest struct {
	DoctorEmail string
	// PatientID selects an existing patient; zero registers Patient.
	PatientID uint
	Patient   examination.PatientInput
	ImagePath string
	Note      string
}

// Examine runs one complete visit: patient selection, image intake,
// detection and an optional note. The visit is always released.
func (a *App) Examine(ctx context.Context, req ExamineRequest) (*examination.Snapshot, error) {
	doctor, err := a.Store.GetDoctorByEmail(ctx, req.DoctorEmail)
	if err != nil {
		return nil, err
	}

	img, err := capture.FromFile(req.ImagePath, int64(a.Settings.Capture.MaxUploadMiB)<<20)
	if err != nil {
		return nil, err
	}

	visit, err := a.Visits.Start(doctor)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := a.Visits.End(doctor.ID, visit.ID); err != nil {
			a.Logger.Debug("visit already released", logger.String("visit_id", visit.ID))
		}
	}()

	if req.PatientID > 0 {
		_, err = a.Visits.SelectExistingPatient(ctx, doctor.ID, visit.ID, req.PatientID, req.Patient.Complaint)
	} else {
		_, err = a.Visits.SelectNewPatient(ctx, doctor.ID, visit.ID, req.Patient)
	}
	if err != nil {
		return nil, err
	}

	if _, err := a.Visits.AttachImage(doctor.ID, visit.ID, img); err != nil {
		return nil, err
	}
	snap, err := a.Visits.Detect(ctx, doctor.ID, visit.ID)
	if err != nil {
		return nil, err
	}

	if req.Note != "" && snap.Outcome != nil && snap.Outcome.AllowsNote() {
		if snap, err = a.Visits.SaveNote(ctx, doctor.ID, visit.ID, req.Note); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// ExportFile writes the examinations matching q to path as a workbook and
// returns the number of rows.
func (a *App) ExportFile(ctx context.Context, path string, q history.Query) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, exportFileError(err, path)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, exportFileError(err, path)
	}

	n, err := a.History.Export(ctx, f, q)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = exportFileError(cerr, path)
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}

	a.Logger.Info("examinations exported", logger.String("path", path), logger.Int("rows", n))
	return n, nil
}

func exportFileError(err error, path string) error {
	return errors.New(err).
		Component("app").
		Category(errors.CategoryFileIO).
		Context("operation", "export").
		Context("path", path).
		Build()
}
