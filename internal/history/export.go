package history

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/dermascan/dermascan/internal/datastore"
	"github.com/dermascan/dermascan/internal/errors"
)

// ExportSheet is the worksheet holding exported examinations.
const ExportSheet = "Examinations"

// ExportHeader lists the exported columns in order.
var ExportHeader = []string{
	"ID Examination",
	"Examination Date",
	"Patient",
	"Gender",
	"Birth Date",
	"Doctor",
	"Prediction",
	"Confidence (%)",
	"Complaint",
	"Notes",
}

var exportColumnWidths = []float64{16, 20, 28, 12, 12, 24, 14, 14, 40, 40}

// Export writes every examination matching q, sorted but not paged, as an
// XLSX workbook.
func (s *Service) Export(ctx context.Context, w io.Writer, q Query) (int, error) {
	exams, err := s.filtered(ctx, q)
	if err != nil {
		return 0, err
	}
	if err := sortExaminations(exams, q.Sort, q.Order); err != nil {
		return 0, err
	}
	if err := WriteXLSX(w, exams); err != nil {
		return 0, err
	}
	return len(exams), nil
}

// WriteXLSX renders exams as a single-sheet workbook.
func WriteXLSX(w io.Writer, exams []datastore.Examination) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ExportSheet)
	if err != nil {
		return exportError(fmt.Errorf("failed to create sheet: %w", err))
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return exportError(fmt.Errorf("failed to remove default sheet: %w", err))
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FDE2E4"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return exportError(fmt.Errorf("failed to create header style: %w", err))
	}

	header := make([]any, len(ExportHeader))
	for i, h := range ExportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(ExportSheet, "A1", &header); err != nil {
		return exportError(fmt.Errorf("failed to write header: %w", err))
	}
	last, _ := excelize.CoordinatesToCellName(len(ExportHeader), 1)
	if err := f.SetCellStyle(ExportSheet, "A1", last, headerStyle); err != nil {
		return exportError(fmt.Errorf("failed to set header style: %w", err))
	}

	for col, width := range exportColumnWidths {
		name, _ := excelize.ColumnNumberToName(col + 1)
		if err := f.SetColWidth(ExportSheet, name, name, width); err != nil {
			return exportError(fmt.Errorf("failed to set column width: %w", err))
		}
	}

	for i, e := range exams {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return exportError(fmt.Errorf("failed to convert coordinates: %w", err))
		}
		row := exportRow(e)
		if err := f.SetSheetRow(ExportSheet, cell, &row); err != nil {
			return exportError(fmt.Errorf("failed to write row %d: %w", i+2, err))
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return exportError(fmt.Errorf("failed to write workbook: %w", err))
	}
	return nil
}

func exportRow(e datastore.Examination) []any {
	var patientName, gender, birthDate, doctorName, notes string
	if e.Patient != nil {
		patientName = e.Patient.FullName
		gender = e.Patient.Gender
		birthDate = e.Patient.BirthDate
	}
	if e.Doctor != nil {
		doctorName = e.Doctor.FullName
	}
	if e.Notes != nil {
		notes = *e.Notes
	}
	return []any{
		e.IDExamination,
		e.ExaminationDate.Format("2006-01-02 15:04:05"),
		patientName,
		gender,
		birthDate,
		doctorName,
		e.ModelPrediction,
		e.ConfidenceScore,
		e.Complaint,
		notes,
	}
}

func exportError(err error) error {
	return errors.New(err).
		Component("history").
		Category(errors.CategoryFileIO).
		Context("operation", "export-xlsx").
		Build()
}
