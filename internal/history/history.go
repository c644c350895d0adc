// Package history serves the examination history views: filtered and
// paged examination lists, per-patient grouping and spreadsheet export.
package history

import (
	"context"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/dermascan/dermascan/internal/datastore"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/examination"
	"github.com/dermascan/dermascan/internal/logger"
	"github.com/dermascan/dermascan/internal/mqtt"
	"github.com/dermascan/dermascan/internal/storage"
)

// DefaultPageSize matches the patient history grid.
const DefaultPageSize = 8

const maxPageSize = 100

// Sort keys accepted by Query.Sort.
const (
	SortDate       = "date"
	SortID         = "id"
	SortPatient    = "patient"
	SortPrediction = "prediction"
	SortConfidence = "confidence"
)

// Store is the persistence the history views need.
type Store interface {
	GetPatient(ctx context.Context, id uint) (*datastore.Patient, error)
	GetExamination(ctx context.Context, id string) (*datastore.Examination, error)
	UpdateExaminationNote(ctx context.Context, id, note string) error
	DeleteExamination(ctx context.Context, id string) error
	ListExaminations(ctx context.Context, query datastore.ExaminationQuery) ([]datastore.Examination, error)
	ListExaminationsForPatient(ctx context.Context, patientID uint) ([]datastore.Examination, error)
}

// Metrics receives deletion counts.
type Metrics interface {
	RecordExaminationDeleted()
	RecordStorage(operation string, err error)
}

// EventSink receives examination events.
type EventSink interface {
	PublishExamination(ctx context.Context, ev mqtt.ExaminationEvent)
}

// Query selects, orders and pages examinations.
type Query struct {
	Search  string
	Sort    string
	Order   string // asc or desc
	Page    int
	PerPage int
}

// Page is one page of results.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PatientSummary groups a patient's examinations.
type PatientSummary struct {
	Patient    *datastore.Patient `json:"patient"`
	Count      int                `json:"count"`
	LatestDate time.Time          `json:"latest_date"`
}

// PatientHistory is a patient with every examination, newest first.
type PatientHistory struct {
	Patient      *datastore.Patient      `json:"patient"`
	Examinations []datastore.Examination `json:"examinations"`
}

// Service implements the history views.
type Service struct {
	store    Store
	bucket   storage.Bucket
	pageSize int
	metrics  Metrics
	events   EventSink
	logger   logger.Logger
}

// NewService creates the history service. bucket may be nil, in which case
// deleted examinations keep their image objects.
func NewService(store Store, bucket storage.Bucket, pageSize int, log logger.Logger) *Service {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if log == nil {
		log = logger.Global().Module("history")
	}
	return &Service{store: store, bucket: bucket, pageSize: pageSize, logger: log}
}

// SetHooks attaches optional metrics and event sinks.
func (s *Service) SetHooks(metrics Metrics, events EventSink) {
	s.metrics = metrics
	s.events = events
}

// Examinations lists examinations matching q.
func (s *Service) Examinations(ctx context.Context, q Query) (*Page[datastore.Examination], error) {
	exams, err := s.filtered(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := sortExaminations(exams, q.Sort, q.Order); err != nil {
		return nil, err
	}
	return paginate(exams, q.Page, s.perPage(q.PerPage)), nil
}

// Patients groups matching examinations per patient, ordered by latest
// examination.
func (s *Service) Patients(ctx context.Context, q Query) (*Page[PatientSummary], error) {
	exams, err := s.filtered(ctx, q)
	if err != nil {
		return nil, err
	}
	return paginate(GroupByPatient(exams), q.Page, s.perPage(q.PerPage)), nil
}

// PatientHistory fetches a patient and their examinations concurrently.
func (s *Service) PatientHistory(ctx context.Context, patientID uint) (*PatientHistory, error) {
	g, gctx := errgroup.WithContext(ctx)

	var patient *datastore.Patient
	var exams []datastore.Examination
	g.Go(func() error {
		var err error
		patient, err = s.store.GetPatient(gctx, patientID)
		return err
	})
	g.Go(func() error {
		var err error
		exams, err = s.store.ListExaminationsForPatient(gctx, patientID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if exams == nil {
		exams = []datastore.Examination{}
	}
	return &PatientHistory{Patient: patient, Examinations: exams}, nil
}

// Examination returns one examination with patient and doctor.
func (s *Service) Examination(ctx context.Context, id string) (*datastore.Examination, error) {
	return s.store.GetExamination(ctx, id)
}

// UpdateNote replaces the note of a recorded examination.
func (s *Service) UpdateNote(ctx context.Context, id, note string) (*datastore.Examination, error) {
	if err := s.store.UpdateExaminationNote(ctx, id, examination.NormalizeNote(note)); err != nil {
		return nil, err
	}
	return s.store.GetExamination(ctx, id)
}

// Delete removes an examination. The image object is removed afterwards on
// a best-effort basis.
func (s *Service) Delete(ctx context.Context, id string) error {
	exam, err := s.store.GetExamination(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteExamination(ctx, id); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordExaminationDeleted()
	}

	log := s.logger.WithContext(ctx)
	if s.bucket != nil && exam.ImageObject != "" {
		err := s.bucket.Delete(ctx, exam.ImageObject)
		if s.metrics != nil {
			s.metrics.RecordStorage("delete", err)
		}
		if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			log.Warn("failed to delete image of removed examination",
				logger.String("id_examination", id),
				logger.String("key", exam.ImageObject),
				logger.Error(err))
		}
	}

	if s.events != nil {
		s.events.PublishExamination(ctx, mqtt.ExaminationEvent{
			Event:           mqtt.EventExaminationDeleted,
			ExaminationID:   exam.IDExamination,
			PatientID:       exam.PatientID,
			DoctorID:        exam.DoctorID,
			ModelPrediction: exam.ModelPrediction,
			ConfidenceScore: exam.ConfidenceScore,
		})
	}
	log.Info("examination deleted", logger.String("id_examination", id))
	return nil
}

func (s *Service) perPage(n int) int {
	if n <= 0 {
		return s.pageSize
	}
	return min(n, maxPageSize)
}

// filtered loads every examination, newest first, and keeps those whose
// patient name or identifier contains the search text, ignoring case.
func (s *Service) filtered(ctx context.Context, q Query) ([]datastore.Examination, error) {
	exams, err := s.store.ListExaminations(ctx, datastore.ExaminationQuery{})
	if err != nil {
		return nil, err
	}
	return Filter(exams, q.Search), nil
}

// Filter keeps examinations whose patient name or identifier contains search.
func Filter(exams []datastore.Examination, search string) []datastore.Examination {
	search = strings.TrimSpace(search)
	if search == "" {
		return exams
	}
	fold := cases.Fold()
	needle := fold.String(search)

	out := make([]datastore.Examination, 0, len(exams))
	for _, e := range exams {
		name := ""
		if e.Patient != nil {
			name = e.Patient.FullName
		}
		if strings.Contains(fold.String(name), needle) || strings.Contains(fold.String(e.IDExamination), needle) {
			out = append(out, e)
		}
	}
	return out
}

// GroupByPatient folds examinations into one summary per patient. The input
// is expected newest first; summaries keep first-seen order.
func GroupByPatient(exams []datastore.Examination) []PatientSummary {
	index := make(map[uint]int)
	var out []PatientSummary
	for _, e := range exams {
		i, ok := index[e.PatientID]
		if !ok {
			patient := e.Patient
			if patient == nil {
				patient = &datastore.Patient{ID: e.PatientID}
			}
			index[e.PatientID] = len(out)
			out = append(out, PatientSummary{Patient: patient, LatestDate: e.ExaminationDate})
			i = len(out) - 1
		}
		out[i].Count++
		if e.ExaminationDate.After(out[i].LatestDate) {
			out[i].LatestDate = e.ExaminationDate
		}
	}
	if out == nil {
		out = []PatientSummary{}
	}
	return out
}

func sortExaminations(exams []datastore.Examination, key, order string) error {
	desc := true
	switch strings.ToLower(order) {
	case "", "desc":
	case "asc":
		desc = false
	default:
		return errors.Newf("invalid order %q", order).
			Component("history").
			Category(errors.CategoryValidation).
			Build()
	}

	var cmp func(a, b datastore.Examination) int
	switch strings.ToLower(key) {
	case "", SortDate:
		cmp = func(a, b datastore.Examination) int { return a.ExaminationDate.Compare(b.ExaminationDate) }
	case SortID:
		cmp = func(a, b datastore.Examination) int { return compareIDs(a.IDExamination, b.IDExamination) }
	case SortPatient:
		fold := cases.Fold()
		cmp = func(a, b datastore.Examination) int {
			return strings.Compare(fold.String(patientName(a)), fold.String(patientName(b)))
		}
	case SortPrediction:
		cmp = func(a, b datastore.Examination) int { return strings.Compare(a.ModelPrediction, b.ModelPrediction) }
	case SortConfidence:
		cmp = func(a, b datastore.Examination) int {
			switch {
			case a.ConfidenceScore < b.ConfidenceScore:
				return -1
			case a.ConfidenceScore > b.ConfidenceScore:
				return 1
			default:
				return 0
			}
		}
	default:
		return errors.Newf("invalid sort key %q", key).
			Component("history").
			Category(errors.CategoryValidation).
			Build()
	}

	slices.SortStableFunc(exams, func(a, b datastore.Examination) int {
		if desc {
			return cmp(b, a)
		}
		return cmp(a, b)
	})
	return nil
}

// compareIDs orders PSN identifiers numerically: shorter suffixes first.
func compareIDs(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(a, b)
}

func patientName(e datastore.Examination) string {
	if e.Patient == nil {
		return ""
	}
	return e.Patient.FullName
}

// paginate returns page (1-based) of items. Pages past the end are clamped
// to the last page.
func paginate[T any](items []T, page, perPage int) *Page[T] {
	total := len(items)
	totalPages := (total + perPage - 1) / perPage
	if page < 1 {
		page = 1
	}
	if totalPages > 0 && page > totalPages {
		page = totalPages
	}

	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)
	pageItems := slices.Clone(items[start:end])
	if pageItems == nil {
		pageItems = []T{}
	}
	return &Page[T]{
		Items:      pageItems,
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	}
}
