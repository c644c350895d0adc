package history

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dermascan/dermascan/internal/datastore"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
	"github.com/dermascan/dermascan/internal/mqtt"
	"github.com/dermascan/dermascan/internal/storage"
)

// memoryStore is an in-memory Store with examinations kept newest first.
type memoryStore struct {
	mu       sync.Mutex
	patients map[uint]*datastore.Patient
	exams    []datastore.Examination
	listErr  error
}

func (m *memoryStore) GetPatient(_ context.Context, id uint) (*datastore.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, errors.Newf("patient %d not found", id).Category(errors.CategoryNotFound).Build()
	}
	return p, nil
}

func (m *memoryStore) GetExamination(_ context.Context, id string) (*datastore.Examination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.exams {
		if m.exams[i].IDExamination == id {
			e := m.exams[i]
			return &e, nil
		}
	}
	return nil, errors.Newf("examination %s not found", id).Category(errors.CategoryNotFound).Build()
}

func (m *memoryStore) UpdateExaminationNote(_ context.Context, id, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.exams {
		if m.exams[i].IDExamination == id {
			m.exams[i].Notes = &note
			return nil
		}
	}
	return errors.Newf("examination %s not found", id).Category(errors.CategoryNotFound).Build()
}

func (m *memoryStore) DeleteExamination(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.exams {
		if m.exams[i].IDExamination == id {
			m.exams = append(m.exams[:i], m.exams[i+1:]...)
			return nil
		}
	}
	return errors.Newf("examination %s not found", id).Category(errors.CategoryNotFound).Build()
}

func (m *memoryStore) ListExaminations(context.Context, datastore.ExaminationQuery) ([]datastore.Examination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]datastore.Examination(nil), m.exams...), nil
}

func (m *memoryStore) ListExaminationsForPatient(_ context.Context, patientID uint) ([]datastore.Examination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []datastore.Examination
	for _, e := range m.exams {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	return out, nil
}

var base = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

// seededStore holds three patients; Siti has three examinations.
func seededStore() *memoryStore {
	siti := &datastore.Patient{ID: 1, FullName: "Siti Aminah", Gender: "Perempuan", BirthDate: "1990-04-12"}
	budi := &datastore.Patient{ID: 2, FullName: "Budi Santoso", Gender: "Laki-laki", BirthDate: "1985-02-03"}
	sitti := &datastore.Patient{ID: 3, FullName: "SITTI Rahma", Gender: "Perempuan", BirthDate: "2000-01-01"}
	doctor := &datastore.Doctor{ID: "d1", FullName: "dr. Rina"}
	note := "follow up"

	exam := func(id string, p *datastore.Patient, hours int, label string, conf float64) datastore.Examination {
		return datastore.Examination{
			IDExamination:   id,
			PatientID:       p.ID,
			Patient:         p,
			DoctorID:        doctor.ID,
			Doctor:          doctor,
			ImageObject:     id + ".jpg",
			ModelPrediction: label,
			ConfidenceScore: conf,
			ExaminationDate: base.Add(time.Duration(hours) * time.Hour),
		}
	}
	exams := []datastore.Examination{
		exam("PSN-1000", siti, 5, "Melanoma", 87.5),
		exam("PSN-004", budi, 4, "Benign", 70),
		exam("PSN-003", siti, 3, "NonSkin", 91.25),
		exam("PSN-002", sitti, 2, "Benign", 55),
		exam("PSN-001", siti, 1, "Melanoma", 60),
	}
	exams[1].Notes = &note

	return &memoryStore{
		patients: map[uint]*datastore.Patient{1: siti, 2: budi, 3: sitti},
		exams:    exams,
	}
}

func ids(exams []datastore.Examination) []string {
	out := make([]string, len(exams))
	for i, e := range exams {
		out[i] = e.IDExamination
	}
	return out
}

func TestFilterIgnoresCase(t *testing.T) {
	exams := seededStore().exams

	assert.Equal(t, []string{"PSN-1000", "PSN-003", "PSN-001"}, ids(Filter(exams, "siti")))
	assert.Equal(t, []string{"PSN-002"}, ids(Filter(exams, "sItTi")))
	assert.Equal(t, []string{"PSN-004"}, ids(Filter(exams, "psn-004")))
	assert.Len(t, Filter(exams, "  "), 5)
	assert.Empty(t, Filter(exams, "nobody"))
}

func TestExaminationsSortAndPage(t *testing.T) {
	svc := NewService(seededStore(), nil, 0, logger.NewNopLogger())
	ctx := context.Background()

	page, err := svc.Examinations(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"PSN-1000", "PSN-004", "PSN-003", "PSN-002", "PSN-001"}, ids(page.Items))
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, DefaultPageSize, page.PerPage)

	tests := []struct {
		sort, order string
		want        []string
	}{
		{SortID, "asc", []string{"PSN-001", "PSN-002", "PSN-003", "PSN-004", "PSN-1000"}},
		{SortConfidence, "desc", []string{"PSN-003", "PSN-1000", "PSN-004", "PSN-001", "PSN-002"}},
		{SortPatient, "asc", []string{"PSN-004", "PSN-1000", "PSN-003", "PSN-001", "PSN-002"}},
		{SortDate, "asc", []string{"PSN-001", "PSN-002", "PSN-003", "PSN-004", "PSN-1000"}},
	}
	for _, tt := range tests {
		t.Run(tt.sort+"_"+tt.order, func(t *testing.T) {
			page, err := svc.Examinations(ctx, Query{Sort: tt.sort, Order: tt.order})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(page.Items))
		})
	}

	page, err = svc.Examinations(ctx, Query{Sort: SortID, Order: "asc", Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"PSN-003", "PSN-004"}, ids(page.Items))
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 5, page.Total)

	page, err = svc.Examinations(ctx, Query{Sort: SortID, Order: "asc", Page: 99, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Page, "pages past the end clamp to the last one")
	assert.Equal(t, []string{"PSN-1000"}, ids(page.Items))
}

func TestExaminationsRejectsBadSort(t *testing.T) {
	svc := NewService(seededStore(), nil, 0, logger.NewNopLogger())
	for _, q := range []Query{{Sort: "image"}, {Order: "sideways"}} {
		_, err := svc.Examinations(context.Background(), q)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}

func TestPatientsGrouped(t *testing.T) {
	svc := NewService(seededStore(), nil, 0, logger.NewNopLogger())

	page, err := svc.Patients(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)

	assert.Equal(t, "Siti Aminah", page.Items[0].Patient.FullName)
	assert.Equal(t, 3, page.Items[0].Count)
	assert.Equal(t, base.Add(5*time.Hour), page.Items[0].LatestDate)
	assert.Equal(t, "Budi Santoso", page.Items[1].Patient.FullName)
	assert.Equal(t, 1, page.Items[1].Count)

	page, err = svc.Patients(context.Background(), Query{Search: "SITI"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestPatientsPagedByEight(t *testing.T) {
	store := &memoryStore{patients: map[uint]*datastore.Patient{}}
	for i := range 20 {
		p := &datastore.Patient{ID: uint(i + 1), FullName: fmt.Sprintf("Patient %02d", i+1)}
		store.patients[p.ID] = p
		store.exams = append(store.exams, datastore.Examination{
			IDExamination:   fmt.Sprintf("PSN-%03d", 20-i),
			PatientID:       p.ID,
			Patient:         p,
			ExaminationDate: base.Add(-time.Duration(i) * time.Hour),
		})
	}
	svc := NewService(store, nil, 0, logger.NewNopLogger())

	page, err := svc.Patients(context.Background(), Query{Page: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalPages)
	assert.Len(t, page.Items, 4)
	assert.Equal(t, "Patient 17", page.Items[0].Patient.FullName)
}

func TestGroupByPatientEmpty(t *testing.T) {
	assert.NotNil(t, GroupByPatient(nil))
	assert.Empty(t, GroupByPatient(nil))
}

func TestPatientHistory(t *testing.T) {
	svc := NewService(seededStore(), nil, 0, logger.NewNopLogger())

	h, err := svc.PatientHistory(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Siti Aminah", h.Patient.FullName)
	assert.Equal(t, []string{"PSN-1000", "PSN-003", "PSN-001"}, ids(h.Examinations))

	_, err = svc.PatientHistory(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestUpdateNote(t *testing.T) {
	svc := NewService(seededStore(), nil, 0, logger.NewNopLogger())

	exam, err := svc.UpdateNote(context.Background(), "PSN-003", " <p>retake in daylight</p> ")
	require.NoError(t, err)
	require.NotNil(t, exam.Notes)
	assert.Equal(t, "retake in daylight", *exam.Notes)
}

type deleteMetrics struct {
	deleted int
	storage []error
}

func (d *deleteMetrics) RecordExaminationDeleted()         { d.deleted++ }
func (d *deleteMetrics) RecordStorage(_ string, err error) { d.storage = append(d.storage, err) }

type eventRecorder struct{ events []mqtt.ExaminationEvent }

func (e *eventRecorder) PublishExamination(_ context.Context, ev mqtt.ExaminationEvent) {
	e.events = append(e.events, ev)
}

func TestDeleteRemovesImage(t *testing.T) {
	ctx := context.Background()
	bucket, err := storage.NewLocalBucket(t.TempDir(), "image", "http://localhost:8080/images", logger.NewNopLogger())
	require.NoError(t, err)
	_, err = bucket.Upload(ctx, "PSN-003.jpg", bytes.NewReader([]byte("img")), "image/jpeg")
	require.NoError(t, err)

	store := seededStore()
	metrics := &deleteMetrics{}
	events := &eventRecorder{}
	svc := NewService(store, bucket, 0, logger.NewNopLogger())
	svc.SetHooks(metrics, events)

	require.NoError(t, svc.Delete(ctx, "PSN-003"))
	_, err = svc.Examination(ctx, "PSN-003")
	assert.True(t, errors.IsNotFound(err))
	_, err = bucket.Open(ctx, "PSN-003.jpg")
	require.ErrorIs(t, err, storage.ErrObjectNotFound)

	assert.Equal(t, 1, metrics.deleted)
	require.Len(t, events.events, 1)
	assert.Equal(t, mqtt.EventExaminationDeleted, events.events[0].Event)

	// the image of PSN-001 was never uploaded; the row is still removed
	require.NoError(t, svc.Delete(ctx, "PSN-001"))
	assert.Len(t, store.exams, 3)

	err = svc.Delete(ctx, "PSN-999")
	assert.True(t, errors.IsNotFound(err))
}

func TestExportXLSX(t *testing.T) {
	svc := NewService(seededStore(), nil, 0, logger.NewNopLogger())

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), &buf, Query{Search: "siti", Sort: SortID, Order: "asc"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{ExportSheet}, f.GetSheetList())
	rows, err := f.GetRows(ExportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, ExportHeader, rows[0])
	assert.Equal(t, "PSN-001", rows[1][0])
	assert.Equal(t, "Siti Aminah", rows[1][2])
	assert.Equal(t, "dr. Rina", rows[1][5])
	assert.Equal(t, "PSN-1000", rows[3][0])
	assert.Equal(t, "87.5", rows[3][7])
}

func TestExportPropagatesStoreError(t *testing.T) {
	store := seededStore()
	store.listErr = errors.Newf("db down").Category(errors.CategoryDatabase).Build()
	svc := NewService(store, nil, 0, logger.NewNopLogger())

	_, err := svc.Export(context.Background(), &bytes.Buffer{}, Query{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}
