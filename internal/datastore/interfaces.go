// interfaces.go defines the persistence gateway used by the workflow and history views
package datastore

import (
	"context"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

// Interface abstracts the SQL backend.
type Interface interface {
	Open() error
	Close() error
	Migrate() error

	InsertPatient(ctx context.Context, patient *Patient) error
	GetPatient(ctx context.Context, id uint) (*Patient, error)
	SearchPatients(ctx context.Context, name string, limit int) ([]Patient, error)
	UpdatePatientComplaint(ctx context.Context, id uint, complaint string) error

	InsertDoctor(ctx context.Context, doctor *Doctor) error
	GetDoctor(ctx context.Context, id string) (*Doctor, error)
	GetDoctorByEmail(ctx context.Context, email string) (*Doctor, error)

	NextExaminationID(ctx context.Context) (string, error)
	// CreateExamination allocates the next identifier and inserts exam in
	// one transaction, retrying on identifier collisions.
	CreateExamination(ctx context.Context, exam *Examination) error
	GetExamination(ctx context.Context, id string) (*Examination, error)
	UpdateExaminationNote(ctx context.Context, id, note string) error
	DeleteExamination(ctx context.Context, id string) error
	ListExaminations(ctx context.Context, query ExaminationQuery) ([]Examination, error)
	ListExaminationsForPatient(ctx context.Context, patientID uint) ([]Examination, error)
}

// DataStore implements Interface on a GORM database. The engine-specific
// stores embed it and provide Open and Close.
type DataStore struct {
	DB     *gorm.DB
	Logger logger.Logger

	idPrefix   string
	idRetries  int
	allocMutex sync.Mutex
}

// New returns the store selected by database.driver. The store is not
// opened.
func New(settings *conf.Settings) (Interface, error) {
	log := logger.Global().Module("datastore")
	base := DataStore{
		Logger:    log,
		idPrefix:  settings.Workflow.ExaminationIDPrefix,
		idRetries: settings.Workflow.IDAllocRetries,
	}
	if base.idPrefix == "" {
		base.idPrefix = DefaultExaminationIDPrefix
	}
	if base.idRetries < 1 {
		base.idRetries = 1
	}

	switch strings.ToLower(settings.Database.Driver) {
	case "", conf.DriverSQLite:
		return &SQLiteStore{DataStore: base, Settings: settings}, nil
	case conf.DriverMySQL:
		return &MySQLStore{DataStore: base, Settings: settings}, nil
	case conf.DriverPostgres:
		return &PostgresStore{DataStore: base, Settings: settings}, nil
	default:
		return nil, errors.Newf("unsupported database driver %q", settings.Database.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// NewWithDB wraps an already opened connection. Used by tests and tools.
func NewWithDB(db *gorm.DB, log logger.Logger, idPrefix string, retries int) *DataStore {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if idPrefix == "" {
		idPrefix = DefaultExaminationIDPrefix
	}
	if retries < 1 {
		retries = 1
	}
	return &DataStore{DB: db, Logger: log, idPrefix: idPrefix, idRetries: retries}
}

// Open is a no-op for a wrapped connection.
func (ds *DataStore) Open() error {
	if ds.DB == nil {
		return notOpenError("open")
	}
	return nil
}

// Close releases the underlying connection pool.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return notOpenError("close")
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}

func (ds *DataStore) db(ctx context.Context, operation string) (*gorm.DB, error) {
	if ds.DB == nil {
		return nil, notOpenError(operation)
	}
	return ds.DB.WithContext(ctx), nil
}

// InsertPatient stores a new patient and fills in its ID.
func (ds *DataStore) InsertPatient(ctx context.Context, patient *Patient) error {
	if strings.TrimSpace(patient.FullName) == "" {
		return validationError("patient full name is required", "full_name", patient.FullName)
	}
	db, err := ds.db(ctx, "insert_patient")
	if err != nil {
		return err
	}
	if err := db.Create(patient).Error; err != nil {
		return dbError(err, "insert_patient", "full_name", patient.FullName)
	}
	return nil
}

func (ds *DataStore) GetPatient(ctx context.Context, id uint) (*Patient, error) {
	db, err := ds.db(ctx, "get_patient")
	if err != nil {
		return nil, err
	}
	var patient Patient
	if err := db.First(&patient, id).Error; err != nil {
		return nil, dbError(err, "get_patient", "patient_id", id)
	}
	return &patient, nil
}

// SearchPatients returns patients whose full name contains name,
// case-insensitively, ordered by name.
func (ds *DataStore) SearchPatients(ctx context.Context, name string, limit int) ([]Patient, error) {
	db, err := ds.db(ctx, "search_patients")
	if err != nil {
		return nil, err
	}
	pattern := "%" + escapeLike(strings.ToLower(name)) + "%"

	var patients []Patient
	q := db.Where("LOWER(full_name) LIKE ? ESCAPE '!'", pattern).Order("full_name ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&patients).Error; err != nil {
		return nil, dbError(err, "search_patients", "query", name)
	}
	return patients, nil
}

func (ds *DataStore) UpdatePatientComplaint(ctx context.Context, id uint, complaint string) error {
	db, err := ds.db(ctx, "update_patient_complaint")
	if err != nil {
		return err
	}
	result := db.Model(&Patient{}).Where("id = ?", id).Update("complaint", complaint)
	if result.Error != nil {
		return dbError(result.Error, "update_patient_complaint", "patient_id", id)
	}
	if result.RowsAffected == 0 {
		return dbError(gorm.ErrRecordNotFound, "update_patient_complaint", "patient_id", id)
	}
	return nil
}

func (ds *DataStore) InsertDoctor(ctx context.Context, doctor *Doctor) error {
	db, err := ds.db(ctx, "insert_doctor")
	if err != nil {
		return err
	}
	doctor.Email = normalizeEmail(doctor.Email)
	if err := db.Create(doctor).Error; err != nil {
		return dbError(err, "insert_doctor", "email", doctor.Email)
	}
	return nil
}

func (ds *DataStore) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	db, err := ds.db(ctx, "get_doctor")
	if err != nil {
		return nil, err
	}
	var doctor Doctor
	if err := db.Where("id = ?", id).First(&doctor).Error; err != nil {
		return nil, dbError(err, "get_doctor", "doctor_id", id)
	}
	return &doctor, nil
}

func (ds *DataStore) GetDoctorByEmail(ctx context.Context, email string) (*Doctor, error) {
	db, err := ds.db(ctx, "get_doctor_by_email")
	if err != nil {
		return nil, err
	}
	var doctor Doctor
	if err := db.Where("email = ?", normalizeEmail(email)).First(&doctor).Error; err != nil {
		return nil, dbError(err, "get_doctor_by_email")
	}
	return &doctor, nil
}

// GetExamination loads one examination with its patient and doctor.
func (ds *DataStore) GetExamination(ctx context.Context, id string) (*Examination, error) {
	db, err := ds.db(ctx, "get_examination")
	if err != nil {
		return nil, err
	}
	var exam Examination
	if err := db.Preload("Patient").Preload("Doctor").
		Where("id_examination = ?", id).First(&exam).Error; err != nil {
		return nil, dbError(err, "get_examination", "id_examination", id)
	}
	return &exam, nil
}

// UpdateExaminationNote overwrites the clinical note. Saving the same text
// twice leaves one value.
func (ds *DataStore) UpdateExaminationNote(ctx context.Context, id, note string) error {
	db, err := ds.db(ctx, "update_examination_note")
	if err != nil {
		return err
	}
	result := db.Model(&Examination{}).Where("id_examination = ?", id).Update("notes", note)
	if result.Error != nil {
		return dbError(result.Error, "update_examination_note", "id_examination", id)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero affected rows for an unchanged value.
		var count int64
		if err := db.Model(&Examination{}).Where("id_examination = ?", id).Count(&count).Error; err != nil {
			return dbError(err, "update_examination_note", "id_examination", id)
		}
		if count == 0 {
			return dbError(gorm.ErrRecordNotFound, "update_examination_note", "id_examination", id)
		}
	}
	return nil
}

func (ds *DataStore) DeleteExamination(ctx context.Context, id string) error {
	db, err := ds.db(ctx, "delete_examination")
	if err != nil {
		return err
	}
	result := db.Where("id_examination = ?", id).Delete(&Examination{})
	if result.Error != nil {
		return dbError(result.Error, "delete_examination", "id_examination", id)
	}
	if result.RowsAffected == 0 {
		return dbError(gorm.ErrRecordNotFound, "delete_examination", "id_examination", id)
	}
	ds.Logger.Info("examination deleted", logger.String("id_examination", id))
	return nil
}

// ListExaminations returns examinations joined with patient and doctor,
// newest first.
func (ds *DataStore) ListExaminations(ctx context.Context, query ExaminationQuery) ([]Examination, error) {
	db, err := ds.db(ctx, "list_examinations")
	if err != nil {
		return nil, err
	}
	q := db.Preload("Patient").Preload("Doctor").
		Order("examination_date DESC").Order("id DESC")
	if query.DoctorID != "" {
		q = q.Where("doctor_id = ?", query.DoctorID)
	}
	if query.PatientID != 0 {
		q = q.Where("patient_id = ?", query.PatientID)
	}
	if !query.Since.IsZero() {
		q = q.Where("examination_date >= ?", query.Since)
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}

	var exams []Examination
	if err := q.Find(&exams).Error; err != nil {
		return nil, dbError(err, "list_examinations")
	}
	return exams, nil
}

func (ds *DataStore) ListExaminationsForPatient(ctx context.Context, patientID uint) ([]Examination, error) {
	return ds.ListExaminations(ctx, ExaminationQuery{PatientID: patientID})
}

// escapeLike escapes LIKE wildcards using '!' as the escape character.
func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// slowQueryThreshold falls back to 200ms when unset.
func slowQueryThreshold(settings *conf.Settings) time.Duration {
	if settings.Database.SlowQueryThreshold > 0 {
		return settings.Database.SlowQueryThreshold
	}
	return 200 * time.Millisecond
}
