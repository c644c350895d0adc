// Package examination drives a visit from patient selection through image
// capture, classification and note taking.
package examination

import (
	"bytes"
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/k3a/html2text"

	"github.com/dermascan/dermascan/internal/capture"
	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/datastore"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/inference"
	"github.com/dermascan/dermascan/internal/logger"
	"github.com/dermascan/dermascan/internal/mqtt"
	"github.com/dermascan/dermascan/internal/notification"
	"github.com/dermascan/dermascan/internal/storage"
)

const (
	defaultVisitTTL       = 2 * time.Hour
	defaultSearchMinChars = 2
	defaultSearchLimit    = 10
	defaultGender         = "Laki-laki"

	compensationTimeout = 30 * time.Second
	birthDateLayout     = "2006-01-02"
)

// Store is the persistence the workflow needs.
type Store interface {
	InsertPatient(ctx context.Context, patient *datastore.Patient) error
	GetPatient(ctx context.Context, id uint) (*datastore.Patient, error)
	SearchPatients(ctx context.Context, name string, limit int) ([]datastore.Patient, error)
	UpdatePatientComplaint(ctx context.Context, id uint, complaint string) error
	CreateExamination(ctx context.Context, exam *datastore.Examination) error
	UpdateExaminationNote(ctx context.Context, id, note string) error
}

// Config tunes the workflow.
type Config struct {
	VisitTTL       time.Duration
	SearchMinChars int
	SearchLimit    int
	DefaultGender  string
	Vocabulary     inference.Vocabulary
}

// ConfigFromSettings maps application settings onto a workflow config.
func ConfigFromSettings(settings *conf.Settings) Config {
	return Config{
		VisitTTL:       settings.Workflow.VisitTTL,
		SearchMinChars: settings.Workflow.SearchMinChars,
		SearchLimit:    settings.Workflow.SearchLimit,
		DefaultGender:  settings.Workflow.DefaultGender,
		Vocabulary:     inference.NewVocabulary(settings.Inference.Labels.Melanoma, settings.Inference.Labels.NonSkin),
	}
}

// PatientInput carries the fields of a newly registered patient.
type PatientInput struct {
	FullName  string `json:"full_name"`
	BirthDate string `json:"birth_date"`
	Gender    string `json:"gender"`
	Complaint string `json:"complaint"`
}

// Service runs the examination workflow. It is safe for concurrent use;
// operations on the same visit are serialised.
type Service struct {
	store     Store
	bucket    storage.Bucket
	predictor inference.Predictor
	previews  *capture.PreviewRegistry
	visits    *VisitStore

	config  Config
	hooks   Hooks
	metrics Metrics
	logger  logger.Logger
	now     func() time.Time
}

// NewService wires the workflow. previews may be shared with the API so
// preview tokens can be served.
func NewService(cfg Config, store Store, bucket storage.Bucket, predictor inference.Predictor,
	previews *capture.PreviewRegistry, hooks Hooks, log logger.Logger) *Service {
	if cfg.VisitTTL <= 0 {
		cfg.VisitTTL = defaultVisitTTL
	}
	if cfg.SearchMinChars <= 0 {
		cfg.SearchMinChars = defaultSearchMinChars
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = defaultSearchLimit
	}
	if cfg.DefaultGender == "" {
		cfg.DefaultGender = defaultGender
	}
	if cfg.Vocabulary.IsZero() {
		cfg.Vocabulary = inference.DefaultVocabulary()
	}
	if log == nil {
		log = logger.Global().Module("examination")
	}
	if previews == nil {
		previews = capture.NewPreviewRegistry(cfg.VisitTTL)
	}

	s := &Service{
		store:     store,
		bucket:    bucket,
		predictor: predictor,
		previews:  previews,
		config:    cfg,
		hooks:     hooks,
		metrics:   hooks.Metrics,
		logger:    log,
		now:       time.Now,
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	s.visits = NewVisitStore(cfg.VisitTTL, s.release)
	return s
}

// Previews exposes the preview registry.
func (s *Service) Previews() *capture.PreviewRegistry {
	return s.previews
}

// Start opens a visit for doctor.
func (s *Service) Start(doctor *datastore.Doctor) (*Snapshot, error) {
	if doctor == nil || doctor.ID == "" {
		return nil, validationError("doctor is required")
	}
	now := s.now()
	v := &Visit{
		id:         uuid.NewString(),
		doctorID:   doctor.ID,
		doctorName: doctor.FullName,
		state:      StateNoPatient,
		createdAt:  now,
		updatedAt:  now,
	}
	s.visits.Put(v)
	s.metrics.SetActiveVisits(s.visits.Count())

	s.logger.Info("visit started",
		logger.String("visit_id", v.id),
		logger.String("doctor_id", doctor.ID))
	return v.snapshot(), nil
}

// Get returns the current state of a visit owned by doctorID.
func (s *Service) Get(doctorID, visitID string) (*Snapshot, error) {
	v, err := s.lookup(doctorID, visitID)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshot(), nil
}

// End closes a visit and releases its previews.
func (s *Service) End(doctorID, visitID string) error {
	if _, err := s.lookup(doctorID, visitID); err != nil {
		return err
	}
	s.visits.Delete(visitID)
	s.metrics.SetActiveVisits(s.visits.Count())
	return nil
}

// Close ends every open visit.
func (s *Service) Close() {
	s.visits.DeleteAll()
	s.metrics.SetActiveVisits(0)
}

// SearchPatients finds patients by case-insensitive name substring. Queries
// shorter than the minimum return no results.
func (s *Service) SearchPatients(ctx context.Context, query string) ([]datastore.Patient, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < s.config.SearchMinChars {
		return []datastore.Patient{}, nil
	}
	s.metrics.RecordPatientSearch()
	return s.store.SearchPatients(ctx, query, s.config.SearchLimit)
}

// SelectNewPatient registers a patient and attaches it to the visit.
func (s *Service) SelectNewPatient(ctx context.Context, doctorID, visitID string, in PatientInput) (*Snapshot, error) {
	patient, err := s.newPatient(in)
	if err != nil {
		return nil, err
	}

	v, err := s.lookup(doctorID, visitID)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.state.canSelectPatient() {
		return nil, transitionError(ErrInvalidTransition, v, "select-new-patient")
	}
	if err := s.store.InsertPatient(ctx, patient); err != nil {
		return nil, err
	}

	v.patient = patient
	v.complaint = patient.Complaint
	s.transition(v, StatePatientSelected)

	s.logger.Info("new patient registered for visit",
		logger.String("visit_id", v.id),
		logger.Uint("patient_id", patient.ID))
	return v.snapshot(), nil
}

// RegisterPatient records a patient outside of any visit.
func (s *Service) RegisterPatient(ctx context.Context, in PatientInput) (*datastore.Patient, error) {
	patient, err := s.newPatient(in)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertPatient(ctx, patient); err != nil {
		return nil, err
	}
	return patient, nil
}

// SelectExistingPatient attaches a known patient. Identity fields come from
// the stored record; only the complaint belongs to this visit.
func (s *Service) SelectExistingPatient(ctx context.Context, doctorID, visitID string, patientID uint, complaint string) (*Snapshot, error) {
	v, err := s.lookup(doctorID, visitID)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.state.canSelectPatient() {
		return nil, transitionError(ErrInvalidTransition, v, "select-existing-patient")
	}

	patient, err := s.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	complaint = strings.TrimSpace(complaint)
	if complaint != "" && complaint != patient.Complaint {
		if err := s.store.UpdatePatientComplaint(ctx, patient.ID, complaint); err != nil {
			return nil, err
		}
		patient.Complaint = complaint
	}

	v.patient = patient
	v.complaint = patient.Complaint
	s.transition(v, StatePatientSelected)
	return v.snapshot(), nil
}

// AttachImage stores the captured image on the visit, replacing any
// previous one. Attaching after a non-skin result retakes implicitly.
func (s *Service) AttachImage(doctorID, visitID string, img *capture.Image) (*Snapshot, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, validationError("image is empty")
	}

	v, err := s.lookup(doctorID, visitID)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.state.canAttachImage() {
		return nil, transitionError(ErrInvalidTransition, v, "attach-image")
	}
	if v.state.hasResult() {
		if !v.outcome.AllowsRetake() {
			return nil, transitionError(ErrRetakeNotAllowed, v, "attach-image")
		}
		v.clearResult()
	}

	if v.previewToken != "" {
		s.previews.Revoke(v.previewToken)
	}
	v.image = img
	v.previewToken = s.previews.Acquire(v.id, img)
	s.transition(v, StateImageCaptured)

	s.logger.Debug("image attached",
		logger.String("visit_id", v.id),
		logger.String("content_type", img.ContentType),
		logger.Int("size", img.Size()))
	return v.snapshot(), nil
}

// Detect uploads the image, classifies it and records the examination.
// On failure the visit returns to ImageCaptured and the upload is removed.
func (s *Service) Detect(ctx context.Context, doctorID, visitID string) (*Snapshot, error) {
	v, err := s.lookup(doctorID, visitID)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	switch v.state {
	case StateImageCaptured:
	case StatePredicting:
		s.metrics.RecordDetectRejected()
		err := transitionError(ErrDetectInProgress, v, "detect")
		v.mu.Unlock()
		return nil, err
	default:
		err := transitionError(ErrInvalidTransition, v, "detect")
		v.mu.Unlock()
		return nil, err
	}
	s.transition(v, StatePredicting)
	img := v.image
	patient := *v.patient
	complaint := v.complaint
	v.mu.Unlock()

	exam, prediction, err := s.runDetection(ctx, v, img, &patient, complaint)

	v.mu.Lock()
	if err != nil {
		s.transition(v, StateImageCaptured)
		v.mu.Unlock()
		return nil, err
	}

	best, _ := prediction.Best()
	v.examination = exam
	v.outcome = s.config.Vocabulary.Classify(exam.ModelPrediction)
	v.bestLabel = best.Label
	v.probabilities = prediction.Probabilities
	v.note = ""
	s.transition(v, StateResultReady)
	snap := v.snapshot()
	pending := s.followUp(v, exam)
	v.mu.Unlock()

	// The examination is recorded; a departing client must not cancel its announcement.
	s.announce(context.WithoutCancel(ctx), pending)
	return snap, nil
}

// runDetection performs the slow part of Detect without holding the visit lock.
func (s *Service) runDetection(ctx context.Context, v *Visit, img *capture.Image, patient *datastore.Patient, complaint string) (*datastore.Examination, *inference.Prediction, error) {
	log := s.logger.WithContext(ctx).With(logger.String("visit_id", v.id))

	key := storage.ObjectName(s.now(), img.Filename)
	start := time.Now()
	url, err := s.bucket.Upload(ctx, key, bytes.NewReader(img.Data), img.ContentType)
	s.metrics.RecordStorage("upload", err)
	s.metrics.ObserveStep("upload", time.Since(start).Seconds())
	if err != nil {
		log.Error("image upload failed", logger.String("key", key), logger.Error(err))
		return nil, nil, err
	}

	start = time.Now()
	prediction, err := s.predictor.Predict(ctx, img)
	s.metrics.RecordInference(time.Since(start).Seconds(), err)
	s.metrics.ObserveStep("predict", time.Since(start).Seconds())
	if err != nil {
		s.compensate(ctx, log, key)
		return nil, nil, err
	}
	best, ok := prediction.Best()
	if !ok {
		s.compensate(ctx, log, key)
		return nil, nil, errors.Newf("%w: response has no probabilities", inference.ErrPredictionFailed).
			Component("examination").
			Category(errors.CategoryInference).
			Build()
	}

	exam := &datastore.Examination{
		PatientID:       patient.ID,
		DoctorID:        v.doctorID,
		ImageURL:        url,
		ImageObject:     key,
		ModelPrediction: prediction.Verdict(),
		ConfidenceScore: inference.RoundConfidence(best.Probability),
		Complaint:       complaint,
	}
	start = time.Now()
	err = s.store.CreateExamination(ctx, exam)
	s.metrics.ObserveStep("persist", time.Since(start).Seconds())
	if err != nil {
		log.Error("failed to record examination", logger.Error(err))
		s.compensate(ctx, log, key)
		return nil, nil, err
	}
	exam.Patient = patient

	log.Info("examination recorded",
		logger.String("id_examination", exam.IDExamination),
		logger.String("model_prediction", exam.ModelPrediction),
		logger.Float64("confidence_score", exam.ConfidenceScore))
	return exam, prediction, nil
}

// compensate deletes an uploaded object whose examination was never
// recorded. A failed delete leaves an orphan that is logged by key.
func (s *Service) compensate(ctx context.Context, log logger.Logger, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	err := s.bucket.Delete(ctx, key)
	s.metrics.RecordStorage("delete", err)
	if err != nil {
		s.metrics.RecordCompensation("orphaned")
		log.Error("orphaned image object after failed detect",
			logger.String("bucket", s.bucket.Name()),
			logger.String("key", key),
			logger.Error(err))
		return
	}
	s.metrics.RecordCompensation("deleted")
	log.Debug("removed uploaded image after failed detect", logger.String("key", key))
}

// examinationFollowUp is what gets announced about a recorded examination,
// copied out of the visit so nothing is sent while the visit is locked.
type examinationFollowUp struct {
	outcome inference.Outcome
	event   mqtt.ExaminationEvent
	alert   notification.AlertData
}

// followUp captures the announcement for exam. The caller holds v.mu.
func (s *Service) followUp(v *Visit, exam *datastore.Examination) examinationFollowUp {
	return examinationFollowUp{
		outcome: v.outcome,
		event: mqtt.ExaminationEvent{
			Event:           mqtt.EventExaminationCreated,
			ExaminationID:   exam.IDExamination,
			PatientID:       exam.PatientID,
			DoctorID:        exam.DoctorID,
			ModelPrediction: exam.ModelPrediction,
			ConfidenceScore: exam.ConfidenceScore,
			Outcome:         v.outcome.String(),
			ImageURL:        exam.ImageURL,
			Timestamp:       exam.ExaminationDate,
		},
		alert: notification.AlertData{
			ExaminationID: exam.IDExamination,
			PatientName:   v.patient.FullName,
			DoctorName:    v.doctorName,
			Confidence:    exam.ConfidenceScore,
			ImageURL:      exam.ImageURL,
			Date:          exam.ExaminationDate,
		},
	}
}

// announce feeds metrics, alerts and events. Failures here never affect
// the visit.
func (s *Service) announce(ctx context.Context, f examinationFollowUp) {
	s.metrics.RecordExamination(f.outcome.String())

	if s.hooks.Events != nil {
		s.hooks.Events.PublishExamination(ctx, f.event)
	}

	switch f.outcome {
	case inference.OutcomeMelanoma:
		if s.hooks.Events != nil {
			event := f.event
			event.Event = mqtt.EventExaminationMelanoma
			s.hooks.Events.PublishExamination(ctx, event)
		}
		if s.hooks.Alerts != nil {
			s.hooks.Alerts.Enqueue(notification.MelanomaAlert(f.alert))
		}
	case inference.OutcomeBenign, inference.OutcomeNonSkin:
	}
}

// Retake discards the image of a non-skin result and returns to capture.
// The recorded examination and any note saved on it are kept.
func (s *Service) Retake(doctorID, visitID string) (*Snapshot, error) {
	v, err := s.lookup(doctorID, visitID)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.state.hasResult() {
		return nil, transitionError(ErrInvalidTransition, v, "retake")
	}
	if !v.outcome.AllowsRetake() {
		return nil, transitionError(ErrRetakeNotAllowed, v, "retake")
	}

	if v.previewToken != "" {
		s.previews.Revoke(v.previewToken)
		v.previewToken = ""
	}
	v.image = nil
	v.clearResult()
	s.transition(v, StatePatientSelected)
	return v.snapshot(), nil
}

// SaveNote stores the clinical note on the visit's examination. Saving
// again overwrites the previous note.
func (s *Service) SaveNote(ctx context.Context, doctorID, visitID, note string) (*Snapshot, error) {
	v, err := s.lookup(doctorID, visitID)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.state.canSaveNote() || !v.outcome.AllowsNote() {
		return nil, transitionError(ErrInvalidTransition, v, "save-note")
	}

	note = NormalizeNote(note)
	if err := s.store.UpdateExaminationNote(ctx, v.examination.IDExamination, note); err != nil {
		return nil, err
	}
	v.note = note
	v.examination.Notes = &note
	s.metrics.RecordNoteSaved()
	s.transition(v, StateNoteSaved)
	return v.snapshot(), nil
}

// NormalizeNote trims a note and reduces HTML to plain text.
func NormalizeNote(note string) string {
	note = strings.TrimSpace(note)
	if strings.ContainsAny(note, "<&") {
		note = strings.TrimSpace(html2text.HTML2Text(note))
	}
	return note
}

func (s *Service) lookup(doctorID, visitID string) (*Visit, error) {
	v, ok := s.visits.Get(visitID)
	if !ok || v.doctorID != doctorID {
		return nil, visitNotFound(visitID)
	}
	return v, nil
}

// transition moves v to next. The caller holds v.mu.
func (s *Service) transition(v *Visit, next State) {
	if v.state != next {
		s.metrics.RecordTransition(v.state.String(), next.String())
	}
	v.state = next
	v.updatedAt = s.now()
}

// release frees everything a visit holds outside itself. It runs on every
// exit path: End, Close and expiry.
func (s *Service) release(v *Visit) {
	n := s.previews.RevokeAll(v.id)
	s.logger.Debug("visit released",
		logger.String("visit_id", v.id),
		logger.Int("previews_revoked", n))
}

func (s *Service) newPatient(in PatientInput) (*datastore.Patient, error) {
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return nil, validationError("full_name is required")
	}
	birth := strings.TrimSpace(in.BirthDate)
	if birth == "" {
		return nil, validationError("birth_date is required")
	}
	if _, err := time.Parse(birthDateLayout, birth); err != nil {
		return nil, validationError("birth_date must be YYYY-MM-DD")
	}
	gender := strings.TrimSpace(in.Gender)
	if gender == "" {
		gender = s.config.DefaultGender
	}
	return &datastore.Patient{
		FullName:  name,
		BirthDate: birth,
		Gender:    gender,
		Complaint: strings.TrimSpace(in.Complaint),
	}, nil
}
