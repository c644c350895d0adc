package examination

import (
	"sync"
	"time"

	"github.com/dermascan/dermascan/internal/capture"
	"github.com/dermascan/dermascan/internal/datastore"
	"github.com/dermascan/dermascan/internal/inference"
)

// Visit is one doctor's pass through the workflow for one patient.
// All fields are guarded by mu.
type Visit struct {
	mu sync.Mutex

	id         string
	doctorID   string
	doctorName string
	state      State

	patient   *datastore.Patient
	complaint string

	image        *capture.Image
	previewToken string

	examination   *datastore.Examination
	outcome       inference.Outcome
	bestLabel     string
	probabilities inference.Probabilities
	note          string

	createdAt time.Time
	updatedAt time.Time
}

// Snapshot is an immutable copy of a visit for callers outside the package.
type Snapshot struct {
	ID            string                  `json:"id"`
	DoctorID      string                  `json:"doctor_id"`
	State         State                   `json:"state"`
	Patient       *datastore.Patient      `json:"patient,omitempty"`
	Complaint     string                  `json:"complaint"`
	HasImage      bool                    `json:"has_image"`
	PreviewToken  string                  `json:"preview_token,omitempty"`
	Examination   *datastore.Examination  `json:"examination,omitempty"`
	Outcome       *inference.Outcome      `json:"outcome,omitempty"`
	BestLabel     string                  `json:"best_label,omitempty"`
	Probabilities inference.Probabilities `json:"probabilities,omitempty"`
	Note          string                  `json:"note,omitempty"`
	CanRetake     bool                    `json:"can_retake"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// snapshot copies the visit. The caller holds mu.
func (v *Visit) snapshot() *Snapshot {
	s := &Snapshot{
		ID:           v.id,
		DoctorID:     v.doctorID,
		State:        v.state,
		Complaint:    v.complaint,
		HasImage:     v.image != nil,
		PreviewToken: v.previewToken,
		Note:         v.note,
		CreatedAt:    v.createdAt,
		UpdatedAt:    v.updatedAt,
	}
	if v.patient != nil {
		p := *v.patient
		s.Patient = &p
	}
	if v.examination != nil {
		e := *v.examination
		s.Examination = &e
		outcome := v.outcome
		s.Outcome = &outcome
		s.BestLabel = v.bestLabel
		s.Probabilities = append(inference.Probabilities(nil), v.probabilities...)
		s.CanRetake = v.state.hasResult() && v.outcome.AllowsRetake()
	}
	return s
}

// clearResult forgets the examination held by the visit. The persisted row
// is untouched.
func (v *Visit) clearResult() {
	v.examination = nil
	v.outcome = inference.OutcomeBenign
	v.bestLabel = ""
	v.probabilities = nil
	v.note = ""
}
