// model.go defines the clinic records persisted by the datastore
package datastore

import "time"

// Patient is a person seen at the clinic. Name, birth date and gender are
// fixed once recorded; the complaint reflects the latest visit.
type Patient struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	FullName  string    `gorm:"size:255;not null;index:idx_patients_full_name" json:"full_name"`
	BirthDate string    `gorm:"size:10" json:"birth_date"` // YYYY-MM-DD
	Gender    string    `gorm:"size:32" json:"gender"`
	Complaint string    `gorm:"type:text" json:"complaint"`
	CreatedAt time.Time `json:"created_at"`
}

// Doctor is a registered clinician. ID equals the authentication identity.
type Doctor struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	FullName     string    `gorm:"size:255;not null" json:"full_name"`
	Email        string    `gorm:"size:255;not null;uniqueIndex:idx_doctors_email" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Examination is one classified lesion image. IDExamination is the
// human-readable PSN-XXX identifier.
type Examination struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	IDExamination   string    `gorm:"column:id_examination;size:32;not null;uniqueIndex:idx_examinations_id_examination" json:"id_examination"`
	PatientID       uint      `gorm:"not null;index:idx_examinations_patient_id" json:"patient_id"`
	Patient         *Patient  `gorm:"foreignKey:PatientID;constraint:OnDelete:CASCADE" json:"patient,omitempty"`
	DoctorID        string    `gorm:"size:36;not null;index:idx_examinations_doctor_id" json:"doctor_id"`
	Doctor          *Doctor   `gorm:"foreignKey:DoctorID;constraint:OnDelete:RESTRICT" json:"doctor,omitempty"`
	ImageURL        string    `gorm:"size:1024" json:"image_url"`
	ImageObject     string    `gorm:"size:512" json:"-"` // bucket key, used for compensation and cleanup
	ModelPrediction string    `gorm:"size:64" json:"model_prediction"`
	ConfidenceScore float64   `json:"confidence_score"`
	Complaint       string    `gorm:"type:text" json:"complaint"`
	Notes           *string   `gorm:"type:text" json:"notes"`
	ExaminationDate time.Time `gorm:"autoCreateTime;index:idx_examinations_date" json:"examination_date"`
}

// ExaminationQuery narrows ListExaminations. Zero values do not filter.
type ExaminationQuery struct {
	DoctorID  string
	PatientID uint
	Since     time.Time
	Limit     int
}
