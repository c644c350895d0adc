package datastore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

const (
	// DefaultExaminationIDPrefix precedes the numeric suffix of every identifier.
	DefaultExaminationIDPrefix = "PSN-"

	examinationIDDigits = 3
)

// FormatExaminationID renders n zero-padded to at least three digits.
func FormatExaminationID(prefix string, n int) string {
	return fmt.Sprintf("%s%0*d", prefix, examinationIDDigits, n)
}

// ParseExaminationID returns the numeric suffix of id. The suffix must be
// digits only.
func ParseExaminationID(prefix, id string) (int, error) {
	suffix, ok := strings.CutPrefix(id, prefix)
	if !ok || suffix == "" {
		return 0, fmt.Errorf("examination id %q lacks prefix %q", id, prefix)
	}
	if strings.TrimLeft(suffix, "0123456789") != "" {
		return 0, fmt.Errorf("examination id %q has a non-numeric suffix", id)
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, fmt.Errorf("examination id %q is out of range", id)
	}
	return n, nil
}

// NextExaminationID previews the identifier the next insert would get.
// CreateExamination allocates it atomically; this call does not reserve it.
func (ds *DataStore) NextExaminationID(ctx context.Context) (string, error) {
	db, err := ds.db(ctx, "next_examination_id")
	if err != nil {
		return "", err
	}
	return ds.nextID(db)
}

// nextID reads the current maximum. Longer suffixes sort first so that
// PSN-1000 follows PSN-999. Ids whose suffix is not numeric were written out
// of band and are skipped.
func (ds *DataStore) nextID(tx *gorm.DB) (string, error) {
	rows, err := tx.Model(&Examination{}).
		Select("id_examination").
		Where("id_examination LIKE ? ESCAPE '!'", escapeLike(ds.idPrefix)+"%").
		Order("LENGTH(id_examination) DESC").
		Order("id_examination DESC").
		Rows()
	if err != nil {
		return "", dbError(err, "next_examination_id")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", dbError(err, "next_examination_id")
		}
		n, err := ParseExaminationID(ds.idPrefix, id)
		if err != nil {
			ds.Logger.Warn("skipping malformed examination id", logger.String("id_examination", id))
			continue
		}
		return FormatExaminationID(ds.idPrefix, n+1), nil
	}
	if err := rows.Err(); err != nil {
		return "", dbError(err, "next_examination_id")
	}
	return FormatExaminationID(ds.idPrefix, 1), nil
}

// CreateExamination assigns exam.IDExamination and inserts the row. The read
// of the current maximum and the insert share a transaction, the unique index
// rejects a concurrent duplicate, and a rejected allocation is retried.
func (ds *DataStore) CreateExamination(ctx context.Context, exam *Examination) error {
	db, err := ds.db(ctx, "create_examination")
	if err != nil {
		return err
	}

	ds.allocMutex.Lock()
	defer ds.allocMutex.Unlock()

	var lastErr error
	for attempt := 1; attempt <= ds.idRetries; attempt++ {
		exam.ID = 0
		err := db.Transaction(func(tx *gorm.DB) error {
			id, err := ds.nextID(tx)
			if err != nil {
				return err
			}
			exam.IDExamination = id
			return tx.Omit("Patient", "Doctor").Create(exam).Error
		})
		if err == nil {
			ds.Logger.Info("examination created",
				logger.String("id_examination", exam.IDExamination),
				logger.Uint("patient_id", exam.PatientID),
				logger.String("doctor_id", exam.DoctorID),
				logger.Int("attempt", attempt))
			return nil
		}
		if !isUniqueViolation(err) {
			return dbError(err, "create_examination", "patient_id", exam.PatientID)
		}

		lastErr = err
		ds.Logger.Warn("examination id collision, retrying",
			logger.String("id_examination", exam.IDExamination),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", ds.idRetries))
		if ctx.Err() != nil {
			break
		}
	}

	exam.IDExamination = ""
	return errors.New(fmt.Errorf("%w: %w", ErrDuplicateExaminationID, lastErr)).
		Component("datastore").
		Category(errors.CategoryConflict).
		Context("operation", "create_examination").
		Context("attempts", ds.idRetries).
		Build()
}
