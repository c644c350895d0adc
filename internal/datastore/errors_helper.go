package datastore

import (
	"strings"

	"gorm.io/gorm"

	"github.com/dermascan/dermascan/internal/errors"
)

// ErrDuplicateExaminationID is returned when an allocated identifier is
// already taken and the retry budget is exhausted.
var ErrDuplicateExaminationID = errors.NewStd("examination identifier already exists")

// dbError creates a categorized database error. Record-not-found becomes
// CategoryNotFound and unique violations CategoryConflict.
func dbError(err error, operation string, context ...any) error {
	category := errors.CategoryDatabase
	priority := errors.PriorityMedium
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		category = errors.CategoryNotFound
		priority = errors.PriorityLow
	case isUniqueViolation(err):
		category = errors.CategoryConflict
		priority = errors.PriorityLow
	}

	builder := errors.New(err).
		Component("datastore").
		Category(category).
		Priority(priority).
		Context("operation", operation)

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}
	return builder.Build()
}

func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", value).
		Build()
}

func notOpenError(operation string) error {
	return errors.Newf("database connection is not initialized").
		Component("datastore").
		Category(errors.CategoryState).
		Context("operation", operation).
		Build()
}

// isUniqueViolation matches translated gorm errors and the raw driver
// messages of the three supported engines.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}
