package examination

import (
	"github.com/dermascan/dermascan/internal/errors"
)

var (
	// ErrVisitNotFound is returned for unknown, expired or foreign visits.
	ErrVisitNotFound = errors.NewStd("visit not found")

	// ErrDetectInProgress is returned when detect is requested while a
	// prediction for the same visit is still running.
	ErrDetectInProgress = errors.NewStd("detection already in progress")

	// ErrInvalidTransition is returned when an operation is not allowed in
	// the visit's current state.
	ErrInvalidTransition = errors.NewStd("operation not allowed in current visit state")

	// ErrRetakeNotAllowed is returned for retakes of skin results.
	ErrRetakeNotAllowed = errors.NewStd("retake is only allowed for non-skin results")
)

func visitNotFound(id string) error {
	return errors.New(ErrVisitNotFound).
		Component("examination").
		Category(errors.CategoryNotFound).
		Context("visit_id", id).
		Build()
}

func transitionError(err error, v *Visit, operation string) error {
	category := errors.CategoryState
	if err == ErrDetectInProgress {
		category = errors.CategoryConflict
	}
	return errors.New(err).
		Component("examination").
		Category(category).
		Context("visit_id", v.id).
		Context("state", v.state.String()).
		Context("operation", operation).
		Build()
}

func validationError(msg string) error {
	return errors.Newf("%s", msg).
		Component("examination").
		Category(errors.CategoryValidation).
		Build()
}
