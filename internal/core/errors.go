package core

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidReference     = errors.New("invalid reference")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidDate          = errors.New("invalid date")
	ErrInvalidInput         = errors.New("invalid input")
	ErrConflict             = errors.New("conflict")
	ErrStorageFailure       = errors.New("storage failure")
	ErrExpiredOrUnknownLink = errors.New("expired or unknown link")
)

// FieldError ties a validation failure to the input field that caused it.
type FieldError struct {
	Field string
	Err   error
}

func NewFieldError(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// FieldOf returns the field name carried by err, if any.
func FieldOf(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Field
	}
	return ""
}
