package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("short link not found")
	ErrConflict           = errors.New("short code already exists")
	ErrExpired            = errors.New("short link has expired")
	ErrDisabled           = errors.New("short link is disabled")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrCodeSpaceExhausted = errors.New("could not generate a unique short code, widen the code length or alphabet")
	ErrStorage            = errors.New("storage failure")
)

// ValidationError is a user-correctable input error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StorageError wraps a datastore failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
