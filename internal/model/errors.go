package model

import (
	"errors"
	"fmt"
)

const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeSubscriptionOverrun = "SUBSCRIPTION_OVERRUN"
	CodeStorageUnavailable  = "STORAGE_UNAVAILABLE"
)

// Sentinels for errors.Is; every *Error matches the sentinel of its code.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrSubscriptionOverrun = errors.New("subscription overrun")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)

type Error struct {
	Code    string
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Code == CodeValidation
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrSubscriptionOverrun:
		return e.Code == CodeSubscriptionOverrun
	case ErrStorageUnavailable:
		return e.Code == CodeStorageUnavailable
	}
	return false
}

func Validation(message string, details any) *Error {
	return &Error{Code: CodeValidation, Message: message, Details: details}
}

func NotFound(resource, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: resource + " not found",
		Details: map[string]any{"id": id},
	}
}

func Overrun(recipeID string, capacity int) *Error {
	return &Error{
		Code:    CodeSubscriptionOverrun,
		Message: fmt.Sprintf("subscriber buffer of %d exceeded", capacity),
		Details: map[string]any{"recipeId": recipeID},
	}
}

// StorageUnavailable wraps a persistence failure. Errors already in the taxonomy pass through.
func StorageUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return err
	}
	return &Error{Code: CodeStorageUnavailable, Message: op + " failed", Err: err}
}

// CodeOf returns the taxonomy code of err, or "" when err is outside it.
func CodeOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}
