package app

import (
	"errors"
	"fmt"
	"net/http"

	"recipelineage/api/internal/model"
)

// DomainError is a transport-level failure: a malformed request rather than a
// rejected engine operation.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var engineErr *model.Error
	if errors.As(err, &engineErr) {
		switch engineErr.Code {
		case model.CodeValidation:
			return http.StatusUnprocessableEntity, engineErr.Code, engineErr.Message, engineErr.Details
		case model.CodeNotFound:
			return http.StatusNotFound, engineErr.Code, engineErr.Message, engineErr.Details
		case model.CodeSubscriptionOverrun:
			return http.StatusGone, engineErr.Code, engineErr.Message, engineErr.Details
		case model.CodeStorageUnavailable:
			// The wrapped cause stays in the server log.
			return http.StatusServiceUnavailable, engineErr.Code, engineErr.Message, nil
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
