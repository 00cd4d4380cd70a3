package app

import (
	"fmt"
	"net/http"
)

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

func errNoteNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOTE_NOT_FOUND", "Note not found", nil)
}

func errRecordingNotFound() *DomainError {
	return domainError(http.StatusNotFound, "RECORDING_NOT_FOUND", "Recording not found", nil)
}

func validationError(message string, details map[string]string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}
