package app

import "fmt"

// DomainError is a service-level failure the HTTP layer can map directly to
// a response: Status becomes the HTTP status, Code and Message the error
// body, Details an optional structured payload (limits, field names).
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
