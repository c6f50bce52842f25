package domain

import "errors"

var (
	// ErrValidation signals a missing or malformed request field.
	ErrValidation = errors.New("validation failed")
	// ErrNoMatch signals that no tagged item was eligible for scoring.
	ErrNoMatch = errors.New("no suitable image found")

	// ErrAnalysisFailed signals a vision provider transport or decoding failure.
	ErrAnalysisFailed = errors.New("image analysis failed")
	// ErrInvalidAnalysis signals a well-formed vision response with empty description or tags.
	ErrInvalidAnalysis = errors.New("image analysis returned no description or tags")
	// ErrEmbeddingFailed signals an embedding provider failure.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrStoreFailed signals that the vector store rejected a write or query.
	ErrStoreFailed = errors.New("vector store failed")
)

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return "Missing '" + e.Field + "' in request body"
	}
	return "Invalid '" + e.Field + "': " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewMissingField creates a validation error for an absent required field.
func NewMissingField(field string) error {
	return &ValidationError{Field: field}
}

// NewInvalidField creates a validation error for a present but unusable field.
func NewInvalidField(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
