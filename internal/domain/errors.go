package domain

import "errors"

// Common errors used throughout the application.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrQueueFull         = errors.New("worker queue is full")
	ErrNoAPIKeys         = errors.New("no API keys configured")
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrBootstrapDisabled = errors.New("bootstrap key disabled - API keys exist")
)

// ErrorKind classifies a terminal request failure. The kind is part of the
// durable request record so callers can tell "your request violated policy"
// apart from "the upstream service was down" after the background run ends.
type ErrorKind string

const (
	ErrorKindParsing         ErrorKind = "parsing_error"
	ErrorKindPolicyViolation ErrorKind = "policy_violation"
	ErrorKindGeneration      ErrorKind = "generation_error"
	ErrorKindPublication     ErrorKind = "publication_error"
	ErrorKindUpstream        ErrorKind = "upstream_error"
	ErrorKindConfiguration   ErrorKind = "configuration_error"
	ErrorKindUnexpected      ErrorKind = "unexpected_error"
)

// RequestError is the error payload recorded on a failed ProvisionRequest.
// For policy violations it carries the full ordered violation list, never
// just a count.
type RequestError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Violations []string  `json:"violations,omitempty"`
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return e.Message
}

// APIError represents an error response from the API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}
