package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	// Intent-scoped errors: contained and reported per intent
	ErrorCategoryValidation ErrorCategory = "VALIDATION"

	// Exchange errors, split by how the coordinator must react
	ErrorCategoryExchangeTransient ErrorCategory = "EXCHANGE_TRANSIENT"
	ErrorCategoryExchangeFatal     ErrorCategory = "EXCHANGE_FATAL"

	// System-scoped errors: always route through the kill switch
	ErrorCategoryReconciliation ErrorCategory = "RECONCILIATION"
	ErrorCategoryAnomaly        ErrorCategory = "ANOMALY"

	// Persistence failures are fatal for the whole process: the system must
	// not keep trading with an un-persisted kill-switch state.
	ErrorCategoryPersistence ErrorCategory = "PERSISTENCE"

	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
	ErrorCategoryInternal      ErrorCategory = "INTERNAL"
)

// AgentError represents a categorized error with context
type AgentError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

// Error implements the error interface
func (e *AgentError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *AgentError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error can be retried
func (e *AgentError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error must stop the whole process
func (e *AgentError) IsFatal() bool {
	return e.Category == ErrorCategoryPersistence || e.Category == ErrorCategoryConfiguration
}

// IsSystemScoped returns whether this error must route through the kill switch
func (e *AgentError) IsSystemScoped() bool {
	switch e.Category {
	case ErrorCategoryReconciliation, ErrorCategoryAnomaly, ErrorCategoryPersistence:
		return true
	}
	return false
}

// New creates a new categorized agent error
func New(category ErrorCategory, component, operation, message string) *AgentError {
	return &AgentError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: category == ErrorCategoryExchangeTransient,
	}
}

// Wrap wraps an existing error with agent error context
func Wrap(err error, category ErrorCategory, component, operation string) *AgentError {
	if err == nil {
		return nil
	}
	return &AgentError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Retryable:  category == ErrorCategoryExchangeTransient,
	}
}

// WithRetryable overrides the retryable flag
func (e *AgentError) WithRetryable(retryable bool) *AgentError {
	e.Retryable = retryable
	return e
}

// Category extracts the category of an error, or INTERNAL for plain errors.
func Category(err error) ErrorCategory {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Category
	}
	return ErrorCategoryInternal
}

// Common constructors

func NewValidationError(component, operation, message string) *AgentError {
	return New(ErrorCategoryValidation, component, operation, message)
}

func NewAnomalyError(component, operation, message string) *AgentError {
	return New(ErrorCategoryAnomaly, component, operation, message)
}

func NewReconciliationError(component, operation, message string) *AgentError {
	return New(ErrorCategoryReconciliation, component, operation, message)
}

func NewPersistenceError(component, operation string, err error) *AgentError {
	return Wrap(err, ErrorCategoryPersistence, component, operation)
}

func NewConfigurationError(component, operation, message string) *AgentError {
	return New(ErrorCategoryConfiguration, component, operation, message)
}
