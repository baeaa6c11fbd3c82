/*
errors.go - Centralized error types for the engine

PURPOSE:
  All expected failure conditions in one place. Each structured error
  unwraps to a sentinel so callers can branch with errors.Is and still
  recover details with errors.As.

ERROR CATEGORIES:
  1. Validation - non-positive value, missing resolution note, bad input
  2. Not found - unknown product, shipment or error log id
  3. Insufficient stock - a move or shipment would drive a counter negative
  4. Conflict - mutating a terminal shipment, resolving a resolved error log

  Anything else is an infrastructure failure (storage unavailable) and is
  classified as KindInternal.

BOUNDARY RESULT:
  Expected failures are converted to a Failure value at the component
  boundary (API handlers, CLI). Failure is the structured
  {success: false, errorKind, message} result.

SEE ALSO:
  - ledger.go, shipment.go, resolver.go: Return these errors
  - api/handlers.go: Maps Kind to HTTP status
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports invalid caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown id.
type NotFoundError struct {
	Resource string // "product", "shipment", "error log"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ProductNotFound, ShipmentNotFound and ErrorLogNotFound are used by Store
// implementations.
func ProductNotFound(id ProductID) error {
	return &NotFoundError{Resource: "product", ID: string(id)}
}

func ShipmentNotFound(id ShipmentID) error {
	return &NotFoundError{Resource: "shipment", ID: string(id)}
}

func ErrorLogNotFound(id ErrorLogID) error {
	return &NotFoundError{Resource: "error log", ID: string(id)}
}

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	ProductID ProductID
	Counter   Counter
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: %s has %d, requested %d",
		e.ProductID, e.Counter, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ConflictError reports an operation not allowed in the current state.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Resource, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Kind classifies an error for boundary results.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInsufficientStock Kind = "insufficient_stock"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

// KindOf returns the kind of err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrConflict):
		return KindConflict
	}
	return KindInternal
}

// IsClientError returns true if the error is due to the request itself
// rather than the infrastructure.
func IsClientError(err error) bool {
	return err != nil && KindOf(err) != KindInternal
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Failure is the structured result returned across the engine boundary
// for expected failures.
type Failure struct {
	Success   bool   `json:"success"`
	ErrorKind Kind   `json:"errorKind"`
	Message   string `json:"message"`
}

// NewFailure converts err into a Failure. Internal errors keep a generic
// message so storage details do not leak to callers.
func NewFailure(err error) Failure {
	kind := KindOf(err)
	msg := "internal error"
	if kind != KindInternal {
		msg = err.Error()
	}
	return Failure{Success: false, ErrorKind: kind, Message: msg}
}
