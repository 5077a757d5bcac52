package domain

import (
	"errors"
	"fmt"
)

// Stable error-type tags surfaced in the scheduler-facing envelope
const (
	ErrTypeValidation          = "ValidationError"
	ErrTypeTemplateNotFound    = "TemplateNotFoundError"
	ErrTypeRequestNotFound     = "RequestNotFoundError"
	ErrTypeMachineNotFound     = "MachineNotFoundError"
	ErrTypeInvalidRequestState = "InvalidRequestStateError"
	ErrTypeInvalidMachineState = "InvalidMachineStateError"
	ErrTypeRequestValidation   = "RequestValidationError"
	ErrTypeResourceNotFound    = "ResourceNotFoundError"
	ErrTypeInfrastructure      = "InfrastructureError"
	ErrTypeInternal            = "InternalError"
	ErrTypeRateLimit           = "RateLimitExceeded"
)

// ValidationError reports malformed input at the boundary or at aggregate
// construction. Never retried.
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

// RequestValidationError reports a request that is well-formed but violates a
// template or broker constraint (count above template maximum, quota).
type RequestValidationError struct {
	Message string
}

func (e *RequestValidationError) Error() string { return e.Message }

// NotFoundKind names the aggregate kind a NotFoundError refers to
type NotFoundKind string

const (
	KindTemplate NotFoundKind = "template"
	KindRequest  NotFoundKind = "request"
	KindMachine  NotFoundKind = "machine"
	KindResource NotFoundKind = "resource"
)

// NotFoundError reports an absent template, request or machine
type NotFoundError struct {
	Kind NotFoundKind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NewTemplateNotFound returns a NotFoundError for a template id
func NewTemplateNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: KindTemplate, ID: id}
}

// NewRequestNotFound returns a NotFoundError for a request id
func NewRequestNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: KindRequest, ID: id}
}

// NewMachineNotFound returns a NotFoundError for a machine id
func NewMachineNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: KindMachine, ID: id}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// InvalidRequestStateError reports an illegal request status transition
type InvalidRequestStateError struct {
	RequestID string
	From      RequestStatus
	To        RequestStatus
}

func (e *InvalidRequestStateError) Error() string {
	return fmt.Sprintf("request %s: invalid transition %s -> %s", e.RequestID, e.From, e.To)
}

// InvalidMachineStateError reports an illegal machine status transition or a
// machine in the wrong state for the requested operation
type InvalidMachineStateError struct {
	MachineID string
	From      MachineStatus
	To        MachineStatus
	Message   string
}

func (e *InvalidMachineStateError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("machine %s: %s", e.MachineID, e.Message)
	}
	return fmt.Sprintf("machine %s: invalid transition %s -> %s", e.MachineID, e.From, e.To)
}

// MachineAllocationError reports an attempt to attach a machine to a request
// that already holds its requested count
type MachineAllocationError struct {
	RequestID string
	MachineID string
	Limit     int
}

func (e *MachineAllocationError) Error() string {
	return fmt.Sprintf("request %s: cannot attach machine %s, already at requested count %d",
		e.RequestID, e.MachineID, e.Limit)
}

// RateLimitError reports a boundary operation rejected before any state was
// mutated
type RateLimitError struct {
	Operation string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Operation)
}

// InfrastructureError wraps a provider or storage failure surfaced to the
// caller after retries were exhausted
type InfrastructureError struct {
	Operation string
	Err       error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// ErrorType maps an error to its stable envelope tag
func ErrorType(err error) string {
	var (
		ve   *ValidationError
		rve  *RequestValidationError
		nf   *NotFoundError
		irs  *InvalidRequestStateError
		ims  *InvalidMachineStateError
		mae  *MachineAllocationError
		rle  *RateLimitError
		infe *InfrastructureError
	)
	switch {
	case errors.As(err, &ve):
		return ErrTypeValidation
	case errors.As(err, &rve):
		return ErrTypeRequestValidation
	case errors.As(err, &nf):
		switch nf.Kind {
		case KindTemplate:
			return ErrTypeTemplateNotFound
		case KindRequest:
			return ErrTypeRequestNotFound
		case KindMachine:
			return ErrTypeMachineNotFound
		}
		return ErrTypeResourceNotFound
	case errors.As(err, &irs):
		return ErrTypeInvalidRequestState
	case errors.As(err, &ims):
		return ErrTypeInvalidMachineState
	case errors.As(err, &mae):
		return ErrTypeRequestValidation
	case errors.As(err, &rle):
		return ErrTypeRateLimit
	case errors.As(err, &infe):
		return ErrTypeInfrastructure
	default:
		return ErrTypeInternal
	}
}
