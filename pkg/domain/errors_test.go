package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ValidationError{Field: "machineCount", Message: "must be strictly positive"}, ErrTypeValidation},
		{&RequestValidationError{Message: "over quota"}, ErrTypeRequestValidation},
		{NewTemplateNotFound("linux"), ErrTypeTemplateNotFound},
		{NewRequestNotFound("req-1"), ErrTypeRequestNotFound},
		{NewMachineNotFound("i-0abc"), ErrTypeMachineNotFound},
		{&NotFoundError{Kind: KindResource, ID: "subnet-0123"}, ErrTypeResourceNotFound},
		{&InvalidRequestStateError{RequestID: "req-1", From: RequestStatusComplete, To: RequestStatusRunning}, ErrTypeInvalidRequestState},
		{&InvalidMachineStateError{MachineID: "i-0abc"}, ErrTypeInvalidMachineState},
		{&MachineAllocationError{RequestID: "req-1", MachineID: "i-0abc", Limit: 2}, ErrTypeRequestValidation},
		{&RateLimitError{Operation: "requestMachines"}, ErrTypeRateLimit},
		{&InfrastructureError{Operation: "RunInstances", Err: errors.New("boom")}, ErrTypeInfrastructure},
		{errors.New("anything else"), ErrTypeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorType(tt.err), "%v", tt.err)
	}
}

func TestErrorTypeUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("loading template: %w", NewTemplateNotFound("linux"))
	assert.Equal(t, ErrTypeTemplateNotFound, ErrorType(wrapped))
	assert.True(t, IsNotFound(wrapped))
}

func TestInfrastructureErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &InfrastructureError{Operation: "DescribeInstances", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "DescribeInstances")
}
