package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/paddock/pkg/provider/fake"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{
			name: "capacity code",
			err:  fake.APIError("InsufficientInstanceCapacity", "not enough capacity"),
			kind: KindCapacity,
		},
		{
			name: "quota code",
			err:  fake.APIError("InstanceLimitExceeded", "limit reached"),
			kind: KindQuota,
		},
		{
			name: "iam code",
			err:  fake.APIError("UnauthorizedOperation", "denied"),
			kind: KindIAM,
		},
		{
			name: "not found code",
			err:  fake.APIError("InvalidInstanceID.NotFound", "gone"),
			kind: KindResourceNotFound,
		},
		{
			name: "unknown coded rejection",
			err:  fake.APIError("InvalidParameterValue", "bad input"),
			kind: KindValidation,
		},
		{
			name: "uncoded error",
			err:  errors.New("connection reset"),
			kind: KindNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("TestOp", tt.err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, Classify("TestOp", nil))
}

func TestClassifyPassesThroughTypedErrors(t *testing.T) {
	typed := &Error{Kind: KindCapacity, Op: "CreateFleet", Err: errors.New("no capacity")}
	assert.Equal(t, error(typed), Classify("Outer", typed))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fake.APIError("RequestLimitExceeded", "slow down")))
	assert.True(t, IsTransient(fake.APIError("InsufficientInstanceCapacity", "wait")))
	assert.False(t, IsTransient(fake.APIError("InvalidAMIID.NotFound", "gone")))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(nil))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fake.APIError("InvalidFleetId.NotFound", "gone")))
	assert.False(t, IsNotFound(fake.APIError("Throttling", "slow down")))
	assert.False(t, IsNotFound(nil))
}
