package provider

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// ErrorKind classifies a terminal provider error
type ErrorKind string

const (
	KindCapacity         ErrorKind = "Capacity"
	KindNetwork          ErrorKind = "Network"
	KindIAM              ErrorKind = "IAM"
	KindQuota            ErrorKind = "Quota"
	KindResourceNotFound ErrorKind = "ResourceNotFound"
	KindValidation       ErrorKind = "Validation"
)

// Error is a typed handler error carrying the classification of the
// underlying provider failure
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of a handler error, or empty when err
// is not one
func KindOf(err error) ErrorKind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return ""
}

// transientErrorCodes are retried with backoff before classification.
// This is not an exhaustive list, add to it as needed.
var transientErrorCodes = map[string]bool{
	"RequestLimitExceeded":          true,
	"Throttling":                    true,
	"ThrottlingException":           true,
	"TooManyRequestsException":      true,
	"ServiceUnavailable":            true,
	"Unavailable":                   true,
	"InternalError":                 true,
	"InternalFailure":               true,
	"InsufficientInstanceCapacity":  true,
	"InsufficientHostCapacity":      true,
	"InsufficientCapacityOnOutpost": true,
	"UnfulfillableCapacity":         true,
}

// capacityErrorCodes signify that capacity is unable to be launched
var capacityErrorCodes = map[string]bool{
	"InsufficientInstanceCapacity": true,
	"InsufficientHostCapacity":     true,
	"UnfulfillableCapacity":        true,
	"SpotMaxPriceTooLow":           true,
	"MaxSpotInstanceCountExceeded": true,
}

var quotaErrorCodes = map[string]bool{
	"InstanceLimitExceeded":            true,
	"VcpuLimitExceeded":                true,
	"LimitExceededException":           true,
	"ResourceLimitExceeded":            true,
	"MaxSpotFleetRequestCountExceeded": true,
}

var iamErrorCodes = map[string]bool{
	"AccessDenied":                  true,
	"AccessDeniedException":         true,
	"UnauthorizedOperation":         true,
	"AuthFailure":                   true,
	"InvalidSpotFleetRequestConfig": true,
}

var notFoundErrorCodes = map[string]bool{
	"InvalidInstanceID.NotFound":                  true,
	"InvalidLaunchTemplateId.NotFound":            true,
	"InvalidLaunchTemplateName.NotFoundException": true,
	"InvalidFleetId.NotFound":                     true,
	"InvalidSpotFleetRequestId.NotFound":          true,
	"InvalidSubnetID.NotFound":                    true,
	"InvalidGroup.NotFound":                       true,
	"InvalidAMIID.NotFound":                       true,
	"NoSuchEntity":                                true,
	"ParameterNotFound":                           true,
}

// errorCode extracts the provider error code, empty when err is not an AWS
// API error
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsTransient reports whether the error is worth retrying with backoff
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return transientErrorCodes[errorCode(err)]
}

// IsNotFound reports whether the error means the provider resource is absent
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return notFoundErrorCodes[errorCode(err)]
}

// Classify converts a provider failure into a typed handler error based on
// its error code. Called after the retry wrapper exhausted its attempts.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var he *Error
	if errors.As(err, &he) {
		return err
	}
	code := errorCode(err)
	kind := KindNetwork
	switch {
	case capacityErrorCodes[code]:
		kind = KindCapacity
	case quotaErrorCodes[code]:
		kind = KindQuota
	case iamErrorCodes[code]:
		kind = KindIAM
	case notFoundErrorCodes[code]:
		kind = KindResourceNotFound
	case code != "":
		// a coded rejection the whitelist does not know is a validation
		// failure, not a connectivity problem
		kind = KindValidation
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
