package api

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ErrorCodeInvalidAction                = "InvalidAction"
	ErrorCodeInstanceNotFound             = "InvalidInstanceID.NotFound"
	ErrorCodeDryRunOperation              = "DryRunOperation"
	ErrorCodeInvalidParameterValue        = "InvalidParameterValue"
	ErrorCodeMissingParameter             = "MissingParameter"
	ErrorCodeUnknownParameter             = "UnknownParameter"
	ErrorCodeInvalidParameterCombination  = "InvalidParameterCombination"
	ErrorCodeIdempotentParameterMismatch  = "IdempotentParameterMismatch"
	ErrorCodeOperationNotPermitted        = "OperationNotPermitted"
	ErrorCodeIncorrectInstanceState       = "IncorrectInstanceState"
	ErrorCodeUnsupportedOperation         = "UnsupportedOperation"
	ErrorCodeImageNotFound                = "InvalidAMIID.NotFound"
	ErrorCodeSecurityGroupNotFound        = "InvalidGroup.NotFound"
	ErrorCodeInsufficientInstanceCapacity = "InsufficientInstanceCapacity"
	ErrorCodeServiceUnavailable           = "ServiceUnavailable"
	ErrorCodeVolumeNotFound               = "InvalidVolume.NotFound"

	// Custom errors
	ErrorCodeMethodNotAllowed = "MethodNotAllowed"
	ErrorCodeInvalidForm      = "InvalidForm"
)

type Error struct {
	Code string
	Err  error
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
	}
	return e.Code
}

func ErrWithCode(code string, err error) *Error {
	return &Error{
		Code: code,
		Err:  err,
	}
}

// ErrorCode returns the EC2 error code carried by err, or an empty string
// when err is not an API error.
func ErrorCode(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsCode reports whether err is an API error with the given code
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// IsInfrastructure reports whether err signals a failure of the backing
// store or backend rather than a rejected request.
func IsInfrastructure(err error) bool {
	return IsCode(err, ErrorCodeServiceUnavailable)
}

func InvalidParameterValueError(param string, value string) *Error {
	//nolint
	err := fmt.Errorf("Value (%s) for parameter %s is invalid.", value, param)
	return ErrWithCode(ErrorCodeInvalidParameterValue, err)
}

func InstanceNotFoundError(ids ...string) *Error {
	//nolint
	err := fmt.Errorf("The instance IDs '%s' do not exist", strings.Join(ids, ", "))
	if len(ids) == 1 {
		//nolint
		err = fmt.Errorf("The instance ID '%s' does not exist", ids[0])
	}
	return ErrWithCode(ErrorCodeInstanceNotFound, err)
}

func IdempotentParameterMismatchError(token string) *Error {
	//nolint
	err := fmt.Errorf("Arguments on this idempotent request are inconsistent with arguments used in previous request(s) with client token %s.", token)
	return ErrWithCode(ErrorCodeIdempotentParameterMismatch, err)
}

// InvalidAttributeNameError is returned for attribute names outside the
// supported set. EC2 reports these as invalid parameter values.
func InvalidAttributeNameError(name string) *Error {
	return InvalidParameterValueError("attribute", name)
}

func MissingParameterError(param string) *Error {
	//nolint
	err := fmt.Errorf("The request must contain the parameter %s", param)
	return ErrWithCode(ErrorCodeMissingParameter, err)
}

func InvalidParameterCombinationError(msg string) *Error {
	return ErrWithCode(ErrorCodeInvalidParameterCombination, errors.New(msg))
}

func OperationNotPermittedError(instanceID string) *Error {
	//nolint
	err := fmt.Errorf("The instance '%s' may not be terminated. Modify its 'disableApiTermination' instance attribute and try again.", instanceID)
	return ErrWithCode(ErrorCodeOperationNotPermitted, err)
}

func IncorrectInstanceStateError(instanceID string, state string) *Error {
	//nolint
	err := fmt.Errorf("The instance '%s' is not in a state from which it can be %s.", instanceID, state)
	return ErrWithCode(ErrorCodeIncorrectInstanceState, err)
}

func UnsupportedOperationError(msg string) *Error {
	return ErrWithCode(ErrorCodeUnsupportedOperation, errors.New(msg))
}

func ImageNotFoundError(imageID string) *Error {
	//nolint
	err := fmt.Errorf("The image id '[%s]' does not exist", imageID)
	return ErrWithCode(ErrorCodeImageNotFound, err)
}

func SecurityGroupNotFoundError(groupID string) *Error {
	//nolint
	err := fmt.Errorf("The security group '%s' does not exist", groupID)
	return ErrWithCode(ErrorCodeSecurityGroupNotFound, err)
}

func InsufficientInstanceCapacityError(instanceType string, requested int, available int) *Error {
	//nolint
	err := fmt.Errorf("We currently do not have sufficient %s capacity: requested %d, available %d.", instanceType, requested, available)
	return ErrWithCode(ErrorCodeInsufficientInstanceCapacity, err)
}

// InfrastructureError wraps failures of the store or the compute backend.
func InfrastructureError(err error) *Error {
	return ErrWithCode(ErrorCodeServiceUnavailable, err)
}

func DryRunError() *Error {
	//nolint
	err := errors.New("Request would have succeeded, but DryRun flag is set.")
	return ErrWithCode(ErrorCodeDryRunOperation, err)
}

func VolumeNotFoundError(ids ...string) *Error {
	//nolint
	err := fmt.Errorf("The volume '%s' does not exist.", strings.Join(ids, ", "))
	return ErrWithCode(ErrorCodeVolumeNotFound, err)
}
