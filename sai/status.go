package sai

import (
	"errors"
	"fmt"

	saiagent "github.com/frobware/go-saiagent"
)

// Status is an adapter return code. Negative values are failures.
type Status int32

const (
	StatusSuccess                   Status = 0
	StatusFailure                   Status = -1
	StatusNotSupported              Status = -2
	StatusNoMemory                  Status = -3
	StatusInsufficientResources     Status = -4
	StatusInvalidParameter          Status = -5
	StatusItemAlreadyExists         Status = -6
	StatusItemNotFound              Status = -7
	StatusTableFull                 Status = -13
	StatusMandatoryAttributeMissing Status = -14
	StatusNotImplemented            Status = -15
	StatusObjectInUse               Status = -17
	StatusInvalidAttribute          Status = -0x10000
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusNotSupported:
		return "NOT_SUPPORTED"
	case StatusNoMemory:
		return "NO_MEMORY"
	case StatusInsufficientResources:
		return "INSUFFICIENT_RESOURCES"
	case StatusInvalidParameter:
		return "INVALID_PARAMETER"
	case StatusItemAlreadyExists:
		return "ITEM_ALREADY_EXISTS"
	case StatusItemNotFound:
		return "ITEM_NOT_FOUND"
	case StatusTableFull:
		return "TABLE_FULL"
	case StatusMandatoryAttributeMissing:
		return "MANDATORY_ATTRIBUTE_MISSING"
	case StatusNotImplemented:
		return "NOT_IMPLEMENTED"
	case StatusObjectInUse:
		return "OBJECT_IN_USE"
	case StatusInvalidAttribute:
		return "INVALID_ATTRIBUTE"
	}
	return fmt.Sprintf("STATUS(%d)", int32(s))
}

// SdkError wraps a failed adapter call.
type SdkError struct {
	Op         string
	ObjectType ObjectType
	Status     Status
}

func (e *SdkError) Error() string {
	return fmt.Sprintf("sai %s %s: %s (%d)", e.Op, e.ObjectType, e.Status, int32(e.Status))
}

// Is maps unsupported statuses onto saiagent.ErrUnsupported.
func (e *SdkError) Is(target error) bool {
	if target == saiagent.ErrUnsupported {
		return e.Status == StatusNotSupported || e.Status == StatusNotImplemented
	}
	return false
}

// NewError returns an SdkError for a failed call, or nil on success.
func NewError(op string, t ObjectType, s Status) error {
	if s == StatusSuccess {
		return nil
	}
	return &SdkError{Op: op, ObjectType: t, Status: s}
}

// IsStatus reports whether err wraps an SdkError carrying status.
func IsStatus(err error, status Status) bool {
	var sdkErr *SdkError
	return errors.As(err, &sdkErr) && sdkErr.Status == status
}
