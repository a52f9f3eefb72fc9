package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrTriggerNotFound     = errors.New("trigger channel not configured")
	ErrTriggerExists       = errors.New("trigger channel already configured")
	ErrInvalidTrigger      = errors.New("invalid trigger channel")
	ErrMemberNotFound      = errors.New("member not found")
	ErrNotInManagedRoom    = errors.New("member is not in a managed room")
	ErrOwnerPresent        = errors.New("room owner is still in the room")
	ErrNotRoomOwner        = errors.New("member does not own this room")
	ErrTargetNotInRoom     = errors.New("transfer target is not in the room")
	ErrAlreadyOwner        = errors.New("member already owns this room")
	ErrPlatformUnavailable = errors.New("chat platform unavailable")
	ErrPlatformForbidden   = errors.New("missing platform permissions")
	ErrInvalidPreference   = errors.New("invalid preference")
	ErrPersistence         = errors.New("persistence failure")
)

type RejectReason string

const (
	RejectCooldown           RejectReason = "cooldown"
	RejectMissingPermissions RejectReason = "missing_permissions"
	RejectNotTrigger         RejectReason = "not_a_trigger"
)

// RejectionError reports a provisioning request refused without any state
// change. InFlight marks a duplicate trigger while another attempt of the
// same user is still running.
type RejectionError struct {
	Reason     RejectReason
	RetryAfter time.Duration
	InFlight   bool
}

func (e *RejectionError) Error() string {
	if e.InFlight {
		return fmt.Sprintf("provisioning rejected: %s (in flight)", e.Reason)
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provisioning rejected: %s (retry after %s)", e.Reason, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("provisioning rejected: %s", e.Reason)
}

// AsRejection extracts a rejection from an error chain.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
