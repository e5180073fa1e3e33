package ota

import (
	"errors"
	"fmt"
	"time"

	"github.com/vitaminmoo/vsp-ota/internal/protocol"
)

var (
	ErrBusy         = errors.New("an operation is already in progress")
	ErrNotConnected = errors.New("no module connected")
	ErrNoData       = errors.New("nothing to transfer")
	ErrNoTarget     = errors.New("no target filename")
	ErrCancelled    = errors.New("operation cancelled")
	ErrDeclined     = errors.New("operation declined")
	ErrDisconnected = errors.New("module disconnected")
	ErrOffline      = errors.New("online services unavailable")
)

// DeviceError is a failure code reported by the module.
type DeviceError struct {
	Phase   Phase
	Code    protocol.ErrorCode
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("module error %s while %s: %s", e.Code.Raw, e.Phase, e.Message)
}

// TimeoutError means the module went quiet for longer than the timeout.
type TimeoutError struct {
	Phase Phase
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response from module for %v while %s", e.After, e.Phase)
}

// VerificationError is a transfer the module does not confirm.
type VerificationError struct {
	Expected string
	Actual   string
	Missing  bool
}

func (e *VerificationError) Error() string {
	if e.Missing {
		return "file missing from module listing"
	}
	return fmt.Sprintf("checksum mismatch: expected 0x%s, got 0x%s", e.Expected, e.Actual)
}

// ProtocolError is transport behaviour the machine cannot reconcile.
type ProtocolError struct {
	Phase  Phase
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error while %s: %s", e.Phase, e.Reason)
}

// WriteError wraps a failed transport write.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to module failed: %v", e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
