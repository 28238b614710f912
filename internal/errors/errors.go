// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrCycleInProgress  = errors.New("classification cycle already in progress")
	ErrNotImplemented   = errors.New("not implemented")
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrNoNotifierAccept = errors.New("no notification channel accepted the message")
)

// RejectedInput is a malformed or incomplete record. It is counted and
// skipped; batches continue past it.
type RejectedInput struct {
	Reason string
}

func (e *RejectedInput) Error() string {
	return fmt.Sprintf("rejected input: %s", e.Reason)
}

func NewRejectedInput(format string, args ...any) error {
	return &RejectedInput{Reason: fmt.Sprintf(format, args...)}
}

// CapabilityFailure wraps an error from an external capability (classifier,
// notifier, reservation lookup). The operation is retried on a later cycle.
type CapabilityFailure struct {
	Capability string
	Err        error
}

func (e *CapabilityFailure) Error() string {
	return fmt.Sprintf("%s capability failed: %v", e.Capability, e.Err)
}

func (e *CapabilityFailure) Unwrap() error { return e.Err }

func NewCapabilityFailure(capability string, err error) error {
	if err == nil {
		return nil
	}
	return &CapabilityFailure{Capability: capability, Err: err}
}

// StoreFailure is a persistence error. It is fatal to the current operation
// and propagates to the caller, who owns retry and backoff.
type StoreFailure struct {
	Op  string
	Err error
}

func (e *StoreFailure) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreFailure) Unwrap() error { return e.Err }

func NewStoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var sf *StoreFailure
	if errors.As(err, &sf) {
		return err
	}
	return &StoreFailure{Op: op, Err: err}
}

func IsRejected(err error) bool {
	var r *RejectedInput
	return errors.As(err, &r)
}

func IsStoreFailure(err error) bool {
	var s *StoreFailure
	return errors.As(err, &s)
}

func IsCapabilityFailure(err error) bool {
	var c *CapabilityFailure
	return errors.As(err, &c)
}
