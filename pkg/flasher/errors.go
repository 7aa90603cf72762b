// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/cinder/pkg/esprom"
)

// Sentinel errors. Callers classify failures with errors.Is.
var (
	// ErrTimeout means no response arrived within the deadline. Retryable
	// at the command level.
	ErrTimeout = errors.New("flasher: timed out waiting for response")

	// ErrSyncTimeout means the device never answered a sync probe across
	// the whole retry budget. Terminal for the connect phase.
	ErrSyncTimeout = errors.New("flasher: device did not respond to sync")

	// ErrControlLinesUnsupported means the transport cannot drive the
	// reset and boot-select lines. Reset sequencing is skipped, not failed.
	ErrControlLinesUnsupported = errors.New("flasher: transport cannot drive control lines")

	// ErrBaudChangeUnsupported means the transport cannot renegotiate its
	// link speed. The session stays at the connect baud rate.
	ErrBaudChangeUnsupported = errors.New("flasher: transport cannot change baud rate")

	// ErrVerificationUnavailable means the connected loader has no flash
	// hash command, so written data cannot be checked in place.
	ErrVerificationUnavailable = errors.New("flasher: loader cannot hash flash contents")

	// ErrNotSynced means an operation that requires an established session
	// was called before Connect succeeded.
	ErrNotSynced = errors.New("flasher: session is not synchronized")
)

// TransportError wraps a fatal link failure. Once the link itself fails the
// session cannot continue and no retry is attempted.
type TransportError struct {
	Op  string // transport operation that failed: "read", "write", ...
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FramingError wraps a malformed frame from the wire. A corrupt frame is
// treated like a missed response: the command that expected it may retry.
type FramingError struct {
	Err error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("malformed response frame: %v", e.Err)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// StatusError reports a command the device explicitly rejected.
type StatusError struct {
	Op     esprom.Opcode
	Status esprom.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s rejected by device: %s", esprom.FormatOpcode(e.Op), e.Status)
}

// SecureBoot reports whether the rejection is a secure-boot policy refusal.
// Policy refusals are never retried.
func (e *StatusError) SecureBoot() bool {
	return e.Status.SecureBootRejected()
}

// ProviderError reports unusable firmware input. It is raised before any
// device I/O happens.
type ProviderError struct {
	Region int // index into the image set, -1 when not region specific
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Region < 0 {
		return fmt.Sprintf("firmware image: %v", e.Err)
	}
	return fmt.Sprintf("firmware region %d: %v", e.Region, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// VerifyError reports a flash content mismatch found during verification.
type VerifyError struct {
	Region int
	Offset uint32
	Want   []byte // md5 of the image bytes
	Got    []byte // md5 the device computed over flash
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("flash content mismatch in region %d at 0x%08X: image md5 %x, flash md5 %x",
		e.Region, e.Offset, e.Want, e.Got)
}

// SessionError is the terminal failure of a flashing session. It records
// where in the session the failure happened so operators can tell a sync
// problem from a mid-transfer one.
type SessionError struct {
	State    State  // session state at the time of failure
	Op       string // protocol operation in flight: "sync", "flash-begin", ...
	Region   int    // region index, -1 outside region work
	Sequence int    // chunk sequence number, -1 outside data transfer
	Offset   uint32 // flash offset of the failed chunk, 0 outside data transfer
	Err      error
}

func (e *SessionError) Error() string {
	if e.Sequence >= 0 {
		return fmt.Sprintf("session failed in %s during %s (region %d, chunk %d, offset 0x%08X): %v",
			e.State, e.Op, e.Region, e.Sequence, e.Offset, e.Err)
	}
	if e.Region >= 0 {
		return fmt.Sprintf("session failed in %s during %s (region %d): %v",
			e.State, e.Op, e.Region, e.Err)
	}
	return fmt.Sprintf("session failed in %s during %s: %v", e.State, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
