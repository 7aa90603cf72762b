// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import "time"

// TransportCaps describes what a transport can do beyond moving bytes.
// Capabilities are fixed when the transport is opened; sessions consult
// them once instead of probing mid-flight.
type TransportCaps struct {
	// ControlLines is true when the transport can drive the chip's reset
	// and boot-select lines.
	ControlLines bool

	// BaudChange is true when the transport can renegotiate link speed
	// after opening.
	BaudChange bool
}

// Transport is a byte link to the device with optional line control.
//
// Implementations are not required to be safe for concurrent use. A session
// owns its transport exclusively for the session's lifetime.
type Transport interface {
	// ReadChunk returns whatever bytes are available, waiting up to
	// timeout for the first byte. It returns ErrTimeout when nothing
	// arrived; an expired wait must not consume or drop buffered bytes.
	ReadChunk(timeout time.Duration) ([]byte, error)

	// Write sends the full buffer to the device.
	Write(p []byte) error

	// SetControlLines drives the chip's reset and boot-select lines.
	// en low holds the chip in reset; bootSelect low forces the serial
	// bootloader on the next reset release.
	SetControlLines(en, bootSelect bool) error

	// SetBaudRate renegotiates the link speed. Called only after the
	// device side has acknowledged the matching baud-change command.
	SetBaudRate(baud int) error

	// FlushInput discards any buffered unread bytes.
	FlushInput() error

	// Capabilities reports what this transport supports.
	Capabilities() TransportCaps

	// Close releases the underlying link.
	Close() error
}
