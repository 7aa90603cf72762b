// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const serialReadBufferSize = 4096

// SerialTransport drives a local serial port. The chip's EN line is wired to
// RTS and the boot-select strap to DTR, both active low, which is the wiring
// on the Helios appliance module and on common devkits.
type SerialTransport struct {
	port serial.Port
	name string
	mode serial.Mode
	caps TransportCaps
	buf  []byte
}

// OpenSerial opens a serial port for a flashing session. The port is opened
// with RTS and DTR deasserted so a device sitting on the line is not reset
// by the open itself. Control-line support is probed once here; transports
// that fail the probe still work for monitoring and no-reset flashing.
func OpenSerial(portName string, baud int) (*SerialTransport, error) {
	mode := serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{
			RTS: false,
			DTR: false,
		},
	}

	port, err := serial.Open(portName, &mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	t := &SerialTransport{
		port: port,
		name: portName,
		mode: mode,
		caps: TransportCaps{ControlLines: true, BaudChange: true},
		buf:  make([]byte, serialReadBufferSize),
	}

	// Some USB bridges and all pseudo-terminals reject modem ioctls.
	if err := port.SetRTS(false); err != nil {
		t.caps.ControlLines = false
	} else if err := port.SetDTR(false); err != nil {
		t.caps.ControlLines = false
	}

	return t, nil
}

// Name returns the device path this transport was opened on.
func (t *SerialTransport) Name() string {
	return t.name
}

func (t *SerialTransport) ReadChunk(timeout time.Duration) ([]byte, error) {
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return nil, &TransportError{Op: "set-read-timeout", Err: err}
	}

	n, err := t.port.Read(t.buf)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	if n == 0 {
		// go.bug.st/serial signals an expired read timeout as (0, nil).
		return nil, ErrTimeout
	}

	out := make([]byte, n)
	copy(out, t.buf[:n])
	return out, nil
}

func (t *SerialTransport) Write(p []byte) error {
	for len(p) > 0 {
		n, err := t.port.Write(p)
		if err != nil {
			return &TransportError{Op: "write", Err: err}
		}
		p = p[n:]
	}
	return nil
}

func (t *SerialTransport) SetControlLines(en, bootSelect bool) error {
	if !t.caps.ControlLines {
		return ErrControlLinesUnsupported
	}

	// Both lines are inverted by the level shifters: asserting RTS pulls
	// EN low, asserting DTR pulls boot-select low.
	if err := t.port.SetRTS(!en); err != nil {
		return &TransportError{Op: "set-rts", Err: err}
	}
	if err := t.port.SetDTR(!bootSelect); err != nil {
		return &TransportError{Op: "set-dtr", Err: err}
	}
	return nil
}

func (t *SerialTransport) SetBaudRate(baud int) error {
	t.mode.BaudRate = baud
	if err := t.port.SetMode(&t.mode); err != nil {
		return &TransportError{Op: "set-mode", Err: err}
	}
	return nil
}

func (t *SerialTransport) FlushInput() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return &TransportError{Op: "flush", Err: err}
	}
	return nil
}

func (t *SerialTransport) Capabilities() TransportCaps {
	return t.caps
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}
