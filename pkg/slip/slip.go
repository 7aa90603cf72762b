// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package slip implements the SLIP byte-stuffing layer used by the ESP32-class
// boot ROM serial protocol.
//
// Frames are wrapped in 0xC0 delimiters; literal 0xC0 and 0xDB bytes inside a
// frame are escaped as two-byte sequences. The package provides a pure one-shot
// codec plus a streaming per-byte decoder for reassembling frames from a raw
// serial stream that may carry noise (boot log text, line glitches) between
// frames.
package slip

import (
	"errors"
	"fmt"
)

// Framing bytes
const (
	Delimiter = 0xC0 // frame boundary
	Escape    = 0xDB // escape introducer
	EscDelim  = 0xDC // Escape+EscDelim decodes to Delimiter
	EscEscape = 0xDD // Escape+EscEscape decodes to Escape
)

// MaxFrameSize bounds decoded frame length. The ROM never produces responses
// anywhere near this; hitting it means the stream lost framing.
const MaxFrameSize = 4096

// Decode errors
var (
	ErrTruncated = errors.New("slip: truncated frame")
	ErrBadEscape = errors.New("slip: invalid escape sequence")
	ErrOverflow  = errors.New("slip: frame exceeds maximum size")
)

// Encode wraps raw in frame delimiters and escapes any literal delimiter or
// escape bytes in the body.
func Encode(raw []byte) []byte {
	// Pre-allocate with extra space for potential escapes
	out := make([]byte, 0, len(raw)+len(raw)/8+2)

	out = append(out, Delimiter)
	for _, b := range raw {
		switch b {
		case Delimiter:
			out = append(out, Escape, EscDelim)
		case Escape:
			out = append(out, Escape, EscEscape)
		default:
			out = append(out, b)
		}
	}
	out = append(out, Delimiter)

	return out
}

// Decode resolves escape sequences in one complete delimited span. Delimiter
// bytes are dropped wherever they appear. Unlike the historically permissive
// readers for this wire format, malformed input is reported: a dangling escape
// at the end of input returns ErrTruncated and an escape followed by anything
// other than the two defined codes returns ErrBadEscape.
func Decode(wire []byte) ([]byte, error) {
	out := make([]byte, 0, len(wire))
	escapeNext := false

	for _, b := range wire {
		if escapeNext {
			escapeNext = false
			switch b {
			case EscDelim:
				out = append(out, Delimiter)
			case EscEscape:
				out = append(out, Escape)
			case Delimiter:
				return nil, fmt.Errorf("%w: escape broken by delimiter", ErrTruncated)
			default:
				return nil, fmt.Errorf("%w: 0xDB 0x%02X", ErrBadEscape, b)
			}
			continue
		}

		switch b {
		case Escape:
			escapeNext = true
		case Delimiter:
			// Frame boundary marker, not part of the payload
		default:
			out = append(out, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("%w: dangling escape at end of input", ErrTruncated)
	}

	return out, nil
}

// Decoder reassembles frames from a byte stream one byte at a time.
//
// Bytes seen before the first delimiter are noise (the chip prints plain-text
// boot messages on reset) and are counted, not delivered. After an escape
// error the decoder drops the partial frame and waits for a fresh delimiter.
type Decoder struct {
	synced     bool
	escapeNext bool
	frame      []byte
	discarded  int
}

// NewDecoder creates a streaming frame decoder.
func NewDecoder() *Decoder {
	return &Decoder{
		frame: make([]byte, 0, 64),
	}
}

// Reset returns the decoder to its initial unsynchronized state.
func (d *Decoder) Reset() {
	d.synced = false
	d.escapeNext = false
	d.frame = d.frame[:0]
	d.discarded = 0
}

// Discarded returns the number of noise bytes skipped while waiting for a
// frame delimiter.
func (d *Decoder) Discarded() int {
	return d.discarded
}

// DecodeByte feeds one byte through the decoder. It returns a completed
// de-escaped frame, or nil while a frame is still in progress. Empty frames
// (back-to-back delimiters on an idle line) produce nothing.
func (d *Decoder) DecodeByte(b byte) ([]byte, error) {
	if !d.synced {
		if b == Delimiter {
			d.synced = true
			return nil, nil
		}
		d.discarded++
		return nil, nil
	}

	if d.escapeNext {
		d.escapeNext = false
		switch b {
		case EscDelim:
			b = Delimiter
		case EscEscape:
			b = Escape
		case Delimiter:
			d.dropFrame()
			return nil, fmt.Errorf("%w: escape broken by delimiter", ErrTruncated)
		default:
			d.dropFrame()
			return nil, fmt.Errorf("%w: 0xDB 0x%02X", ErrBadEscape, b)
		}
		return d.push(b)
	}

	switch b {
	case Escape:
		d.escapeNext = true
		return nil, nil
	case Delimiter:
		if len(d.frame) == 0 {
			return nil, nil
		}
		out := make([]byte, len(d.frame))
		copy(out, d.frame)
		d.frame = d.frame[:0]
		return out, nil
	default:
		return d.push(b)
	}
}

// push appends a decoded byte to the in-progress frame.
func (d *Decoder) push(b byte) ([]byte, error) {
	if len(d.frame) >= MaxFrameSize {
		d.dropFrame()
		return nil, ErrOverflow
	}
	d.frame = append(d.frame, b)
	return nil, nil
}

// dropFrame discards the partial frame and desynchronizes until the next
// delimiter.
func (d *Decoder) dropFrame() {
	d.synced = false
	d.escapeNext = false
	d.frame = d.frame[:0]
}
