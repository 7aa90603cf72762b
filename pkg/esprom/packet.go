// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package esprom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Response decode errors
var (
	ErrShortFrame     = errors.New("esprom: frame shorter than minimum response")
	ErrNotResponse    = errors.New("esprom: direction byte is not a response")
	ErrLengthMismatch = errors.New("esprom: length field disagrees with payload")
)

// Request is a command frame ready for SLIP encoding and transmission.
type Request struct {
	opcode   Opcode
	data     []byte
	checksum uint32
}

// NewRequest creates a request with the checksum computed over the whole
// payload. Use the data-command builders for frames whose checksum scope
// excludes the data header.
func NewRequest(opcode Opcode, data []byte) *Request {
	return &Request{
		opcode:   opcode,
		data:     data,
		checksum: Checksum(data),
	}
}

// NewRequestWithChecksum creates a request carrying an explicit checksum.
// The data commands use this: their checksum covers only the raw transfer
// bytes, not the [dataLen][sequence][reserved][reserved] header.
func NewRequestWithChecksum(opcode Opcode, data []byte, checksum uint32) *Request {
	return &Request{
		opcode:   opcode,
		data:     data,
		checksum: checksum,
	}
}

// Opcode returns the request's command opcode.
func (r *Request) Opcode() Opcode {
	return r.opcode
}

// Data returns the request's payload bytes.
func (r *Request) Data() []byte {
	return r.data
}

// Checksum returns the checksum word carried in the frame header.
func (r *Request) Checksum() uint32 {
	return r.checksum
}

// Encode serializes the request to its pre-framing wire layout:
// [direction:1][opcode:1][length:2 LE][checksum:4 LE][payload].
func (r *Request) Encode() []byte {
	frame := make([]byte, HeaderSize+len(r.data))
	frame[0] = DirRequest
	frame[1] = byte(r.opcode)
	binary.LittleEndian.PutUint16(frame[2:4], uint16(len(r.data)))
	binary.LittleEndian.PutUint32(frame[4:8], r.checksum)
	copy(frame[HeaderSize:], r.data)
	return frame
}

// Status is the decoded result of a command, taken from the last two
// payload bytes of a response.
type Status struct {
	Byte1 byte // 0 means success
	Byte2 byte // failure reason when Byte1 is non-zero
}

// Success reports whether the command succeeded.
func (s Status) Success() bool {
	return s.Byte1 == 0
}

// SecureBootRejected reports whether the failure is a secure-boot policy
// rejection. Policy rejections must never be retried.
func (s Status) SecureBootRejected() bool {
	return s.Byte1 != 0 && SecureBootCode(s.Byte2)
}

// String returns a short human-readable form of the status.
func (s Status) String() string {
	if s.Success() {
		return "success"
	}
	if s.SecureBootRejected() {
		return fmt.Sprintf("secure-boot rejection (code 0x%02X)", s.Byte2)
	}
	return fmt.Sprintf("failure (%s)", FormatRomError(s.Byte2))
}

// Response is a parsed reply frame from the boot ROM.
type Response struct {
	opcode    Opcode
	value     uint32
	payload   []byte
	timestamp time.Time
}

// DecodeResponse parses a de-framed response. The frame must already be
// SLIP-decoded. Pure: no I/O, no retries.
func DecodeResponse(frame []byte) (*Response, error) {
	if len(frame) < MinResponseSize {
		return nil, fmt.Errorf("%w: %d bytes (min %d)", ErrShortFrame, len(frame), MinResponseSize)
	}
	if frame[0] != DirResponse {
		return nil, fmt.Errorf("%w: direction 0x%02X", ErrNotResponse, frame[0])
	}

	length := binary.LittleEndian.Uint16(frame[2:4])
	payload := frame[HeaderSize:]
	if int(length) != len(payload) {
		return nil, fmt.Errorf("%w: header says %d, payload is %d", ErrLengthMismatch, length, len(payload))
	}
	if len(payload) < StatusSize {
		return nil, fmt.Errorf("%w: payload too short for status bytes", ErrShortFrame)
	}

	return &Response{
		opcode:    Opcode(frame[1]),
		value:     binary.LittleEndian.Uint32(frame[4:8]),
		payload:   payload,
		timestamp: time.Now(),
	}, nil
}

// Opcode returns the opcode the response acknowledges.
func (p *Response) Opcode() Opcode {
	return p.opcode
}

// Value returns the response value word (register contents for ReadReg,
// zero for most commands).
func (p *Response) Value() uint32 {
	return p.value
}

// Payload returns the full response payload including the trailing status
// bytes.
func (p *Response) Payload() []byte {
	return p.payload
}

// Body returns the response payload with the trailing status bytes removed.
func (p *Response) Body() []byte {
	return p.payload[:len(p.payload)-StatusSize]
}

// Status decodes the trailing status bytes.
func (p *Response) Status() Status {
	return Status{
		Byte1: p.payload[len(p.payload)-2],
		Byte2: p.payload[len(p.payload)-1],
	}
}

// Success reports whether the command succeeded.
func (p *Response) Success() bool {
	return p.Status().Success()
}

// Timestamp returns the response's decode timestamp.
func (p *Response) Timestamp() time.Time {
	return p.timestamp
}
