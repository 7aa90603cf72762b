// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package esprom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// buildResponse assembles a raw response frame for decode tests.
func buildResponse(op Opcode, value uint32, body []byte, status1, status2 byte) []byte {
	payload := append(append([]byte{}, body...), status1, status2)
	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = DirResponse
	frame[1] = byte(op)
	binary.LittleEndian.PutUint16(frame[2:4], uint16(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], value)
	copy(frame[HeaderSize:], payload)
	return frame
}

// ============================================================
// Request Encode Tests
// ============================================================

func TestRequestEncode_Layout(t *testing.T) {
	req := NewRequest(OpReadReg, []byte{0x00, 0x10, 0x00, 0x40})
	frame := req.Encode()

	if len(frame) != HeaderSize+4 {
		t.Fatalf("frame length = %d, want %d", len(frame), HeaderSize+4)
	}
	if frame[0] != DirRequest {
		t.Errorf("direction = 0x%02X, want 0x%02X", frame[0], DirRequest)
	}
	if frame[1] != byte(OpReadReg) {
		t.Errorf("opcode = 0x%02X, want 0x%02X", frame[1], byte(OpReadReg))
	}
	if got := binary.LittleEndian.Uint16(frame[2:4]); got != 4 {
		t.Errorf("length field = %d, want 4", got)
	}
	if got := binary.LittleEndian.Uint32(frame[4:8]); got != req.Checksum() {
		t.Errorf("checksum field = 0x%08X, want 0x%08X", got, req.Checksum())
	}
	if !bytes.Equal(frame[8:], []byte{0x00, 0x10, 0x00, 0x40}) {
		t.Errorf("payload mismatch: got % X", frame[8:])
	}
}

func TestRequestEncode_EmptyPayload(t *testing.T) {
	req := NewRequest(OpGetSecurityInfo, nil)
	frame := req.Encode()

	if len(frame) != HeaderSize {
		t.Fatalf("frame length = %d, want %d", len(frame), HeaderSize)
	}
	if got := binary.LittleEndian.Uint16(frame[2:4]); got != 0 {
		t.Errorf("length field = %d, want 0", got)
	}
	// Empty payload still carries the checksum seed
	if got := binary.LittleEndian.Uint32(frame[4:8]); got != uint32(ChecksumSeed) {
		t.Errorf("checksum field = 0x%08X, want 0x%08X", got, uint32(ChecksumSeed))
	}
}

func TestRequestWithChecksum_OverridesScope(t *testing.T) {
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	req := NewRequestWithChecksum(OpFlashData, data, 0x42)

	if req.Checksum() != 0x42 {
		t.Errorf("Checksum() = 0x%X, want 0x42", req.Checksum())
	}
	frame := req.Encode()
	if got := binary.LittleEndian.Uint32(frame[4:8]); got != 0x42 {
		t.Errorf("checksum field = 0x%X, want 0x42", got)
	}
}

// ============================================================
// Response Decode Tests
// ============================================================

func TestDecodeResponse_Success(t *testing.T) {
	frame := buildResponse(OpSync, 0, nil, 0x00, 0x00)

	resp, err := DecodeResponse(frame)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if resp.Opcode() != OpSync {
		t.Errorf("Opcode() = 0x%02X, want 0x%02X", byte(resp.Opcode()), byte(OpSync))
	}
	if !resp.Success() {
		t.Errorf("Success() = false, want true")
	}
	if len(resp.Body()) != 0 {
		t.Errorf("Body() length = %d, want 0", len(resp.Body()))
	}
}

func TestDecodeResponse_ValueWord(t *testing.T) {
	frame := buildResponse(OpReadReg, 0x00F01D83, nil, 0x00, 0x00)

	resp, err := DecodeResponse(frame)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if resp.Value() != 0x00F01D83 {
		t.Errorf("Value() = 0x%08X, want 0x00F01D83", resp.Value())
	}
}

func TestDecodeResponse_BodyExcludesStatus(t *testing.T) {
	body := []byte{0x11, 0x22, 0x33}
	frame := buildResponse(OpSpiFlashMD5, 0, body, 0x00, 0x00)

	resp, err := DecodeResponse(frame)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if !bytes.Equal(resp.Body(), body) {
		t.Errorf("Body() = % X, want % X", resp.Body(), body)
	}
	if len(resp.Payload()) != len(body)+StatusSize {
		t.Errorf("Payload() length = %d, want %d", len(resp.Payload()), len(body)+StatusSize)
	}
}

func TestDecodeResponse_Errors(t *testing.T) {
	valid := buildResponse(OpSync, 0, nil, 0x00, 0x00)

	short := valid[:MinResponseSize-1]

	badDir := append([]byte{}, valid...)
	badDir[0] = DirRequest

	badLen := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(badLen[2:4], 9)

	tests := []struct {
		name    string
		frame   []byte
		wantErr error
	}{
		{"short frame", short, ErrShortFrame},
		{"request direction", badDir, ErrNotResponse},
		{"length mismatch", badLen, ErrLengthMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse(tt.frame)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// ============================================================
// Status Classification Tests
// ============================================================

func TestStatus_Classification(t *testing.T) {
	tests := []struct {
		name           string
		byte1          byte
		byte2          byte
		wantSuccess    bool
		wantSecureBoot bool
	}{
		{"success", 0x00, 0x00, true, false},
		{"success with stale secondary", 0x00, 0x05, true, false},
		{"generic failure", 0x01, 0x05, false, false},
		{"flash write failure", 0x01, 0x08, false, false},
		{"secure boot code 1", 0x01, 0x01, false, true},
		{"secure boot code 2", 0x01, 0x02, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Status{Byte1: tt.byte1, Byte2: tt.byte2}
			if s.Success() != tt.wantSuccess {
				t.Errorf("Success() = %v, want %v", s.Success(), tt.wantSuccess)
			}
			if s.SecureBootRejected() != tt.wantSecureBoot {
				t.Errorf("SecureBootRejected() = %v, want %v", s.SecureBootRejected(), tt.wantSecureBoot)
			}
		})
	}
}

func TestResponseStatus_FromFrame(t *testing.T) {
	frame := buildResponse(OpFlashBegin, 0, nil, 0x01, 0x02)

	resp, err := DecodeResponse(frame)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	status := resp.Status()
	if status.Success() {
		t.Error("Success() = true, want false")
	}
	if !status.SecureBootRejected() {
		t.Error("SecureBootRejected() = false, want true")
	}
}

// ============================================================
// Chip Detection Tests
// ============================================================

func TestDetectChip(t *testing.T) {
	tests := []struct {
		magic uint32
		want  ChipID
	}{
		{0x00F01D83, ChipESP32},
		{0x000007C6, ChipESP32S2},
		{0x00000009, ChipESP32S3},
		{0x6921506F, ChipESP32C3},
		{0x1B31506F, ChipESP32C3},
		{0x2CE0806F, ChipESP32C6},
		{0xD7B73E80, ChipESP32H2},
		{0xFFF0C101, ChipESP8266},
		{0xDEADBEEF, ChipUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := DetectChip(tt.magic); got != tt.want {
				t.Errorf("DetectChip(0x%08X) = %v, want %v", tt.magic, got, tt.want)
			}
		})
	}
}

func TestChipIDString(t *testing.T) {
	if got := ChipESP32S3.String(); got != "ESP32-S3" {
		t.Errorf("String() = %q, want %q", got, "ESP32-S3")
	}
	if got := ChipUnknown.String(); got != "unknown" {
		t.Errorf("String() = %q, want %q", got, "unknown")
	}
}
