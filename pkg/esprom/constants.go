// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package esprom implements the command layer of the ESP32-class boot ROM
// serial protocol.
//
// The boot ROM speaks a half-duplex request/response protocol over a
// SLIP-framed byte stream. This package builds request frames (opcode,
// length, checksum, payload), parses response frames, and classifies the
// trailing status bytes. It performs no I/O; transport, framing, and all
// retry policy live in the flasher package.
package esprom

// Frame direction bytes
const (
	DirRequest  = 0x00
	DirResponse = 0x01
)

// Opcode identifies a boot ROM command.
type Opcode uint8

// ROM loader commands
const (
	OpFlashBegin      Opcode = 0x02
	OpFlashData       Opcode = 0x03
	OpFlashEnd        Opcode = 0x04
	OpMemBegin        Opcode = 0x05
	OpMemEnd          Opcode = 0x06
	OpMemData         Opcode = 0x07
	OpSync            Opcode = 0x08
	OpWriteReg        Opcode = 0x09
	OpReadReg         Opcode = 0x0A
	OpSpiSetParams    Opcode = 0x0B
	OpSpiAttach       Opcode = 0x0D
	OpChangeBaud      Opcode = 0x0F
	OpFlashDeflBegin  Opcode = 0x10
	OpFlashDeflData   Opcode = 0x11
	OpFlashDeflEnd    Opcode = 0x12
	OpSpiFlashMD5     Opcode = 0x13
	OpGetSecurityInfo Opcode = 0x14
)

// Stub-loader-only commands. A ROM session never issues these; they are
// named so traces of stub traffic stay readable.
const (
	OpEraseFlash  Opcode = 0xD0
	OpEraseRegion Opcode = 0xD1
	OpReadFlash   Opcode = 0xD2
	OpRunUserCode Opcode = 0xD3
)

// Frame layout sizes
const (
	HeaderSize      = 8 // direction + opcode + length(2) + checksum/value(4)
	StatusSize      = 2 // trailing status bytes on every response
	MinResponseSize = HeaderSize + StatusSize
	DataHeaderSize  = 16 // [dataLen][sequence][reserved][reserved] on data commands
)

// ChecksumSeed is the initial value of the XOR payload checksum.
const ChecksumSeed = 0xEF

// ROM failure reason codes, reported in the second status byte
const (
	RomErrInvalidMessage = 0x05
	RomErrFailedToAct    = 0x06
	RomErrInvalidCRC     = 0x07
	RomErrFlashWrite     = 0x08
	RomErrFlashRead      = 0x09
	RomErrFlashReadLen   = 0x0A
	RomErrDeflate        = 0x0B
)

// Secure-boot policy rejection codes. These indicate the ROM refused a flash
// operation by policy; retrying cannot change the outcome. Table-driven so
// field findings can extend the set.
var secureBootCodes = map[byte]bool{
	0x01: true,
	0x02: true,
}

// SecureBootCode reports whether a failure reason code is a secure-boot
// policy rejection rather than a transient fault.
func SecureBootCode(code byte) bool {
	return secureBootCodes[code]
}

// Flash geometry
const (
	FlashBlockSize   = 0x10000 // erase block granularity, 64 KiB
	FlashSectorSize  = 0x1000
	FlashPageSize    = 0x100
	FlashStatusMask  = 0xFFFF
	DefaultChunkSize = 0x400
)

// ChipDetectMagicAddr is the register whose value identifies the chip family.
const ChipDetectMagicAddr = 0x40001000

// ChipID identifies a detected chip family.
type ChipID int

// Chip families
const (
	ChipUnknown ChipID = iota
	ChipESP8266
	ChipESP32
	ChipESP32S2
	ChipESP32S3
	ChipESP32C3
	ChipESP32C6
	ChipESP32H2
)

// chipMagics maps chip-detect register values to chip families. Some
// families have per-revision magic values.
var chipMagics = map[uint32]ChipID{
	0xFFF0C101: ChipESP8266,
	0x00F01D83: ChipESP32,
	0x000007C6: ChipESP32S2,
	0x00000009: ChipESP32S3,
	0x6921506F: ChipESP32C3,
	0x1B31506F: ChipESP32C3,
	0x2CE0806F: ChipESP32C6,
	0xD7B73E80: ChipESP32H2,
}

// DetectChip maps a chip-detect magic register value to a chip family.
func DetectChip(magic uint32) ChipID {
	if chip, ok := chipMagics[magic]; ok {
		return chip
	}
	return ChipUnknown
}

// String returns the marketing name of the chip family.
func (c ChipID) String() string {
	switch c {
	case ChipESP8266:
		return "ESP8266"
	case ChipESP32:
		return "ESP32"
	case ChipESP32S2:
		return "ESP32-S2"
	case ChipESP32S3:
		return "ESP32-S3"
	case ChipESP32C3:
		return "ESP32-C3"
	case ChipESP32C6:
		return "ESP32-C6"
	case ChipESP32H2:
		return "ESP32-H2"
	default:
		return "unknown"
	}
}

// SecurityFlagSecureBoot is bit 0 of the GET_SECURITY_INFO flags word.
const SecurityFlagSecureBoot = 1 << 0
