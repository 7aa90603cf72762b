// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package esprom

import (
	"fmt"
	"strings"
)

// FormatOpcode returns the human-readable name for a command opcode
func FormatOpcode(op Opcode) string {
	switch op {
	// ROM loader commands
	case OpFlashBegin:
		return "FLASH_BEGIN"
	case OpFlashData:
		return "FLASH_DATA"
	case OpFlashEnd:
		return "FLASH_END"
	case OpMemBegin:
		return "MEM_BEGIN"
	case OpMemEnd:
		return "MEM_END"
	case OpMemData:
		return "MEM_DATA"
	case OpSync:
		return "SYNC"
	case OpWriteReg:
		return "WRITE_REG"
	case OpReadReg:
		return "READ_REG"
	case OpSpiSetParams:
		return "SPI_SET_PARAMS"
	case OpSpiAttach:
		return "SPI_ATTACH"
	case OpChangeBaud:
		return "CHANGE_BAUD"
	case OpFlashDeflBegin:
		return "FLASH_DEFL_BEGIN"
	case OpFlashDeflData:
		return "FLASH_DEFL_DATA"
	case OpFlashDeflEnd:
		return "FLASH_DEFL_END"
	case OpSpiFlashMD5:
		return "SPI_FLASH_MD5"
	case OpGetSecurityInfo:
		return "GET_SECURITY_INFO"

	// Stub loader commands
	case OpEraseFlash:
		return "ERASE_FLASH"
	case OpEraseRegion:
		return "ERASE_REGION"
	case OpReadFlash:
		return "READ_FLASH"
	case OpRunUserCode:
		return "RUN_USER_CODE"

	default:
		return "UNKNOWN"
	}
}

// FormatRomError returns the human-readable name for a ROM failure reason
// code
func FormatRomError(code byte) string {
	switch code {
	case RomErrInvalidMessage:
		return "invalid message"
	case RomErrFailedToAct:
		return "failed to act on message"
	case RomErrInvalidCRC:
		return "invalid CRC in message"
	case RomErrFlashWrite:
		return "flash write error"
	case RomErrFlashRead:
		return "flash read error"
	case RomErrFlashReadLen:
		return "flash read length error"
	case RomErrDeflate:
		return "deflate error"
	default:
		return fmt.Sprintf("code 0x%02X", code)
	}
}

// FormatResponse formats a response into a human-readable one-liner for
// trace output
func FormatResponse(p *Response) string {
	status := p.Status()
	line := fmt.Sprintf("%s (0x%02X) value=0x%08X len=%d status=%s",
		FormatOpcode(p.opcode), byte(p.opcode), p.value, len(p.payload), status)
	return line
}

// FormatFrameHex renders frame bytes as a spaced hex dump, 16 bytes per
// line, for verbose traces
func FormatFrameHex(frame []byte) string {
	var b strings.Builder
	for i, by := range frame {
		if i > 0 {
			if i%16 == 0 {
				b.WriteString("\n")
			} else {
				b.WriteString(" ")
			}
		}
		fmt.Fprintf(&b, "%02X", by)
	}
	return b.String()
}
