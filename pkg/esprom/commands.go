// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package esprom

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Command builder functions create Request structs ready for framing.
// These are convenience wrappers around NewRequest that ensure correct
// payload layout and checksum scope per the ROM loader protocol.

// syncTailLen is the length of the 0x55 run that lets the ROM autodetect
// the baud rate.
const syncTailLen = 32

// NewSync creates a SYNC request (0x08). The ROM samples the payload to
// lock its baud rate and replies with a burst of identical responses.
func NewSync() *Request {
	data := make([]byte, 4+syncTailLen)
	data[0] = 0x07
	data[1] = 0x07
	data[2] = 0x12
	data[3] = 0x20
	for i := 4; i < len(data); i++ {
		data[i] = 0x55
	}
	return NewRequest(OpSync, data)
}

// NewFlashBegin creates a FLASH_BEGIN request (0x02). The ROM erases
// eraseSize bytes at offset and prepares to receive chunkCount chunks of
// chunkSize bytes. Erase time grows with eraseSize; callers must scale the
// response timeout accordingly.
func NewFlashBegin(eraseSize, chunkCount, chunkSize, offset uint32) *Request {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], eraseSize)
	binary.LittleEndian.PutUint32(data[4:8], chunkCount)
	binary.LittleEndian.PutUint32(data[8:12], chunkSize)
	binary.LittleEndian.PutUint32(data[12:16], offset)
	return NewRequest(OpFlashBegin, data)
}

// NewFlashBeginEncrypted is the stub-loader variant of FLASH_BEGIN carrying
// the fifth encrypted-mode word.
func NewFlashBeginEncrypted(eraseSize, chunkCount, chunkSize, offset uint32, encrypted bool) *Request {
	data := make([]byte, 20)
	binary.LittleEndian.PutUint32(data[0:4], eraseSize)
	binary.LittleEndian.PutUint32(data[4:8], chunkCount)
	binary.LittleEndian.PutUint32(data[8:12], chunkSize)
	binary.LittleEndian.PutUint32(data[12:16], offset)
	if encrypted {
		binary.LittleEndian.PutUint32(data[16:20], 1)
	}
	return NewRequest(OpFlashBegin, data)
}

// NewFlashData creates a FLASH_DATA request (0x03) for one chunk. Sequence
// numbers start at 0 per region; a retried chunk resends the same sequence
// number. The checksum covers only the chunk bytes, never the header.
func NewFlashData(chunk []byte, sequence uint32) *Request {
	return newDataRequest(OpFlashData, chunk, sequence)
}

// NewFlashEnd creates a FLASH_END request (0x04). reboot=true leaves the
// bootloader and runs the flashed image; reboot=false stays in the
// bootloader so further regions can be written.
func NewFlashEnd(reboot bool) *Request {
	return NewRequest(OpFlashEnd, flagWord(!reboot))
}

// NewMemBegin creates a MEM_BEGIN request (0x05) to start a RAM download
// (stub loader upload) of totalSize bytes to loadAddr.
func NewMemBegin(totalSize, chunkCount, chunkSize, loadAddr uint32) *Request {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], totalSize)
	binary.LittleEndian.PutUint32(data[4:8], chunkCount)
	binary.LittleEndian.PutUint32(data[8:12], chunkSize)
	binary.LittleEndian.PutUint32(data[12:16], loadAddr)
	return NewRequest(OpMemBegin, data)
}

// NewMemData creates a MEM_DATA request (0x07) for one RAM download chunk.
func NewMemData(chunk []byte, sequence uint32) *Request {
	return newDataRequest(OpMemData, chunk, sequence)
}

// NewMemEnd creates a MEM_END request (0x06). A non-zero entryAddr makes
// the ROM jump there; entryAddr 0 keeps the loader resident.
func NewMemEnd(entryAddr uint32) *Request {
	data := make([]byte, 8)
	if entryAddr == 0 {
		binary.LittleEndian.PutUint32(data[0:4], 1)
	}
	binary.LittleEndian.PutUint32(data[4:8], entryAddr)
	return NewRequest(OpMemEnd, data)
}

// NewWriteReg creates a WRITE_REG request (0x09).
func NewWriteReg(addr, value, mask, delayUS uint32) *Request {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], addr)
	binary.LittleEndian.PutUint32(data[4:8], value)
	binary.LittleEndian.PutUint32(data[8:12], mask)
	binary.LittleEndian.PutUint32(data[12:16], delayUS)
	return NewRequest(OpWriteReg, data)
}

// NewReadReg creates a READ_REG request (0x0A). The register contents come
// back in the response value word.
func NewReadReg(addr uint32) *Request {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, addr)
	return NewRequest(OpReadReg, data)
}

// NewSpiSetParams creates a SPI_SET_PARAMS request (0x0B) describing the
// attached flash chip: total size plus the standard 64 KiB block, 4 KiB
// sector, 256 B page geometry.
func NewSpiSetParams(totalSize uint32) *Request {
	data := make([]byte, 24)
	binary.LittleEndian.PutUint32(data[4:8], totalSize)
	binary.LittleEndian.PutUint32(data[8:12], FlashBlockSize)
	binary.LittleEndian.PutUint32(data[12:16], FlashSectorSize)
	binary.LittleEndian.PutUint32(data[16:20], FlashPageSize)
	binary.LittleEndian.PutUint32(data[20:24], FlashStatusMask)
	return NewRequest(OpSpiSetParams, data)
}

// NewSpiAttach creates a SPI_ATTACH request (0x0D). pins 0 selects the
// default SPI flash interface.
func NewSpiAttach(pins uint32) *Request {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], pins)
	return NewRequest(OpSpiAttach, data)
}

// NewChangeBaud creates a CHANGE_BAUD request (0x0F). oldBaud must be 0
// when talking to the ROM; the stub loader wants the current rate instead.
func NewChangeBaud(newBaud, oldBaud uint32) *Request {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], newBaud)
	binary.LittleEndian.PutUint32(data[4:8], oldBaud)
	return NewRequest(OpChangeBaud, data)
}

// NewFlashDeflBegin creates a FLASH_DEFL_BEGIN request (0x10) for a
// compressed transfer of uncompressedSize bytes delivered as chunkCount
// deflate chunks.
func NewFlashDeflBegin(uncompressedSize, chunkCount, chunkSize, offset uint32) *Request {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], uncompressedSize)
	binary.LittleEndian.PutUint32(data[4:8], chunkCount)
	binary.LittleEndian.PutUint32(data[8:12], chunkSize)
	binary.LittleEndian.PutUint32(data[12:16], offset)
	return NewRequest(OpFlashDeflBegin, data)
}

// NewFlashDeflData creates a FLASH_DEFL_DATA request (0x11) for one
// compressed chunk.
func NewFlashDeflData(chunk []byte, sequence uint32) *Request {
	return newDataRequest(OpFlashDeflData, chunk, sequence)
}

// NewFlashDeflEnd creates a FLASH_DEFL_END request (0x12).
func NewFlashDeflEnd(reboot bool) *Request {
	return NewRequest(OpFlashDeflEnd, flagWord(!reboot))
}

// NewSpiFlashMD5 creates a SPI_FLASH_MD5 request (0x13) asking the device
// to hash size bytes of flash starting at addr.
func NewSpiFlashMD5(addr, size uint32) *Request {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], addr)
	binary.LittleEndian.PutUint32(data[4:8], size)
	return NewRequest(OpSpiFlashMD5, data)
}

// NewGetSecurityInfo creates a GET_SECURITY_INFO request (0x14).
func NewGetSecurityInfo() *Request {
	return NewRequest(OpGetSecurityInfo, nil)
}

// newDataRequest builds the shared layout of the data commands:
// [dataLen:4][sequence:4][reserved:4][reserved:4][chunk], with the checksum
// computed over chunk only.
func newDataRequest(opcode Opcode, chunk []byte, sequence uint32) *Request {
	data := make([]byte, DataHeaderSize+len(chunk))
	binary.LittleEndian.PutUint32(data[0:4], uint32(len(chunk)))
	binary.LittleEndian.PutUint32(data[4:8], sequence)
	copy(data[DataHeaderSize:], chunk)
	return NewRequestWithChecksum(opcode, data, Checksum(chunk))
}

// flagWord encodes the FLASH_END/FLASH_DEFL_END flag: 0 reboots, 1 stays
// in the bootloader.
func flagWord(stay bool) []byte {
	data := make([]byte, 4)
	if stay {
		binary.LittleEndian.PutUint32(data, 1)
	}
	return data
}

// EraseSize rounds a region length up to the erase block granularity.
func EraseSize(length int) uint32 {
	blocks := EraseBlocks(length)
	return uint32(blocks) * FlashBlockSize
}

// EraseBlocks returns the number of erase blocks a region of the given
// length touches.
func EraseBlocks(length int) int {
	return (length + FlashBlockSize - 1) / FlashBlockSize
}

// ChunkCount returns the number of transfer chunks for a region of the
// given length.
func ChunkCount(length, chunkSize int) int {
	if chunkSize <= 0 {
		return 0
	}
	return (length + chunkSize - 1) / chunkSize
}

// ParseMD5Digest decodes the body of a SPI_FLASH_MD5 response. The stub
// loader returns 16 raw digest bytes; the ROM returns 32 hex characters.
func ParseMD5Digest(body []byte) ([]byte, error) {
	switch len(body) {
	case 16:
		digest := make([]byte, 16)
		copy(digest, body)
		return digest, nil
	case 32:
		digest := make([]byte, 16)
		if _, err := hex.Decode(digest, body); err != nil {
			return nil, fmt.Errorf("esprom: MD5 response is not hex: %w", err)
		}
		return digest, nil
	default:
		return nil, fmt.Errorf("esprom: MD5 response has %d bytes (want 16 or 32)", len(body))
	}
}

// SecurityInfo is the parsed body of a GET_SECURITY_INFO response.
type SecurityInfo struct {
	Flags          uint32
	FlashCryptCnt  byte
	KeyPurposes    [7]byte
	ChipIdentifier uint32 // present on newer ROMs only
	APIVersion     uint32 // present on newer ROMs only
	Extended       bool
}

// SecureBootEnabled reports whether the secure-boot efuse is burned.
func (s *SecurityInfo) SecureBootEnabled() bool {
	return s.Flags&SecurityFlagSecureBoot != 0
}

// ParseSecurityInfo decodes the body of a GET_SECURITY_INFO response.
// Older ROMs return 12 bytes, newer ones append chip id and API version.
func ParseSecurityInfo(body []byte) (*SecurityInfo, error) {
	if len(body) < 12 {
		return nil, fmt.Errorf("esprom: security info has %d bytes (min 12)", len(body))
	}

	info := &SecurityInfo{
		Flags:         binary.LittleEndian.Uint32(body[0:4]),
		FlashCryptCnt: body[4],
	}
	copy(info.KeyPurposes[:], body[5:12])

	if len(body) >= 20 {
		info.ChipIdentifier = binary.LittleEndian.Uint32(body[12:16])
		info.APIVersion = binary.LittleEndian.Uint32(body[16:20])
		info.Extended = true
	}

	return info, nil
}
