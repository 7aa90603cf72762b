// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flasher drives the serial bootloader of ESP32-class modules. It
// owns the reset sequencing that lands a chip in its boot ROM, the sync
// handshake, and the region-by-region transfer of firmware images into
// flash, over any Transport that can move bytes to the chip.
//
// A Session is single-shot: construct, Connect, Flash, optionally Verify,
// Finalize. After a failure the session stays failed; recovery is a new
// session on a fresh reset. Sessions are not safe for concurrent use.
package flasher

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/cinder/pkg/esprom"
	"github.com/Thermoquad/cinder/pkg/slip"
)

// State is the session's position in its lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSynced
	StateRegionBegin
	StateRegionTransfer
	StateRegionComplete
	StateFinalizing
	StateRebooted
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSynced:
		return "synced"
	case StateRegionBegin:
		return "region-begin"
	case StateRegionTransfer:
		return "region-transfer"
	case StateRegionComplete:
		return "region-complete"
	case StateFinalizing:
		return "finalizing"
	case StateRebooted:
		return "rebooted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one flashing conversation with one device.
type Session struct {
	transport Transport
	config    Config
	decoder   *slip.Decoder
	stats     *Statistics

	state   State
	chip    esprom.ChipID
	failure error

	// Decoded frames not yet consumed. The boot ROM acknowledges every
	// buffered sync probe at once; later commands must never read one of
	// those as their own answer.
	pending [][]byte
}

// New creates a session over the given transport. The session uses the
// transport exclusively until Close.
func New(t Transport, opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = esprom.DefaultChunkSize
	}
	if len(cfg.ResetProfiles) == 0 {
		cfg.ResetProfiles = DefaultResetProfiles()
	}

	return &Session{
		transport: t,
		config:    cfg,
		decoder:   slip.NewDecoder(),
		stats:     NewStatistics(),
		state:     StateDisconnected,
		chip:      esprom.ChipUnknown,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state
}

// Chip returns the detected chip, or ChipUnknown before detection.
func (s *Session) Chip() esprom.ChipID {
	return s.chip
}

// Statistics returns the session's wire statistics tracker.
func (s *Session) Statistics() *Statistics {
	return s.stats
}

// Failure returns the error that moved the session to StateFailed, or nil.
func (s *Session) Failure() error {
	return s.failure
}

// Close releases the transport. Safe in any state.
func (s *Session) Close() error {
	return s.transport.Close()
}

// ============================================================
// Connect
// ============================================================

// Connect resets the device into its bootloader and synchronizes with it.
// On success the chip is identified, its SPI flash attached and configured,
// and the link optionally renegotiated to a higher baud rate.
func (s *Session) Connect() error {
	if s.state != StateDisconnected {
		return fmt.Errorf("flasher: connect called in state %s", s.state)
	}
	s.setState(StateConnecting)

	if err := s.establishSync(); err != nil {
		return err
	}

	// Identify the chip. Failure here is logged, not fatal: the transfer
	// commands are identical across the family.
	if resp, err := s.command(esprom.NewReadReg(esprom.ChipDetectMagicAddr), s.config.CommandTimeout); err != nil {
		s.logError("chip detection failed", "error", err.Error())
	} else {
		s.chip = esprom.DetectChip(resp.Value())
	}

	if err := s.negotiateBaud(); err != nil {
		return s.failOp("change-baud", err)
	}

	if err := s.attachFlash(); err != nil {
		return err
	}

	s.setState(StateSynced)
	s.logInfo("synchronized", "chip", s.chip.String())
	return nil
}

// establishSync runs the nested retry schedule: an outer loop of
// reset-then-probe cycles, an inner loop of sync probes per cycle. Silence
// burns an attempt; a dead link stops everything.
func (s *Session) establishSync() error {
	profiles := s.config.ResetProfiles

	for cycle := 0; cycle < s.config.SyncCycles; cycle++ {
		if !s.config.SkipReset {
			profile := profiles[cycle%len(profiles)]
			s.logDebug("entering bootloader", "profile", profile.Name, "cycle", cycle+1)
			if err := EnterBootloader(s.transport, profile); err != nil {
				if errors.Is(err, ErrControlLinesUnsupported) {
					s.logInfo("transport has no control lines, assuming device is already in bootloader")
				} else {
					return s.failOp("reset", err)
				}
			}
		}

		// Drop boot noise from before and during the reset.
		if err := s.transport.FlushInput(); err != nil {
			return s.failOp("flush", err)
		}
		s.decoder.Reset()
		s.pending = nil

		for attempt := 0; attempt < s.config.SyncAttempts; attempt++ {
			outcome, err := s.syncProbe()
			switch outcome {
			case syncResponded:
				return s.drainSyncEchoes()
			case syncFailed:
				return s.failOp("sync", err)
			}
		}
	}

	return s.failOp("sync", ErrSyncTimeout)
}

type syncOutcome int

const (
	syncResponded syncOutcome = iota
	syncTimedOut
	syncFailed
)

// syncProbe sends one sync probe and classifies the result three ways. The
// two failure modes want opposite handling: silence means probe again, a
// dead link means stop immediately.
func (s *Session) syncProbe() (syncOutcome, error) {
	if err := s.sendRequest(esprom.NewSync()); err != nil {
		return syncFailed, err
	}

	// Any sync acknowledgement counts, whatever its status bytes say.
	_, err := s.awaitResponse(esprom.OpSync, s.config.SyncTimeout)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			s.stats.recordTimeout()
			return syncTimedOut, nil
		}
		return syncFailed, err
	}
	return syncResponded, nil
}

// drainSyncEchoes swallows the duplicate acknowledgements the ROM sends
// for probes that were buffered while it was still booting.
func (s *Session) drainSyncEchoes() error {
	for i := 0; i < s.config.SyncEchoDrain; i++ {
		_, err := s.awaitResponse(esprom.OpSync, s.config.SyncTimeout)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrTimeout) {
			return nil
		}
		return s.failOp("sync", err)
	}
	return nil
}

// negotiateBaud asks the loader to switch the link speed, then follows on
// the host side. Rejection is soft: the session stays at the connect rate.
// A host-side switch failure after the device acknowledged is fatal, since
// the two ends no longer agree.
func (s *Session) negotiateBaud() error {
	want := s.config.HighBaud
	if want == 0 {
		return nil
	}
	if !s.transport.Capabilities().BaudChange {
		s.logInfo("transport cannot change baud, staying at connect rate")
		return nil
	}

	// The old-rate word is zero when talking to the bare ROM loader.
	if _, err := s.command(esprom.NewChangeBaud(uint32(want), 0), s.config.CommandTimeout); err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return err
		}
		s.logError("baud change refused, staying at connect rate", "error", err.Error())
		return nil
	}

	if err := s.transport.SetBaudRate(want); err != nil {
		return err
	}
	time.Sleep(50 * time.Millisecond)
	if err := s.transport.FlushInput(); err != nil {
		return err
	}
	s.decoder.Reset()
	s.pending = nil

	s.logInfo("link speed changed", "baud", want)
	return nil
}

// attachFlash connects the chip's SPI controller to its flash and declares
// the flash geometry it should address.
func (s *Session) attachFlash() error {
	if _, err := s.retryCommand(esprom.NewSpiAttach(s.config.SpiPins), s.config.CommandTimeout, 2); err != nil {
		return s.failOp("spi-attach", err)
	}
	if _, err := s.retryCommand(esprom.NewSpiSetParams(s.config.FlashSize), s.config.CommandTimeout, 2); err != nil {
		return s.failOp("spi-set-params", err)
	}
	return nil
}

// ============================================================
// Flash
// ============================================================

// jobState carries transfer bookkeeping across regions.
type jobState struct {
	regionCount int
	written     int
	total       int
	start       time.Time
}

// Flash writes every region of the image set, in order. The device is left
// in the bootloader afterwards so the caller can verify before Finalize.
func (s *Session) Flash(images *ImageSet) error {
	if s.state != StateSynced && s.state != StateRegionComplete {
		return fmt.Errorf("%w: flash called in state %s", ErrNotSynced, s.state)
	}
	if images == nil || images.Count() == 0 {
		return &ProviderError{Region: -1, Err: fmt.Errorf("no regions to write")}
	}

	job := &jobState{
		regionCount: images.Count(),
		total:       images.TotalBytes(),
		start:       time.Now(),
	}
	s.reportProgress(Progress{
		State:       s.state,
		RegionCount: job.regionCount,
		TotalBytes:  job.total,
	})

	for i, region := range images.Regions() {
		if err := s.writeRegion(i, region, job); err != nil {
			return err
		}
	}
	return nil
}

// writeRegion runs one region through begin, data transfer, and a
// stay-in-bootloader end.
func (s *Session) writeRegion(index int, r Region, job *jobState) error {
	chunkSize := s.config.ChunkSize
	chunks := esprom.ChunkCount(len(r.Data), chunkSize)
	blocks := esprom.EraseBlocks(len(r.Data))

	s.setState(StateRegionBegin)
	s.logInfo("region begin",
		"region", index,
		"offset", fmt.Sprintf("0x%X", r.Offset),
		"size", len(r.Data),
		"chunks", chunks,
	)

	// The chip erases the whole target range before acknowledging, so the
	// wait scales with the erase size on top of the normal command wait.
	beginTimeout := s.config.CommandTimeout + time.Duration(blocks)*s.config.EraseTimeoutPerBlock

	begin := esprom.NewFlashBegin(esprom.EraseSize(len(r.Data)), uint32(chunks), uint32(chunkSize), r.Offset)
	if _, err := s.retryCommand(begin, beginTimeout, 1+s.config.BeginRetries); err != nil {
		return s.failRegion("flash-begin", index, err)
	}

	s.setState(StateRegionTransfer)
	for seq := 0; seq < chunks; seq++ {
		chunkStart := seq * chunkSize
		chunk, imageBytes := chunkAt(r.Data, chunkStart, chunkSize)

		req := esprom.NewFlashData(chunk, uint32(seq))
		if _, err := s.retryCommand(req, s.config.DataTimeout, s.config.ChunkRetries); err != nil {
			return s.failChunk("flash-data", index, seq, r.Offset+uint32(chunkStart), err)
		}

		job.written += imageBytes
		s.stats.addWritten(imageBytes)
		s.reportProgress(Progress{
			State:        s.state,
			Region:       index,
			RegionCount:  job.regionCount,
			RegionName:   r.Name,
			Sequence:     seq,
			BytesWritten: job.written,
			TotalBytes:   job.total,
			Elapsed:      time.Since(job.start),
		})
	}

	// Close the region without leaving the bootloader; more regions or a
	// verification pass may follow.
	if _, err := s.retryCommand(esprom.NewFlashEnd(false), s.config.CommandTimeout, 1+s.config.BeginRetries); err != nil {
		return s.failRegion("flash-end", index, err)
	}

	s.setState(StateRegionComplete)
	s.logInfo("region complete", "region", index, "bytes", len(r.Data))
	return nil
}

// chunkAt slices one transfer chunk out of the image, padding the final
// short chunk to full size with 0xFF (the erased-flash value). Returns the
// chunk and how many of its bytes are real image bytes.
func chunkAt(data []byte, offset, size int) ([]byte, int) {
	if offset+size <= len(data) {
		return data[offset : offset+size], size
	}
	chunk := make([]byte, size)
	n := copy(chunk, data[offset:])
	for i := n; i < size; i++ {
		chunk[i] = 0xFF
	}
	return chunk, n
}

// ============================================================
// Verify
// ============================================================

// Verify asks the device to hash each written region in place and compares
// against the image bytes. Returns ErrVerificationUnavailable when the
// connected loader has no hash command; that is a capability gap, not a
// failure, and the session remains usable.
func (s *Session) Verify(images *ImageSet) error {
	if s.state != StateSynced && s.state != StateRegionComplete {
		return fmt.Errorf("%w: verify called in state %s", ErrNotSynced, s.state)
	}

	for i, r := range images.Regions() {
		want := md5.Sum(r.Data)

		// Hashing time scales with the region size, same as erasing.
		timeout := s.config.CommandTimeout + time.Duration(esprom.EraseBlocks(len(r.Data)))*s.config.EraseTimeoutPerBlock

		resp, err := s.command(esprom.NewSpiFlashMD5(r.Offset, uint32(len(r.Data))), timeout)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.SecureBoot() && se.Status.Byte2 == esprom.RomErrInvalidMessage {
				return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
			}
			return s.failRegion("verify", i, err)
		}

		got, err := esprom.ParseMD5Digest(resp.Body())
		if err != nil {
			return s.failRegion("verify", i, err)
		}
		if !bytes.Equal(got, want[:]) {
			return s.failRegion("verify", i, &VerifyError{
				Region: i,
				Offset: r.Offset,
				Want:   want[:],
				Got:    got,
			})
		}
		s.logInfo("region verified", "region", i, "md5", fmt.Sprintf("%x", got))
	}
	return nil
}

// ============================================================
// Finalize
// ============================================================

// Finalize reboots the device out of the bootloader into the application.
// When the transport has control lines this is backed by a hard reset,
// which covers loaders whose soft reboot is unreliable.
func (s *Session) Finalize() error {
	if s.state != StateSynced && s.state != StateRegionComplete {
		return fmt.Errorf("%w: finalize called in state %s", ErrNotSynced, s.state)
	}
	s.setState(StateFinalizing)

	// Confirm the loader is still answering before asking it to reboot.
	outcome, err := s.syncProbe()
	switch outcome {
	case syncFailed:
		return s.failOp("finalize", err)
	case syncTimedOut:
		s.logError("loader quiet before reboot, proceeding")
	case syncResponded:
		if err := s.drainSyncEchoes(); err != nil {
			return err
		}
	}

	canHardReset := !s.config.SkipReset && s.transport.Capabilities().ControlLines

	// Single attempt: if the acknowledgement is lost because the device
	// already rebooted, a retry would only time out again.
	if _, err := s.command(esprom.NewFlashEnd(true), s.config.CommandTimeout); err != nil {
		if errors.Is(err, ErrTimeout) && canHardReset {
			s.logError("no reboot acknowledgement, forcing hard reset")
		} else {
			return s.failOp("flash-end", err)
		}
	}

	if canHardReset {
		if err := ReleaseReset(s.transport, s.config.ResetProfiles[0]); err != nil {
			return s.failOp("reset", err)
		}
	}

	s.setState(StateRebooted)
	s.logInfo("device rebooted into application")
	return nil
}

// SecurityInfo queries the loader's security configuration. Not all ROM
// generations implement the command; those reply with an invalid-command
// status, surfaced as a StatusError.
func (s *Session) SecurityInfo() (*esprom.SecurityInfo, error) {
	if s.state != StateSynced && s.state != StateRegionComplete {
		return nil, fmt.Errorf("%w: security info requested in state %s", ErrNotSynced, s.state)
	}
	resp, err := s.command(esprom.NewGetSecurityInfo(), s.config.CommandTimeout)
	if err != nil {
		return nil, err
	}
	return esprom.ParseSecurityInfo(resp.Body())
}

// ReadRegister reads one 32-bit peripheral or eFuse register.
func (s *Session) ReadRegister(addr uint32) (uint32, error) {
	if s.state != StateSynced && s.state != StateRegionComplete {
		return 0, fmt.Errorf("%w: register read in state %s", ErrNotSynced, s.state)
	}
	resp, err := s.command(esprom.NewReadReg(addr), s.config.CommandTimeout)
	if err != nil {
		return 0, err
	}
	return resp.Value(), nil
}

// ============================================================
// Exchange machinery
// ============================================================

// retryCommand runs one exchange with up to attempts tries, resending the
// identical request each time so data chunks keep their sequence number.
// Secure-boot rejections and transport failures stop the retries cold.
func (s *Session) retryCommand(req *esprom.Request, timeout time.Duration, attempts int) (*esprom.Response, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			s.stats.recordRetry()
			s.logDebug("retrying command",
				"opcode", esprom.FormatOpcode(req.Opcode()),
				"attempt", attempt+1,
			)
			time.Sleep(time.Duration(attempt) * s.config.RetryBackoff)
		}

		resp, err := s.command(req, timeout)
		if err == nil {
			return resp, nil
		}

		var se *StatusError
		if errors.As(err, &se) && se.SecureBoot() {
			return nil, err
		}
		var te *TransportError
		if errors.As(err, &te) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// command is a single request/response exchange. A device rejection comes
// back as a StatusError; silence comes back as ErrTimeout.
func (s *Session) command(req *esprom.Request, timeout time.Duration) (*esprom.Response, error) {
	if err := s.sendRequest(req); err != nil {
		return nil, err
	}
	resp, err := s.awaitResponse(req.Opcode(), timeout)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			s.stats.recordTimeout()
		}
		return nil, err
	}
	if !resp.Success() {
		s.stats.recordRejection()
		return nil, &StatusError{Op: req.Opcode(), Status: resp.Status()}
	}
	s.logDebug("exchange complete", "response", esprom.FormatResponse(resp))
	return resp, nil
}

// sendRequest frames and writes one request.
func (s *Session) sendRequest(req *esprom.Request) error {
	s.stats.recordCommand()
	return s.transport.Write(slip.Encode(req.Encode()))
}

// awaitResponse scans incoming frames until one acknowledges op. Frames
// for other opcodes are stale echoes from earlier retries and are dropped;
// malformed frames count as noise and the scan continues.
func (s *Session) awaitResponse(op esprom.Opcode, timeout time.Duration) (*esprom.Response, error) {
	deadline := time.Now().Add(timeout)
	for {
		frame, err := s.readFrame(deadline)
		if err != nil {
			return nil, err
		}

		resp, derr := esprom.DecodeResponse(frame)
		if derr != nil {
			s.stats.recordFramingError()
			s.logDebug("dropping malformed frame",
				"error", (&FramingError{Err: derr}).Error(),
				"frame", esprom.FormatFrameHex(frame),
			)
			continue
		}
		if resp.Opcode() != op {
			s.stats.recordStaleFrame()
			s.logDebug("dropping stale frame",
				"got", esprom.FormatOpcode(resp.Opcode()),
				"want", esprom.FormatOpcode(op),
			)
			continue
		}
		s.stats.recordResponse()
		return resp, nil
	}
}

// readFrame returns the next SLIP frame, feeding the decoder from the
// transport until one completes or the deadline passes.
func (s *Session) readFrame(deadline time.Time) ([]byte, error) {
	if len(s.pending) > 0 {
		frame := s.pending[0]
		s.pending = s.pending[1:]
		return frame, nil
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}

		chunk, err := s.transport.ReadChunk(remaining)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return nil, ErrTimeout
			}
			return nil, err
		}

		noiseBefore := s.decoder.Discarded()
		var first []byte
		for _, b := range chunk {
			frame, derr := s.decoder.DecodeByte(b)
			if derr != nil {
				s.stats.recordFramingError()
				s.logDebug("framing error", "error", derr.Error())
				continue
			}
			if frame == nil {
				continue
			}
			if first == nil {
				first = frame
			} else {
				s.pending = append(s.pending, frame)
			}
		}
		if d := s.decoder.Discarded() - noiseBefore; d > 0 {
			s.stats.addNoise(d)
		}

		if first != nil {
			return first, nil
		}
	}
}

// ============================================================
// Failure and reporting helpers
// ============================================================

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	s.logDebug("state transition", "from", s.state.String(), "to", next.String())
	s.state = next
}

func (s *Session) failOp(op string, err error) error {
	return s.terminate(&SessionError{
		State:    s.state,
		Op:       op,
		Region:   -1,
		Sequence: -1,
		Err:      err,
	})
}

func (s *Session) failRegion(op string, region int, err error) error {
	return s.terminate(&SessionError{
		State:    s.state,
		Op:       op,
		Region:   region,
		Sequence: -1,
		Err:      err,
	})
}

func (s *Session) failChunk(op string, region, sequence int, offset uint32, err error) error {
	return s.terminate(&SessionError{
		State:    s.state,
		Op:       op,
		Region:   region,
		Sequence: sequence,
		Offset:   offset,
		Err:      err,
	})
}

func (s *Session) terminate(serr *SessionError) error {
	s.failure = serr
	s.state = StateFailed
	s.logError("session failed", "op", serr.Op, "error", serr.Err.Error())
	return serr
}

func (s *Session) reportProgress(p Progress) {
	if s.config.ProgressCallback != nil {
		s.config.ProgressCallback(p)
	}
}

func (s *Session) logDebug(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, keysAndValues...)
	}
}

func (s *Session) logInfo(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Info(msg, keysAndValues...)
	}
}

func (s *Session) logError(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Error(msg, keysAndValues...)
	}
}
