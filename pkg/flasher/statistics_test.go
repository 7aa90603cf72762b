// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"strings"
	"testing"
)

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Counters(t *testing.T) {
	s := NewStatistics()

	s.recordCommand()
	s.recordCommand()
	s.recordResponse()
	s.recordTimeout()
	s.recordFramingError()
	s.recordStaleFrame()
	s.recordRejection()
	s.recordRetry()
	s.addNoise(48)
	s.addWritten(1024)
	s.addWritten(512)

	if s.CommandsSent != 2 {
		t.Errorf("CommandsSent = %d, want 2", s.CommandsSent)
	}
	if s.ResponsesOK != 1 {
		t.Errorf("ResponsesOK = %d, want 1", s.ResponsesOK)
	}
	if s.Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", s.Timeouts)
	}
	if s.FramingErrors != 1 {
		t.Errorf("FramingErrors = %d, want 1", s.FramingErrors)
	}
	if s.StaleFrames != 1 {
		t.Errorf("StaleFrames = %d, want 1", s.StaleFrames)
	}
	if s.StatusRejections != 1 {
		t.Errorf("StatusRejections = %d, want 1", s.StatusRejections)
	}
	if s.Retries != 1 {
		t.Errorf("Retries = %d, want 1", s.Retries)
	}
	if s.NoiseBytes != 48 {
		t.Errorf("NoiseBytes = %d, want 48", s.NoiseBytes)
	}
	if s.BytesWritten != 1536 {
		t.Errorf("BytesWritten = %d, want 1536", s.BytesWritten)
	}
}

func TestStatistics_StringHidesZeroCounters(t *testing.T) {
	s := NewStatistics()
	s.recordCommand()
	s.recordResponse()

	out := s.String()
	if !strings.Contains(out, "Commands Sent") {
		t.Error("summary is missing the command counter")
	}
	if strings.Contains(out, "Timeouts") {
		t.Error("summary shows a zero timeout counter")
	}
	if strings.Contains(out, "Retries") {
		t.Error("summary shows a zero retry counter")
	}

	s.recordTimeout()
	s.recordRetry()
	out = s.String()
	if !strings.Contains(out, "Timeouts") {
		t.Error("summary is missing a non-zero timeout counter")
	}
	if !strings.Contains(out, "Retries") {
		t.Error("summary is missing a non-zero retry counter")
	}
}

func TestStatistics_Reset(t *testing.T) {
	s := NewStatistics()
	s.recordCommand()
	s.recordTimeout()
	s.addWritten(4096)
	s.CalculateRates()

	s.Reset()

	if s.CommandsSent != 0 || s.Timeouts != 0 || s.BytesWritten != 0 {
		t.Errorf("counters after Reset = %d/%d/%d, want all zero",
			s.CommandsSent, s.Timeouts, s.BytesWritten)
	}
	if s.CommandRate != 0 || s.Throughput != 0 {
		t.Errorf("rates after Reset = %.1f/%.1f, want zero",
			s.CommandRate, s.Throughput)
	}
}

func TestStatistics_CalculateRates(t *testing.T) {
	s := NewStatistics()
	s.recordCommand()
	s.addWritten(2048)

	s.CalculateRates()

	if s.CommandRate <= 0 {
		t.Errorf("CommandRate = %.2f, want > 0", s.CommandRate)
	}
	if s.Throughput <= 0 {
		t.Errorf("Throughput = %.2f, want > 0", s.Throughput)
	}
}
