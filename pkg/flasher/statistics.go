// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"fmt"
	"time"
)

// Statistics tracks wire traffic and error rates for one session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	CommandsSent     uint64
	ResponsesOK      uint64
	Timeouts         uint64
	FramingErrors    uint64
	StaleFrames      uint64
	StatusRejections uint64
	Retries          uint64
	NoiseBytes       uint64
	BytesWritten     uint64

	// Rates (calculated)
	CommandRate float64 // commands/sec
	Throughput  float64 // image bytes/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

func (s *Statistics) recordCommand() {
	s.CommandsSent++
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) recordResponse() {
	s.ResponsesOK++
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) recordTimeout() {
	s.Timeouts++
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) recordFramingError() {
	s.FramingErrors++
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) recordStaleFrame() {
	s.StaleFrames++
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) recordRejection() {
	s.StatusRejections++
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) recordRetry() {
	s.Retries++
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) addNoise(n int) {
	s.NoiseBytes += uint64(n)
}

func (s *Statistics) addWritten(n int) {
	s.BytesWritten += uint64(n)
	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates command and throughput rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.CommandRate = float64(s.CommandsSent) / elapsed
		s.Throughput = float64(s.BytesWritten) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Session Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Commands Sent:   %8d\n", s.CommandsSent)
	result += fmt.Sprintf("Responses OK:    %8d\n", s.ResponsesOK)
	result += fmt.Sprintf("Bytes Written:   %8d\n", s.BytesWritten)

	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d\n", s.FramingErrors)
	}
	if s.StaleFrames > 0 {
		result += fmt.Sprintf("Stale Frames:    %8d\n", s.StaleFrames)
	}
	if s.StatusRejections > 0 {
		result += fmt.Sprintf("Rejections:      %8d\n", s.StatusRejections)
	}
	if s.Retries > 0 {
		result += fmt.Sprintf("Retries:         %8d\n", s.Retries)
	}
	if s.NoiseBytes > 0 {
		result += fmt.Sprintf("Noise Bytes:     %8d\n", s.NoiseBytes)
	}

	result += fmt.Sprintf("Command Rate:    %8.1f cmds/sec\n", s.CommandRate)
	result += fmt.Sprintf("Throughput:      %8.1f bytes/sec\n", s.Throughput)
	result += "=====================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.CommandsSent = 0
	s.ResponsesOK = 0
	s.Timeouts = 0
	s.FramingErrors = 0
	s.StaleFrames = 0
	s.StatusRejections = 0
	s.Retries = 0
	s.NoiseBytes = 0
	s.BytesWritten = 0
	s.CommandRate = 0
	s.Throughput = 0
}
