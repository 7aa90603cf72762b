// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import "time"

// Progress is a snapshot of a flashing session's transfer position. Passed
// to the progress callback after every acknowledged chunk and at phase
// boundaries.
type Progress struct {
	// State is the session state at the time of the snapshot.
	State State

	// Region is the index of the region being written (0-based).
	Region int

	// RegionCount is the total number of regions in the image set.
	RegionCount int

	// RegionName labels the current region when the provider supplied one.
	RegionName string

	// Sequence is the chunk sequence number within the current region.
	Sequence int

	// BytesWritten counts acknowledged image bytes across all regions.
	// Pad bytes on the final chunk of a region are not counted.
	BytesWritten int

	// TotalBytes is the summed image size across all regions.
	TotalBytes int

	// Elapsed is the time since the transfer phase began.
	Elapsed time.Duration
}

// Percentage returns completion as 0..100.
func (p Progress) Percentage() float64 {
	if p.TotalBytes == 0 {
		return 0
	}
	return float64(p.BytesWritten) * 100.0 / float64(p.TotalBytes)
}

// ProgressCallback receives transfer progress. Implementations should
// return quickly; the session blocks on the callback.
type ProgressCallback func(Progress)

// Logger receives session diagnostics. It matches the structured key-value
// style so any logging framework can sit behind it.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
