// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"time"

	"github.com/Thermoquad/cinder/pkg/esprom"
)

// Config holds the session configuration. Sessions copy it at construction,
// so mutating a Config after New has no effect on a running session.
type Config struct {
	// ChunkSize is the payload size per data command.
	ChunkSize int

	// SyncCycles is how many reset-then-probe cycles connect runs before
	// giving up. Each cycle uses the next reset profile, wrapping around.
	SyncCycles int

	// SyncAttempts is how many sync probes are sent within one cycle.
	SyncAttempts int

	// SyncTimeout is the response wait per sync probe.
	SyncTimeout time.Duration

	// SyncEchoDrain bounds how many duplicate sync acknowledgements are
	// swallowed after the first. The boot ROM answers every buffered
	// probe at once.
	SyncEchoDrain int

	// CommandTimeout is the response wait for ordinary commands.
	CommandTimeout time.Duration

	// DataTimeout is the response wait per data chunk.
	DataTimeout time.Duration

	// EraseTimeoutPerBlock scales the begin-command wait: the chip erases
	// the whole target range before acknowledging, and erase time grows
	// with the region size.
	EraseTimeoutPerBlock time.Duration

	// ChunkRetries is the number of attempts per data chunk.
	ChunkRetries int

	// BeginRetries is the number of extra attempts for a failed begin.
	BeginRetries int

	// RetryBackoff is the base delay between chunk retries. The delay
	// grows linearly with the attempt number.
	RetryBackoff time.Duration

	// ResetProfiles are the timing recipes cycled through during connect.
	ResetProfiles []ResetProfile

	// SkipReset skips reset sequencing entirely. For devices already
	// holding in the bootloader.
	SkipReset bool

	// HighBaud, when non-zero and above the connect rate, is negotiated
	// after sync on transports that support a baud change.
	HighBaud int

	// FlashSize is the total flash capacity reported to the chip's SPI
	// configuration command.
	FlashSize uint32

	// SpiPins is the pin configuration word for the SPI attach command.
	// Zero selects the chip's default flash wiring.
	SpiPins uint32

	// ProgressCallback receives transfer progress (optional).
	ProgressCallback ProgressCallback

	// Logger receives session diagnostics (optional).
	Logger Logger
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		ChunkSize:            esprom.DefaultChunkSize,
		SyncCycles:           7,
		SyncAttempts:         5,
		SyncTimeout:          100 * time.Millisecond,
		SyncEchoDrain:        8,
		CommandTimeout:       3 * time.Second,
		DataTimeout:          3 * time.Second,
		EraseTimeoutPerBlock: 2 * time.Second,
		ChunkRetries:         3,
		BeginRetries:         2,
		RetryBackoff:         100 * time.Millisecond,
		ResetProfiles:        DefaultResetProfiles(),
		FlashSize:            4 * 1024 * 1024,
	}
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

// WithChunkSize sets the payload size per data command. Values outside
// 256..4096 are ignored; the boot ROM accepts this whole range and the
// default suits most links.
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size >= 256 && size <= 4096 {
			c.ChunkSize = size
		}
	}
}

// WithSyncBudget sets the connect retry shape: cycles is the number of
// reset-then-probe rounds, attempts the probes per round.
func WithSyncBudget(cycles, attempts int) Option {
	return func(c *Config) {
		if cycles > 0 {
			c.SyncCycles = cycles
		}
		if attempts > 0 {
			c.SyncAttempts = attempts
		}
	}
}

// WithSyncTimeout sets the response wait per sync probe.
func WithSyncTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.SyncTimeout = timeout
		}
	}
}

// WithCommandTimeout sets the response wait for ordinary commands.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.CommandTimeout = timeout
		}
	}
}

// WithDataTimeout sets the response wait per data chunk.
func WithDataTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.DataTimeout = timeout
		}
	}
}

// WithChunkRetries sets the number of attempts per data chunk.
func WithChunkRetries(retries int) Option {
	return func(c *Config) {
		if retries > 0 {
			c.ChunkRetries = retries
		}
	}
}

// WithRetryBackoff sets the base delay between chunk retries.
func WithRetryBackoff(backoff time.Duration) Option {
	return func(c *Config) {
		if backoff >= 0 {
			c.RetryBackoff = backoff
		}
	}
}

// WithResetProfiles replaces the reset timing recipes tried during connect.
//
// Example:
//
//	sess := flasher.New(t, flasher.WithResetProfiles(flasher.ResetProfile{
//	    Name:      "slow-board",
//	    ResetHold: 500 * time.Millisecond,
//	    BootHold:  time.Second,
//	    Settle:    100 * time.Millisecond,
//	}))
func WithResetProfiles(profiles ...ResetProfile) Option {
	return func(c *Config) {
		if len(profiles) > 0 {
			c.ResetProfiles = profiles
		}
	}
}

// WithSkipReset disables reset sequencing. For devices already holding in
// the bootloader or transports without control lines.
func WithSkipReset() Option {
	return func(c *Config) {
		c.SkipReset = true
	}
}

// WithHighBaud requests a link speed renegotiation after sync. Ignored on
// transports that cannot change baud.
func WithHighBaud(baud int) Option {
	return func(c *Config) {
		if baud > 0 {
			c.HighBaud = baud
		}
	}
}

// WithFlashSize sets the flash capacity reported to the chip.
func WithFlashSize(size uint32) Option {
	return func(c *Config) {
		if size > 0 {
			c.FlashSize = size
		}
	}
}

// WithSpiPins sets the pin configuration word for the SPI attach command.
func WithSpiPins(pins uint32) Option {
	return func(c *Config) {
		c.SpiPins = pins
	}
}

// WithProgressCallback sets a callback to track transfer progress.
//
// Example:
//
//	sess := flasher.New(t, flasher.WithProgressCallback(func(p flasher.Progress) {
//	    fmt.Printf("%.1f%% region %d/%d\n", p.Percentage(), p.Region+1, p.RegionCount)
//	}))
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for session diagnostics.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
