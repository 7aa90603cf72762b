// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import "time"

// ResetProfile is one reset timing recipe. Profiles are plain data so new
// board quirks become a new entry, not new sequencing code.
type ResetProfile struct {
	Name string

	// ResetHold is how long EN is held low with boot-select forced.
	ResetHold time.Duration

	// BootHold is how long boot-select stays forced after EN is released.
	// The chip samples the strap as it comes out of reset.
	BootHold time.Duration

	// Settle is quiet time after the lines are released.
	Settle time.Duration
}

// DefaultResetProfiles returns the timing recipes tried in order during
// connect, one per sync cycle. The classic timings work for most boards;
// the longer holds cover boards with large EN capacitors, and usb-bridge
// covers converters that are slow to propagate line changes.
func DefaultResetProfiles() []ResetProfile {
	return []ResetProfile{
		{Name: "classic", ResetHold: 100 * time.Millisecond, BootHold: 50 * time.Millisecond, Settle: 50 * time.Millisecond},
		{Name: "extra-hold", ResetHold: 500 * time.Millisecond, BootHold: 500 * time.Millisecond, Settle: 100 * time.Millisecond},
		{Name: "usb-bridge", ResetHold: 100 * time.Millisecond, BootHold: 450 * time.Millisecond, Settle: 50 * time.Millisecond},
	}
}

// EnterBootloader drives the reset waveform that lands the chip in its
// serial bootloader: reset asserted with boot-select forced, reset released
// with boot-select still forced, then boot-select released.
//
// Returns ErrControlLinesUnsupported when the transport cannot drive the
// lines; callers treat that as "hope the device is already in the
// bootloader", not as a failure.
func EnterBootloader(t Transport, p ResetProfile) error {
	if !t.Capabilities().ControlLines {
		return ErrControlLinesUnsupported
	}

	if err := t.SetControlLines(false, false); err != nil {
		return err
	}
	time.Sleep(p.ResetHold)

	if err := t.SetControlLines(true, false); err != nil {
		return err
	}
	time.Sleep(p.BootHold)

	if err := t.SetControlLines(true, true); err != nil {
		return err
	}
	time.Sleep(p.Settle)

	return nil
}

// ReleaseReset power-cycles the chip into a normal application boot:
// reset asserted with boot-select released, then reset released.
func ReleaseReset(t Transport, p ResetProfile) error {
	if !t.Capabilities().ControlLines {
		return ErrControlLinesUnsupported
	}

	if err := t.SetControlLines(false, true); err != nil {
		return err
	}
	time.Sleep(p.ResetHold)

	if err := t.SetControlLines(true, true); err != nil {
		return err
	}
	time.Sleep(p.Settle)

	return nil
}
