// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package slip

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// ============================================================
// Round-Trip Fuzz Tests
// ============================================================

// TestFuzzRoundTrip_RandomBuffers verifies Decode(Encode(b)) == b for random
// buffers of varying length, biased toward the special framing bytes
func TestFuzzRoundTrip_RandomBuffers(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		length := rng.Intn(1024)
		raw := make([]byte, length)
		for j := range raw {
			// Bias toward delimiter and escape bytes to exercise stuffing
			switch rng.Intn(4) {
			case 0:
				raw[j] = Delimiter
			case 1:
				raw[j] = Escape
			default:
				raw[j] = byte(rng.Intn(256))
			}
		}

		decoded, err := Decode(Encode(raw))
		if err != nil {
			t.Fatalf("round %d: decode failed: %v (input % X)", i, err, raw)
		}
		if !bytes.Equal(decoded, raw) {
			t.Fatalf("round %d: round-trip mismatch: expected % X, got % X", i, raw, decoded)
		}
	}
}

// TestFuzzDecoder_MatchesOneShotDecode verifies the streaming decoder yields
// the same frame as the pure one-shot Decode for random encoded frames
func TestFuzzDecoder_MatchesOneShotDecode(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	d := NewDecoder()
	for i := 0; i < rounds; i++ {
		length := rng.Intn(256) + 1
		raw := make([]byte, length)
		rng.Read(raw)

		wire := Encode(raw)
		oneShot, err := Decode(wire)
		if err != nil {
			t.Fatalf("round %d: one-shot decode failed: %v", i, err)
		}

		var streamed []byte
		for _, b := range wire {
			frame, err := d.DecodeByte(b)
			if err != nil {
				t.Fatalf("round %d: streaming decode failed: %v", i, err)
			}
			if frame != nil {
				streamed = frame
			}
		}

		if streamed == nil {
			t.Fatalf("round %d: streaming decoder produced no frame", i)
		}
		if !bytes.Equal(streamed, oneShot) {
			t.Fatalf("round %d: decoder mismatch: one-shot % X, streamed % X", i, oneShot, streamed)
		}
	}
}

// TestFuzzDecoder_RandomBytes feeds raw random bytes to the streaming decoder
// and verifies it never panics and never emits a frame larger than the cap
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()
		length := rng.Intn(512) + 1
		data := make([]byte, length)
		rng.Read(data)

		for _, b := range data {
			frame, _ := d.DecodeByte(b)
			if frame != nil && len(frame) > MaxFrameSize {
				t.Fatalf("round %d: frame exceeds cap: %d bytes", i, len(frame))
			}
		}
	}
}
