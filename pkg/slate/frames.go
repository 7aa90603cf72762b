// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package slate implements the client side of the Slate router UART
// bridge. A router exposes one of its serial ports over a WebSocket
// endpoint: binary messages carry raw UART bytes in both directions,
// text messages carry CBOR control traffic. The Bridge type satisfies
// flasher.Transport, so a module behind a router flashes exactly like
// one on a local port.
package slate

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Message types - Session Setup (Client → Router) 0x01-0x0F
const (
	MsgAttach = 0x01
)

// Message types - Control (Client → Router) 0x10-0x1F
const (
	MsgSetLines = 0x10
	MsgSetBaud  = 0x11
	MsgFlush    = 0x12
)

// Message types - Replies (Router → Client) 0x20-0x2F
const (
	MsgAttachReply = 0x20
)

// Attach request payload keys
const (
	keyAttachPort  = 0
	keyAttachBaud  = 1
	keyAttachLines = 2
)

// Attach reply payload keys
const (
	keyReplyOK    = 0
	keyReplyError = 1
	keyReplyLines = 2
	keyReplyBaud  = 3
)

// Line-set payload keys
const (
	keyLinesEN   = 0
	keyLinesBoot = 1
)

// Baud-change payload keys
const (
	keyBaudRate = 0
)

// EncodeMessage encodes a Slate control message: [msg_type, payload_map].
// A nil payload encodes as CBOR null.
func EncodeMessage(msgType uint8, payload map[int]interface{}) ([]byte, error) {
	data, err := cbor.Marshal([]interface{}{msgType, payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return data, nil
}

// ParseMessage parses a Slate control message: [msg_type, payload_map]
// Returns the message type and decoded payload map (nil for empty payloads)
func ParseMessage(data []byte) (msgType uint8, payload map[int]interface{}, err error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty CBOR payload")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}

	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	switch v := msg[0].(type) {
	case uint64:
		if v > 255 {
			return 0, nil, fmt.Errorf("message type out of range: %d", v)
		}
		msgType = uint8(v)
	default:
		return 0, nil, fmt.Errorf("expected uint for message type, got %T", msg[0])
	}

	if msg[1] == nil {
		return msgType, nil, nil
	}

	switch v := msg[1].(type) {
	case map[interface{}]interface{}:
		payload = make(map[int]interface{})
		for key, val := range v {
			switch k := key.(type) {
			case uint64:
				payload[int(k)] = val
			case int64:
				payload[int(k)] = val
			default:
				return 0, nil, fmt.Errorf("expected integer map key, got %T", key)
			}
		}
	default:
		return 0, nil, fmt.Errorf("expected map or nil for payload, got %T", msg[1])
	}

	return msgType, payload, nil
}

// encodeAttachRequest builds the first frame of a bridge session: which
// router port to claim, the UART rate to open it at, and whether the
// client wants the reset and boot-select lines driven.
func encodeAttachRequest(port string, baud int, lines bool) ([]byte, error) {
	return EncodeMessage(MsgAttach, map[int]interface{}{
		keyAttachPort:  port,
		keyAttachBaud:  uint64(baud),
		keyAttachLines: lines,
	})
}

// attachReply is the router's answer to an attach request. lines and baud
// report which control operations this router will honor for the session.
type attachReply struct {
	ok      bool
	errText string
	lines   bool
	baud    bool
}

func parseAttachReply(payload map[int]interface{}) (attachReply, error) {
	var reply attachReply

	granted, present := mapBool(payload, keyReplyOK)
	if !present {
		return reply, fmt.Errorf("attach reply missing ok field")
	}
	reply.ok = granted
	reply.errText, _ = mapString(payload, keyReplyError)
	reply.lines, _ = mapBool(payload, keyReplyLines)
	reply.baud, _ = mapBool(payload, keyReplyBaud)
	return reply, nil
}

// Map value extraction helpers

func mapBool(m map[int]interface{}, key int) (bool, bool) {
	if m == nil {
		return false, false
	}
	v, ok := m[key]
	if !ok {
		return false, false
	}
	if val, ok := v.(bool); ok {
		return val, true
	}
	return false, false
}

func mapUint(m map[int]interface{}, key int) (uint64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
		return 0, false
	}
	return 0, false
}

func mapString(m map[int]interface{}, key int) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	if val, ok := v.(string); ok {
		return val, true
	}
	return "", false
}
