// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package slate

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Thermoquad/cinder/pkg/flasher"
	"github.com/gorilla/websocket"
)

// Config holds bridge connection parameters.
type Config struct {
	// Port names the UART device on the router side. Empty selects the
	// router's default port.
	Port string

	// Baud is the rate the router opens its UART at.
	Baud int

	// HandshakeTimeout bounds the WebSocket upgrade and the attach
	// exchange.
	HandshakeTimeout time.Duration

	// InsecureTLS skips certificate verification on wss:// endpoints.
	InsecureTLS bool
}

func defaultConfig() Config {
	return Config{
		Baud:             115200,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Option configures Dial.
type Option func(*Config)

// WithPort selects the UART device on the router side.
func WithPort(name string) Option {
	return func(c *Config) {
		c.Port = name
	}
}

// WithBaud sets the rate the router opens its UART at.
func WithBaud(baud int) Option {
	return func(c *Config) {
		if baud > 0 {
			c.Baud = baud
		}
	}
}

// WithHandshakeTimeout bounds the WebSocket upgrade and attach exchange.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.HandshakeTimeout = d
		}
	}
}

// WithInsecureTLS skips certificate verification for wss:// endpoints.
func WithInsecureTLS(skip bool) Option {
	return func(c *Config) {
		c.InsecureTLS = skip
	}
}

// Bridge tunnels UART bytes through a Slate router over WebSocket. It
// implements flasher.Transport.
//
// One internal goroutine owns the socket's read side: WebSocket read
// errors are permanent on the connection, so an expired per-read deadline
// would poison the socket for every later read. The goroutine pumps
// binary payloads into a channel and ReadChunk selects on it against a
// timer instead.
type Bridge struct {
	conn *websocket.Conn
	url  string
	caps flasher.TransportCaps

	frames  chan []byte
	done    chan struct{}
	readErr error // set by readLoop before frames closes

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to a Slate router's UART bridge endpoint and attaches to
// a serial port behind it. Credentials travel as HTTP basic auth on the
// upgrade request. The returned Bridge reports the control-line and
// baud-change capabilities the router granted in its attach reply.
func Dial(wsURL, username, password string, opts ...Option) (*Bridge, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("slate: invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("slate: unsupported URL scheme %q (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: cfg.InsecureTLS,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout+5*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("slate: connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("slate: connection failed: %w", err)
	}

	reply, err := attach(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	b := &Bridge{
		conn: conn,
		url:  wsURL,
		caps: flasher.TransportCaps{
			ControlLines: reply.lines,
			BaudChange:   reply.baud,
		},
		frames: make(chan []byte, 32),
		done:   make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

// attach performs the CBOR exchange that binds this connection to a
// router UART. Binary traffic before the reply is dropped; the byte
// stream proper starts only after a granted attach.
func attach(conn *websocket.Conn, cfg Config) (attachReply, error) {
	var reply attachReply

	req, err := encodeAttachRequest(cfg.Port, cfg.Baud, true)
	if err != nil {
		return reply, fmt.Errorf("slate: %w", err)
	}

	deadline := time.Now().Add(cfg.HandshakeTimeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return reply, fmt.Errorf("slate: attach send failed: %w", err)
	}
	conn.SetWriteDeadline(time.Time{})

	conn.SetReadDeadline(deadline)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return reply, fmt.Errorf("slate: no attach reply: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msgType, payload, err := ParseMessage(data)
		if err != nil {
			return reply, fmt.Errorf("slate: bad attach reply: %w", err)
		}
		if msgType != MsgAttachReply {
			return reply, fmt.Errorf("slate: unexpected message type 0x%02X during attach", msgType)
		}
		reply, err = parseAttachReply(payload)
		if err != nil {
			return reply, fmt.Errorf("slate: bad attach reply: %w", err)
		}
		break
	}
	conn.SetReadDeadline(time.Time{})

	if !reply.ok {
		if reply.errText != "" {
			return reply, fmt.Errorf("slate: attach rejected: %s", reply.errText)
		}
		return reply, fmt.Errorf("slate: attach rejected")
	}
	return reply, nil
}

// readLoop owns the socket's read side. Binary payloads go to the frames
// channel; unsolicited text traffic is dropped. On any read error it
// records the cause and closes frames, which ReadChunk surfaces.
func (b *Bridge) readLoop() {
	for {
		messageType, data, err := b.conn.ReadMessage()
		if err != nil {
			b.readErr = err
			close(b.frames)
			return
		}
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case b.frames <- data:
		case <-b.done:
			return
		}
	}
}

// ReadChunk returns the next binary payload from the router, waiting up
// to timeout for one to arrive. Expiry returns flasher.ErrTimeout with
// nothing consumed.
func (b *Bridge) ReadChunk(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data, ok := <-b.frames:
		if !ok {
			return nil, &flasher.TransportError{Op: "read", Err: b.readErr}
		}
		return data, nil
	case <-timer.C:
		return nil, flasher.ErrTimeout
	}
}

// Write sends p to the router as one binary message. The router relays
// it to its UART verbatim.
func (b *Bridge) Write(p []byte) error {
	if err := b.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return &flasher.TransportError{Op: "write", Err: err}
	}
	return nil
}

// SetControlLines forwards the module enable and boot-select levels to
// the router, which drives the physical lines next to its UART header.
// The router applies control frames in arrival order relative to binary
// data on the same connection.
func (b *Bridge) SetControlLines(en, bootSelect bool) error {
	if !b.caps.ControlLines {
		return flasher.ErrControlLinesUnsupported
	}
	frame, err := EncodeMessage(MsgSetLines, map[int]interface{}{
		keyLinesEN:   en,
		keyLinesBoot: bootSelect,
	})
	if err != nil {
		return fmt.Errorf("slate: %w", err)
	}
	return b.writeControl("set-lines", frame)
}

// SetBaudRate asks the router to reopen its UART at the given rate.
func (b *Bridge) SetBaudRate(baud int) error {
	if !b.caps.BaudChange {
		return flasher.ErrBaudChangeUnsupported
	}
	frame, err := EncodeMessage(MsgSetBaud, map[int]interface{}{
		keyBaudRate: uint64(baud),
	})
	if err != nil {
		return fmt.Errorf("slate: %w", err)
	}
	return b.writeControl("set-baud", frame)
}

// FlushInput drops everything already queued on both sides of the
// tunnel: locally buffered frames here, the router's UART receive buffer
// via a flush frame.
func (b *Bridge) FlushInput() error {
	for {
		select {
		case _, ok := <-b.frames:
			if !ok {
				return &flasher.TransportError{Op: "flush", Err: b.readErr}
			}
		default:
			frame, err := EncodeMessage(MsgFlush, nil)
			if err != nil {
				return fmt.Errorf("slate: %w", err)
			}
			return b.writeControl("flush", frame)
		}
	}
}

// Capabilities reports what the router granted at attach time.
func (b *Bridge) Capabilities() flasher.TransportCaps {
	return b.caps
}

// Name reports the endpoint URL for display.
func (b *Bridge) Name() string {
	return b.url
}

// Close tears the tunnel down. Safe to call more than once.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		b.closeErr = b.conn.Close()
	})
	return b.closeErr
}

func (b *Bridge) writeControl(op string, frame []byte) error {
	if err := b.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return &flasher.TransportError{Op: op, Err: err}
	}
	return nil
}
