// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tweprog

import (
	"time"

	"github.com/Thermoquad/twestage/pkg/blproto"
)

const (
	// DefaultBaud is the application baud rate restored after a session.
	DefaultBaud = 115200
	// ConnectBaud is the baud rate the bootloader listens on after reset.
	ConnectBaud = 38400
	// FastBaudBase divided by the baud divisor gives the programming baud.
	FastBaudBase = 1000000
	// DefaultBaudDivisor selects 1 Mbps.
	DefaultBaudDivisor = 1

	baudSettle = 50 * time.Millisecond
)

// EventKind tells whether an Event reports a request or a response.
type EventKind uint8

const (
	EventNewState EventKind = iota
	EventRespond
)

func (k EventKind) String() string {
	if k == EventRespond {
		return "RESPOND"
	}
	return "NEW_STATE"
}

// Event is reported to the callback when a state issues its first request
// and for every response, including every chunk of WRITE and VERIFY.
type Event struct {
	State State
	Kind  EventKind
	OK    bool
	// Progress is 0..1024 for chunked states.
	Progress int
	Status   blproto.Status
	TimedOut bool
	// Frame is a copy of the command or response bytes.
	Frame []byte
}

// Callback receives session events. It runs on the caller's goroutine and
// should return quickly.
type Callback func(Event)

// Logger is an optional logging interface so any logging framework can be
// plugged in.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type config struct {
	callback        Callback
	logger          Logger
	responseTimeout time.Duration
	baudDivisor     int
	now             func() time.Time
	sleep           func(time.Duration)
}

func defaultConfig() config {
	return config{
		logger:          nopLogger{},
		responseTimeout: blproto.DefaultTimeout,
		baudDivisor:     DefaultBaudDivisor,
		now:             time.Now,
		sleep:           time.Sleep,
	}
}

// Option configures a Programmer.
type Option func(*config)

// WithCallback sets the session event callback.
func WithCallback(cb Callback) Option {
	return func(c *config) {
		c.callback = cb
	}
}

// WithLogger sets a logger for protocol tracing.
func WithLogger(l Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithResponseTimeout bounds the wait for each bootloader response.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.responseTimeout = d
		}
	}
}

// WithBaudDivisor selects the programming baud rate 1000000/div.
func WithBaudDivisor(div int) Option {
	return func(c *config) {
		if div >= 1 && div <= 0xFF {
			c.baudDivisor = div
		}
	}
}

// WithClock replaces time.Now for response timeouts.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleep replaces time.Sleep for the baud settle delays.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *config) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}
