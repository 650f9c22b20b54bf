// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sercmd

import "time"

type config struct {
	timeout   time.Duration
	maxLength int
	now       func() time.Time
}

func defaultConfig() config {
	return config{
		maxLength: DefaultMaxLength,
		now:       time.Now,
	}
}

// Option configures a parser.
type Option func(*config)

// WithTimeout discards a partial frame when no terminator arrived within d
// of its start byte. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.timeout = d
		}
	}
}

// WithMaxLength bounds the payload length accepted and emitted.
func WithMaxLength(n int) Option {
	return func(c *config) {
		if n > 0 && n <= MaxBinaryLength {
			c.maxLength = n
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// frameTimer tracks the start of the frame in progress.
type frameTimer struct {
	cfg   *config
	start time.Time
}

func (t *frameTimer) stamp() {
	t.start = t.cfg.now()
}

func (t *frameTimer) expired() bool {
	return t.cfg.timeout > 0 && t.cfg.now().Sub(t.start) > t.cfg.timeout
}
