// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sercmd

import (
	"errors"
	"fmt"
)

// Sentinel errors reported by FrameReader
var (
	ErrChecksum = errors.New("checksum mismatch")
	ErrFraming  = errors.New("framing error")
)

// FrameReader turns the polled parser states into completed payloads and
// errors, one byte at a time.
type FrameReader struct {
	parser Parser
	raw    []byte
}

// NewFrameReader wraps p.
func NewFrameReader(p Parser) *FrameReader {
	return &FrameReader{
		parser: p,
		raw:    make([]byte, 0, 128),
	}
}

// Parser returns the wrapped parser.
func (r *FrameReader) Parser() Parser { return r.parser }

// RawBytes returns the wire bytes of the current (or just finished) frame.
func (r *FrameReader) RawBytes() []byte { return r.raw }

// Reset drops any partial frame.
func (r *FrameReader) Reset() {
	r.parser.Reinit()
	r.raw = r.raw[:0]
}

// DecodeByte feeds one byte. It returns a copy of the payload when a frame
// completes, nil while a frame is incomplete, and an error wrapping
// ErrChecksum or ErrFraming when a frame is rejected.
func (r *FrameReader) DecodeByte(b byte) ([]byte, error) {
	prev := r.parser.State()
	if prev == StateEmpty || prev.Terminal() {
		r.raw = r.raw[:0]
	}

	st := r.parser.Feed(b)
	if st == StateEmpty {
		r.raw = r.raw[:0]
		return nil, nil
	}
	r.raw = append(r.raw, b)

	switch st {
	case StateComplete:
		payload := r.parser.Payload()
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil

	case StateChecksumError:
		expected, received := r.parser.Checksum()
		return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksum, expected, received)

	case StateError:
		return nil, fmt.Errorf("%w: %s frame rejected after %d bytes", ErrFraming, r.parser.Format(), len(r.raw))
	}

	return nil, nil
}
