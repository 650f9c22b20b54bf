// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sercmd

import (
	"errors"
	"io"
)

// ErrPayloadSize is returned by Encode for empty or oversize payloads.
var ErrPayloadSize = errors.New("payload size out of range")

// Parser is the common surface of AsciiParser and BinaryParser.
type Parser interface {
	// Feed advances the state machine by one byte.
	Feed(b byte) State
	// Poll applies the frame timeout without consuming a byte.
	Poll() State
	State() State
	// Payload is valid once State() is StateComplete.
	Payload() []byte
	// Checksum returns the expected and received check bytes of the last
	// frame. Only meaningful after StateChecksumError.
	Checksum() (expected, received uint8)
	Reinit()
	Format() Format
	Encode(payload []byte) ([]byte, error)
	WriteFrame(w io.Writer, payload []byte) error
}

// New creates a parser for the given wire format.
func New(format Format, opts ...Option) (Parser, error) {
	switch format {
	case FormatASCII:
		return NewAsciiParser(opts...), nil
	case FormatBinary:
		return NewBinaryParser(opts...), nil
	}
	return nil, errors.New("unsupported frame format: " + format.String())
}

func writeAll(w io.Writer, frame []byte) error {
	for len(frame) > 0 {
		n, err := w.Write(frame)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		frame = frame[n:]
	}
	return nil
}
