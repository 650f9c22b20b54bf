// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sercmd

import "io"

// BinaryParser decodes 0xA5 0x5A [len] payload [xor] frames. The EOT byte
// that trails a frame is swallowed by the next reset to StateEmpty.
type BinaryParser struct {
	cfg   config
	timer frameTimer

	state    State
	buf      []byte
	length   int
	xor      uint8
	received uint8
}

// NewBinaryParser creates a binary frame parser.
func NewBinaryParser(opts ...Option) *BinaryParser {
	p := &BinaryParser{cfg: defaultConfig()}
	for _, opt := range opts {
		opt(&p.cfg)
	}
	p.timer.cfg = &p.cfg
	p.buf = make([]byte, 0, 128)
	return p
}

// Format returns FormatBinary.
func (p *BinaryParser) Format() Format { return FormatBinary }

// State returns the current parser state.
func (p *BinaryParser) State() State { return p.state }

// Payload returns the decoded frame body.
func (p *BinaryParser) Payload() []byte { return p.buf }

// Checksum returns the computed and received XOR bytes of the last frame.
func (p *BinaryParser) Checksum() (expected, received uint8) {
	return p.xor, p.received
}

// Length returns the declared payload length of the frame in progress.
func (p *BinaryParser) Length() int { return p.length }

// Reinit drops any partial frame.
func (p *BinaryParser) Reinit() {
	p.state = StateEmpty
	p.buf = p.buf[:0]
	p.length = 0
	p.xor = 0
	p.received = 0
}

// Poll resets a stalled frame once its timeout has elapsed.
func (p *BinaryParser) Poll() State {
	if p.state != StateEmpty && p.timer.expired() {
		p.state = StateEmpty
	}
	return p.state
}

// Feed processes one byte of input.
func (p *BinaryParser) Feed(b byte) State {
	p.Poll()

	if p.state.Terminal() {
		p.state = StateEmpty
	}

	switch p.state {
	case StateEmpty:
		if b == SyncByte1 {
			p.Reinit()
			p.state = StateReadSync
			p.timer.stamp()
		}

	case StateReadSync:
		if b == SyncByte2 {
			p.state = StateReadLen
		} else {
			p.state = StateError
		}

	case StateReadLen:
		if b&lengthExtFlag != 0 {
			p.length = int(b &^ lengthExtFlag)
			if p.length<<8 > p.cfg.maxLength {
				p.state = StateError
			} else {
				p.state = StateReadLen2
			}
		} else {
			p.length = int(b)
			p.beginPayload()
		}

	case StateReadLen2:
		p.length = p.length<<8 | int(b)
		p.beginPayload()

	case StateReadPayload:
		p.buf = append(p.buf, b)
		p.xor ^= b
		if len(p.buf) == p.length {
			p.state = StateReadCRC
		}

	case StateReadCRC:
		p.received = b
		if b == p.xor {
			p.state = StateComplete
		} else {
			p.state = StateChecksumError
		}
	}

	return p.state
}

func (p *BinaryParser) beginPayload() {
	if p.length == 0 || p.length > p.cfg.maxLength {
		p.state = StateError
		return
	}
	p.buf = p.buf[:0]
	p.xor = 0
	p.state = StateReadPayload
}

// Encode renders payload as a binary frame, always using the two byte
// length form and ending with EOT.
func (p *BinaryParser) Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > p.cfg.maxLength {
		return nil, ErrPayloadSize
	}
	return EncodeBinary(payload)
}

// WriteFrame encodes payload and writes it to w.
func (p *BinaryParser) WriteFrame(w io.Writer, payload []byte) error {
	frame, err := p.Encode(payload)
	if err != nil {
		return err
	}
	return writeAll(w, frame)
}

// EncodeBinary renders payload as a binary frame.
func EncodeBinary(payload []byte) ([]byte, error) {
	n := len(payload)
	if n == 0 || n > MaxBinaryLength {
		return nil, ErrPayloadSize
	}

	out := make([]byte, 0, n+6)
	out = append(out, SyncByte1, SyncByte2, lengthExtFlag|byte(n>>8), byte(n))

	var xor uint8
	for _, b := range payload {
		out = append(out, b)
		xor ^= b
	}
	out = append(out, xor, EOTByte)
	return out, nil
}
