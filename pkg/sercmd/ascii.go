// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sercmd

import (
	"io"

	"github.com/Thermoquad/twestage/pkg/checksum"
)

const hexDigits = "0123456789ABCDEF"

// AsciiParser decodes ":" + hex pairs + LRC + terminator frames.
type AsciiParser struct {
	cfg   config
	timer frameTimer

	state    State
	buf      []byte
	digits   int   // hex digits consumed, including the LRC pair
	sum      uint8 // running additive sum of completed bytes
	expected uint8 // correct LRC, set on StateChecksumError
	received uint8
}

// NewAsciiParser creates an ASCII frame parser.
func NewAsciiParser(opts ...Option) *AsciiParser {
	p := &AsciiParser{cfg: defaultConfig()}
	for _, opt := range opts {
		opt(&p.cfg)
	}
	p.timer.cfg = &p.cfg
	p.buf = make([]byte, 0, 64)
	return p
}

// Format returns FormatASCII.
func (p *AsciiParser) Format() Format { return FormatASCII }

// State returns the current parser state.
func (p *AsciiParser) State() State { return p.state }

// Payload returns the decoded frame without its LRC byte. Frames ended with
// 'X' keep every decoded byte.
func (p *AsciiParser) Payload() []byte { return p.buf }

// Checksum returns the LRC that would have made the last frame valid and
// the one actually received.
func (p *AsciiParser) Checksum() (expected, received uint8) {
	return p.expected, p.received
}

// ExpectedLRC returns the LRC the frame should have carried. Only
// meaningful after StateChecksumError.
func (p *AsciiParser) ExpectedLRC() uint8 { return p.expected }

// Reinit drops any partial frame.
func (p *AsciiParser) Reinit() {
	p.state = StateEmpty
	p.buf = p.buf[:0]
	p.digits = 0
	p.sum = 0
	p.expected = 0
	p.received = 0
}

// Poll resets a stalled frame once its timeout has elapsed.
func (p *AsciiParser) Poll() State {
	if p.state != StateEmpty && p.timer.expired() {
		p.state = StateEmpty
	}
	return p.state
}

// Feed processes one byte of input.
func (p *AsciiParser) Feed(b byte) State {
	p.Poll()

	if p.state.Terminal() {
		p.state = StateEmpty
	}

	switch p.state {
	case StateEmpty:
		if b == ASCIIStart {
			p.Reinit()
			p.state = StateReadPayload
			p.timer.stamp()
		}

	case StateReadPayload:
		switch {
		case isHexDigit(b):
			// the buffer also holds the LRC byte
			if p.digits/2 == p.cfg.maxLength+1 {
				p.state = StateError
				break
			}
			v := hexValue(b)
			if p.digits&1 == 0 {
				p.buf = append(p.buf, v<<4)
			} else {
				last := len(p.buf) - 1
				p.buf[last] |= v
				p.sum += p.buf[last]
			}
			p.digits++

		case b == '\r' || b == '\n':
			if p.digits < 4 || p.digits&1 != 0 {
				p.state = StateError
				break
			}
			lrc := p.buf[len(p.buf)-1]
			p.received = lrc
			if p.sum != 0 {
				p.expected = ^(p.sum - lrc) + 1
				p.state = StateChecksumError
				break
			}
			p.expected = lrc
			p.buf = p.buf[:len(p.buf)-1]
			p.state = StateComplete

		case b == ASCIIUnchecked:
			if p.digits >= 2 && p.digits&1 == 0 {
				// no LRC to strip, so the whole buffer must fit
				if len(p.buf) > p.cfg.maxLength {
					p.state = StateError
					break
				}
				p.state = StateComplete
			}

		default:
			p.state = StateEmpty
		}
	}

	return p.state
}

// Encode renders payload as a complete ASCII frame ending in CRLF.
func (p *AsciiParser) Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > p.cfg.maxLength {
		return nil, ErrPayloadSize
	}
	return EncodeASCII(payload), nil
}

// WriteFrame encodes payload and writes it to w.
func (p *AsciiParser) WriteFrame(w io.Writer, payload []byte) error {
	frame, err := p.Encode(payload)
	if err != nil {
		return err
	}
	return writeAll(w, frame)
}

// EncodeASCII renders payload as ":" + hex + LRC + CRLF without any size
// check.
func EncodeASCII(payload []byte) []byte {
	out := make([]byte, 0, 1+2*len(payload)+4)
	out = append(out, ASCIIStart)
	for _, b := range payload {
		out = append(out, hexDigits[b>>4], hexDigits[b&0x0F])
	}
	lrc := checksum.LRC(payload)
	out = append(out, hexDigits[lrc>>4], hexDigits[lrc&0x0F], '\r', '\n')
	return out
}

// only uppercase digits are part of the wire format
func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'F')
}

func hexValue(b byte) byte {
	if b <= '9' {
		return b - '0'
	}
	return b - 'A' + 10
}
