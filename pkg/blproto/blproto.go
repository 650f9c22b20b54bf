// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package blproto implements the request/response framing of the TWELITE
// serial bootloader.
//
// A command is [len][id]<args>[xor] where len counts the id and args plus
// the length byte itself. A response is [len][id][status]<data>[xor] and is
// complete once len+1 bytes have arrived.
package blproto

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/twestage/pkg/checksum"
)

// DefaultTimeout is how long Receive waits for a complete response.
const DefaultTimeout = time.Second

// MaxFrameLength is the longest command or response the length byte can
// describe.
const MaxFrameLength = 0xFF

// Errors returned by Request
var (
	ErrArgType = errors.New("unsupported argument type")
	ErrTooLong = errors.New("command too long")
)

// Status is the state of the response in progress.
type Status uint8

const (
	StatusIdle Status = iota
	StatusProcess
	StatusCompleted
	StatusError
	StatusCRCError
	StatusUnexpected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusProcess:
		return "PROCESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusError:
		return "ERROR"
	case StatusCRCError:
		return "CRC_ERROR"
	case StatusUnexpected:
		return "UNEXPECTED"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// Terminal reports whether s ends a response.
func (s Status) Terminal() bool {
	return s >= StatusCompleted
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithTimeout sets the response timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Protocol) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Protocol) {
		if now != nil {
			p.now = now
		}
	}
}

// Protocol sends bootloader commands to w and accumulates responses fed
// through Receive. It is not safe for concurrent use.
type Protocol struct {
	w       io.Writer
	timeout time.Duration
	now     func() time.Time

	cmd      []byte
	resp     []byte
	expected byte
	status   Status
	start    time.Time
	timedOut bool
}

// New creates a Protocol writing to w.
func New(w io.Writer, opts ...Option) *Protocol {
	p := &Protocol{
		w:       w,
		timeout: DefaultTimeout,
		now:     time.Now,
		cmd:     make([]byte, 0, 256),
		resp:    make([]byte, 0, 256),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Timeout returns the configured response timeout.
func (p *Protocol) Timeout() time.Duration { return p.timeout }

// Request builds and writes a command. args may be byte, int (low byte
// used) or []byte. When respID is non zero the protocol starts waiting for
// a response with that id.
func (p *Protocol) Request(cmdID, respID byte, args ...any) error {
	p.cmd = append(p.cmd[:0], 0, cmdID)
	for _, a := range args {
		switch v := a.(type) {
		case byte:
			p.cmd = append(p.cmd, v)
		case int:
			p.cmd = append(p.cmd, byte(v))
		case []byte:
			p.cmd = append(p.cmd, v...)
		default:
			return fmt.Errorf("%w: %T", ErrArgType, a)
		}
	}
	if len(p.cmd) > MaxFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrTooLong, len(p.cmd))
	}

	p.cmd[0] = byte(len(p.cmd))
	p.cmd = append(p.cmd, checksum.XOR(p.cmd))

	if _, err := p.w.Write(p.cmd); err != nil {
		return fmt.Errorf("failed to write command 0x%02X: %w", cmdID, err)
	}
	p.start = p.now()

	if respID != 0 {
		p.expected = respID
		p.resp = p.resp[:0]
		p.status = StatusProcess
		p.timedOut = false
	}
	return nil
}

// Receive feeds one response byte, or -1 when no byte is available so that
// the timeout can be checked. It returns true once the response reached a
// terminal status.
func (p *Protocol) Receive(c int) bool {
	if p.status != StatusProcess {
		return false
	}

	if c < 0 {
		if p.now().Sub(p.start) > p.timeout {
			p.status = StatusError
			p.timedOut = true
			return true
		}
		return false
	}

	b := byte(c)
	if len(p.resp) == 0 && b < 2 {
		p.status = StatusError
		return true
	}

	p.resp = append(p.resp, b)
	if len(p.resp) != int(p.resp[0])+1 {
		return false
	}

	last := len(p.resp) - 1
	switch {
	case checksum.XOR(p.resp[:last]) != p.resp[last]:
		p.status = StatusCRCError
	case p.resp[1] != p.expected:
		p.status = StatusUnexpected
	default:
		p.status = StatusCompleted
	}
	return true
}

// Status returns the state of the current response.
func (p *Protocol) Status() Status { return p.status }

// TimedOut reports whether the last StatusError came from the timeout.
func (p *Protocol) TimedOut() bool { return p.timedOut }

// Expected returns the response id being waited for.
func (p *Protocol) Expected() byte { return p.expected }

// CommandBuf returns the last command as written, including the XOR byte.
func (p *Protocol) CommandBuf() []byte { return p.cmd }

// ResponseBuf returns the response bytes received so far, including the
// XOR byte once complete.
func (p *Protocol) ResponseBuf() []byte { return p.resp }

// Reset forgets any outstanding response.
func (p *Protocol) Reset() {
	p.status = StatusIdle
	p.resp = p.resp[:0]
	p.expected = 0
	p.timedOut = false
}

// Build returns the wire form of a command without sending it.
func Build(cmdID byte, args ...byte) []byte {
	out := make([]byte, 0, len(args)+3)
	out = append(out, byte(len(args)+2), cmdID)
	out = append(out, args...)
	return append(out, checksum.XOR(out))
}
