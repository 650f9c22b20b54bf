// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twefmt

import (
	"encoding/binary"
	"time"
)

// Common holds the attributes every packet variant reports.
type Common struct {
	Tick    time.Time
	SrcAddr uint32
	SrcLID  uint8
	LQI     uint8
	Volt    uint16
}

// Info returns the common attributes.
func (c Common) Info() Common { return c }

// Packet is a decoded application payload. Variants are *PAL, *Twelite,
// *AppIO, *AppUART and *AppTag.
type Packet interface {
	Kind() Kind
	Info() Common
}

// reader walks a payload big-endian. Reads past the end return zero and
// set short.
type reader struct {
	b     []byte
	off   int
	short bool
}

func (r *reader) u8() uint8 {
	if r.off+1 > len(r.b) {
		r.short = true
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if r.off+2 > len(r.b) {
		r.short = true
		return 0
	}
	v := binary.BigEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if r.off+4 > len(r.b) {
		r.short = true
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) rest() []byte {
	if r.off >= len(r.b) {
		return nil
	}
	out := make([]byte, len(r.b)-r.off)
	copy(out, r.b[r.off:])
	r.off = len(r.b)
	return out
}

var now = time.Now
