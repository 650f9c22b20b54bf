// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twefmt

import "fmt"

// AppIO is an App_IO 0x81 report with 12 digital ports.
type AppIO struct {
	Common

	PacketID    uint8
	Version     uint8
	DstLID      uint8
	Timestamp   uint16
	LowLatency  bool
	RepeatCount uint8

	DIMask       uint16
	DIActiveMask uint16
	DIIntMask    uint16
}

// Kind returns KindAppIO.
func (a *AppIO) Kind() Kind { return KindAppIO }

// DI reports the state of port i (0 based).
func (a *AppIO) DI(i int) bool { return a.DIMask&(1<<uint(i)) != 0 }

// ParseAppIO decodes a 20 byte App_IO report.
func ParseAppIO(b []byte) (*AppIO, error) {
	if len(b) != appIOLen {
		return nil, fmt.Errorf("%w: App_IO needs %d bytes, got %d", ErrMalformed, appIOLen, len(b))
	}

	r := reader{b: b}
	a := &AppIO{}
	a.SrcLID = r.u8()
	r.u8() // 0x81
	a.PacketID = r.u8()
	a.Version = r.u8()
	a.LQI = r.u8()
	a.SrcAddr = r.u32()
	a.DstLID = r.u8()

	ts := r.u16()
	a.Timestamp = ts & 0x7FFF
	a.LowLatency = ts&0x8000 != 0

	a.RepeatCount = r.u8()
	a.DIMask = r.u16()
	a.DIActiveMask = r.u16()
	a.DIIntMask = r.u16()

	a.Tick = now()
	return a, nil
}
