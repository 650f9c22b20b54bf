// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twefmt

import "fmt"

// Twelite is an App_Twelite 0x81 status report.
type Twelite struct {
	Common

	PacketID    uint8
	Version     uint8
	DstLID      uint8
	Timestamp   uint16
	LowLatency  bool
	RepeatCount uint8

	DIMask       uint8
	DIActiveMask uint8
	DI           [4]bool
	DIActive     [4]bool

	// ADC in mV, NoADC when the input is unused
	ADC           [4]uint16
	ADCActiveMask uint8
}

// Kind returns KindTwelite.
func (t *Twelite) Kind() Kind { return KindTwelite }

// ParseTwelite decodes a 23 byte App_Twelite report.
func ParseTwelite(b []byte) (*Twelite, error) {
	if len(b) != tweliteLen {
		return nil, fmt.Errorf("%w: App_Twelite needs %d bytes, got %d", ErrMalformed, tweliteLen, len(b))
	}

	r := reader{b: b}
	t := &Twelite{}
	t.SrcLID = r.u8()
	r.u8() // 0x81
	t.PacketID = r.u8()
	t.Version = r.u8()
	t.LQI = r.u8()
	t.SrcAddr = r.u32()
	t.DstLID = r.u8()

	ts := r.u16()
	t.Timestamp = ts & 0x7FFF
	t.LowLatency = ts&0x8000 != 0

	t.RepeatCount = r.u8()
	t.Volt = r.u16()
	r.u8() // unused

	t.DIMask = r.u8()
	t.DIActiveMask = r.u8()
	for i := 0; i < 4; i++ {
		t.DI[i] = t.DIMask&(1<<uint(i)) != 0
		t.DIActive[i] = t.DIActiveMask&(1<<uint(i)) != 0
	}

	for i := 0; i < 4; i++ {
		coarse := r.u8()
		if coarse == 0xFF {
			t.ADC[i] = NoADC
			continue
		}
		t.ADC[i] = uint16(coarse)
		t.ADCActiveMask |= 1 << uint(i)
	}

	// two extra bits per channel
	fine := r.u8()
	for i := 0; i < 4; i++ {
		if t.ADC[i] != NoADC {
			t.ADC[i] = (t.ADC[i]*4 + uint16(fine>>(2*uint(i)))&0x3) * 4
		}
	}

	t.Tick = now()
	return t, nil
}
