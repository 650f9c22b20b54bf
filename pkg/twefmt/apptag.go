// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twefmt

import "fmt"

// AppTag is an App_Tag sensor packet. Sensor specific data is left in
// Payload.
type AppTag struct {
	Common

	RouterAddr uint32
	Seq        uint16
	Sensor     uint8
	Payload    []byte
}

// Kind returns KindAppTag.
func (t *AppTag) Kind() Kind { return KindAppTag }

// DecodeVolt expands the one byte App_Tag supply voltage to mV.
func DecodeVolt(i uint8) uint16 {
	if i <= 170 {
		return 1950 + uint16(i)*5
	}
	return 2800 + uint16(i-170)*10
}

// ParseAppTag decodes an App_Tag packet.
func ParseAppTag(b []byte) (*AppTag, error) {
	if len(b) < tagHeaderLen {
		return nil, fmt.Errorf("%w: App_Tag header needs %d bytes, got %d", ErrTooShort, tagHeaderLen, len(b))
	}

	r := reader{b: b}
	t := &AppTag{}
	t.RouterAddr = r.u32()
	t.LQI = r.u8()
	t.Seq = r.u16()
	t.SrcAddr = r.u32()
	t.SrcLID = r.u8()
	t.Sensor = r.u8()
	if t.Sensor == palMarker {
		return nil, fmt.Errorf("%w: App_Tag sensor byte is the PAL marker", ErrMalformed)
	}
	t.Volt = DecodeVolt(r.u8())
	t.Payload = r.rest()

	t.Tick = now()
	return t, nil
}
