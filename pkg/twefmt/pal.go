// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twefmt

import (
	"encoding/binary"
	"fmt"

	"github.com/Thermoquad/twestage/pkg/checksum"
)

// Entry is one sensor TLV record of a PAL packet.
type Entry struct {
	Type    uint8
	Subtype uint8
	Extra   uint8
	Data    []byte
}

// DataInfo describes why a PAL packet was sent.
type DataInfo struct {
	DataType uint8
	HasEvent bool
	Source   uint8
	Cause    uint8
}

// Event is a PAL event report (shake, dice face, magnet...).
type Event struct {
	Source uint8
	ID     uint8
	Param  uint32
}

// PAL is a decoded PAL sensor board packet.
type PAL struct {
	Common

	RouterAddr uint32
	Seq        uint16
	Board      Board
	// Revision is bits 5-6 of the board byte. Bit 7 is the data format.
	Revision   uint8
	DataFormat uint8
	Sensors    uint8

	// ParseError is set when the TLV walk did not match the declared
	// sensor count, the CRC failed, or the data info was inconsistent.
	ParseError bool

	DataInfo    DataInfo
	HasDataInfo bool
	Event       Event
	HasEvent    bool

	tlv []byte
}

// Kind returns KindPAL.
func (p *PAL) Kind() Kind { return KindPAL }

// SensorCount returns the sensor count byte with bit 7 set when the packet
// had a parse error.
func (p *PAL) SensorCount() uint8 {
	if p.ParseError {
		return p.Sensors | 0x80
	}
	return p.Sensors
}

// HasDataInfoFormat reports whether the board byte announced a data info
// block.
func (p *PAL) HasDataInfoFormat() bool {
	return p.DataFormat == DataFormatWithInfo
}

// TLV returns the retained sensor entries in wire form.
func (p *PAL) TLV() []byte { return p.tlv }

// Entries decodes the retained TLV block.
func (p *PAL) Entries() []Entry {
	entries := make([]Entry, 0, p.Sensors)
	p.walk(func(e Entry) {
		entries = append(entries, e)
	})
	return entries
}

func (p *PAL) walk(fn func(Entry)) {
	b := p.tlv
	for i := 0; i < int(p.Sensors) && len(b) >= 4; i++ {
		ln := int(b[3])
		if len(b) < 4+ln {
			return
		}
		fn(Entry{Type: b[0], Subtype: b[1], Extra: b[2], Data: b[4 : 4+ln]})
		b = b[4+ln:]
	}
}

// ParsePAL decodes a PAL packet. Only a truncated header or a missing 0x80
// marker is an error; TLV inconsistencies set ParseError instead so that
// callers can still inspect the partially decoded record.
func ParsePAL(b []byte) (*PAL, error) {
	if len(b) < palHeaderLen {
		return nil, fmt.Errorf("%w: PAL header needs %d bytes, got %d", ErrTooShort, palHeaderLen, len(b))
	}

	r := reader{b: b}
	p := &PAL{}
	p.RouterAddr = r.u32()
	p.LQI = r.u8()
	p.Seq = r.u16()
	p.SrcAddr = r.u32()
	p.SrcLID = r.u8()
	if c := r.u8(); c != palMarker {
		return nil, fmt.Errorf("%w: PAL marker 0x%02X", ErrMalformed, c)
	}

	c := r.u8()
	p.Board = Board(c & 0x1F)
	p.Revision = (c >> 5) & 0x03
	if c&0x80 != 0 {
		p.DataFormat = DataFormatStandard
	} else {
		p.DataFormat = DataFormatWithInfo
	}
	p.Sensors = r.u8()

	start := r.off
	pos := start
	walked := 0
	for i := 0; i < int(p.Sensors); i++ {
		if len(b) < pos+4 {
			break
		}
		ln := int(b[pos+3])
		if len(b) < pos+4+ln {
			break
		}
		pos += 4 + ln
		walked++
	}

	if walked != int(p.Sensors) {
		p.Sensors = uint8(walked)
		p.ParseError = true
	} else if pos >= len(b) || checksum.CRC8(b[:pos]) != b[pos] {
		p.ParseError = true
	}

	p.tlv = make([]byte, pos-start)
	copy(p.tlv, b[start:pos])
	p.Tick = now()

	if !p.ParseError {
		if v, ok := p.queryVolt(); ok {
			p.Volt = v
		}
	}

	if !p.ParseError && p.HasDataInfoFormat() {
		info, ok := p.queryDataInfo()
		if ok {
			p.DataInfo = info
			p.HasDataInfo = true
		} else {
			p.ParseError = true
		}
	}

	if !p.ParseError && (!p.HasDataInfoFormat() || p.DataInfo.HasEvent) {
		ev, ok := p.queryEvent()
		switch {
		case p.HasDataInfoFormat() && p.DataInfo.HasEvent && !ok:
			p.ParseError = true
		case ok:
			p.Event = ev
			p.HasEvent = true
		}
	}

	return p, nil
}

// field describes one value a view wants from the TLV block.
type field struct {
	Subtype uint8
	// Extra matches the entry's extra byte. A non zero high byte is a mask
	// applied to both sides, 0xFFFF matches anything.
	Extra    uint16
	Width    uint8
	MaxCount uint8
}

func (f field) matches(ds, ex uint8) bool {
	if ds != f.Subtype {
		return false
	}
	if f.Extra == 0xFFFF {
		return true
	}
	mask := uint8(0xFF)
	if f.Extra&0xFF00 != 0 {
		mask = uint8(f.Extra >> 8)
	}
	return ex&mask == uint8(f.Extra)&mask
}

// fieldValue is what lookup found for one field.
type fieldValue struct {
	Extra  uint8
	Len    int
	Values []uint32
}

// lookup fills one fieldValue per field. Bit i of the returned mask is
// set when fields[i] was found. The first matching field in table order
// claims an entry; a matching field with the wrong width stops the search
// for that entry.
func (p *PAL) lookup(fields []field) ([]fieldValue, uint32) {
	out := make([]fieldValue, len(fields))
	var mask uint32

	p.walk(func(e Entry) {
		for j, f := range fields {
			if !f.matches(e.Subtype, e.Extra) || e.Type&0x80 != 0 {
				continue
			}

			ty := e.Type & 0x03
			size := 1
			if ty <= 2 {
				size = 1 << ty
				if int(f.Width) != size || int(f.MaxCount)*size < len(e.Data) {
					break
				}
			}

			n := len(e.Data) / size
			values := make([]uint32, n)
			for k := 0; k < n; k++ {
				chunk := e.Data[k*size:]
				switch size {
				case 4:
					values[k] = binary.BigEndian.Uint32(chunk)
				case 2:
					values[k] = uint32(binary.BigEndian.Uint16(chunk))
				default:
					values[k] = uint32(chunk[0])
				}
			}

			out[j] = fieldValue{Extra: e.Extra, Len: len(e.Data), Values: values}
			mask |= 1 << uint(j)
			break
		}
	})

	return out, mask
}

func (p *PAL) queryVolt() (uint16, bool) {
	vals, mask := p.lookup([]field{{Subtype: SensorVolt, Extra: VoltPower, Width: 2, MaxCount: 1}})
	if mask == 0 || len(vals[0].Values) == 0 {
		return 0, mask != 0
	}
	return uint16(vals[0].Values[0]), true
}

func (p *PAL) queryDataInfo() (DataInfo, bool) {
	vals, mask := p.lookup([]field{{Subtype: SensorInfo, Extra: 0x00, Width: 1, MaxCount: 8}})
	var info DataInfo
	if mask == 0 {
		return info, false
	}
	if v := vals[0].Values; vals[0].Len == 3 {
		info.DataType = uint8(v[0]) & 0x7F
		info.HasEvent = v[0]&0x80 != 0
		info.Source = uint8(v[1])
		info.Cause = uint8(v[2])
	}
	return info, true
}

func (p *PAL) queryEvent() (Event, bool) {
	vals, mask := p.lookup([]field{{Subtype: SensorEvent, Extra: 0xFFFF, Width: 4, MaxCount: 1}})
	var ev Event
	if mask == 0 {
		return ev, false
	}
	if len(vals[0].Values) > 0 {
		v := vals[0].Values[0]
		ev.ID = uint8(v >> 24)
		ev.Param = v & 0x00FFFFFF
	}
	ev.Source = vals[0].Extra
	return ev, true
}
