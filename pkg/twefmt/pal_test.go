// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twefmt

import (
	"errors"
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

func mustParsePAL(t *testing.T, b []byte) *PAL {
	t.Helper()
	p, err := ParsePAL(b)
	if err != nil {
		t.Fatalf("ParsePAL failed: %v", err)
	}
	return p
}

func accelEntry(idx, rate uint8, x, y, z int16) Entry {
	return Entry{
		Type:    0x05,
		Subtype: SensorAccel,
		Extra:   rate<<4 | idx,
		Data:    []byte{byte(uint16(x) >> 8), byte(x), byte(uint16(y) >> 8), byte(y), byte(uint16(z) >> 8), byte(z)},
	}
}

// ============================================================
// Header Tests
// ============================================================

func TestParsePAL_Header(t *testing.T) {
	p := mustParsePAL(t, buildPAL(0x82, voltEntry))

	if p.RouterAddr != 0x80000000 || p.LQI != 0xA8 || p.Seq != 0x2A {
		t.Errorf("unexpected header: rpt=%08X lqi=%02X seq=%d", p.RouterAddr, p.LQI, p.Seq)
	}
	if p.SrcAddr != 0x81020304 || p.SrcLID != 0x01 {
		t.Errorf("unexpected source %08X/%02X", p.SrcAddr, p.SrcLID)
	}
	if p.Board != BoardAmb {
		t.Errorf("expected AMB, got %s", p.Board)
	}
	// bit 7 is the data format, not part of the revision
	if p.Revision != 0 {
		t.Errorf("expected revision 0, got %d", p.Revision)
	}
	if p.DataFormat != DataFormatStandard {
		t.Errorf("expected standard data format, got %d", p.DataFormat)
	}
	if p.ParseError {
		t.Error("unexpected parse error")
	}
	if p.Volt != 3300 {
		t.Errorf("expected 3300 mV, got %d", p.Volt)
	}
	if p.SensorCount() != 1 {
		t.Errorf("expected sensor count 1, got 0x%02X", p.SensorCount())
	}
}

func TestParsePAL_Errors(t *testing.T) {
	if _, err := ParsePAL(palHeader(0x82, 0)[:14]); !errors.Is(err, ErrTooShort) {
		t.Errorf("expected ErrTooShort, got %v", err)
	}

	b := buildPAL(0x82)
	b[12] = 0x00
	if _, err := ParsePAL(b); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestParsePAL_CountMismatch(t *testing.T) {
	b := buildPAL(0x82, voltEntry)
	b[14] = 3

	p := mustParsePAL(t, b)
	if !p.ParseError {
		t.Error("expected parse error flag")
	}
	if p.Sensors != 1 {
		t.Errorf("expected sensors reduced to 1, got %d", p.Sensors)
	}
	if p.SensorCount() != 0x81 {
		t.Errorf("expected count byte 0x81, got 0x%02X", p.SensorCount())
	}
	if len(p.TLV()) != 6 {
		t.Errorf("expected 6 retained bytes, got %d", len(p.TLV()))
	}
	// volt is not queried from a broken packet
	if p.Volt != 0 {
		t.Errorf("expected volt 0, got %d", p.Volt)
	}
}

func TestParsePAL_CRCMismatch(t *testing.T) {
	b := buildPAL(0x82, voltEntry)
	b[len(b)-1] ^= 0x01

	p := mustParsePAL(t, b)
	if !p.ParseError {
		t.Error("expected parse error flag")
	}
	if p.Sensors != 1 {
		t.Errorf("expected 1 sensor, got %d", p.Sensors)
	}
}

func TestParsePAL_Entries(t *testing.T) {
	hum := Entry{Type: 0x01, Subtype: SensorHumidity, Extra: 0x00, Data: []byte{0x13, 0x88}}
	p := mustParsePAL(t, buildPAL(0x82, voltEntry, hum))

	entries := p.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Subtype != SensorHumidity || len(entries[1].Data) != 2 {
		t.Errorf("unexpected entry %+v", entries[1])
	}
}

func TestParsePAL_Revision(t *testing.T) {
	tests := []struct {
		name     string
		c        byte
		board    Board
		revision uint8
		format   uint8
	}{
		{"standard rev 0", 0x82, BoardAmb, 0, DataFormatStandard},
		{"standard rev 1", 0xA2, BoardAmb, 1, DataFormatStandard},
		{"standard rev 2", 0xC1, BoardMag, 2, DataFormatStandard},
		{"with info rev 3", 0x65, BoardCue, 3, DataFormatWithInfo},
		{"with info rev 0", 0x05, BoardCue, 0, DataFormatWithInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustParsePAL(t, buildPAL(tt.c, voltEntry))
			if p.Board != tt.board {
				t.Errorf("expected board %s, got %s", tt.board, p.Board)
			}
			if p.Revision != tt.revision {
				t.Errorf("expected revision %d, got %d", tt.revision, p.Revision)
			}
			if p.DataFormat != tt.format {
				t.Errorf("expected data format %d, got %d", tt.format, p.DataFormat)
			}
		})
	}
}

// ============================================================
// Data Info and Events
// ============================================================

func TestParsePAL_DataInfoRequired(t *testing.T) {
	// bit 7 clear: data info block expected
	p := mustParsePAL(t, buildPAL(0x02, voltEntry))
	if !p.ParseError {
		t.Error("expected parse error without data info")
	}
}

func TestParsePAL_DataInfoWithEvent(t *testing.T) {
	info := Entry{Type: 0x00, Subtype: SensorInfo, Extra: 0x00, Data: []byte{0x82, 0x04, 0x01}}
	event := Entry{Type: 0x02, Subtype: SensorEvent, Extra: 0x04, Data: []byte{0x01, 0x00, 0x00, 0x08}}

	p := mustParsePAL(t, buildPAL(0x05, voltEntry, info, event))
	if p.ParseError {
		t.Fatal("unexpected parse error")
	}
	if !p.HasDataInfo || p.DataInfo.DataType != 2 || !p.DataInfo.HasEvent {
		t.Errorf("unexpected data info %+v", p.DataInfo)
	}
	if p.DataInfo.Source != 0x04 || p.DataInfo.Cause != 0x01 {
		t.Errorf("unexpected source/cause %02X/%02X", p.DataInfo.Source, p.DataInfo.Cause)
	}
	if !p.HasEvent {
		t.Fatal("expected event")
	}
	if p.Event.ID != 1 || p.Event.Param != 8 || p.Event.Source != 0x04 {
		t.Errorf("unexpected event %+v", p.Event)
	}
}

func TestParsePAL_EventFlagWithoutEvent(t *testing.T) {
	info := Entry{Type: 0x00, Subtype: SensorInfo, Extra: 0x00, Data: []byte{0x82, 0x04, 0x01}}

	p := mustParsePAL(t, buildPAL(0x05, voltEntry, info))
	if !p.ParseError {
		t.Error("expected parse error when the event is missing")
	}
}

func TestParsePAL_StandardFormatEvent(t *testing.T) {
	event := Entry{Type: 0x02, Subtype: SensorEvent, Extra: 0x04, Data: []byte{0x02, 0x00, 0x01, 0x00}}

	p := mustParsePAL(t, buildPAL(0x83, voltEntry, event))
	if p.ParseError || !p.HasEvent {
		t.Fatalf("expected event without error, got error=%t event=%t", p.ParseError, p.HasEvent)
	}
	if p.Event.ID != 2 || p.Event.Param != 0x100 {
		t.Errorf("unexpected event %+v", p.Event)
	}
}

// ============================================================
// View Tests
// ============================================================

func TestPAL_Mag(t *testing.T) {
	mag := Entry{Type: 0x00, Subtype: SensorHall, Extra: 0x00, Data: []byte{0x81}}
	p := mustParsePAL(t, buildPAL(0x81, voltEntry, mag))

	m, ok := p.Mag()
	if !ok {
		t.Fatal("expected MAG view")
	}
	if m.Volt != 3300 || m.MagState != 1 || !m.Regular {
		t.Errorf("unexpected view %+v", m)
	}
	if m.Stored != 0x03 {
		t.Errorf("expected stored mask 0x03, got 0x%X", m.Stored)
	}

	if _, ok := p.Amb(); ok {
		t.Error("AMB view on a MAG board")
	}
}

func TestPAL_MagDefaults(t *testing.T) {
	p := mustParsePAL(t, buildPAL(0x81))
	m, ok := p.Mag()
	if !ok {
		t.Fatal("expected MAG view")
	}
	if m.Volt != 0 || m.MagState != 0x7F || !m.Regular || m.Stored != 0 {
		t.Errorf("unexpected defaults %+v", m)
	}
}

func TestPAL_Amb(t *testing.T) {
	temp := Entry{Type: 0x05, Subtype: SensorTemp, Extra: 0x00, Data: []byte{0xFF, 0x38}} // -2.00
	hum := Entry{Type: 0x01, Subtype: SensorHumidity, Extra: 0x00, Data: []byte{0x13, 0x88}}
	lux := Entry{Type: 0x02, Subtype: SensorLux, Extra: 0x00, Data: []byte{0x00, 0x00, 0x04, 0xD2}}

	p := mustParsePAL(t, buildPAL(0x82, voltEntry, temp, hum, lux))
	a, ok := p.Amb()
	if !ok {
		t.Fatal("expected AMB view")
	}
	if a.Volt != 3300 || a.Temp != -200 || a.Humidity != 5000 || a.Lux != 1234 {
		t.Errorf("unexpected view %+v", a)
	}
	if a.TempC() != -2.0 || a.HumidityPct() != 50.0 {
		t.Errorf("unexpected conversions %.2f %.2f", a.TempC(), a.HumidityPct())
	}
}

func TestPAL_AmbDefaults(t *testing.T) {
	p := mustParsePAL(t, buildPAL(0x82))
	a, _ := p.Amb()
	if a.Volt != NoVolt || a.Temp != NoTemp || a.Humidity != NoHumidity || a.Lux != NoLux {
		t.Errorf("unexpected defaults %+v", a)
	}
}

func TestPAL_AmbWidthMismatch(t *testing.T) {
	// temperature sent as a 4 byte value does not fit the 2 byte field
	temp := Entry{Type: 0x02, Subtype: SensorTemp, Extra: 0x00, Data: []byte{0x00, 0x00, 0x09, 0xC4}}
	p := mustParsePAL(t, buildPAL(0x82, temp))

	a, _ := p.Amb()
	if a.Temp != NoTemp {
		t.Errorf("expected temp sentinel, got %d", a.Temp)
	}
	if a.Stored&0x02 != 0 {
		t.Error("temperature should not be marked stored")
	}
}

func TestPAL_SkipsFlaggedEntries(t *testing.T) {
	hum := Entry{Type: 0x81, Subtype: SensorHumidity, Extra: 0x00, Data: []byte{0x13, 0x88}}
	p := mustParsePAL(t, buildPAL(0x82, hum))

	a, _ := p.Amb()
	if a.Humidity != NoHumidity {
		t.Errorf("entry with type bit 7 should be skipped, got %d", a.Humidity)
	}
}

func TestPAL_Mot(t *testing.T) {
	entries := []Entry{voltEntry}
	for i := uint8(0); i < 3; i++ {
		entries = append(entries, accelEntry(i, 4, int16(i)*10, -int16(i)*10, 1000))
	}
	p := mustParsePAL(t, buildPAL(0x83, entries...))

	m, ok := p.Mot()
	if !ok {
		t.Fatal("expected MOT view")
	}
	if m.Samples != 3 || m.SampleRate != 4 {
		t.Errorf("expected 3 samples at rate 4, got %d at %d", m.Samples, m.SampleRate)
	}
	if m.X[2] != 20 || m.Y[2] != -20 || m.Z[2] != 1000 {
		t.Errorf("unexpected sample 2: %d %d %d", m.X[2], m.Y[2], m.Z[2])
	}
}

func TestPAL_MotGapEndsRun(t *testing.T) {
	p := mustParsePAL(t, buildPAL(0x83, accelEntry(0, 4, 1, 2, 3), accelEntry(2, 4, 4, 5, 6)))
	m, _ := p.Mot()
	if m.Samples != 1 {
		t.Errorf("expected 1 sample before the gap, got %d", m.Samples)
	}
	if m.Volt != NoVolt {
		t.Errorf("expected volt sentinel, got %d", m.Volt)
	}
}

func TestPAL_Cue(t *testing.T) {
	adc := Entry{Type: 0x01, Subtype: SensorVolt, Extra: VoltADC1, Data: []byte{0x03, 0xE8}}
	mag := Entry{Type: 0x00, Subtype: SensorHall, Extra: 0x00, Data: []byte{0x02}}
	info := Entry{Type: 0x00, Subtype: SensorInfo, Extra: 0x00, Data: []byte{0x05, 0x00, 0x00}}

	p := mustParsePAL(t, buildPAL(0x05, voltEntry, adc, mag, info, accelEntry(0, 4, 0, 0, 1000)))
	if p.ParseError {
		t.Fatal("unexpected parse error")
	}

	c, ok := p.Cue()
	if !ok {
		t.Fatal("expected CUE view")
	}
	if c.Volt != 3300 || c.ADC1 != 1000 || c.MagState != 2 || c.MagRegular {
		t.Errorf("unexpected view %+v", c)
	}
	if c.Samples != 1 || c.Z[0] != 1000 {
		t.Errorf("unexpected samples %d z=%d", c.Samples, c.Z[0])
	}
}

func TestPAL_Aria(t *testing.T) {
	adc := Entry{Type: 0x01, Subtype: SensorVolt, Extra: VoltADC1, Data: []byte{0x03, 0xE8}}
	mag := Entry{Type: 0x00, Subtype: SensorHall, Extra: 0x00, Data: []byte{0x81}}
	temp := Entry{Type: 0x05, Subtype: SensorTemp, Extra: 0x00, Data: []byte{0x09, 0xC4}}
	hum := Entry{Type: 0x01, Subtype: SensorHumidity, Extra: 0x00, Data: []byte{0x13, 0x88}}

	p := mustParsePAL(t, buildPAL(0x86, voltEntry, adc, mag, temp, hum))
	if p.Board != BoardAria {
		t.Fatalf("expected ARIA, got %s", p.Board)
	}

	a, ok := p.Aria()
	if !ok {
		t.Fatal("expected ARIA view")
	}
	if a.Volt != 3300 || a.ADC1 != 1000 {
		t.Errorf("unexpected volt/adc1 %d/%d", a.Volt, a.ADC1)
	}
	if a.MagState != 1 || !a.MagRegular {
		t.Errorf("unexpected magnet %d regular=%t", a.MagState, a.MagRegular)
	}
	if a.Temp != 2500 || a.Humidity != 5000 {
		t.Errorf("unexpected temp/humidity %d/%d", a.Temp, a.Humidity)
	}
	if a.Stored != 0x1F {
		t.Errorf("expected stored mask 0x1F, got 0x%X", a.Stored)
	}

	if _, ok := p.Amb(); ok {
		t.Error("AMB view on an ARIA board")
	}
	if _, ok := p.Cue(); ok {
		t.Error("CUE view on an ARIA board")
	}
}

func TestPAL_AriaDefaults(t *testing.T) {
	p := mustParsePAL(t, buildPAL(0x86))
	a, ok := p.Aria()
	if !ok {
		t.Fatal("expected ARIA view")
	}
	if a.Volt != NoVolt || a.ADC1 != NoADC || a.Temp != NoTemp || a.Humidity != NoHumidity {
		t.Errorf("unexpected defaults %+v", a)
	}
	if a.MagState != 0x7F || !a.MagRegular || a.Stored != 0 {
		t.Errorf("unexpected magnet defaults %+v", a)
	}
}

func TestPAL_AriaOnOtherBoards(t *testing.T) {
	for _, c := range []byte{0x81, 0x82, 0x83, 0x85} {
		p := mustParsePAL(t, buildPAL(c, voltEntry))
		if _, ok := p.Aria(); ok {
			t.Errorf("ARIA view on board %s", p.Board)
		}
	}
}

func TestField_Matches(t *testing.T) {
	tests := []struct {
		name     string
		f        field
		ds, ex   uint8
		expected bool
	}{
		{"exact", field{Subtype: 0x30, Extra: 0x08}, 0x30, 0x08, true},
		{"exact miss", field{Subtype: 0x30, Extra: 0x08}, 0x30, 0x01, false},
		{"subtype miss", field{Subtype: 0x30, Extra: 0x08}, 0x31, 0x08, false},
		{"any", field{Subtype: 0x05, Extra: 0xFFFF}, 0x05, 0x42, true},
		{"mask hit", field{Subtype: 0x04, Extra: 0x0F03}, 0x04, 0x43, true},
		{"mask miss", field{Subtype: 0x04, Extra: 0x0F03}, 0x04, 0x44, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.matches(tt.ds, tt.ex); got != tt.expected {
				t.Errorf("expected %t, got %t", tt.expected, got)
			}
		})
	}
}

func TestBoard_String(t *testing.T) {
	tests := map[Board]string{
		BoardMag:  "MAG",
		BoardCue:  "CUE",
		BoardAria: "ARIA",
		Board(7):  "PCB(0x07)",
	}
	for b, want := range tests {
		if got := b.String(); got != want {
			t.Errorf("Board(0x%02X).String() = %q, want %q", uint8(b), got, want)
		}
	}
}
