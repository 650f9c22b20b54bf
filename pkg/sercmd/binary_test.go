// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sercmd

import (
	"bytes"
	"testing"
	"time"
)

// ============================================================
// Encoder Tests
// ============================================================

func TestEncodeBinary_KnownFrame(t *testing.T) {
	got, err := EncodeBinary([]byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("EncodeBinary failed: %v", err)
	}
	want := []byte{0xA5, 0x5A, 0x80, 0x03, 0x01, 0x02, 0x03, 0x00, 0x04}
	if !bytes.Equal(got, want) {
		t.Errorf("expected % X, got % X", want, got)
	}
}

func TestEncodeBinary_LongPayload(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	got, err := EncodeBinary(payload)
	if err != nil {
		t.Fatalf("EncodeBinary failed: %v", err)
	}
	if got[2] != 0x81 || got[3] != 0x2C {
		t.Errorf("expected length bytes 81 2C, got %02X %02X", got[2], got[3])
	}
	if len(got) != 300+6 {
		t.Errorf("expected %d bytes, got %d", 306, len(got))
	}
	if got[len(got)-1] != EOTByte {
		t.Errorf("expected trailing EOT, got 0x%02X", got[len(got)-1])
	}
}

func TestEncodeBinary_RejectsSize(t *testing.T) {
	if _, err := EncodeBinary(nil); err != ErrPayloadSize {
		t.Errorf("empty payload: expected ErrPayloadSize, got %v", err)
	}
	if _, err := EncodeBinary(make([]byte, MaxBinaryLength+1)); err != ErrPayloadSize {
		t.Errorf("oversize payload: expected ErrPayloadSize, got %v", err)
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestBinaryParser_RoundTrip(t *testing.T) {
	p := NewBinaryParser()
	frame, err := p.Encode(appTweliteFrame)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Complete arrives on the XOR byte, before EOT
	st := feedAll(p, frame[:len(frame)-1])
	if st != StateComplete {
		t.Fatalf("expected Complete, got %s", st)
	}
	if !bytes.Equal(p.Payload(), appTweliteFrame) {
		t.Errorf("payload mismatch: % X", p.Payload())
	}

	// EOT is absorbed by the reset
	if st := p.Feed(EOTByte); st != StateEmpty {
		t.Errorf("expected Empty after EOT, got %s", st)
	}
}

func TestBinaryParser_ShortLengthForm(t *testing.T) {
	p := NewBinaryParser()
	st := feedAll(p, []byte{0xA5, 0x5A, 0x02, 0x10, 0x20, 0x30})
	if st != StateComplete {
		t.Fatalf("expected Complete, got %s", st)
	}
	if !bytes.Equal(p.Payload(), []byte{0x10, 0x20}) {
		t.Errorf("payload mismatch: % X", p.Payload())
	}
}

func TestBinaryParser_BadSecondSync(t *testing.T) {
	p := NewBinaryParser()
	if st := feedAll(p, []byte{0xA5, 0x00}); st != StateError {
		t.Errorf("expected Error, got %s", st)
	}
}

func TestBinaryParser_ZeroLength(t *testing.T) {
	p := NewBinaryParser()
	if st := feedAll(p, []byte{0xA5, 0x5A, 0x80, 0x00}); st != StateError {
		t.Errorf("expected Error for zero length, got %s", st)
	}

	p.Reinit()
	if st := feedAll(p, []byte{0xA5, 0x5A, 0x00}); st != StateError {
		t.Errorf("expected Error for zero short length, got %s", st)
	}
}

func TestBinaryParser_LengthOverMax(t *testing.T) {
	p := NewBinaryParser(WithMaxLength(16))
	if st := feedAll(p, []byte{0xA5, 0x5A, 0x80, 0x11}); st != StateError {
		t.Errorf("expected Error for length 17, got %s", st)
	}

	p.Reinit()
	if st := feedAll(p, []byte{0xA5, 0x5A, 0x80, 0x10}); st != StateReadPayload {
		t.Errorf("expected ReadPayload for length 16, got %s", st)
	}
}

func TestBinaryParser_ChecksumError(t *testing.T) {
	p := NewBinaryParser()
	st := feedAll(p, []byte{0xA5, 0x5A, 0x80, 0x02, 0x0F, 0xF0, 0x00})
	if st != StateChecksumError {
		t.Fatalf("expected ChecksumError, got %s", st)
	}
	expected, received := p.Checksum()
	if expected != 0xFF || received != 0x00 {
		t.Errorf("expected 0xFF/0x00, got 0x%02X/0x%02X", expected, received)
	}
}

func TestBinaryParser_BitFlip(t *testing.T) {
	payload := []byte{0x81, 0x15, 0x01, 0x75, 0x42}
	frame, _ := EncodeBinary(payload)

	// flips inside the payload are always caught by the XOR byte
	for i := 4; i < 4+len(payload); i++ {
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), frame...)
			corrupt[i] ^= 1 << bit

			p := NewBinaryParser()
			st := feedAll(p, corrupt[:len(corrupt)-1])
			if st != StateChecksumError {
				t.Errorf("byte %d bit %d: expected ChecksumError, got %s", i, bit, st)
			}
		}
	}
}

func TestBinaryParser_Timeout(t *testing.T) {
	clock := newFakeClock()
	p := NewBinaryParser(WithTimeout(100*time.Millisecond), WithClock(clock.Now))

	feedAll(p, []byte{0xA5, 0x5A, 0x80, 0x04, 0x01})
	clock.Advance(150 * time.Millisecond)

	if st := p.Poll(); st != StateEmpty {
		t.Fatalf("expected Empty after timeout, got %s", st)
	}

	frame, _ := EncodeBinary([]byte{0x01})
	if st := feedAll(p, frame[:len(frame)-1]); st != StateComplete {
		t.Errorf("expected Complete after recovery, got %s", st)
	}
}

func TestBinaryParser_Reinit(t *testing.T) {
	p := NewBinaryParser()
	feedAll(p, []byte{0xA5, 0x5A, 0x80, 0x04, 0x01})
	p.Reinit()

	if p.State() != StateEmpty {
		t.Errorf("expected Empty, got %s", p.State())
	}
	if p.Length() != 0 || len(p.Payload()) != 0 {
		t.Errorf("expected cleared frame, got length %d payload % X", p.Length(), p.Payload())
	}
}

// ============================================================
// Factory Tests
// ============================================================

func TestNew(t *testing.T) {
	for _, f := range []Format{FormatASCII, FormatBinary} {
		p, err := New(f)
		if err != nil {
			t.Fatalf("New(%s) failed: %v", f, err)
		}
		if p.Format() != f {
			t.Errorf("expected format %s, got %s", f, p.Format())
		}
	}

	if _, err := New(Format(99)); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected Format
		wantErr  bool
	}{
		{"ascii", FormatASCII, false},
		{"", FormatASCII, false},
		{"binary", FormatBinary, false},
		{"bin", FormatBinary, false},
		{"hex", FormatASCII, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if !tt.wantErr && got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}
