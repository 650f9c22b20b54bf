// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sercmd implements the two serial command framings spoken by
// TWELITE modules: the ASCII form (":" + hex digits + LRC + CRLF) and the
// binary form (0xA5 0x5A + length + payload + XOR + EOT).
//
// Both parsers are fed one byte at a time and report their progress as a
// State; they never return errors from Feed. Callers poll the state after
// every byte, or use a FrameReader to get completed payloads and sentinel
// errors instead.
package sercmd

import "fmt"

// ASCII framing bytes
const (
	ASCIIStart     = ':'
	ASCIIUnchecked = 'X' // terminator that skips the LRC check
)

// Binary framing bytes
const (
	SyncByte1 = 0xA5
	SyncByte2 = 0x5A
	EOTByte   = 0x04

	lengthExtFlag = 0x80
)

// Payload size limits
const (
	MaxBinaryLength  = 0x7FFF
	DefaultMaxLength = MaxBinaryLength
)

// State is the progress of a framing parser. Values at or above
// StateComplete are terminal.
type State uint8

const (
	StateEmpty State = iota
	StateReadSync
	StateReadLen
	StateReadLen2
	StateReadPayload
	StateReadCRC
)

// Terminal states
const (
	StateComplete      State = 0x80
	StateError         State = 0x81
	StateChecksumError State = 0x82
)

// Terminal reports whether the parser finished a frame attempt.
func (s State) Terminal() bool {
	return s >= StateComplete
}

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateReadSync:
		return "READ_SYNC"
	case StateReadLen:
		return "READ_LEN"
	case StateReadLen2:
		return "READ_LEN2"
	case StateReadPayload:
		return "READ_PAYLOAD"
	case StateReadCRC:
		return "READ_CRC"
	case StateComplete:
		return "COMPLETE"
	case StateError:
		return "ERROR"
	case StateChecksumError:
		return "CHECKSUM_ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(s))
	}
}

// Format selects one of the two wire framings.
type Format int

const (
	FormatASCII Format = iota
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatASCII:
		return "ascii"
	case FormatBinary:
		return "binary"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat maps a flag value ("ascii", "binary") to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "ascii", "a", "":
		return FormatASCII, nil
	case "binary", "bin", "b":
		return FormatBinary, nil
	}
	return FormatASCII, fmt.Errorf("unknown frame format %q (use ascii or binary)", s)
}
