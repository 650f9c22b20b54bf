// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package twefmt decodes the application payloads carried inside TWELITE
// serial frames.
//
// Supported shapes are PAL sensor boards (MAG, AMB, MOT, NOTICE, CUE),
// App_Twelite 0x81 reports, App_IO, App_UART, Act standard and App_Tag.
// PAL sensor data is retained as raw TLV entries and decoded lazily by the
// board specific views (Mag, Amb, Mot, Cue).
package twefmt

import (
	"errors"
	"fmt"
)

// Errors returned by the parsers
var (
	ErrUnknownPacket = errors.New("unknown packet")
	ErrTooShort      = errors.New("packet too short")
	ErrMalformed     = errors.New("malformed packet")
)

// Kind identifies the application format of a payload.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPAL
	KindTwelite
	KindAppIO
	KindAppUART
	KindActStd
	KindAppTag
)

func (k Kind) String() string {
	switch k {
	case KindPAL:
		return "PAL"
	case KindTwelite:
		return "App_Twelite"
	case KindAppIO:
		return "App_IO"
	case KindAppUART:
		return "App_UART"
	case KindActStd:
		return "ActStd"
	case KindAppTag:
		return "App_Tag"
	default:
		return "UNKNOWN"
	}
}

// Board is the PAL carrier board reported in the packet header.
type Board uint8

const (
	BoardNone   Board = 0x00
	BoardMag    Board = 0x01
	BoardAmb    Board = 0x02
	BoardMot    Board = 0x03
	BoardNotice Board = 0x04
	BoardCue    Board = 0x05
	BoardAria   Board = 0x06
)

func (b Board) String() string {
	switch b {
	case BoardNone:
		return "NOPCB"
	case BoardMag:
		return "MAG"
	case BoardAmb:
		return "AMB"
	case BoardMot:
		return "MOT"
	case BoardNotice:
		return "NOTICE"
	case BoardCue:
		return "CUE"
	case BoardAria:
		return "ARIA"
	default:
		return fmt.Sprintf("PCB(0x%02X)", uint8(b))
	}
}

// PAL sensor data subtypes (second byte of a TLV entry)
const (
	SensorHall     = 0x00
	SensorTemp     = 0x01
	SensorHumidity = 0x02
	SensorLux      = 0x03
	SensorAccel    = 0x04
	SensorEvent    = 0x05
	SensorAccelXYZ = 0x24
	SensorVolt     = 0x30
	SensorDIO      = 0x31
	SensorEEPROM   = 0x32
	SensorInfo     = 0x34
	SensorTimer    = 0x35
)

// Extra byte values for SensorVolt entries
const (
	VoltPower = 0x08
	VoltADC1  = 0x01
	VoltADC2  = 0x02
	VoltADC3  = 0x03
	VoltADC4  = 0x04
)

// PAL data formats, taken from bit 7 of the board byte
const (
	DataFormatWithInfo = 0
	DataFormatStandard = 1
)

// Fixed bytes used by Identify
const (
	palMarker      = 0x80
	palHeaderLen   = 15
	tweliteCommand = 0x81
	tweliteLen     = 23
	appIOLen       = 20
	uartCommand    = 0xA0
	actCommand     = 0xAA
	uartHeaderLen  = 14
	tagHeaderLen   = 14
)

// Sentinels used when a value was not reported
const (
	NoVolt     = 0xFFFF
	NoADC      = 0xFFFF
	NoTemp     = 0x7FFF
	NoHumidity = 0xFFFF
	NoLux      = 0xFFFFFFFF
	NoMagState = 0xFF
)
