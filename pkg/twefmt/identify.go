// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twefmt

import "github.com/Thermoquad/twestage/pkg/checksum"

// Identify classifies a frame payload without fully parsing it. Shapes are
// tried in a fixed order: PAL, App_Twelite, App_IO, App_UART, Act
// standard, App_Tag.
func Identify(p []byte) Kind {
	switch {
	case isPAL(p):
		return KindPAL
	case isTwelite(p):
		return KindTwelite
	case isAppIO(p):
		return KindAppIO
	case isUART(p, uartCommand):
		return KindAppUART
	case isUART(p, actCommand):
		return KindActStd
	case isAppTag(p):
		return KindAppTag
	}
	return KindUnknown
}

// Parse identifies p and decodes it into the matching variant.
func Parse(p []byte) (Packet, error) {
	switch Identify(p) {
	case KindPAL:
		return ParsePAL(p)
	case KindTwelite:
		return ParseTwelite(p)
	case KindAppIO:
		return ParseAppIO(p)
	case KindAppUART, KindActStd:
		return ParseAppUART(p)
	case KindAppTag:
		return ParseAppTag(p)
	}
	return nil, ErrUnknownPacket
}

func isPAL(p []byte) bool {
	n := len(p)
	if n <= palHeaderLen-1 || p[0]&0x80 == 0 || p[7]&0x80 == 0 || p[12] != palMarker {
		return false
	}

	count := int(p[14])
	pos := palHeaderLen
	walked := 0
	for i := 0; i < count; i++ {
		if n <= pos+4 {
			break
		}
		l := int(p[pos+3])
		pos += 4
		if n <= pos+l {
			break
		}
		pos += l
		walked++
	}

	return walked == count && n > pos && checksum.CRC8(p[:pos]) == p[pos]
}

func isTwelite(p []byte) bool {
	return len(p) == tweliteLen && p[1] == tweliteCommand && p[3] == 0x01 && p[5]&0x80 != 0
}

func isAppIO(p []byte) bool {
	return len(p) == appIOLen && p[1] == tweliteCommand && p[3] == 0x02 && p[5]&0x80 != 0
}

func isUART(p []byte, cmd byte) bool {
	n := len(p)
	if n < uartHeaderLen || p[1] != cmd || p[3]&0x80 == 0 {
		return false
	}
	return int(p[12])<<8|int(p[13]) == n-uartHeaderLen
}

func isAppTag(p []byte) bool {
	return len(p) > tagHeaderLen && p[0]&0x80 != 0 && p[7]&0x80 != 0 && p[12] != palMarker
}
