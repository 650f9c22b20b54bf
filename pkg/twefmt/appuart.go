// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twefmt

import "fmt"

// AppUART is an App_UART extended format packet. Act standard packets
// share the layout and differ only in Command (0xAA instead of 0xA0).
type AppUART struct {
	Common

	Command    uint8
	ResponseID uint8
	DstAddr    uint32
	Payload    []byte
}

// Kind returns KindAppUART or KindActStd depending on Command.
func (u *AppUART) Kind() Kind {
	if u.Command == actCommand {
		return KindActStd
	}
	return KindAppUART
}

// ParseAppUART decodes an App_UART or Act standard packet.
func ParseAppUART(b []byte) (*AppUART, error) {
	if len(b) < uartHeaderLen {
		return nil, fmt.Errorf("%w: App_UART header needs %d bytes, got %d", ErrTooShort, uartHeaderLen, len(b))
	}

	r := reader{b: b}
	u := &AppUART{}
	u.SrcLID = r.u8()
	u.Command = r.u8()
	if u.Command != uartCommand && u.Command != actCommand {
		return nil, fmt.Errorf("%w: App_UART command 0x%02X", ErrMalformed, u.Command)
	}
	u.ResponseID = r.u8()
	u.SrcAddr = r.u32()
	u.DstAddr = r.u32()
	u.LQI = r.u8()

	n := int(r.u16())
	if r.off+n != len(b) {
		return nil, fmt.Errorf("%w: App_UART length %d, %d bytes follow", ErrMalformed, n, len(b)-r.off)
	}
	u.Payload = r.rest()

	u.Tick = now()
	return u, nil
}
