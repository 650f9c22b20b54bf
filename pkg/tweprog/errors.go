// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tweprog

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is returned by Run when the session ended in
	// StateFinishError.
	ErrProtocol = errors.New("bootloader protocol error")

	ErrNoFirmware    = errors.New("no firmware image set")
	ErrEmptyFirmware = errors.New("firmware image has no data")
	ErrNotOpen       = errors.New("serial transport not open")
)

// VerifyError reports the first byte read back from flash that differs
// from the firmware image.
type VerifyError struct {
	Address  uint32
	Offset   int
	Expected byte
	Actual   byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify mismatch at 0x%06X (chunk offset %d): expected 0x%02X, got 0x%02X",
		e.Address+uint32(e.Offset), e.Offset, e.Expected, e.Actual)
}
