// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tweprog

import "errors"

// ErrNoData is returned by SerialTransport.ReadByte when no byte arrived
// within the transport's read timeout.
var ErrNoData = errors.New("no data available")

// SerialTransport is the byte link to the module.
type SerialTransport interface {
	Open() error
	Close() error
	// ReadByte returns ErrNoData when idle rather than blocking forever.
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
	SetBaudRate(baud int) error
	// Flush waits until written bytes have left the host.
	Flush() error
	IsOpen() bool
}

// ModuleControl drives the reset and program pins of the module. A
// disabled control (safe mode) forbids pin and baud changes.
type ModuleControl interface {
	Reset(hold bool) error
	SetProgramPin(on bool) error
	EnterProgramMode() error
	Enabled() bool
}

type noControl struct{}

func (noControl) Reset(bool) error         { return nil }
func (noControl) SetProgramPin(bool) error { return nil }
func (noControl) EnterProgramMode() error  { return nil }
func (noControl) Enabled() bool            { return false }
