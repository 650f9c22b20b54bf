// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twelink

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/twestage/pkg/tweprog"
)

// Line is a modem control line of the serial bridge.
type Line uint8

const (
	LineNone Line = iota
	LineDTR
	LineRTS
)

func (l Line) String() string {
	switch l {
	case LineDTR:
		return "dtr"
	case LineRTS:
		return "rts"
	default:
		return "none"
	}
}

// ParseLine accepts "dtr", "rts" or "none".
func ParseLine(s string) (Line, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dtr":
		return LineDTR, nil
	case "rts":
		return LineRTS, nil
	case "", "none":
		return LineNone, nil
	default:
		return LineNone, fmt.Errorf("unknown control line %q (use dtr, rts or none)", s)
	}
}

// Pin sequencing delays
const (
	resetPulse  = 20 * time.Millisecond
	progAssert  = 50 * time.Millisecond
	progRelease = 200 * time.Millisecond
)

// LineDriver drives modem control lines. *SerialPort implements it.
type LineDriver interface {
	SetDTR(on bool) error
	SetRTS(on bool) error
}

var _ tweprog.ModuleControl = (*PinControl)(nil)

// PinControl wires the module reset and program pins to the bridge's
// DTR/RTS lines. Asserting a line pulls the module pin low.
type PinControl struct {
	drv      LineDriver
	reset    Line
	program  Line
	safeMode bool
	sleep    func(time.Duration)
}

// PinOption configures a PinControl.
type PinOption func(*PinControl)

// WithLines maps the reset and program pins.
func WithLines(reset, program Line) PinOption {
	return func(c *PinControl) {
		c.reset = reset
		c.program = program
	}
}

// WithSafeMode disables all pin and baud changes. The module must then be
// put into its bootloader by hand.
func WithSafeMode(on bool) PinOption {
	return func(c *PinControl) {
		c.safeMode = on
	}
}

// WithPinSleep replaces time.Sleep for the pin sequences.
func WithPinSleep(sleep func(time.Duration)) PinOption {
	return func(c *PinControl) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewPinControl maps reset to DTR and program to RTS unless told otherwise.
func NewPinControl(drv LineDriver, opts ...PinOption) *PinControl {
	c := &PinControl{
		drv:     drv,
		reset:   LineDTR,
		program: LineRTS,
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reset == LineNone && c.program == LineNone {
		c.safeMode = true
	}
	return c
}

// Enabled is false in safe mode.
func (c *PinControl) Enabled() bool { return !c.safeMode }

func (c *PinControl) set(l Line, on bool) error {
	switch l {
	case LineDTR:
		return c.drv.SetDTR(on)
	case LineRTS:
		return c.drv.SetRTS(on)
	default:
		return nil
	}
}

// Reset pulses the reset pin. With hold the module stays in reset.
func (c *PinControl) Reset(hold bool) error {
	if c.safeMode {
		return nil
	}
	if err := c.set(c.reset, true); err != nil {
		return fmt.Errorf("failed to assert reset: %w", err)
	}
	if hold {
		return nil
	}
	c.sleep(resetPulse)
	if err := c.set(c.reset, false); err != nil {
		return fmt.Errorf("failed to release reset: %w", err)
	}
	return nil
}

// SetProgramPin drives the program pin directly.
func (c *PinControl) SetProgramPin(on bool) error {
	if c.safeMode {
		return nil
	}
	return c.set(c.program, on)
}

// EnterProgramMode resets the module with the program pin held so that it
// starts in its serial bootloader.
func (c *PinControl) EnterProgramMode() error {
	if c.safeMode {
		return nil
	}
	steps := []struct {
		reset, program bool
		wait           time.Duration
	}{
		{true, true, progAssert},
		{false, true, progRelease},
		{false, false, 0},
	}
	for _, s := range steps {
		if err := c.set(c.reset, s.reset); err != nil {
			return fmt.Errorf("failed to drive reset: %w", err)
		}
		if err := c.set(c.program, s.program); err != nil {
			return fmt.Errorf("failed to drive program pin: %w", err)
		}
		if s.wait > 0 {
			c.sleep(s.wait)
		}
	}
	return nil
}
