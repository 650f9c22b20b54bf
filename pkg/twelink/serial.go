// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package twelink provides the byte links to a TWELITE module: a local
// serial port with DTR/RTS module control and a WebSocket serial bridge.
package twelink

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/Thermoquad/twestage/pkg/tweprog"
)

// DefaultBaud is the TWELITE application baud rate.
const DefaultBaud = 115200

// ErrPortClosed is returned by operations on a port that is not open.
var ErrPortClosed = errors.New("serial port not open")

var (
	_ tweprog.SerialTransport = (*SerialPort)(nil)
	_ Conn                    = (*SerialPort)(nil)
)

// SerialPort is a serial device opened with go.bug.st/serial. It satisfies
// both Conn and tweprog.SerialTransport.
type SerialPort struct {
	name        string
	mode        *serial.Mode
	readTimeout time.Duration

	mu   sync.Mutex
	port serial.Port
	one  [1]byte
}

// SerialOption configures a SerialPort.
type SerialOption func(*SerialPort)

// WithReadTimeout makes Read return (0, nil) and ReadByte return
// tweprog.ErrNoData when nothing arrived within d. Zero blocks.
func WithReadTimeout(d time.Duration) SerialOption {
	return func(s *SerialPort) {
		if d >= 0 {
			s.readTimeout = d
		}
	}
}

// NewSerialPort describes a port without opening it.
func NewSerialPort(name string, baud int, opts ...SerialOption) *SerialPort {
	if baud <= 0 {
		baud = DefaultBaud
	}
	s := &SerialPort{
		name: name,
		mode: &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenSerialPort opens name at baud.
func OpenSerialPort(name string, baud int, opts ...SerialOption) (*SerialPort, error) {
	s := NewSerialPort(name, baud, opts...)
	if err := s.Open(); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the device path.
func (s *SerialPort) Name() string { return s.name }

// BaudRate returns the current baud rate.
func (s *SerialPort) BaudRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode.BaudRate
}

func (s *SerialPort) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}

	port, err := serial.Open(s.name, s.mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.name, err)
	}
	if s.readTimeout > 0 {
		if err := port.SetReadTimeout(s.readTimeout); err != nil {
			port.Close()
			return fmt.Errorf("failed to set read timeout on %s: %w", s.name, err)
		}
	}
	// Drop whatever the module printed before we were listening.
	_ = port.ResetInputBuffer()

	s.port = port
	return nil
}

func (s *SerialPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *SerialPort) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

func (s *SerialPort) current() (serial.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil, ErrPortClosed
	}
	return s.port, nil
}

func (s *SerialPort) Read(p []byte) (int, error) {
	port, err := s.current()
	if err != nil {
		return 0, err
	}
	return port.Read(p)
}

// ReadByte returns tweprog.ErrNoData when the read timeout expired.
func (s *SerialPort) ReadByte() (byte, error) {
	port, err := s.current()
	if err != nil {
		return 0, err
	}
	n, err := port.Read(s.one[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, tweprog.ErrNoData
	}
	return s.one[0], nil
}

func (s *SerialPort) Write(p []byte) (int, error) {
	port, err := s.current()
	if err != nil {
		return 0, err
	}
	return port.Write(p)
}

// SetBaudRate changes the baud rate, applying it at once when open.
func (s *SerialPort) SetBaudRate(baud int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mode.BaudRate = baud
	if s.port == nil {
		return nil
	}
	if err := s.port.SetMode(s.mode); err != nil {
		return fmt.Errorf("failed to set %d baud on %s: %w", baud, s.name, err)
	}
	return nil
}

// Flush waits for pending output to be transmitted.
func (s *SerialPort) Flush() error {
	port, err := s.current()
	if err != nil {
		return err
	}
	return port.Drain()
}

// SetDTR drives the DTR line.
func (s *SerialPort) SetDTR(on bool) error {
	port, err := s.current()
	if err != nil {
		return err
	}
	return port.SetDTR(on)
}

// SetRTS drives the RTS line.
func (s *SerialPort) SetRTS(on bool) error {
	port, err := s.current()
	if err != nil {
		return err
	}
	return port.SetRTS(on)
}

// PortInfo describes a serial device found on the host.
type PortInfo struct {
	Name         string `yaml:"name"`
	USB          bool   `yaml:"usb"`
	VID          string `yaml:"vid,omitempty"`
	PID          string `yaml:"pid,omitempty"`
	SerialNumber string `yaml:"serial,omitempty"`
	Product      string `yaml:"product,omitempty"`
}

// TweliteBridge reports whether the port looks like an FTDI based
// MONOSTICK or TWELITE R writer.
func (p PortInfo) TweliteBridge() bool {
	if p.VID != "0403" {
		return false
	}
	return p.PID == "6001" || p.PID == "6015"
}

// ListPorts enumerates serial ports, with USB details where the platform
// reports them.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		out := make([]PortInfo, 0, len(details))
		for _, d := range details {
			out = append(out, PortInfo{
				Name:         d.Name,
				USB:          d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		return out, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	out := make([]PortInfo, 0, len(names))
	for _, n := range names {
		out = append(out, PortInfo{Name: n})
	}
	return out, nil
}
