// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tweprog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Thermoquad/twestage/pkg/blproto"
)

// Bootloader command and response ids
const (
	cmdSetBaud       = 0x27
	respSetBaud      = 0x28
	cmdIdentifyFlash = 0x25
	respIdentify     = 0x26
	cmdSelectFlash   = 0x2C
	respSelectFlash  = 0x2D
	cmdReadChipID    = 0x32
	respReadChipID   = 0x33
	cmdReadMemory    = 0x1F
	respReadMemory   = 0x20
	cmdEraseFlash    = 0x07
	respEraseFlash   = 0x08
	cmdWriteFlash    = 0x09
	respWriteFlash   = 0x0A
	cmdReadFlash     = 0x0B
	respReadFlash    = 0x0C

	flashTypeSelect  = 0x08
	flashManufacture = 0xCC
	flashType        = 0xEE

	// [len][id][status][128 bytes][xor]
	verifyResponseLen = 3 + ChunkSize + 1
	discardLimit      = 4096
)

// MAC is read as 8 bytes from 0x01001570, address LSB first.
var readMACArgs = []byte{0x70, 0x15, 0x00, 0x01, 0x08, 0x00}

type result uint8

const (
	resultFail result = iota
	resultSuccess
	resultContinue
	resultSkip
)

// Programmer runs bootloader sessions over a serial transport. It is not
// safe for concurrent use.
type Programmer struct {
	serial SerialTransport
	modctl ModuleControl
	proto  *blproto.Protocol
	cfg    config

	state State
	table []State
	next  int

	fw    *Firmware
	chunk int
	info  ModuleInfo

	failedAt   State
	lastStatus blproto.Status
	failure    error
}

// New creates a Programmer. A nil modctl runs in safe mode.
func New(serial SerialTransport, modctl ModuleControl, opts ...Option) *Programmer {
	if serial == nil {
		panic("serial transport cannot be nil")
	}
	if modctl == nil {
		modctl = noControl{}
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Programmer{
		serial: serial,
		modctl: modctl,
		cfg:    cfg,
		proto: blproto.New(serial,
			blproto.WithTimeout(cfg.responseTimeout),
			blproto.WithClock(cfg.now),
		),
	}
}

// SetFirmware selects the image used by WRITE and VERIFY.
func (p *Programmer) SetFirmware(src FirmwareImageSource) error {
	fw, err := NewFirmware(src)
	if err != nil {
		return err
	}
	p.fw = fw
	p.chunk = 0
	return nil
}

// Firmware returns the selected image, or nil.
func (p *Programmer) Firmware() *Firmware { return p.fw }

// State returns the current state.
func (p *Programmer) State() State { return p.state }

// Done reports whether the session has ended.
func (p *Programmer) Done() bool { return p.state.Terminal() }

// FailedAt returns the state that was active when the session failed, or
// StateNone.
func (p *Programmer) FailedAt() State { return p.failedAt }

// Info returns what READ_CHIPID and READ_MAC collected.
func (p *Programmer) Info() ModuleInfo { return p.info }

// Chunk returns the current chunk index and the chunk total.
func (p *Programmer) Chunk() (int, int) {
	if p.fw == nil {
		return p.chunk, 0
	}
	return p.chunk, p.fw.Chunks
}

// Begin opens the transport, puts the module into its bootloader and
// issues the first request of table. It returns an error when the module
// could not be reached, in which case the state is StateFinishError.
func (p *Programmer) Begin(table []State) error {
	p.table = table
	p.next = 0
	p.chunk = 0
	p.info = ModuleInfo{}
	p.failure = nil
	p.failedAt = StateNone
	p.lastStatus = blproto.StatusIdle
	p.state = StateNone
	p.proto.Reset()

	if !p.serial.IsOpen() {
		if err := p.serial.Open(); err != nil {
			p.failure = fmt.Errorf("%w: %w", ErrNotOpen, err)
			p.state = StateFinishError
			return p.failure
		}
	}

	if err := p.connect(); err != nil {
		p.failure = err
		p.errorState()
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	if p.nextState() == StateFinishError {
		return p.Err()
	}
	return nil
}

// ProcessInput feeds one byte from the module, or -1 when none arrived.
// It returns true when the session has ended.
func (p *Programmer) ProcessInput(c int) bool {
	if p.state.Terminal() {
		return true
	}
	if !p.proto.Receive(c) {
		return false
	}

	status := p.proto.Status()
	p.lastStatus = status
	resp := append([]byte(nil), p.proto.ResponseBuf()...)

	if status != blproto.StatusCompleted {
		p.cfg.logger.Error("bootloader response failed",
			"state", p.state.String(),
			"status", status.String(),
			"timeout", p.proto.TimedOut(),
		)
		p.emit(Event{
			State:    p.state,
			Kind:     EventRespond,
			Status:   status,
			TimedOut: p.proto.TimedOut(),
			Frame:    resp,
		})
		p.errorState()
		return true
	}

	st := p.state
	r := p.respond(st, resp)
	p.cfg.logger.Debug("bootloader response",
		"state", st.String(),
		"ok", r != resultFail,
		"frame", fmt.Sprintf("% X", resp),
	)
	ev := Event{State: st, Kind: EventRespond, OK: r != resultFail, Status: status, Frame: resp}
	if st.Chunked() {
		ev.Progress = p.progress()
	}
	p.emit(ev)

	switch r {
	case resultSuccess:
		p.nextState()
		return p.state.Terminal()
	case resultContinue:
		return false
	default:
		p.errorState()
		return true
	}
}

// Run begins table and pumps the serial transport until the session ends
// or ctx is cancelled.
func (p *Programmer) Run(ctx context.Context, table []State) error {
	if err := p.Begin(table); err != nil {
		return err
	}

	for !p.Done() {
		select {
		case <-ctx.Done():
			p.errorState()
			return ctx.Err()
		default:
		}

		c := -1
		b, err := p.serial.ReadByte()
		switch {
		case err == nil:
			c = int(b)
		case errors.Is(err, ErrNoData):
		default:
			p.failure = fmt.Errorf("failed to read from module: %w", err)
			p.errorState()
			return fmt.Errorf("%w: %w", ErrProtocol, p.failure)
		}
		p.ProcessInput(c)
	}
	return p.Err()
}

// Err describes why the session ended in StateFinishError, or returns nil.
func (p *Programmer) Err() error {
	if p.state != StateFinishError {
		return nil
	}
	if p.failure != nil {
		return fmt.Errorf("%w: %s: %w", ErrProtocol, p.failedAt, p.failure)
	}
	switch {
	case p.proto.TimedOut():
		return fmt.Errorf("%w: no response in %s", ErrProtocol, p.failedAt)
	case p.lastStatus == blproto.StatusCRCError || p.lastStatus == blproto.StatusUnexpected ||
		p.lastStatus == blproto.StatusError:
		return fmt.Errorf("%w: %s in %s", ErrProtocol, p.lastStatus, p.failedAt)
	default:
		return fmt.Errorf("%w: %s response rejected", ErrProtocol, p.failedAt)
	}
}

// ResetModule resets the module into its application.
func (p *Programmer) ResetModule() error {
	_ = p.serial.Flush()
	if err := p.serial.SetBaudRate(DefaultBaud); err != nil {
		return fmt.Errorf("failed to restore baud rate: %w", err)
	}
	p.cfg.sleep(baudSettle)
	return p.modctl.Reset(false)
}

// ResetHoldModule holds the module in reset.
func (p *Programmer) ResetHoldModule() error {
	return p.modctl.Reset(true)
}

// SetPin drives the program pin.
func (p *Programmer) SetPin(on bool) error {
	return p.modctl.SetProgramPin(on)
}

func (p *Programmer) connect() error {
	if err := p.serial.SetBaudRate(ConnectBaud); err != nil {
		return fmt.Errorf("failed to set connect baud rate: %w", err)
	}
	if err := p.modctl.EnterProgramMode(); err != nil {
		return fmt.Errorf("failed to enter program mode: %w", err)
	}
	p.discardInput()
	return nil
}

func (p *Programmer) changeBaud(baud int) error {
	if err := p.serial.SetBaudRate(baud); err != nil {
		return err
	}
	_ = p.serial.Flush()
	p.cfg.sleep(baudSettle)
	p.discardInput()
	return nil
}

func (p *Programmer) discardInput() {
	for i := 0; i < discardLimit; i++ {
		if _, err := p.serial.ReadByte(); err != nil {
			return
		}
	}
}

// nextState advances through the table, skipping states that do not
// apply.
func (p *Programmer) nextState() State {
	for {
		if p.next >= len(p.table) || p.table[p.next] == StateNone {
			p.state = StateFinish
			p.cfg.logger.Info("bootloader session finished")
			return p.state
		}

		p.state = p.table[p.next]
		p.next++

		switch p.enter(p.state) {
		case resultSkip:
			p.cfg.logger.Debug("state skipped", "state", p.state.String())
			continue
		case resultFail:
			p.errorState()
		}
		return p.state
	}
}

// errorState ends the session and puts the module back into its
// application at the default baud rate. Cleanup errors are only logged.
func (p *Programmer) errorState() {
	if p.state != StateFinishError {
		p.failedAt = p.state
	}
	p.state = StateFinishError

	// ResetModule also restores the default baud rate.
	if err := p.ResetModule(); err != nil {
		p.cfg.logger.Error("failed to reset module", "error", err)
	}
}

// enter issues the first request of st.
func (p *Programmer) enter(st State) result {
	var r result
	switch st {
	case StateConnect:
		if !p.modctl.Enabled() {
			return resultSkip
		}
		r = p.request(cmdSetBaud, respSetBaud, byte(p.cfg.baudDivisor))
	case StateIdentifyFlash:
		r = p.request(cmdIdentifyFlash, respIdentify)
	case StateSelectFlash:
		r = p.request(cmdSelectFlash, respSelectFlash, byte(flashTypeSelect))
	case StateReadChipID:
		r = p.request(cmdReadChipID, respReadChipID)
	case StateReadMAC:
		r = p.request(cmdReadMemory, respReadMemory, readMACArgs)
	case StateEraseFlash:
		r = p.request(cmdEraseFlash, respEraseFlash)
	case StateWriteFlash:
		p.chunk = 0
		r = p.requestWrite()
	case StateVerifyFlash:
		p.chunk = 0
		r = p.requestVerify()
	default:
		p.failure = fmt.Errorf("state %s cannot be entered", st)
		r = resultFail
	}

	p.emit(Event{
		State: st,
		Kind:  EventNewState,
		OK:    r == resultSuccess,
		Frame: append([]byte(nil), p.proto.CommandBuf()...),
	})
	return r
}

// respond validates a completed response for st.
func (p *Programmer) respond(st State, resp []byte) result {
	switch st {
	case StateConnect:
		baud := FastBaudBase / p.cfg.baudDivisor
		if err := p.changeBaud(baud); err != nil {
			p.failure = fmt.Errorf("failed to switch to %d baud: %w", baud, err)
			return resultFail
		}
		p.cfg.sleep(baudSettle)
		p.cfg.logger.Info("programming baud rate set", "baud", baud)
		return resultSuccess

	case StateIdentifyFlash:
		if len(resp) >= 5 && resp[2] == 0 && resp[3] == flashManufacture && resp[4] == flashType {
			return resultSuccess
		}
		return resultFail

	case StateSelectFlash, StateEraseFlash:
		if len(resp) >= 3 && resp[2] == 0 {
			return resultSuccess
		}
		return resultFail

	case StateReadChipID:
		p.info.Type = ModuleUndef
		if len(resp) < 7 || resp[2] != 0 {
			return resultFail
		}
		p.info.ChipID = binary.BigEndian.Uint32(resp[3:7])
		p.info.Type = moduleTypeFromChipID(p.info.ChipID)
		p.cfg.logger.Info("chip id read",
			"chip_id", fmt.Sprintf("0x%08X", p.info.ChipID),
			"type", p.info.Type.String(),
		)
		return resultSuccess

	case StateReadMAC:
		if len(resp) < 3+8 || resp[2] != 0 {
			return resultFail
		}
		copy(p.info.MAC[:], resp[3:11])
		p.info.SerialNumber = serialFromMAC(p.info.MAC)
		p.cfg.logger.Info("module serial read",
			"serial", fmt.Sprintf("0x%08X", p.info.SerialNumber),
		)
		return resultSuccess

	case StateWriteFlash:
		if len(resp) < 3 || resp[2] != 0 {
			return resultFail
		}
		p.chunk++
		if p.chunk >= p.fw.Chunks {
			return resultSuccess
		}
		if p.requestWrite() == resultFail {
			return resultFail
		}
		return resultContinue

	case StateVerifyFlash:
		if len(resp) != verifyResponseLen || resp[2] != 0 {
			return resultFail
		}
		if err := p.compareChunk(resp[3 : 3+ChunkSize]); err != nil {
			p.failure = err
			p.cfg.logger.Error("flash verify failed", "error", err)
			return resultFail
		}
		p.chunk++
		if p.chunk >= p.fw.Chunks {
			return resultSuccess
		}
		if p.requestVerify() == resultFail {
			return resultFail
		}
		return resultContinue
	}
	return resultFail
}

func (p *Programmer) compareChunk(flash []byte) error {
	want, err := p.fw.ChunkData(p.chunk)
	if err != nil {
		return err
	}
	for i, b := range want {
		if flash[i] != b {
			return &VerifyError{
				Address:  p.fw.Address(p.chunk),
				Offset:   i,
				Expected: b,
				Actual:   flash[i],
			}
		}
	}
	return nil
}

func (p *Programmer) request(cmdID, respID byte, args ...any) result {
	if err := p.proto.Request(cmdID, respID, args...); err != nil {
		p.failure = err
		p.cfg.logger.Error("bootloader request failed", "command", fmt.Sprintf("0x%02X", cmdID), "error", err)
		return resultFail
	}
	p.cfg.logger.Debug("bootloader request",
		"state", p.state.String(),
		"frame", fmt.Sprintf("% X", p.proto.CommandBuf()),
	)
	return resultSuccess
}

func (p *Programmer) addressArg() []byte {
	var addr [4]byte
	binary.LittleEndian.PutUint32(addr[:], p.fw.Address(p.chunk))
	return addr[:]
}

func (p *Programmer) requestWrite() result {
	if p.fw == nil {
		p.failure = ErrNoFirmware
		return resultFail
	}
	data, err := p.fw.Chunk(p.chunk)
	if err != nil {
		p.failure = err
		return resultFail
	}
	return p.request(cmdWriteFlash, respWriteFlash, p.addressArg(), data)
}

func (p *Programmer) requestVerify() result {
	if p.fw == nil {
		p.failure = ErrNoFirmware
		return resultFail
	}
	return p.request(cmdReadFlash, respReadFlash, p.addressArg(), byte(ChunkSize))
}

func (p *Programmer) progress() int {
	if p.fw == nil || p.fw.Chunks == 0 {
		return 0
	}
	return p.chunk * 1024 / p.fw.Chunks
}

func (p *Programmer) emit(ev Event) {
	if p.cfg.callback != nil {
		p.cfg.callback(ev)
	}
}
