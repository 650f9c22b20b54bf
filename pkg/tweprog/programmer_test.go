// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tweprog

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/twestage/pkg/blproto"
)

// ============================================================
// Fakes
// ============================================================

// fakePort is a scripted serial transport. Every write is handed to
// respond and the returned bytes become readable.
type fakePort struct {
	open    bool
	openErr error
	readErr error
	rx      []byte
	writes  [][]byte
	bauds   []int
	respond func(cmd []byte) []byte
	idle    func()
}

func (f *fakePort) Open() error {
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	return nil
}

func (f *fakePort) Close() error { f.open = false; return nil }
func (f *fakePort) IsOpen() bool { return f.open }
func (f *fakePort) Flush() error { return nil }

func (f *fakePort) ReadByte() (byte, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.rx) == 0 {
		if f.idle != nil {
			f.idle()
		}
		return 0, ErrNoData
	}
	b := f.rx[0]
	f.rx = f.rx[1:]
	return b, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	cmd := append([]byte(nil), p...)
	f.writes = append(f.writes, cmd)
	if f.respond != nil {
		f.rx = append(f.rx, f.respond(cmd)...)
	}
	return len(p), nil
}

func (f *fakePort) SetBaudRate(baud int) error {
	f.bauds = append(f.bauds, baud)
	return nil
}

func (f *fakePort) lastWrite() []byte {
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func (f *fakePort) commands(id byte) [][]byte {
	var out [][]byte
	for _, w := range f.writes {
		if len(w) > 1 && w[1] == id {
			out = append(out, w)
		}
	}
	return out
}

type fakeControl struct {
	enabled  bool
	progErr  error
	resets   []bool
	pins     []bool
	progMode int
}

func (c *fakeControl) Reset(hold bool) error {
	c.resets = append(c.resets, hold)
	return nil
}

func (c *fakeControl) SetProgramPin(on bool) error {
	c.pins = append(c.pins, on)
	return nil
}

func (c *fakeControl) EnterProgramMode() error {
	c.progMode++
	return c.progErr
}

func (c *fakeControl) Enabled() bool { return c.enabled }

// flashSim answers bootloader commands like a module with a 64 KiB flash.
type flashSim struct {
	mem      []byte
	chipID   uint32
	mac      [8]byte
	override map[byte][]byte
	// corruptAt flips one byte on read back when >= 0
	corruptAt int
}

func newFlashSim() *flashSim {
	return &flashSim{
		mem:       bytes.Repeat([]byte{0xFF}, 64*1024),
		chipID:    0x10408686,
		mac:       [8]byte{0x00, 0x15, 0x8D, 0x00, 0x01, 0x23, 0x45, 0x67},
		override:  map[byte][]byte{},
		corruptAt: -1,
	}
}

func (s *flashSim) respond(cmd []byte) []byte {
	if r, ok := s.override[cmd[1]]; ok {
		return r
	}
	switch cmd[1] {
	case cmdSetBaud:
		return blproto.Build(respSetBaud, 0x00)
	case cmdIdentifyFlash:
		return blproto.Build(respIdentify, 0x00, 0xCC, 0xEE)
	case cmdSelectFlash:
		return blproto.Build(respSelectFlash, 0x00)
	case cmdReadChipID:
		var id [4]byte
		binary.BigEndian.PutUint32(id[:], s.chipID)
		return blproto.Build(respReadChipID, append([]byte{0x00}, id[:]...)...)
	case cmdReadMemory:
		return blproto.Build(respReadMemory, append([]byte{0x00}, s.mac[:]...)...)
	case cmdEraseFlash:
		for i := range s.mem {
			s.mem[i] = 0xFF
		}
		return blproto.Build(respEraseFlash, 0x00)
	case cmdWriteFlash:
		addr := binary.LittleEndian.Uint32(cmd[2:6])
		copy(s.mem[addr:], cmd[6:len(cmd)-1])
		return blproto.Build(respWriteFlash, 0x00)
	case cmdReadFlash:
		addr := int(binary.LittleEndian.Uint32(cmd[2:6]))
		data := append([]byte{0x00}, s.mem[addr:addr+ChunkSize]...)
		if s.corruptAt >= addr && s.corruptAt < addr+ChunkSize {
			data[1+s.corruptAt-addr] ^= 0x01
		}
		return blproto.Build(respReadFlash, data...)
	}
	return nil
}

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

type recordLogger struct{ msgs []string }

func (l *recordLogger) Debug(msg string, kv ...interface{}) { l.msgs = append(l.msgs, "DEBUG "+msg) }
func (l *recordLogger) Info(msg string, kv ...interface{})  { l.msgs = append(l.msgs, "INFO "+msg) }
func (l *recordLogger) Error(msg string, kv ...interface{}) { l.msgs = append(l.msgs, "ERROR "+msg) }

type harness struct {
	prog   *Programmer
	port   *fakePort
	ctl    *fakeControl
	sim    *flashSim
	clock  *testClock
	events []Event
}

func newHarness(t *testing.T, enabled bool, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		port:  &fakePort{},
		ctl:   &fakeControl{enabled: enabled},
		sim:   newFlashSim(),
		clock: &testClock{t: time.Unix(1700000000, 0)},
	}
	h.port.respond = h.sim.respond
	h.port.idle = func() { h.clock.t = h.clock.t.Add(10 * time.Millisecond) }

	base := []Option{
		WithCallback(func(ev Event) { h.events = append(h.events, ev) }),
		WithClock(h.clock.Now),
		WithSleep(func(time.Duration) {}),
	}
	h.prog = New(h.port, h.ctl, append(base, opts...)...)
	return h
}

func (h *harness) progress(st State) []int {
	var out []int
	for _, ev := range h.events {
		if ev.State == st && ev.Kind == EventRespond && ev.OK {
			out = append(out, ev.Progress)
		}
	}
	return out
}

func testImage(n int) []byte {
	img := append([]byte(nil), headerBlue[:]...)
	for i := 0; i < n; i++ {
		img = append(img, byte(i*7+1))
	}
	return img
}

// ============================================================
// States and module info
// ============================================================

func TestState_String(t *testing.T) {
	assert.Equal(t, "IDENTIFY_FLASH", StateIdentifyFlash.String())
	assert.Equal(t, "FINISH_ERROR", StateFinishError.String())
	assert.Equal(t, "STATE(0x40)", State(0x40).String())
	assert.True(t, StateFinish.Terminal())
	assert.True(t, StateFinishError.Terminal())
	assert.False(t, StateVerifyFlash.Terminal())
	assert.True(t, StateWriteFlash.Chunked())
	assert.False(t, StateEraseFlash.Chunked())
}

func TestModuleTypeFromChipID(t *testing.T) {
	tests := []struct {
		id   uint32
		want ModuleType
	}{
		{0x10408686, ModuleBlue},
		{0x0000B686, ModuleRed},
		{0x12345678, ModuleUndef},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("0x%08X", tt.id), func(t *testing.T) {
			assert.Equal(t, tt.want, moduleTypeFromChipID(tt.id))
		})
	}
}

func TestSerialFromMAC(t *testing.T) {
	mac := [8]byte{0x00, 0x15, 0x8D, 0x00, 0xF1, 0x23, 0x45, 0x67}
	assert.Equal(t, uint32(0x81234567), serialFromMAC(mac))
}

// ============================================================
// Firmware image
// ============================================================

func TestFirmware_Chunks(t *testing.T) {
	fw, err := NewFirmwareBytes(testImage(296))
	require.NoError(t, err)

	assert.Equal(t, int64(296), fw.Length)
	assert.Equal(t, 3, fw.Chunks)
	assert.Equal(t, ModuleBlue, fw.ModuleType())
	assert.Equal(t, uint32(256), fw.Address(2))

	last, err := fw.ChunkData(2)
	require.NoError(t, err)
	assert.Len(t, last, 40)

	padded, err := fw.Chunk(2)
	require.NoError(t, err)
	require.Len(t, padded, ChunkSize)
	assert.Equal(t, last, padded[:40])
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 88), padded[40:])

	_, err = fw.ChunkData(3)
	assert.Error(t, err)
}

func TestFirmware_ExactChunks(t *testing.T) {
	fw, err := NewFirmwareBytes(testImage(256))
	require.NoError(t, err)
	assert.Equal(t, 2, fw.Chunks)
}

func TestFirmware_Header(t *testing.T) {
	red := append(append([]byte(nil), headerRed[:]...), 0x00)
	fw, err := NewFirmwareBytes(red)
	require.NoError(t, err)
	assert.Equal(t, ModuleRed, fw.ModuleType())

	fw, err = NewFirmwareBytes([]byte{0x01, 0x02, 0x03, 0x04, 0x05})
	require.NoError(t, err)
	assert.Equal(t, ModuleUndef, fw.ModuleType())
}

func TestFirmware_Errors(t *testing.T) {
	_, err := NewFirmwareBytes([]byte{0x04, 0x03})
	assert.Error(t, err)

	_, err = NewFirmwareBytes(headerBlue[:])
	assert.ErrorIs(t, err, ErrEmptyFirmware)

	_, err = NewFirmware(nil)
	assert.ErrorIs(t, err, ErrNoFirmware)
}

// ============================================================
// Begin
// ============================================================

func TestBegin_SafeModeSkipsConnect(t *testing.T) {
	h := newHarness(t, false)
	h.port.respond = nil

	require.NoError(t, h.prog.Begin(GetModuleInfo))

	assert.Equal(t, StateIdentifyFlash, h.prog.State())
	assert.Equal(t, []int{ConnectBaud}, h.port.bauds)
	assert.Equal(t, 1, h.ctl.progMode)
	require.Len(t, h.port.writes, 1)
	assert.Equal(t, blproto.Build(cmdIdentifyFlash), h.port.lastWrite())

	for _, ev := range h.events {
		assert.NotEqual(t, StateConnect, ev.State)
	}
}

func TestBegin_ConnectRequest(t *testing.T) {
	h := newHarness(t, true, WithBaudDivisor(2))
	h.port.respond = nil

	require.NoError(t, h.prog.Begin(GetModuleInfo))

	assert.Equal(t, StateConnect, h.prog.State())
	assert.Equal(t, blproto.Build(cmdSetBaud, 0x02), h.port.lastWrite())
	require.Len(t, h.events, 1)
	assert.Equal(t, EventNewState, h.events[0].Kind)
	assert.True(t, h.events[0].OK)
}

func TestBegin_OpenFailure(t *testing.T) {
	h := newHarness(t, true)
	h.port.openErr = errors.New("no such device")

	err := h.prog.Begin(GetModuleInfo)
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.Equal(t, StateFinishError, h.prog.State())
	assert.Empty(t, h.port.writes)
}

func TestBegin_ProgramModeFailure(t *testing.T) {
	h := newHarness(t, true)
	h.ctl.progErr = errors.New("pin busy")

	err := h.prog.Begin(GetModuleInfo)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, StateFinishError, h.prog.State())
	assert.Equal(t, []bool{false}, h.ctl.resets)
}

func TestBegin_EmptyTable(t *testing.T) {
	h := newHarness(t, true)

	require.NoError(t, h.prog.Begin(nil))
	assert.Equal(t, StateFinish, h.prog.State())
	assert.True(t, h.prog.Done())
	assert.NoError(t, h.prog.Err())
}

// ============================================================
// ProcessInput
// ============================================================

func TestProcessInput_IdentifyThenSelectFails(t *testing.T) {
	h := newHarness(t, false)
	h.port.respond = nil

	require.NoError(t, h.prog.Begin(GetModuleInfo))

	for _, b := range blproto.Build(respIdentify, 0x00, 0xCC, 0xEE) {
		assert.False(t, h.prog.ProcessInput(int(b)))
	}
	assert.Equal(t, StateSelectFlash, h.prog.State())
	assert.Equal(t, blproto.Build(cmdSelectFlash, 0x08), h.port.lastWrite())
	assert.Empty(t, h.ctl.resets)

	done := false
	for _, b := range blproto.Build(respSelectFlash, 0x01) {
		done = h.prog.ProcessInput(int(b))
	}
	assert.True(t, done)
	assert.Equal(t, StateFinishError, h.prog.State())
	assert.Equal(t, StateSelectFlash, h.prog.FailedAt())
	assert.Equal(t, []bool{false}, h.ctl.resets)
	// one switch back to the default rate
	assert.Equal(t, []int{ConnectBaud, DefaultBaud}, h.port.bauds)

	err := h.prog.Err()
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), "SELECT_FLASH")
}

func TestProcessInput_IdleBeforeBegin(t *testing.T) {
	h := newHarness(t, true)
	assert.False(t, h.prog.ProcessInput(-1))
	assert.False(t, h.prog.ProcessInput(0x05))
	assert.Equal(t, StateNone, h.prog.State())
}

func TestProcessInput_AfterFinish(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.prog.Begin(nil))
	assert.True(t, h.prog.ProcessInput(0x02))
}

// ============================================================
// Run
// ============================================================

func TestRun_GetModuleInfo(t *testing.T) {
	logger := &recordLogger{}
	h := newHarness(t, true, WithLogger(logger))

	require.NoError(t, h.prog.Run(context.Background(), GetModuleInfo))

	assert.Equal(t, StateFinish, h.prog.State())
	assert.Equal(t, []int{ConnectBaud, FastBaudBase}, h.port.bauds)
	assert.Empty(t, h.ctl.resets)

	info := h.prog.Info()
	assert.Equal(t, uint32(0x10408686), info.ChipID)
	assert.Equal(t, ModuleBlue, info.Type)
	assert.Equal(t, h.sim.mac, info.MAC)
	assert.Equal(t, uint32(0x81234567), info.SerialNumber)

	assert.Equal(t, blproto.Build(cmdReadMemory, readMACArgs...), h.port.lastWrite())
	assert.Contains(t, logger.msgs, "INFO bootloader session finished")
}

func TestRun_BaudDivisor(t *testing.T) {
	h := newHarness(t, true, WithBaudDivisor(2))

	require.NoError(t, h.prog.Run(context.Background(), GetModuleInfo))
	assert.Equal(t, []int{ConnectBaud, FastBaudBase / 2}, h.port.bauds)
}

func TestRun_WriteProgress(t *testing.T) {
	h := newHarness(t, false)
	image := testImage(296)
	require.NoError(t, h.prog.SetFirmware(bytes.NewReader(image)))

	require.NoError(t, h.prog.Run(context.Background(), EraseAndWrite))
	assert.Equal(t, StateFinish, h.prog.State())

	writes := h.port.commands(cmdWriteFlash)
	require.Len(t, writes, 3)
	for i, w := range writes {
		assert.Equal(t, uint32(i*ChunkSize), binary.LittleEndian.Uint32(w[2:6]))
		assert.Len(t, w, 2+4+ChunkSize+1)
	}

	assert.Equal(t, []int{341, 682, 1024}, h.progress(StateWriteFlash))
	assert.Equal(t, []int{341, 682, 1024}, h.progress(StateVerifyFlash))

	assert.Equal(t, image[HeaderSize:], h.sim.mem[:296])
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 88), h.sim.mem[296:384])

	newStates := 0
	for _, ev := range h.events {
		if ev.State == StateWriteFlash && ev.Kind == EventNewState {
			newStates++
		}
	}
	assert.Equal(t, 1, newStates)

	current, total := h.prog.Chunk()
	assert.Equal(t, 3, current)
	assert.Equal(t, 3, total)
}

func TestRun_VerifyMismatch(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.prog.SetFirmware(bytes.NewReader(testImage(296))))
	h.sim.corruptAt = 130

	err := h.prog.Run(context.Background(), EraseAndWrite)
	require.ErrorIs(t, err, ErrProtocol)

	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, uint32(128), verr.Address)
	assert.Equal(t, 2, verr.Offset)

	assert.Equal(t, StateFinishError, h.prog.State())
	assert.Equal(t, StateVerifyFlash, h.prog.FailedAt())
	assert.Equal(t, []bool{false}, h.ctl.resets)
	assert.Equal(t, []int{341}, h.progress(StateVerifyFlash))
}

func TestRun_VerifyIgnoresBytesPastImage(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.prog.SetFirmware(bytes.NewReader(testImage(296))))
	h.sim.corruptAt = 300

	require.NoError(t, h.prog.Run(context.Background(), EraseAndWrite))
}

func TestRun_Timeout(t *testing.T) {
	h := newHarness(t, true, WithResponseTimeout(500*time.Millisecond))
	h.sim.override[cmdIdentifyFlash] = nil

	err := h.prog.Run(context.Background(), GetModuleInfo)
	require.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), "no response in IDENTIFY_FLASH")

	last := h.events[len(h.events)-1]
	assert.Equal(t, StateIdentifyFlash, last.State)
	assert.Equal(t, EventRespond, last.Kind)
	assert.Equal(t, blproto.StatusError, last.Status)
	assert.True(t, last.TimedOut)
	assert.False(t, last.OK)

	assert.Equal(t, StateFinishError, h.prog.State())
	assert.Equal(t, []int{ConnectBaud, FastBaudBase, DefaultBaud}, h.port.bauds)
	assert.Equal(t, []bool{false}, h.ctl.resets)
}

func TestRun_BadResponses(t *testing.T) {
	badXOR := blproto.Build(respIdentify, 0x00, 0xCC, 0xEE)
	badXOR[len(badXOR)-1] ^= 0xFF

	tests := []struct {
		name   string
		resp   []byte
		status blproto.Status
		msg    string
	}{
		{"crc error", badXOR, blproto.StatusCRCError, "CRC_ERROR in IDENTIFY_FLASH"},
		{"unexpected id", blproto.Build(0x99, 0x00), blproto.StatusUnexpected, "UNEXPECTED in IDENTIFY_FLASH"},
		{"short length", []byte{0x01}, blproto.StatusError, "ERROR in IDENTIFY_FLASH"},
		{"wrong flash", blproto.Build(respIdentify, 0x00, 0xCC, 0xEF), blproto.StatusCompleted, "IDENTIFY_FLASH response rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false)
			h.sim.override[cmdIdentifyFlash] = tt.resp

			err := h.prog.Run(context.Background(), GetModuleInfo)
			require.ErrorIs(t, err, ErrProtocol)
			assert.Contains(t, err.Error(), tt.msg)

			last := h.events[len(h.events)-1]
			assert.Equal(t, tt.status, last.Status)
			assert.False(t, last.OK)
			assert.False(t, last.TimedOut)
		})
	}
}

func TestRun_ChipIDStatus(t *testing.T) {
	h := newHarness(t, false)
	h.sim.override[cmdReadChipID] = blproto.Build(respReadChipID, 0x01, 0x00, 0x00, 0x86, 0x86)

	err := h.prog.Run(context.Background(), GetModuleInfo)
	require.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, ModuleUndef, h.prog.Info().Type)
}

func TestRun_ShortMAC(t *testing.T) {
	h := newHarness(t, false)
	h.sim.override[cmdReadMemory] = blproto.Build(respReadMemory, 0x00, 0x01, 0x02, 0x03)

	err := h.prog.Run(context.Background(), GetModuleInfo)
	require.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, uint32(0), h.prog.Info().SerialNumber)
}

func TestRun_NoFirmware(t *testing.T) {
	h := newHarness(t, false)

	err := h.prog.Run(context.Background(), EraseAndWrite)
	require.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, err, ErrNoFirmware)
	assert.Empty(t, h.port.commands(cmdWriteFlash))
}

func TestRun_ContextCancelled(t *testing.T) {
	h := newHarness(t, false)
	h.sim.override[cmdIdentifyFlash] = nil

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.prog.Run(ctx, GetModuleInfo)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFinishError, h.prog.State())
	assert.Equal(t, []bool{false}, h.ctl.resets)
}

func TestRun_ReadError(t *testing.T) {
	h := newHarness(t, false)
	h.sim.override[cmdIdentifyFlash] = nil
	readErr := errors.New("device unplugged")
	h.port.readErr = readErr

	err := h.prog.Run(context.Background(), GetModuleInfo)
	assert.ErrorIs(t, err, readErr)
	assert.Equal(t, StateFinishError, h.prog.State())
}

// ============================================================
// Module control pass-throughs
// ============================================================

func TestModuleControlPassThrough(t *testing.T) {
	h := newHarness(t, true)

	require.NoError(t, h.prog.ResetHoldModule())
	require.NoError(t, h.prog.SetPin(true))
	require.NoError(t, h.prog.SetPin(false))
	require.NoError(t, h.prog.ResetModule())

	assert.Equal(t, []bool{true, false}, h.ctl.resets)
	assert.Equal(t, []bool{true, false}, h.ctl.pins)
	assert.Equal(t, []int{DefaultBaud}, h.port.bauds)
}

func TestNew_NilControlIsSafeMode(t *testing.T) {
	port := &fakePort{}
	prog := New(port, nil, WithSleep(func(time.Duration) {}))

	require.NoError(t, prog.Begin(GetModuleInfo))
	assert.Equal(t, StateIdentifyFlash, prog.State())
	assert.NoError(t, prog.ResetModule())
}

func TestNew_NilSerialPanics(t *testing.T) {
	assert.Panics(t, func() { New(nil, nil) })
}
