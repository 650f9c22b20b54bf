// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tweprog

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// ChunkSize is the number of bytes moved by one WRITE or VERIFY round trip.
const ChunkSize = 128

// HeaderSize is the length of the image header preceding the flash data.
const HeaderSize = 4

var (
	headerBlue = [HeaderSize]byte{0x04, 0x03, 0x00, 0x08}
	headerRed  = [HeaderSize]byte{0x0F, 0x03, 0x00, 0x0B}
)

// FirmwareImageSource is a random access firmware image. *bytes.Reader
// and *FirmwareFile satisfy it.
type FirmwareImageSource interface {
	io.ReaderAt
	Size() int64
}

// Firmware is a firmware image split into flash chunks. The source is
// borrowed and never closed.
type Firmware struct {
	src    FirmwareImageSource
	Header [HeaderSize]byte
	// Length is the flash data length, excluding the header.
	Length int64
	Chunks int
}

// NewFirmware reads the image header from src.
func NewFirmware(src FirmwareImageSource) (*Firmware, error) {
	if src == nil {
		return nil, ErrNoFirmware
	}
	f := &Firmware{src: src}
	if _, err := src.ReadAt(f.Header[:], 0); err != nil {
		return nil, fmt.Errorf("failed to read firmware header: %w", err)
	}
	f.Length = src.Size() - HeaderSize
	if f.Length <= 0 {
		return nil, ErrEmptyFirmware
	}
	f.Chunks = int((f.Length + ChunkSize - 1) / ChunkSize)
	return f, nil
}

// NewFirmwareBytes wraps an in-memory image.
func NewFirmwareBytes(image []byte) (*Firmware, error) {
	return NewFirmware(bytes.NewReader(image))
}

// ModuleType is the module family the header was built for.
func (f *Firmware) ModuleType() ModuleType {
	switch f.Header {
	case headerBlue:
		return ModuleBlue
	case headerRed:
		return ModuleRed
	default:
		return ModuleUndef
	}
}

// Address returns the flash address of chunk n.
func (f *Firmware) Address(n int) uint32 {
	return uint32(n * ChunkSize)
}

// ChunkData returns the image bytes that chunk n really has, which is
// shorter than ChunkSize for the last chunk.
func (f *Firmware) ChunkData(n int) ([]byte, error) {
	if n < 0 || n >= f.Chunks {
		return nil, fmt.Errorf("chunk %d out of range (0..%d)", n, f.Chunks-1)
	}
	off := int64(n) * ChunkSize
	size := f.Length - off
	if size > ChunkSize {
		size = ChunkSize
	}
	buf := make([]byte, size)
	if _, err := f.src.ReadAt(buf, HeaderSize+off); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read chunk %d: %w", n, err)
	}
	return buf, nil
}

// Chunk returns chunk n padded to ChunkSize with erased flash (0xFF).
func (f *Firmware) Chunk(n int) ([]byte, error) {
	data, err := f.ChunkData(n)
	if err != nil {
		return nil, err
	}
	if len(data) == ChunkSize {
		return data, nil
	}
	out := bytes.Repeat([]byte{0xFF}, ChunkSize)
	copy(out, data)
	return out, nil
}

// FirmwareFile is a firmware image opened from disk.
type FirmwareFile struct {
	*os.File
	size int64
}

// OpenFirmwareFile opens path as a firmware image source. The caller
// closes it.
func OpenFirmwareFile(path string) (*FirmwareFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FirmwareFile{File: f, size: st.Size()}, nil
}

// Size returns the file size at open time.
func (f *FirmwareFile) Size() int64 { return f.size }
