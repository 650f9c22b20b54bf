// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tweprog drives the TWELITE serial bootloader to read module
// information and to erase, write and verify a firmware image.
//
// The Programmer is a state machine fed one byte at a time through
// ProcessInput. Run wraps it in a blocking pump over a SerialTransport.
package tweprog

import "fmt"

// State is a step of a bootloader session.
type State uint8

const (
	StateNone State = iota
	StateConnect
	StateIdentifyFlash
	StateSelectFlash
	StateReadChipID
	StateReadMAC
	StateEraseFlash
	StateWriteFlash
	StateVerifyFlash

	StateFinish      State = 0x81
	StateFinishError State = 0x82
)

// Canned state tables. A table ends at its last entry or at StateNone,
// after which the session finishes successfully.
var (
	GetModuleInfo = []State{
		StateConnect,
		StateIdentifyFlash,
		StateSelectFlash,
		StateReadChipID,
		StateReadMAC,
	}

	EraseAndWrite = []State{
		StateConnect,
		StateIdentifyFlash,
		StateSelectFlash,
		StateEraseFlash,
		StateWriteFlash,
		StateVerifyFlash,
	}
)

// Terminal reports whether the session has ended.
func (s State) Terminal() bool {
	return s == StateFinish || s == StateFinishError
}

// Chunked reports whether the state transfers the firmware image in
// chunks and reports progress.
func (s State) Chunked() bool {
	return s == StateWriteFlash || s == StateVerifyFlash
}

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateConnect:
		return "CONNECT"
	case StateIdentifyFlash:
		return "IDENTIFY_FLASH"
	case StateSelectFlash:
		return "SELECT_FLASH"
	case StateReadChipID:
		return "READ_CHIPID"
	case StateReadMAC:
		return "READ_MAC"
	case StateEraseFlash:
		return "ERASE_FLASH"
	case StateWriteFlash:
		return "WRITE_FLASH"
	case StateVerifyFlash:
		return "VERIFY_FLASH"
	case StateFinish:
		return "FINISH"
	case StateFinishError:
		return "FINISH_ERROR"
	default:
		return fmt.Sprintf("STATE(0x%02X)", uint8(s))
	}
}

// ModuleType is the TWELITE hardware family.
type ModuleType uint8

const (
	ModuleUndef ModuleType = iota
	ModuleBlue
	ModuleRed
)

func (m ModuleType) String() string {
	switch m {
	case ModuleBlue:
		return "TWELITE BLUE"
	case ModuleRed:
		return "TWELITE RED"
	default:
		return "UNDEF"
	}
}

// ModuleInfo is collected by the READ_CHIPID and READ_MAC states.
type ModuleInfo struct {
	MAC          [8]byte
	SerialNumber uint32
	ChipID       uint32
	Type         ModuleType
}

// moduleTypeFromChipID maps the low half of the chip id.
func moduleTypeFromChipID(id uint32) ModuleType {
	switch id & 0xFFFF {
	case 0x8686:
		return ModuleBlue
	case 0xB686:
		return ModuleRed
	default:
		return ModuleUndef
	}
}

// serialFromMAC derives the printed serial number: the low 28 bits of the
// MAC with bit 31 set.
func serialFromMAC(m [8]byte) uint32 {
	return uint32(m[4]&0x0F)<<24 | uint32(m[5])<<16 | uint32(m[6])<<8 | uint32(m[7]) | 0x80000000
}
