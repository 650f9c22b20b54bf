// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package checksum provides the checksum primitives shared by the TWELITE
// serial framings and the PAL packet decoder.
package checksum

// CRC-8 CCITT configuration
const (
	crc8Polynomial = 0x07
	crc8Initial    = 0x00
)

// CRC8 computes the CRC-8 (CCITT-8 variant) of data
func CRC8(data []byte) uint8 {
	crc := uint8(crc8Initial)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ crc8Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC8U32 computes the CRC-8 of v laid out MSB first
func CRC8U32(v uint32) uint8 {
	return CRC8([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// XOR returns the bytewise exclusive-or of data
func XOR(data []byte) uint8 {
	var x uint8
	for _, b := range data {
		x ^= b
	}
	return x
}

// Sum returns the 8-bit additive sum of data
func Sum(data []byte) uint8 {
	var s uint8
	for _, b := range data {
		s += b
	}
	return s
}

// LRC returns the longitudinal redundancy check of data: the two's
// complement of its additive sum, so Sum(data)+LRC(data) wraps to zero.
func LRC(data []byte) uint8 {
	return -Sum(data)
}
