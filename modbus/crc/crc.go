// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

// CRC is a CRC-16/Modbus accumulator.
//
// The zero value is not ready for use; call Reset first.
type CRC struct {
	value uint16
}

func (crc *CRC) Reset() *CRC {
	crc.value = 0xFFFF
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	for _, b := range bs {
		crc.value ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc.value&0x0001 != 0 {
				crc.value = (crc.value >> 1) ^ 0xA001
			} else {
				crc.value >>= 1
			}
		}
	}
	return crc
}

func (crc *CRC) Value() uint16 {
	return crc.value
}

// Checksum returns the CRC-16/Modbus of data.
func Checksum(data []byte) uint16 {
	var c CRC
	return c.Reset().PushBytes(data).Value()
}

// Append appends the CRC of frame to it, low byte first.
func Append(frame []byte) []byte {
	sum := Checksum(frame)
	return append(frame, byte(sum), byte(sum>>8))
}

// Valid reports whether the trailing two bytes of frame are its CRC.
func Valid(frame []byte) bool {
	n := len(frame)
	if n < 2 {
		return false
	}
	return uint16(frame[n-1])<<8|uint16(frame[n-2]) == Checksum(frame[:n-2])
}
