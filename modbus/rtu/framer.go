// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/modbus-dispenser/modbus"
)

// ReadHoldingRegisters builds a function 0x03 request:
//
//	[addr, 0x03, startHi, startLo, countHi, countLo, crcLo, crcHi]
func ReadHoldingRegisters(slaveID byte, address, quantity uint16) (*ApplicationDataUnit, error) {
	if quantity < 1 || quantity > modbus.MaxReadRegisters {
		return nil, fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", modbus.ErrInvalidData, quantity, 1, modbus.MaxReadRegisters)
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], quantity)
	return &ApplicationDataUnit{
		SlaveID: slaveID,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: FuncCodeReadHoldingRegister, Data: data},
	}, nil
}

// WriteSingleRegister builds a function 0x06 request:
//
//	[addr, 0x06, addrHi, addrLo, valHi, valLo, crcLo, crcHi]
func WriteSingleRegister(slaveID byte, address, value uint16) *ApplicationDataUnit {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], value)
	return &ApplicationDataUnit{
		SlaveID: slaveID,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: FuncCodeWriteSingleRegister, Data: data},
	}
}

// WriteMultipleRegisters builds a function 0x10 request:
//
//	[addr, 0x10, startHi, startLo, countHi, countLo, byteCount, values..., crcLo, crcHi]
func WriteMultipleRegisters(slaveID byte, address uint16, values []uint16) (*ApplicationDataUnit, error) {
	quantity := len(values)
	if quantity < 1 || quantity > modbus.MaxWriteRegisters {
		return nil, fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", modbus.ErrInvalidData, quantity, 1, modbus.MaxWriteRegisters)
	}
	data := make([]byte, 5+2*quantity)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], uint16(quantity))
	data[4] = byte(2 * quantity)
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+2*i:], v)
	}
	return &ApplicationDataUnit{
		SlaveID: slaveID,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleRegister, Data: data},
	}, nil
}

// ExpectedResponseLength returns the total length of the response frame in buf,
// or false while it cannot be determined yet. functionCode is the function of
// the request being answered; it is used to recognise exception replies.
// Replies carrying any other function code never become complete.
func ExpectedResponseLength(functionCode byte, buf []byte) (int, bool) {
	if len(buf) < MinResponseSize {
		return 0, false
	}
	switch buf[1] {
	case FuncCodeReadHoldingRegister:
		// address + function + byte count + data + CRC
		return 5 + int(buf[2]), true
	case FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleRegister:
		return WriteEchoSize, true
	case functionCode | modbus.FuncCodeException:
		return ExceptionSize, true
	default:
		return 0, false
	}
}

// Assembler accumulates response bytes that may arrive in arbitrary chunks
// until a complete frame is present.
type Assembler struct {
	functionCode byte
	buf          []byte
}

// NewAssembler returns an empty Assembler for a request with the given function code.
func NewAssembler(functionCode byte) *Assembler {
	return &Assembler{functionCode: functionCode, buf: make([]byte, 0, MaxSize)}
}

// Reset empties the buffer for a new request.
func (a *Assembler) Reset(functionCode byte) {
	a.functionCode = functionCode
	a.buf = a.buf[:0]
}

// Write appends a chunk. It never fails.
func (a *Assembler) Write(p []byte) (int, error) {
	a.buf = append(a.buf, p...)
	return len(p), nil
}

// Len returns the number of buffered bytes.
func (a *Assembler) Len() int {
	return len(a.buf)
}

// Complete reports whether a whole frame has been buffered.
func (a *Assembler) Complete() bool {
	n, ok := ExpectedResponseLength(a.functionCode, a.buf)
	return ok && len(a.buf) >= n
}

// Frame returns the complete frame, or nil if it is not complete yet.
// Bytes beyond the expected length are not part of the frame.
func (a *Assembler) Frame() []byte {
	n, ok := ExpectedResponseLength(a.functionCode, a.buf)
	if !ok || len(a.buf) < n {
		return nil
	}
	frame := make([]byte, n)
	copy(frame, a.buf)
	return frame
}
