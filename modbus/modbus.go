// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

// Function codes used by the dispenser master.
const (
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleRegisters = 0x10

	// FuncCodeException is OR-ed into the request function code of an exception reply.
	FuncCodeException = 0x80
)

// Exception codes.
const (
	ExceptionCodeIllegalFunction     = 1
	ExceptionCodeIllegalDataAddress  = 2
	ExceptionCodeIllegalDataValue    = 3
	ExceptionCodeServerDeviceFailure = 4
	ExceptionCodeServerDeviceBusy    = 6
)

// Protocol quantity limits for register functions.
const (
	MaxReadRegisters  = 125
	MaxWriteRegisters = 123
)

var (
	// ErrBusy is returned when another request is still outstanding on the link.
	ErrBusy = errors.New("modbus: another request is outstanding")
	// ErrTimeout is returned when no complete response arrived before the deadline.
	ErrTimeout = errors.New("modbus: request timed out")
	// ErrShortResponse is returned when a response carries fewer register bytes than requested.
	ErrShortResponse = errors.New("modbus: response shorter than requested register count")
	// ErrTransportUnavailable is returned when there is no open connection to write to or read from.
	ErrTransportUnavailable = errors.New("modbus: transport unavailable")
	// ErrFrameCorrupt is returned when the CRC of a complete response does not match.
	ErrFrameCorrupt = errors.New("modbus: frame crc mismatch")
	// ErrInvalidResponse is returned for a well-formed frame from the wrong slave or function.
	ErrInvalidResponse = errors.New("modbus: unexpected response")
	// ErrInvalidData is returned when a request cannot be encoded within protocol limits.
	ErrInvalidData = errors.New("modbus: invalid data")
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// ExceptionError is an exception reply sent by the slave.
type ExceptionError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ExceptionError) Error() string {
	var name string
	switch e.ExceptionCode {
	case ExceptionCodeIllegalFunction:
		name = "illegal function"
	case ExceptionCodeIllegalDataAddress:
		name = "illegal data address"
	case ExceptionCodeIllegalDataValue:
		name = "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		name = "server device failure"
	case ExceptionCodeServerDeviceBusy:
		name = "server device busy"
	default:
		name = "unknown"
	}
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, name, e.FunctionCode&^FuncCodeException)
}
