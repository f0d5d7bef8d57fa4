// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	MinSize = 4
	MaxSize = 256

	// MinResponseSize is address + function + one byte + CRC.
	MinResponseSize = 5
	ExceptionSize   = 5
	WriteEchoSize   = 8
	ReadRequestSize = 8
)

// Function Codes
const (
	FuncCodeReadHoldingRegister   = 0x03
	FuncCodeWriteSingleRegister   = 0x06
	FuncCodeWriteMultipleRegister = 0x10
)
