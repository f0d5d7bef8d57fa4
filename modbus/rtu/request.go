// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedFunction is returned for a request whose length cannot be determined.
var ErrUnsupportedFunction = errors.New("rtu: unsupported function code")

// requestHeaderSize covers the byte count field of a 0x10 request.
const requestHeaderSize = 7

// CalculateRequestLength returns the expected total length of the Request RTU ADU based on the header.
func CalculateRequestLength(funcCode byte, header []byte) (int, error) {
	switch funcCode {
	case FuncCodeReadHoldingRegister,
		FuncCodeWriteSingleRegister:
		// Fixed 8 bytes: [SlaveID, Func, Addr(2), Val(2), CRC(2)]
		return 8, nil
	case FuncCodeWriteMultipleRegister:
		// Req: [SlaveID, Func, Addr(2), Quant(2), ByteCount(1), Data(N), CRC(2)]
		if len(header) < requestHeaderSize {
			return 0, fmt.Errorf("need 7 bytes to determine length for 0x%02X, got %d", funcCode, len(header))
		}
		return requestHeaderSize + int(header[6]) + 2, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", ErrUnsupportedFunction, funcCode)
	}
}

// ReadRequest reads one request frame from r. The CRC is not checked.
func ReadRequest(r io.Reader) ([]byte, error) {
	buf := make([]byte, MaxSize)
	if _, err := io.ReadFull(r, buf[:requestHeaderSize]); err != nil {
		return nil, err
	}
	length, err := CalculateRequestLength(buf[1], buf[:requestHeaderSize])
	if err != nil {
		return nil, err
	}
	if length > MaxSize {
		return nil, fmt.Errorf("%w: request length %d exceeds %d", ErrUnsupportedFunction, length, MaxSize)
	}
	if _, err := io.ReadFull(r, buf[requestHeaderSize:length]); err != nil {
		return nil, err
	}
	return buf[:length], nil
}
