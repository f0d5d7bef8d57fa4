// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"

	"github.com/ffutop/modbus-dispenser/modbus"
)

// Conn is an open byte-stream connection to the device.
//
// Write and ReadChunk may be called from different goroutines, but the
// request engine guarantees at most one request/response exchange at a time.
type Conn interface {
	// Write writes a whole frame.
	Write(ctx context.Context, frame []byte) error
	// ReadChunk blocks until some bytes arrive, ctx is done or the stream ends.
	// Chunks are not aligned to frame boundaries. io.EOF marks the end of stream.
	ReadChunk(ctx context.Context) ([]byte, error)
	// Discard drops bytes that arrived but have not been read, returning their count.
	Discard() int
	Close() error
}

// Dialer opens connections to the device (a Modbus slave).
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// ErrNoResponse is returned by a RequestHandler for requests that must not be
// answered, such as frames addressed to another slave.
var ErrNoResponse = errors.New("transport: no response")

// RequestHandler answers a request PDU addressed to slaveID.
// It is used by the slave-side servers that expose the device simulator.
type RequestHandler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// Server exposes a RequestHandler as a Modbus RTU slave.
type Server interface {
	// Start starts the server and blocks. It should be called in a goroutine.
	Start(ctx context.Context, handler RequestHandler) error
	Close() error
}
