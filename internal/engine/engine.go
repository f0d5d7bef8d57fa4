// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package engine runs Modbus RTU request/response exchanges with a single
// slave over a half-duplex link.
package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-dispenser/modbus"
	"github.com/ffutop/modbus-dispenser/modbus/rtu"
	"github.com/ffutop/modbus-dispenser/transport"
)

// DefaultTimeout bounds the wait for a complete response.
const DefaultTimeout = 2000 * time.Millisecond

// pending is the outstanding request. At most one exists at a time.
type pending struct {
	functionCode byte
	address      uint16
	count        uint16
	deadline     time.Time
	cancel       context.CancelCauseFunc
}

// Engine issues requests to one slave. Calls made while another request is
// outstanding fail with modbus.ErrBusy instead of queuing.
type Engine struct {
	SlaveID byte
	Timeout time.Duration

	mu      sync.Mutex
	conn    transport.Conn
	pending *pending
}

// New creates an Engine for slaveID. A non-positive timeout selects DefaultTimeout.
func New(slaveID byte, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{SlaveID: slaveID, Timeout: timeout}
}

// Attach sets the connection used by later requests.
func (e *Engine) Attach(conn transport.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conn = conn
}

// Detach cancels any outstanding wait and returns the connection so that the
// caller can close it. It returns nil when nothing was attached.
func (e *Engine) Detach() transport.Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		e.pending.cancel(fmt.Errorf("%w: disconnected", modbus.ErrTransportUnavailable))
	}
	conn := e.conn
	e.conn = nil
	return conn
}

// Connected reports whether a connection is attached.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// Busy reports whether a request is outstanding.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

// ReadRegisters reads count holding registers at address and returns the
// whole response frame, CRC included.
func (e *Engine) ReadRegisters(ctx context.Context, address, count uint16) ([]byte, error) {
	req, err := rtu.ReadHoldingRegisters(e.SlaveID, address, count)
	if err != nil {
		return nil, err
	}
	resp, frame, err := e.exchange(ctx, req, address, count)
	if err != nil {
		return nil, err
	}
	if len(resp.Pdu.Data) < 1 || int(resp.Pdu.Data[0]) < 2*int(count) || len(resp.Pdu.Data)-1 < 2*int(count) {
		return nil, fmt.Errorf("%w: %d registers at %#04x, response % X", modbus.ErrShortResponse, count, address, frame)
	}
	return frame, nil
}

// WriteSingleRegister writes value to the register at address. Any well-formed
// reply from the slave counts as success; echoed fields are not compared.
func (e *Engine) WriteSingleRegister(ctx context.Context, address, value uint16) (bool, error) {
	req := rtu.WriteSingleRegister(e.SlaveID, address, value)
	if _, _, err := e.exchange(ctx, req, address, 1); err != nil {
		return false, err
	}
	return true, nil
}

// WriteMultipleRegisters writes values starting at address.
func (e *Engine) WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) (bool, error) {
	req, err := rtu.WriteMultipleRegisters(e.SlaveID, address, values)
	if err != nil {
		return false, err
	}
	if _, _, err := e.exchange(ctx, req, address, uint16(len(values))); err != nil {
		return false, err
	}
	return true, nil
}

// acquire takes the in-flight token. The returned context carries the
// response deadline; release must be called on every path.
func (e *Engine) acquire(ctx context.Context, functionCode byte, address, count uint16) (context.Context, transport.Conn, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending != nil {
		p := e.pending
		return nil, nil, nil, fmt.Errorf("%w: function %#02x at %#04x until %s", modbus.ErrBusy, p.functionCode, p.address, p.deadline.Format(time.RFC3339Nano))
	}
	if e.conn == nil {
		return nil, nil, nil, fmt.Errorf("%w: not connected", modbus.ErrTransportUnavailable)
	}

	deadline := time.Now().Add(e.Timeout)
	ctx, cancel := context.WithCancelCause(ctx)
	ctx, cancelDeadline := context.WithDeadlineCause(ctx, deadline, modbus.ErrTimeout)
	e.pending = &pending{
		functionCode: functionCode,
		address:      address,
		count:        count,
		deadline:     deadline,
		cancel:       cancel,
	}

	release := func() {
		cancelDeadline()
		cancel(nil)
		e.mu.Lock()
		e.pending = nil
		e.mu.Unlock()
	}
	return ctx, e.conn, release, nil
}

func (e *Engine) exchange(ctx context.Context, req *rtu.ApplicationDataUnit, address, count uint16) (*rtu.ApplicationDataUnit, []byte, error) {
	raw, err := req.Encode()
	if err != nil {
		return nil, nil, err
	}

	ctx, conn, release, err := e.acquire(ctx, req.Pdu.FunctionCode, address, count)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	conn.Discard()
	if err := conn.Write(ctx, raw); err != nil {
		return nil, nil, causeOf(ctx, err)
	}

	a := rtu.NewAssembler(req.Pdu.FunctionCode)
	for !a.Complete() {
		chunk, err := conn.ReadChunk(ctx)
		if err != nil {
			err = causeOf(ctx, err)
			if a.Len() > 0 {
				slog.Debug("incomplete response from modbus slave", "buffered", a.Len(), "err", err)
			}
			return nil, nil, err
		}
		a.Write(chunk)
	}

	frame := a.Frame()
	slog.Debug("receive from modbus slave", "response", hex.EncodeToString(frame))

	resp, err := rtu.Decode(frame)
	if err != nil {
		return nil, frame, err
	}
	if err := req.Verify(resp); err != nil {
		return nil, frame, err
	}
	return resp, frame, nil
}

// causeOf maps a transport error to the reason the exchange ended.
func causeOf(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: connection closed by peer", modbus.ErrTransportUnavailable)
	}
	return err
}
