// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ffutop/modbus-dispenser/modbus"
	"github.com/ffutop/modbus-dispenser/modbus/rtu"
)

const chunkBacklog = 64

// StreamConn adapts an io.ReadWriteCloser (serial port, TCP socket, pipe) to Conn.
// A background pump reads the stream into chunks so that a pending ReadChunk can
// always be abandoned by its context, whatever the underlying Read does.
type StreamConn struct {
	rwc       io.ReadWriteCloser
	transient func(error) bool

	wmu    sync.Mutex
	chunks chan []byte
	closed chan struct{}
	done   chan struct{}
	err    error // terminal read error, valid once done is closed

	closeOnce sync.Once
	closeErr  error
}

// NewStreamConn starts the read pump on rwc. transient, if not nil, reports read
// errors that should not end the stream (such as a serial read timeout).
func NewStreamConn(rwc io.ReadWriteCloser, transient func(error) bool) *StreamConn {
	c := &StreamConn{
		rwc:       rwc,
		transient: transient,
		chunks:    make(chan []byte, chunkBacklog),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *StreamConn) pump() {
	defer close(c.done)
	for {
		buf := make([]byte, rtu.MaxSize)
		n, err := c.rwc.Read(buf)
		if n > 0 {
			select {
			case c.chunks <- buf[:n]:
			case <-c.closed:
				return
			}
		}
		if err != nil {
			if c.transient != nil && c.transient(err) {
				select {
				case <-c.closed:
					return
				default:
				}
				continue
			}
			c.err = err
			return
		}
	}
}

// Write implements Conn.
func (c *StreamConn) Write(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return modbus.ErrTransportUnavailable
	}
	select {
	case <-c.done:
		return fmt.Errorf("%w: %v", modbus.ErrTransportUnavailable, c.readErr())
	default:
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	slog.Debug("send to modbus slave", "request", hex.EncodeToString(frame))
	if _, err := c.rwc.Write(frame); err != nil {
		return fmt.Errorf("%w: write: %v", modbus.ErrTransportUnavailable, err)
	}
	return nil
}

// ReadChunk implements Conn.
func (c *StreamConn) ReadChunk(ctx context.Context) ([]byte, error) {
	if c.isClosed() {
		return nil, modbus.ErrTransportUnavailable
	}
	select {
	case b := <-c.chunks:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, modbus.ErrTransportUnavailable
	case <-c.done:
		select {
		case b := <-c.chunks:
			return b, nil
		default:
		}
		if c.isClosed() {
			return nil, modbus.ErrTransportUnavailable
		}
		return nil, c.readErr()
	}
}

func (c *StreamConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *StreamConn) readErr() error {
	if c.err == nil || errors.Is(c.err, io.EOF) {
		return io.EOF
	}
	return fmt.Errorf("%w: read: %v", modbus.ErrTransportUnavailable, c.err)
}

// Discard implements Conn.
func (c *StreamConn) Discard() int {
	n := 0
	for {
		select {
		case b := <-c.chunks:
			n += len(b)
		default:
			if n > 0 {
				slog.Debug("discarded stale bytes", "count", n)
			}
			return n
		}
	}
}

// Close closes the underlying stream. Pending and later ReadChunk calls fail with
// modbus.ErrTransportUnavailable.
func (c *StreamConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}
