// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-dispenser/internal/config"
	"github.com/ffutop/modbus-dispenser/transport"
	"github.com/grid-x/serial"
)

// Dialer opens the serial port of the device (Modbus RTU master side).
type Dialer struct {
	// Serial port configuration.
	serial.Config

	// open is replaced in tests.
	open func(*serial.Config) (io.ReadWriteCloser, error)
}

// NewDialer allocates a Dialer for the configured serial port.
func NewDialer(cfg config.SerialConfig) *Dialer {
	return &Dialer{Config: serialConfig(cfg)}
}

func serialConfig(cfg config.SerialConfig) serial.Config {
	sc := serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	}
	if cfg.RS485 {
		sc.RS485.Enabled = true
		sc.RS485.DelayRtsBeforeSend = cfg.DelayRtsBeforeSend
		sc.RS485.DelayRtsAfterSend = cfg.DelayRtsAfterSend
		sc.RS485.RtsHighDuringSend = cfg.RtsHighDuringSend
		sc.RS485.RtsHighAfterSend = cfg.RtsHighAfterSend
		sc.RS485.RxDuringTx = cfg.RxDuringTx
	}
	return sc
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	open := d.open
	if open == nil {
		open = func(c *serial.Config) (io.ReadWriteCloser, error) { return serial.Open(c) }
	}
	port, err := open(&d.Config)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", d.Config.Address, err)
	}
	slog.Info("Serial port opened", "device", d.Config.Address, "baudRate", d.BaudRate, "dataBits", d.DataBits, "parity", d.Parity, "stopBits", d.StopBits)
	return transport.NewStreamConn(newPacedPort(port, d.BaudRate), isTimeout), nil
}

// isTimeout reports a read that returned because the port timeout elapsed.
func isTimeout(err error) bool {
	return errors.Is(err, serial.ErrTimeout)
}

// pacedPort keeps the RTU inter-frame silence of 3.5 character times
// between the last activity on the line and the next transmitted frame.
type pacedPort struct {
	io.ReadWriteCloser

	t1  time.Duration
	t35 time.Duration

	mu           sync.Mutex
	lastActivity time.Time
}

func newPacedPort(port io.ReadWriteCloser, baudRate int) *pacedPort {
	t1, t35 := frameDelays(baudRate)
	return &pacedPort{ReadWriteCloser: port, t1: t1, t35: t35}
}

// frameDelays returns the character time and the inter-frame delay.
// Above 19200 baud the fixed values recommended by the Modbus serial line specification apply.
func frameDelays(baudRate int) (t1, t35 time.Duration) {
	if baudRate <= 0 || baudRate > 19200 {
		return 750 * time.Microsecond, 1750 * time.Microsecond
	}
	// 11 bits per character: start, 8 data, parity or stop, stop
	t1 = 11 * time.Second / time.Duration(baudRate)
	return t1, t1 * 35 / 10
}

func (p *pacedPort) Read(b []byte) (int, error) {
	n, err := p.ReadWriteCloser.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.lastActivity = time.Now()
		p.mu.Unlock()
	}
	return n, err
}

func (p *pacedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	wait := time.Until(p.lastActivity.Add(p.t35))
	p.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}

	ts := time.Now()
	n, err := p.ReadWriteCloser.Write(b)

	// Write is usually buffered; estimate when the line becomes idle.
	p.mu.Lock()
	p.lastActivity = ts.Add(time.Duration(n) * p.t1)
	p.mu.Unlock()
	return n, err
}
