// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ffutop/modbus-dispenser/transport"
)

const (
	tcpTimeout = 10 * time.Second
)

// Dialer connects to a serial device server that carries raw RTU frames over TCP.
type Dialer struct {
	Address string
	Timeout time.Duration
}

// NewDialer allocates a Dialer for address.
func NewDialer(address string) *Dialer {
	return &Dialer{
		Address: address,
		Timeout: tcpTimeout,
	}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("modbus: failed to connect to %s: %w", d.Address, err)
	}
	slog.Info("RTU over TCP connection established", "addr", conn.RemoteAddr())
	return transport.NewStreamConn(conn, nil), nil
}
