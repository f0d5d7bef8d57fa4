// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package local

import (
	"context"
	"log/slog"
	"net"

	"github.com/ffutop/modbus-dispenser/internal/config"
	"github.com/ffutop/modbus-dispenser/internal/simulator"
	"github.com/ffutop/modbus-dispenser/transport"
)

// Dialer connects to an in-process simulated instrument. The RTU frames
// travel over a synchronous pipe, so the full codec path is exercised.
type Dialer struct {
	sim   *simulator.Simulator
	owned bool
}

// NewDialer creates a Dialer backed by a simulator with the persistence from cfg.
func NewDialer(address byte, cfg config.LocalConfig) *Dialer {
	return &Dialer{sim: simulator.Open(address, cfg.Persistence), owned: true}
}

// NewSimulatorDialer creates a Dialer backed by an existing simulator.
func NewSimulatorDialer(sim *simulator.Simulator) *Dialer {
	return &Dialer{sim: sim}
}

// Simulator returns the simulated instrument.
func (d *Dialer) Simulator() *simulator.Simulator {
	return d.sim
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, server := net.Pipe()

	go func() {
		defer server.Close()
		if err := transport.Serve(context.WithoutCancel(ctx), server, d.sim.Handle, nil); err != nil {
			slog.Debug("Local simulator session ended", "err", err)
		}
	}()
	return transport.NewStreamConn(client, nil), nil
}

// Close releases the simulator storage if the Dialer created it.
func (d *Dialer) Close() error {
	if !d.owned {
		return nil
	}
	return d.sim.Close()
}
