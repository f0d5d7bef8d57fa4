// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package dispenser connects the request engine, the poller and the
// presentation observers into a device session.
package dispenser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-dispenser/internal/engine"
	"github.com/ffutop/modbus-dispenser/internal/poller"
	"github.com/ffutop/modbus-dispenser/internal/register"
	"github.com/ffutop/modbus-dispenser/transport"
)

// ErrConnected is returned by Connect on a session that is already connected.
var ErrConnected = errors.New("dispenser: already connected")

// Options configures a Session.
type Options struct {
	Address      byte
	Timeout      time.Duration
	PollInterval time.Duration
	// DisablePolling leaves the poller off; only manual commands are sent.
	DisablePolling bool
}

// Session is the lifecycle of one connection to the instrument.
type Session struct {
	dialer   transport.Dialer
	engine   *engine.Engine
	poller   *poller.Poller
	observer Observer
	polling  bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// commands hold inflight shared; Disconnect takes it before closing.
	inflight sync.RWMutex
}

// NewSession creates a disconnected Session. observer may be nil.
func NewSession(dialer transport.Dialer, opts Options, observer Observer) *Session {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	e := engine.New(opts.Address, opts.Timeout)
	p := poller.New(e, opts.PollInterval, register.Catalog())
	s := &Session{
		dialer:   dialer,
		engine:   e,
		poller:   p,
		observer: observer,
		polling:  !opts.DisablePolling,
	}
	p.OnValue = func(v register.Value) {
		s.observer.OnDecodedValue(v.Name, v)
	}
	p.OnError = func(spec register.Spec, err error) {
		s.logf("Read %s failed: %v", spec.Name, err)
	}
	return s
}

// Connected reports whether the session holds an open connection.
func (s *Session) Connected() bool {
	return s.engine.Connected()
}

// Connect opens the transport and starts polling.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine.Connected() {
		return ErrConnected
	}

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		s.logf("Connect failed: %v", err)
		return err
	}
	s.engine.Attach(conn)
	s.observer.OnConnectionStateChanged(Connected)
	s.logf("Connected")

	if s.polling {
		pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		s.cancel = cancel
		s.done = done
		go func() {
			defer close(done)
			s.poller.Run(pollCtx)
		}()
	}
	return nil
}

// Disconnect stops polling, cancels any outstanding wait and closes the
// connection.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	conn := s.engine.Detach()
	if s.done != nil {
		<-s.done
	}
	s.inflight.Lock()
	s.inflight.Unlock()
	s.cancel, s.done = nil, nil
	if conn == nil {
		return nil
	}

	err := conn.Close()
	s.observer.OnConnectionStateChanged(Disconnected)
	s.logf("Disconnected")
	return err
}

// Run connects, waits for ctx to be done and disconnects.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Disconnect()
}

// Start writes the start command.
func (s *Session) Start(ctx context.Context) error {
	return s.command("Start", func() (bool, error) {
		return s.engine.WriteSingleRegister(ctx, register.AddrDeviceStatus, register.CommandStart)
	})
}

// Stop writes the stop command.
func (s *Session) Stop(ctx context.Context) error {
	return s.command("Stop", func() (bool, error) {
		return s.engine.WriteSingleRegister(ctx, register.AddrDeviceStatus, register.CommandStop)
	})
}

// SetVolumeDose writes the volume setpoint.
func (s *Session) SetVolumeDose(ctx context.Context, v float64) error {
	return s.setpoint(ctx, "Volume dose", register.AddrVolumeSetpoint, v)
}

// SetMassDose writes the mass setpoint.
func (s *Session) SetMassDose(ctx context.Context, v float64) error {
	return s.setpoint(ctx, "Mass dose", register.AddrMassSetpoint, v)
}

func (s *Session) setpoint(ctx context.Context, what string, address uint16, v float64) error {
	regs, err := register.EncodeSetpoint(v)
	if err != nil {
		s.logf("%s %v rejected: %v", what, v, err)
		return err
	}
	return s.command(fmt.Sprintf("%s %.3f", what, v), func() (bool, error) {
		return s.engine.WriteMultipleRegisters(ctx, address, regs)
	})
}

func (s *Session) command(what string, write func() (bool, error)) error {
	s.inflight.RLock()
	ok, err := write()
	s.inflight.RUnlock()
	if err == nil && !ok {
		err = fmt.Errorf("no acknowledgement")
	}
	if err != nil {
		s.logf("%s command failed: %v", what, err)
		return err
	}
	s.logf("%s command sent", what)
	return nil
}

func (s *Session) logf(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	slog.Debug("Session event", "text", text)
	s.observer.OnLogMessage(text)
}
