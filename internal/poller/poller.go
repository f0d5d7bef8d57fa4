// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-dispenser/internal/register"
)

// DefaultInterval is the delay between two reads.
const DefaultInterval = 300 * time.Millisecond

// State of the polling cycle.
type State int

const (
	Idle State = iota
	Polling
)

func (s State) String() string {
	if s == Polling {
		return "polling"
	}
	return "idle"
}

// Reader issues a read holding registers request and returns the response frame.
type Reader interface {
	ReadRegisters(ctx context.Context, address, count uint16) ([]byte, error)
}

// Poller reads the register catalog one entry per tick, in catalog order,
// starting over once the catalog is exhausted.
type Poller struct {
	reader   Reader
	catalog  []register.Spec
	interval time.Duration

	// OnValue receives every decoded value.
	OnValue func(register.Value)
	// OnError receives failed reads. Failures never stop the cycle.
	OnError func(register.Spec, error)

	mu    sync.Mutex
	state State
	queue []register.Spec
}

// New creates a Poller over catalog. A non-positive interval selects DefaultInterval.
func New(reader Reader, interval time.Duration, catalog []register.Spec) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		reader:   reader,
		catalog:  catalog,
		interval: interval,
	}
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// next pops the head of the queue, refilling it first when drained.
// It reports false while a read is outstanding.
func (p *Poller) next() (register.Spec, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Idle || len(p.catalog) == 0 {
		return register.Spec{}, false
	}
	if len(p.queue) == 0 {
		p.queue = append(p.queue[:0], p.catalog...)
	}
	spec := p.queue[0]
	p.queue = p.queue[1:]
	p.state = Polling
	return spec, true
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// Step performs one polling cycle.
func (p *Poller) Step(ctx context.Context) {
	spec, ok := p.next()
	if !ok {
		return
	}
	defer p.setState(Idle)

	frame, err := p.reader.ReadRegisters(ctx, spec.Address, spec.Count)
	if err == nil {
		var v register.Value
		if v, err = register.Decode(spec, frame); err == nil {
			if p.OnValue != nil {
				p.OnValue(v)
			}
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	slog.Debug("Register read failed", "register", spec.Name, "err", err)
	if p.OnError != nil {
		p.OnError(spec, err)
	}
}

// Run polls until ctx is done. The next tick is armed only after the
// previous cycle completed.
func (p *Poller) Run(ctx context.Context) {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.Step(ctx)
			timer.Reset(p.interval)
		}
	}
}
