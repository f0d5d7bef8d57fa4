// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package dispenser

import "github.com/ffutop/modbus-dispenser/internal/register"

// State is the connection state reported to observers.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Observer is the presentation side of a Session.
type Observer interface {
	OnDecodedValue(name string, v register.Value)
	OnLogMessage(text string)
	OnConnectionStateChanged(s State)
}

// Observers fans every notification out to each member.
type Observers []Observer

func (o Observers) OnDecodedValue(name string, v register.Value) {
	for _, ob := range o {
		ob.OnDecodedValue(name, v)
	}
}

func (o Observers) OnLogMessage(text string) {
	for _, ob := range o {
		ob.OnLogMessage(text)
	}
}

func (o Observers) OnConnectionStateChanged(s State) {
	for _, ob := range o {
		ob.OnConnectionStateChanged(s)
	}
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	DecodedValue           func(name string, v register.Value)
	LogMessage             func(text string)
	ConnectionStateChanged func(s State)
}

func (f ObserverFuncs) OnDecodedValue(name string, v register.Value) {
	if f.DecodedValue != nil {
		f.DecodedValue(name, v)
	}
}

func (f ObserverFuncs) OnLogMessage(text string) {
	if f.LogMessage != nil {
		f.LogMessage(text)
	}
}

func (f ObserverFuncs) OnConnectionStateChanged(s State) {
	if f.ConnectionStateChanged != nil {
		f.ConnectionStateChanged(s)
	}
}
