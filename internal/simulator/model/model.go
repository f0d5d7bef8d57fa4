// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	MaxAddress = 65535
)

// Registers is the holding register table of the simulated instrument.
// It covers the full 16-bit address space.
type Registers struct {
	mu sync.RWMutex

	// Holding is the backing table. Persistence layers may point it at
	// mapped memory.
	Holding []uint16
}

// NewRegisters creates a zeroed register table.
func NewRegisters() *Registers {
	return &Registers{Holding: make([]uint16, MaxAddress+1)}
}

// Read returns quantity registers starting at address as big-endian bytes.
func (m *Registers) Read(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	result := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:], m.Holding[int(address)+i])
	}
	return result, nil
}

// Get returns the registers in [address, address+quantity) as values.
func (m *Registers) Get(address, quantity uint16) ([]uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	out := make([]uint16, quantity)
	copy(out, m.Holding[address:])
	return out, nil
}

// Set stores values starting at address.
func (m *Registers) Set(address uint16, values []uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateRange(address, uint16(len(values))); err != nil {
		return err
	}
	copy(m.Holding[address:], values)
	return nil
}

// WriteBytes stores quantity registers decoded from big-endian data.
func (m *Registers) WriteBytes(address, quantity uint16, data []byte) error {
	if len(data) < int(quantity)*2 {
		return fmt.Errorf("insufficient data length")
	}
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return m.Set(address, values)
}

// Update runs fn with the table locked for writing.
func (m *Registers) Update(fn func(holding []uint16)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.Holding)
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	// address is 0-based.
	if int(address)+int(quantity) > MaxAddress+1 {
		return fmt.Errorf("address range out of bounds")
	}
	return nil
}
