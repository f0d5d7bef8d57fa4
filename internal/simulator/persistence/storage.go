// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"log/slog"

	"github.com/ffutop/modbus-dispenser/internal/config"
	"github.com/ffutop/modbus-dispenser/internal/simulator/model"
)

// Storage defines the interface for persisting the simulator registers.
type Storage interface {
	// Load returns the register table, creating an empty one if no data exists.
	Load() (*model.Registers, error)

	// Save saves the current table to storage.
	Save(m *model.Registers) error

	// OnWrite is a hook called whenever registers are modified.
	OnWrite(address, quantity uint16)

	// Close releases the backing resources.
	Close() error
}

// New selects a Storage from cfg. Unknown types fall back to memory.
func New(cfg config.PersistenceConfig) Storage {
	switch cfg.Type {
	case "file":
		slog.Info("Initializing simulator with file persistence", "path", cfg.Path)
		return NewFileStorage(cfg.Path)
	case "mmap":
		slog.Info("Initializing simulator with MMAP persistence", "path", cfg.Path)
		return NewMmapStorage(cfg.Path)
	default:
		slog.Info("Initializing simulator with memory storage (non-persistent)")
		return NewMemoryStorage()
	}
}

// Open loads the registers from the storage selected by cfg. If loading fails
// it falls back to memory storage.
func Open(cfg config.PersistenceConfig) (Storage, *model.Registers) {
	storage := New(cfg)
	m, err := storage.Load()
	if err != nil {
		slog.Error("Failed to load persistence data, falling back to memory storage", "err", err)
		storage = NewMemoryStorage()
		m, _ = storage.Load()
	}
	return storage, m
}
