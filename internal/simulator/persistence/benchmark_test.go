// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"path/filepath"
	"testing"

	"github.com/ffutop/modbus-dispenser/internal/simulator/model"
)

func BenchmarkFileStorage_OnWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_file.bin")
	fs := NewFileStorage(path)
	m, err := fs.Load()
	if err != nil {
		b.Fatalf("Failed to load file storage: %v", err)
	}
	defer fs.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Holding[0x010F] = uint16(i)
		fs.OnWrite(0x010F, 1)
	}
}

// BenchmarkMmapStorage_OnWrite measures msync of a single dirty page.
func BenchmarkMmapStorage_OnWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_mmap.bin")
	ms := NewMmapStorage(path)
	m, err := ms.Load()
	if err != nil {
		b.Fatalf("Failed to load mmap storage: %v", err)
	}
	defer ms.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Holding[0x010F] = uint16(i)
		ms.OnWrite(0x010F, 1)
	}
}

func BenchmarkRegisters_Set(b *testing.B) {
	m := model.NewRegisters()
	values := []uint16{0x3030, 0x3030, 0x3030, 0x3132, 0x2E35, 0x3030}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Set(0x012E, values)
	}
}
