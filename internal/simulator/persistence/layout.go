// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"unsafe"

	"github.com/ffutop/modbus-dispenser/internal/simulator/model"
)

// totalSize is the on-disk size: one uint16 per holding register.
const totalSize = (model.MaxAddress + 1) * 2

// mapBytesToModel constructs a register table backed by data.
// The uint16 view uses host byte order, so files are not portable across
// architectures of different endianness.
func mapBytesToModel(data []byte) *model.Registers {
	return &model.Registers{
		Holding: unsafe.Slice((*uint16)(unsafe.Pointer(&data[0])), totalSize/2),
	}
}
