// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package simulator emulates the dispensing instrument as a Modbus slave.
package simulator

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/ffutop/modbus-dispenser/internal/config"
	"github.com/ffutop/modbus-dispenser/internal/register"
	"github.com/ffutop/modbus-dispenser/internal/simulator/model"
	"github.com/ffutop/modbus-dispenser/internal/simulator/persistence"
	"github.com/ffutop/modbus-dispenser/modbus"
	"github.com/ffutop/modbus-dispenser/transport"
)

// DeviceID is reported in register 0x0000 by a freshly seeded simulator.
const DeviceID = 0x0D15

const defaultDensity = 0.998

// Simulator implements the instrument protocol logic on top of a register table.
type Simulator struct {
	address byte
	regs    *model.Registers
	storage persistence.Storage

	mu sync.Mutex
}

// New creates a Simulator answering as slave address over regs. Writes are
// reported to storage.
func New(address byte, regs *model.Registers, storage persistence.Storage) *Simulator {
	if storage == nil {
		storage = persistence.NewMemoryStorage()
	}
	s := &Simulator{address: address, regs: regs, storage: storage}
	s.seed()
	return s
}

// Open creates a Simulator with the persistence selected by cfg.
func Open(address byte, cfg config.PersistenceConfig) *Simulator {
	storage, regs := persistence.Open(cfg)
	return New(address, regs, storage)
}

// Registers returns the backing table.
func (s *Simulator) Registers() *model.Registers {
	return s.regs
}

// Close saves and releases the storage.
func (s *Simulator) Close() error {
	if err := s.storage.Save(s.regs); err != nil {
		slog.Error("Failed to save simulator registers", "err", err)
	}
	return s.storage.Close()
}

// seed fills a blank table with plausible readings.
func (s *Simulator) seed() {
	ids, _ := s.regs.Get(register.AddrDeviceID, 1)
	if ids[0] != 0 {
		return
	}
	s.regs.Update(func(h []uint16) {
		h[register.AddrDeviceID] = DeviceID
		h[register.AddrStopReason] = 0
		h[register.AddrDeviceStatus] = uint16(register.StatusWaiting)
		putField(h, register.AddrTotalVolume, 0, 12)
		putField(h, register.AddrTotalMass, 0, 12)
		putField(h, register.AddrCurrentVolumeDose, 0, 8)
		putField(h, register.AddrCurrentMassDose, 0, 8)
		putField(h, register.AddrVolumeFlow, 0, 6)
		putField(h, register.AddrMassFlow, 0, 6)
		copy(h[register.AddrDensity:], register.EncodeFloat32(defaultDensity))
	})
	s.storage.OnWrite(0, model.MaxAddress)
}

// Handle implements transport.RequestHandler.
func (s *Simulator) Handle(ctx context.Context, slaveID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if slaveID != s.address {
		return modbus.ProtocolDataUnit{}, transport.ErrNoResponse
	}
	return s.Process(req), nil
}

// Process executes the function code against the register table.
func (s *Simulator) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		return s.handleReadHoldingRegisters(req)
	case modbus.FuncCodeWriteSingleRegister:
		return s.handleWriteSingleRegister(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return s.handleWriteMultipleRegisters(req)
	default:
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

func (s *Simulator) handleReadHoldingRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > modbus.MaxReadRegisters {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	data, err := s.regs.Read(address, quantity)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func (s *Simulator) handleWriteSingleRegister(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])

	if err := s.write(address, req.Data[2:4]); err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	return req // Echo request
}

func (s *Simulator) handleWriteMultipleRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > modbus.MaxWriteRegisters {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(byteCount) != len(req.Data)-5 || int(byteCount) != int(quantity)*2 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if err := s.write(address, req.Data[5:]); err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

// write stores the big-endian register block data and applies the command
// register semantics when the status register is part of the block.
func (s *Simulator) write(address uint16, data []byte) error {
	quantity := uint16(len(data) / 2)
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.regs.Get(register.AddrDeviceStatus, 1)
	if err != nil {
		return err
	}
	if err := s.regs.WriteBytes(address, quantity, data); err != nil {
		return err
	}

	end := int(address) + int(quantity)
	if int(register.AddrDeviceStatus) >= int(address) && int(register.AddrDeviceStatus) < end {
		command := binary.BigEndian.Uint16(data[2*(register.AddrDeviceStatus-address):])
		s.command(command, register.DeviceStatus(before[0]))
	}
	s.storage.OnWrite(address, quantity)
	return nil
}

func (s *Simulator) command(command uint16, prev register.DeviceStatus) {
	s.regs.Update(func(h []uint16) {
		switch command {
		case register.CommandStart:
			if prev != register.StatusPaused && prev != register.StatusReadyAfterPause {
				putField(h, register.AddrCurrentVolumeDose, 0, 8)
				putField(h, register.AddrCurrentMassDose, 0, 8)
			}
			h[register.AddrStopReason] = 0
			h[register.AddrDeviceStatus] = uint16(register.StatusDispensing)
			slog.Info("Simulator dispensing started")
		case register.CommandStop:
			h[register.AddrStopReason] = 1
			h[register.AddrDeviceStatus] = uint16(register.StatusPaused)
			putField(h, register.AddrVolumeFlow, 0, 6)
			putField(h, register.AddrMassFlow, 0, 6)
			slog.Info("Simulator dispensing paused")
		default:
			h[register.AddrDeviceStatus] = uint16(prev)
			slog.Warn("Simulator ignored unknown command", "value", command)
		}
	})
}

// Tick advances an ongoing dose by volume. The dose ends with status Full
// once the volume setpoint is reached.
func (s *Simulator) Tick(volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.regs.Update(func(h []uint16) {
		if register.DeviceStatus(h[register.AddrDeviceStatus]) != register.StatusDispensing {
			return
		}
		density := float64(math.Float32frombits(uint32(h[register.AddrDensity])<<16 | uint32(h[register.AddrDensity+1])))
		current := getField(h, register.AddrCurrentVolumeDose, 8)
		setpoint := getField(h, register.AddrVolumeSetpoint, register.SetpointWidth)

		step := volume
		full := false
		if setpoint > 0 && current+step >= setpoint {
			step = math.Max(setpoint-current, 0)
			full = true
		}
		current += step

		putField(h, register.AddrCurrentVolumeDose, current, 8)
		putField(h, register.AddrCurrentMassDose, current*density, 8)
		putField(h, register.AddrTotalVolume, getField(h, register.AddrTotalVolume, 12)+step, 12)
		putField(h, register.AddrTotalMass, getField(h, register.AddrTotalMass, 12)+step*density, 12)
		if full {
			h[register.AddrDeviceStatus] = uint16(register.StatusFull)
			putField(h, register.AddrVolumeFlow, 0, 6)
			putField(h, register.AddrMassFlow, 0, 6)
			slog.Info("Simulator dose complete", "volume", current)
			return
		}
		putField(h, register.AddrVolumeFlow, step, 6)
		putField(h, register.AddrMassFlow, step*density, 6)
	})
	s.storage.OnWrite(register.AddrTotalVolume, register.AddrMassFlow+3-register.AddrTotalVolume)
}

func exception(funcCode byte, code byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | modbus.FuncCodeException,
		Data:         []byte{code},
	}
}

// formatField renders v as a zero-padded numeral of exactly width characters,
// dropping fractional digits when the integer part needs the room.
func formatField(v float64, width int) string {
	for prec := 3; prec >= 0; prec-- {
		s := strconv.FormatFloat(v, 'f', prec, 64)
		if len(s) <= width {
			return strings.Repeat("0", width-len(s)) + s
		}
	}
	return strings.Repeat("9", width)
}

func putField(h []uint16, address uint16, v float64, width int) {
	copy(h[address:], register.EncodeASCII(formatField(v, width)))
}

func getField(h []uint16, address uint16, width int) float64 {
	b := make([]byte, 0, width)
	for i := 0; i < width/2; i++ {
		r := h[int(address)+i]
		b = append(b, byte(r>>8), byte(r))
	}
	f, err := strconv.ParseFloat(strings.Trim(string(b), "\x00 "), 64)
	if err != nil {
		return 0
	}
	return f
}
