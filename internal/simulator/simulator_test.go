// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simulator

import (
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ffutop/modbus-dispenser/internal/config"
	"github.com/ffutop/modbus-dispenser/internal/register"
	"github.com/ffutop/modbus-dispenser/internal/simulator/model"
	"github.com/ffutop/modbus-dispenser/modbus"
	"github.com/ffutop/modbus-dispenser/modbus/crc"
	"github.com/ffutop/modbus-dispenser/transport"
)

func newSimulator() *Simulator {
	return New(1, model.NewRegisters(), nil)
}

func readPDU(address, quantity uint16) modbus.ProtocolDataUnit {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], quantity)
	return modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: data}
}

func writeSinglePDU(address, value uint16) modbus.ProtocolDataUnit {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], value)
	return modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeWriteSingleRegister, Data: data}
}

func writeMultiplePDU(address uint16, values []uint16) modbus.ProtocolDataUnit {
	data := make([]byte, 5+2*len(values))
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], uint16(len(values)))
	data[4] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+2*i:], v)
	}
	return modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeWriteMultipleRegisters, Data: data}
}

// decode runs a read through the catalog decoder.
func decode(t *testing.T, s *Simulator, name string) register.Value {
	t.Helper()
	spec, _ := register.Lookup(name)
	resp := s.Process(readPDU(spec.Address, spec.Count))
	if resp.FunctionCode != modbus.FuncCodeReadHoldingRegisters {
		t.Fatalf("read %s: exception % X", name, resp.Data)
	}
	frame := crc.Append(append([]byte{1, resp.FunctionCode}, resp.Data...))
	v, err := register.Decode(spec, frame)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestSimulator_Seed(t *testing.T) {
	s := newSimulator()
	if v := decode(t, s, "deviceId"); v.Uint != DeviceID {
		t.Errorf("deviceId = %v", v)
	}
	if v := decode(t, s, "deviceStatus"); v.Status != register.StatusWaiting {
		t.Errorf("deviceStatus = %v", v)
	}
	if v := decode(t, s, "totalVolume"); v.Text != "00000000.000" {
		t.Errorf("totalVolume = %q", v.Text)
	}
	if v := decode(t, s, "density"); v.Float != float32(defaultDensity) {
		t.Errorf("density = %v", v.Float)
	}
}

func TestSimulator_Commands(t *testing.T) {
	s := newSimulator()

	resp := s.Process(writeSinglePDU(register.AddrDeviceStatus, register.CommandStart))
	if resp.FunctionCode != modbus.FuncCodeWriteSingleRegister {
		t.Fatalf("start: exception % X", resp.Data)
	}
	if v := decode(t, s, "deviceStatus"); v.Status != register.StatusDispensing {
		t.Fatalf("after start status = %v", v)
	}

	s.Process(writeSinglePDU(register.AddrDeviceStatus, register.CommandStop))
	if v := decode(t, s, "deviceStatus"); v.Status != register.StatusPaused {
		t.Fatalf("after stop status = %v", v)
	}
	if v := decode(t, s, "stopReason"); v.Uint != 1 {
		t.Fatalf("stopReason = %v", v)
	}
}

func TestSimulator_CommandInBlockWrite(t *testing.T) {
	s := newSimulator()
	resp := s.Process(writeMultiplePDU(register.AddrDeviceStatus-1, []uint16{0x1234, register.CommandStart}))
	if resp.FunctionCode != modbus.FuncCodeWriteMultipleRegisters {
		t.Fatalf("exception % X", resp.Data)
	}
	if v := decode(t, s, "deviceStatus"); v.Status != register.StatusDispensing {
		t.Fatalf("deviceStatus = %v, want Dispensing", v)
	}
	got, err := s.Registers().Get(register.AddrDeviceStatus-1, 1)
	if err != nil || got[0] != 0x1234 {
		t.Fatalf("register before status = %04X, %v", got, err)
	}
}

func TestSimulator_DoseToFull(t *testing.T) {
	s := newSimulator()
	setpoint, _ := register.EncodeSetpoint(1.0)
	resp := s.Process(writeMultiplePDU(register.AddrVolumeSetpoint, setpoint))
	if resp.FunctionCode != modbus.FuncCodeWriteMultipleRegisters {
		t.Fatalf("setpoint: exception % X", resp.Data)
	}
	s.Process(writeSinglePDU(register.AddrDeviceStatus, register.CommandStart))

	for i := 0; i < 3; i++ {
		s.Tick(0.4)
	}
	if v := decode(t, s, "deviceStatus"); v.Status != register.StatusFull {
		t.Fatalf("status = %v, want Full", v)
	}
	if v := decode(t, s, "currentVolumeDose"); v.Text != "0001.000" {
		t.Fatalf("currentVolumeDose = %q", v.Text)
	}
	if v := decode(t, s, "totalVolume"); v.Text != "00000001.000" {
		t.Fatalf("totalVolume = %q", v.Text)
	}

	// Ticks outside Dispensing change nothing.
	s.Tick(5)
	if v := decode(t, s, "totalVolume"); v.Text != "00000001.000" {
		t.Fatalf("totalVolume after full = %q", v.Text)
	}
}

func TestSimulator_Exceptions(t *testing.T) {
	s := newSimulator()
	tests := []struct {
		name string
		req  modbus.ProtocolDataUnit
		code byte
	}{
		{"unsupported function", modbus.ProtocolDataUnit{FunctionCode: 0x01, Data: []byte{0, 0, 0, 1}}, modbus.ExceptionCodeIllegalFunction},
		{"zero quantity", readPDU(0, 0), modbus.ExceptionCodeIllegalDataValue},
		{"too many", readPDU(0, 126), modbus.ExceptionCodeIllegalDataValue},
		{"out of range", readPDU(0xFFFF, 2), modbus.ExceptionCodeIllegalDataAddress},
		{"short write", modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeWriteSingleRegister, Data: []byte{0}}, modbus.ExceptionCodeIllegalDataValue},
		{"byte count mismatch", modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeWriteMultipleRegisters, Data: []byte{0, 0, 0, 2, 2, 0, 1}}, modbus.ExceptionCodeIllegalDataValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.Process(tt.req)
			if resp.FunctionCode != tt.req.FunctionCode|modbus.FuncCodeException {
				t.Fatalf("FunctionCode = %#x", resp.FunctionCode)
			}
			if len(resp.Data) != 1 || resp.Data[0] != tt.code {
				t.Fatalf("exception data = % X, want %02X", resp.Data, tt.code)
			}
		})
	}
}

func TestSimulator_HandleOtherSlave(t *testing.T) {
	s := newSimulator()
	_, err := s.Handle(context.Background(), 2, readPDU(0, 1))
	if !errors.Is(err, transport.ErrNoResponse) {
		t.Fatalf("err = %v, want ErrNoResponse", err)
	}
}

func TestSimulator_Persistence(t *testing.T) {
	cfg := config.PersistenceConfig{Type: "mmap", Path: filepath.Join(t.TempDir(), "sim.bin")}

	s := Open(1, cfg)
	s.Process(writeSinglePDU(register.AddrDeviceStatus, register.CommandStart))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = Open(1, cfg)
	defer s.Close()
	if v := decode(t, s, "deviceStatus"); v.Status != register.StatusDispensing {
		t.Fatalf("recovered status = %v", v)
	}
}

func TestFormatField(t *testing.T) {
	tests := []struct {
		v     float64
		width int
		want  string
	}{
		{0, 12, "00000000.000"},
		{12.5, 8, "0012.500"},
		{1.234, 6, "01.234"},
		{123.4567, 6, "123.46"},
		{1e9, 6, "999999"},
	}
	for _, tt := range tests {
		if got := formatField(tt.v, tt.width); got != tt.want {
			t.Errorf("formatField(%v, %d) = %q, want %q", tt.v, tt.width, got, tt.want)
		}
	}
}
