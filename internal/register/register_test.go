// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package register

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/ffutop/modbus-dispenser/modbus"
	"github.com/ffutop/modbus-dispenser/modbus/crc"
)

func response(data ...byte) []byte {
	frame := append([]byte{0x01, 0x03, byte(len(data))}, data...)
	return crc.Append(frame)
}

func TestCatalog_Order(t *testing.T) {
	want := []string{
		"deviceId", "stopReason", "deviceStatus", "totalVolume", "totalMass",
		"currentVolumeDose", "volumeFlow", "currentMassDose", "massFlow", "density",
	}
	specs := Catalog()
	if len(specs) != len(want) {
		t.Fatalf("catalog has %d entries, want %d", len(specs), len(want))
	}
	for i, s := range specs {
		if s.Name != want[i] {
			t.Errorf("catalog[%d] = %s, want %s", i, s.Name, want[i])
		}
		if s.Type == ASCII && s.Width != int(s.Count)*2 {
			t.Errorf("%s: width %d does not fill %d registers", s.Name, s.Width, s.Count)
		}
	}

	specs[0].Address = 0xFFFF
	if Catalog()[0].Address != AddrDeviceID {
		t.Fatal("Catalog must return a copy")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		spec  string
		frame []byte
		want  string
	}{
		{"uint16", "deviceId", response(0x12, 0x34), "4660"},
		{"status", "deviceStatus", response(0x00, 0x14), "Dispensing"},
		{"float", "density", response(0x40, 0x49, 0x0F, 0xDB), "3.142"},
		{"ascii12", "totalVolume", response([]byte("00001234.567")...), "00001234.567"},
		{"ascii6", "volumeFlow", response([]byte("12.345")...), "12.345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, ok := Lookup(tt.spec)
			if !ok {
				t.Fatalf("no spec %s", tt.spec)
			}
			v, err := Decode(spec, tt.frame)
			if err != nil {
				t.Fatal(err)
			}
			if v.String() != tt.want {
				t.Errorf("Decode() = %q, want %q", v.String(), tt.want)
			}
			again, _ := Decode(spec, tt.frame)
			if !reflect.DeepEqual(v, again) {
				t.Errorf("decode not idempotent: %+v != %+v", v, again)
			}
		})
	}
}

func TestDecode_Float(t *testing.T) {
	spec, _ := Lookup("density")
	v, err := Decode(spec, response(0x40, 0x49, 0x0F, 0xDB))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(v.Float)-3.1416) > 1e-4 {
		t.Fatalf("Float = %v, want ~3.1416", v.Float)
	}
}

func TestDecode_RawHex(t *testing.T) {
	v, err := Decode(Spec{Name: "raw", Count: 2, Type: RawHex}, response(0x0A, 0xFF, 0x00, 0x1B))
	if err != nil {
		t.Fatal(err)
	}
	if v.Text != "0a ff 00 1b" {
		t.Fatalf("Text = %q", v.Text)
	}
}

func TestDecode_ShortResponse(t *testing.T) {
	spec, _ := Lookup("totalMass")
	_, err := Decode(spec, response(0x30, 0x30))
	if !errors.Is(err, modbus.ErrShortResponse) {
		t.Fatalf("err = %v, want ErrShortResponse", err)
	}
}

func TestDecode_ZeroCount(t *testing.T) {
	for _, typ := range []ValueType{UInt16, StatusCode, Float32} {
		_, err := Decode(Spec{Name: "empty", Count: 0, Type: typ}, []byte{0x01, 0x03, 0x00, 0x00, 0x00})
		if !errors.Is(err, modbus.ErrShortResponse) {
			t.Errorf("%v: err = %v, want ErrShortResponse", typ, err)
		}
	}
}

func TestDeviceStatus(t *testing.T) {
	tests := []struct {
		code uint16
		want string
	}{
		{0, "Waiting"},
		{10, "Ready (Permit)"},
		{20, "Dispensing"},
		{30, "Paused"},
		{40, "Ready after pause"},
		{50, "Full"},
		{60, "Error"},
		{99, "Unknown(99)"},
	}
	for _, tt := range tests {
		s := DeviceStatus(tt.code)
		if s.String() != tt.want {
			t.Errorf("DeviceStatus(%d) = %q, want %q", tt.code, s.String(), tt.want)
		}
		if s.Known() != (tt.code != 99) {
			t.Errorf("DeviceStatus(%d).Known() = %v", tt.code, s.Known())
		}
	}
}

func TestEncodeSetpoint(t *testing.T) {
	regs, err := EncodeSetpoint(12.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(regs) != SetpointRegisters {
		t.Fatalf("got %d registers, want %d", len(regs), SetpointRegisters)
	}
	want := EncodeASCII("00000012.500")
	if !reflect.DeepEqual(regs, want) {
		t.Fatalf("EncodeSetpoint(12.5) = %04X, want %04X", regs, want)
	}
	if regs[0] != 0x3030 || regs[5] != 0x3030 || regs[4] != 0x2E35 {
		t.Fatalf("unexpected packing %04X", regs)
	}

	spec, _ := Lookup("totalVolume")
	frame := response(byte(regs[0]>>8), byte(regs[0]), byte(regs[1]>>8), byte(regs[1]),
		byte(regs[2]>>8), byte(regs[2]), byte(regs[3]>>8), byte(regs[3]),
		byte(regs[4]>>8), byte(regs[4]), byte(regs[5]>>8), byte(regs[5]))
	v, _ := Decode(spec, frame)
	if n, ok := v.Number(); !ok || n != 12.5 {
		t.Fatalf("round trip = %v, %v", n, ok)
	}
}

func TestEncodeSetpoint_Invalid(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), 1e12, -1.5, -0.001} {
		if _, err := EncodeSetpoint(v); !errors.Is(err, modbus.ErrInvalidData) {
			t.Errorf("EncodeSetpoint(%v) err = %v, want ErrInvalidData", v, err)
		}
	}
}

func TestEncodeSetpoint_Zero(t *testing.T) {
	for _, v := range []float64{0, math.Copysign(0, -1)} {
		regs, err := EncodeSetpoint(v)
		if err != nil {
			t.Fatal(err)
		}
		if want := EncodeASCII("00000000.000"); !reflect.DeepEqual(regs, want) {
			t.Errorf("EncodeSetpoint(%v) = %04X, want %04X", v, regs, want)
		}
	}
}

func TestEncodeFloat32(t *testing.T) {
	regs := EncodeFloat32(float32(math.Pi))
	if regs[0] != 0x4049 || regs[1] != 0x0FDB {
		t.Fatalf("EncodeFloat32(pi) = %04X", regs)
	}
}
