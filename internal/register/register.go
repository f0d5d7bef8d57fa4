// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package register describes the holding registers of the dispensing
// instrument and converts them to and from typed values.
package register

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ffutop/modbus-dispenser/modbus"
)

// ValueType selects how the data bytes of a register block are interpreted.
type ValueType int

const (
	UInt16 ValueType = iota
	Float32
	StatusCode
	ASCII
	RawHex
)

func (t ValueType) String() string {
	switch t {
	case UInt16:
		return "uint16"
	case Float32:
		return "float32"
	case StatusCode:
		return "status"
	case ASCII:
		return "ascii"
	default:
		return "hex"
	}
}

// Spec is an entry of the register catalog.
type Spec struct {
	Name    string
	Address uint16
	Count   uint16
	Type    ValueType
	Width   int // byte length of ASCII fields
}

// Well-known register addresses.
const (
	AddrDeviceID          uint16 = 0x0000
	AddrStopReason        uint16 = 0x010C
	AddrDeviceStatus      uint16 = 0x010F
	AddrTotalVolume       uint16 = 0x0110
	AddrCurrentVolumeDose uint16 = 0x0116
	AddrVolumeFlow        uint16 = 0x011A
	AddrTotalMass         uint16 = 0x011D
	AddrCurrentMassDose   uint16 = 0x0123
	AddrDensity           uint16 = 0x0127
	AddrMassFlow          uint16 = 0x012A
	AddrVolumeSetpoint    uint16 = 0x012E
	AddrMassSetpoint      uint16 = 0x0132
)

// Values written to the command register (which is also AddrDeviceStatus).
const (
	CommandStart uint16 = 16
	CommandStop  uint16 = 0
)

// SetpointWidth is the character width of an encoded setpoint.
const SetpointWidth = 12

// SetpointRegisters is the number of registers a setpoint occupies.
const SetpointRegisters = SetpointWidth / 2

var catalog = []Spec{
	{Name: "deviceId", Address: AddrDeviceID, Count: 1, Type: UInt16},
	{Name: "stopReason", Address: AddrStopReason, Count: 1, Type: UInt16},
	{Name: "deviceStatus", Address: AddrDeviceStatus, Count: 1, Type: StatusCode},
	{Name: "totalVolume", Address: AddrTotalVolume, Count: 6, Type: ASCII, Width: 12},
	{Name: "totalMass", Address: AddrTotalMass, Count: 6, Type: ASCII, Width: 12},
	{Name: "currentVolumeDose", Address: AddrCurrentVolumeDose, Count: 4, Type: ASCII, Width: 8},
	{Name: "volumeFlow", Address: AddrVolumeFlow, Count: 3, Type: ASCII, Width: 6},
	{Name: "currentMassDose", Address: AddrCurrentMassDose, Count: 4, Type: ASCII, Width: 8},
	{Name: "massFlow", Address: AddrMassFlow, Count: 3, Type: ASCII, Width: 6},
	{Name: "density", Address: AddrDensity, Count: 2, Type: Float32},
}

// Catalog returns the polled registers in polling order.
func Catalog() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the catalog entry named name.
func Lookup(name string) (Spec, bool) {
	for _, s := range catalog {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// DeviceStatus is the value of the status register.
type DeviceStatus uint16

const (
	StatusWaiting         DeviceStatus = 0
	StatusReady           DeviceStatus = 10
	StatusDispensing      DeviceStatus = 20
	StatusPaused          DeviceStatus = 30
	StatusReadyAfterPause DeviceStatus = 40
	StatusFull            DeviceStatus = 50
	StatusError           DeviceStatus = 60
)

var statusLabels = map[DeviceStatus]string{
	StatusWaiting:         "Waiting",
	StatusReady:           "Ready (Permit)",
	StatusDispensing:      "Dispensing",
	StatusPaused:          "Paused",
	StatusReadyAfterPause: "Ready after pause",
	StatusFull:            "Full",
	StatusError:           "Error",
}

// Known reports whether s is one of the documented codes.
func (s DeviceStatus) Known() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s DeviceStatus) String() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return fmt.Sprintf("Unknown(%d)", uint16(s))
}

// Value is a decoded register block. Only the field matching Type is set.
type Value struct {
	Name   string
	Type   ValueType
	Uint   uint16
	Float  float32
	Text   string
	Status DeviceStatus
}

func (v Value) String() string {
	switch v.Type {
	case UInt16:
		return strconv.FormatUint(uint64(v.Uint), 10)
	case Float32:
		return strconv.FormatFloat(float64(v.Float), 'f', 3, 32)
	case StatusCode:
		return v.Status.String()
	default:
		return v.Text
	}
}

// Number returns the value as a float64 if it has a numeric reading.
func (v Value) Number() (float64, bool) {
	switch v.Type {
	case UInt16:
		return float64(v.Uint), true
	case Float32:
		return float64(v.Float), true
	case StatusCode:
		return float64(v.Status), true
	case ASCII:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.Trim(v.Text, "\x00")), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Decode interprets a read holding registers response frame for spec.
// The data starts after the address, function and byte count bytes.
func Decode(spec Spec, frame []byte) (Value, error) {
	n := int(spec.Count) * 2
	if len(frame) < 5+n {
		return Value{}, fmt.Errorf("%w: %s needs %d bytes, got %d", modbus.ErrShortResponse, spec.Name, 5+n, len(frame))
	}
	data := frame[3 : 3+n]

	v := Value{Name: spec.Name, Type: spec.Type}
	switch spec.Type {
	case UInt16:
		if len(data) < 2 {
			return Value{}, fmt.Errorf("%w: %s needs a register", modbus.ErrShortResponse, spec.Name)
		}
		v.Uint = binary.BigEndian.Uint16(data)
	case Float32:
		if len(data) < 4 {
			return Value{}, fmt.Errorf("%w: %s float needs 4 bytes", modbus.ErrShortResponse, spec.Name)
		}
		v.Float = math.Float32frombits(binary.BigEndian.Uint32(data))
	case StatusCode:
		if len(data) < 2 {
			return Value{}, fmt.Errorf("%w: %s needs a register", modbus.ErrShortResponse, spec.Name)
		}
		v.Status = DeviceStatus(binary.BigEndian.Uint16(data))
	case ASCII:
		width := spec.Width
		if width <= 0 || width > len(data) {
			width = len(data)
		}
		v.Text = latin1(data[:width])
	default:
		v.Type = RawHex
		v.Text = hexWords(data)
	}
	return v, nil
}

func latin1(b []byte) string {
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}

func hexWords(b []byte) string {
	parts := make([]string, len(b))
	for i := range b {
		parts[i] = hex.EncodeToString(b[i : i+1])
	}
	return strings.Join(parts, " ")
}

// EncodeSetpoint formats v with three decimals, zero-padded on the left to
// twelve characters, and packs the characters two per register.
// Negative doses are rejected.
func EncodeSetpoint(v float64) ([]uint16, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: setpoint %v is not a finite number", modbus.ErrInvalidData, v)
	}
	if v < 0 {
		return nil, fmt.Errorf("%w: setpoint %v is negative", modbus.ErrInvalidData, v)
	}
	if v == 0 {
		v = 0 // -0
	}
	s := strconv.FormatFloat(v, 'f', 3, 64)
	if len(s) > SetpointWidth {
		return nil, fmt.Errorf("%w: setpoint %q is wider than %d characters", modbus.ErrInvalidData, s, SetpointWidth)
	}
	return EncodeASCII(strings.Repeat("0", SetpointWidth-len(s)) + s), nil
}

// EncodeASCII packs s two characters per register, high byte first.
// An odd trailing character is padded with a zero byte.
func EncodeASCII(s string) []uint16 {
	b := []byte(s)
	if len(b)%2 != 0 {
		b = append(b, 0)
	}
	regs := make([]uint16, len(b)/2)
	for i := range regs {
		regs[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return regs
}

// EncodeFloat32 splits f into two big-endian registers.
func EncodeFloat32(f float32) []uint16 {
	bits := math.Float32bits(f)
	return []uint16{uint16(bits >> 16), uint16(bits)}
}
