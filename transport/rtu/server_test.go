// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ffutop/modbus-dispenser/internal/config"
	"github.com/ffutop/modbus-dispenser/modbus"
	"github.com/ffutop/modbus-dispenser/modbus/crc"
	"github.com/grid-x/serial"
)

func TestServer_Start(t *testing.T) {
	req := crc.Append([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	// A frame with a bad CRC is dropped before the good one is answered.
	bad := crc.Append([]byte{0x01, 0x06, 0x01, 0x0F, 0x00, 0x10})
	bad[7] ^= 0xFF
	port := &mockPort{reader: bytes.NewReader(append(bad, req...))}

	s := NewServer(config.SerialConfig{Device: "/dev/ttyS9", BaudRate: 9600})
	var gotCfg *serial.Config
	s.open = func(c *serial.Config) (io.ReadWriteCloser, error) {
		gotCfg = c
		return port, nil
	}

	handler := func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		if slaveID != 0x01 || pdu.FunctionCode != modbus.FuncCodeReadHoldingRegisters {
			t.Errorf("unexpected request %d %+v", slaveID, pdu)
		}
		return modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode, Data: []byte{0x02, 0x0D, 0x15}}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, handler) }()

	want := crc.Append([]byte{0x01, 0x03, 0x02, 0x0D, 0x15})
	deadline := time.Now().Add(2 * time.Second)
	for {
		port.mu.Lock()
		got := append([]byte(nil), port.writer.Bytes()...)
		port.mu.Unlock()
		if bytes.Equal(got, want) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("response % X, want % X", got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	if gotCfg == nil || gotCfg.Address != "/dev/ttyS9" || gotCfg.BaudRate != 9600 {
		t.Fatalf("serial config %+v", gotCfg)
	}
}

func TestServer_HandlerErrorIsException(t *testing.T) {
	req := crc.Append([]byte{0x01, 0x06, 0x01, 0x0F, 0x00, 0x10})
	port := &mockPort{reader: bytes.NewReader(req)}
	s := NewServer(config.SerialConfig{Device: "/dev/ttyS9"})
	s.open = func(*serial.Config) (io.ReadWriteCloser, error) { return port, nil }

	handler := func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{}, &modbus.ExceptionError{FunctionCode: pdu.FunctionCode, ExceptionCode: modbus.ExceptionCodeServerDeviceBusy}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx, handler)

	want := crc.Append([]byte{0x01, 0x86, modbus.ExceptionCodeServerDeviceBusy})
	deadline := time.Now().Add(2 * time.Second)
	for {
		port.mu.Lock()
		got := append([]byte(nil), port.writer.Bytes()...)
		port.mu.Unlock()
		if bytes.Equal(got, want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("response % X, want % X", got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_OpenError(t *testing.T) {
	s := NewServer(config.SerialConfig{Device: "/dev/ttyS9"})
	s.open = func(*serial.Config) (io.ReadWriteCloser, error) { return nil, errors.New("permission denied") }
	if err := s.Start(context.Background(), nil); err == nil {
		t.Fatal("Start() must fail when the port cannot be opened")
	}
}
