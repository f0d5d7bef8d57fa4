// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"

	"github.com/ffutop/modbus-dispenser/modbus"
	rtupacket "github.com/ffutop/modbus-dispenser/modbus/rtu"
)

// Serve answers RTU requests read from rw with handler until ctx is done or
// the stream fails. Frames with a bad CRC or an unsupported function are
// dropped. transient, if not nil, reports read errors that only abort the
// current frame (a serial read timeout while the bus is idle).
func Serve(ctx context.Context, rw io.ReadWriter, handler RequestHandler, transient func(error) bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		raw, err := rtupacket.ReadRequest(rw)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			if errors.Is(err, rtupacket.ErrUnsupportedFunction) {
				slog.Warn("Invalid RTU frame header", "err", err)
				continue
			}
			if transient != nil && transient(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		adu, err := rtupacket.Decode(raw)
		if err != nil {
			slog.Warn("RTU frame decode failed", "frame", hex.EncodeToString(raw), "err", err)
			continue
		}

		respPdu, err := handler(ctx, adu.SlaveID, adu.Pdu)
		if errors.Is(err, ErrNoResponse) {
			continue
		}
		if err != nil {
			slog.Error("Handler failed", "err", err)
			exceptionCode := byte(modbus.ExceptionCodeServerDeviceFailure)
			var exc *modbus.ExceptionError
			if errors.As(err, &exc) {
				exceptionCode = exc.ExceptionCode
			}
			respPdu = modbus.ProtocolDataUnit{
				FunctionCode: adu.Pdu.FunctionCode | modbus.FuncCodeException,
				Data:         []byte{exceptionCode},
			}
		}

		respAdu := &rtupacket.ApplicationDataUnit{SlaveID: adu.SlaveID, Pdu: respPdu}
		respRaw, err := respAdu.Encode()
		if err != nil {
			slog.Error("Failed to encode response", "err", err)
			continue
		}
		if _, err := rw.Write(respRaw); err != nil {
			return err
		}
	}
}
