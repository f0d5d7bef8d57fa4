// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/ffutop/modbus-dispenser/modbus"
	"github.com/ffutop/modbus-dispenser/modbus/crc"
)

// ApplicationDataUnit is an RTU frame: slave address, PDU and CRC.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Decode checks the CRC of raw and splits it into slave address and PDU.
// A CRC mismatch is reported as modbus.ErrFrameCorrupt.
func Decode(raw []byte) (adu *ApplicationDataUnit, err error) {
	length := len(raw)
	// Minimum size (including address, function and CRC)
	if length < MinSize {
		err = fmt.Errorf("%w: length '%v' does not meet minimum '%v'", modbus.ErrShortResponse, length, MinSize)
		return
	}

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if checksum != c.Value() {
		err = fmt.Errorf("%w: response crc '%v' does not match expected '%v'", modbus.ErrFrameCorrupt, checksum, c.Value())
		return
	}
	adu = &ApplicationDataUnit{}
	adu.SlaveID = raw[0]
	adu.Pdu.FunctionCode = raw[1]
	adu.Pdu.Data = raw[2 : length-2]
	return
}

// Encode encodes PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + 4
	if length > MaxSize {
		err = fmt.Errorf("%w: length of data '%v' must not be bigger than '%v'", modbus.ErrInvalidData, length, MaxSize)
		return
	}
	raw = make([]byte, 2, length)
	raw[0] = adu.SlaveID
	raw[1] = adu.Pdu.FunctionCode
	raw = append(raw, adu.Pdu.Data...)
	return crc.Append(raw), nil
}

// Verify verifies that resp answers req: same slave id and function code.
// An exception reply is returned as *modbus.ExceptionError. Echoed
// address and value fields of write replies are not compared.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) (err error) {
	if req.SlaveID != resp.SlaveID {
		err = fmt.Errorf("%w: response slave id '%v' does not match request '%v'", modbus.ErrInvalidResponse, resp.SlaveID, req.SlaveID)
		return
	}
	if resp.Pdu.FunctionCode == req.Pdu.FunctionCode|modbus.FuncCodeException {
		exc := &modbus.ExceptionError{FunctionCode: resp.Pdu.FunctionCode}
		if len(resp.Pdu.Data) > 0 {
			exc.ExceptionCode = resp.Pdu.Data[0]
		}
		return exc
	}
	if resp.Pdu.FunctionCode != req.Pdu.FunctionCode {
		err = fmt.Errorf("%w: response function '%v' does not match request '%v'", modbus.ErrInvalidResponse, resp.Pdu.FunctionCode, req.Pdu.FunctionCode)
		return
	}
	return
}
