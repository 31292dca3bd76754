// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/ffutop/modbuscore/errs"
	"github.com/ffutop/modbuscore/pdu"
)

// RequestLength returns the total expected length of a request frame
// once enough header bytes are available, or 0 if more bytes must be
// read first. header holds bytes observed so far, starting at the
// unit_id byte.
func RequestLength(header []byte) (int, error) {
	if len(header) < 2 {
		return 0, nil
	}
	switch header[1] {
	case pdu.FuncCodeReadCoils, pdu.FuncCodeReadDiscreteInputs,
		pdu.FuncCodeReadHoldingRegisters, pdu.FuncCodeReadInputRegisters,
		pdu.FuncCodeWriteSingleCoil, pdu.FuncCodeWriteSingleRegister:
		// unit + func + addr(2) + val/qty(2) + crc(2)
		return 8, nil
	case pdu.FuncCodeWriteMultipleCoils, pdu.FuncCodeWriteMultipleRegisters:
		// unit + func + addr(2) + qty(2) + byteCount(1) + data(N) + crc(2)
		if len(header) < 7 {
			return 0, nil
		}
		byteCount := int(header[6])
		return 7 + byteCount + 2, nil
	case pdu.FuncCodeReadWriteMultipleRegisters:
		if len(header) < 11 {
			return 0, nil
		}
		writeByteCount := int(header[10])
		return 11 + writeByteCount + 2, nil
	default:
		return 0, fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusInvalidRequest,
			Cause: fmt.Errorf("unsupported function code %#02x", header[1])})
	}
}

// ResponseLength returns the total expected length of a response frame
// once enough header bytes are available, or 0 if more bytes must be
// read first.
func ResponseLength(header []byte) (int, error) {
	if len(header) < 2 {
		return 0, nil
	}
	fc := header[1]
	if fc&pdu.ExceptionBit != 0 {
		return 5, nil // unit + excFunc + code + crc(2)
	}
	switch fc {
	case pdu.FuncCodeReadCoils, pdu.FuncCodeReadDiscreteInputs,
		pdu.FuncCodeReadHoldingRegisters, pdu.FuncCodeReadInputRegisters,
		pdu.FuncCodeReadWriteMultipleRegisters:
		if len(header) < 3 {
			return 0, nil
		}
		byteCount := int(header[2])
		return 3 + byteCount + 2, nil
	case pdu.FuncCodeWriteSingleCoil, pdu.FuncCodeWriteSingleRegister,
		pdu.FuncCodeWriteMultipleCoils, pdu.FuncCodeWriteMultipleRegisters:
		return 8, nil
	default:
		return 0, fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusInvalidRequest,
			Cause: fmt.Errorf("unsupported function code %#02x", fc)})
	}
}

// Role selects which length table Assembler consults.
type Role int

const (
	RoleRequest Role = iota
	RoleResponse
)

// Assembler incrementally accumulates bytes arriving from a
// non-blocking transport and reports a complete frame as soon as its
// length can be determined and satisfied. It never blocks: Feed
// returns immediately with whatever progress a single call made.
type Assembler struct {
	role Role
	buf  []byte
}

// NewAssembler creates an Assembler for the given role with an
// internal buffer pre-allocated to the RTU maximum frame size.
func NewAssembler(role Role) *Assembler {
	return &Assembler{role: role, buf: make([]byte, 0, MaxSize)}
}

// Reset discards any partially accumulated frame.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}

// Feed appends b to the internal buffer and reports a complete frame
// once enough bytes have arrived. On success the Assembler starts a
// fresh internal buffer, so the returned frame remains valid for the
// caller to keep.
func (a *Assembler) Feed(b byte) (frame []byte, ready bool, err error) {
	if len(a.buf) >= MaxSize {
		a.Reset()
	}
	a.buf = append(a.buf, b)

	var length int
	if a.role == RoleRequest {
		length, err = RequestLength(a.buf)
	} else {
		length, err = ResponseLength(a.buf)
	}
	if err != nil {
		a.Reset()
		return nil, false, err
	}
	if length == 0 || len(a.buf) < length {
		return nil, false, nil
	}
	frame = a.buf[:length]
	a.buf = make([]byte, 0, MaxSize)
	return frame, true, nil
}
