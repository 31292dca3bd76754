// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package pdu implements the Modbus Protocol Data Unit: the function
// code table, per-FC request/response builders and parsers, and the
// exception encoding shared by every framing layer.
package pdu

import (
	"fmt"

	"github.com/ffutop/modbuscore/errs"
)

// Function codes this engine supports, per the mandatory table.
const (
	FuncCodeReadCoils                  byte = 0x01
	FuncCodeReadDiscreteInputs         byte = 0x02
	FuncCodeReadHoldingRegisters       byte = 0x03
	FuncCodeReadInputRegisters         byte = 0x04
	FuncCodeWriteSingleCoil            byte = 0x05
	FuncCodeWriteSingleRegister        byte = 0x06
	FuncCodeWriteMultipleCoils         byte = 0x0F
	FuncCodeWriteMultipleRegisters     byte = 0x10
	FuncCodeReadWriteMultipleRegisters byte = 0x17

	// ExceptionBit is or'd into the request function code to form the
	// function code of an exception response.
	ExceptionBit byte = 0x80
)

// MaxPayload is the largest payload a PDU may carry (253 - 1 for the
// function code byte).
const MaxPayload = 252

// ProtocolDataUnit is the transport-agnostic function-code-plus-payload
// unit every ADU codec (RTU/ASCII/TCP) wraps.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// IsException reports whether the PDU's function code carries the
// exception bit, and returns the exception code when it does.
func (p ProtocolDataUnit) IsException() (code byte, ok bool) {
	if p.FunctionCode&ExceptionBit == 0 {
		return 0, false
	}
	if len(p.Data) < 1 {
		return 0, true
	}
	return p.Data[0], true
}

// NewException builds the PDU for an exception response to fc.
func NewException(fc byte, code byte) ProtocolDataUnit {
	return ProtocolDataUnit{FunctionCode: fc | ExceptionBit, Data: []byte{code}}
}

// Bounds, mirrored from the function-code table in §4.2.
const (
	maxReadBits       = 2000
	maxReadRegisters  = 125
	maxWriteBits      = 1968
	maxWriteRegisters = 123
	maxRWReadRegs     = 125
	maxRWWriteRegs    = 121
)

func invalid(format string, a ...any) error {
	return fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusInvalidArgument, Cause: fmt.Errorf(format, a...)})
}

// byteCountForBits returns ceil(qty/8).
func byteCountForBits(qty uint16) byte {
	return byte((qty + 7) / 8)
}

// EncodeReadRequest builds the request PDU for FC01/02/03/04.
func EncodeReadRequest(fc byte, addr, qty uint16) (ProtocolDataUnit, error) {
	switch fc {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		if qty < 1 || qty > maxReadBits {
			return ProtocolDataUnit{}, invalid("read bit quantity %d out of range [1,%d]", qty, maxReadBits)
		}
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		if qty < 1 || qty > maxReadRegisters {
			return ProtocolDataUnit{}, invalid("read register quantity %d out of range [1,%d]", qty, maxReadRegisters)
		}
	default:
		return ProtocolDataUnit{}, invalid("unsupported read function code %#02x", fc)
	}
	if int(addr)+int(qty) > 0x10000 {
		return ProtocolDataUnit{}, invalid("address range %d+%d overflows address space", addr, qty)
	}
	data := make([]byte, 4)
	putUint16(data[0:2], addr)
	putUint16(data[2:4], qty)
	return ProtocolDataUnit{FunctionCode: fc, Data: data}, nil
}

// DecodeReadResponse parses the byte_count-prefixed payload of a read
// response, returning the raw register/bit bytes.
func DecodeReadResponse(fc byte, resp ProtocolDataUnit) ([]byte, error) {
	if resp.FunctionCode != fc {
		if code, ok := resp.IsException(); ok {
			return nil, errs.Exception(code)
		}
		return nil, invalid("unexpected function code %#02x in response to %#02x", resp.FunctionCode, fc)
	}
	if len(resp.Data) < 1 {
		return nil, invalid("response too short for byte count")
	}
	byteCount := resp.Data[0]
	if len(resp.Data) != int(byteCount)+1 {
		return nil, invalid("byte count %d does not match payload length %d", byteCount, len(resp.Data)-1)
	}
	return resp.Data[1:], nil
}

// BuildReadResponse constructs a read response PDU from a slice of
// coil/register bytes already packed to wire format.
func BuildReadResponse(fc byte, payload []byte) (ProtocolDataUnit, error) {
	if len(payload) > 255 {
		return ProtocolDataUnit{}, invalid("read response payload %d exceeds byte-count range", len(payload))
	}
	data := make([]byte, 1+len(payload))
	data[0] = byte(len(payload))
	copy(data[1:], payload)
	return ProtocolDataUnit{FunctionCode: fc, Data: data}, nil
}

// EncodeWriteSingleCoilRequest builds the FC05 request PDU. value must
// be one of 0x0000 (OFF) or 0xFF00 (ON).
func EncodeWriteSingleCoilRequest(addr uint16, value uint16) (ProtocolDataUnit, error) {
	if value != 0x0000 && value != 0xFF00 {
		return ProtocolDataUnit{}, invalid("write single coil value %#04x must be 0x0000 or 0xFF00", value)
	}
	data := make([]byte, 4)
	putUint16(data[0:2], addr)
	putUint16(data[2:4], value)
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteSingleCoil, Data: data}, nil
}

// EncodeWriteSingleRegisterRequest builds the FC06 request PDU.
func EncodeWriteSingleRegisterRequest(addr uint16, value uint16) (ProtocolDataUnit, error) {
	data := make([]byte, 4)
	putUint16(data[0:2], addr)
	putUint16(data[2:4], value)
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteSingleRegister, Data: data}, nil
}

// DecodeWriteSingleEcho validates that a FC05/FC06 response echoes the
// request exactly, returning the echoed address and value.
func DecodeWriteSingleEcho(fc byte, req, resp ProtocolDataUnit) (addr, value uint16, err error) {
	if resp.FunctionCode != fc {
		if code, ok := resp.IsException(); ok {
			return 0, 0, errs.Exception(code)
		}
		return 0, 0, invalid("unexpected function code %#02x in response to %#02x", resp.FunctionCode, fc)
	}
	if len(resp.Data) != 4 {
		return 0, 0, invalid("write-single response length %d != 4", len(resp.Data))
	}
	if len(req.Data) == 4 && !bytesEqual(req.Data, resp.Data) {
		return 0, 0, invalid("write-single response does not echo request")
	}
	return getUint16(resp.Data[0:2]), getUint16(resp.Data[2:4]), nil
}

// EncodeWriteMultipleCoilsRequest builds the FC0F request PDU from
// LSB-first packed coil bytes.
func EncodeWriteMultipleCoilsRequest(addr, qty uint16, packed []byte) (ProtocolDataUnit, error) {
	if qty < 1 || qty > maxWriteBits {
		return ProtocolDataUnit{}, invalid("write coil quantity %d out of range [1,%d]", qty, maxWriteBits)
	}
	want := byteCountForBits(qty)
	if len(packed) != int(want) {
		return ProtocolDataUnit{}, invalid("packed coil bytes %d != expected %d", len(packed), want)
	}
	data := make([]byte, 5+len(packed))
	putUint16(data[0:2], addr)
	putUint16(data[2:4], qty)
	data[4] = want
	copy(data[5:], packed)
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleCoils, Data: data}, nil
}

// EncodeWriteMultipleRegistersRequest builds the FC10 request PDU from
// big-endian packed register bytes.
func EncodeWriteMultipleRegistersRequest(addr, qty uint16, packed []byte) (ProtocolDataUnit, error) {
	if qty < 1 || qty > maxWriteRegisters {
		return ProtocolDataUnit{}, invalid("write register quantity %d out of range [1,%d]", qty, maxWriteRegisters)
	}
	want := int(qty) * 2
	if len(packed) != want {
		return ProtocolDataUnit{}, invalid("packed register bytes %d != expected %d", len(packed), want)
	}
	data := make([]byte, 5+len(packed))
	putUint16(data[0:2], addr)
	putUint16(data[2:4], qty)
	data[4] = byte(want)
	copy(data[5:], packed)
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleRegisters, Data: data}, nil
}

// DecodeWriteMultipleEcho validates a FC0F/FC10 response, returning the
// echoed address and quantity.
func DecodeWriteMultipleEcho(fc byte, resp ProtocolDataUnit) (addr, qty uint16, err error) {
	if resp.FunctionCode != fc {
		if code, ok := resp.IsException(); ok {
			return 0, 0, errs.Exception(code)
		}
		return 0, 0, invalid("unexpected function code %#02x in response to %#02x", resp.FunctionCode, fc)
	}
	if len(resp.Data) != 4 {
		return 0, 0, invalid("write-multiple response length %d != 4", len(resp.Data))
	}
	return getUint16(resp.Data[0:2]), getUint16(resp.Data[2:4]), nil
}

// ReadWriteMultipleRegistersRequest carries the parameters of FC17: a
// read range and a write range applied atomically.
type ReadWriteMultipleRegistersRequest struct {
	ReadAddr, ReadQty   uint16
	WriteAddr, WriteQty uint16
	WriteValues         []byte // big-endian packed
}

// EncodeReadWriteMultipleRegistersRequest builds the FC17 request PDU.
func EncodeReadWriteMultipleRegistersRequest(r ReadWriteMultipleRegistersRequest) (ProtocolDataUnit, error) {
	if r.ReadQty < 1 || r.ReadQty > maxRWReadRegs {
		return ProtocolDataUnit{}, invalid("read/write read quantity %d out of range [1,%d]", r.ReadQty, maxRWReadRegs)
	}
	if r.WriteQty < 1 || r.WriteQty > maxRWWriteRegs {
		return ProtocolDataUnit{}, invalid("read/write write quantity %d out of range [1,%d]", r.WriteQty, maxRWWriteRegs)
	}
	wantWrite := int(r.WriteQty) * 2
	if len(r.WriteValues) != wantWrite {
		return ProtocolDataUnit{}, invalid("read/write write payload %d != expected %d", len(r.WriteValues), wantWrite)
	}
	data := make([]byte, 9+len(r.WriteValues))
	putUint16(data[0:2], r.ReadAddr)
	putUint16(data[2:4], r.ReadQty)
	putUint16(data[4:6], r.WriteAddr)
	putUint16(data[6:8], r.WriteQty)
	data[8] = byte(wantWrite)
	copy(data[9:], r.WriteValues)
	return ProtocolDataUnit{FunctionCode: FuncCodeReadWriteMultipleRegisters, Data: data}, nil
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func getUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
