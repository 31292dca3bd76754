// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package pdu

// ReadRequest is the decoded form of a FC01/02/03/04 request, as seen
// by a server dispatching on storage regions.
type ReadRequest struct {
	FuncCode byte
	Addr     uint16
	Qty      uint16
}

// WriteSingleRequest is the decoded form of a FC05/06 request.
type WriteSingleRequest struct {
	FuncCode byte
	Addr     uint16
	Value    uint16
}

// WriteMultipleRequest is the decoded form of a FC0F/10 request.
type WriteMultipleRequest struct {
	FuncCode byte
	Addr     uint16
	Qty      uint16
	Values   []byte
}

// ReadWriteMultipleRequest is the decoded form of a FC17 request.
type ReadWriteMultipleRequest struct {
	ReadAddr, ReadQty   uint16
	WriteAddr, WriteQty uint16
	WriteValues         []byte
}

// ParseReadRequest decodes a FC01/02/03/04 request PDU, returning an
// IllegalDataValue exception when the payload is not exactly four bytes
// or the quantity is out of range, IllegalFunction for any other
// function code, and IllegalDataAddress when the range runs past
// address 0xFFFF.
func ParseReadRequest(req ProtocolDataUnit) (ReadRequest, *ProtocolDataUnit) {
	if len(req.Data) != 4 {
		exc := NewException(req.FunctionCode, 0x03)
		return ReadRequest{}, &exc
	}
	r := ReadRequest{
		FuncCode: req.FunctionCode,
		Addr:     getUint16(req.Data[0:2]),
		Qty:      getUint16(req.Data[2:4]),
	}
	var max uint16
	switch req.FunctionCode {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		max = maxReadBits
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		max = maxReadRegisters
	default:
		exc := NewException(req.FunctionCode, 0x01)
		return ReadRequest{}, &exc
	}
	if r.Qty < 1 || r.Qty > max {
		exc := NewException(req.FunctionCode, 0x03)
		return ReadRequest{}, &exc
	}
	if int(r.Addr)+int(r.Qty) > 0x10000 {
		exc := NewException(req.FunctionCode, 0x02)
		return ReadRequest{}, &exc
	}
	return r, nil
}

// ParseWriteSingleRequest decodes a FC05/06 request PDU.
func ParseWriteSingleRequest(req ProtocolDataUnit) (WriteSingleRequest, *ProtocolDataUnit) {
	if len(req.Data) != 4 {
		exc := NewException(req.FunctionCode, 0x03)
		return WriteSingleRequest{}, &exc
	}
	w := WriteSingleRequest{
		FuncCode: req.FunctionCode,
		Addr:     getUint16(req.Data[0:2]),
		Value:    getUint16(req.Data[2:4]),
	}
	if req.FunctionCode == FuncCodeWriteSingleCoil && w.Value != 0x0000 && w.Value != 0xFF00 {
		exc := NewException(req.FunctionCode, 0x03)
		return WriteSingleRequest{}, &exc
	}
	return w, nil
}

// ParseWriteMultipleRequest decodes a FC0F/10 request PDU.
func ParseWriteMultipleRequest(req ProtocolDataUnit) (WriteMultipleRequest, *ProtocolDataUnit) {
	if len(req.Data) < 5 {
		exc := NewException(req.FunctionCode, 0x03)
		return WriteMultipleRequest{}, &exc
	}
	addr := getUint16(req.Data[0:2])
	qty := getUint16(req.Data[2:4])
	byteCount := req.Data[4]
	values := req.Data[5:]
	if len(values) != int(byteCount) {
		exc := NewException(req.FunctionCode, 0x03)
		return WriteMultipleRequest{}, &exc
	}

	var wantBytes int
	var max uint16
	switch req.FunctionCode {
	case FuncCodeWriteMultipleCoils:
		max = maxWriteBits
		wantBytes = int(byteCountForBits(qty))
	case FuncCodeWriteMultipleRegisters:
		max = maxWriteRegisters
		wantBytes = int(qty) * 2
	default:
		exc := NewException(req.FunctionCode, 0x01)
		return WriteMultipleRequest{}, &exc
	}
	if qty < 1 || qty > max || int(byteCount) != wantBytes {
		exc := NewException(req.FunctionCode, 0x03)
		return WriteMultipleRequest{}, &exc
	}
	if int(addr)+int(qty) > 0x10000 {
		exc := NewException(req.FunctionCode, 0x02)
		return WriteMultipleRequest{}, &exc
	}
	return WriteMultipleRequest{FuncCode: req.FunctionCode, Addr: addr, Qty: qty, Values: values}, nil
}

// ParseReadWriteMultipleRequest decodes a FC17 request PDU.
func ParseReadWriteMultipleRequest(req ProtocolDataUnit) (ReadWriteMultipleRequest, *ProtocolDataUnit) {
	if len(req.Data) < 9 {
		exc := NewException(req.FunctionCode, 0x03)
		return ReadWriteMultipleRequest{}, &exc
	}
	readAddr := getUint16(req.Data[0:2])
	readQty := getUint16(req.Data[2:4])
	writeAddr := getUint16(req.Data[4:6])
	writeQty := getUint16(req.Data[6:8])
	byteCount := req.Data[8]
	values := req.Data[9:]
	if len(values) != int(byteCount) {
		exc := NewException(req.FunctionCode, 0x03)
		return ReadWriteMultipleRequest{}, &exc
	}
	if readQty < 1 || readQty > maxRWReadRegs || writeQty < 1 || writeQty > maxRWWriteRegs || int(byteCount) != int(writeQty)*2 {
		exc := NewException(req.FunctionCode, 0x03)
		return ReadWriteMultipleRequest{}, &exc
	}
	if int(readAddr)+int(readQty) > 0x10000 || int(writeAddr)+int(writeQty) > 0x10000 {
		exc := NewException(req.FunctionCode, 0x02)
		return ReadWriteMultipleRequest{}, &exc
	}
	return ReadWriteMultipleRequest{
		ReadAddr: readAddr, ReadQty: readQty,
		WriteAddr: writeAddr, WriteQty: writeQty,
		WriteValues: values,
	}, nil
}
