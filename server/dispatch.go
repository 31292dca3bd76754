// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package server

import (
	"encoding/binary"

	"github.com/ffutop/modbuscore/errs"
	"github.com/ffutop/modbuscore/pdu"
	"github.com/ffutop/modbuscore/storage"
)

// Dispatch applies req against table, returning the response PDU (an
// exception PDU on any failure). The per-FC validate+handle shape
// mirrors a classic Modbus slave: parse and bounds-check the request,
// touch storage, and either echo or build the read payload.
func Dispatch(req pdu.ProtocolDataUnit, table *storage.Table) pdu.ProtocolDataUnit {
	switch req.FunctionCode {
	case pdu.FuncCodeReadCoils:
		return handleRead(req, table, storage.Coils)
	case pdu.FuncCodeReadDiscreteInputs:
		return handleRead(req, table, storage.DiscreteInputs)
	case pdu.FuncCodeReadHoldingRegisters:
		return handleRead(req, table, storage.HoldingRegisters)
	case pdu.FuncCodeReadInputRegisters:
		return handleRead(req, table, storage.InputRegisters)
	case pdu.FuncCodeWriteSingleCoil:
		return handleWriteSingleCoil(req, table)
	case pdu.FuncCodeWriteSingleRegister:
		return handleWriteSingleRegister(req, table)
	case pdu.FuncCodeWriteMultipleCoils:
		return handleWriteMultipleCoils(req, table)
	case pdu.FuncCodeWriteMultipleRegisters:
		return handleWriteMultipleRegisters(req, table)
	case pdu.FuncCodeReadWriteMultipleRegisters:
		return handleReadWriteMultipleRegisters(req, table)
	default:
		return pdu.NewException(req.FunctionCode, errs.ExcIllegalFunction)
	}
}

func handleRead(req pdu.ProtocolDataUnit, table *storage.Table, class storage.DataClass) pdu.ProtocolDataUnit {
	r, exc := pdu.ParseReadRequest(req)
	if exc != nil {
		return *exc
	}

	var payload []byte
	var ex *errs.Error
	switch class {
	case storage.Coils, storage.DiscreteInputs:
		payload, ex = table.ReadBits(class, r.Addr, r.Qty)
	default:
		payload, ex = table.ReadWords(class, r.Addr, r.Qty)
	}
	if ex != nil {
		return pdu.NewException(req.FunctionCode, ex.Code)
	}

	resp, err := pdu.BuildReadResponse(req.FunctionCode, payload)
	if err != nil {
		return pdu.NewException(req.FunctionCode, errs.ExcIllegalDataValue)
	}
	return resp
}

func handleWriteSingleCoil(req pdu.ProtocolDataUnit, table *storage.Table) pdu.ProtocolDataUnit {
	w, exc := pdu.ParseWriteSingleRequest(req)
	if exc != nil {
		return *exc
	}
	if ex := table.WriteSingleCoil(w.Addr, w.Value); ex != nil {
		return pdu.NewException(req.FunctionCode, ex.Code)
	}
	return req // echo request, per FC05 convention
}

func handleWriteSingleRegister(req pdu.ProtocolDataUnit, table *storage.Table) pdu.ProtocolDataUnit {
	w, exc := pdu.ParseWriteSingleRequest(req)
	if exc != nil {
		return *exc
	}
	if ex := table.WriteSingleRegister(w.Addr, w.Value); ex != nil {
		return pdu.NewException(req.FunctionCode, ex.Code)
	}
	return req // echo request, per FC06 convention
}

func handleWriteMultipleCoils(req pdu.ProtocolDataUnit, table *storage.Table) pdu.ProtocolDataUnit {
	w, exc := pdu.ParseWriteMultipleRequest(req)
	if exc != nil {
		return *exc
	}
	if ex := table.WriteBits(storage.Coils, w.Addr, w.Qty, w.Values); ex != nil {
		return pdu.NewException(req.FunctionCode, ex.Code)
	}
	return writeMultipleEcho(req.FunctionCode, w.Addr, w.Qty)
}

func handleWriteMultipleRegisters(req pdu.ProtocolDataUnit, table *storage.Table) pdu.ProtocolDataUnit {
	w, exc := pdu.ParseWriteMultipleRequest(req)
	if exc != nil {
		return *exc
	}
	if ex := table.WriteWords(storage.HoldingRegisters, w.Addr, w.Qty, w.Values); ex != nil {
		return pdu.NewException(req.FunctionCode, ex.Code)
	}
	return writeMultipleEcho(req.FunctionCode, w.Addr, w.Qty)
}

func handleReadWriteMultipleRegisters(req pdu.ProtocolDataUnit, table *storage.Table) pdu.ProtocolDataUnit {
	rw, exc := pdu.ParseReadWriteMultipleRequest(req)
	if exc != nil {
		return *exc
	}
	payload, ex := table.ReadWriteWords(rw.ReadAddr, rw.ReadQty, rw.WriteAddr, rw.WriteQty, rw.WriteValues)
	if ex != nil {
		return pdu.NewException(req.FunctionCode, ex.Code)
	}
	resp, err := pdu.BuildReadResponse(req.FunctionCode, payload)
	if err != nil {
		return pdu.NewException(req.FunctionCode, errs.ExcIllegalDataValue)
	}
	return resp
}

func writeMultipleEcho(fc byte, addr, qty uint16) pdu.ProtocolDataUnit {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], qty)
	return pdu.ProtocolDataUnit{FunctionCode: fc, Data: data}
}
