// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcp implements the Modbus TCP application data unit codec:
// a big-endian MBAP header (transaction id, protocol id, length, unit
// id) followed by a PDU, plus a transaction-id allocator.
package tcp

import (
	"fmt"

	"github.com/ffutop/modbuscore/errs"
	"github.com/ffutop/modbuscore/pdu"
)

// MinSize is the shortest legal MBAP frame: header (7 bytes) plus a
// 1-byte function code.
const MinSize = 8

// MaxSize bounds a frame holding the largest possible PDU.
const MaxSize = 7 + 1 + pdu.MaxPayload

// ApplicationDataUnit is the decoded view of an MBAP frame.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	UnitID        byte
	Pdu           pdu.ProtocolDataUnit
}

func invalidRequest(format string, a ...any) error {
	return fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusInvalidRequest, Cause: fmt.Errorf(format, a...)})
}

// Encode writes the MBAP header followed by the PDU.
func (adu ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + 8
	if length > MaxSize {
		return nil, fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusInvalidArgument,
			Cause: fmt.Errorf("encoded mbap frame length %d exceeds maximum %d", length, MaxSize)})
	}
	raw := make([]byte, length)
	raw[0] = byte(adu.TransactionID >> 8)
	raw[1] = byte(adu.TransactionID)
	raw[2] = byte(adu.ProtocolID >> 8)
	raw[3] = byte(adu.ProtocolID)
	// The length field counts the unit id byte plus the PDU (function
	// code and data).
	mbapLen := uint16(1 + 1 + len(adu.Pdu.Data))
	raw[4] = byte(mbapLen >> 8)
	raw[5] = byte(mbapLen)
	raw[6] = adu.UnitID
	raw[7] = adu.Pdu.FunctionCode
	copy(raw[8:], adu.Pdu.Data)
	return raw, nil
}

// Decode parses a complete MBAP frame.
func Decode(raw []byte) (ApplicationDataUnit, error) {
	if len(raw) < MinSize {
		return ApplicationDataUnit{}, invalidRequest("mbap frame length %d below minimum %d", len(raw), MinSize)
	}
	protocolID := uint16(raw[2])<<8 | uint16(raw[3])
	if protocolID != 0 {
		return ApplicationDataUnit{}, invalidRequest("mbap protocol id %d must be 0", protocolID)
	}
	length := uint16(raw[4])<<8 | uint16(raw[5])
	if int(length) != len(raw)-6 {
		return ApplicationDataUnit{}, invalidRequest("mbap length field %d does not match payload %d", length, len(raw)-6)
	}
	return ApplicationDataUnit{
		TransactionID: uint16(raw[0])<<8 | uint16(raw[1]),
		ProtocolID:    protocolID,
		UnitID:        raw[6],
		Pdu:           pdu.ProtocolDataUnit{FunctionCode: raw[7], Data: raw[8:]},
	}, nil
}

// ExpectedLength returns the total frame length once the first six
// header bytes (enough to read the length field) have arrived, or 0
// if more bytes are needed first. This is the `expected_length` helper
// from the MBAP spec: 6 + length once six bytes are observed.
func ExpectedLength(header []byte) int {
	if len(header) < 6 {
		return 0
	}
	length := uint16(header[4])<<8 | uint16(header[5])
	return 6 + int(length)
}

// Verify checks that a response ADU's transaction id matches the
// request that solicited it.
func Verify(req, resp ApplicationDataUnit) error {
	if req.TransactionID != resp.TransactionID {
		return invalidRequest("response transaction id %d does not match request %d", resp.TransactionID, req.TransactionID)
	}
	return nil
}
