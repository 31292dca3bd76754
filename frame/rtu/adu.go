// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the Modbus RTU application data unit codec:
// unit_id ‖ function ‖ payload ‖ CRC16_LE, plus the T1.5/T3.5 timing
// helpers and a resync scanner for noisy serial lines.
package rtu

import (
	"fmt"

	"github.com/ffutop/modbuscore/crc"
	"github.com/ffutop/modbuscore/errs"
	"github.com/ffutop/modbuscore/pdu"
)

// MinSize and MaxSize bound a well-formed RTU frame: unit_id + function
// + payload (0..252 bytes) + 2-byte CRC trailer.
const (
	MinSize = 4
	MaxSize = 256
)

// ApplicationDataUnit is the decoded view of an RTU frame.
type ApplicationDataUnit struct {
	UnitID byte
	Pdu    pdu.ProtocolDataUnit
}

// Encode writes unit_id ‖ function ‖ payload ‖ CRC_lo ‖ CRC_hi into a
// freshly allocated buffer.
func (adu ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + 4
	if length > MaxSize {
		return nil, fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusInvalidArgument,
			Cause: fmt.Errorf("encoded rtu frame length %d exceeds maximum %d", length, MaxSize)})
	}
	raw := make([]byte, length)
	raw[0] = adu.UnitID
	raw[1] = adu.Pdu.FunctionCode
	copy(raw[2:], adu.Pdu.Data)

	checksum := crc.TableChecksum(raw[:length-2])
	raw[length-2] = byte(checksum)
	raw[length-1] = byte(checksum >> 8)
	return raw, nil
}

// Decode parses a complete RTU frame, verifying its CRC trailer.
func Decode(raw []byte) (ApplicationDataUnit, error) {
	length := len(raw)
	if length < MinSize {
		return ApplicationDataUnit{}, fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusInvalidArgument,
			Cause: fmt.Errorf("rtu frame length %d below minimum %d", length, MinSize)})
	}
	want := crc.TableChecksum(raw[:length-2])
	got := uint16(raw[length-2]) | uint16(raw[length-1])<<8
	if want != got {
		return ApplicationDataUnit{}, fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusCRC,
			Cause: fmt.Errorf("rtu crc %#04x does not match computed %#04x", got, want)})
	}
	return ApplicationDataUnit{
		UnitID: raw[0],
		Pdu:    pdu.ProtocolDataUnit{FunctionCode: raw[1], Data: raw[2 : length-2]},
	}, nil
}

// Verify checks that a response ADU addresses the same unit as the
// request that solicited it.
func Verify(req, resp ApplicationDataUnit) error {
	if req.UnitID != resp.UnitID {
		return fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusInvalidRequest,
			Cause: fmt.Errorf("response unit id %d does not match request %d", resp.UnitID, req.UnitID)})
	}
	return nil
}
