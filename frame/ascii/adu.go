// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package ascii implements the Modbus ASCII application data unit
// codec: ':' + hex(unit_id + function + payload + LRC) + CRLF.
package ascii

import (
	"bytes"
	"fmt"

	"github.com/ffutop/modbuscore/errs"
	"github.com/ffutop/modbuscore/lrc"
	"github.com/ffutop/modbuscore/pdu"
)

const (
	start = ':'
	end   = "\r\n"

	// MinSize is the shortest legal frame: ':' + 2 addr + 2 func +
	// 2 lrc + CRLF = 9 characters.
	MinSize = 9
	// MaxSize bounds a frame holding the largest possible PDU.
	MaxSize = 1 + 2*(1+1+pdu.MaxPayload+1) + 2
)

var hexTable = []byte("0123456789ABCDEF")

// ApplicationDataUnit is the decoded view of an ASCII frame.
type ApplicationDataUnit struct {
	UnitID byte
	Pdu    pdu.ProtocolDataUnit
}

func invalidRequest(format string, a ...any) error {
	return fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusInvalidRequest, Cause: fmt.Errorf(format, a...)})
}

func writeHex(buf *bytes.Buffer, data []byte) {
	for _, b := range data {
		buf.WriteByte(hexTable[b>>4])
		buf.WriteByte(hexTable[b&0x0F])
	}
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

func readHex(data []byte) (byte, error) {
	if len(data) < 2 {
		return 0, invalidRequest("need 2 hex characters, got %d", len(data))
	}
	hi, ok := hexNibble(data[0])
	if !ok {
		return 0, invalidRequest("invalid hex digit %q", data[0])
	}
	lo, ok := hexNibble(data[1])
	if !ok {
		return 0, invalidRequest("invalid hex digit %q", data[1])
	}
	return hi<<4 | lo, nil
}

func decodeHexBytes(data []byte) ([]byte, error) {
	out := make([]byte, len(data)/2)
	for i := range out {
		b, err := readHex(data[2*i : 2*i+2])
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// Encode writes ':' + hex(unit + function + payload + lrc) + CRLF.
func Encode(adu ApplicationDataUnit) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(start)
	writeHex(&buf, []byte{adu.UnitID, adu.Pdu.FunctionCode})
	writeHex(&buf, adu.Pdu.Data)

	var l lrc.LRC
	l.Reset().PushByte(adu.UnitID).PushByte(adu.Pdu.FunctionCode).PushBytes(adu.Pdu.Data)
	writeHex(&buf, []byte{l.Value()})
	buf.WriteString(end)
	return buf.Bytes(), nil
}

// Decode parses a complete ASCII frame, verifying its structure and
// LRC checksum.
func Decode(raw []byte) (ApplicationDataUnit, error) {
	length := len(raw)
	if length < MinSize {
		return ApplicationDataUnit{}, invalidRequest("ascii frame length %d below minimum %d", length, MinSize)
	}
	if length%2 != 1 {
		return ApplicationDataUnit{}, invalidRequest("ascii frame length %d is not odd (colon + even hex pairs)", length)
	}
	if raw[0] != start {
		return ApplicationDataUnit{}, invalidRequest("ascii frame does not start with ':'")
	}
	if string(raw[length-2:]) != end {
		return ApplicationDataUnit{}, invalidRequest("ascii frame does not end with CRLF")
	}

	unitID, err := readHex(raw[1:3])
	if err != nil {
		return ApplicationDataUnit{}, fmt.Errorf("modbus: reading unit id: %w", err)
	}
	fc, err := readHex(raw[3:5])
	if err != nil {
		return ApplicationDataUnit{}, fmt.Errorf("modbus: reading function code: %w", err)
	}
	dataEnd := length - 4 // exclude 2-char LRC and 2-char CRLF
	payloadHex := raw[5:dataEnd]
	payload, err := decodeHexBytes(payloadHex)
	if err != nil {
		return ApplicationDataUnit{}, fmt.Errorf("modbus: reading payload: %w", err)
	}
	lrcVal, err := readHex(raw[dataEnd : dataEnd+2])
	if err != nil {
		return ApplicationDataUnit{}, fmt.Errorf("modbus: reading lrc: %w", err)
	}

	var l lrc.LRC
	l.Reset().PushByte(unitID).PushByte(fc).PushBytes(payload)
	if l.Value() != lrcVal {
		return ApplicationDataUnit{}, fmt.Errorf("modbus: %w", &errs.Error{Status: errs.StatusCRC,
			Cause: fmt.Errorf("ascii lrc %#02x does not match computed %#02x", lrcVal, l.Value())})
	}

	return ApplicationDataUnit{UnitID: unitID, Pdu: pdu.ProtocolDataUnit{FunctionCode: fc, Data: payload}}, nil
}

// Verify checks that a response ADU addresses the same unit as the
// request that solicited it.
func Verify(req, resp ApplicationDataUnit) error {
	if req.UnitID != resp.UnitID {
		return invalidRequest("response unit id %d does not match request %d", resp.UnitID, req.UnitID)
	}
	return nil
}
