// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package errs implements the closed error taxonomy shared by every layer
// of the engine: framers, PDU codecs, transports and the client/server
// state machines all resolve to one of the Status values below.
package errs

import "fmt"

// Status is a closed set of outcomes a protocol operation can resolve to.
type Status byte

const (
	// StatusOK indicates success.
	StatusOK Status = iota
	// StatusInvalidArgument indicates a nil pointer, out-of-range value, or
	// buffer too small to hold the operation's result.
	StatusInvalidArgument
	// StatusTimeout indicates a deadline expired, or no bytes were
	// available on this tick.
	StatusTimeout
	// StatusTransport indicates an I/O failure reported by the transport.
	StatusTransport
	// StatusCRC indicates an RTU CRC or ASCII LRC mismatch.
	StatusCRC
	// StatusInvalidRequest indicates a structural framing error (bad ':',
	// CRLF, hex digits, or MBAP protocol id).
	StatusInvalidRequest
	// StatusCancelled indicates the operation was cancelled by the caller
	// or by a poison pill.
	StatusCancelled
	// StatusNoResources indicates the transaction pool, or a high-priority
	// queue, is exhausted.
	StatusNoResources
	// StatusBusy indicates the normal-priority queue is full; the caller
	// is expected to drop the request.
	StatusBusy
	// StatusException indicates a Modbus protocol exception was returned
	// by the peer; see Error.Code for the exception code.
	StatusException
	// StatusOther is a catch-all for unmapped platform failures.
	StatusOther
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidArgument:
		return "invalid argument"
	case StatusTimeout:
		return "timeout"
	case StatusTransport:
		return "transport error"
	case StatusCRC:
		return "crc mismatch"
	case StatusInvalidRequest:
		return "invalid request"
	case StatusCancelled:
		return "cancelled"
	case StatusNoResources:
		return "no resources"
	case StatusBusy:
		return "busy"
	case StatusException:
		return "exception"
	default:
		return "other error"
	}
}

// Error is the concrete error type returned by engine operations. It
// carries a Status so callers can classify failures with errors.As,
// plus an optional exception Code (valid iff Status == StatusException)
// and an optional wrapped Cause.
type Error struct {
	Status Status
	Code   byte
	Cause  error
}

// New builds an *Error for the given status, optionally wrapping cause.
func New(status Status, cause error) *Error {
	return &Error{Status: status, Cause: cause}
}

// Exception builds an *Error representing a Modbus protocol exception.
func Exception(code byte) *Error {
	return &Error{Status: StatusException, Code: code}
}

func (e *Error) Error() string {
	if e.Status == StatusException {
		if name, ok := exceptionNames[e.Code]; ok {
			return fmt.Sprintf("modbus: exception 0x%02X (%s)", e.Code, name)
		}
		return fmt.Sprintf("modbus: exception 0x%02X", e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("modbus: %s: %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("modbus: %s", e.Status)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsOK reports whether err is nil (the only "ok" representation).
func IsOK(err error) bool { return err == nil }

// IsException reports whether err is a Status == StatusException error,
// returning its exception code.
func IsException(err error) (code byte, ok bool) {
	var e *Error
	if As(err, &e) && e.Status == StatusException {
		return e.Code, true
	}
	return 0, false
}

// As is a tiny errors.As wrapper kept local so this package has no import
// cycle concerns. Unlike the standard library function it follows only
// single Unwrap() error chains, not Unwrap() []error or As methods.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Exception codes, per Modbus Application Protocol.
const (
	ExcIllegalFunction                    = 0x01
	ExcIllegalDataAddress                 = 0x02
	ExcIllegalDataValue                   = 0x03
	ExcServerDeviceFailure                = 0x04
	ExcAcknowledge                        = 0x05
	ExcServerDeviceBusy                   = 0x06
	ExcNegativeAcknowledge                = 0x07
	ExcMemoryParityError                  = 0x08
	ExcGatewayPathUnavailable              = 0x0A
	ExcGatewayTargetDeviceFailedToRespond = 0x0B
)

var exceptionNames = map[byte]string{
	ExcIllegalFunction:                   "illegal function",
	ExcIllegalDataAddress:                "illegal data address",
	ExcIllegalDataValue:                  "illegal data value",
	ExcServerDeviceFailure:               "server device failure",
	ExcAcknowledge:                       "acknowledge",
	ExcServerDeviceBusy:                  "server device busy",
	ExcNegativeAcknowledge:               "negative acknowledge",
	ExcMemoryParityError:                 "memory parity error",
	ExcGatewayPathUnavailable:            "gateway path unavailable",
	ExcGatewayTargetDeviceFailedToRespond: "gateway target device failed to respond",
}
