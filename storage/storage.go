// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package storage implements the engine's storage region abstraction:
// non-overlapping {start_addr, count} windows over one of the four
// Modbus data classes, each backed by a pluggable persistence Backend
// and optionally guarded by an application veto callback.
package storage

import (
	"encoding/binary"

	"go.uber.org/multierr"

	"github.com/ffutop/modbuscore/errs"
)

// DataClass identifies one of the four independent Modbus data tables.
type DataClass int

const (
	Coils DataClass = iota
	DiscreteInputs
	HoldingRegisters
	InputRegisters
)

const numDataClasses = 4

// MaxAddress is the largest representable 16-bit Modbus address.
const MaxAddress = 65535

// AccessOp identifies whether a Callback is being asked to admit a
// read or a write.
type AccessOp int

const (
	OpRead AccessOp = iota
	OpWrite
)

// Callback lets the application veto an otherwise-valid access. A
// non-nil return is reported to the requester as that exception.
type Callback func(op AccessOp, addr, qty uint16) *errs.Error

// Backend supplies a Region's cell storage and receives write
// notifications for real-time persistence. Every cell — regardless of
// DataClass — is represented as one uint16 (0/1 for Coils and
// DiscreteInputs), so a single Backend implementation serves all four
// classes.
type Backend interface {
	// Load returns the count cells starting at startAddr, creating
	// backing storage as needed. Implementations that have no prior
	// state return a zeroed slice.
	Load(startAddr, count uint16) ([]uint16, error)

	// OnWrite is called after cells starting at startAddr have been
	// updated in memory, with the new values. Implementations that
	// persist synchronously (file, mmap, SQL) do so here; failures are
	// logged, not propagated, matching the real-time-persistence
	// contract: a slow disk must never stall the poll loop.
	OnWrite(startAddr uint16, data []uint16)

	// Close releases any resources (file handles, DB connections).
	Close() error
}

// Region is one non-overlapping window of a DataClass.
type Region struct {
	Class     DataClass
	StartAddr uint16
	Count     uint16
	ReadOnly  bool
	Callback  Callback

	backend Backend
	cells   []uint16
}

// NewRegion loads backend and binds it to [startAddr, startAddr+count).
func NewRegion(class DataClass, startAddr, count uint16, readOnly bool, backend Backend) (*Region, error) {
	cells, err := backend.Load(startAddr, count)
	if err != nil {
		return nil, err
	}
	if len(cells) != int(count) {
		grown := make([]uint16, count)
		copy(grown, cells)
		cells = grown
	}
	return &Region{
		Class:     class,
		StartAddr: startAddr,
		Count:     count,
		ReadOnly:  readOnly,
		backend:   backend,
		cells:     cells,
	}, nil
}

func (r *Region) covers(addr, qty uint16) bool {
	if qty == 0 {
		return false
	}
	end := uint32(addr) + uint32(qty)
	rEnd := uint32(r.StartAddr) + uint32(r.Count)
	return uint32(addr) >= uint32(r.StartAddr) && end <= rEnd
}

func (r *Region) overlaps(addr, qty uint16) bool {
	end := uint32(addr) + uint32(qty)
	rEnd := uint32(r.StartAddr) + uint32(r.Count)
	return uint32(addr) < rEnd && end > uint32(r.StartAddr)
}

// Close releases the region's backend.
func (r *Region) Close() error { return r.backend.Close() }

// Table is a registry of Regions, one list per DataClass, enforcing
// the non-overlap invariant and dispatching reads/writes by address.
type Table struct {
	regions [numDataClasses][]*Region
}

// NewTable returns an empty region registry.
func NewTable() *Table {
	return &Table{}
}

// AddRegion registers r, rejecting it if it overlaps an existing
// region within the same DataClass.
func (t *Table) AddRegion(r *Region) error {
	for _, existing := range t.regions[r.Class] {
		if existing.overlaps(r.StartAddr, r.Count) {
			return errs.New(errs.StatusInvalidArgument, errOverlap{r.Class, r.StartAddr, r.Count})
		}
	}
	t.regions[r.Class] = append(t.regions[r.Class], r)
	return nil
}

func (t *Table) find(class DataClass, addr, qty uint16) (*Region, *errs.Error) {
	for _, r := range t.regions[class] {
		if r.covers(addr, qty) {
			return r, nil
		}
	}
	return nil, errs.Exception(errs.ExcIllegalDataAddress)
}

// ReadBits reads qty bits (Coils or DiscreteInputs) starting at addr,
// packed LSB-first into bytes per the PDU wire format.
func (t *Table) ReadBits(class DataClass, addr, qty uint16) ([]byte, *errs.Error) {
	r, ex := t.find(class, addr, qty)
	if ex != nil {
		return nil, ex
	}
	if r.Callback != nil {
		if veto := r.Callback(OpRead, addr, qty); veto != nil {
			return nil, veto
		}
	}
	off := addr - r.StartAddr
	out := make([]byte, (int(qty)+7)/8)
	for i := 0; i < int(qty); i++ {
		if r.cells[int(off)+i] != 0 {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out, nil
}

// WriteBits writes qty bits (Coils only) starting at addr from packed,
// LSB-first encoded bytes.
func (t *Table) WriteBits(class DataClass, addr, qty uint16, packed []byte) *errs.Error {
	r, ex := t.find(class, addr, qty)
	if ex != nil {
		return ex
	}
	if r.ReadOnly {
		return errs.Exception(errs.ExcIllegalDataAddress)
	}
	if len(packed) < (int(qty)+7)/8 {
		return errs.Exception(errs.ExcIllegalDataValue)
	}
	if r.Callback != nil {
		if veto := r.Callback(OpWrite, addr, qty); veto != nil {
			return veto
		}
	}
	off := int(addr - r.StartAddr)
	for i := 0; i < int(qty); i++ {
		bit := (packed[i/8] >> uint(i%8)) & 1
		r.cells[off+i] = uint16(bit)
	}
	r.backend.OnWrite(addr, r.cells[off:off+int(qty)])
	return nil
}

// WriteSingleCoil writes one coil; value must be 0xFF00 (ON) or 0x0000
// (OFF) per the Modbus FC05 convention.
func (t *Table) WriteSingleCoil(addr, value uint16) *errs.Error {
	r, ex := t.find(Coils, addr, 1)
	if ex != nil {
		return ex
	}
	if r.ReadOnly {
		return errs.Exception(errs.ExcIllegalDataAddress)
	}
	if value != 0xFF00 && value != 0x0000 {
		return errs.Exception(errs.ExcIllegalDataValue)
	}
	if r.Callback != nil {
		if veto := r.Callback(OpWrite, addr, 1); veto != nil {
			return veto
		}
	}
	off := int(addr - r.StartAddr)
	if value == 0xFF00 {
		r.cells[off] = 1
	} else {
		r.cells[off] = 0
	}
	r.backend.OnWrite(addr, r.cells[off:off+1])
	return nil
}

// ReadWords reads qty registers (HoldingRegisters or InputRegisters)
// starting at addr, encoded big-endian per the PDU wire format.
func (t *Table) ReadWords(class DataClass, addr, qty uint16) ([]byte, *errs.Error) {
	r, ex := t.find(class, addr, qty)
	if ex != nil {
		return nil, ex
	}
	if r.Callback != nil {
		if veto := r.Callback(OpRead, addr, qty); veto != nil {
			return nil, veto
		}
	}
	off := addr - r.StartAddr
	out := make([]byte, int(qty)*2)
	for i := 0; i < int(qty); i++ {
		binary.BigEndian.PutUint16(out[i*2:], r.cells[int(off)+i])
	}
	return out, nil
}

// WriteWords writes qty registers (HoldingRegisters only) starting at
// addr from big-endian encoded bytes.
func (t *Table) WriteWords(class DataClass, addr, qty uint16, data []byte) *errs.Error {
	r, ex := t.find(class, addr, qty)
	if ex != nil {
		return ex
	}
	if r.ReadOnly {
		return errs.Exception(errs.ExcIllegalDataAddress)
	}
	if len(data) < int(qty)*2 {
		return errs.Exception(errs.ExcIllegalDataValue)
	}
	if r.Callback != nil {
		if veto := r.Callback(OpWrite, addr, qty); veto != nil {
			return veto
		}
	}
	off := int(addr - r.StartAddr)
	for i := 0; i < int(qty); i++ {
		r.cells[off+i] = binary.BigEndian.Uint16(data[i*2:])
	}
	r.backend.OnWrite(addr, r.cells[off:off+int(qty)])
	return nil
}

// ReadWriteWords atomically writes qty registers starting at
// writeAddr, then reads qty registers starting at readAddr, both
// against HoldingRegisters, per the Modbus FC17 convention that the
// write is applied before the read — so an overlapping read observes
// the just-written values.
func (t *Table) ReadWriteWords(readAddr, readQty, writeAddr, writeQty uint16, data []byte) ([]byte, *errs.Error) {
	wr, ex := t.find(HoldingRegisters, writeAddr, writeQty)
	if ex != nil {
		return nil, ex
	}
	if wr.ReadOnly {
		return nil, errs.Exception(errs.ExcIllegalDataAddress)
	}
	if len(data) < int(writeQty)*2 {
		return nil, errs.Exception(errs.ExcIllegalDataValue)
	}
	rr, ex := t.find(HoldingRegisters, readAddr, readQty)
	if ex != nil {
		return nil, ex
	}
	if wr.Callback != nil {
		if veto := wr.Callback(OpWrite, writeAddr, writeQty); veto != nil {
			return nil, veto
		}
	}
	if rr.Callback != nil && rr != wr {
		if veto := rr.Callback(OpRead, readAddr, readQty); veto != nil {
			return nil, veto
		}
	}

	woff := int(writeAddr - wr.StartAddr)
	for i := 0; i < int(writeQty); i++ {
		wr.cells[woff+i] = binary.BigEndian.Uint16(data[i*2:])
	}
	wr.backend.OnWrite(writeAddr, wr.cells[woff:woff+int(writeQty)])

	roff := readAddr - rr.StartAddr
	out := make([]byte, int(readQty)*2)
	for i := 0; i < int(readQty); i++ {
		binary.BigEndian.PutUint16(out[i*2:], rr.cells[int(roff)+i])
	}
	return out, nil
}

// WriteSingleRegister writes one holding register.
func (t *Table) WriteSingleRegister(addr, value uint16) *errs.Error {
	r, ex := t.find(HoldingRegisters, addr, 1)
	if ex != nil {
		return ex
	}
	if r.ReadOnly {
		return errs.Exception(errs.ExcIllegalDataAddress)
	}
	if r.Callback != nil {
		if veto := r.Callback(OpWrite, addr, 1); veto != nil {
			return veto
		}
	}
	off := int(addr - r.StartAddr)
	r.cells[off] = value
	r.backend.OnWrite(addr, r.cells[off:off+1])
	return nil
}

// Close releases every registered region's backend, aggregating any
// errors with multierr rather than stopping at the first failure.
func (t *Table) Close() error {
	var err error
	for _, byClass := range t.regions {
		for _, r := range byClass {
			err = multierr.Append(err, r.Close())
		}
	}
	return err
}

type errOverlap struct {
	class     DataClass
	startAddr uint16
	count     uint16
}

func (e errOverlap) Error() string {
	return "storage: region overlaps an existing region in the same data class"
}
