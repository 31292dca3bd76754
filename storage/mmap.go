// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"fmt"
	"log/slog"
	"os"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// Mmap persists a Region's cells via a memory-mapped file, two bytes
// per cell in host byte order. It is the teacher's MmapStorage rebuilt
// on github.com/edsrzf/mmap-go, which wraps the same mmap(2)/msync(2)
// pair without hand-rolled unsafe.Pointer offset math for the
// map/unmap lifecycle.
type Mmap struct {
	path string
	file *os.File
	data mmap.MMap
}

// NewMmap returns a Backend persisting to a memory-mapped file at path.
func NewMmap(path string) *Mmap {
	return &Mmap{path: path}
}

func (m *Mmap) Load(startAddr, count uint16) ([]uint16, error) {
	size := int64(count) * 2
	file, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open mmap backend: %w", err)
	}
	m.file = file

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if fi.Size() != size {
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("storage: resize mmap backend: %w", err)
		}
	}

	if size == 0 {
		return nil, nil
	}

	data, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("storage: mmap backend: %w", err)
	}
	m.data = data

	return unsafe.Slice((*uint16)(unsafe.Pointer(&data[0])), count), nil
}

func (m *Mmap) OnWrite(startAddr uint16, data []uint16) {
	if m.data == nil {
		return
	}
	if err := m.data.Flush(); err != nil {
		slog.Error("storage: mmap backend flush failed", "err", err)
	}
}

func (m *Mmap) Close() error {
	if m.data != nil {
		if err := m.data.Unmap(); err != nil {
			return err
		}
		m.data = nil
	}
	if m.file != nil {
		return m.file.Close()
	}
	return nil
}
