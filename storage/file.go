// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"unsafe"
)

// File persists a Region's cells to a flat file, two bytes per cell in
// host byte order, rewriting the whole file on every OnWrite. This
// mirrors the teacher's FileStorage: simple, portable, and adequate
// for the write rates a single Modbus region sees.
type File struct {
	path string
	file *os.File
	raw  []byte
}

// NewFile returns a Backend persisting to path.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Load(startAddr, count uint16) ([]uint16, error) {
	size := int64(count) * 2
	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open file backend: %w", err)
	}
	f.file = file

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if fi.Size() != size {
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("storage: resize file backend: %w", err)
		}
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("storage: read file backend: %w", err)
	}
	if len(raw) != int(size) {
		grown := make([]byte, size)
		copy(grown, raw)
		raw = grown
	}
	f.raw = raw

	if count == 0 {
		return nil, nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&raw[0])), count), nil
}

func (f *File) OnWrite(startAddr uint16, data []uint16) {
	if f.file == nil {
		return
	}
	if _, err := f.file.WriteAt(f.raw, 0); err != nil {
		slog.Error("storage: file backend write failed", "err", err)
		return
	}
	if err := f.file.Sync(); err != nil {
		slog.Error("storage: file backend sync failed", "err", err)
	}
}

func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}
