// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package envstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Region selects one of the two stored copies
type Region int

// Regions
const (
	Main Region = iota
	Backup
)

func (r Region) String() string {
	if r == Backup {
		return "backup"
	}
	return "main"
}

// Backend is the non-volatile medium holding both regions
type Backend interface {
	// Size returns the size of one region in bytes
	Size() int
	ReadRegion(r Region) ([]byte, error)
	WriteRegion(r Region, data []byte) error
}

// FileBackend keeps both regions in one file, main first
type FileBackend struct {
	path string
	size int
}

// NewFileBackend opens or creates the store file at path.
// A new or short file is extended with zeros, which reads as two invalid
// regions.
func NewFileBackend(path string, size int) (*FileBackend, error) {
	if size < MinRegionSize {
		return nil, fmt.Errorf("region size %d below minimum %d", size, MinRegionSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat env file: %w", err)
	}
	if info.Size() < int64(2*size) {
		if err := f.Truncate(int64(2 * size)); err != nil {
			return nil, fmt.Errorf("extend env file: %w", err)
		}
	}
	return &FileBackend{path: path, size: size}, nil
}

// Size returns the region size
func (b *FileBackend) Size() int {
	return b.size
}

// ReadRegion reads one region from the file
func (b *FileBackend) ReadRegion(r Region) ([]byte, error) {
	f, err := os.Open(b.path)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, b.size)
	if _, err := f.ReadAt(buf, int64(r)*int64(b.size)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s region: %w", r, err)
	}
	return buf, nil
}

// WriteRegion writes one region and syncs it to disk
func (b *FileBackend) WriteRegion(r Region, data []byte) error {
	if len(data) != b.size {
		return fmt.Errorf("region data is %d bytes, want %d", len(data), b.size)
	}

	f, err := os.OpenFile(b.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, int64(r)*int64(b.size)); err != nil {
		return fmt.Errorf("write %s region: %w", r, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s region: %w", r, err)
	}
	return nil
}

// MemoryBackend holds both regions in memory. Tests and simulation use it
// to inject write failures and interrupted saves.
type MemoryBackend struct {
	mu         sync.Mutex
	regions    [2][]byte
	failWrite  [2]error
	skipBackup bool
}

// NewMemoryBackend creates two zeroed regions of size bytes
func NewMemoryBackend(size int) *MemoryBackend {
	return &MemoryBackend{
		regions: [2][]byte{make([]byte, size), make([]byte, size)},
	}
}

// Size returns the region size
func (b *MemoryBackend) Size() int {
	return len(b.regions[Main])
}

// ReadRegion returns a copy of one region
func (b *MemoryBackend) ReadRegion(r Region) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.regions[r]...), nil
}

// WriteRegion replaces one region
func (b *MemoryBackend) WriteRegion(r Region, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.failWrite[r]; err != nil {
		return err
	}
	if r == Backup && b.skipBackup {
		return nil
	}
	if len(data) != len(b.regions[r]) {
		return fmt.Errorf("region data is %d bytes, want %d", len(data), len(b.regions[r]))
	}
	copy(b.regions[r], data)
	return nil
}

// FailWrites makes writes to r return err; nil clears the failure
func (b *MemoryBackend) FailWrites(r Region, err error) {
	b.mu.Lock()
	b.failWrite[r] = err
	b.mu.Unlock()
}

// SkipBackup silently drops backup writes, as if power failed between the
// main and backup writes
func (b *MemoryBackend) SkipBackup(skip bool) {
	b.mu.Lock()
	b.skipBackup = skip
	b.mu.Unlock()
}

// Corrupt flips the bits of one byte in r
func (b *MemoryBackend) Corrupt(r Region, offset int) {
	b.mu.Lock()
	b.regions[r][offset] ^= 0xFF
	b.mu.Unlock()
}
