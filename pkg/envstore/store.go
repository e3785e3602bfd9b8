// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package envstore is a small persisted key-value store kept in two
// redundant regions.
//
// Each region is laid out as
//
//	[crc16 LE][counter u32 LE][name=value\0 ... name=value\0 \0][zero fill]
//
// The CRC covers everything after itself. Every save bumps the counter and
// writes the main region before the backup, so after an interrupted save the
// newer copy is recognisable at boot.
package envstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Thermoquad/coldlocker/pkg/crc16"
)

// Layout
const (
	headerSize        = crc16.Size + 4
	DefaultRegionSize = 512
	MinRegionSize     = headerSize + 1
)

// Store errors
var (
	ErrInvalidName  = errors.New("invalid variable name")
	ErrInvalidValue = errors.New("invalid variable value")
	ErrNoSpace      = errors.New("environment full")
	ErrNotFound     = errors.New("variable not found")
)

// Recovery describes what Open had to do to reconcile the regions
type Recovery int

// Boot reconciliation outcomes
const (
	RecoveryNone          Recovery = iota // both regions valid and equal
	RecoverySyncedBackup                  // both valid, main newer; backup rewritten
	RecoverySyncedMain                    // both valid, backup newer; main rewritten
	RecoveryRestoredBackup                // backup invalid; restored from main
	RecoveryRestoredMain                  // main invalid; restored from backup
	RecoveryReset                         // both invalid; started empty
)

func (r Recovery) String() string {
	switch r {
	case RecoveryNone:
		return "none"
	case RecoverySyncedBackup:
		return "synced backup from main"
	case RecoverySyncedMain:
		return "synced main from backup"
	case RecoveryRestoredBackup:
		return "restored backup from main"
	case RecoveryRestoredMain:
		return "restored main from backup"
	case RecoveryReset:
		return "reset to empty"
	default:
		return "unknown"
	}
}

// Entry is one stored variable
type Entry struct {
	Name  string
	Value string
}

// Store is the in-memory view of the environment. It is safe for
// concurrent use.
type Store struct {
	mu      sync.Mutex
	backend Backend
	size    int
	counter uint32
	entries []Entry
}

// region is a decoded copy
type region struct {
	raw     []byte
	valid   bool
	counter uint32
}

func readRegion(b Backend, r Region) (region, error) {
	raw, err := b.ReadRegion(r)
	if err != nil {
		return region{}, err
	}
	if len(raw) < MinRegionSize {
		return region{raw: raw}, nil
	}
	stored := binary.LittleEndian.Uint16(raw[0:2])
	return region{
		raw:     raw,
		valid:   stored == crc16.Checksum(raw[crc16.Size:]),
		counter: binary.LittleEndian.Uint32(raw[2:6]),
	}, nil
}

// Open loads the environment from backend, repairing whichever region is
// missing or stale
func Open(backend Backend) (*Store, Recovery, error) {
	s := &Store{backend: backend, size: backend.Size()}
	if s.size < MinRegionSize {
		return nil, RecoveryNone, fmt.Errorf("region size %d below minimum %d", s.size, MinRegionSize)
	}

	main, err := readRegion(backend, Main)
	if err != nil {
		return nil, RecoveryNone, fmt.Errorf("read main region: %w", err)
	}
	backup, err := readRegion(backend, Backup)
	if err != nil {
		return nil, RecoveryNone, fmt.Errorf("read backup region: %w", err)
	}

	var (
		source   region
		repair   Region
		recovery Recovery
	)
	switch {
	case main.valid && backup.valid:
		if bytes.Equal(main.raw, backup.raw) {
			source, recovery = main, RecoveryNone
		} else if backup.counter > main.counter {
			source, repair, recovery = backup, Main, RecoverySyncedMain
		} else {
			source, repair, recovery = main, Backup, RecoverySyncedBackup
		}
	case main.valid:
		source, repair, recovery = main, Backup, RecoveryRestoredBackup
	case backup.valid:
		source, repair, recovery = backup, Main, RecoveryRestoredMain
	default:
		s.entries = nil
		s.counter = 0
		raw := s.encode()
		if err := backend.WriteRegion(Main, raw); err != nil {
			return nil, RecoveryReset, fmt.Errorf("reset main region: %w", err)
		}
		if err := backend.WriteRegion(Backup, raw); err != nil {
			return nil, RecoveryReset, fmt.Errorf("reset backup region: %w", err)
		}
		return s, RecoveryReset, nil
	}

	s.counter = source.counter
	s.entries = decode(source.raw[headerSize:])
	if recovery != RecoveryNone {
		if err := backend.WriteRegion(repair, source.raw); err != nil {
			return nil, recovery, fmt.Errorf("repair %s region: %w", repair, err)
		}
	}
	return s, recovery, nil
}

// decode parses name=value entries up to the empty terminator
func decode(data []byte) []Entry {
	var entries []Entry
	for len(data) > 0 {
		end := bytes.IndexByte(data, 0)
		if end <= 0 {
			break
		}
		item := data[:end]
		data = data[end+1:]

		eq := bytes.IndexByte(item, '=')
		if eq <= 0 {
			continue
		}
		entries = append(entries, Entry{Name: string(item[:eq]), Value: string(item[eq+1:])})
	}
	return entries
}

// used returns the encoded data size including the terminator
func used(entries []Entry) int {
	n := 1
	for _, e := range entries {
		n += len(e.Name) + 1 + len(e.Value) + 1
	}
	return n
}

// encode builds a full region image; callers hold mu
func (s *Store) encode() []byte {
	raw := make([]byte, s.size)
	binary.LittleEndian.PutUint32(raw[2:6], s.counter)
	p := headerSize
	for _, e := range s.entries {
		p += copy(raw[p:], e.Name)
		raw[p] = '='
		p++
		p += copy(raw[p:], e.Value)
		raw[p] = 0
		p++
	}
	binary.LittleEndian.PutUint16(raw[0:2], crc16.Checksum(raw[crc16.Size:]))
	return raw
}

// save bumps the counter and writes main then backup; callers hold mu
func (s *Store) save() error {
	s.counter++
	raw := s.encode()
	if err := s.backend.WriteRegion(Main, raw); err != nil {
		return fmt.Errorf("save main region: %w", err)
	}
	if err := s.backend.WriteRegion(Backup, raw); err != nil {
		return fmt.Errorf("save backup region: %w", err)
	}
	return nil
}

func (s *Store) index(name string) int {
	for i, e := range s.entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "=\x00")
}

// Get returns the value of name
func (s *Store) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.index(name); i >= 0 {
		return s.entries[i].Value, true
	}
	return "", false
}

// Set stores name=value and persists the environment. Any previous
// definition is replaced. A failed write leaves the in-memory value set.
func (s *Store) Set(name, value string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%w: contains NUL", ErrInvalidValue)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Entry, 0, len(s.entries)+1)
	for _, e := range s.entries {
		if e.Name != name {
			next = append(next, e)
		}
	}
	next = append(next, Entry{Name: name, Value: value})

	if used(next) > s.size-headerSize {
		return fmt.Errorf("%w: %s needs %d of %d bytes", ErrNoSpace, name, used(next), s.size-headerSize)
	}

	s.entries = next
	return s.save()
}

// Delete removes name and persists the environment
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return s.save()
}

// Clear removes every variable and persists the empty environment
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	return s.save()
}

// All returns every variable sorted by name
func (s *Store) All() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]Entry(nil), s.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Counter returns the save counter of the loaded environment
func (s *Store) Counter() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// Free returns the bytes left for new entries
func (s *Store) Free() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size - headerSize - used(s.entries)
}
