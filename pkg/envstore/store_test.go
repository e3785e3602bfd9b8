// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package envstore

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func openMemory(t *testing.T, b *MemoryBackend) (*Store, Recovery) {
	t.Helper()
	s, rec, err := Open(b)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, rec
}

// ============================================================
// Round Trip Tests
// ============================================================

func TestStore_SetGet(t *testing.T) {
	b := NewMemoryBackend(DefaultRegionSize)
	s, rec := openMemory(t, b)
	if rec != RecoveryReset {
		t.Errorf("blank backend should reset, got %v", rec)
	}

	if err := s.Set("temperature", "6"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := s.Get("temperature"); !ok || v != "6" {
		t.Errorf("Get = %q, %v", v, ok)
	}

	if err := s.Set("temperature", "8"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := s.Get("temperature"); v != "8" {
		t.Errorf("expected replaced value 8, got %q", v)
	}
	if n := len(s.All()); n != 1 {
		t.Errorf("replacing should not duplicate, got %d entries", n)
	}

	reopened, rec := openMemory(t, b)
	if rec != RecoveryNone {
		t.Errorf("clean reopen should need no recovery, got %v", rec)
	}
	if v, _ := reopened.Get("temperature"); v != "8" {
		t.Errorf("expected persisted 8, got %q", v)
	}
	if reopened.Counter() != s.Counter() {
		t.Errorf("counter mismatch: %d != %d", reopened.Counter(), s.Counter())
	}
}

func TestStore_EmptyValue(t *testing.T) {
	s, _ := openMemory(t, NewMemoryBackend(DefaultRegionSize))
	if err := s.Set("flag", ""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := s.Get("flag"); !ok || v != "" {
		t.Errorf("Get = %q, %v", v, ok)
	}
}

func TestStore_DeleteAndClear(t *testing.T) {
	b := NewMemoryBackend(DefaultRegionSize)
	s, _ := openMemory(t, b)
	s.Set("b", "2")
	s.Set("a", "1")
	s.Set("c", "3")

	all := s.All()
	if len(all) != 3 || all[0].Name != "a" || all[2].Name != "c" {
		t.Errorf("All should be sorted, got %v", all)
	}

	if err := s.Delete("b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get("b"); ok {
		t.Error("deleted variable still present")
	}
	if err := s.Delete("b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	reopened, _ := openMemory(t, b)
	if len(reopened.All()) != 0 {
		t.Errorf("expected empty store after clear, got %v", reopened.All())
	}
}

// ============================================================
// Validation Tests
// ============================================================

func TestStore_InvalidInput(t *testing.T) {
	s, _ := openMemory(t, NewMemoryBackend(DefaultRegionSize))

	tests := []struct {
		name    string
		key     string
		value   string
		wantErr error
	}{
		{"empty name", "", "1", ErrInvalidName},
		{"equals in name", "a=b", "1", ErrInvalidName},
		{"nul in name", "a\x00", "1", ErrInvalidName},
		{"nul in value", "a", "x\x00y", ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Set(tt.key, tt.value); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
	if s.Counter() != 0 {
		t.Errorf("rejected sets should not save, counter=%d", s.Counter())
	}
}

func TestStore_NoSpace(t *testing.T) {
	s, _ := openMemory(t, NewMemoryBackend(32))

	// 32 - 6 header = 26 bytes; "k=" + 20 + NUL + terminator = 24
	if err := s.Set("k", strings.Repeat("x", 20)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("j", "1234"); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
	if _, ok := s.Get("j"); ok {
		t.Error("overflowing variable should not be stored")
	}
	if s.Free() != 2 {
		t.Errorf("expected 2 bytes free, got %d", s.Free())
	}
}

// ============================================================
// Reconciliation Tests
// ============================================================

func TestOpen_PowerLossBetweenWrites(t *testing.T) {
	b := NewMemoryBackend(DefaultRegionSize)
	s, _ := openMemory(t, b)
	s.Set("temperature", "6")

	b.SkipBackup(true)
	s.Set("temperature", "10")
	b.SkipBackup(false)

	reopened, rec := openMemory(t, b)
	if rec != RecoverySyncedBackup {
		t.Errorf("expected backup sync from the newer main, got %v", rec)
	}
	if v, _ := reopened.Get("temperature"); v != "10" {
		t.Errorf("expected the newer value 10, got %q", v)
	}

	_, rec = openMemory(t, b)
	if rec != RecoveryNone {
		t.Errorf("regions should agree after sync, got %v", rec)
	}
}

func TestStore_FailedSaveKeepsMemoryValue(t *testing.T) {
	b := NewMemoryBackend(DefaultRegionSize)
	s, _ := openMemory(t, b)
	s.Set("temperature", "6")

	b.FailWrites(Main, errors.New("erase failed"))
	if err := s.Set("temperature", "12"); err == nil {
		t.Fatal("expected write error")
	}
	b.FailWrites(Main, nil)
	if v, _ := s.Get("temperature"); v != "12" {
		t.Errorf("in-memory value should stay set after a failed save, got %q", v)
	}

	// neither region was written, so both still hold 6
	reopened, rec := openMemory(t, b)
	if rec != RecoveryNone {
		t.Errorf("expected untouched regions, got %v", rec)
	}
	if v, _ := reopened.Get("temperature"); v != "6" {
		t.Errorf("expected 6 on disk, got %q", v)
	}
}

func TestOpen_BackupNewer(t *testing.T) {
	b := NewMemoryBackend(DefaultRegionSize)
	s, _ := openMemory(t, b)
	s.Set("temperature", "6")
	older, _ := b.ReadRegion(Main)
	s.Set("temperature", "9")
	newer, _ := b.ReadRegion(Backup)

	mixed := NewMemoryBackend(DefaultRegionSize)
	mixed.WriteRegion(Main, older)
	mixed.WriteRegion(Backup, newer)

	reopened, rec := openMemory(t, mixed)
	if rec != RecoverySyncedMain {
		t.Errorf("expected main sync from the newer backup, got %v", rec)
	}
	if v, _ := reopened.Get("temperature"); v != "9" {
		t.Errorf("expected 9, got %q", v)
	}
}

func TestOpen_RestoreFromEitherCopy(t *testing.T) {
	tests := []struct {
		name    string
		corrupt Region
		want    Recovery
	}{
		{"main corrupt", Main, RecoveryRestoredMain},
		{"backup corrupt", Backup, RecoveryRestoredBackup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewMemoryBackend(DefaultRegionSize)
			s, _ := openMemory(t, b)
			s.Set("temperature", "4")
			b.Corrupt(tt.corrupt, headerSize+2)

			reopened, rec := openMemory(t, b)
			if rec != tt.want {
				t.Errorf("expected %v, got %v", tt.want, rec)
			}
			if v, _ := reopened.Get("temperature"); v != "4" {
				t.Errorf("expected 4, got %q", v)
			}
			if _, rec := openMemory(t, b); rec != RecoveryNone {
				t.Errorf("expected repaired regions, got %v", rec)
			}
		})
	}
}

func TestOpen_BothCorrupt(t *testing.T) {
	b := NewMemoryBackend(DefaultRegionSize)
	s, _ := openMemory(t, b)
	s.Set("temperature", "4")
	b.Corrupt(Main, 0)
	b.Corrupt(Backup, 0)

	reopened, rec := openMemory(t, b)
	if rec != RecoveryReset {
		t.Errorf("expected reset, got %v", rec)
	}
	if len(reopened.All()) != 0 || reopened.Counter() != 0 {
		t.Errorf("expected empty store, got %v counter %d", reopened.All(), reopened.Counter())
	}
}

func TestOpen_CounterTieFavoursMain(t *testing.T) {
	a := NewMemoryBackend(DefaultRegionSize)
	sa, _ := openMemory(t, a)
	sa.Set("k", "main")

	b := NewMemoryBackend(DefaultRegionSize)
	sb, _ := openMemory(t, b)
	sb.Set("k", "backup")

	mainRaw, _ := a.ReadRegion(Main)
	backupRaw, _ := b.ReadRegion(Backup)
	mixed := NewMemoryBackend(DefaultRegionSize)
	mixed.WriteRegion(Main, mainRaw)
	mixed.WriteRegion(Backup, backupRaw)

	s, rec := openMemory(t, mixed)
	if rec != RecoverySyncedBackup {
		t.Errorf("expected main to win the tie, got %v", rec)
	}
	if v, _ := s.Get("k"); v != "main" {
		t.Errorf("expected main, got %q", v)
	}
}

// ============================================================
// File Backend Tests
// ============================================================

func TestFileBackend_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.bin")

	b, err := NewFileBackend(path, DefaultRegionSize)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	s, rec, err := Open(b)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if rec != RecoveryReset {
		t.Errorf("new file should reset, got %v", rec)
	}
	if err := s.Set("temperature", "7"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	b2, err := NewFileBackend(path, DefaultRegionSize)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	s2, rec, err := Open(b2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if rec != RecoveryNone {
		t.Errorf("expected clean reopen, got %v", rec)
	}
	if v, _ := s2.Get("temperature"); v != "7" {
		t.Errorf("expected 7, got %q", v)
	}
}

func TestFileBackend_RejectsTinyRegion(t *testing.T) {
	if _, err := NewFileBackend(filepath.Join(t.TempDir(), "env.bin"), 4); err == nil {
		t.Error("expected error for a region smaller than the header")
	}
}
