//go:build unix

package mmfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMapRWCreatesAndExtends(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mmap test in short mode")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "region.bin")

	data, cleanup, err := MapRW(path, 8192)
	if err != nil {
		t.Fatalf("MapRW: %v", err)
	}
	if len(data) != 8192 {
		t.Fatalf("len mismatch: got %d want 8192", len(data))
	}
	for i, b := range data {
		if b != 0 {
			t.Fatalf("fresh mapping not zeroed at %d: 0x%x", i, b)
		}
	}

	// Stores must land in the file.
	copy(data, []byte{0xde, 0xad, 0xbe, 0xef})
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(onDisk) != 8192 {
		t.Fatalf("file size: got %d want 8192", len(onDisk))
	}
	for i, want := range []byte{0xde, 0xad, 0xbe, 0xef} {
		if onDisk[i] != want {
			t.Fatalf("byte %d mismatch: got 0x%x want 0x%x", i, onDisk[i], want)
		}
	}
}

func TestMapRWAdoptsExistingContents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mmap test in short mode")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "existing.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, cleanup, err := MapRW(path, 4096)
	if err != nil {
		t.Fatalf("MapRW: %v", err)
	}
	defer func() {
		if cleanupErr := cleanup(); cleanupErr != nil {
			t.Fatalf("cleanup: %v", cleanupErr)
		}
	}()
	if data[0] != 1 || data[1] != 2 || data[2] != 3 {
		t.Fatalf("existing bytes not visible: % x", data[:3])
	}
	if data[3] != 0 {
		t.Fatalf("extension not zeroed: 0x%x", data[3])
	}
}

func TestMapRWRejectsBadSize(t *testing.T) {
	if _, _, err := MapRW(filepath.Join(t.TempDir(), "x"), 0); err == nil {
		t.Fatal("expected error for zero size")
	}
	if _, _, err := MapRW(filepath.Join(t.TempDir(), "x"), -1); err == nil {
		t.Fatal("expected error for negative size")
	}
}

func TestMapReadOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mmap test in short mode")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ro.bin")
	want := []byte{0x42, 0x43, 0x44}
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, cleanup, err := Map(path)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer func() {
		if cleanupErr := cleanup(); cleanupErr != nil {
			t.Fatalf("cleanup: %v", cleanupErr)
		}
	}()
	if len(data) != len(want) {
		t.Fatalf("len mismatch: got %d want %d", len(data), len(want))
	}
	for i, b := range want {
		if data[i] != b {
			t.Fatalf("byte %d mismatch: got 0x%x want 0x%x", i, data[i], b)
		}
	}
}
