package memtable

import (
	"bytes"
	"testing"

	"lsmdb/pkg/wal"
)

func TestInsertAndGet(t *testing.T) {
	dir := t.TempDir()
	mt, err := New(dir, 1, 4096)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer mt.Close()

	if err := mt.Insert([]byte("a"), []byte("1"), 1); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := mt.Insert([]byte("a"), []byte("2"), 2); err != nil {
		t.Fatalf("Insert overwrite failed: %v", err)
	}

	item, ok := mt.Get([]byte("a"))
	if !ok {
		t.Fatal("expected to find key a")
	}
	if !bytes.Equal(item.Value, []byte("2")) {
		t.Fatalf("expected latest value '2', got %q", item.Value)
	}
}

func TestSnapshotIsSorted(t *testing.T) {
	dir := t.TempDir()
	mt, err := New(dir, 2, 4096)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer mt.Close()

	for _, k := range []string{"c", "a", "b"} {
		if err := mt.Insert([]byte(k), []byte("v"), 1); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	snap := mt.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 items, got %d", len(snap))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(snap[i].Key) != want {
			t.Fatalf("snapshot[%d] = %q, want %q", i, snap[i].Key, want)
		}
	}
}

func TestFreezeRejectsFurtherInserts(t *testing.T) {
	dir := t.TempDir()
	mt, err := New(dir, 3, 4096)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer mt.Close()

	mt.Freeze()
	if err := mt.Insert([]byte("x"), []byte("y"), 1); err != ErrFrozen {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
}

func TestRecoveryReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	mt, err := New(dir, 4, 4096)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		k := []byte{'k', byte('0' + i)}
		v := []byte{'v', byte('0' + i)}
		if err := mt.Insert(k, v, uint64(i)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if err := mt.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	recovered, err := Open(dir, 4)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer recovered.Close()

	if recovered.Len() != 5 {
		t.Fatalf("expected 5 recovered items, got %d", recovered.Len())
	}
	item, ok := recovered.Get([]byte("k3"))
	if !ok || !bytes.Equal(item.Value, []byte("v3")) {
		t.Fatalf("expected k3=v3 after recovery, got %v %v", item, ok)
	}

	if err := recovered.Insert([]byte("k5"), []byte("v5"), 5); err != nil {
		t.Fatalf("insert after recovery failed: %v", err)
	}
}

func TestDiscardRemovesWALFile(t *testing.T) {
	dir := t.TempDir()
	mt, err := New(dir, 5, 4096)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := mt.Discard(); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if _, err := wal.Open(dir, 5); err == nil {
		t.Fatal("expected wal file to be removed after Discard")
	}
}
