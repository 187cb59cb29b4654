package wal

import (
	"bytes"
	"testing"
)

func TestAddAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, 1, 4096)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer w.Close()

	records := [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}}
	for _, r := range records {
		if err := w.Add([]byte(r[0]), []byte(r[1])); err != nil {
			t.Fatalf("Add(%s,%s) failed: %v", r[0], r[1], err)
		}
	}

	var got [][2]string
	end, err := w.Replay(func(key, val []byte) bool {
		got = append(got, [2]string{string(key), string(val)})
		return true
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if end != w.Size() {
		t.Fatalf("Replay end offset %d != Size() %d", end, w.Size())
	}
	if len(got) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(got))
	}
	for i, r := range records {
		if got[i][0] != r[0] || got[i][1] != r[1] {
			t.Fatalf("record %d mismatch: want %v got %v", i, r, got[i])
		}
	}
}

func TestReopenAndResume(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, 7, 4096)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := w.Add([]byte("k0"), []byte("v0")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(dir, 7)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reopened.Close()

	var recovered int
	end, err := reopened.Replay(func(key, val []byte) bool {
		recovered++
		if !bytes.Equal(key, []byte("k0")) || !bytes.Equal(val, []byte("v0")) {
			t.Fatalf("unexpected record %q=%q", key, val)
		}
		return true
	})
	if err != nil {
		t.Fatalf("Replay after reopen failed: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 recovered record, got %d", recovered)
	}
	reopened.Resume(end)

	if err := reopened.Add([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Add after resume failed: %v", err)
	}
}

func TestAddReturnsErrFullWhenExhausted(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, 1, 16)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer w.Close()

	for {
		if err := w.Add([]byte("x"), []byte("y")); err != nil {
			if err != ErrFull {
				t.Fatalf("unexpected error: %v", err)
			}
			break
		}
	}
}

func TestRemoveDeletesFile(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, 9, 64)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	path := w.Path()
	if err := w.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := Open(dir, 9); err == nil {
		t.Fatalf("expected Open to fail after Remove, file %s should be gone", path)
	}
}
