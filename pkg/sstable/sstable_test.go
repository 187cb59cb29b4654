package sstable

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"lsmdb/pkg/types"
)

func buildTestTable(t *testing.T, n int, blockSize int) (*Table, [][2]string) {
	t.Helper()
	b := NewBuilder(blockSize)
	var records [][2]string
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%04d", i)
		v := fmt.Sprintf("val-%04d", i)
		b.Add([]byte(k), []byte(v))
		records = append(records, [2]string{k, v})
	}
	path := filepath.Join(t.TempDir(), Name(types.FileID(1)))
	if err := b.Finish(path, 0.01); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	tbl, err := Open(path, types.FileID(1))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return tbl, records
}

func TestBuildAndIterateInOrder(t *testing.T) {
	tbl, records := buildTestTable(t, 500, 4096)
	defer tbl.Close()

	it, err := tbl.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}
	i := 0
	for ok := it.SeekToFirst(); ok; ok = it.Next() {
		if string(it.Key()) != records[i][0] || string(it.Value()) != records[i][1] {
			t.Fatalf("entry %d mismatch: got %s=%s want %s=%s", i, it.Key(), it.Value(), records[i][0], records[i][1])
		}
		i++
	}
	if i != len(records) {
		t.Fatalf("iterated %d entries, want %d", i, len(records))
	}
}

func TestTableGet(t *testing.T) {
	tbl, records := buildTestTable(t, 300, 2048)
	defer tbl.Close()

	for _, r := range records {
		val, ok, err := tbl.Get([]byte(r[0]))
		if err != nil {
			t.Fatalf("Get(%s) error: %v", r[0], err)
		}
		if !ok || !bytes.Equal(val, []byte(r[1])) {
			t.Fatalf("Get(%s) = %q, %v; want %q, true", r[0], val, ok, r[1])
		}
	}

	if _, ok, err := tbl.Get([]byte("zzz-missing")); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want ok=false", ok, err)
	}
}

func TestSeekMidTable(t *testing.T) {
	tbl, records := buildTestTable(t, 200, 1024)
	defer tbl.Close()

	it, err := tbl.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}
	target := records[100][0]
	if !it.Seek([]byte(target)) {
		t.Fatalf("Seek(%s) failed", target)
	}
	if string(it.Key()) != target {
		t.Fatalf("Seek landed on %s, want %s", it.Key(), target)
	}
}

func TestSmallestAndBiggest(t *testing.T) {
	tbl, records := buildTestTable(t, 50, 512)
	defer tbl.Close()

	if string(tbl.Smallest()) != records[0][0] {
		t.Fatalf("Smallest() = %s, want %s", tbl.Smallest(), records[0][0])
	}
	if string(tbl.Biggest()) != records[len(records)-1][0] {
		t.Fatalf("Biggest() = %s, want %s", tbl.Biggest(), records[len(records)-1][0])
	}
}

func TestBloomFilterExcludesAbsentKeys(t *testing.T) {
	tbl, _ := buildTestTable(t, 1000, 4096)
	defer tbl.Close()

	falsePositives := 0
	trials := 1000
	for i := 0; i < trials; i++ {
		k := fmt.Sprintf("absent-%04d", i)
		if tbl.MayContain([]byte(k)) {
			falsePositives++
		}
	}
	if falsePositives > trials/5 {
		t.Fatalf("too many false positives: %d/%d", falsePositives, trials)
	}
}
