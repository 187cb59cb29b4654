package levels

import (
	"fmt"
	"path/filepath"
	"testing"

	"lsmdb/pkg/manifest"
	"lsmdb/pkg/sstable"
	"lsmdb/pkg/types"
)

func writeTable(t *testing.T, dir string, fid types.FileID, keys []string) *sstable.Table {
	t.Helper()
	b := sstable.NewBuilder(4096)
	for _, k := range keys {
		b.Add([]byte(k), []byte("v-"+k))
	}
	path := filepath.Join(dir, sstable.Name(fid))
	if err := b.Finish(path, 0.01); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	tbl, err := sstable.Open(path, fid)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return tbl
}

func TestOpenLoadsTablesByLevel(t *testing.T) {
	dir := t.TempDir()
	tbl1 := writeTable(t, dir, 1, []string{"a", "b", "c"})
	tbl1.Close()
	tbl2 := writeTable(t, dir, 2, []string{"d", "e"})
	tbl2.Close()

	metas := []manifest.TableMeta{{ID: 1, Level: 0}, {ID: 2, Level: 1}}
	m, err := Open(dir, 4, metas)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	if len(m.Level(0).Tables()) != 1 {
		t.Fatalf("expected 1 table in L0, got %d", len(m.Level(0).Tables()))
	}
	if len(m.Level(1).Tables()) != 1 {
		t.Fatalf("expected 1 table in L1, got %d", len(m.Level(1).Tables()))
	}
}

func TestGetFindsKeyAcrossLevels(t *testing.T) {
	dir := t.TempDir()
	tbl1 := writeTable(t, dir, 1, []string{"a", "b"})
	tbl1.Close()
	tbl2 := writeTable(t, dir, 2, []string{"c", "d"})
	tbl2.Close()

	metas := []manifest.TableMeta{{ID: 1, Level: 0}, {ID: 2, Level: 1}}
	m, err := Open(dir, 4, metas)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	val, ok, err := m.Get([]byte("d"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(val) != "v-d" {
		t.Fatalf("Get(d) = %q, %v; want v-d, true", val, ok)
	}

	if _, ok, _ := m.Get([]byte("zzz")); ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestReplaceLevelTables(t *testing.T) {
	dir := t.TempDir()
	tbl1 := writeTable(t, dir, 1, []string{"a"})
	tbl1.Close()

	metas := []manifest.TableMeta{{ID: 1, Level: 1}}
	m, err := Open(dir, 4, metas)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	replacement := writeTable(t, dir, 2, []string{"a", "b"})
	removed, err := m.ReplaceLevelTables(1, []types.FileID{1}, []*sstable.Table{replacement})
	if err != nil {
		t.Fatalf("ReplaceLevelTables failed: %v", err)
	}
	if len(removed) != 1 || removed[0].FileID() != 1 {
		t.Fatalf("expected removed=[1], got %v", removed)
	}
	if len(m.Level(1).Tables()) != 1 || m.Level(1).Tables()[0].FileID() != 2 {
		t.Fatalf("expected level 1 to now hold only table 2")
	}
}

func TestGetLevelOverlappingTablesL1Disjoint(t *testing.T) {
	dir := t.TempDir()
	var metas []manifest.TableMeta
	for i, keys := range [][]string{{"a", "b"}, {"m", "n"}, {"y", "z"}} {
		fid := types.FileID(i + 1)
		tbl := writeTable(t, dir, fid, keys)
		tbl.Close()
		metas = append(metas, manifest.TableMeta{ID: fid, Level: 1})
	}

	m, err := Open(dir, 4, metas)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	overlap := m.GetLevelOverlappingTables(1, types.KeyRange{Left: []byte("l"), Right: []byte("p")})
	if len(overlap) != 1 || string(overlap[0].Smallest()) != "m" {
		t.Fatalf("expected overlap with the [m,n] table only, got %v", describeTables(overlap))
	}
}

func describeTables(tables []*sstable.Table) string {
	s := ""
	for _, t := range tables {
		s += fmt.Sprintf("%s..%s ", t.Smallest(), t.Biggest())
	}
	return s
}
