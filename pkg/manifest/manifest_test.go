package manifest

import (
	"testing"

	"lsmdb/pkg/types"
	"lsmdb/pkg/wireformat"
)

func TestBootstrapCreatesEmptyManifest(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	if len(m.Tables()) != 0 {
		t.Fatalf("expected empty catalogue, got %d tables", len(m.Tables()))
	}
}

func TestAddChangesAndReopen(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := m.AddChanges([]wireformat.ManifestChange{CreateChange(1, 0)}); err != nil {
		t.Fatalf("AddChanges failed: %v", err)
	}
	if err := m.AddChanges([]wireformat.ManifestChange{CreateChange(2, 1)}); err != nil {
		t.Fatalf("AddChanges failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	tables := reopened.Tables()
	if len(tables) != 2 {
		t.Fatalf("expected 2 tables after reopen, got %d", len(tables))
	}
}

func TestDeleteChangeRemovesTable(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	if err := m.AddChanges([]wireformat.ManifestChange{CreateChange(5, 0)}); err != nil {
		t.Fatalf("AddChanges failed: %v", err)
	}
	if err := m.AddChanges([]wireformat.ManifestChange{DeleteChange(5)}); err != nil {
		t.Fatalf("AddChanges delete failed: %v", err)
	}
	if len(m.Tables()) != 0 {
		t.Fatalf("expected table to be deleted, got %d", len(m.Tables()))
	}
}

func TestRevertDetectsMissingBackingFile(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	if err := m.AddChanges([]wireformat.ManifestChange{CreateChange(9, 0)}); err != nil {
		t.Fatalf("AddChanges failed: %v", err)
	}

	if _, err := m.Revert(map[types.FileID]bool{}); err == nil {
		t.Fatal("expected Revert to fail when table 9 has no backing file")
	}
}

func TestAddChangesRejectsDuplicateCreate(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	if err := m.AddChanges([]wireformat.ManifestChange{CreateChange(7, 0)}); err != nil {
		t.Fatalf("AddChanges failed: %v", err)
	}
	if err := m.AddChanges([]wireformat.ManifestChange{CreateChange(7, 1)}); err == nil {
		t.Fatal("expected a second CREATE of the same id to fail")
	}
	if len(m.Tables()) != 1 {
		t.Fatalf("expected the rejected change to leave the catalogue untouched, got %d tables", len(m.Tables()))
	}
}

func TestAddChangesRejectsDeleteOfMissingID(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	if err := m.AddChanges([]wireformat.ManifestChange{DeleteChange(99)}); err == nil {
		t.Fatal("expected DELETE of an absent id to fail")
	}
	if len(m.Tables()) != 0 {
		t.Fatalf("expected catalogue to remain empty, got %d tables", len(m.Tables()))
	}
}

func TestRevertReportsOrphanFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	orphans, err := m.Revert(map[types.FileID]bool{42: true})
	if err != nil {
		t.Fatalf("Revert failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != 42 {
		t.Fatalf("expected orphan [42], got %v", orphans)
	}
}
