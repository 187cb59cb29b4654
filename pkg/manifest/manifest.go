// Package manifest implements the durable catalogue of which SST files
// belong to which level: a binary append-only log of change sets, bootstrapped
// by a rewrite-then-rename sequence so a crash mid-bootstrap never leaves a
// half-written MANIFEST behind.
package manifest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"lsmdb/pkg/types"
	"lsmdb/pkg/wireformat"
)

const (
	magic       = "HARD"
	fileVersion = uint32(1)

	manifestName = "MANIFEST"
	rewriteName  = "REWRITEMANIFEST"
)

// ErrCorrupt is returned when the manifest file's framing or checksums
// don't check out.
var ErrCorrupt = errors.New("manifest: corrupt log")

// ErrDuplicateID is returned when a CREATE change names a file id already
// present in the catalogue.
var ErrDuplicateID = errors.New("manifest: create: id already exists")

// ErrMissingID is returned when a DELETE change names a file id absent
// from the catalogue.
var ErrMissingID = errors.New("manifest: delete: id does not exist")

// TableMeta is one SST's catalogue entry.
type TableMeta struct {
	ID       types.FileID
	Level    int
	Checksum []byte
}

// Manifest owns the append-only log file and the in-memory reconstruction
// of the current table catalogue.
type Manifest struct {
	mu   sync.Mutex
	dir  string
	file *os.File

	tables map[types.FileID]TableMeta
}

// Open bootstraps or recovers the manifest in dir. If no MANIFEST file
// exists yet, one is created via the rewrite-then-rename sequence. The
// returned Manifest holds the reconciled table catalogue as of the last
// durable record.
func Open(dir string) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("manifest: create dir: %w", err)
	}
	path := filepath.Join(dir, manifestName)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := bootstrap(dir); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("manifest: stat %s: %w", path, err)
	}

	tables, err := replay(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s for append: %w", path, err)
	}

	return &Manifest{dir: dir, file: file, tables: tables}, nil
}

// bootstrap writes an empty change set to REWRITEMANIFEST, fsyncs it, and
// durably renames it to MANIFEST (original_source's help_rwrite sequence).
func bootstrap(dir string) error {
	rwPath := filepath.Join(dir, rewriteName)
	f, err := os.OpenFile(rwPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("manifest: create %s: %w", rwPath, err)
	}

	header := make([]byte, 0, 8)
	header = append(header, magic...)
	header = binary.LittleEndian.AppendUint32(header, fileVersion)
	header = binary.LittleEndian.AppendUint32(header, 0) // empty change set: length 0
	header = binary.LittleEndian.AppendUint32(header, crc32.ChecksumIEEE(nil))
	if _, err := f.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("manifest: write header to %s: %w", rwPath, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("manifest: sync %s: %w", rwPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("manifest: close %s: %w", rwPath, err)
	}

	path := filepath.Join(dir, manifestName)
	if err := os.Rename(rwPath, path); err != nil {
		return fmt.Errorf("manifest: rename %s to %s: %w", rwPath, path, err)
	}
	return nil
}

// replay reads every change set record from path and applies them in
// order, producing the current table catalogue.
func replay(path string) (map[types.FileID]TableMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("manifest: %s: %w: %v", path, ErrCorrupt, err)
	}
	if string(header[:4]) != magic {
		return nil, fmt.Errorf("manifest: %s: %w: bad magic", path, ErrCorrupt)
	}

	tables := make(map[types.FileID]TableMeta)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("manifest: %s: %w: %v", path, ErrCorrupt, err)
		}
		payloadLen := binary.LittleEndian.Uint32(lenBuf[:])

		var checksumBuf [4]byte
		if _, err := io.ReadFull(r, checksumBuf[:]); err != nil {
			return nil, fmt.Errorf("manifest: %s: %w: %v", path, ErrCorrupt, err)
		}
		wantChecksum := binary.LittleEndian.Uint32(checksumBuf[:])

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("manifest: %s: %w: %v", path, ErrCorrupt, err)
		}
		if crc32.ChecksumIEEE(payload) != wantChecksum {
			return nil, fmt.Errorf("manifest: %s: %w: checksum mismatch", path, ErrCorrupt)
		}

		cs, err := wireformat.DecodeManifestChangeSet(payload)
		if err != nil {
			return nil, fmt.Errorf("manifest: %s: decode change set: %w", path, err)
		}
		if err := applyChangeSet(tables, cs); err != nil {
			return nil, fmt.Errorf("manifest: %s: %w: %v", path, ErrCorrupt, err)
		}
	}
	return tables, nil
}

// applyChangeSet applies every change in cs to tables in order. A CREATE
// for an id already present, or a DELETE for an id that isn't, indicates a
// corrupt or buggy manifest log and aborts before any further changes in
// the set are applied.
func applyChangeSet(tables map[types.FileID]TableMeta, cs wireformat.ManifestChangeSet) error {
	for _, c := range cs.Changes {
		fid := types.FileID(c.ID)
		switch c.Op {
		case wireformat.OpCreate:
			if _, exists := tables[fid]; exists {
				return fmt.Errorf("%w: %d", ErrDuplicateID, fid)
			}
			tables[fid] = TableMeta{ID: fid, Level: int(c.Level), Checksum: c.Checksum}
		case wireformat.OpDelete:
			if _, exists := tables[fid]; !exists {
				return fmt.Errorf("%w: %d", ErrMissingID, fid)
			}
			delete(tables, fid)
		}
	}
	return nil
}

// Tables returns a snapshot of the current catalogue.
func (m *Manifest) Tables() []TableMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TableMeta, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t)
	}
	return out
}

// AddChanges validates and appends one change set record, then applies it
// to the in-memory catalogue. Validation happens against a trial copy of
// the catalogue before anything is written, so a CREATE for an id already
// present or a DELETE for a missing id is rejected without touching the
// log. The file append and the in-memory update happen under the same
// lock so readers never see a change that isn't durable.
func (m *Manifest) AddChanges(changes []wireformat.ManifestChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := wireformat.ManifestChangeSet{Changes: changes}

	trial := make(map[types.FileID]TableMeta, len(m.tables))
	for k, v := range m.tables {
		trial[k] = v
	}
	if err := applyChangeSet(trial, cs); err != nil {
		return fmt.Errorf("manifest: add changes: %w", err)
	}

	payload := wireformat.EncodeManifestChangeSet(cs)
	checksum := crc32.ChecksumIEEE(payload)

	record := make([]byte, 0, len(payload)+8)
	record = binary.LittleEndian.AppendUint32(record, uint32(len(payload)))
	record = binary.LittleEndian.AppendUint32(record, checksum)
	record = append(record, payload...)

	if _, err := m.file.Write(record); err != nil {
		return fmt.Errorf("manifest: append record: %w", err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("manifest: sync: %w", err)
	}

	m.tables = trial
	return nil
}

// CreateChange builds a ManifestChange recording a new table fid at level.
func CreateChange(fid types.FileID, level int) wireformat.ManifestChange {
	return wireformat.ManifestChange{ID: uint64(fid), Op: wireformat.OpCreate, Level: uint32(level)}
}

// DeleteChange builds a ManifestChange recording the removal of fid.
func DeleteChange(fid types.FileID) wireformat.ManifestChange {
	return wireformat.ManifestChange{ID: uint64(fid), Op: wireformat.OpDelete}
}

// Revert reconciles the manifest's catalogue against the set of file ids
// actually present in work_dir. Every manifest id must have a backing
// file — a missing one is fatal corruption. Backing files absent from the
// manifest are returned so the caller can delete them.
func (m *Manifest) Revert(actualFileIDs map[types.FileID]bool) (orphans []types.FileID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for fid := range m.tables {
		if !actualFileIDs[fid] {
			return nil, fmt.Errorf("manifest: table %d has no backing file", fid)
		}
	}
	for fid := range actualFileIDs {
		if _, ok := m.tables[fid]; !ok {
			orphans = append(orphans, fid)
		}
	}
	return orphans, nil
}

// Close closes the underlying log file.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}
