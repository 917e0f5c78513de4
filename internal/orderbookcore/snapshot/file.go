// Package snapshot persists and restores the engine's books to a
// single file on disk, using the temp-then-rename discipline spec
// §5/§6 requires and the fsync discipline the teacher's
// persistence.FileWAL uses for its own append-only log.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/orbitcex/matchcore/internal/orderbookcore/book"
)

// WriteAtomic persists one snapshot per instrument to path by writing
// a temp file in the same directory and renaming it into place, so a
// crash mid-write never leaves a partially-written snapshot visible at
// path. Grounded on persistence/wal.go's own write-then-fsync
// sequencing. Each book's own Encode output already carries a
// checksum trailer; this just concatenates them behind a count prefix
// so one file can hold every instrument the engine manages.
func WriteAtomic(path string, snaps []book.Snapshot) error {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(snaps)))
	buf.Write(countBuf[:])

	for _, snap := range snaps {
		data, err := book.Encode(snap)
		if err != nil {
			return fmt.Errorf("encode snapshot for %s: %w", snap.Instrument, err)
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
		buf.Write(lenBuf[:])
		buf.Write(data)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

// Load restores every instrument's Snapshot from path. A missing file
// is not an error (spec §6: "absence is not an error") and is
// reported via ok=false.
func Load(path string) (snaps []book.Snapshot, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) < 4 {
		return nil, false, &book.ErrSnapshotCorrupt{Reason: "truncated snapshot file header"}
	}
	count := binary.BigEndian.Uint32(data[:4])
	rest := data[4:]
	out := make([]book.Snapshot, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return nil, false, &book.ErrSnapshotCorrupt{Reason: "truncated snapshot entry length"}
		}
		entryLen := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < entryLen {
			return nil, false, &book.ErrSnapshotCorrupt{Reason: "truncated snapshot entry body"}
		}
		snap, err := book.Decode(rest[:entryLen])
		if err != nil {
			return nil, false, err
		}
		out = append(out, snap)
		rest = rest[entryLen:]
	}
	return out, true, nil
}
