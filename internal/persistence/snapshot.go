// Package persistence reads and writes the meeting snapshot document, a
// single JSON array using the wire schema, so a server restart restores the
// collection it last saved.
package persistence

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/evolvlabs/viewmymeetings/internal/meeting"
)

// SnapshotStore persists the full meeting collection to one file.
type SnapshotStore struct {
	path string
}

// NewSnapshotStore returns a store writing to path.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Path returns the snapshot file location.
func (s *SnapshotStore) Path() string {
	return s.path
}

// Load reads the snapshot document. A missing file is an empty collection,
// not an error.
func (s *SnapshotStore) Load() ([]meeting.Meeting, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}
	meetings, err := meeting.DecodeList(string(data))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	return meetings, nil
}

// Save writes the collection to a temporary file in the snapshot's directory
// and renames it into place, so a crash mid-write never leaves a truncated
// document behind.
func (s *SnapshotStore) Save(meetings []meeting.Meeting) error {
	doc, err := meeting.EncodeList(meetings)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot %s: %w", s.path, err)
	}
	return nil
}
