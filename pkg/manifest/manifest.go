// Package manifest persists which relative paths have been backed up and
// when.
//
// The manifest is a single human-readable JSON file in the backup root,
// mapping each relative path to its first/last backup times and the display
// name of the site it was resolved to. It is rewritten in full on every
// save, via a temp file and rename so a torn write never corrupts the
// previous state. Entries are created once and updated forever; they are
// never deleted.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/h4ckmm3/save-backup/pkg/plog"
	"github.com/h4ckmm3/save-backup/pkg/util"
)

// FileName is the manifest file's name inside the backup root.
const FileName = "save-backup.manifest.json"

// TimeFormat is the human-readable timestamp format stored in entries.
const TimeFormat = "2006-01-02 15:04:05"

// Entry records the backup history of one relative path.
type Entry struct {
	FirstBackupTime string `json:"first_backup_time"`
	LastBackupTime  string `json:"last_backup_time"`
	// Site is the unsanitized display name. Directory names derive from the
	// sanitized site key instead; the two representations are intentionally
	// kept apart.
	Site string `json:"site"`
	// Checksum is the xxh3-128 hex digest of the most recently copied
	// content. Informational only.
	Checksum string `json:"checksum,omitempty"`
}

// Manifest is the in-memory copy of the manifest file. It assumes a single
// in-process writer and is not safe for concurrent mutation.
type Manifest struct {
	path    string
	entries map[string]Entry
}

// Load reads the manifest from the backup root. A missing file yields an
// empty manifest; a present but unparsable file is an error.
func Load(rootDir string) (*Manifest, error) {
	m := &Manifest{
		path:    filepath.Join(rootDir, FileName),
		entries: make(map[string]Entry),
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			plog.Debug("No manifest file found, starting empty", "path", m.path)
			return m, nil
		}
		return nil, fmt.Errorf("could not read manifest %s: %w", m.path, err)
	}

	if err := json.Unmarshal(data, &m.entries); err != nil {
		return nil, fmt.Errorf("could not parse manifest %s: %w. It may be corrupt", m.path, err)
	}
	plog.Debug("Manifest loaded", "path", m.path, "entries", len(m.entries))
	return m, nil
}

// Path returns the manifest file location.
func (m *Manifest) Path() string {
	return m.path
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Has reports whether a relative path has an entry.
func (m *Manifest) Has(relPath string) bool {
	_, ok := m.entries[relPath]
	return ok
}

// Get returns the entry for a relative path.
func (m *Manifest) Get(relPath string) (Entry, bool) {
	e, ok := m.entries[relPath]
	return e, ok
}

// Keys returns all relative paths in sorted order.
func (m *Manifest) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RecordFirst creates an entry for a relative path if none exists yet,
// stamping its first backup time. Existing entries are left alone.
func (m *Manifest) RecordFirst(relPath, site string, now time.Time) {
	if _, ok := m.entries[relPath]; ok {
		return
	}
	m.entries[relPath] = Entry{
		FirstBackupTime: now.Format(TimeFormat),
		Site:            site,
	}
}

// Touch updates the last backup time, site and checksum of an existing
// entry. It reports whether an entry was present; paths without an entry
// (pure after-mode backups) are deliberately not created here.
func (m *Manifest) Touch(relPath, site, checksum string, now time.Time) bool {
	e, ok := m.entries[relPath]
	if !ok {
		return false
	}
	e.LastBackupTime = now.Format(TimeFormat)
	e.Site = site
	if checksum != "" {
		e.Checksum = checksum
	}
	m.entries[relPath] = e
	return true
}

// Save rewrites the manifest file in full. The write goes to a temp file in
// the same directory followed by a rename, so the previous manifest stays
// intact if the write is interrupted.
func (m *Manifest) Save() error {
	jsonData, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal manifest: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("could not create manifest directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("could not create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(jsonData); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("could not write temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("could not close temp manifest: %w", err)
	}
	if err := os.Chmod(tmpPath, util.UserWritableFilePerms); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("could not chmod temp manifest: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("could not replace manifest %s: %w", m.path, err)
	}

	plog.Debug("Manifest saved", "path", m.path, "entries", len(m.entries))
	return nil
}
