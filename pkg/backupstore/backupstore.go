// Package backupstore orchestrates the before/after backup of single files.
//
// On each call it resolves the file's site identity and relative path,
// derives the before/after directories for the current month and task, and
// copies the file according to the requested mode:
//
//   - ModeBefore: force-overwrite the before slot;
//   - ModeAfter: replace the after slot, leave everything else alone;
//   - ModeAuto: capture the before slot only on the first backup of a
//     relative path, then always refresh the after slot.
//
// Every successful write updates the manifest and persists it in full. The
// store owns the manifest exclusively and assumes a single in-process
// writer.
package backupstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/xxh3"

	"github.com/h4ckmm3/save-backup/pkg/archivelayout"
	"github.com/h4ckmm3/save-backup/pkg/hints"
	"github.com/h4ckmm3/save-backup/pkg/manifest"
	"github.com/h4ckmm3/save-backup/pkg/pathresolve"
	"github.com/h4ckmm3/save-backup/pkg/plog"
	"github.com/h4ckmm3/save-backup/pkg/util"
)

// ErrExcluded marks a file skipped by the exclusion list. It is always
// returned wrapped as a hint: check with hints.IsHint, not errors.Is alone.
var ErrExcluded = errors.New("file is excluded from backup")

// ErrSourceMissing marks a backup request for a file that does not exist.
var ErrSourceMissing = errors.New("source file does not exist")

// Mode selects which slots a backup call writes.
type Mode int

const (
	// ModeAuto captures the pristine version once and always captures the
	// latest edited version.
	ModeAuto Mode = iota
	// ModeBefore unconditionally overwrites the before slot.
	ModeBefore
	// ModeAfter unconditionally replaces the after slot.
	ModeAfter
)

func (m Mode) String() string {
	switch m {
	case ModeBefore:
		return "before"
	case ModeAfter:
		return "after"
	default:
		return "auto"
	}
}

// ModeFromString parses a mode flag value. The empty string is ModeAuto.
func ModeFromString(s string) (Mode, error) {
	switch s {
	case "", "auto":
		return ModeAuto, nil
	case "before":
		return ModeBefore, nil
	case "after":
		return ModeAfter, nil
	default:
		return ModeAuto, fmt.Errorf("unknown backup mode %q (use 'auto', 'before' or 'after')", s)
	}
}

// Result describes where a backup call placed its copies.
type Result struct {
	BeforeDir    string
	AfterDir     string
	RelativePath string
	Site         string // display name, as stored in the manifest
	SiteKey      string // sanitized directory name
}

// Store performs file backups into one backup tree.
type Store struct {
	layout     *archivelayout.Layout
	resolver   *pathresolve.Resolver
	manifest   *manifest.Manifest
	exclusions exclusionSet

	// now is the wall clock; swapped in tests.
	now func() time.Time
}

// Open prepares a Store over the given backup root, creating the root if
// needed and loading the persisted manifest. userExclusions extend the
// fixed default exclusion list; siteMarkers adds user-configured web-root
// folder names to the path heuristics.
func Open(root string, userExclusions []string, siteMarkers ...string) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("could not resolve backup root %s: %w", root, err)
	}
	if err := os.MkdirAll(absRoot, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("could not create backup root %s: %w", absRoot, err)
	}

	m, err := manifest.Load(absRoot)
	if err != nil {
		return nil, err
	}

	patterns := util.MergeAndDeduplicate(DefaultExclusions, userExclusions)
	s := &Store{
		layout:     archivelayout.New(absRoot),
		resolver:   pathresolve.New(siteMarkers...),
		manifest:   m,
		exclusions: makeExclusionSet(patterns),
		now:        time.Now,
	}
	plog.Debug("Backup store opened", "root", absRoot, "manifest_entries", m.Len())
	return s, nil
}

// Layout returns the store's archive tree layout.
func (s *Store) Layout() *archivelayout.Layout {
	return s.layout
}

// Manifest returns the store's manifest for read access.
func (s *Store) Manifest() *manifest.Manifest {
	return s.manifest
}

// BackupFile backs up the file at absPath according to mode, under the
// given task id (empty for none). It returns where the copies went.
//
// An excluded file returns ErrExcluded wrapped as a hint, which marks a
// deliberate skip rather than a failure. A missing source returns ErrSourceMissing. All other
// errors are I/O failures; none of them panic and none leave the manifest
// half-written.
func (s *Store) BackupFile(absPath string, mode Mode, taskID string) (*Result, error) {
	baseName := filepath.Base(absPath)
	if s.exclusions.matches(absPath, baseName) {
		plog.Notice("SKIP", "file", absPath, "reason", "exclusion list")
		return nil, hints.Wrap(fmt.Errorf("%w: %s", ErrExcluded, absPath))
	}

	srcInfo, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, absPath)
		}
		return nil, fmt.Errorf("could not stat source %s: %w", absPath, err)
	}

	site := s.resolver.Site(absPath)
	siteKey := pathresolve.SanitizeSiteKey(site)
	relPath := s.resolver.RelativePath(absPath)

	beforeDir, afterDir, err := s.layout.BackupDirs(siteKey, taskID)
	if err != nil {
		return nil, err
	}

	relOnDisk := filepath.FromSlash(relPath)
	beforeTarget := filepath.Join(beforeDir, relOnDisk)
	afterTarget := filepath.Join(afterDir, relOnDisk)
	now := s.now()

	switch mode {
	case ModeBefore:
		if err := util.CopyFile(absPath, beforeTarget); err != nil {
			return nil, err
		}
		plog.Notice("COPY", "slot", "before", "file", relPath, "size", humanize.Bytes(uint64(srcInfo.Size())))
		s.manifest.RecordFirst(relPath, site, now)

	case ModeAfter:
		if err := replaceFile(absPath, afterTarget); err != nil {
			return nil, err
		}
		plog.Notice("COPY", "slot", "after", "file", relPath, "size", humanize.Bytes(uint64(srcInfo.Size())))

	case ModeAuto:
		if !s.manifest.Has(relPath) {
			// The only point where auto mode writes the before slot: the
			// pristine version is captured exactly once per relative path.
			if err := util.CopyFile(absPath, beforeTarget); err != nil {
				return nil, err
			}
			plog.Notice("COPY", "slot", "before", "file", relPath, "size", humanize.Bytes(uint64(srcInfo.Size())))
			s.manifest.RecordFirst(relPath, site, now)
		}
		if err := replaceFile(absPath, afterTarget); err != nil {
			return nil, err
		}
		plog.Notice("COPY", "slot", "after", "file", relPath, "size", humanize.Bytes(uint64(srcInfo.Size())))

	default:
		return nil, fmt.Errorf("unknown backup mode %d", mode)
	}

	checksum, err := hashFile(absPath)
	if err != nil {
		// The copy succeeded; a failed checksum only degrades the manifest.
		plog.Warn("Could not compute content checksum", "file", absPath, "error", err)
		checksum = ""
	}
	s.manifest.Touch(relPath, site, checksum, now)

	if err := s.manifest.Save(); err != nil {
		return nil, err
	}

	return &Result{
		BeforeDir:    beforeDir,
		AfterDir:     afterDir,
		RelativePath: relPath,
		Site:         site,
		SiteKey:      siteKey,
	}, nil
}

// replaceFile removes any existing copy at dst before writing a fresh one.
func replaceFile(src, dst string) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove stale copy %s: %w", dst, err)
	}
	return util.CopyFile(src, dst)
}

// hashFile returns the xxh3-128 hex digest of a file's content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:]), nil
}
