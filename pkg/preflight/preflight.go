// Package preflight validates the backup root before any write happens.
// The checks are stateless and give friendlier errors than letting
// os.MkdirAll or a file copy fail halfway through a backup.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/h4ckmm3/save-backup/pkg/plog"
)

// MinFreeBytes is the default free-space floor for the backup root.
// Single-file backups are small; this mostly guards archive builds.
const MinFreeBytes uint64 = 64 * 1024 * 1024

// CheckBackupRoot verifies that the backup root either exists as a writable
// directory or can be created under an existing parent, and that the
// filesystem holding it has at least minFreeBytes available.
func CheckBackupRoot(root string, minFreeBytes uint64) error {
	probe := root
	info, err := os.Stat(root)
	switch {
	case err == nil:
		if !info.IsDir() {
			return fmt.Errorf("backup root %s exists but is not a directory", root)
		}
	case os.IsNotExist(err):
		// Walk up to the nearest existing ancestor; that is where the root
		// would be created and whose filesystem we must check.
		probe = existingAncestor(root)
		if probe == "" {
			return fmt.Errorf("no accessible parent directory for backup root %s", root)
		}
	default:
		return fmt.Errorf("could not inspect backup root %s: %w", root, err)
	}

	free, err := freeSpace(probe)
	if err != nil {
		// Free-space detection is best effort; an exotic filesystem must
		// not block backups.
		plog.Warn("Could not determine free space for backup root", "path", probe, "error", err)
		return nil
	}
	if free < minFreeBytes {
		return fmt.Errorf("backup root %s has only %s free (minimum %s)",
			root, humanize.Bytes(free), humanize.Bytes(minFreeBytes))
	}
	plog.Debug("Backup root preflight passed", "path", root, "free", humanize.Bytes(free))
	return nil
}

func existingAncestor(path string) string {
	for p := filepath.Dir(path); ; p = filepath.Dir(p) {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
		if p == filepath.Dir(p) {
			return ""
		}
	}
}
