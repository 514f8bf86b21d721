// Package archivelayout computes every location inside the backup tree.
//
// The tree is keyed by site, calendar month and an optional task:
//
//	root/<site_key>/<Month Year>/[task_<id>/]before/<relative_path>
//	root/<site_key>/<Month Year>/[task_<id>/]after/<relative_path>
//
// The inverse direction is ZipTarget: given any folder inside the tree it
// resolves the ancestor directory an archive of that folder belongs in, and
// the archive's file name.
package archivelayout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h4ckmm3/save-backup/pkg/plog"
	"github.com/h4ckmm3/save-backup/pkg/util"
)

const (
	// BeforeDirName is the leaf folder holding pristine pre-edit copies.
	BeforeDirName = "before"
	// AfterDirName is the leaf folder holding the latest post-edit copies.
	AfterDirName = "after"
	// TaskDirPrefix prefixes per-task folders inside a month bucket.
	TaskDirPrefix = "task_"
	// LogsDirName is the reserved root-level folder for log files. It is
	// never a site.
	LogsDirName = "logs"

	// monthBucketFormat renders the calendar month bucket, e.g. "March 2025".
	monthBucketFormat = "January 2006"
	// archiveStampFormat renders the timestamp inside archive names.
	archiveStampFormat = "02.01.2006.1504"
)

// archiveNameUnsafe lists the characters replaced by '_' in archive file
// names (the set that is invalid in Windows file names).
const archiveNameUnsafe = `\/:*?"<>|`

// Layout resolves directories inside one backup tree root.
type Layout struct {
	root string

	// now is the wall clock; swapped in tests for deterministic buckets.
	now func() time.Time
}

// New creates a Layout for the given backup root directory.
func New(root string) *Layout {
	return &Layout{
		root: filepath.Clean(root),
		now:  time.Now,
	}
}

// Root returns the backup root directory.
func (l *Layout) Root() string {
	return l.root
}

// MonthBucket returns the current calendar month bucket name. Backups taken
// in different months never share a bucket, task or not.
func (l *Layout) MonthBucket() string {
	return l.now().Format(monthBucketFormat)
}

// TaskDirName returns the folder name for a task id, or "" for no task.
func TaskDirName(taskID string) string {
	if taskID == "" {
		return ""
	}
	return TaskDirPrefix + taskID
}

// BackupDirs computes and creates the before/after directories for a site
// key and optional task id. Pre-existing directories are reused untouched.
func (l *Layout) BackupDirs(siteKey, taskID string) (beforeDir, afterDir string, err error) {
	bucket := filepath.Join(l.root, siteKey, l.MonthBucket())
	if task := TaskDirName(taskID); task != "" {
		bucket = filepath.Join(bucket, task)
	}

	beforeDir = filepath.Join(bucket, BeforeDirName)
	afterDir = filepath.Join(bucket, AfterDirName)

	for _, dir := range []string{beforeDir, afterDir} {
		if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
			return "", "", fmt.Errorf("could not create backup directory %s: %w", dir, err)
		}
	}
	plog.Debug("Resolved backup directories", "before", beforeDir, "after", afterDir)
	return beforeDir, afterDir, nil
}

// ZipTarget resolves where an archive of folder belongs and what it is
// named. folder may be any directory inside the tree: a site, a month, a
// task, or a before/after leaf. folderType optionally tags partial archives
// ("before"/"after") in the name.
//
// Placement rules:
//   - inside a task folder: the archive goes into the task folder itself;
//   - a before/after leaf outside a task: one level above the leaf;
//   - anything else: the folder's parent (the root archives into itself).
//
// The site token in the name is the first root-relative segment that is not
// a task folder and not a before/after leaf; "backup" is the default when
// the folder is the root itself.
func (l *Layout) ZipTarget(folder, folderType string) (zipDir, zipName string) {
	folder = filepath.Clean(folder)

	rel, err := filepath.Rel(l.root, folder)
	segments := []string{}
	switch {
	case err != nil || strings.HasPrefix(rel, ".."):
		// Out-of-tree folders degrade to the root's own target.
		plog.Debug("Archive folder is outside the backup tree", "folder", folder, "root", l.root)
	case rel != ".":
		segments = strings.Split(util.NormalizePath(rel), "/")
	}

	siteName := "backup"
	for _, seg := range segments {
		if strings.HasPrefix(seg, TaskDirPrefix) || seg == BeforeDirName || seg == AfterDirName {
			continue
		}
		siteName = seg
		break
	}

	switch taskIdx := taskSegmentIndex(segments); {
	case taskIdx >= 0:
		// Archive lands in the task folder, however deep below it we are.
		zipDir = filepath.Join(append([]string{l.root}, segments[:taskIdx+1]...)...)
	case len(segments) == 0:
		// The root archives into itself.
		zipDir = l.root
	default:
		// One level above the given folder, which for a before/after leaf
		// is the month bucket.
		zipDir = filepath.Dir(folder)
	}

	stamp := l.now().Format(archiveStampFormat)
	safeSite := sanitizeArchiveToken(siteName)
	if folderType != "" {
		zipName = fmt.Sprintf("backup_%s_%s_%s.zip", safeSite, folderType, stamp)
	} else {
		zipName = fmt.Sprintf("backup_%s_%s.zip", safeSite, stamp)
	}

	plog.Debug("Resolved archive target", "folder", folder, "zip_dir", zipDir, "zip_name", zipName)
	return zipDir, zipName
}

func taskSegmentIndex(segments []string) int {
	for i, seg := range segments {
		if strings.HasPrefix(seg, TaskDirPrefix) {
			return i
		}
	}
	return -1
}

// sanitizeArchiveToken replaces characters that are unsafe in file names.
func sanitizeArchiveToken(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(archiveNameUnsafe, r) {
			return '_'
		}
		return r
	}, name)
}
