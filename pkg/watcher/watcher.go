// Package watcher turns filesystem write events into automatic backups.
//
// It is the command-line stand-in for an editor's save hook: every watched
// file that changes gets a default-mode backup, so the first save captures
// the pristine version and every later save refreshes the after slot.
// Events are debounced per path because editors typically burst several
// writes per save.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/h4ckmm3/save-backup/pkg/backupstore"
	"github.com/h4ckmm3/save-backup/pkg/hints"
	"github.com/h4ckmm3/save-backup/pkg/plog"
	"github.com/h4ckmm3/save-backup/pkg/session"
)

// DefaultDebounce is how long a path must stay quiet before it is backed up.
const DefaultDebounce = 500 * time.Millisecond

// Watcher backs up watched files on change.
type Watcher struct {
	store    *backupstore.Store
	sess     *session.Session
	debounce time.Duration
}

// New creates a Watcher backing up through store under the session's task.
// A non-positive debounce selects DefaultDebounce.
func New(store *backupstore.Store, sess *session.Session, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{store: store, sess: sess, debounce: debounce}
}

// Watch observes the given files or directories (directories recursively)
// until ctx is cancelled. Backups run serially on the watch loop; the
// manifest never sees concurrent writers.
func (w *Watcher) Watch(ctx context.Context, paths []string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create filesystem watcher: %w", err)
	}
	defer fsw.Close()

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("could not resolve watch path %s: %w", p, err)
		}
		if err := w.addTree(fsw, abs); err != nil {
			return err
		}
	}
	plog.Info("Watching for changes", "paths", strings.Join(paths, ", "), "session", w.sess.ID())

	// pending holds paths waiting out their debounce window.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, event, pending)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			plog.Warn("Watcher error", "error", err)

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < w.debounce {
					continue
				}
				delete(pending, path)
				w.backup(path)
			}
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event, pending map[string]time.Time) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	// The backup tree itself may live under a watched directory; writing
	// copies there must not trigger further backups.
	if w.insideBackupRoot(event.Name) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return // already gone again
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := w.addTree(fsw, event.Name); err != nil {
				plog.Warn("Could not watch new directory", "path", event.Name, "error", err)
			}
		}
		return
	}
	pending[event.Name] = time.Now()
}

func (w *Watcher) backup(path string) {
	res, err := w.store.BackupFile(path, backupstore.ModeAuto, w.sess.Task())
	switch {
	case hints.IsHint(err):
		plog.Debug("Watched file skipped", "file", path)
	case err != nil:
		plog.Error("Backup of watched file failed", "file", path, "error", err)
	default:
		plog.Info("Backed up watched file", "file", path, "site", res.Site, "relative", res.RelativePath)
	}
}

// addTree registers a file or directory, descending into subdirectories.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch path %s is not accessible: %w", root, err)
	}
	if !info.IsDir() {
		return fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || w.insideBackupRoot(path) {
			return nil
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) insideBackupRoot(path string) bool {
	root := w.store.Layout().Root()
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}
