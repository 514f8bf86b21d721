package archivelayout

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/h4ckmm3/save-backup/pkg/plog"
)

// fixedClock pins the layout to a known date so month buckets and archive
// stamps are deterministic.
func fixedClock() time.Time {
	return time.Date(2025, time.March, 7, 14, 30, 0, 0, time.UTC)
}

func newFixedLayout(root string) *Layout {
	l := New(root)
	l.now = fixedClock
	return l
}

func TestMonthBucket(t *testing.T) {
	l := newFixedLayout(t.TempDir())
	if got := l.MonthBucket(); got != "March 2025" {
		t.Errorf("MonthBucket() = %q, want %q", got, "March 2025")
	}
}

func TestBackupDirs(t *testing.T) {
	t.Run("With Task", func(t *testing.T) {
		root := t.TempDir()
		l := newFixedLayout(root)

		before, after, err := l.BackupDirs("acme", "42")
		if err != nil {
			t.Fatalf("BackupDirs() failed: %v", err)
		}

		wantBefore := filepath.Join(root, "acme", "March 2025", "task_42", "before")
		wantAfter := filepath.Join(root, "acme", "March 2025", "task_42", "after")
		if before != wantBefore {
			t.Errorf("before dir = %q, want %q", before, wantBefore)
		}
		if after != wantAfter {
			t.Errorf("after dir = %q, want %q", after, wantAfter)
		}

		for _, dir := range []string{before, after} {
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() {
				t.Errorf("directory %s was not created: %v", dir, err)
			}
		}
	})

	t.Run("Without Task", func(t *testing.T) {
		root := t.TempDir()
		l := newFixedLayout(root)

		before, after, err := l.BackupDirs("acme", "")
		if err != nil {
			t.Fatalf("BackupDirs() failed: %v", err)
		}
		if want := filepath.Join(root, "acme", "March 2025", "before"); before != want {
			t.Errorf("before dir = %q, want %q", before, want)
		}
		if want := filepath.Join(root, "acme", "March 2025", "after"); after != want {
			t.Errorf("after dir = %q, want %q", after, want)
		}
	})

	t.Run("Existing Directories Are Reused", func(t *testing.T) {
		root := t.TempDir()
		l := newFixedLayout(root)

		before, _, err := l.BackupDirs("acme", "7")
		if err != nil {
			t.Fatalf("first BackupDirs() failed: %v", err)
		}
		marker := filepath.Join(before, "existing.txt")
		if err := os.WriteFile(marker, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}

		if _, _, err := l.BackupDirs("acme", "7"); err != nil {
			t.Fatalf("second BackupDirs() failed: %v", err)
		}
		if _, err := os.Stat(marker); err != nil {
			t.Errorf("existing content was disturbed: %v", err)
		}
	})
}

func TestZipTarget(t *testing.T) {
	root := t.TempDir()
	l := newFixedLayout(root)
	month := "March 2025"

	testCases := []struct {
		name       string
		folder     string
		folderType string
		wantDir    string
		wantName   string
	}{
		{
			name:       "before leaf under task archives into task folder",
			folder:     filepath.Join(root, "acme", month, "task_42", "before"),
			folderType: "before",
			wantDir:    filepath.Join(root, "acme", month, "task_42"),
			wantName:   "backup_acme_before_07.03.2025.1430.zip",
		},
		{
			name:     "task folder archives into itself",
			folder:   filepath.Join(root, "acme", month, "task_42"),
			wantDir:  filepath.Join(root, "acme", month, "task_42"),
			wantName: "backup_acme_07.03.2025.1430.zip",
		},
		{
			name:       "after leaf without task archives one level up",
			folder:     filepath.Join(root, "acme", month, "after"),
			folderType: "after",
			wantDir:    filepath.Join(root, "acme", month),
			wantName:   "backup_acme_after_07.03.2025.1430.zip",
		},
		{
			name:     "month folder archives into site folder",
			folder:   filepath.Join(root, "acme", month),
			wantDir:  filepath.Join(root, "acme"),
			wantName: "backup_acme_07.03.2025.1430.zip",
		},
		{
			name:     "site folder archives into root",
			folder:   filepath.Join(root, "acme"),
			wantDir:  root,
			wantName: "backup_acme_07.03.2025.1430.zip",
		},
		{
			name:     "root archives into itself with default site token",
			folder:   root,
			wantDir:  root,
			wantName: "backup_backup_07.03.2025.1430.zip",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gotDir, gotName := l.ZipTarget(tc.folder, tc.folderType)
			if gotDir != tc.wantDir {
				t.Errorf("zip dir = %q, want %q", gotDir, tc.wantDir)
			}
			if gotName != tc.wantName {
				t.Errorf("zip name = %q, want %q", gotName, tc.wantName)
			}
		})
	}
}

func TestZipTargetOutsideTreeFallsBackToRoot(t *testing.T) {
	var logBuf bytes.Buffer
	plog.SetOutput(&logBuf)
	defer plog.SetOutput(io.Discard)

	root := t.TempDir()
	l := newFixedLayout(root)

	// A folder that is not under the root degrades to the root's own
	// target, and the fallback leaves a trace in the debug log.
	outside := filepath.Join(t.TempDir(), "elsewhere")
	gotDir, gotName := l.ZipTarget(outside, "")

	if gotDir != root {
		t.Errorf("zip dir = %q, want root %q", gotDir, root)
	}
	if gotName != "backup_backup_07.03.2025.1430.zip" {
		t.Errorf("zip name = %q, want default site token", gotName)
	}
	if !strings.Contains(logBuf.String(), "outside the backup tree") {
		t.Errorf("debug log does not mention the out-of-tree folder:\n%s", logBuf.String())
	}
}

func TestZipTargetSanitizesSiteToken(t *testing.T) {
	root := t.TempDir()
	l := newFixedLayout(root)

	// Site directory names are normally pre-sanitized, but ZipTarget must
	// not trust that: archive names strip filesystem-unsafe characters.
	folder := filepath.Join(root, `we?ird`, "March 2025")
	_, name := l.ZipTarget(folder, "")
	if name != "backup_we_ird_07.03.2025.1430.zip" {
		t.Errorf("zip name = %q, want sanitized site token", name)
	}
}

func TestTaskDirName(t *testing.T) {
	if got := TaskDirName("42"); got != "task_42" {
		t.Errorf("TaskDirName(42) = %q", got)
	}
	if got := TaskDirName(""); got != "" {
		t.Errorf("TaskDirName(\"\") = %q, want empty", got)
	}
}
