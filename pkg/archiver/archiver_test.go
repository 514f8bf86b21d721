package archiver

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/pgzip"

	"github.com/h4ckmm3/save-backup/pkg/archivelayout"
)

// makeTree builds a small backup folder with nested content.
func makeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.php":              "<?php echo 1;",
		"assets/css/style.css":   "body {}",
		"assets/js/app.js":       "console.log('x');",
		"modules/cart/logic.php": "<?php // cart",
	}
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func zipEntryNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("could not open archive %s: %v", path, err)
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestBuildZipRoundTrip(t *testing.T) {
	src := makeTree(t)
	out := filepath.Join(t.TempDir(), "out.zip")

	b := New(Zip, 2)
	if err := b.Build(context.Background(), src, out); err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	got := zipEntryNames(t, out)
	want := []string{
		"assets/css/style.css",
		"assets/js/app.js",
		"index.php",
		"modules/cart/logic.php",
	}
	if len(got) != len(want) {
		t.Fatalf("archive entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}

	// Verify one file's content survives the round trip.
	r, err := zip.OpenReader(out)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	for _, f := range r.File {
		if f.Name != "index.php" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "<?php echo 1;" {
			t.Errorf("index.php content = %q", string(data))
		}
	}
}

func TestBuildZipEmptyFolder(t *testing.T) {
	src := t.TempDir()
	out := filepath.Join(t.TempDir(), "empty.zip")

	b := New(Zip, 2)
	if err := b.Build(context.Background(), src, out); err != nil {
		t.Fatalf("Build() on empty folder failed: %v", err)
	}
	if names := zipEntryNames(t, out); len(names) != 0 {
		t.Errorf("expected empty archive, got entries %v", names)
	}
}

func TestBuildTarGzRoundTrip(t *testing.T) {
	src := makeTree(t)
	out := filepath.Join(t.TempDir(), "out.tar.gz")

	b := New(TarGz, 1)
	if err := b.Build(context.Background(), src, out); err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := pgzip.NewReader(f)
	if err != nil {
		t.Fatalf("could not open gzip stream: %v", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var names []string
	contents := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar read failed: %v", err)
		}
		names = append(names, hdr.Name)
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		contents[hdr.Name] = string(data)
	}
	if len(names) != 4 {
		t.Fatalf("tar entries = %v, want 4", names)
	}
	if contents["assets/css/style.css"] != "body {}" {
		t.Errorf("style.css content = %q", contents["assets/css/style.css"])
	}
}

func TestBuildForLayoutPlacesArchiveInTaskFolder(t *testing.T) {
	root := t.TempDir()
	layout := archivelayout.New(root)

	// Populate a before leaf under a task folder.
	before := filepath.Join(root, "acme", "March 2025", "task_42", "before")
	if err := os.MkdirAll(before, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(before, "index.php"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	b := New(Zip, 2)
	archivePath, err := b.BuildForLayout(context.Background(), layout, before, "before")
	if err != nil {
		t.Fatalf("BuildForLayout() failed: %v", err)
	}

	wantDir := filepath.Join(root, "acme", "March 2025", "task_42")
	if filepath.Dir(archivePath) != wantDir {
		t.Errorf("archive dir = %q, want task folder %q", filepath.Dir(archivePath), wantDir)
	}

	namePattern := regexp.MustCompile(`^backup_acme_before_\d{2}\.\d{2}\.\d{4}\.\d{4}\.zip$`)
	if !namePattern.MatchString(filepath.Base(archivePath)) {
		t.Errorf("archive name %q does not match expected pattern", filepath.Base(archivePath))
	}

	if _, err := os.Stat(archivePath); err != nil {
		t.Errorf("archive file missing: %v", err)
	}
}

func TestBuildForLayoutTaskFolderOmitsOwnTempFile(t *testing.T) {
	root := t.TempDir()
	layout := archivelayout.New(root)

	// Archiving the task folder itself places the archive, and its temp
	// file, inside the folder being walked.
	task := filepath.Join(root, "acme", "March 2025", "task_42")
	before := filepath.Join(task, "before")
	if err := os.MkdirAll(before, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(before, "index.php"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	b := New(Zip, 2)
	archivePath, err := b.BuildForLayout(context.Background(), layout, task, "")
	if err != nil {
		t.Fatalf("BuildForLayout() failed: %v", err)
	}
	if filepath.Dir(archivePath) != task {
		t.Fatalf("archive dir = %q, want the task folder itself", filepath.Dir(archivePath))
	}

	got := zipEntryNames(t, archivePath)
	want := []string{"before/index.php"}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("archive entries = %v, want %v", got, want)
	}
}

func TestBuildForLayoutTarGzExtension(t *testing.T) {
	root := t.TempDir()
	layout := archivelayout.New(root)

	folder := filepath.Join(root, "acme", "March 2025", "after")
	if err := os.MkdirAll(folder, 0755); err != nil {
		t.Fatal(err)
	}

	b := New(TarGz, 1)
	archivePath, err := b.BuildForLayout(context.Background(), layout, folder, "after")
	if err != nil {
		t.Fatalf("BuildForLayout() failed: %v", err)
	}
	if filepath.Ext(archivePath) != ".gz" {
		t.Errorf("archive path = %q, want .tar.gz extension", archivePath)
	}
}

func TestBuildForLayoutMissingSourceFails(t *testing.T) {
	root := t.TempDir()
	layout := archivelayout.New(root)

	b := New(Zip, 1)
	if _, err := b.BuildForLayout(context.Background(), layout, filepath.Join(root, "nope"), ""); err == nil {
		t.Fatal("expected an error for a missing source folder")
	}
}

func TestBuildLeavesNoTempFileOnFailure(t *testing.T) {
	outDir := t.TempDir()
	b := New(Zip, 1)

	// Source does not exist, so the walk fails after the temp file exists.
	err := b.Build(context.Background(), filepath.Join(outDir, "missing-src"), filepath.Join(outDir, "out.zip"))
	if err == nil {
		t.Fatal("expected an error")
	}

	entries, readErr := os.ReadDir(outDir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	for _, e := range entries {
		t.Errorf("unexpected leftover file: %s", e.Name())
	}
}

func TestFormatFromString(t *testing.T) {
	testCases := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", Zip, false},
		{"zip", Zip, false},
		{"tar.gz", TarGz, false},
		{"targz", TarGz, false},
		{"rar", Zip, true},
	}
	for _, tc := range testCases {
		got, err := FormatFromString(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("FormatFromString(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if err == nil && got != tc.want {
			t.Errorf("FormatFromString(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
