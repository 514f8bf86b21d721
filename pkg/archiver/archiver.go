// Package archiver bundles a folder of the backup tree into a compressed
// archive.
//
// The archive lands at the location the tree layout computes for the
// folder (see archivelayout.ZipTarget) and stores every file with a
// forward-slash path relative to the folder's root. Nothing is excluded
// except the in-progress archive itself; callers choose what to archive.
//
// Build blocks until the archive is complete. Internally the zip path uses
// a producer/worker pipeline so reads overlap compression, but nothing of
// that is visible to the caller. The archive is written to a temp file in
// the target directory and renamed into place, so a failed build never
// leaves a half-written archive behind.
package archiver

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/h4ckmm3/save-backup/pkg/archivelayout"
	"github.com/h4ckmm3/save-backup/pkg/plog"
	"github.com/h4ckmm3/save-backup/pkg/util"
)

// Format selects the archive container.
type Format int

const (
	// Zip writes a deflate-compressed zip file (the default).
	Zip Format = iota
	// TarGz writes a gzip-compressed tarball using parallel gzip.
	TarGz
)

// FormatFromString parses an archive format flag value.
func FormatFromString(s string) (Format, error) {
	switch s {
	case "", "zip":
		return Zip, nil
	case "tar.gz", "targz":
		return TarGz, nil
	default:
		return Zip, fmt.Errorf("unknown archive format %q (use 'zip' or 'tar.gz')", s)
	}
}

// Extension returns the file extension for the format, with leading dot.
func (f Format) Extension() string {
	if f == TarGz {
		return ".tar.gz"
	}
	return ".zip"
}

func (f Format) String() string {
	if f == TarGz {
		return "tar.gz"
	}
	return "zip"
}

// Builder creates archives of backup folders.
type Builder struct {
	format  Format
	workers int
}

// New returns a Builder for the given format. workers bounds the zip
// pipeline's parallel readers; values below 1 pick a CPU-based default.
func New(format Format, workers int) *Builder {
	if workers < 1 {
		workers = min(runtime.NumCPU(), 4)
	}
	return &Builder{format: format, workers: workers}
}

// BuildForLayout archives folder into the location the layout computes for
// it and returns the final archive path. folderType optionally tags partial
// archives ("before"/"after") in the name.
func (b *Builder) BuildForLayout(ctx context.Context, layout *archivelayout.Layout, folder, folderType string) (string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return "", fmt.Errorf("archive source %s is not accessible: %w", folder, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("archive source %s is not a directory", folder)
	}

	zipDir, zipName := layout.ZipTarget(folder, folderType)
	if b.format != Zip {
		zipName = zipName[:len(zipName)-len(".zip")] + b.format.Extension()
	}
	archivePath := filepath.Join(zipDir, zipName)

	if err := os.MkdirAll(zipDir, util.UserWritableDirPerms); err != nil {
		return "", fmt.Errorf("could not create archive directory %s: %w", zipDir, err)
	}

	start := time.Now()
	if err := b.Build(ctx, folder, archivePath); err != nil {
		return "", err
	}

	if info, err := os.Stat(archivePath); err == nil {
		plog.Info("Archive created",
			"path", archivePath,
			"size", humanize.Bytes(uint64(info.Size())),
			"duration", time.Since(start).Round(time.Millisecond))
	}
	return archivePath, nil
}

// Build archives srcFolder into archivePath using the builder's format.
func (b *Builder) Build(ctx context.Context, srcFolder, archivePath string) (retErr error) {
	tmp, err := os.CreateTemp(filepath.Dir(archivePath), "save-backup-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	// When the target directory lies inside srcFolder (a task folder or the
	// root archives into itself) the temp file sits in the walked tree and
	// must not become an entry.
	switch b.format {
	case TarGz:
		err = b.writeTarGz(ctx, srcFolder, tmpPath, tmp)
	default:
		err = b.writeZip(ctx, srcFolder, tmpPath, tmp)
	}
	if err != nil {
		return err
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close temp archive: %w", err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		return fmt.Errorf("could not move archive into place: %w", err)
	}
	return nil
}

// fileTask is one regular file or symlink queued for archiving.
type fileTask struct {
	absPath string
	relPath string // forward-slash, relative to the archive root
	info    os.FileInfo
}

// walkTasks feeds every file under srcFolder into tasks, except the
// in-progress archive at skipPath. It closes the channel when the walk
// finishes.
func walkTasks(ctx context.Context, srcFolder, skipPath string, tasks chan<- fileTask) error {
	defer close(tasks)
	return filepath.WalkDir(srcFolder, func(absPath string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || absPath == skipPath {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("could not read file info for %s: %w", absPath, err)
		}
		rel, err := filepath.Rel(srcFolder, absPath)
		if err != nil {
			return fmt.Errorf("could not relativize %s: %w", absPath, err)
		}
		task := fileTask{absPath: absPath, relPath: filepath.ToSlash(rel), info: info}
		select {
		case tasks <- task:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (b *Builder) writeZip(ctx context.Context, srcFolder, skipPath string, out io.Writer) (retErr error) {
	bufWriter := bufio.NewWriterSize(out, 256*1024)
	zw := zip.NewWriter(bufWriter)

	// Pool flate writers across entries to cut allocation churn.
	flatePool := &sync.Pool{
		New: func() any {
			fw, _ := flate.NewWriter(io.Discard, flate.DefaultCompression)
			return fw
		},
	}
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		fw := flatePool.Get().(*flate.Writer)
		fw.Reset(w)
		return &pooledFlateWriter{Writer: fw, pool: flatePool}, nil
	})

	defer func() {
		if err := zw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("zip writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("archive flush failed: %w", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	tasks := make(chan fileTask, b.workers*4)

	g.Go(func() error {
		return walkTasks(ctx, srcFolder, skipPath, tasks)
	})

	// Readers run in parallel; the zip writer itself is serialized.
	var mu sync.Mutex
	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			for task := range tasks {
				if err := writeZipEntry(zw, &mu, task); err != nil {
					return err
				}
				plog.Notice("ADD", "file", task.relPath)
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// pooledFlateWriter returns its flate writer to the pool on close.
type pooledFlateWriter struct {
	*flate.Writer
	pool *sync.Pool
}

func (w *pooledFlateWriter) Close() error {
	err := w.Writer.Close()
	w.pool.Put(w.Writer)
	return err
}

func writeZipEntry(zw *zip.Writer, mu *sync.Mutex, task fileTask) error {
	header, err := zip.FileInfoHeader(task.info)
	if err != nil {
		return fmt.Errorf("could not build zip header for %s: %w", task.relPath, err)
	}
	header.Name = task.relPath

	if task.info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(task.absPath)
		if err != nil {
			return fmt.Errorf("could not read link %s: %w", task.absPath, err)
		}
		header.Method = zip.Store // symlinks are stored, not compressed

		mu.Lock()
		defer mu.Unlock()
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		_, err = w.Write([]byte(target))
		return err
	}

	// Read outside the writer lock so workers overlap I/O.
	data, err := os.ReadFile(task.absPath)
	if err != nil {
		return fmt.Errorf("could not read %s: %w", task.absPath, err)
	}
	header.Method = zip.Deflate

	mu.Lock()
	defer mu.Unlock()
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("could not write zip header for %s: %w", task.relPath, err)
	}
	_, err = w.Write(data)
	return err
}

// writeTarGz streams the folder serially through a parallel gzip writer.
func (b *Builder) writeTarGz(ctx context.Context, srcFolder, skipPath string, out io.Writer) (retErr error) {
	bufWriter := bufio.NewWriterSize(out, 256*1024)
	gzWriter := pgzip.NewWriter(bufWriter)
	tarWriter := tar.NewWriter(gzWriter)

	defer func() {
		if err := tarWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := gzWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("gzip writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("archive flush failed: %w", err)
		}
	}()

	tasks := make(chan fileTask)
	walkErr := make(chan error, 1)
	go func() {
		walkErr <- walkTasks(ctx, srcFolder, skipPath, tasks)
	}()

	for task := range tasks {
		if err := writeTarEntry(tarWriter, task); err != nil {
			// Drain the producer before returning.
			for range tasks {
			}
			<-walkErr
			return err
		}
		plog.Notice("ADD", "file", task.relPath)
	}
	return <-walkErr
}

func writeTarEntry(tw *tar.Writer, task fileTask) error {
	var linkTarget string
	if task.info.Mode()&os.ModeSymlink != 0 {
		var err error
		linkTarget, err = os.Readlink(task.absPath)
		if err != nil {
			return fmt.Errorf("could not read link %s: %w", task.absPath, err)
		}
	}

	header, err := tar.FileInfoHeader(task.info, linkTarget)
	if err != nil {
		return fmt.Errorf("could not build tar header for %s: %w", task.relPath, err)
	}
	header.Name = task.relPath
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("could not write tar header for %s: %w", task.relPath, err)
	}
	if linkTarget != "" {
		return nil
	}

	f, err := os.Open(task.absPath)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", task.absPath, err)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("could not archive %s: %w", task.relPath, err)
	}
	return nil
}
