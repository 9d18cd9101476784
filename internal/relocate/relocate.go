// Package relocate moves completed torrent data from a staging location to its
// final directory.
package relocate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/qbit_mover/internal/logctx"
)

const (
	dirPerm = 0755

	defaultProgressInterval = int64(512 * 1024 * 1024) // 512MB
)

// Swappable so tests can simulate cross-device renames and failing removals.
var (
	renameFunc    = os.Rename
	removeAllFunc = os.RemoveAll
)

// Stats describes what a relocation moved.
type Stats struct {
	Files   int
	Bytes   int64
	Renamed bool // true when a same-filesystem rename was used instead of a copy
}

// Relocator moves files and directory trees. The zero value is not usable,
// use NewRelocator.
type Relocator struct {
	progressInterval int64
}

// Option configures a Relocator.
type Option func(*Relocator)

// WithProgressInterval sets how many bytes are copied between progress logs.
func WithProgressInterval(n int64) Option {
	return func(r *Relocator) {
		r.progressInterval = n
	}
}

func NewRelocator(opts ...Option) *Relocator {
	r := &Relocator{progressInterval: defaultProgressInterval}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Relocate moves source to destination. On success source no longer exists
// and destination holds an identical copy. An existing destination is never
// overwritten or merged into.
//
// A rename is tried first. When source and destination live on different
// filesystems the data is copied and the source removed afterwards; if that
// removal fails a *PartialMoveError is returned and both copies remain.
func (r *Relocator) Relocate(ctx context.Context, source, destination string) (Stats, error) {
	logger := logctx.LoggerFromContext(ctx).With("source", source, "destination", destination)

	info, err := os.Lstat(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Stats{}, &PathError{Path: source, Err: ErrSourceNotFound}
		}

		return Stats{}, fmt.Errorf("failed to stat source: %w", err)
	}

	if !info.Mode().IsRegular() && !info.IsDir() {
		return Stats{}, &PathError{Path: source, Err: ErrUnsupportedSourceType}
	}

	if _, err := os.Lstat(destination); err == nil {
		return Stats{}, &PathError{Path: destination, Err: ErrDestinationExists}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Stats{}, fmt.Errorf("failed to stat destination: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destination), dirPerm); err != nil {
		return Stats{}, fmt.Errorf("failed to create destination directory: %w", err)
	}

	stats, err := measure(source, info)
	if err != nil {
		return Stats{}, err
	}

	err = renameFunc(source, destination)
	if err == nil {
		stats.Renamed = true

		logger.DebugContext(ctx, "renamed source", "size", humanize.Bytes(uint64(stats.Bytes)))

		return stats, nil
	}

	if !isCrossDevice(err) {
		return Stats{}, fmt.Errorf("failed to rename source: %w", err)
	}

	logger.DebugContext(ctx, "source is on another filesystem, copying", "size", humanize.Bytes(uint64(stats.Bytes)))

	if info.IsDir() {
		err = r.copyTree(ctx, source, destination)
	} else {
		err = r.copyFile(ctx, source, destination, info)
	}

	if err != nil {
		if rmErr := os.RemoveAll(destination); rmErr != nil {
			logger.WarnContext(ctx, "failed to remove incomplete destination", "err", rmErr)
		}

		return Stats{}, err
	}

	if err := removeAllFunc(source); err != nil {
		return stats, &PartialMoveError{Source: source, Destination: destination, Err: err}
	}

	return stats, nil
}

func measure(source string, info fs.FileInfo) (Stats, error) {
	if !info.IsDir() {
		return Stats{Files: 1, Bytes: info.Size()}, nil
	}

	var stats Stats

	err := filepath.WalkDir(source, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		stats.Files++
		stats.Bytes += fi.Size()

		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to inspect source tree: %w", err)
	}

	return stats, nil
}

func (r *Relocator) copyTree(ctx context.Context, source, destination string) error {
	type dirMeta struct {
		path string
		info fs.FileInfo
	}

	var dirs []dirMeta

	err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}

		target := filepath.Join(destination, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			if err := os.Mkdir(target, dirPerm); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

			dirs = append(dirs, dirMeta{path: target, info: info})
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to read symlink: %w", err)
			}

			if err := os.Symlink(link, target); err != nil {
				return fmt.Errorf("failed to create symlink: %w", err)
			}
		case d.Type().IsRegular():
			return r.copyFile(ctx, path, target, info)
		default:
			return &PathError{Path: path, Err: ErrUnsupportedSourceType}
		}

		return nil
	})
	if err != nil {
		return err
	}

	// Modes and times are applied last so read-only directories can still be filled.
	for i := len(dirs) - 1; i >= 0; i-- {
		d := dirs[i]

		if err := os.Chmod(d.path, d.info.Mode().Perm()); err != nil {
			return fmt.Errorf("failed to set directory mode: %w", err)
		}

		if err := os.Chtimes(d.path, d.info.ModTime(), d.info.ModTime()); err != nil {
			return fmt.Errorf("failed to set directory times: %w", err)
		}
	}

	return nil
}

func (r *Relocator) copyFile(ctx context.Context, source, destination string, info fs.FileInfo) error {
	logger := logctx.LoggerFromContext(ctx)

	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &PathError{Path: destination, Err: ErrDestinationExists}
		}

		return fmt.Errorf("failed to create destination file: %w", err)
	}

	pr := newProgressReader(in, info.Size(), r.progressInterval, func(read, total int64) {
		logger.DebugContext(ctx, "copy progress",
			"file", source,
			"copied", humanize.Bytes(uint64(read)),
			"total", humanize.Bytes(uint64(total)),
			"percent", humanize.FtoaWithDigits(float64(read)*100/float64(max(total, 1)), 2))
	})

	if _, err := io.Copy(out, pr); err != nil {
		out.Close()

		return fmt.Errorf("failed to copy file: %w", err)
	}

	if err := out.Sync(); err != nil {
		out.Close()

		return fmt.Errorf("failed to sync destination file: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close destination file: %w", err)
	}

	if err := os.Chtimes(destination, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("failed to set file times: %w", err)
	}

	return nil
}
