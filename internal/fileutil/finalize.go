// Package fileutil provides temp-then-rename helpers so that failed
// operations never leave partial output at the final path.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrDestinationExists is returned when an output path is already taken.
var ErrDestinationExists = errors.New("destination already exists")

const ownerReadWrite = 0o600

// TempFile is a file written beside its final path and renamed into place.
type TempFile struct {
	File  *os.File
	Name  string
	Final string
}

// NewTempFile creates a hidden temporary file in the directory of outPath.
// Caller must defer CleanupOnError. The final path must not exist.
func NewTempFile(outPath string) (*TempFile, error) {
	if _, err := os.Lstat(outPath); err == nil {
		return nil, fmt.Errorf("%w: %q", ErrDestinationExists, outPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("checking %q: %w", outPath, err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(outPath), ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("creating temporary file: %w", err)
	}

	return &TempFile{File: tmpFile, Name: tmpFile.Name(), Final: outPath}, nil
}

// CleanupOnError closes the temp file and removes it if the write failed.
func (t *TempFile) CleanupOnError(errp *error) {
	t.File.Close() //nolint:gosec // best-effort cleanup

	if *errp != nil {
		os.Remove(t.Name) //nolint:gosec // best-effort cleanup
	}
}

// Commit flushes the temp file, restricts it to the owner and renames it
// to the final path. It returns the size of the committed file.
func (t *TempFile) Commit() (int64, error) {
	if err := t.File.Sync(); err != nil {
		return 0, fmt.Errorf("syncing temporary file: %w", err)
	}

	if err := t.File.Chmod(ownerReadWrite); err != nil {
		return 0, fmt.Errorf("setting file permissions: %w", err)
	}

	info, err := t.File.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat temporary file: %w", err)
	}

	if err := t.File.Close(); err != nil {
		return 0, fmt.Errorf("closing temporary file: %w", err)
	}

	if err := os.Rename(t.Name, t.Final); err != nil {
		return 0, fmt.Errorf("renaming output file: %w", err)
	}

	return info.Size(), nil
}

// StagingDir is a directory populated out of sight and moved to its final
// path once complete. An absent final path is created by renaming the
// staging directory; an existing empty one is staged inside and filled, so
// it keeps its identity (the working directory, a mount point).
type StagingDir struct {
	Dir   string
	Final string

	inPlace bool
}

// NewStagingDir creates a hidden staging directory for outDir, which must
// not exist or be an empty directory. Caller must defer CleanupOnError.
func NewStagingDir(outDir string) (*StagingDir, error) {
	final, err := filepath.Abs(outDir)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", outDir, err)
	}

	if err := CheckDestination(final); err != nil {
		return nil, err
	}

	parent, inPlace := filepath.Dir(final), false

	if _, err := os.Lstat(final); err == nil {
		parent, inPlace = final, true
	} else if err := os.MkdirAll(parent, 0o700); err != nil {
		return nil, fmt.Errorf("creating parent of %q: %w", final, err)
	}

	dir, err := os.MkdirTemp(parent, ".tmp-extract-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	return &StagingDir{Dir: dir, Final: final, inPlace: inPlace}, nil
}

// CleanupOnError removes the staging directory if extraction failed.
func (s *StagingDir) CleanupOnError(errp *error) {
	if *errp != nil {
		os.RemoveAll(s.Dir) //nolint:gosec,errcheck // best-effort cleanup
	}
}

// Commit moves the staged entries to the final path.
func (s *StagingDir) Commit() error {
	if s.inPlace {
		return s.fill()
	}

	if err := CheckDestination(s.Final); err != nil {
		return err
	}

	if err := os.Remove(s.Final); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("replacing %q: %w", s.Final, err)
	}

	if err := os.Rename(s.Dir, s.Final); err != nil {
		return fmt.Errorf("moving extracted files into %q: %w", s.Final, err)
	}

	return nil
}

// fill moves the staged entries up into Final. A partial move is undone.
func (s *StagingDir) fill() error {
	present, err := os.ReadDir(s.Final)
	if err != nil {
		return fmt.Errorf("reading %q: %w", s.Final, err)
	}

	if len(present) != 1 || present[0].Name() != filepath.Base(s.Dir) {
		return fmt.Errorf("%w: %q is not empty", ErrDestinationExists, s.Final)
	}

	staged, err := os.ReadDir(s.Dir)
	if err != nil {
		return fmt.Errorf("reading staging directory: %w", err)
	}

	for i, e := range staged {
		from, to := filepath.Join(s.Dir, e.Name()), filepath.Join(s.Final, e.Name())

		if err := os.Rename(from, to); err != nil {
			for _, back := range staged[:i] {
				//nolint:errcheck // best-effort rollback
				os.Rename(filepath.Join(s.Final, back.Name()), filepath.Join(s.Dir, back.Name()))
			}

			return fmt.Errorf("moving extracted files into %q: %w", s.Final, err)
		}
	}

	if err := os.Remove(s.Dir); err != nil {
		return fmt.Errorf("removing staging directory: %w", err)
	}

	return nil
}

// CheckDestination reports ErrDestinationExists unless path is absent or an
// empty directory.
func CheckDestination(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("checking %q: %w", path, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %q is not a directory", ErrDestinationExists, path)
	}

	d, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %q: %w", path, err)
	}
	defer d.Close()

	if _, err := d.Readdirnames(1); !errors.Is(err, io.EOF) {
		if err != nil {
			return fmt.Errorf("reading %q: %w", path, err)
		}

		return fmt.Errorf("%w: %q is not empty", ErrDestinationExists, path)
	}

	return nil
}
