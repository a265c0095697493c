package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	dirCreatePerm = 0o700
	permMask      = 0o777
)

type pendingDir struct {
	path    string
	mode    fs.FileMode
	modTime time.Time
}

// Unpack extracts a stream produced by Pack into destDir, which must exist.
// Entries that are absolute, contain "..", pass through a symlink, or would
// replace an existing path are rejected with ErrFormat. On error the caller
// is responsible for removing whatever was written to destDir.
//
//nolint:cyclop,funlen // one switch over tar entry types
func Unpack(ctx context.Context, r io.Reader, destDir string, opts Options) (Stats, error) {
	var stats Stats

	zr, err := gzip.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	defer zr.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return stats, fmt.Errorf("resolving %q: %w", destDir, err)
	}

	tr := tar.NewReader(zr)
	log := opts.logger()

	var dirs []pendingDir

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return stats, fmt.Errorf("%w: %w", ErrFormat, err)
		}

		rel, err := entryPath(hdr.Name)
		if err != nil {
			return stats, err
		}

		target := filepath.Join(root, filepath.FromSlash(rel))

		if err := checkParents(root, rel); err != nil {
			return stats, err
		}

		mode := fs.FileMode(hdr.Mode) & permMask //nolint:gosec // masked to permission bits

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := makeDir(target); err != nil {
				return stats, err
			}

			dirs = append(dirs, pendingDir{path: target, mode: mode, modTime: hdr.ModTime})
			stats.Dirs++
		case tar.TypeReg:
			n, err := writeFile(tr, target, mode)
			if err != nil {
				return stats, err
			}

			if opts.PreserveTimes {
				if err := os.Chtimes(target, hdr.ModTime, hdr.ModTime); err != nil {
					return stats, fmt.Errorf("restoring times of %q: %w", rel, err)
				}
			}

			stats.Files++
			stats.Bytes += n
		case tar.TypeSymlink:
			if !safeLinkTarget(hdr.Linkname) {
				return stats, fmt.Errorf("%w: symlink %q points outside its directory", ErrFormat, rel)
			}

			if err := os.MkdirAll(filepath.Dir(target), dirCreatePerm); err != nil {
				return stats, fmt.Errorf("creating parent of %q: %w", rel, err)
			}

			if err := os.Symlink(filepath.FromSlash(hdr.Linkname), target); err != nil {
				if errors.Is(err, fs.ErrExist) {
					return stats, fmt.Errorf("%w: duplicate entry %q", ErrFormat, rel)
				}

				return stats, fmt.Errorf("creating symlink %q: %w", rel, err)
			}

			stats.Symlinks++
		default:
			return stats, fmt.Errorf("%w: unsupported entry type %q for %q", ErrFormat, hdr.Typeflag, rel)
		}

		log.Debug("extracted", "path", rel)
	}

	// Apply directory modes deepest first so read-only parents do not block
	// their children.
	slices.SortFunc(dirs, func(a, b pendingDir) int { return strings.Compare(b.path, a.path) })

	for _, d := range dirs {
		if err := os.Chmod(d.path, d.mode); err != nil {
			return stats, fmt.Errorf("setting mode of %q: %w", d.path, err)
		}

		if opts.PreserveTimes {
			if err := os.Chtimes(d.path, d.modTime, d.modTime); err != nil {
				return stats, fmt.Errorf("restoring times of %q: %w", d.path, err)
			}
		}
	}

	return stats, nil
}

// entryPath validates a tar entry name and returns it cleaned.
func entryPath(name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")

	if slashed == "" || path.IsAbs(slashed) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: entry %q is not a relative path", ErrFormat, name)
	}

	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: entry %q escapes the destination", ErrFormat, name)
		}
	}

	clean := path.Clean(slashed)
	if clean == "." {
		return "", fmt.Errorf("%w: entry %q names the destination itself", ErrFormat, name)
	}

	return clean, nil
}

// checkParents rejects entries whose existing parent components are not
// plain directories, so nothing is ever written through a symlink.
func checkParents(root, rel string) error {
	dir := root

	parts := strings.Split(rel, "/")
	for _, part := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, part)

		info, err := os.Lstat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("inspecting %q: %w", dir, err)
		}

		if !info.IsDir() {
			return fmt.Errorf("%w: entry %q passes through a non-directory", ErrFormat, rel)
		}
	}

	return nil
}

func makeDir(target string) error {
	info, err := os.Lstat(target)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: directory entry %q replaces a file", ErrFormat, target)
		}

		return nil
	}

	if err := os.MkdirAll(target, dirCreatePerm); err != nil {
		return fmt.Errorf("creating directory %q: %w", target, err)
	}

	return nil
}

func writeFile(r io.Reader, target string, mode fs.FileMode) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), dirCreatePerm); err != nil {
		return 0, fmt.Errorf("creating parent of %q: %w", target, err)
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return 0, fmt.Errorf("%w: duplicate entry %q", ErrFormat, target)
		}

		return 0, fmt.Errorf("creating %q: %w", target, err)
	}

	n, err := copyChunked(f, r)
	if err != nil {
		f.Close()

		// Write failures surface as *fs.PathError; anything else came from
		// the decompressor or tar reader.
		if pathErr := (*fs.PathError)(nil); !errors.As(err, &pathErr) {
			return n, fmt.Errorf("%w: reading content for %q: %w", ErrFormat, target, err)
		}

		return n, fmt.Errorf("writing %q: %w", target, err)
	}

	if err := f.Close(); err != nil {
		return n, fmt.Errorf("closing %q: %w", target, err)
	}

	return n, nil
}
