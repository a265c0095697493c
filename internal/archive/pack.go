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

// entry is one path to archive, relative to the pack root.
type entry struct {
	rel  string // slash-separated
	abs  string
	info fs.FileInfo
	link string
}

// Pack writes source as a compressed tar stream to w.
// A single file is stored under its base name; a directory's contents are
// stored relative to the directory.
func Pack(ctx context.Context, source string, w io.Writer, opts Options) (Stats, error) {
	var stats Stats

	entries, skipped, err := collect(ctx, source, opts)
	if err != nil {
		return stats, err
	}

	stats.Skipped = skipped

	zw, err := gzip.NewWriterLevel(w, opts.level())
	if err != nil {
		return stats, fmt.Errorf("creating gzip writer: %w", err)
	}

	tw := tar.NewWriter(zw)
	log := opts.logger()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		n, err := writeEntry(tw, e, opts.PreserveTimes)
		if err != nil {
			return stats, err
		}

		switch {
		case e.info.IsDir():
			stats.Dirs++
		case e.link != "":
			stats.Symlinks++
		default:
			stats.Files++
			stats.Bytes += n
		}

		log.Debug("packed", "path", e.rel, "size", n)
	}

	if err := tw.Close(); err != nil {
		return stats, fmt.Errorf("finalizing tar stream: %w", err)
	}

	if err := zw.Close(); err != nil {
		return stats, fmt.Errorf("finalizing gzip stream: %w", err)
	}

	return stats, nil
}

// collect walks source and returns the entries sorted by relative path.
//
//nolint:cyclop // one switch over entry kinds
func collect(ctx context.Context, source string, opts Options) ([]entry, int, error) {
	name := filepath.Base(filepath.Clean(source))

	// WalkDir does not follow a symlinked root, so walk its target instead.
	root, err := filepath.EvalSymlinks(source)
	if err != nil {
		return nil, 0, fmt.Errorf("reading source %q: %w", source, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, 0, fmt.Errorf("reading source %q: %w", source, err)
	}

	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return nil, 0, fmt.Errorf("source %q is not a regular file or directory", source)
		}

		return []entry{{rel: name, abs: root, info: info}}, 0, nil
	}

	var (
		entries []entry
		skipped int
		log     = opts.logger()
	)

	err = filepath.WalkDir(root, func(abs string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if abs == root {
			return nil
		}

		relOS, err := filepath.Rel(root, abs)
		if err != nil {
			return err
		}

		rel := filepath.ToSlash(relOS)

		if opts.Exclude.Excluded(rel, d.IsDir()) {
			log.Debug("excluded", "path", rel)

			skipped++

			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		e := entry{rel: rel, abs: abs, info: info}

		switch mode := info.Mode(); {
		case mode.IsDir(), mode.IsRegular():
		case mode&fs.ModeSymlink != 0:
			target, err := os.Readlink(abs)
			if err != nil {
				return err
			}

			if !safeLinkTarget(target) {
				log.Warn("skipping symlink pointing outside its directory", "path", rel, "target", target)

				skipped++

				return nil
			}

			e.link = target
		default:
			log.Debug("skipping unsupported file type", "path", rel, "mode", mode.String())

			skipped++

			return nil
		}

		entries = append(entries, e)

		return nil
	})
	if err != nil {
		return nil, skipped, fmt.Errorf("walking %q: %w", source, err)
	}

	slices.SortFunc(entries, func(a, b entry) int { return strings.Compare(a.rel, b.rel) })

	return entries, skipped, nil
}

func writeEntry(tw *tar.Writer, e entry, preserveTimes bool) (int64, error) {
	hdr := &tar.Header{
		Name:    e.rel,
		Mode:    int64(e.info.Mode().Perm()),
		ModTime: time.Unix(0, 0),
	}

	if preserveTimes {
		hdr.ModTime = e.info.ModTime().Truncate(time.Second)
	}

	switch {
	case e.info.IsDir():
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
	case e.link != "":
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = filepath.ToSlash(e.link)
	default:
		hdr.Typeflag = tar.TypeReg
		hdr.Size = e.info.Size()
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return 0, fmt.Errorf("writing header for %q: %w", e.rel, err)
	}

	if hdr.Typeflag != tar.TypeReg {
		return 0, nil
	}

	f, err := os.Open(e.abs)
	if err != nil {
		return 0, fmt.Errorf("opening %q: %w", e.abs, err)
	}
	defer f.Close()

	n, err := copyChunked(tw, f)
	if err != nil {
		if errors.Is(err, tar.ErrWriteTooLong) {
			return n, fmt.Errorf("%q grew while being archived", e.abs)
		}

		return n, fmt.Errorf("archiving %q: %w", e.abs, err)
	}

	if n != hdr.Size {
		return n, fmt.Errorf("%q shrank while being archived", e.abs)
	}

	return n, nil
}

// safeLinkTarget accepts relative targets that never climb above the link's
// own directory. Extraction applies the same rule.
func safeLinkTarget(target string) bool {
	target = filepath.ToSlash(target)

	if target == "" || path.IsAbs(target) || filepath.IsAbs(target) {
		return false
	}

	for _, part := range strings.Split(target, "/") {
		if part == ".." {
			return false
		}
	}

	return true
}
