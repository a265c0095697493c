package archive_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/idelchi/sealr/internal/archive"
	"github.com/idelchi/sealr/internal/filter"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()

	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}

		if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
			t.Fatal(err)
		}
	}

	return root
}

func pack(t *testing.T, source string, opts archive.Options) ([]byte, archive.Stats) {
	t.Helper()

	var buf bytes.Buffer

	stats, err := archive.Pack(context.Background(), source, &buf, opts)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	return buf.Bytes(), stats
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}

	return string(data)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
		"empty":     "",
	})

	if err := os.Symlink("b.txt", filepath.Join(src, "sub", "link")); err != nil {
		t.Fatal(err)
	}

	data, stats := pack(t, src, archive.Options{})

	if stats.Files != 3 || stats.Dirs != 1 || stats.Symlinks != 1 {
		t.Errorf("Pack() stats = %+v, want 3 files, 1 dir, 1 symlink", stats)
	}

	dst := t.TempDir()

	got, err := archive.Unpack(context.Background(), bytes.NewReader(data), dst, archive.Options{})
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}

	if got.Entries() != stats.Entries() {
		t.Errorf("Unpack() entries = %d, want %d", got.Entries(), stats.Entries())
	}

	if s := readFile(t, filepath.Join(dst, "a.txt")); s != "alpha" {
		t.Errorf("a.txt = %q, want alpha", s)
	}

	if s := readFile(t, filepath.Join(dst, "sub", "link")); s != "beta" {
		t.Errorf("sub/link = %q, want beta", s)
	}

	info, err := os.Stat(filepath.Join(dst, "sub", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}

	if info.Mode().Perm() != 0o640 {
		t.Errorf("sub/b.txt mode = %v, want 0640", info.Mode().Perm())
	}
}

func TestPackSingleFile(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"notes.md": "# notes"})

	data, stats := pack(t, filepath.Join(src, "notes.md"), archive.Options{})
	if stats.Files != 1 {
		t.Fatalf("Pack() files = %d, want 1", stats.Files)
	}

	dst := t.TempDir()
	if _, err := archive.Unpack(context.Background(), bytes.NewReader(data), dst, archive.Options{}); err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}

	if s := readFile(t, filepath.Join(dst, "notes.md")); s != "# notes" {
		t.Errorf("notes.md = %q", s)
	}
}

func TestPackSymlinkedRoot(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "alpha", "sub/b.txt": "beta", "notes.md": "# notes"})
	links := t.TempDir()

	dirLink := filepath.Join(links, "tree")
	fileLink := filepath.Join(links, "renamed.md")

	if err := os.Symlink(src, dirLink); err != nil {
		t.Fatal(err)
	}

	if err := os.Symlink(filepath.Join(src, "notes.md"), fileLink); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		source string
		files  int
		want   map[string]string
	}{
		{source: dirLink, files: 3, want: map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"}},
		{source: fileLink, files: 1, want: map[string]string{"renamed.md": "# notes"}},
	}

	for _, tt := range tests {
		data, stats := pack(t, tt.source, archive.Options{})
		if stats.Files != tt.files {
			t.Errorf("Pack(%s) files = %d, want %d", filepath.Base(tt.source), stats.Files, tt.files)
		}

		dst := t.TempDir()
		if _, err := archive.Unpack(context.Background(), bytes.NewReader(data), dst, archive.Options{}); err != nil {
			t.Fatalf("Unpack() error = %v", err)
		}

		for rel, want := range tt.want {
			if got := readFile(t, filepath.Join(dst, filepath.FromSlash(rel))); got != want {
				t.Errorf("%s = %q, want %q", rel, got, want)
			}
		}
	}
}

func TestPackIsReproducible(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"z.txt": "z", "a/b.txt": "b", "m.txt": "m"})

	first, _ := pack(t, src, archive.Options{})

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(src, "z.txt"), later, later); err != nil {
		t.Fatal(err)
	}

	second, _ := pack(t, src, archive.Options{})

	if !bytes.Equal(first, second) {
		t.Error("packing the same content twice produced different bytes")
	}
}

func TestPreserveTimes(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "a"})
	stamp := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := os.Chtimes(filepath.Join(src, "a.txt"), stamp, stamp); err != nil {
		t.Fatal(err)
	}

	opts := archive.Options{PreserveTimes: true}
	data, _ := pack(t, src, opts)

	dst := t.TempDir()
	if _, err := archive.Unpack(context.Background(), bytes.NewReader(data), dst, opts); err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(dst, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}

	if !info.ModTime().Equal(stamp) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), stamp)
	}
}

func TestPackExcludes(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{
		"keep.txt":       "k",
		"drop.tmp":       "d",
		"cache/blob":     "c",
		"nested/x.tmp":   "x",
		"nested/keep.md": "m",
	})

	f, err := filter.New([]string{"*.tmp", "cache/"}, "")
	if err != nil {
		t.Fatal(err)
	}

	data, stats := pack(t, src, archive.Options{Exclude: f})
	if stats.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", stats.Skipped)
	}

	dst := t.TempDir()
	if _, err := archive.Unpack(context.Background(), bytes.NewReader(data), dst, archive.Options{}); err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}

	for _, rel := range []string{"drop.tmp", "cache", "nested/x.tmp"} {
		if _, err := os.Lstat(filepath.Join(dst, rel)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s was archived despite exclusion", rel)
		}
	}

	for _, rel := range []string{"keep.txt", "nested/keep.md"} {
		if _, err := os.Lstat(filepath.Join(dst, rel)); err != nil {
			t.Errorf("%s missing: %v", rel, err)
		}
	}
}

func TestPackSkipsEscapingSymlinks(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "a"})

	for name, target := range map[string]string{"up": "../outside", "abs": "/etc/passwd"} {
		if err := os.Symlink(target, filepath.Join(src, name)); err != nil {
			t.Fatal(err)
		}
	}

	_, stats := pack(t, src, archive.Options{})
	if stats.Symlinks != 0 || stats.Skipped != 2 {
		t.Errorf("stats = %+v, want 0 symlinks and 2 skipped", stats)
	}
}

func TestPackCancelled(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	if _, err := archive.Pack(ctx, src, &buf, archive.Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Pack() error = %v, want context.Canceled", err)
	}
}

// craft builds a gzip tar stream from raw headers. Regular files get
// their body filled with 'x'.
func craft(t *testing.T, headers ...*tar.Header) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)

	for _, h := range headers {
		if h.Mode == 0 {
			h.Mode = 0o644
		}

		if err := tw.WriteHeader(h); err != nil {
			t.Fatal(err)
		}

		if h.Typeflag == tar.TypeReg && h.Size > 0 {
			if _, err := tw.Write(bytes.Repeat([]byte("x"), int(h.Size))); err != nil {
				t.Fatal(err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func file(name string) *tar.Header {
	return &tar.Header{Name: name, Typeflag: tar.TypeReg, Size: 1}
}

func TestUnpackRejectsHostileEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers []*tar.Header
	}{
		{name: "parent traversal", headers: []*tar.Header{file("../x")}},
		{name: "nested traversal", headers: []*tar.Header{file("a/../../x")}},
		{name: "absolute", headers: []*tar.Header{file("/tmp/x")}},
		{name: "destination itself", headers: []*tar.Header{{Name: "./", Typeflag: tar.TypeDir}}},
		{
			name:    "escaping symlink",
			headers: []*tar.Header{{Name: "l", Typeflag: tar.TypeSymlink, Linkname: "../outside"}},
		},
		{
			name:    "absolute symlink",
			headers: []*tar.Header{{Name: "l", Typeflag: tar.TypeSymlink, Linkname: "/etc"}},
		},
		{
			name: "write through symlink",
			headers: []*tar.Header{
				{Name: "d/", Typeflag: tar.TypeDir, Mode: 0o755},
				{Name: "l", Typeflag: tar.TypeSymlink, Linkname: "d"},
				file("l/x"),
			},
		},
		{name: "duplicate file", headers: []*tar.Header{file("a"), file("a")}},
		{
			name:    "directory over file",
			headers: []*tar.Header{file("a"), {Name: "a/", Typeflag: tar.TypeDir}},
		},
		{
			name:    "hard link",
			headers: []*tar.Header{file("a"), {Name: "b", Typeflag: tar.TypeLink, Linkname: "a"}},
		},
		{name: "device", headers: []*tar.Header{{Name: "dev", Typeflag: tar.TypeChar}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			parent := t.TempDir()
			dst := filepath.Join(parent, "out")

			if err := os.Mkdir(dst, 0o700); err != nil {
				t.Fatal(err)
			}

			_, err := archive.Unpack(context.Background(), bytes.NewReader(craft(t, tt.headers...)), dst, archive.Options{})
			if !errors.Is(err, archive.ErrFormat) {
				t.Fatalf("Unpack() error = %v, want ErrFormat", err)
			}

			for _, stray := range []string{"x", "outside"} {
				if _, err := os.Lstat(filepath.Join(parent, stray)); err == nil {
					t.Errorf("entry escaped to %s", stray)
				}
			}
		})
	}
}

func TestUnpackMalformed(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": string(bytes.Repeat([]byte("payload "), 512))})
	good, _ := pack(t, src, archive.Options{})

	tests := map[string][]byte{
		"garbage":   []byte("definitely not gzip"),
		"empty":     nil,
		"truncated": good[:len(good)/2],
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := archive.Unpack(context.Background(), bytes.NewReader(data), t.TempDir(), archive.Options{})
			if !errors.Is(err, archive.ErrFormat) {
				t.Errorf("Unpack() error = %v, want ErrFormat", err)
			}
		})
	}
}

func TestPadUnpad(t *testing.T) {
	t.Parallel()

	body := []byte("compressed archive bytes")

	for _, limit := range []int{0, 1, 16, 4096} {
		padded, err := archive.Pad(body, limit)
		if err != nil {
			t.Fatalf("Pad(%d) error = %v", limit, err)
		}

		extra := len(padded) - len(body) - 4

		switch {
		case limit == 0 && extra != 0:
			t.Errorf("Pad(0) added %d bytes", extra)
		case limit > 0 && (extra < 1 || extra > limit):
			t.Errorf("Pad(%d) added %d bytes", limit, extra)
		}

		got, err := archive.Unpad(padded)
		if err != nil {
			t.Fatalf("Unpad() error = %v", err)
		}

		if !bytes.Equal(got, body) {
			t.Errorf("Unpad(Pad(%d)) = %q", limit, got)
		}
	}

	if _, err := archive.Pad(body, -1); err == nil {
		t.Error("Pad(-1) succeeded")
	}

	for _, bad := range [][]byte{nil, {0, 0, 1}, {0, 0, 0, 9}} {
		if _, err := archive.Unpad(bad); !errors.Is(err, archive.ErrFormat) {
			t.Errorf("Unpad(%v) error = %v, want ErrFormat", bad, err)
		}
	}
}
