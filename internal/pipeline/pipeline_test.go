package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/idelchi/sealr/internal/container"
	"github.com/idelchi/sealr/internal/filter"
	"github.com/idelchi/sealr/internal/kdf"
	"github.com/idelchi/sealr/internal/pipeline"
	"github.com/idelchi/sealr/internal/secure"
	"github.com/idelchi/sealr/internal/shred"
)

var cheap = kdf.Params{Time: 1, Memory: 64, Threads: 1}

func newPipeline(opts ...pipeline.Option) *pipeline.Pipeline {
	return pipeline.New(append([]pipeline.Option{pipeline.WithDeriver(kdf.NewArgon2id(cheap))}, opts...)...)
}

func password(t *testing.T, s string) *secure.Secret {
	t.Helper()

	secret, err := secure.FromBytes([]byte(s))
	if err != nil {
		t.Fatal(err)
	}

	return secret
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "source")

	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}

		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	return root
}

func encrypt(t *testing.T, p *pipeline.Pipeline, source, pw string) string {
	t.Helper()

	out := filepath.Join(t.TempDir(), "out.sealr")

	if _, err := p.Encrypt(context.Background(), pipeline.EncryptRequest{
		Source:   source,
		Output:   out,
		Password: password(t, pw),
	}); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	return out
}

func assertPipelineError(t *testing.T, err error, kind pipeline.Kind, state pipeline.State) *pipeline.Error {
	t.Helper()

	var perr *pipeline.Error
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *pipeline.Error", err)
	}

	if perr.Kind != kind || perr.State != state {
		t.Fatalf("error kind/state = %v/%v, want %v/%v (%v)", perr.Kind, perr.State, kind, state, err)
	}

	return perr
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "hello", "sub/b.txt": "world"})
	p := newPipeline()
	sealed := encrypt(t, p, src, "correct-horse")

	out := filepath.Join(t.TempDir(), "restored")

	res, err := p.Decrypt(context.Background(), pipeline.DecryptRequest{
		Container: sealed,
		OutputDir: out,
		Password:  password(t, "correct-horse"),
	})
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}

	if res.Archive.Files != 2 {
		t.Errorf("extracted %d files, want 2", res.Archive.Files)
	}

	for rel, want := range map[string]string{"a.txt": "hello", "sub/b.txt": "world"} {
		got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(rel)))
		if err != nil || string(got) != want {
			t.Errorf("%s = %q, %v; want %q", rel, got, err, want)
		}
	}

	wrongParent := t.TempDir()
	wrongOut := filepath.Join(wrongParent, "restored")

	_, err = p.Decrypt(context.Background(), pipeline.DecryptRequest{
		Container: sealed,
		OutputDir: wrongOut,
		Password:  password(t, "wrong-horse"),
	})

	perr := assertPipelineError(t, err, pipeline.KindAuthentication, pipeline.StateAuthFailed)

	if !errors.Is(err, pipeline.ErrAuthentication) {
		t.Error("errors.Is(err, ErrAuthentication) = false")
	}

	if perr.Error() != pipeline.AuthenticationMessage {
		t.Errorf("message = %q, want the fixed authentication message", perr.Error())
	}

	if entries, _ := os.ReadDir(wrongParent); len(entries) != 0 {
		t.Errorf("failed decrypt left output behind: %v", entries)
	}
}

func TestSingleFileRoundTrip(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"report.pdf": "%PDF-1.7 pretend"})
	p := newPipeline(pipeline.WithPadding(512))
	sealed := encrypt(t, p, filepath.Join(src, "report.pdf"), "pw")

	out := filepath.Join(t.TempDir(), "restored")

	if _, err := p.Decrypt(context.Background(), pipeline.DecryptRequest{
		Container: sealed, OutputDir: out, Password: password(t, "pw"),
	}); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(out, "report.pdf"))
	if err != nil || string(got) != "%PDF-1.7 pretend" {
		t.Errorf("report.pdf = %q, %v", got, err)
	}
}

// field offsets of a container written by Encrypt with the default engine
// and deriver salt size: 4 | salt 16 | 4 | nonce 12 | ciphertext ... | 4.
const (
	saltStart   = 4
	nonceStart  = saltStart + 16 + 4
	cipherStart = nonceStart + 12
)

func TestTamperDetection(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "hello", "sub/b.txt": "world"})
	p := newPipeline()
	sealed := encrypt(t, p, src, "correct-horse")

	original, err := os.ReadFile(sealed)
	if err != nil {
		t.Fatal(err)
	}

	tampered := filepath.Join(t.TempDir(), "tampered.sealr")
	trailerStart := len(original) - 4

	for i := saltStart; i < trailerStart; i++ {
		if i >= saltStart+16 && i < nonceStart {
			continue // nonce length prefix
		}

		data := slices.Clone(original)
		data[i] ^= 1 << (i % 8)

		if err := os.WriteFile(tampered, data, 0o600); err != nil {
			t.Fatal(err)
		}

		out := filepath.Join(t.TempDir(), "out")

		_, err := p.Decrypt(context.Background(), pipeline.DecryptRequest{
			Container: tampered, OutputDir: out, Password: password(t, "correct-horse"),
		})
		if !errors.Is(err, pipeline.ErrAuthentication) {
			t.Fatalf("flipping byte %d: error = %v, want authentication failure", i, err)
		}

		if _, err := os.Stat(out); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("flipping byte %d: output directory was created", i)
		}
	}
}

func TestIdentifierIsAuthenticated(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "hello"})
	p := newPipeline()
	sealed := filepath.Join(t.TempDir(), "labelled.sealr")

	if _, err := p.Encrypt(context.Background(), pipeline.EncryptRequest{
		Source: src, Output: sealed, Password: password(t, "pw"), Identifier: "tax-2023",
	}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(sealed)
	if err != nil {
		t.Fatal(err)
	}

	// "tax-2023" sits right before the trailer; turn it into "tax-2024".
	data[len(data)-5] = '4'

	if err := os.WriteFile(sealed, data, 0o600); err != nil {
		t.Fatal(err)
	}

	info, err := p.Inspect(sealed)
	if err != nil || info.Identifier != "tax-2024" {
		t.Fatalf("Inspect() = %+v, %v", info, err)
	}

	_, err = p.Decrypt(context.Background(), pipeline.DecryptRequest{
		Container: sealed, OutputDir: filepath.Join(t.TempDir(), "out"), Password: password(t, "pw"),
	})
	if !errors.Is(err, pipeline.ErrAuthentication) {
		t.Errorf("Decrypt() after relabel error = %v, want authentication failure", err)
	}
}

func TestTruncatedContainer(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "hello"})
	p := newPipeline()
	sealed := encrypt(t, p, src, "pw")

	data, err := os.ReadFile(sealed)
	if err != nil {
		t.Fatal(err)
	}

	for _, n := range []int{0, 3, 10, nonceStart + 2} {
		if err := os.WriteFile(sealed, data[:n], 0o600); err != nil {
			t.Fatal(err)
		}

		_, err := p.Decrypt(context.Background(), pipeline.DecryptRequest{
			Container: sealed, OutputDir: filepath.Join(t.TempDir(), "out"), Password: password(t, "pw"),
		})

		assertPipelineError(t, err, pipeline.KindContainerFormat, pipeline.StateReadFailed)

		if !errors.Is(err, container.ErrFormat) || !errors.Is(err, pipeline.ErrContainerFormat) {
			t.Errorf("truncated to %d: error = %v", n, err)
		}
	}
}

func TestStateSequence(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "hello"})

	var states []pipeline.State

	p := newPipeline(
		pipeline.WithObserver(func(s pipeline.State) { states = append(states, s) }),
		pipeline.WithShredder(&shred.Shredder{Passes: 1}),
	)

	sealed := filepath.Join(t.TempDir(), "out.sealr")

	res, err := p.Encrypt(context.Background(), pipeline.EncryptRequest{
		Source: src, Output: sealed, Password: password(t, "pw"), Shred: true,
	})
	if err != nil || res.ShredErr != nil {
		t.Fatalf("Encrypt() = %+v, %v", res, err)
	}

	wantEncrypt := []pipeline.State{
		pipeline.StateStart, pipeline.StateArchiving, pipeline.StateDeriveKey, pipeline.StateSealing,
		pipeline.StateWritingContainer, pipeline.StateShreddingSource, pipeline.StateDone,
	}
	if !slices.Equal(states, wantEncrypt) {
		t.Errorf("encrypt states = %v, want %v", states, wantEncrypt)
	}

	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("source still exists after shredding: %v", err)
	}

	states = nil

	if _, err := p.Decrypt(context.Background(), pipeline.DecryptRequest{
		Container: sealed, OutputDir: filepath.Join(t.TempDir(), "out"), Password: password(t, "pw"),
		ShredContainer: true,
	}); err != nil {
		t.Fatal(err)
	}

	wantDecrypt := []pipeline.State{
		pipeline.StateStart, pipeline.StateReadingContainer, pipeline.StateDeriveKey, pipeline.StateOpening,
		pipeline.StateExtracting, pipeline.StateShreddingContainer, pipeline.StateDone,
	}
	if !slices.Equal(states, wantDecrypt) {
		t.Errorf("decrypt states = %v, want %v", states, wantDecrypt)
	}

	if _, err := os.Stat(sealed); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("container still exists after shredding: %v", err)
	}
}

// Changes the working directory, so it must not run in parallel.
func TestDecryptIntoWorkingDirectory(t *testing.T) {
	src := writeTree(t, map[string]string{"a.txt": "hello", "sub/b.txt": "world"})
	p := newPipeline()
	sealed := encrypt(t, p, src, "pw")

	dest := t.TempDir()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Chdir(dest); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})

	if _, err := p.Decrypt(context.Background(), pipeline.DecryptRequest{
		Container: sealed, OutputDir: ".", Password: password(t, "pw"),
	}); err != nil {
		t.Fatalf("Decrypt(OutputDir: .) error = %v", err)
	}

	entries, err := os.ReadDir(dest)
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}

	if !slices.Equal(names, []string{"a.txt", "sub"}) {
		t.Errorf("working directory holds %v, want [a.txt sub]", names)
	}
}

func TestSymlinkedSource(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "hello", "sub/b.txt": "world"})
	link := filepath.Join(t.TempDir(), "link")

	if err := os.Symlink(src, link); err != nil {
		t.Fatal(err)
	}

	p := newPipeline(pipeline.WithShredder(&shred.Shredder{Passes: 1}))
	sealed := filepath.Join(t.TempDir(), "out.sealr")

	res, err := p.Encrypt(context.Background(), pipeline.EncryptRequest{
		Source: link, Output: sealed, Password: password(t, "pw"), Shred: true,
	})
	if err != nil || res.ShredErr != nil {
		t.Fatalf("Encrypt() = %+v, %v", res, err)
	}

	if res.Archive.Files != 2 {
		t.Errorf("archived %d files, want 2", res.Archive.Files)
	}

	if res.Shred.Files != 2 || res.Shred.Links != 1 {
		t.Errorf("shred report = %d files, %d links; want 2, 1", res.Shred.Files, res.Shred.Links)
	}

	for _, path := range []string{src, link} {
		if _, err := os.Lstat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s still exists after shredding: %v", path, err)
		}
	}

	out := filepath.Join(t.TempDir(), "restored")

	if _, err := p.Decrypt(context.Background(), pipeline.DecryptRequest{
		Container: sealed, OutputDir: out, Password: password(t, "pw"),
	}); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}

	for rel, want := range map[string]string{"a.txt": "hello", "sub/b.txt": "world"} {
		got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(rel)))
		if err != nil || string(got) != want {
			t.Errorf("%s = %q, %v; want %q", rel, got, err, want)
		}
	}
}

type failingShredder struct{}

func (failingShredder) Shred(context.Context, string) (*shred.Report, error) {
	return &shred.Report{}, shred.ErrShred
}

func TestShredFailureIsWarning(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "hello"})
	p := newPipeline(pipeline.WithShredder(failingShredder{}))
	out := filepath.Join(t.TempDir(), "out.sealr")

	res, err := p.Encrypt(context.Background(), pipeline.EncryptRequest{
		Source: src, Output: out, Password: password(t, "pw"), Shred: true,
	})
	if err != nil {
		t.Fatalf("Encrypt() error = %v, shred failures must not fail the operation", err)
	}

	if !errors.Is(res.ShredErr, pipeline.ErrShred) {
		t.Errorf("ShredErr = %v, want ErrShred", res.ShredErr)
	}

	if _, err := os.Stat(out); err != nil {
		t.Errorf("container missing: %v", err)
	}
}

func TestEncryptFailures(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "hello"})
	existing := filepath.Join(t.TempDir(), "taken.sealr")

	if err := os.WriteFile(existing, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		ctx   context.Context //nolint:containedctx
		req   pipeline.EncryptRequest
		kind  pipeline.Kind
		state pipeline.State
	}{
		{
			name:  "missing source",
			req:   pipeline.EncryptRequest{Source: filepath.Join(src, "nope")},
			kind:  pipeline.KindIO,
			state: pipeline.StateArchiveFailed,
		},
		{
			name:  "existing output",
			req:   pipeline.EncryptRequest{Source: src, Output: existing},
			kind:  pipeline.KindIO,
			state: pipeline.StateWriteFailed,
		},
		{
			name:  "output inside shredded source",
			req:   pipeline.EncryptRequest{Source: src, Output: filepath.Join(src, "x.sealr"), Shred: true},
			kind:  pipeline.KindIO,
			state: pipeline.StateWriteFailed,
		},
		{
			name:  "identifier too long",
			req:   pipeline.EncryptRequest{Source: src, Identifier: string(make([]byte, 300))},
			kind:  pipeline.KindContainerFormat,
			state: pipeline.StateSealFailed,
		},
		{
			name:  "cancelled",
			ctx:   cancelled,
			req:   pipeline.EncryptRequest{Source: src},
			kind:  pipeline.KindCanceled,
			state: pipeline.StateArchiveFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()

			if tt.req.Output == "" {
				tt.req.Output = filepath.Join(dir, "out.sealr")
			}

			pw := password(t, "pw")
			tt.req.Password = pw

			ctx := tt.ctx
			if ctx == nil {
				ctx = context.Background()
			}

			_, err := newPipeline().Encrypt(ctx, tt.req)
			assertPipelineError(t, err, tt.kind, tt.state)

			if pw.Alive() {
				t.Error("password survived a failed Encrypt()")
			}

			if entries, _ := os.ReadDir(dir); len(entries) != 0 {
				t.Errorf("failed encrypt left files behind: %v", entries)
			}
		})
	}
}

func TestMissingSourceUnwraps(t *testing.T) {
	t.Parallel()

	_, err := newPipeline().Encrypt(context.Background(), pipeline.EncryptRequest{
		Source:   filepath.Join(t.TempDir(), "missing"),
		Output:   filepath.Join(t.TempDir(), "out.sealr"),
		Password: password(t, "pw"),
	})
	if !errors.Is(err, os.ErrNotExist) || !errors.Is(err, pipeline.ErrIO) {
		t.Errorf("error = %v, want ErrIO wrapping ErrNotExist", err)
	}
}

func TestDecryptIntoNonEmptyDirectory(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "hello"})
	p := newPipeline()
	sealed := encrypt(t, p, src, "pw")

	out := t.TempDir()
	if err := os.WriteFile(filepath.Join(out, "keep"), nil, 0o600); err != nil {
		t.Fatal(err)
	}

	pw := password(t, "pw")

	_, err := p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: sealed, OutputDir: out, Password: pw})
	assertPipelineError(t, err, pipeline.KindIO, pipeline.StateExtractFailed)

	if pw.Alive() {
		t.Error("password survived a failed Decrypt()")
	}
}

func TestDecryptIntoEmptyDirectory(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "hello"})
	p := newPipeline()
	sealed := encrypt(t, p, src, "pw")
	out := t.TempDir()

	if _, err := p.Decrypt(context.Background(), pipeline.DecryptRequest{
		Container: sealed, OutputDir: out, Password: password(t, "pw"),
	}); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(out, "a.txt")); err != nil {
		t.Errorf("a.txt missing: %v", err)
	}
}

func TestExcludes(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"keep.txt": "k", "build/out.o": "o", "x.tmp": "t"})

	f, err := filter.New([]string{"build/", "*.tmp"}, "")
	if err != nil {
		t.Fatal(err)
	}

	p := newPipeline(pipeline.WithExcludes(f))
	sealed := filepath.Join(t.TempDir(), "out.sealr")

	res, err := p.Encrypt(context.Background(), pipeline.EncryptRequest{Source: src, Output: sealed, Password: password(t, "pw")})
	if err != nil {
		t.Fatal(err)
	}

	if res.Archive.Files != 1 || res.Archive.Skipped != 2 {
		t.Errorf("archive stats = %+v, want 1 file and 2 skipped", res.Archive)
	}
}

func TestInspect(t *testing.T) {
	t.Parallel()

	src := writeTree(t, map[string]string{"a.txt": "hello"})
	p := newPipeline()

	for _, obfuscate := range []bool{false, true} {
		sealed := filepath.Join(t.TempDir(), "out.sealr")

		if _, err := p.Encrypt(context.Background(), pipeline.EncryptRequest{
			Source: src, Output: sealed, Password: password(t, "pw"), Identifier: "holiday photos", Obfuscate: obfuscate,
		}); err != nil {
			t.Fatal(err)
		}

		info, err := p.Inspect(sealed)
		if err != nil {
			t.Fatalf("Inspect() error = %v", err)
		}

		if !info.HasIdentifier || info.Identifier != "holiday photos" {
			t.Errorf("Inspect(obfuscate=%v) = %+v", obfuscate, info)
		}

		if info.SaltSize != kdf.SaltSize || info.NonceSize != 12 {
			t.Errorf("Inspect() sizes = %d/%d", info.SaltSize, info.NonceSize)
		}

		wantMode := container.ModePlain
		if obfuscate {
			wantMode = container.ModeObfuscated
		}

		if info.Mode != wantMode {
			t.Errorf("Mode = %v, want %v", info.Mode, wantMode)
		}
	}
}
