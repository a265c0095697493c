package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/idelchi/sealr/internal/aead"
	"github.com/idelchi/sealr/internal/archive"
	"github.com/idelchi/sealr/internal/container"
	"github.com/idelchi/sealr/internal/fileutil"
	"github.com/idelchi/sealr/internal/kdf"
	"github.com/idelchi/sealr/internal/secure"
	"github.com/idelchi/sealr/internal/shred"
)

// EncryptRequest describes one encrypt operation.
type EncryptRequest struct {
	// Source is the file or directory to seal.
	Source string
	// Output is the container path. It must not exist.
	Output string
	// Password is consumed: it is destroyed when Encrypt returns.
	Password *secure.Secret
	// Identifier is an optional advisory label stored with the container.
	Identifier string
	// Obfuscate stores Identifier obfuscated instead of in plain text.
	Obfuscate bool
	// Shred overwrites and removes Source after the container is written.
	Shred bool
}

// EncryptResult describes a completed encrypt operation.
type EncryptResult struct {
	Output  string
	Size    int64
	Archive archive.Stats
	// Shred is set when the source was shredded.
	Shred *shred.Report
	// ShredErr is a warning: the container was written but removing the
	// source did not fully succeed.
	ShredErr error
}

// Encrypt archives req.Source, seals it under a key derived from
// req.Password and writes the container to req.Output.
//
//nolint:funlen,cyclop
func (p *Pipeline) Encrypt(ctx context.Context, req EncryptRequest) (*EncryptResult, error) {
	defer req.Password.Destroy()

	r := p.begin()
	log := p.logger.With("source", req.Source, "output", req.Output)

	switch {
	case req.Output == "":
		return nil, r.fail(StateWriteFailed, "", errors.New("no output path given"))
	case req.Shred && insideSource(req.Output, req.Source):
		return nil, r.fail(StateWriteFailed, req.Output, errors.New("output lies inside the source that would be shredded"))
	}

	if _, err := os.Lstat(req.Output); err == nil {
		return nil, r.fail(StateWriteFailed, req.Output, fileutil.ErrDestinationExists)
	}

	if err := ctx.Err(); err != nil {
		return nil, r.fail(StateArchiveFailed, req.Source, err)
	}

	r.enter(StateArchiving)

	var buf bytes.Buffer

	stats, err := archive.Pack(ctx, req.Source, &buf, p.archiveOptions())
	if err != nil {
		secure.Wipe(buf.Bytes())

		return nil, r.fail(StateArchiveFailed, req.Source, err)
	}

	plaintext, err := archive.Pad(buf.Bytes(), p.padding)

	secure.Wipe(buf.Bytes())

	if err != nil {
		return nil, r.fail(StateArchiveFailed, req.Source, err)
	}
	defer secure.Wipe(plaintext)

	log.Debug("archived", "entries", stats.Entries(), "bytes", len(plaintext))

	if err := ctx.Err(); err != nil {
		return nil, r.fail(StateDeriveFailed, "", err)
	}

	r.enter(StateDeriveKey)

	salt, err := kdf.NewSalt(p.deriver.SaltSize())
	if err != nil {
		return nil, r.failAs(StateDeriveFailed, KindKeyDerivation, "", err)
	}

	key, err := p.deriver.Derive(req.Password, salt, aead.KeySize)
	if err != nil {
		return nil, r.failAs(StateDeriveFailed, KindKeyDerivation, "", err)
	}
	defer key.Destroy()

	if err := ctx.Err(); err != nil {
		return nil, r.fail(StateSealFailed, "", err)
	}

	r.enter(StateSealing)

	c, err := p.seal(key, salt, plaintext, req.Identifier, req.Obfuscate)
	if err != nil {
		return nil, r.fail(StateSealFailed, "", err)
	}

	key.Destroy()

	if err := ctx.Err(); err != nil {
		return nil, r.fail(StateWriteFailed, req.Output, err)
	}

	r.enter(StateWritingContainer)

	size, err := writeContainer(&c, req.Output)
	if err != nil {
		return nil, r.fail(StateWriteFailed, req.Output, err)
	}

	res := &EncryptResult{Output: req.Output, Size: size, Archive: stats}

	if req.Shred {
		r.enter(StateShreddingSource)

		report, err := p.shredSource(ctx, req.Source)

		res.Shred = report

		if err != nil {
			res.ShredErr = &Error{Kind: KindShred, State: StateShreddingSource, Path: req.Source, Err: err}

			log.Warn("source was not fully shredded", "error", err)
		}
	}

	r.enter(StateDone)

	return res, nil
}

func (p *Pipeline) seal(key *secure.Secret, salt, plaintext []byte, label string, obfuscate bool) (container.Container, error) {
	mode := container.ModePlain
	if obfuscate {
		mode = container.ModeObfuscated
	}

	id, err := container.NewIdentifier(label, mode)
	if err != nil {
		return container.Container{}, err
	}

	nonce, err := aead.NewNonce(p.engine)
	if err != nil {
		return container.Container{}, err
	}

	c := container.Container{Salt: salt, Nonce: nonce, Identifier: id}

	c.Ciphertext, err = p.engine.Seal(key, nonce, plaintext, c.AdditionalData())
	if err != nil {
		return container.Container{}, fmt.Errorf("sealing: %w", err)
	}

	return c, nil
}

func writeContainer(c *container.Container, out string) (size int64, err error) {
	tf, err := fileutil.NewTempFile(out)
	if err != nil {
		return 0, err
	}

	defer tf.CleanupOnError(&err)

	if _, err = c.WriteTo(tf.File); err != nil {
		return 0, err
	}

	return tf.Commit()
}
