package pipeline

import (
	"bytes"
	"context"
	"errors"

	"github.com/idelchi/sealr/internal/aead"
	"github.com/idelchi/sealr/internal/archive"
	"github.com/idelchi/sealr/internal/fileutil"
	"github.com/idelchi/sealr/internal/secure"
	"github.com/idelchi/sealr/internal/shred"
)

// DecryptRequest describes one decrypt operation.
type DecryptRequest struct {
	// Container is the path of the container to open.
	Container string
	// OutputDir receives the extracted entries. It must not exist or be an
	// empty directory.
	OutputDir string
	// Password is consumed: it is destroyed when Decrypt returns.
	Password *secure.Secret
	// ShredContainer overwrites and removes the container after a
	// successful extraction.
	ShredContainer bool
}

// DecryptResult describes a completed decrypt operation.
type DecryptResult struct {
	OutputDir  string
	Archive    archive.Stats
	Identifier string
	Shred      *shred.Report
	// ShredErr is a warning: extraction succeeded but removing the
	// container did not.
	ShredErr error
}

// Decrypt opens req.Container with a key derived from req.Password and
// extracts its archive into req.OutputDir. A wrong password and a tampered
// container fail identically, and neither writes anything to OutputDir.
//
//nolint:funlen,cyclop
func (p *Pipeline) Decrypt(ctx context.Context, req DecryptRequest) (*DecryptResult, error) {
	defer req.Password.Destroy()

	r := p.begin()
	log := p.logger.With("container", req.Container, "output", req.OutputDir)

	if req.OutputDir == "" {
		return nil, r.fail(StateExtractFailed, "", errors.New("no output directory given"))
	}

	if err := fileutil.CheckDestination(req.OutputDir); err != nil {
		return nil, r.fail(StateExtractFailed, req.OutputDir, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, r.fail(StateReadFailed, req.Container, err)
	}

	r.enter(StateReadingContainer)

	c, size, err := readContainer(req.Container)
	if err != nil {
		return nil, r.fail(StateReadFailed, req.Container, err)
	}

	log.Debug("read container", "size", size)

	if err := ctx.Err(); err != nil {
		return nil, r.fail(StateDeriveFailed, "", err)
	}

	r.enter(StateDeriveKey)

	key, err := p.deriver.Derive(req.Password, c.Salt, aead.KeySize)
	if err != nil {
		return nil, r.failAs(StateDeriveFailed, KindKeyDerivation, "", err)
	}
	defer key.Destroy()

	if err := ctx.Err(); err != nil {
		return nil, r.fail(StateAuthFailed, req.Container, err)
	}

	r.enter(StateOpening)

	plaintext, err := p.engine.Open(key, c.Nonce, c.Ciphertext, c.AdditionalData())

	key.Destroy()

	if err != nil {
		return nil, r.failAs(StateAuthFailed, KindAuthentication, req.Container, aead.ErrAuthentication)
	}
	defer secure.Wipe(plaintext)

	if err := ctx.Err(); err != nil {
		return nil, r.fail(StateExtractFailed, req.OutputDir, err)
	}

	r.enter(StateExtracting)

	stats, err := p.extract(ctx, plaintext, req.OutputDir)
	if err != nil {
		return nil, r.fail(StateExtractFailed, req.OutputDir, err)
	}

	res := &DecryptResult{OutputDir: req.OutputDir, Archive: stats}

	// The label is advisory; an unreadable one does not fail the operation.
	if label, err := c.Identifier.Label(); err == nil {
		res.Identifier = label
	} else {
		log.Warn("identifier cannot be read", "error", err)
	}

	if req.ShredContainer {
		r.enter(StateShreddingContainer)

		report, err := p.shredder.Shred(ctx, req.Container)

		res.Shred = report

		if err != nil {
			res.ShredErr = &Error{Kind: KindShred, State: StateShreddingContainer, Path: req.Container, Err: err}

			log.Warn("container was not fully shredded", "error", err)
		}
	}

	r.enter(StateDone)

	return res, nil
}

func (p *Pipeline) extract(ctx context.Context, plaintext []byte, outDir string) (stats archive.Stats, err error) {
	body, err := archive.Unpad(plaintext)
	if err != nil {
		return stats, err
	}

	staging, err := fileutil.NewStagingDir(outDir)
	if err != nil {
		return stats, err
	}

	defer staging.CleanupOnError(&err)

	stats, err = archive.Unpack(ctx, bytes.NewReader(body), staging.Dir, p.archiveOptions())
	if err != nil {
		return stats, err
	}

	return stats, staging.Commit()
}
