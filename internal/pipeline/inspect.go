package pipeline

import (
	"github.com/idelchi/sealr/internal/container"
)

// Info is what a container reveals without its password.
type Info struct {
	Path          string
	Size          int64
	SaltSize      int
	NonceSize     int
	PayloadSize   int
	HasIdentifier bool
	Mode          container.IdentifierMode
	Identifier    string
}

// Inspect reads the container at path and reports its layout and
// identifier. It needs no password and verifies nothing cryptographically.
func (p *Pipeline) Inspect(path string) (Info, error) {
	r := p.begin()
	r.enter(StateReadingContainer)

	c, size, err := readContainer(path)
	if err != nil {
		return Info{}, r.fail(StateReadFailed, path, err)
	}

	info := Info{
		Path:          path,
		Size:          size,
		SaltSize:      len(c.Salt),
		NonceSize:     len(c.Nonce),
		PayloadSize:   len(c.Ciphertext),
		HasIdentifier: c.Identifier != nil,
	}

	if c.Identifier != nil {
		info.Mode = c.Identifier.Mode

		info.Identifier, err = c.Identifier.Label()
		if err != nil {
			return Info{}, r.fail(StateReadFailed, path, err)
		}
	}

	r.enter(StateDone)

	return info, nil
}
