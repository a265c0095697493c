package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrFormat is returned for truncated or malformed containers.
var ErrFormat = errors.New("malformed container")

const lengthSize = 4

// MinSaltSize is the shortest salt a container may carry.
const MinSaltSize = 16

// MaxSize bounds how much ReadFrom will load into memory.
const MaxSize = 8 << 30

// Container is the decoded form of a container file. Decode returns slices
// that alias the input buffer.
type Container struct {
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
	Identifier *Identifier
}

// AdditionalData returns the bytes bound to the ciphertext as associated
// data: the encoded identifier block, or nil without an identifier.
func (c *Container) AdditionalData() []byte {
	return c.Identifier.block()
}

// Size returns the encoded length of c.
func (c *Container) Size() int {
	return 3*lengthSize + len(c.Salt) + len(c.Nonce) + len(c.Ciphertext) + len(c.Identifier.block())
}

func (c *Container) validate() error {
	switch {
	case len(c.Salt) == 0:
		return fmt.Errorf("%w: empty salt", ErrFormat)
	case len(c.Salt) < MinSaltSize:
		return fmt.Errorf("%w: salt too short: %d bytes, want at least %d", ErrFormat, len(c.Salt), MinSaltSize)
	case len(c.Nonce) == 0:
		return fmt.Errorf("%w: empty nonce", ErrFormat)
	case len(c.Ciphertext) == 0:
		return fmt.Errorf("%w: empty ciphertext", ErrFormat)
	case uint64(len(c.Salt)) > math.MaxUint32, uint64(len(c.Nonce)) > math.MaxUint32:
		return fmt.Errorf("%w: field exceeds length prefix", ErrFormat)
	}

	return c.Identifier.validate()
}

// Encode serializes c.
func Encode(c Container) ([]byte, error) {
	var buf bytes.Buffer

	buf.Grow(c.Size())

	if _, err := c.WriteTo(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WriteTo implements io.WriterTo.
func (c *Container) WriteTo(w io.Writer) (int64, error) {
	if err := c.validate(); err != nil {
		return 0, err
	}

	var written int64

	write := func(what string, b []byte) error {
		n, err := w.Write(b)
		written += int64(n)

		if err != nil {
			return fmt.Errorf("writing %s: %w", what, err)
		}

		return nil
	}

	block := c.Identifier.block()

	parts := []struct {
		what string
		data []byte
	}{
		{"salt length", be32(len(c.Salt))},
		{"salt", c.Salt},
		{"nonce length", be32(len(c.Nonce))},
		{"nonce", c.Nonce},
		{"ciphertext", c.Ciphertext},
		{"identifier", block},
		{"identifier length", be32(len(block))},
	}

	for _, part := range parts {
		if err := write(part.what, part.data); err != nil {
			return written, err
		}
	}

	return written, nil
}

// Decode parses a container. It never reads outside data.
func Decode(data []byte) (Container, error) {
	var c Container

	rest := data

	salt, rest, err := readField(rest, "salt")
	if err != nil {
		return c, err
	}

	nonce, rest, err := readField(rest, "nonce")
	if err != nil {
		return c, err
	}

	if len(rest) < lengthSize {
		return c, fmt.Errorf("%w: truncated identifier length", ErrFormat)
	}

	body := rest[:len(rest)-lengthSize]
	idLen := uint64(binary.BigEndian.Uint32(rest[len(rest)-lengthSize:]))

	if idLen > uint64(len(body)) {
		return c, fmt.Errorf("%w: identifier length %d exceeds remaining %d bytes", ErrFormat, idLen, len(body))
	}

	split := len(body) - int(idLen)

	c.Salt = salt
	c.Nonce = nonce
	c.Ciphertext = body[:split]

	if idLen > 0 {
		id, err := parseBlock(body[split:])
		if err != nil {
			return c, err
		}

		c.Identifier = id
	}

	if err := c.validate(); err != nil {
		return Container{}, err
	}

	return c, nil
}

// ReadFrom implements io.ReaderFrom, replacing c with the decoded container.
func (c *Container) ReadFrom(r io.Reader) (int64, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return int64(len(data)), fmt.Errorf("reading container: %w", err)
	}

	if int64(len(data)) > MaxSize {
		return int64(len(data)), fmt.Errorf("%w: container larger than %d bytes", ErrFormat, int64(MaxSize))
	}

	decoded, err := Decode(data)
	if err != nil {
		return int64(len(data)), err
	}

	*c = decoded

	return int64(len(data)), nil
}

func readField(data []byte, what string) (field, rest []byte, err error) {
	if len(data) < lengthSize {
		return nil, nil, fmt.Errorf("%w: truncated %s length", ErrFormat, what)
	}

	n := uint64(binary.BigEndian.Uint32(data))
	data = data[lengthSize:]

	if n == 0 {
		return nil, nil, fmt.Errorf("%w: empty %s", ErrFormat, what)
	}

	if n > uint64(len(data)) {
		return nil, nil, fmt.Errorf("%w: %s length %d exceeds remaining %d bytes", ErrFormat, what, n, len(data))
	}

	return data[:n], data[n:], nil
}

func be32(n int) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(n)) //nolint:gosec // bounded by validate
}
