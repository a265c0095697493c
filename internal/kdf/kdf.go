// Package kdf derives symmetric keys from operator passwords.
//
// The cost parameters are fixed constants and are not recorded in the
// container, so changing them changes the container format version.
package kdf

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/idelchi/sealr/internal/secure"
)

// ErrDerivation is returned when a key cannot be derived from the inputs.
var ErrDerivation = errors.New("key derivation failed")

const (
	// KeySize is the derived key length for AES-256.
	KeySize = 32
	// SaltSize is the length of a freshly generated salt.
	SaltSize = 16
)

// Deriver turns a password and salt into a key.
type Deriver interface {
	// Derive consumes password: it is destroyed before Derive returns,
	// on success and on error. The returned key must be destroyed by the caller.
	Derive(password *secure.Secret, salt []byte, keyLen uint32) (*secure.Secret, error)
	// SaltSize is the salt length NewSalt should produce for this deriver.
	SaltSize() int
}

// Params are the Argon2id cost parameters.
type Params struct {
	// Time is the number of passes over memory.
	Time uint32
	// Memory is the memory cost in KiB.
	Memory uint32
	// Threads is the degree of parallelism.
	Threads uint8
}

// DefaultParams are the format version 1 constants.
//
//nolint:gochecknoglobals
var DefaultParams = Params{
	Time:    4,
	Memory:  64 * 1024,
	Threads: 4,
}

// Argon2id is the Deriver used for every container.
type Argon2id struct {
	params Params
}

// New returns an Argon2id deriver with DefaultParams.
func New() *Argon2id {
	return &Argon2id{params: DefaultParams}
}

// NewArgon2id returns a deriver with custom parameters.
// Containers sealed with non-default parameters can only be opened by a
// deriver configured the same way.
func NewArgon2id(params Params) *Argon2id {
	return &Argon2id{params: params}
}

// SaltSize implements Deriver.
func (a *Argon2id) SaltSize() int {
	return SaltSize
}

// Derive implements Deriver.
func (a *Argon2id) Derive(password *secure.Secret, salt []byte, keyLen uint32) (*secure.Secret, error) {
	defer password.Destroy()

	if err := a.validate(salt, keyLen); err != nil {
		return nil, err
	}

	var raw []byte

	err := secure.Use(password, func(pw []byte) error {
		raw = argon2.IDKey(pw, salt, a.params.Time, a.params.Memory, a.params.Threads, keyLen)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivation, err)
	}

	key, err := secure.FromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivation, err)
	}

	return key, nil
}

func (a *Argon2id) validate(salt []byte, keyLen uint32) error {
	switch {
	case len(salt) == 0:
		return fmt.Errorf("%w: salt cannot be empty", ErrDerivation)
	case keyLen == 0:
		return fmt.Errorf("%w: key length cannot be zero", ErrDerivation)
	case a.params.Time == 0 || a.params.Threads == 0:
		return fmt.Errorf("%w: invalid cost parameters", ErrDerivation)
	case a.params.Memory < 8*uint32(a.params.Threads):
		return fmt.Errorf("%w: memory must be at least 8 KiB per thread", ErrDerivation)
	}

	return nil
}

// NewSalt returns size random bytes.
func NewSalt(size int) ([]byte, error) {
	salt := make([]byte, size)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	return salt, nil
}
