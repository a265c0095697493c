// Package secure handles secret material such as passwords and derived keys.
//
// A Secret lives in a memguard locked buffer: the pages are mlocked, guarded
// and wiped when the Secret is destroyed. Callers hand their raw bytes over
// with FromBytes, which wipes the source slice, and must Destroy the Secret
// on every exit path. Use runs a function against the secret and destroys
// it afterwards, including when the function panics.
package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrEmpty is returned when a secret would be created from no bytes.
var ErrEmpty = errors.New("secret is empty")

// Secret holds sensitive bytes outside the Go heap.
// A Secret must not be copied after creation.
type Secret struct {
	mu  sync.Mutex
	buf *memguard.LockedBuffer
}

// FromBytes moves b into a locked buffer. The caller's slice is wiped,
// whether or not an error is returned.
func FromBytes(b []byte) (*Secret, error) {
	if len(b) == 0 {
		return nil, ErrEmpty
	}

	return &Secret{buf: memguard.NewBufferFromBytes(b)}, nil
}

// Bytes returns the secret contents. The slice aliases locked memory and is
// invalid after Destroy. Returns nil once the secret has been destroyed.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf == nil || !s.buf.IsAlive() {
		return nil
	}

	return s.buf.Bytes()
}

// Len returns the size of the secret, or 0 once destroyed.
func (s *Secret) Len() int {
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf == nil || !s.buf.IsAlive() {
		return 0
	}

	return s.buf.Size()
}

// Alive reports whether the secret still holds data.
func (s *Secret) Alive() bool {
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf != nil && s.buf.IsAlive()
}

// Destroy wipes and releases the secret. It is safe to call more than once
// and on a nil Secret.
func (s *Secret) Destroy() {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf != nil {
		s.buf.Destroy()
		s.buf = nil
	}
}

// Use calls fn with the secret bytes and destroys the secret when fn
// returns or panics.
func Use(s *Secret, fn func([]byte) error) error {
	defer s.Destroy()

	b := s.Bytes()
	if b == nil {
		return ErrEmpty
	}

	return fn(b)
}

// Wipe zeroes a heap buffer that held sensitive data.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}
