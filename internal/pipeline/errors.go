package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/idelchi/sealr/internal/aead"
	"github.com/idelchi/sealr/internal/archive"
	"github.com/idelchi/sealr/internal/container"
	"github.com/idelchi/sealr/internal/kdf"
	"github.com/idelchi/sealr/internal/secure"
	"github.com/idelchi/sealr/internal/shred"
)

// Kind classifies a pipeline failure.
type Kind int

// Failure kinds.
const (
	KindIO Kind = iota
	KindArchiveFormat
	KindKeyDerivation
	KindAuthentication
	KindContainerFormat
	KindShred
	KindCanceled
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrIO              = errors.New("i/o error")
	ErrArchiveFormat   = errors.New("malformed archive")
	ErrKeyDerivation   = errors.New("key derivation failed")
	ErrAuthentication  = errors.New("authentication failed")
	ErrContainerFormat = errors.New("malformed container")
	ErrShred           = errors.New("secure deletion failed")
	ErrCanceled        = errors.New("operation canceled")
)

// AuthenticationMessage is the only text an authentication failure carries,
// whatever its cause.
const AuthenticationMessage = "authentication failed: wrong password or corrupted container"

var kindSentinels = map[Kind]error{
	KindIO:              ErrIO,
	KindArchiveFormat:   ErrArchiveFormat,
	KindKeyDerivation:   ErrKeyDerivation,
	KindAuthentication:  ErrAuthentication,
	KindContainerFormat: ErrContainerFormat,
	KindShred:           ErrShred,
	KindCanceled:        ErrCanceled,
}

func (k Kind) String() string {
	return kindSentinels[k].Error()
}

// Error is returned by every pipeline operation.
type Error struct {
	Kind  Kind
	State State
	Path  string
	Err   error
}

func (e *Error) Error() string {
	if e.Kind == KindAuthentication {
		return AuthenticationMessage
	}

	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.State, e.Err)
	}

	return fmt.Sprintf("%s: %q: %v", e.State, e.Path, e.Err)
}

// Unwrap exposes the kind sentinel and, except for authentication
// failures, the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Kind == KindAuthentication {
		return []error{ErrAuthentication}
	}

	return []error{kindSentinels[e.Kind], e.Err}
}

// classify maps a component error to its failure kind.
func classify(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, aead.ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, container.ErrFormat):
		return KindContainerFormat
	case errors.Is(err, archive.ErrFormat):
		return KindArchiveFormat
	case errors.Is(err, kdf.ErrDerivation), errors.Is(err, secure.ErrEmpty):
		return KindKeyDerivation
	case errors.Is(err, shred.ErrShred):
		return KindShred
	default:
		return KindIO
	}
}
