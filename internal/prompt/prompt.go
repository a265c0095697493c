// Package prompt acquires passwords without echoing them.
package prompt

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/term"

	"github.com/idelchi/sealr/internal/secure"
)

var (
	// ErrMismatch is returned when the confirmation differs from the password.
	ErrMismatch = errors.New("passwords do not match")
	// ErrNoTerminal is returned when there is no terminal to prompt on.
	ErrNoTerminal = errors.New("no terminal available for the password prompt")
)

// Prompter reads passwords from a terminal.
type Prompter struct {
	out     io.Writer
	read    func() ([]byte, error)
	restore func()
	close   func() error
}

// Terminal returns a Prompter reading from stdin when it is a terminal, or
// from /dev/tty when stdin is piped. Prompts are written to out.
func Terminal(out io.Writer) (*Prompter, error) {
	file := os.Stdin
	closer := func() error { return nil }

	if !term.IsTerminal(int(file.Fd())) { //nolint:gosec // fd fits in int
		if runtime.GOOS == "windows" {
			return nil, ErrNoTerminal
		}

		tty, err := os.Open("/dev/tty")
		if err != nil {
			return nil, fmt.Errorf("%w: stdin is piped and /dev/tty cannot be opened", ErrNoTerminal)
		}

		file = tty
		closer = tty.Close
	}

	fd := int(file.Fd()) //nolint:gosec // fd fits in int

	state, err := term.GetState(fd)
	if err != nil {
		closer() //nolint:errcheck,gosec // best-effort cleanup

		return nil, fmt.Errorf("%w: %w", ErrNoTerminal, err)
	}

	return &Prompter{
		out:     out,
		read:    func() ([]byte, error) { return term.ReadPassword(fd) },
		restore: func() { term.Restore(fd, state) }, //nolint:errcheck,gosec // best effort
		close:   closer,
	}, nil
}

// Close releases the terminal.
func (p *Prompter) Close() error {
	return p.close()
}

// Password prompts once.
func (p *Prompter) Password(ctx context.Context, prompt string) (*secure.Secret, error) {
	raw, err := p.readLine(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return toSecret(raw)
}

// Confirmed prompts twice and fails unless both entries match.
func (p *Prompter) Confirmed(ctx context.Context, prompt, confirm string) (*secure.Secret, error) {
	first, err := p.readLine(ctx, prompt)
	if err != nil {
		return nil, err
	}

	second, err := p.readLine(ctx, confirm)
	if err != nil {
		secure.Wipe(first)

		return nil, err
	}

	defer secure.Wipe(second)

	if subtle.ConstantTimeCompare(first, second) != 1 {
		secure.Wipe(first)

		return nil, ErrMismatch
	}

	return toSecret(first)
}

// readLine runs the blocking terminal read in a goroutine so that the
// prompt can be abandoned when ctx is cancelled.
func (p *Prompter) readLine(ctx context.Context, prompt string) ([]byte, error) {
	fmt.Fprint(p.out, prompt)

	type result struct {
		line []byte
		err  error
	}

	ch := make(chan result, 1)

	go func() {
		line, err := p.read()
		ch <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		p.restore()
		fmt.Fprintln(p.out)

		go func() { secure.Wipe((<-ch).line) }()

		return nil, ctx.Err()
	case r := <-ch:
		fmt.Fprintln(p.out)

		if r.err != nil {
			return nil, fmt.Errorf("reading password: %w", r.err)
		}

		return r.line, nil
	}
}

// FromFile reads a password from the first line of path.
// Trailing newlines are stripped.
func FromFile(path string) (*secure.Secret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading password file: %w", err)
	}

	return toSecret(trimNewlines(data))
}

// FromString copies s into a Secret. The string itself cannot be wiped.
func FromString(s string) (*secure.Secret, error) {
	return toSecret([]byte(s))
}

func trimNewlines(data []byte) []byte {
	trimmed := bytes.TrimRight(data, "\r\n")

	// Wipe the stripped tail too.
	secure.Wipe(data[len(trimmed):])

	return trimmed
}

func toSecret(raw []byte) (*secure.Secret, error) {
	s, err := secure.FromBytes(raw)
	if err != nil {
		secure.Wipe(raw)

		if errors.Is(err, secure.ErrEmpty) {
			return nil, errors.New("password cannot be empty")
		}

		return nil, err
	}

	return s, nil
}
