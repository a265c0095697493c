package archive

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
)

const padTrailerSize = 4

// MaxPadding bounds the padding Pad may add.
const MaxPadding = 1 << 30

// Pad appends between 1 and limit random bytes followed by a 4-byte
// big-endian count of them, hiding the exact archive size. A limit of zero
// appends only a zero trailer.
func Pad(buf []byte, limit int) ([]byte, error) {
	if limit < 0 || limit > MaxPadding {
		return nil, fmt.Errorf("padding limit %d out of range [0, %d]", limit, MaxPadding)
	}

	var n int

	if limit > 0 {
		r, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
		if err != nil {
			return nil, fmt.Errorf("choosing padding length: %w", err)
		}

		n = int(r.Int64()) + 1
	}

	out := make([]byte, len(buf), len(buf)+n+padTrailerSize)
	copy(out, buf)

	pad := make([]byte, n)
	if _, err := rand.Read(pad); err != nil {
		return nil, fmt.Errorf("generating padding: %w", err)
	}

	out = append(out, pad...)
	out = binary.BigEndian.AppendUint32(out, uint32(n)) //nolint:gosec // n <= MaxPadding

	return out, nil
}

// Unpad strips what Pad added. The result aliases buf.
func Unpad(buf []byte) ([]byte, error) {
	if len(buf) < padTrailerSize {
		return nil, fmt.Errorf("%w: missing padding trailer", ErrFormat)
	}

	body := len(buf) - padTrailerSize
	n := binary.BigEndian.Uint32(buf[body:])

	if uint64(n) > uint64(body) {
		return nil, fmt.Errorf("%w: padding length %d exceeds payload of %d bytes", ErrFormat, n, body)
	}

	return buf[:body-int(n)], nil
}
