package container

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"
	"google.golang.org/protobuf/proto"

	"github.com/tink-crypto/tink-go/v2/daead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	aes_sivpb "github.com/tink-crypto/tink-go/v2/proto/aes_siv_go_proto"
	tinkpb "github.com/tink-crypto/tink-go/v2/proto/tink_go_proto"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// IdentifierMode says how the label is stored.
type IdentifierMode byte

const (
	// ModePlain stores the label as UTF-8.
	ModePlain IdentifierMode = 0x00
	// ModeObfuscated stores the label encrypted under a public AES-SIV key.
	ModeObfuscated IdentifierMode = 0x01
)

// MaxLabelLen is the longest label accepted, in bytes.
const MaxLabelLen = 255

const (
	sivKeySize = 64
	sivTagSize = 16
)

// String returns the mode name.
func (m IdentifierMode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModeObfuscated:
		return "obfuscated"
	default:
		return fmt.Sprintf("unknown(%d)", byte(m))
	}
}

// Identifier is the advisory label stored next to the ciphertext.
// It is never key material.
type Identifier struct {
	Mode    IdentifierMode
	Payload []byte
}

// NewIdentifier stores label in the given mode. An empty label yields nil.
func NewIdentifier(label string, mode IdentifierMode) (*Identifier, error) {
	if label == "" {
		return nil, nil //nolint:nilnil // no identifier is a valid outcome
	}

	if len(label) > MaxLabelLen {
		return nil, fmt.Errorf("%w: identifier longer than %d bytes", ErrFormat, MaxLabelLen)
	}

	if !utf8.ValidString(label) {
		return nil, fmt.Errorf("%w: identifier is not valid UTF-8", ErrFormat)
	}

	switch mode {
	case ModePlain:
		return &Identifier{Mode: ModePlain, Payload: []byte(label)}, nil
	case ModeObfuscated:
		primitive, err := obfuscator()
		if err != nil {
			return nil, err
		}

		payload, err := primitive.EncryptDeterministically([]byte(label), []byte(obfuscationContext))
		if err != nil {
			return nil, fmt.Errorf("obfuscating identifier: %w", err)
		}

		return &Identifier{Mode: ModeObfuscated, Payload: payload}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported identifier mode %s", ErrFormat, mode)
	}
}

// Label returns the readable label.
func (id *Identifier) Label() (string, error) {
	if id == nil {
		return "", nil
	}

	switch id.Mode {
	case ModePlain:
		return string(id.Payload), nil
	case ModeObfuscated:
		primitive, err := obfuscator()
		if err != nil {
			return "", err
		}

		label, err := primitive.DecryptDeterministically(id.Payload, []byte(obfuscationContext))
		if err != nil {
			return "", fmt.Errorf("%w: identifier cannot be revealed", ErrFormat)
		}

		return string(label), nil
	default:
		return "", fmt.Errorf("%w: unknown identifier mode %d", ErrFormat, byte(id.Mode))
	}
}

func (id *Identifier) block() []byte {
	if id == nil {
		return nil
	}

	return append([]byte{byte(id.Mode)}, id.Payload...)
}

func (id *Identifier) validate() error {
	if id == nil {
		return nil
	}

	limit := MaxLabelLen

	switch id.Mode {
	case ModePlain:
	case ModeObfuscated:
		limit += sivTagSize
	default:
		return fmt.Errorf("%w: unknown identifier mode %d", ErrFormat, byte(id.Mode))
	}

	if len(id.Payload) == 0 || len(id.Payload) > limit {
		return fmt.Errorf("%w: identifier payload of %d bytes", ErrFormat, len(id.Payload))
	}

	return nil
}

func parseBlock(block []byte) (*Identifier, error) {
	if len(block) < 2 {
		return nil, fmt.Errorf("%w: identifier block too short", ErrFormat)
	}

	id := &Identifier{Mode: IdentifierMode(block[0]), Payload: block[1:]}

	return id, id.validate()
}

// The obfuscation key is public on purpose: the label must be readable
// without the password. It only keeps labels out of plain-text scans.
const (
	obfuscationSeed    = "sealr identifier obfuscation v1"
	obfuscationContext = "sealr/identifier"
)

//nolint:gochecknoglobals
var obfuscator = sync.OnceValues(func() (tink.DeterministicAEAD, error) {
	key := make([]byte, sivKeySize)

	reader := hkdf.New(sha256.New, []byte(obfuscationSeed), nil, []byte(obfuscationContext))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("expanding obfuscation key: %w", err)
	}

	handle, err := newSIVKeyHandle(key)
	if err != nil {
		return nil, err
	}

	primitive, err := daead.New(handle)
	if err != nil {
		return nil, fmt.Errorf("creating DeterministicAEAD: %w", err)
	}

	return primitive, nil
})

// newSIVKeyHandle wraps a raw AES-SIV key in a Tink keyset handle.
func newSIVKeyHandle(key []byte) (*keyset.Handle, error) {
	serializedKey, err := proto.Marshal(&aes_sivpb.AesSivKey{
		Version:  0,
		KeyValue: key,
	})
	if err != nil {
		return nil, fmt.Errorf("serializing AesSivKey: %w", err)
	}

	serializedKeyset, err := proto.Marshal(&tinkpb.Keyset{
		PrimaryKeyId: 1,
		Key: []*tinkpb.Keyset_Key{
			{
				KeyData: &tinkpb.KeyData{
					TypeUrl:         "type.googleapis.com/google.crypto.tink.AesSivKey",
					Value:           serializedKey,
					KeyMaterialType: tinkpb.KeyData_SYMMETRIC,
				},
				Status:           tinkpb.KeyStatusType_ENABLED,
				KeyId:            1,
				OutputPrefixType: tinkpb.OutputPrefixType_RAW,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("serializing keyset: %w", err)
	}

	handle, err := insecurecleartextkeyset.Read(keyset.NewBinaryReader(bytes.NewReader(serializedKeyset)))
	if err != nil {
		return nil, fmt.Errorf("creating keyset handle: %w", err)
	}

	return handle, nil
}
