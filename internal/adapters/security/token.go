package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// tokenBytes gives 256 bits of entropy per reset token.
const tokenBytes = 32

// RandomTokenGenerator returns URL-safe reset token values.
type RandomTokenGenerator struct{}

func NewRandomTokenGenerator() RandomTokenGenerator {
	return RandomTokenGenerator{}
}

func (RandomTokenGenerator) Generate() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Blake2bTokenHasher fingerprints tokens with keyed BLAKE2b-256, hex encoded.
type Blake2bTokenHasher struct {
	key []byte
}

// NewBlake2bTokenHasher accepts a key of 16 to 64 bytes.
func NewBlake2bTokenHasher(key []byte) (*Blake2bTokenHasher, error) {
	if len(key) < 16 {
		return nil, errors.New("token hash key must be at least 16 bytes")
	}
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("token hash key must be at most %d bytes", blake2b.Size)
	}
	return &Blake2bTokenHasher{key: append([]byte(nil), key...)}, nil
}

func (h *Blake2bTokenHasher) Hash(value string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// Key length is validated in the constructor.
		panic(err)
	}
	_, _ = mac.Write([]byte(strings.TrimSpace(value)))
	return hex.EncodeToString(mac.Sum(nil))
}
