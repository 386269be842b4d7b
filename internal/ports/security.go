package ports

import "time"

type Clock interface {
	Now() time.Time
}

// TokenGenerator produces raw reset token values with at least 128 bits of entropy.
type TokenGenerator interface {
	Generate() (string, error)
}

// TokenHasher derives the stored lookup fingerprint of a raw token value.
type TokenHasher interface {
	Hash(value string) string
}
