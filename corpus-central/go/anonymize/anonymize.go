// Package anonymize maps raw author identifiers to irreversible opaque
// tokens. There is deliberately no reverse mapping anywhere in the pipeline.
package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/sklog"
)

const (
	// fallbackSalt is used when the configured environment variable is unset.
	fallbackSalt = "default_salt"

	tokenLength = 16
)

// Anonymizer hashes author identifiers with a fixed salt. Deterministic: the
// same id and salt always produce the same token.
type Anonymizer struct {
	salt string
}

// New returns an Anonymizer using the given salt.
func New(salt string) *Anonymizer {
	return &Anonymizer{salt: salt}
}

// SaltFromEnv reads the salt from the named environment variable. Unset or
// empty falls back to a built-in salt so that local runs work, with a warning
// since the resulting mapping is guessable.
func SaltFromEnv(envVar string) string {
	if salt := os.Getenv(envVar); salt != "" {
		return salt
	}
	sklog.Warningf("%s is not set, using the built-in salt. Set it to make the author mapping private.", envVar)
	return fallbackSalt
}

// Token returns the anonymized token for an author identifier: the first 16
// hex characters of SHA-256(id + salt). An empty id returns the sentinel
// "anonymous", unhashed.
func (a *Anonymizer) Token(id string) string {
	if id == "" {
		return types.AnonymousAuthor
	}
	sum := sha256.Sum256([]byte(id + a.salt))
	return hex.EncodeToString(sum[:])[:tokenLength]
}
