package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// NewSecret generates a random credential string. The plaintext is handed
// out exactly once; only bcrypt hashes are stored.
func NewSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// HashSecret returns the bcrypt hash to persist for a secret
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret compares a presented secret against a stored hash
func VerifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// newDummyHash produces a hash no secret can match. Resolvers compare
// against it when no candidate credential exists so lookup misses cost the
// same as mismatches.
func newDummyHash() (string, error) {
	secret, err := NewSecret()
	if err != nil {
		return "", err
	}
	return HashSecret(secret + "-dummy")
}
