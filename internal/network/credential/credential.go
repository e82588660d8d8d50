// Package credential issues and checks node credentials. Only the bcrypt digest of
// a credential is ever stored; the plaintext is handed to the operator once.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	dErrors "trustnet/pkg/domain-errors"
)

// Prefix marks node credentials so they are recognisable in logs and secret scanners.
const Prefix = "ntk_"

// Generate creates a credential of the form ntk_<48 hex chars>.
func Generate() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate credential: %w", err)
	}
	return Prefix + hex.EncodeToString(buf), nil
}

// Hash creates a bcrypt digest of the credential.
func Hash(plain string) (string, error) {
	if plain == "" {
		return "", dErrors.New(dErrors.CodeValidation, "credential cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("could not hash credential: %w", err)
	}
	return string(hashed), nil
}

// Issue generates a credential and its digest.
func Issue() (plain, digest string, err error) {
	plain, err = Generate()
	if err != nil {
		return "", "", err
	}
	digest, err = Hash(plain)
	if err != nil {
		return "", "", err
	}
	return plain, digest, nil
}

// Verify checks a plaintext credential against its digest.
func Verify(plain, digest string) error {
	if !strings.HasPrefix(plain, Prefix) {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid node credential")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid node credential")
		}
		return fmt.Errorf("could not verify credential: %w", err)
	}
	return nil
}
