package users

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters. Stored hashes depend on them; changing any value
// invalidates every existing password.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltBytes    = 16
)

func newSalt() (string, error) {
	b := make([]byte, saltBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// hashPassword derives the hex scrypt key for password. The salt is used as
// its hex text, not the decoded bytes.
func hashPassword(password, salt string) (string, error) {
	key, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("scrypt: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// checkPassword compares in constant time. Hashes of different lengths never match.
func checkPassword(password, salt, storedHash string) (bool, error) {
	want, err := hex.DecodeString(storedHash)
	if err != nil {
		return false, nil
	}
	computed, err := hashPassword(password, salt)
	if err != nil {
		return false, err
	}
	got, _ := hex.DecodeString(computed)
	if len(got) != len(want) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
