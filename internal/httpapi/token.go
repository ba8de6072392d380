// internal/httpapi/token.go
package httpapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// HashToken generates a salted Argon2id hash of a trigger token.
func HashToken(token string) (hash, salt string, err error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	sum := argon2.IDKey([]byte(token), raw, 1, 64*1024, 4, 32)
	return base64.StdEncoding.EncodeToString(sum), base64.StdEncoding.EncodeToString(raw), nil
}

// VerifyToken compares a presented token with a salted hash.
func VerifyToken(token, salt, hash string) (bool, error) {
	decodedSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	decodedHash, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}
	sum := argon2.IDKey([]byte(token), decodedSalt, 1, 64*1024, 4, 32)
	return subtle.ConstantTimeCompare(decodedHash, sum) == 1, nil
}
