// Package hasher hashes the wizard admin password and mints session ids.
package hasher

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const Cost = 10

var ErrEmptyPassword = errors.New("password must not be empty")

// HashPassword returns the bcrypt hash of password, suitable for
// SERVER_ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	return string(hash), err
}

// PasswordCorrect reports whether password matches hash. An empty hash never
// matches.
func PasswordCorrect(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateToken returns n random bytes encoded for use in a URL path.
func GenerateToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
