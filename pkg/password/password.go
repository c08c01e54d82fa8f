// Package password hashes and verifies room passcodes.
package password

import (
	"golang.org/x/crypto/bcrypt"
)

// MaxLength is the longest passcode accepted. Bcrypt silently truncates
// input beyond 72 bytes, so longer passcodes are rejected up front.
const MaxLength = 72

// ErrTooLong is returned when a passcode exceeds MaxLength bytes.
var ErrTooLong = bcrypt.ErrPasswordTooLong

// Hash returns the bcrypt hash of a passcode.
func Hash(passcode string) (string, error) {
	if len(passcode) > MaxLength {
		return "", ErrTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Matches reports whether a passcode matches a stored hash.
func Matches(hash, passcode string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(passcode)) == nil
}
