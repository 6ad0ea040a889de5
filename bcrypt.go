package session

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoEmptyString rejects empty password input
var ErrNoEmptyString = errors.New("password must not be empty")

// ErrMismatchedHashAndPassword is returned when a password does not match its hash
var ErrMismatchedHashAndPassword = errors.New("password does not match")

// minPasswordLength is the weak-credential cutoff enforced at registration
const minPasswordLength = 8

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// ValidatePasswordStrength enforces the minimum password policy
func ValidatePasswordStrength(password string) error {
	if len(password) < minPasswordLength {
		return ErrWeakCredential
	}
	return nil
}
