package auth

import (
	"github.com/mparany/garageops/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength mirrors the upstream auth provider's policy.
const MinPasswordLength = 6

// HashPassword enforces the credential policy and returns a bcrypt hash.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", domain.ErrWeakCredential
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether the password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
