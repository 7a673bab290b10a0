package authn

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/zapa-app/zapa/internal/apierrors"
)

// HashPassword hashes an admin password with bcrypt at cost 12.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindInternal, "hash password", err)
	}
	return string(hashed), nil
}

// VerifyPassword reports whether password matches the stored hash.
func VerifyPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return apierrors.Wrap(apierrors.KindAuth, "invalid credentials", err)
	}
	return nil
}
