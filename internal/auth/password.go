package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// burnPasswordCheck spends the same bcrypt work as a real comparison so unknown
// identifiers take as long to reject as wrong passwords.
func burnPasswordCheck(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("consulta-dummy-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
