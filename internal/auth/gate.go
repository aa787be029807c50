package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const DefaultStaffPassword = "admin123"

var ErrInvalidCredentials = errors.New("invalid credentials")

// Gate checks the shared staff password. A bcrypt hash takes precedence
// over the plaintext password when both are configured.
type Gate struct {
	password string
	hash     string
}

func NewGate(password, hash string) *Gate {
	if password == "" && hash == "" {
		password = DefaultStaffPassword
	}
	return &Gate{password: password, hash: hash}
}

func (g *Gate) Check(password string) error {
	if g.hash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(g.hash), []byte(password)); err != nil {
			return ErrInvalidCredentials
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(g.password), []byte(password)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword hashes a plaintext password with the given cost.
func HashPassword(password string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
