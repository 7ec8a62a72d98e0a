package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/radieske/opinio/internal/market"
)

const (
	minPasswordLen = 6
	// bcrypt só considera os primeiros 72 bytes
	maxPasswordLen = 72
)

func HashPassword(plain string) (string, error) {
	if len(plain) < minPasswordLen {
		return "", market.Validationf("password must be at least %d characters long", minPasswordLen)
	}
	if len(plain) > maxPasswordLen {
		return "", market.Validationf("password must be at most %d bytes long", maxPasswordLen)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
