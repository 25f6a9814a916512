package utils

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummyPINHash is compared against when no card matches, so unknown cards cost the same bcrypt work.
var dummyPINHash = mustHash("0000")

// HashPIN hashes a numeric PIN with bcrypt
func HashPIN(pin string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash PIN: %w", err)
	}
	return string(hashed), nil
}

// VerifyPIN reports whether pin matches storedHash. A malformed hash is a mismatch.
func VerifyPIN(pin, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(pin)) == nil
}

// BurnPINCheck performs a throwaway comparison.
func BurnPINCheck(pin string) {
	_ = VerifyPIN(pin, dummyPINHash)
}

func mustHash(pin string) string {
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(hashed)
}
