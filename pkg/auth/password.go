package auth

import "golang.org/x/crypto/bcrypt"

// hashCost balances brute-force resistance against login latency.
const hashCost = 8

// HashPassword returns a salted bcrypt hash of the password.
// Each call produces a different hash for the same input.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword validates a password against a stored bcrypt hash.
func CheckPassword(password, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}
