package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// peppered mixes the configured salt into the secret before bcrypt. The
// fixed-length digest also keeps long inputs under bcrypt's 72 byte limit.
func peppered(salt, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(secret))
	return []byte(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

// HashPassword returns the bcrypt hash stored in users.hashed_password.
func HashPassword(salt, password string, cost int) ([]byte, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword(peppered(salt, password), cost)
}

// CheckPassword reports whether password matches hash.
func CheckPassword(salt string, hash []byte, password string) bool {
	if len(hash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, peppered(salt, password)) == nil
}
