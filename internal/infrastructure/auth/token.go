package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GenerateToken mints a short-lived HS256 token for a user id. The identity
// layer in production mints its own; this is used by tooling and tests.
func GenerateToken(jwtSecret string, userID int64, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(ttl).Unix(),
	})
	return token.SignedString([]byte(jwtSecret))
}
