package credentials

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the display-only fields of an access token. They are read
// without signature verification; the server remains the authority.
type Claims struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

// Claims parses the access token's payload. Opaque (non-JWT) tokens yield an
// error.
func (s Session) Claims() (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return Claims{}, fmt.Errorf("parse access token: %w", err)
	}

	var c Claims
	c.Subject, _ = claims.GetSubject()
	if role, ok := claims["role"].(string); ok {
		c.Role = role
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

// Fingerprint returns a short, non-reversible tag for token, safe to log.
func Fingerprint(token string) string {
	if token == "" {
		return "none"
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
