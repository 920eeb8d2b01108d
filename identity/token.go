package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token fields this client cares about. The token is issued
// and verified server-side; the client holds no signing secret, so claims
// are read without signature verification. They are only used to label
// message direction and name the local user, never for authorization.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type Identity struct {
	UserID    string
	Name      string
	ExpiresAt time.Time
}

// ParseToken extracts the user identity from a bearer token.
func ParseToken(token string) (Identity, error) {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("token has no subject")
	}

	ident := Identity{
		UserID: claims.Subject,
		Name:   claims.Name,
	}
	if claims.ExpiresAt != nil {
		ident.ExpiresAt = claims.ExpiresAt.Time
	}
	return ident, nil
}

// Expired reports whether the token's expiry has passed. A token without
// an exp claim never expires client-side.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}
