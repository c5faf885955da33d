package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the API bearer claims. Identity is the same namespaced string the
// media router sees for this user, so a bearer can stand in for a device lookup.
type Claims struct {
	jwt.RegisteredClaims

	Identity  string    `json:"identity"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
