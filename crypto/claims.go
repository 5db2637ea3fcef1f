package crypto

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("crypto: invalid token")
	ErrExpiredToken = errors.New("crypto: token expired")
)

// Verifier validates a bearer token and returns its claims.
type Verifier interface {
	VerifyToken(tokenString string) (*Claims, error)
}

// Claims is the identity carried by access tokens. The subject is the actor id.
type Claims struct {
	jwt.RegisteredClaims
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	Sid               string   `json:"sid,omitempty"`
}

func (c *Claims) GetRoles() []string {
	if c.Roles == nil {
		return []string{}
	}
	return c.Roles
}

// DisplayName is the name snapshot copied onto action records.
func (c *Claims) DisplayName() string {
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	return c.Name
}
