// Package auth verifies the bearer identity tokens the mobile client sends
// with every request. Tokens are HMAC-signed JWTs minted by the app backend;
// this service only validates them and extracts the user id.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification. The
// HTTP layer maps it to 401 without detail; the cause is logged server-side
// only.
var ErrInvalidToken = errors.New("invalid identity token")

// Verifier validates HS256 identity tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier over the shared HMAC secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a bearer token and returns the user id from
// its subject claim.
func (v *Verifier) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// FromAuthorizationHeader extracts the bearer token from an Authorization
// header value and verifies it.
func (v *Verifier) FromAuthorizationHeader(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrInvalidToken
	}
	return v.Verify(strings.TrimSpace(header[len(prefix):]))
}
