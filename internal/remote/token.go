package remote

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Subject reads the owner id out of a server token. The signature is not checked here; the
// server does that on every request.
func Subject(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}
