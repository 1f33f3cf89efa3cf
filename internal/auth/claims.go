package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is what `auth status` shows about a JWT access token.
type TokenClaims struct {
	Subject   string
	Issuer    string
	Audience  []string
	Scope     string
	ClientID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// DescribeToken decodes the claims of a JWT access token without verifying
// its signature. Opaque tokens return an error.
func DescribeToken(access string) (*TokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return nil, fmt.Errorf("access token is not a JWT: %w", err)
	}

	out := &TokenClaims{}
	out.Subject, _ = claims.GetSubject()
	out.Issuer, _ = claims.GetIssuer()
	if aud, err := claims.GetAudience(); err == nil {
		out.Audience = aud
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}

	if scope, ok := claims["scope"].(string); ok {
		out.Scope = scope
	} else if scp, ok := claims["scp"].([]interface{}); ok {
		for i, s := range scp {
			if i > 0 {
				out.Scope += " "
			}
			out.Scope += fmt.Sprint(s)
		}
	}

	for _, key := range []string{"client_id", "azp"} {
		if v, ok := claims[key].(string); ok && v != "" {
			out.ClientID = v
			break
		}
	}

	return out, nil
}
