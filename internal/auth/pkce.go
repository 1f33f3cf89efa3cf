package auth

import (
	"encoding/base64"

	"golang.org/x/oauth2"
)

// PKCE holds one RFC 7636 verifier/challenge pair. Method is always S256.
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPKCE returns a fresh pair with a 32-byte random verifier.
func NewPKCE() PKCE {
	return pkceFromVerifier(oauth2.GenerateVerifier())
}

// PKCEFromBytes derives the pair from fixed verifier octets.
func PKCEFromBytes(octets [32]byte) PKCE {
	return pkceFromVerifier(base64.RawURLEncoding.EncodeToString(octets[:]))
}

func pkceFromVerifier(verifier string) PKCE {
	return PKCE{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		Method:    pkceMethodS256,
	}
}

// AuthCodeOption adds code_challenge and code_challenge_method to an
// authorization URL.
func (p PKCE) AuthCodeOption() oauth2.AuthCodeOption {
	return oauth2.S256ChallengeOption(p.Verifier)
}

// ExchangeOption adds code_verifier to a token exchange.
func (p PKCE) ExchangeOption() oauth2.AuthCodeOption {
	return oauth2.VerifierOption(p.Verifier)
}
