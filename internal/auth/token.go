package auth

import (
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// expiryMargin treats tokens as expired slightly before their literal
// expiry so in-flight requests do not race it.
const expiryMargin = 60 * time.Second

// Token is an issued access token. Tokens are replaced, never mutated in
// place.
type Token struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	Scope        string

	// ExpiresAt is the absolute expiry. Zero means the server did not say.
	ExpiresAt time.Time

	// ClientID is the client the token was issued to, kept so a refresh in
	// a later process uses the same registration.
	ClientID     string
	ClientSecret string
}

type tokenJSON struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// MarshalJSON stores the expiry as unix seconds.
func (t Token) MarshalJSON() ([]byte, error) {
	j := tokenJSON{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Scope:        t.Scope,
		ClientID:     t.ClientID,
		ClientSecret: t.ClientSecret,
	}
	if !t.ExpiresAt.IsZero() {
		j.ExpiresAt = t.ExpiresAt.Unix()
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Token) UnmarshalJSON(data []byte) error {
	var j tokenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*t = Token{
		AccessToken:  j.AccessToken,
		TokenType:    j.TokenType,
		RefreshToken: j.RefreshToken,
		Scope:        j.Scope,
		ClientID:     j.ClientID,
		ClientSecret: j.ClientSecret,
	}
	if j.ExpiresAt != 0 {
		t.ExpiresAt = time.Unix(j.ExpiresAt, 0)
	}
	return nil
}

// Expired reports whether the token is within expiryMargin of its expiry at
// now. Tokens without an expiry never expire.
func (t *Token) Expired(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(expiryMargin).Before(t.ExpiresAt)
}

// Scopes returns the granted scopes.
func (t *Token) Scopes() []string {
	if t == nil {
		return nil
	}
	return strings.Fields(t.Scope)
}

// tokenFromOAuth2 converts an x/oauth2 token. requested fills in the scope
// when the server omits it from the response.
func tokenFromOAuth2(tok *oauth2.Token, requested []string, clientID, clientSecret string) *Token {
	scope, _ := tok.Extra("scope").(string)
	if scope == "" {
		scope = strings.Join(requested, " ")
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tokenType,
		RefreshToken: tok.RefreshToken,
		Scope:        scope,
		ExpiresAt:    tok.Expiry,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}
}
