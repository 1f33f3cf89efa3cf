package auth

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestTokenExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		tok  *Token
		want bool
	}{
		{name: "nil", tok: nil, want: true},
		{name: "no access token", tok: &Token{}, want: true},
		{name: "no expiry", tok: &Token{AccessToken: "a"}, want: false},
		{name: "valid", tok: &Token{AccessToken: "a", ExpiresAt: now.Add(time.Hour)}, want: false},
		{name: "inside margin", tok: &Token{AccessToken: "a", ExpiresAt: now.Add(30 * time.Second)}, want: true},
		{name: "past", tok: &Token{AccessToken: "a", ExpiresAt: now.Add(-time.Minute)}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tok.Expired(now); got != tt.want {
				t.Errorf("Expired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenJSON(t *testing.T) {
	tok := Token{
		AccessToken:  "a",
		TokenType:    "Bearer",
		RefreshToken: "r",
		Scope:        "read write",
		ExpiresAt:    time.Unix(1700000000, 0),
		ClientID:     "c",
	}

	data, err := json.Marshal(tok)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["expires_at"] != float64(1700000000) {
		t.Errorf("expires_at = %v, want unix seconds", raw["expires_at"])
	}
	if _, ok := raw["client_secret"]; ok {
		t.Error("empty client_secret serialised")
	}

	var back Token
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.ExpiresAt.Equal(tok.ExpiresAt) || back.AccessToken != "a" || back.Scope != "read write" {
		t.Errorf("decoded %+v", back)
	}

	var noExpiry Token
	if err := json.Unmarshal([]byte(`{"access_token":"x"}`), &noExpiry); err != nil {
		t.Fatal(err)
	}
	if !noExpiry.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero", noExpiry.ExpiresAt)
	}
}

func TestTokenFromOAuth2(t *testing.T) {
	withScope := (&oauth2.Token{AccessToken: "a"}).WithExtra(map[string]interface{}{"scope": "granted"})
	got := tokenFromOAuth2(withScope, []string{"requested"}, "c", "")
	if got.Scope != "granted" || got.TokenType != "Bearer" || got.ClientID != "c" {
		t.Errorf("got %+v", got)
	}

	got = tokenFromOAuth2(&oauth2.Token{AccessToken: "a", TokenType: "DPoP"}, []string{"x", "y"}, "c", "")
	if got.Scope != "x y" || got.TokenType != "DPoP" {
		t.Errorf("got %+v", got)
	}

	if !reflect.DeepEqual(got.Scopes(), []string{"x", "y"}) {
		t.Errorf("Scopes = %v", got.Scopes())
	}
}
