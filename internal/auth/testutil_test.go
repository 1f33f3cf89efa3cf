package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

const (
	testTimeout     = 5 * time.Second
	testRedirectURL = "http://127.0.0.1:0/callback"
)

type issuedCode struct {
	clientID  string
	challenge string
	resource  string
	scope     string
}

// mockAuthServer is a test-only OAuth 2.1 authorization server.
type mockAuthServer struct {
	*httptest.Server
	t *testing.T

	codeChallengeMethods     []string
	supportsRegistration     bool
	supportsClientIDMetadata bool
	registrationToken        string
	expiresIn                int
	// stateOverride replaces the state echoed to the callback.
	stateOverride string

	mu            sync.Mutex
	codes         map[string]issuedCode
	accessTokens  map[string]string // token -> scope
	refreshTokens map[string]string // refresh token -> client id
	authRequests  []url.Values
	tokenRequests []url.Values
	registrations []ClientRegistrationRequest
	seq           int
}

func newMockAuthServer(t *testing.T) *mockAuthServer {
	t.Helper()

	mas := &mockAuthServer{
		t:                    t,
		codeChallengeMethods: []string{"S256"},
		supportsRegistration: true,
		expiresIn:            3600,
		codes:                make(map[string]issuedCode),
		accessTokens:         make(map[string]string),
		refreshTokens:        make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", mas.handleMetadata)
	mux.HandleFunc("/authorize", mas.handleAuthorize)
	mux.HandleFunc("/token", mas.handleToken)
	mux.HandleFunc("/register", mas.handleRegister)

	mas.Server = httptest.NewServer(mux)
	t.Cleanup(mas.Close)
	return mas
}

func (mas *mockAuthServer) metadata() *AuthorizationServerMetadata {
	md := &AuthorizationServerMetadata{
		Issuer:                            mas.URL,
		AuthorizationEndpoint:             mas.URL + "/authorize",
		TokenEndpoint:                     mas.URL + "/token",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		CodeChallengeMethods:              mas.codeChallengeMethods,
		ClientIDMetadataDocumentSupported: mas.supportsClientIDMetadata,
	}
	if mas.supportsRegistration {
		md.RegistrationEndpoint = mas.URL + "/register"
	}
	return md
}

func (mas *mockAuthServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(mas.metadata())
}

func (mas *mockAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	mas.mu.Lock()
	mas.authRequests = append(mas.authRequests, query)
	mas.seq++
	code := fmt.Sprintf("code-%d", mas.seq)
	mas.mu.Unlock()

	if query.Get("client_id") == "" || query.Get("redirect_uri") == "" || query.Get("response_type") != "code" {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}
	if query.Get("code_challenge") == "" || query.Get("code_challenge_method") != "S256" {
		http.Error(w, "invalid_code_challenge", http.StatusBadRequest)
		return
	}

	mas.mu.Lock()
	mas.codes[code] = issuedCode{
		clientID:  query.Get("client_id"),
		challenge: query.Get("code_challenge"),
		resource:  query.Get("resource"),
		scope:     query.Get("scope"),
	}
	mas.mu.Unlock()

	redirectURL, err := url.Parse(query.Get("redirect_uri"))
	if err != nil {
		http.Error(w, "invalid_redirect_uri", http.StatusBadRequest)
		return
	}
	state := query.Get("state")
	if mas.stateOverride != "" {
		state = mas.stateOverride
	}
	params := url.Values{}
	params.Set("code", code)
	params.Set("state", state)
	redirectURL.RawQuery = params.Encode()

	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

func (mas *mockAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method_not_allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}

	mas.mu.Lock()
	defer mas.mu.Unlock()
	mas.tokenRequests = append(mas.tokenRequests, r.PostForm)
	mas.seq++

	resp := map[string]interface{}{
		"access_token": fmt.Sprintf("access-%d", mas.seq),
		"token_type":   "bearer",
		"expires_in":   mas.expiresIn,
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		issued, ok := mas.codes[r.PostForm.Get("code")]
		if !ok || issued.clientID != r.PostForm.Get("client_id") {
			writeOAuthError(w, "invalid_grant")
			return
		}
		if oauth2.S256ChallengeFromVerifier(r.PostForm.Get("code_verifier")) != issued.challenge {
			writeOAuthError(w, "invalid_grant")
			return
		}
		delete(mas.codes, r.PostForm.Get("code"))

		refresh := fmt.Sprintf("refresh-%d", mas.seq)
		mas.refreshTokens[refresh] = issued.clientID
		resp["refresh_token"] = refresh
		resp["scope"] = issued.scope
		mas.accessTokens[resp["access_token"].(string)] = issued.scope

	case "refresh_token":
		clientID, ok := mas.refreshTokens[r.PostForm.Get("refresh_token")]
		if !ok || clientID != r.PostForm.Get("client_id") {
			writeOAuthError(w, "invalid_grant")
			return
		}
		// The refresh token is not rotated.
		mas.accessTokens[resp["access_token"].(string)] = ""

	default:
		writeOAuthError(w, "unsupported_grant_type")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeOAuthError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

func (mas *mockAuthServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !mas.supportsRegistration {
		http.NotFound(w, r)
		return
	}
	if mas.registrationToken != "" && r.Header.Get("Authorization") != "Bearer "+mas.registrationToken {
		http.Error(w, "invalid_token", http.StatusUnauthorized)
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}

	mas.mu.Lock()
	mas.registrations = append(mas.registrations, req)
	clientID := fmt.Sprintf("registered-client-%d", len(mas.registrations))
	mas.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ClientRegistration{
		ClientID:     clientID,
		RedirectURIs: req.RedirectURIs,
	})
}

func (mas *mockAuthServer) scopeOf(token string) (string, bool) {
	mas.mu.Lock()
	defer mas.mu.Unlock()
	scope, ok := mas.accessTokens[token]
	return scope, ok
}

func (mas *mockAuthServer) lastAuthRequest() url.Values {
	mas.mu.Lock()
	defer mas.mu.Unlock()
	if len(mas.authRequests) == 0 {
		return nil
	}
	return mas.authRequests[len(mas.authRequests)-1]
}

func (mas *mockAuthServer) tokenRequestsSnapshot() []url.Values {
	mas.mu.Lock()
	defer mas.mu.Unlock()
	return append([]url.Values(nil), mas.tokenRequests...)
}

func (mas *mockAuthServer) authRequestCount() int {
	mas.mu.Lock()
	defer mas.mu.Unlock()
	return len(mas.authRequests)
}

func (mas *mockAuthServer) registrationCount() int {
	mas.mu.Lock()
	defer mas.mu.Unlock()
	return len(mas.registrations)
}

// followRedirects plays the user's browser: it loads the authorization URL
// and follows the redirect into the callback listener.
func followRedirects(authURL string) error {
	resp, err := http.Get(authURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("browser ended on status %d", resp.StatusCode)
	}
	return nil
}

// mockResourceServer is a protected MCP endpoint at /mcp.
type mockResourceServer struct {
	*httptest.Server
	as *mockAuthServer

	// requiredScope, when set, makes tokens without it fail with 403.
	requiredScope string
	// rejectAll answers 401 to every request.
	rejectAll bool

	mu       sync.Mutex
	requests int
}

func newMockResourceServer(t *testing.T, as *mockAuthServer) *mockResourceServer {
	t.Helper()

	mrs := &mockResourceServer{as: as}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-protected-resource", mrs.handleMetadata)
	mux.HandleFunc("/mcp", mrs.handleMCP)
	mrs.Server = httptest.NewServer(mux)
	t.Cleanup(mrs.Close)
	return mrs
}

func (mrs *mockResourceServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ProtectedResourceMetadata{
		Resource:               mrs.URL + "/mcp",
		AuthorizationServers:   []string{mrs.as.URL},
		ScopesSupported:        []string{"mcp:read", "mcp:write"},
		BearerMethodsSupported: []string{"header"},
	})
}

func (mrs *mockResourceServer) handleMCP(w http.ResponseWriter, r *http.Request) {
	mrs.mu.Lock()
	mrs.requests++
	mrs.mu.Unlock()

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	scope, ok := mrs.as.scopeOf(token)
	if token == "" || !ok || mrs.rejectAll {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(
			`Bearer resource_metadata="%s/.well-known/oauth-protected-resource", scope="mcp:read"`, mrs.URL))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if mrs.requiredScope != "" && !strings.Contains(" "+scope+" ", " "+mrs.requiredScope+" ") {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(
			`Bearer error="insufficient_scope", scope="%s", error_description="Additional permissions required"`, mrs.requiredScope))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var req struct {
		ID json.RawMessage `json:"id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"scope":%q}}`, req.ID, scope)
}

func newTestFlow(t *testing.T, cfg FlowConfig) *Flow {
	t.Helper()
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = testRedirectURL
	}
	flow, err := NewFlow(cfg, WithBrowser(followRedirects))
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	return flow
}
