package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"time"
)

type callbackResult struct {
	code  string
	state string
}

// callbackServer receives the authorization redirect on a loopback
// listener. It is bound before the authorization URL is built so an
// ephemeral port is known in advance.
type callbackServer struct {
	listener    net.Listener
	server      *http.Server
	redirectURL string

	results chan callbackResult
	errs    chan error
}

func startCallbackServer(redirectURL string) (*callbackServer, error) {
	parsedURL, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	if parsedURL.Scheme != schemeHTTP || !isLoopbackHost(parsedURL.Hostname()) {
		return nil, fmt.Errorf("callback listener requires an http loopback redirect URI, got: %s", redirectURL)
	}

	port := parsedURL.Port()
	if port == "" {
		port = "80"
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(parsedURL.Hostname(), port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind callback listener: %w", err)
	}

	if port == "0" {
		actual := listener.Addr().(*net.TCPAddr).Port
		parsedURL.Host = net.JoinHostPort(parsedURL.Hostname(), fmt.Sprint(actual))
	}

	path := parsedURL.Path
	if path == "" {
		path = "/"
	}

	s := &callbackServer{
		listener:    listener,
		redirectURL: parsedURL.String(),
		results:     make(chan callbackResult, 1),
		errs:        make(chan error, 1),
	}

	// Isolated mux, never http.DefaultServeMux.
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handle)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.fail(fmt.Errorf("callback server error: %w", err))
		}
	}()

	return s, nil
}

func (s *callbackServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	if errCode := query.Get("error"); errCode != "" {
		s.fail(fmt.Errorf("authorization error: %s - %s", errCode, query.Get("error_description")))
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	select {
	case s.results <- callbackResult{code: query.Get("code"), state: query.Get("state")}:
	default:
	}

	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(`<html><body><h1>Authorization Successful</h1><p>You can close this window.</p></body></html>`))
}

func (s *callbackServer) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// wait blocks until the callback arrives, the timeout elapses or ctx ends.
func (s *callbackServer) wait(ctx context.Context, timeout time.Duration) (callbackResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-s.results:
		return res, nil
	case err := <-s.errs:
		return callbackResult{}, err
	case <-timer.C:
		return callbackResult{}, fmt.Errorf("%w after %s", ErrAuthorizationTimeout, timeout)
	case <-ctx.Done():
		return callbackResult{}, ctx.Err()
	}
}

func (s *callbackServer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

// openBrowser opens urlStr in the default browser.
func openBrowser(urlStr string) error {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsedURL.Scheme != schemeHTTP && parsedURL.Scheme != schemeHTTPS {
		return fmt.Errorf("invalid URL scheme for browser: %s (only http/https allowed)", parsedURL.Scheme)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", urlStr)
	case "darwin":
		cmd = exec.Command("open", urlStr)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", urlStr)
	default:
		return fmt.Errorf("unsupported platform")
	}

	return cmd.Start()
}
