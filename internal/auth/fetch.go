package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/giantswarm/mcp-client/internal/logging"
)

const (
	schemeHTTPS = "https"
	schemeHTTP  = "http"

	// Maximum size for metadata documents (1MB)
	maxMetadataSize = 1024 * 1024

	// Client metadata documents should be concise
	maxClientMetadataSize = 100 * 1024

	metadataRequestTimeout = 10 * time.Second

	userAgent = "mcp-client/1.0"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// Discoverer fetches OAuth metadata documents.
type Discoverer struct {
	// HTTPClient is used for every request. Nil means a client with a 10s
	// timeout.
	HTTPClient *http.Client
	Logger     *logging.Logger
}

func (d *Discoverer) client() *http.Client {
	if d != nil && d.HTTPClient != nil {
		return d.HTTPClient
	}
	return &http.Client{Timeout: metadataRequestTimeout}
}

func (d *Discoverer) logger() *logging.Logger {
	if d == nil {
		return nil
	}
	return d.Logger
}

// fetchJSON GETs a JSON document of at most maxSize bytes into v.
func fetchJSON(ctx context.Context, client *http.Client, docURL string, maxSize int64, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if err := checkJSONContentType(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) >= maxSize {
		return fmt.Errorf("response exceeds maximum size of %d bytes", maxSize)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

func checkJSONContentType(resp *http.Response) error {
	contentType := resp.Header.Get("Content-Type")
	if !contenttype.NewMediaType(contentType).Matches(jsonMediaType) {
		return fmt.Errorf("unexpected Content-Type: %s (expected application/json)", contentType)
	}
	return nil
}

// isLoopbackHost reports whether a hostname (without port or brackets) is
// a loopback name.
func isLoopbackHost(hostname string) bool {
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

// validateEndpointURL checks that raw is an absolute https URL, or http on a
// loopback host.
func validateEndpointURL(name, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s URL: %w", name, err)
	}
	if !parsed.IsAbs() {
		return fmt.Errorf("%s must be absolute URL: %s", name, raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s missing host: %s", name, raw)
	}
	switch parsed.Scheme {
	case schemeHTTPS:
	case schemeHTTP:
		if !isLoopbackHost(parsed.Hostname()) {
			return fmt.Errorf("%s must use https scheme (http only allowed for localhost): %s", name, raw)
		}
	default:
		return fmt.Errorf("%s must use http or https scheme: %s", name, raw)
	}
	return nil
}
