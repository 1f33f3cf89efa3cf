package auth

import (
	"fmt"
	"strings"
	"sync"

	"github.com/giantswarm/mcp-client/internal/transport"
)

// scopeRetryTracker counts step-up attempts per key to prevent
// authorization loops.
type scopeRetryTracker struct {
	mu         sync.Mutex
	counts     map[string]int
	lastErrs   map[string]error
	maxRetries int
}

func newScopeRetryTracker(maxRetries int) *scopeRetryTracker {
	return &scopeRetryTracker{
		counts:     make(map[string]int),
		lastErrs:   make(map[string]error),
		maxRetries: maxRetries,
	}
}

// shouldRetry consumes one attempt for key and reports whether it was
// available.
func (t *scopeRetryTracker) shouldRetry(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.counts[key] >= t.maxRetries {
		return false
	}
	t.counts[key]++
	return true
}

func (t *scopeRetryTracker) record(key string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErrs[key] = err
}

func (t *scopeRetryTracker) lastError(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErrs[key]
}

func (t *scopeRetryTracker) resetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.counts)
	clear(t.lastErrs)
}

func (t *scopeRetryTracker) attempts(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[key]
}

// stepUpKey identifies a step-up by resource and the sorted scope set.
func stepUpKey(resource string, scopes []string) string {
	return resource + "|" + strings.Join(mergeScopes(nil, scopes), " ")
}

func stepUpLimitError(lastErr error) error {
	if lastErr == nil {
		lastErr = fmt.Errorf("server kept rejecting the granted scopes")
	}
	return fmt.Errorf("%w: %w: last attempt: %v", ErrStepUpLimit, transport.ErrReauthorizationRequired, lastErr)
}
