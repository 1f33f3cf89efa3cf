package jsonrpc

import (
	"sync"

	"github.com/giantswarm/mcp-client/internal/mcp"
)

// registry holds the pending completion slots and handler tables. One
// mutex guards all of it.
type registry struct {
	mu            sync.Mutex
	pending       map[int64]chan *mcp.Message
	notifications map[string][]NotificationHandler
	requests      map[string]RequestHandler
	closed        bool
}

func newRegistry() *registry {
	return &registry{
		pending:       make(map[int64]chan *mcp.Message),
		notifications: make(map[string][]NotificationHandler),
		requests:      make(map[string]RequestHandler),
	}
}

// add reserves a slot for id. Each slot receives at most one message.
func (r *registry) add(id int64) (<-chan *mcp.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrTransportClosed
	}
	ch := make(chan *mcp.Message, 1)
	r.pending[id] = ch
	return ch, nil
}

func (r *registry) remove(id int64) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// resolve completes the slot for id and reports whether one was waiting.
func (r *registry) resolve(id int64, msg *mcp.Message) bool {
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if ok {
		ch <- msg
	}
	return ok
}

// closeAll fails every pending slot and refuses new ones.
func (r *registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

func (r *registry) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *registry) addNotificationHandler(method string, h NotificationHandler) {
	r.mu.Lock()
	r.notifications[method] = append(r.notifications[method], h)
	r.mu.Unlock()
}

func (r *registry) notificationHandlers(method string) []NotificationHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.notifications[method]
	return append([]NotificationHandler(nil), hs...)
}

func (r *registry) setRequestHandler(method string, h RequestHandler) {
	r.mu.Lock()
	r.requests[method] = h
	r.mu.Unlock()
}

func (r *registry) requestHandler(method string) RequestHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[method]
}
