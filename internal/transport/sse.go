package transport

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/tmaxmax/go-sse"
)

// defaultMaxEventSize bounds a single SSE event.
const defaultMaxEventSize = 8 << 20

const pingEventType = "ping"

// sseSink receives parsed events from readEventStream.
type sseSink struct {
	// onID is called for every event carrying an id, including pings.
	onID func(id string)
	// onMessage is called with the data of every non-keepalive event. It
	// returns false to stop reading.
	onMessage func(data []byte) bool
}

// readEventStream parses an SSE body until it ends, ctx is cancelled or the
// sink stops. Keepalive frames (event type "ping" or a literal [ping]
// payload) are dropped.
func readEventStream(ctx context.Context, body io.Reader, maxEventSize int, sink sseSink) error {
	if maxEventSize <= 0 {
		maxEventSize = defaultMaxEventSize
	}
	for ev, err := range sse.Read(body, &sse.ReadConfig{MaxEventSize: maxEventSize}) {
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if ev.LastEventID != "" && sink.onID != nil {
			sink.onID(ev.LastEventID)
		}
		if isKeepaliveEvent(ev) {
			continue
		}
		if !sink.onMessage([]byte(ev.Data)) {
			return nil
		}
	}
	return nil
}

func isKeepaliveEvent(ev sse.Event) bool {
	if ev.Type == pingEventType {
		return true
	}
	data := strings.TrimSpace(ev.Data)
	return data == "" || data == "[ping]"
}
