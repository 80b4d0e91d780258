package socketmode

import (
	"context"
	"sync"
)

// Handler processes envelopes of a specific message type.
//
// Handlers run synchronously in the [Client]'s receive loop, so they delay
// the envelope's acknowledgment and the receipt of the next envelope.
// They must not block indefinitely.
type Handler interface {
	Handle(ctx context.Context, e Envelope) error
}

// HandlerFunc is an adapter to allow the use of ordinary functions as [Handler]s.
type HandlerFunc func(ctx context.Context, e Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, e Envelope) error {
	return f(ctx, e)
}

// registry maps message types to handlers, in registration order.
// It may be modified concurrently with dispatching, from any goroutine.
type registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func (r *registry) add(msgType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers == nil {
		r.handlers = map[string][]Handler{}
	}
	r.handlers[msgType] = append(r.handlers[msgType], h)
}

// get returns a snapshot of the handlers of the given message type, so
// that handlers can register other handlers without deadlocking the registry.
func (r *registry) get(msgType string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hs := r.handlers[msgType]
	return hs[:len(hs):len(hs)]
}
