// Package memory is an in-process token backend for standalone tables and
// tests. The Repository keeps tokens in a map; the Broker fans announced
// changes out to every subscriber in the process.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/prism/internal/game/token"
	"github.com/cory-johannsen/prism/internal/realtime"
)

// Repository stores tokens in memory in creation order.
type Repository struct {
	mu     sync.RWMutex
	tokens map[string]token.Token
	order  []string
}

// NewRepository creates an empty Repository.
func NewRepository() *Repository {
	return &Repository{tokens: make(map[string]token.Token)}
}

// List returns every token in creation order.
func (r *Repository) List(_ context.Context) ([]token.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]token.Token, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tokens[id].Clone())
	}
	return out, nil
}

// Get returns the token with id or realtime.ErrTokenNotFound.
func (r *Repository) Get(_ context.Context, id string) (token.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[id]
	if !ok {
		return token.Token{}, realtime.ErrTokenNotFound
	}
	return t.Clone(), nil
}

// Insert stores t, assigning a UUID when it has no id.
func (r *Repository) Insert(_ context.Context, t token.Token) (token.Token, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	r.put(t)
	return t.Clone(), nil
}

// Upsert stores t by id.
func (r *Repository) Upsert(_ context.Context, t token.Token) error {
	if t.ID == "" {
		return token.ErrNoID
	}
	r.put(t)
	return nil
}

func (r *Repository) put(t token.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[t.ID]; !ok {
		r.order = append(r.order, t.ID)
	}
	r.tokens[t.ID] = t.Clone()
}

// Delete removes the token with id.
func (r *Repository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[id]; !ok {
		return nil
	}
	delete(r.tokens, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 256

// Broker is an in-process Feed and Announcer.
type Broker struct {
	origin string
	buffer int
	logger *zap.Logger

	mu      sync.Mutex
	nextID  int
	subs    map[int]chan token.Change
	dropped int64
}

// NewBroker creates a Broker that stamps announced changes with origin.
// Each subscriber gets a queue of buffer changes. A change that finds a
// subscriber's queue full is dropped for that subscriber and logged.
//
// Precondition: logger must be non-nil.
func NewBroker(origin string, buffer int, logger *zap.Logger) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{origin: origin, buffer: buffer, logger: logger, subs: make(map[int]chan token.Change)}
}

// Announce delivers ch to every current subscriber without blocking.
func (b *Broker) Announce(_ context.Context, ch token.Change) error {
	if ch.Origin == "" {
		ch.Origin = b.origin
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		select {
		case sub <- ch:
		default:
			b.dropped++
			b.logger.Warn("subscriber queue full, dropping token change",
				zap.Int("subscriber", id),
				zap.String("op", string(ch.Op)),
				zap.String("token_id", ch.ID),
				zap.Int("buffer", b.buffer),
			)
		}
	}
	return nil
}

// Subscribe delivers announced changes to fn until ctx is done. ready is
// called once the subscriber is registered.
func (b *Broker) Subscribe(ctx context.Context, ready func(), fn func(token.Change)) error {
	sub := make(chan token.Change, b.buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()
	if ready != nil {
		ready()
	}

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ch := <-sub:
			fn(ch)
		}
	}
}

// Dropped returns the number of changes lost to full subscriber queues.
func (b *Broker) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
