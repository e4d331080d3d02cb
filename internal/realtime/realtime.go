// Package realtime defines the contracts between a table and the shared
// token store: persistence, the change feed, and the asynchronous write
// queue that keeps the table loop from waiting on I/O.
package realtime

import (
	"context"
	"errors"

	"github.com/cory-johannsen/prism/internal/game/token"
)

//go:generate mockgen -destination=mocks/mock_realtime.go -package=mocks -source=realtime.go

// ErrTokenNotFound is returned by Repository lookups for an unknown id.
var ErrTokenNotFound = errors.New("token not found")

// Repository persists tokens.
type Repository interface {
	// List returns every stored token in creation order.
	List(ctx context.Context) ([]token.Token, error)
	// Get returns the token with id, or ErrTokenNotFound.
	Get(ctx context.Context, id string) (token.Token, error)
	// Insert stores a new token and returns it with its assigned id.
	Insert(ctx context.Context, t token.Token) (token.Token, error)
	// Upsert writes t by id; repeating the same write is harmless.
	Upsert(ctx context.Context, t token.Token) error
	// Delete removes the token with id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}

// Feed delivers remote token changes. Changes to one id arrive in the order
// they were written; delivery is at least once.
type Feed interface {
	// Subscribe calls fn for every change until ctx is done or the feed
	// fails. ready, when non-nil, is called once the subscription is live;
	// changes written after that point are delivered. It returns nil when
	// ctx is cancelled.
	Subscribe(ctx context.Context, ready func(), fn func(token.Change)) error
}

// Announcer publishes a change after it has been written, for backends whose
// storage does not notify subscribers by itself.
type Announcer interface {
	Announce(ctx context.Context, ch token.Change) error
}

// NopAnnouncer is an Announcer for backends that notify on write.
type NopAnnouncer struct{}

// Announce does nothing.
func (NopAnnouncer) Announce(context.Context, token.Change) error { return nil }
