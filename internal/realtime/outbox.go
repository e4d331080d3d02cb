package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/prism/internal/game/token"
)

// DefaultWriteTimeout bounds a single repository write.
const DefaultWriteTimeout = 5 * time.Second

type write struct {
	op  token.Op
	tok token.Token
	id  string
}

// Outbox queues token writes and applies them on one worker goroutine, in
// submission order. Enqueueing never blocks. A failed write is logged and
// dropped; the caller's local state is never rolled back.
type Outbox struct {
	repo      Repository
	announcer Announcer
	timeout   time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	pending []write
	wake    chan struct{}

	written atomic.Int64
	failed  atomic.Int64
}

// NewOutbox creates an Outbox writing to repo and announcing through
// announcer. A non-positive timeout uses DefaultWriteTimeout.
//
// Precondition: repo, announcer and logger must be non-nil.
func NewOutbox(repo Repository, announcer Announcer, timeout time.Duration, logger *zap.Logger) *Outbox {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Outbox{
		repo:      repo,
		announcer: announcer,
		timeout:   timeout,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// Create queues an insert of a new token.
func (o *Outbox) Create(t token.Token) {
	o.enqueue(write{op: token.OpInsert, tok: t.Clone(), id: t.ID})
}

// Persist queues an upsert of t.
func (o *Outbox) Persist(t token.Token) {
	o.enqueue(write{op: token.OpUpdate, tok: t.Clone(), id: t.ID})
}

// Delete queues removal of the token with id.
func (o *Outbox) Delete(id string) {
	o.enqueue(write{op: token.OpDelete, id: id})
}

func (o *Outbox) enqueue(w write) {
	o.mu.Lock()
	o.pending = append(o.pending, w)
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued writes not yet started.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Stats returns the number of writes applied and failed so far.
func (o *Outbox) Stats() (written, failed int64) {
	return o.written.Load(), o.failed.Load()
}

// Run applies queued writes until ctx is done, then flushes what is left
// with a fresh deadline per write.
//
// Postcondition: Returns nil after the final flush.
func (o *Outbox) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			o.drain(context.Background())
			return nil
		case <-o.wake:
			o.drain(ctx)
		}
	}
}

func (o *Outbox) drain(ctx context.Context) {
	for {
		o.mu.Lock()
		if len(o.pending) == 0 {
			o.mu.Unlock()
			return
		}
		batch := o.pending
		o.pending = nil
		o.mu.Unlock()

		for _, w := range batch {
			o.apply(ctx, w)
		}
	}
}

func (o *Outbox) apply(parent context.Context, w write) {
	ctx, cancel := context.WithTimeout(parent, o.timeout)
	defer cancel()

	var err error
	ch := token.Change{Op: w.op, ID: w.id, Token: w.tok}
	switch w.op {
	case token.OpInsert:
		var stored token.Token
		if stored, err = o.repo.Insert(ctx, w.tok); err == nil {
			ch.ID, ch.Token = stored.ID, stored
		}
	case token.OpUpdate:
		err = o.repo.Upsert(ctx, w.tok)
	case token.OpDelete:
		err = o.repo.Delete(ctx, w.id)
	}
	if err != nil {
		o.failed.Add(1)
		o.logger.Error("token write failed",
			zap.String("op", string(w.op)),
			zap.String("token_id", w.id),
			zap.Error(err),
		)
		return
	}
	o.written.Add(1)

	if err := o.announcer.Announce(ctx, ch); err != nil {
		o.logger.Warn("announcing token change",
			zap.String("op", string(w.op)),
			zap.String("token_id", ch.ID),
			zap.Error(err),
		)
	}
}
