package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cory-johannsen/prism/internal/game/token"
	"github.com/cory-johannsen/prism/internal/realtime"
)

// DefaultChannel is the channel the tokens trigger notifies on.
const DefaultChannel = "token_changes"

// notification is the trigger payload. Row contents are refetched by id
// because NOTIFY payloads are capped at 8000 bytes.
type notification struct {
	Op     token.Op `json:"op"`
	ID     string   `json:"id"`
	Origin string   `json:"origin"`
}

// Listener is a realtime.Feed over PostgreSQL LISTEN/NOTIFY.
type Listener struct {
	db      *pgxpool.Pool
	repo    *TokenRepository
	channel string
	logger  *zap.Logger
}

// NewListener creates a Listener on channel. An empty channel means
// DefaultChannel.
//
// Precondition: db must be a valid, open connection pool; logger must be non-nil.
func NewListener(db *pgxpool.Pool, channel string, logger *zap.Logger) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Listener{
		db:      db,
		repo:    NewTokenRepository(db, ""),
		channel: channel,
		logger:  logger,
	}
}

// Subscribe holds one pooled connection in LISTEN mode and delivers every
// decoded change to fn until ctx is done. ready is called once LISTEN has
// been executed. Inserts and updates carry the row
// as it is when the notification is handled; a row deleted in between is
// skipped because its delete notification follows.
//
// Postcondition: Returns nil when ctx is cancelled, or the connection error.
func (l *Listener) Subscribe(ctx context.Context, ready func(), fn func(token.Change)) error {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listening on %s: %w", l.channel, err)
	}
	l.logger.Info("listening for token changes", zap.String("channel", l.channel))
	if ready != nil {
		ready()
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("waiting for notification: %w", err)
		}
		ch, ok, err := l.decode(ctx, n.Payload)
		if err != nil {
			l.logger.Warn("dropping token notification",
				zap.String("payload", n.Payload),
				zap.Error(err),
			)
			continue
		}
		if ok {
			fn(ch)
		}
	}
}

func (l *Listener) decode(ctx context.Context, payload string) (token.Change, bool, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return token.Change{}, false, fmt.Errorf("decoding payload: %w", err)
	}
	if n.ID == "" {
		return token.Change{}, false, errors.New("payload has no id")
	}
	ch := token.Change{Op: n.Op, ID: n.ID, Origin: n.Origin}
	switch n.Op {
	case token.OpDelete:
		return ch, true, nil
	case token.OpInsert, token.OpUpdate:
		t, err := l.repo.Get(ctx, n.ID)
		if errors.Is(err, realtime.ErrTokenNotFound) {
			return token.Change{}, false, nil
		}
		if err != nil {
			return token.Change{}, false, err
		}
		ch.Token = t
		return ch, true, nil
	}
	return token.Change{}, false, fmt.Errorf("unknown op %q", n.Op)
}
