package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/prism/internal/game/token"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "prism:token_changes"

// Bus is a realtime.Feed and realtime.Announcer over one pub/sub channel.
// Messages are JSON-encoded token.Change values carrying the full row.
type Bus struct {
	client  Client
	channel string
	origin  string
	logger  *zap.Logger
}

// NewBus creates a Bus publishing on channel and stamping announced changes
// with origin. An empty channel means DefaultChannel.
//
// Precondition: client and logger must be non-nil.
func NewBus(client Client, channel, origin string, logger *zap.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{client: client, channel: channel, origin: origin, logger: logger}
}

// Announce publishes ch to every subscriber of the channel.
func (b *Bus) Announce(ctx context.Context, ch token.Change) error {
	if ch.Origin == "" {
		ch.Origin = b.origin
	}
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("encoding change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing change: %w", err)
	}
	return nil
}

// Subscribe delivers every change published on the channel to fn until ctx
// is done. ready is called once the server confirms the subscription.
// Undecodable messages are logged and skipped.
//
// Postcondition: Returns nil when ctx is cancelled, or the subscription error.
func (b *Bus) Subscribe(ctx context.Context, ready func(), fn func(token.Change)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Receive blocks until the server confirms the subscription.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}
	b.logger.Info("subscribed to token changes", zap.String("channel", b.channel))
	if ready != nil {
		ready()
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("subscription to %s closed", b.channel)
			}
			var ch token.Change
			if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
				b.logger.Warn("dropping token message", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			fn(ch)
		}
	}
}

// Ping reports whether the server is reachable.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
