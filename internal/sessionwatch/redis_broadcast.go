package sessionwatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	identitydomain "github.com/tribes-rights-management/tribesportal/internal/identity/domain"
	"go.uber.org/zap"
)

const broadcastChannel = "sessionwatch.events"

// RedisBroadcaster shares session events across instances over redis
// pub/sub. Delivery is at-most-once and unordered; publish failures are
// reported to the caller for logging only.
type RedisBroadcaster struct {
	log    *zap.Logger
	client *redis.Client
}

func NewRedisBroadcaster(log *zap.Logger, client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{
		log:    log.Named("sessionwatch.broadcast"),
		client: client,
	}
}

func (b *RedisBroadcaster) publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, broadcastChannel, payload).Err()
}

func (b *RedisBroadcaster) PublishActivity(ctx context.Context, sessionID snowflake.ID, at time.Time) error {
	return b.publish(ctx, Event{Kind: EventActivity, SessionID: sessionID, At: at})
}

func (b *RedisBroadcaster) PublishExpiry(ctx context.Context, sessionID snowflake.ID, reason identitydomain.SignOutReason) error {
	return b.publish(ctx, Event{Kind: EventExpiry, SessionID: sessionID, Reason: string(reason), At: time.Now().UTC()})
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, broadcastChannel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Debug("dropping malformed broadcast payload", zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
