package sessionwatch

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/tribes-rights-management/tribesportal/internal/identity/domain"
)

// EventKind discriminates broadcast payloads.
type EventKind string

const (
	EventActivity EventKind = "activity"
	EventExpiry   EventKind = "expiry"
)

// Event is one observation shared between instances so sibling contexts
// of the same session expire together.
type Event struct {
	Kind      EventKind    `json:"kind"`
	SessionID snowflake.ID `json:"session_id"`
	Reason    string       `json:"reason,omitempty"`
	At        time.Time    `json:"at"`
}

// Broadcaster is the best-effort side channel. Implementations may drop
// events; local timer logic never depends on delivery.
type Broadcaster interface {
	PublishActivity(ctx context.Context, sessionID snowflake.ID, at time.Time) error
	PublishExpiry(ctx context.Context, sessionID snowflake.ID, reason identitydomain.SignOutReason) error
	// Subscribe delivers events published by other instances until ctx is
	// done. The returned channel closes on shutdown.
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// NoopBroadcaster is the fallback when no redis is configured: every
// publish succeeds and nothing is ever delivered.
type NoopBroadcaster struct{}

func (NoopBroadcaster) PublishActivity(ctx context.Context, sessionID snowflake.ID, at time.Time) error {
	return nil
}

func (NoopBroadcaster) PublishExpiry(ctx context.Context, sessionID snowflake.ID, reason identitydomain.SignOutReason) error {
	return nil
}

func (NoopBroadcaster) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
