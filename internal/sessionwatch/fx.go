package sessionwatch

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/tribes-rights-management/tribesportal/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("sessionwatch",
	fx.Provide(
		NewBroadcaster,
		New,
	),
	fx.Invoke(registerSync),
)

// NewBroadcaster picks the redis side channel when redis is configured
// and falls back to the no-op otherwise.
func NewBroadcaster(log *zap.Logger, cfg config.Config) Broadcaster {
	if cfg.RedisAddr == "" {
		return NoopBroadcaster{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisBroadcaster(log, client)
}

// registerSync runs the remote-event apply loop for the process lifetime.
// A failed subscription only disables cross-instance sync; local timers
// keep working.
func registerSync(lc fx.Lifecycle, log *zap.Logger, w *Watcher, b Broadcaster) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			events, err := b.Subscribe(runCtx)
			if err != nil {
				log.Warn("session event subscription unavailable", zap.Error(err))
				return nil
			}
			go func() {
				for ev := range events {
					switch ev.Kind {
					case EventActivity:
						w.ApplyRemoteActivity(ev.SessionID, ev.At)
					case EventExpiry:
						w.Forget(ev.SessionID)
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}
