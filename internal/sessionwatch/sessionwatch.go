// Package sessionwatch enforces the idle and absolute session timeout
// policy as an explicit state machine, independent of any UI surface.
package sessionwatch

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tribes-rights-management/tribesportal/internal/clock"
	"github.com/tribes-rights-management/tribesportal/internal/config"
	identitydomain "github.com/tribes-rights-management/tribesportal/internal/identity/domain"
	"github.com/tribes-rights-management/tribesportal/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// State is one of the three timeout states. Expired is terminal.
type State string

const (
	StateActive      State = "active"
	StateIdleWarning State = "idle-warning"
	StateExpired     State = "expired"
)

type entry struct {
	userID        snowflake.ID
	startedAt     time.Time
	lastActivity  time.Time
	lastProcessed time.Time
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Policy      *config.PolicyHolder
	Clock       clock.Clock
	Identity    identitydomain.Service
	SessionRepo identitydomain.SessionRepository
	Broadcast   Broadcaster
}

// Watcher tracks live sessions and drives them through the timeout state
// machine. State is derived from timestamps on every evaluation, so the
// watcher survives losing an entry: an untracked session is simply
// re-tracked from its persisted session row on the next activity.
type Watcher struct {
	log         *zap.Logger
	policy      *config.PolicyHolder
	clock       clock.Clock
	identity    identitydomain.Service
	sessionRepo identitydomain.SessionRepository
	broadcast   Broadcaster

	mu       sync.Mutex
	sessions map[snowflake.ID]*entry
}

func New(p Params) *Watcher {
	return &Watcher{
		log:         p.Log.Named("sessionwatch"),
		policy:      p.Policy,
		clock:       p.Clock,
		identity:    p.Identity,
		sessionRepo: p.SessionRepo,
		broadcast:   p.Broadcast,
		sessions:    make(map[snowflake.ID]*entry),
	}
}

// computeState derives the timeout state from the two clocks. The sign-in
// grace window suppresses all evaluation; the absolute clock runs from
// session start regardless of activity.
func computeState(p config.SessionPolicy, now, startedAt, lastActivity time.Time) (State, identitydomain.SignOutReason) {
	if now.Sub(startedAt) < p.SignInGrace {
		return StateActive, ""
	}
	if now.Sub(startedAt) >= p.AbsoluteLifetime {
		return StateExpired, identitydomain.ReasonMaxSession
	}
	idle := now.Sub(lastActivity)
	if idle >= p.IdleTimeout+p.WarningCountdown {
		return StateExpired, identitydomain.ReasonIdle
	}
	if idle >= p.IdleTimeout {
		return StateIdleWarning, ""
	}
	return StateActive, ""
}

// Track registers a session on login.
func (w *Watcher) Track(sessionID, userID snowflake.ID, startedAt, lastActivity time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessions[sessionID] = &entry{
		userID:       userID,
		startedAt:    startedAt,
		lastActivity: lastActivity,
	}
}

// Forget drops local state for a session. Manual sign-out and remote
// expiry events land here; the watcher never resurrects a forgotten
// session on its own.
func (w *Watcher) Forget(sessionID snowflake.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, sessionID)
}

// Activity processes a qualifying activity event. While the session is
// active or idle-warning the idle clock resets and the state returns to
// active; an expired session stays expired. Events inside the throttle
// window are dropped without touching the clocks.
func (w *Watcher) Activity(ctx context.Context, sessionID snowflake.ID) State {
	p := w.policy.Session()
	now := w.clock.Now()

	w.mu.Lock()
	e, ok := w.sessions[sessionID]
	if !ok {
		w.mu.Unlock()
		return w.adopt(ctx, sessionID)
	}

	state, reason := computeState(p, now, e.startedAt, e.lastActivity)
	if state == StateExpired {
		w.mu.Unlock()
		w.expire(ctx, sessionID, reason)
		return StateExpired
	}

	if !e.lastProcessed.IsZero() && now.Sub(e.lastProcessed) < p.ActivityThrottle {
		w.mu.Unlock()
		return state
	}
	e.lastProcessed = now
	e.lastActivity = now
	w.mu.Unlock()

	// Persist so sweeps and restarts see the same idle clock. Non-fatal:
	// local state is already correct.
	if err := w.sessionRepo.UpdateLastActivity(ctx, sessionID, now); err != nil {
		w.log.Warn("persist last activity failed", zap.Error(err))
	}

	// The broadcast is best-effort: sibling instances converge on the next
	// event, local state is already correct.
	if err := w.broadcast.PublishActivity(ctx, sessionID, now); err != nil {
		w.log.Debug("activity broadcast failed", zap.Error(err))
	}
	return StateActive
}

// adopt re-tracks a session the watcher has no entry for, for instance
// after a restart, from its persisted row.
func (w *Watcher) adopt(ctx context.Context, sessionID snowflake.ID) State {
	session, err := w.getSession(ctx, sessionID)
	if err != nil {
		return StateExpired
	}
	w.Track(sessionID, session.UserID, session.StartedAt, session.LastActivityAt)
	return w.Activity(ctx, sessionID)
}

// ApplyRemoteActivity folds an activity observation from a sibling
// instance into local state without re-broadcasting it.
func (w *Watcher) ApplyRemoteActivity(sessionID snowflake.ID, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.sessions[sessionID]; ok && at.After(e.lastActivity) {
		e.lastActivity = at
	}
}

// Evaluate returns the current state of a session without treating the
// call as activity. An expired result triggers the expiry path.
func (w *Watcher) Evaluate(ctx context.Context, sessionID snowflake.ID) (State, identitydomain.SignOutReason) {
	p := w.policy.Session()
	now := w.clock.Now()

	w.mu.Lock()
	e, ok := w.sessions[sessionID]
	if !ok {
		w.mu.Unlock()
		session, err := w.getSession(ctx, sessionID)
		if err != nil {
			return StateExpired, identitydomain.ReasonManual
		}
		w.Track(sessionID, session.UserID, session.StartedAt, session.LastActivityAt)
		return w.Evaluate(ctx, sessionID)
	}
	state, reason := computeState(p, now, e.startedAt, e.lastActivity)
	w.mu.Unlock()

	if state == StateExpired {
		w.expire(ctx, sessionID, reason)
	}
	return state, reason
}

// Deadline reports when the session will next change state absent
// activity: the idle-warning boundary while active, expiry afterwards.
func (w *Watcher) Deadline(sessionID snowflake.ID) (time.Time, bool) {
	p := w.policy.Session()
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.sessions[sessionID]
	if !ok {
		return time.Time{}, false
	}

	absolute := e.startedAt.Add(p.AbsoluteLifetime)
	state, _ := computeState(p, now, e.startedAt, e.lastActivity)
	var next time.Time
	switch state {
	case StateActive:
		next = e.lastActivity.Add(p.IdleTimeout)
	case StateIdleWarning:
		next = e.lastActivity.Add(p.IdleTimeout + p.WarningCountdown)
	default:
		return now, true
	}
	if absolute.Before(next) {
		next = absolute
	}
	return next, true
}

// Sweep evaluates persisted live sessions against the policy and expires
// the ones past their deadlines, so sessions die on time even when no
// request ever arrives for them. Returns the number expired.
func (w *Watcher) Sweep(ctx context.Context, limit int) (int, error) {
	p := w.policy.Session()
	now := w.clock.Now()

	sessions, err := w.sessionRepo.ListLive(ctx, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, s := range sessions {
		last := s.LastActivityAt
		w.mu.Lock()
		if e, ok := w.sessions[s.ID]; ok && e.lastActivity.After(last) {
			last = e.lastActivity
		}
		w.mu.Unlock()

		state, reason := computeState(p, now, s.StartedAt, last)
		if state == StateExpired {
			w.expire(ctx, s.ID, reason)
			expired++
		}
	}
	return expired, nil
}

// expire revokes the session and clears local state. A failed revoke
// still clears local state: fail open to logged-out, never to an
// authenticated-looking session.
func (w *Watcher) expire(ctx context.Context, sessionID snowflake.ID, reason identitydomain.SignOutReason) {
	if err := w.identity.RevokeSession(ctx, sessionID, reason); err != nil {
		w.log.Warn("session revoke failed, clearing local state anyway",
			zap.String("session_id", sessionID.String()),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
	}
	w.Forget(sessionID)
	metrics.Default().IncSessionExpired(string(reason))

	if err := w.broadcast.PublishExpiry(ctx, sessionID, reason); err != nil {
		w.log.Debug("expiry broadcast failed", zap.Error(err))
	}
}

func (w *Watcher) getSession(ctx context.Context, sessionID snowflake.ID) (*identitydomain.Session, error) {
	session, err := w.sessionRepo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.RevokedAt != nil {
		return nil, identitydomain.ErrSessionRevoked
	}
	return session, nil
}
