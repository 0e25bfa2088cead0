package sessionwatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"github.com/tribes-rights-management/tribesportal/internal/clock"
	"github.com/tribes-rights-management/tribesportal/internal/config"
	identitydomain "github.com/tribes-rights-management/tribesportal/internal/identity/domain"
	"go.uber.org/zap"
)

type revokeCall struct {
	sessionID snowflake.ID
	reason    identitydomain.SignOutReason
}

type fakeIdentity struct {
	identitydomain.Service

	revokes   []revokeCall
	revokeErr error
}

func (f *fakeIdentity) RevokeSession(ctx context.Context, sessionID snowflake.ID, reason identitydomain.SignOutReason) error {
	f.revokes = append(f.revokes, revokeCall{sessionID: sessionID, reason: reason})
	return f.revokeErr
}

type fakeSessionRepo struct {
	identitydomain.SessionRepository

	sessions map[snowflake.ID]*identitydomain.Session
}

func (f *fakeSessionRepo) GetSessionByID(ctx context.Context, sessionID snowflake.ID) (*identitydomain.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, identitydomain.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessionRepo) UpdateLastActivity(ctx context.Context, sessionID snowflake.ID, at time.Time) error {
	if s, ok := f.sessions[sessionID]; ok {
		s.LastActivityAt = at
	}
	return nil
}

type recordingBroadcaster struct {
	activity []snowflake.ID
	expiries []string
	fail     bool
}

func (r *recordingBroadcaster) PublishActivity(ctx context.Context, sessionID snowflake.ID, at time.Time) error {
	if r.fail {
		return errors.New("channel down")
	}
	r.activity = append(r.activity, sessionID)
	return nil
}

func (r *recordingBroadcaster) PublishExpiry(ctx context.Context, sessionID snowflake.ID, reason identitydomain.SignOutReason) error {
	if r.fail {
		return errors.New("channel down")
	}
	r.expiries = append(r.expiries, string(reason))
	return nil
}

func (r *recordingBroadcaster) Subscribe(ctx context.Context) (<-chan Event, error) {
	return nil, errors.New("not used")
}

type harness struct {
	watcher   *Watcher
	clock     *clock.FakeClock
	identity  *fakeIdentity
	repo      *fakeSessionRepo
	broadcast *recordingBroadcaster
	node      *snowflake.Node
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	identity := &fakeIdentity{}
	repo := &fakeSessionRepo{sessions: make(map[snowflake.ID]*identitydomain.Session)}
	broadcast := &recordingBroadcaster{}

	w := New(Params{
		Log:         zap.NewNop(),
		Policy:      config.NewStaticPolicyHolder(config.DefaultPolicy()),
		Clock:       fc,
		Identity:    identity,
		SessionRepo: repo,
		Broadcast:   broadcast,
	})
	return &harness{watcher: w, clock: fc, identity: identity, repo: repo, broadcast: broadcast, node: node}
}

// track registers a session that started before the grace window so the
// boundary assertions see raw policy behavior.
func (h *harness) track() snowflake.ID {
	id := h.node.Generate()
	started := h.clock.Now().Add(-2 * time.Minute)
	h.watcher.Track(id, h.node.Generate(), started, h.clock.Now())
	return id
}

func TestIdleBoundaries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.track()

	// t < 30m: active.
	h.clock.Advance(29 * time.Minute)
	state, _ := h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateActive, state)

	// 30m <= t < 32m: idle-warning.
	h.clock.Advance(time.Minute)
	state, _ = h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateIdleWarning, state)

	h.clock.Advance(119 * time.Second)
	state, _ = h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateIdleWarning, state)

	// t >= 32m: expired with the idle reason.
	h.clock.Advance(time.Second)
	state, reason := h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateExpired, state)
	require.Equal(t, identitydomain.ReasonIdle, reason)
	require.Equal(t, []revokeCall{{sessionID: id, reason: identitydomain.ReasonIdle}}, h.identity.revokes)
}

func TestActivityResetsIdleClock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.track()

	h.clock.Advance(29 * time.Minute)
	require.Equal(t, StateActive, h.watcher.Activity(ctx, id))

	// The reset pushes the idle boundary out another 30 minutes.
	h.clock.Advance(29 * time.Minute)
	state, _ := h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateActive, state)
}

func TestActivityDuringWarningReturnsToActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.track()

	h.clock.Advance(31 * time.Minute)
	state, _ := h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateIdleWarning, state)

	require.Equal(t, StateActive, h.watcher.Activity(ctx, id))
	state, _ = h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateActive, state)
}

func TestActivityAfterExpiryDoesNotResurrect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.track()

	h.clock.Advance(33 * time.Minute)
	require.Equal(t, StateExpired, h.watcher.Activity(ctx, id))
	require.Len(t, h.identity.revokes, 1)

	// The entry is gone and the persisted row is revoked upstream, so a
	// later event cannot restart the session.
	h.clock.Advance(time.Second * 6)
	require.Equal(t, StateExpired, h.watcher.Activity(ctx, id))
}

func TestAbsoluteLifetimeIgnoresActivity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.track()

	// Keep the session busy every 20 minutes for almost 12 hours.
	for range 35 {
		h.clock.Advance(20 * time.Minute)
		require.Equal(t, StateActive, h.watcher.Activity(ctx, id))
	}

	// The next interval crosses the absolute boundary despite the activity.
	h.clock.Advance(20 * time.Minute)
	state, reason := h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateExpired, state)
	require.Equal(t, identitydomain.ReasonMaxSession, reason)
}

func TestSignInGraceSuppressesEvaluation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A session whose stored activity is ancient still reads active inside
	// the grace window right after login.
	id := h.node.Generate()
	now := h.clock.Now()
	h.watcher.Track(id, h.node.Generate(), now, now.Add(-2*time.Hour))

	state, _ := h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateActive, state)

	h.clock.Advance(61 * time.Second)
	state, _ = h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateExpired, state)
}

func TestActivityThrottle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.track()

	h.watcher.Activity(ctx, id)
	require.Len(t, h.broadcast.activity, 1)

	// Events inside the 5s window are dropped.
	h.clock.Advance(2 * time.Second)
	h.watcher.Activity(ctx, id)
	require.Len(t, h.broadcast.activity, 1)

	h.clock.Advance(4 * time.Second)
	h.watcher.Activity(ctx, id)
	require.Len(t, h.broadcast.activity, 2)
}

func TestBroadcastFailureKeepsLocalStateCorrect(t *testing.T) {
	h := newHarness(t)
	h.broadcast.fail = true
	ctx := context.Background()
	id := h.track()

	h.clock.Advance(29 * time.Minute)
	require.Equal(t, StateActive, h.watcher.Activity(ctx, id))

	h.clock.Advance(29 * time.Minute)
	state, _ := h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateActive, state)
}

func TestFailedRevokeStillClearsLocalState(t *testing.T) {
	h := newHarness(t)
	h.identity.revokeErr = errors.New("store down")
	ctx := context.Background()
	id := h.track()

	h.clock.Advance(33 * time.Minute)
	state, _ := h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateExpired, state)
	require.Len(t, h.identity.revokes, 1)

	// Local state is cleared even though the revoke failed.
	_, tracked := h.watcher.Deadline(id)
	require.False(t, tracked)
}

func TestRemoteActivityAppliedWithoutRebroadcast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.track()

	h.clock.Advance(29 * time.Minute)
	h.watcher.ApplyRemoteActivity(id, h.clock.Now())
	require.Empty(t, h.broadcast.activity)

	h.clock.Advance(29 * time.Minute)
	state, _ := h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateActive, state)
}

func TestAdoptUntrackedSessionFromStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := h.node.Generate()
	now := h.clock.Now()
	h.repo.sessions[id] = &identitydomain.Session{
		ID:             id,
		UserID:         h.node.Generate(),
		StartedAt:      now.Add(-2 * time.Hour),
		LastActivityAt: now.Add(-10 * time.Minute),
	}

	require.Equal(t, StateActive, h.watcher.Activity(ctx, id))
	state, _ := h.watcher.Evaluate(ctx, id)
	require.Equal(t, StateActive, state)
}

func TestDeadlineReportsNextTransition(t *testing.T) {
	h := newHarness(t)
	id := h.track()

	next, ok := h.watcher.Deadline(id)
	require.True(t, ok)
	require.Equal(t, h.clock.Now().Add(30*time.Minute), next)

	h.clock.Advance(31 * time.Minute)
	next, ok = h.watcher.Deadline(id)
	require.True(t, ok)
	require.Equal(t, h.clock.Now().Add(time.Minute), next)
}
