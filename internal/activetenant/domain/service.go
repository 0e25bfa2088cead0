package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/tribes-rights-management/tribesportal/internal/identity/domain"
	tenantdomain "github.com/tribes-rights-management/tribesportal/internal/tenant/domain"
)

var (
	ErrNotAMember     = errors.New("user has no active membership for this tenant")
	ErrContextDenied  = errors.New("context is not allowed for this membership")
	ErrSessionStale   = errors.New("session ended while resolving access state")
	ErrNoActiveTenant = errors.New("no active tenant resolved")
)

// AccessState is everything a signed-in request needs to evaluate
// permissions: the profile, the active membership set and the resolved
// tenant/context pair.
type AccessState struct {
	UserID        snowflake.ID              `json:"user_id"`
	Profile       *identitydomain.Profile   `json:"profile"`
	Memberships   []tenantdomain.Membership `json:"memberships"`
	ActiveTenant  *tenantdomain.Membership  `json:"active_tenant,omitempty"`
	ActiveContext string                    `json:"active_context,omitempty"`
}

// Service owns the persisted active-tenant/active-context preference.
// Other components never write the preference rows directly.
type Service interface {
	// BuildAccessState loads the profile and active memberships for a
	// session and resolves the active tenant and context. The sessionID is
	// rechecked after the loads complete; a session revoked mid-flight
	// returns ErrSessionStale rather than a state derived from it.
	BuildAccessState(ctx context.Context, userID, sessionID snowflake.ID) (*AccessState, error)

	// ResolveActiveTenant picks the stored tenant if it is still in the
	// active membership set, else the first membership, else nil. Total.
	ResolveActiveTenant(memberships []tenantdomain.Membership, storedTenantID *snowflake.ID) *tenantdomain.Membership

	// ResolveContextForTenant resolves the portal context for one
	// membership: a single allowed context short-circuits, then a
	// still-valid stored preference, then the membership default, then the
	// first allowed entry. Empty string when the allowed set is empty.
	ResolveContextForTenant(ctx context.Context, userID snowflake.ID, membership *tenantdomain.Membership) (string, error)

	// SwitchTenant re-resolves tenant and context for the new tenant,
	// preserving the currently active context when the new tenant also
	// allows it.
	SwitchTenant(ctx context.Context, userID, sessionID, tenantID snowflake.ID) (*AccessState, error)

	// SetActiveTenant and SetActiveContext are the only writers of the
	// persisted preference. Preferences survive sign-out: the stored tenant
	// is what the next login's resolution starts from.
	SetActiveTenant(ctx context.Context, userID, tenantID snowflake.ID) error
	SetActiveContext(ctx context.Context, userID, tenantID snowflake.ID, portalContext string) error
}

// PreferenceRepository persists namespaced preference rows.
type PreferenceRepository interface {
	Get(ctx context.Context, userID snowflake.ID, key string) (string, bool, error)
	Put(ctx context.Context, userID snowflake.ID, key, value string) error
}
