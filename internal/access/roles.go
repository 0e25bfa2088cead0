// Package access implements permission resolution for the portal: platform
// roles, tenant membership roles, portal contexts and the closed permission
// enumeration evaluated against them.
package access

import "strings"

// PlatformRole is a principal's system-wide role, independent of any tenant.
type PlatformRole string

const (
	PlatformAdmin   PlatformRole = "platform_admin"
	ExternalAuditor PlatformRole = "external_auditor"
	PlatformUser    PlatformRole = "platform_user"
)

// ProfileStatus is the lifecycle status of a profile. Profiles are never
// deleted; status transitions model lifecycle end.
type ProfileStatus string

const (
	ProfileActive    ProfileStatus = "active"
	ProfileSuspended ProfileStatus = "suspended"
	ProfileRevoked   ProfileStatus = "revoked"
)

// TenantRole is a principal's role scoped to one tenant.
type TenantRole string

const (
	TenantAdmin TenantRole = "tenant_admin"
	TenantUser  TenantRole = "tenant_user"
	Viewer      TenantRole = "viewer"
)

// PortalContext is a product area a membership can operate in.
type PortalContext string

const (
	ContextLicensing  PortalContext = "licensing"
	ContextPublishing PortalContext = "publishing"
)

func roleRank(role TenantRole) int {
	switch role {
	case TenantAdmin:
		return 3
	case TenantUser:
		return 2
	case Viewer:
		return 1
	default:
		return 0
	}
}

// ParseTenantRole maps a stored role string onto the closed TenantRole set.
// Unknown values rank below viewer and therefore grant nothing.
func ParseTenantRole(raw string) (TenantRole, bool) {
	switch TenantRole(strings.ToLower(strings.TrimSpace(raw))) {
	case TenantAdmin:
		return TenantAdmin, true
	case TenantUser:
		return TenantUser, true
	case Viewer:
		return Viewer, true
	default:
		return "", false
	}
}

// ParsePlatformRole maps a stored role string onto the closed PlatformRole set.
func ParsePlatformRole(raw string) (PlatformRole, bool) {
	switch PlatformRole(strings.ToLower(strings.TrimSpace(raw))) {
	case PlatformAdmin:
		return PlatformAdmin, true
	case ExternalAuditor:
		return ExternalAuditor, true
	case PlatformUser:
		return PlatformUser, true
	default:
		return "", false
	}
}

// ParsePortalContext maps a stored context string onto the closed set.
func ParsePortalContext(raw string) (PortalContext, bool) {
	switch PortalContext(strings.ToLower(strings.TrimSpace(raw))) {
	case ContextLicensing:
		return ContextLicensing, true
	case ContextPublishing:
		return ContextPublishing, true
	default:
		return "", false
	}
}
