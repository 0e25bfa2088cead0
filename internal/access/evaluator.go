package access

// Principal is the in-memory role snapshot permissions are evaluated
// against. It is assembled from the profile and the active membership; it
// carries no references back to storage, so evaluation is a pure function
// of its fields.
type Principal struct {
	PlatformRole    PlatformRole
	ProfileStatus   ProfileStatus
	TenantRole      TenantRole
	AllowedContexts []PortalContext
}

// HasContext reports whether the active membership allows the given portal
// context.
func (p Principal) HasContext(context PortalContext) bool {
	for _, allowed := range p.AllowedContexts {
		if allowed == context {
			return true
		}
	}
	return false
}

// HasPermission answers "may this principal perform the action" as a plain
// boolean. There is no error path: an unrecognized permission is a denial,
// not an error. Evaluation order:
//
//  1. an active platform admin is granted unconditionally;
//  2. an active external auditor is granted read-only permissions and denied
//     everything else, never falling through to tenant rules;
//  3. otherwise the tenant role tier decides, combined with allowed-context
//     gating for context- and module-scoped permissions;
//  4. anything unmapped is denied.
func HasPermission(p Principal, permission Permission) bool {
	if p.ProfileStatus != ProfileActive {
		return false
	}

	def, mapped := permissionTable[permission]

	switch p.PlatformRole {
	case PlatformAdmin:
		return true
	case ExternalAuditor:
		return mapped && def.readOnly
	case PlatformUser:
		// fall through to tenant-tier resolution
	default:
		return false
	}

	if !mapped {
		return false
	}

	switch def.scope {
	case scopePlatform:
		// Platform-scoped permissions are never granted by tenant roles.
		return false
	case scopeContext, scopeModule:
		if def.context != "" && !p.HasContext(def.context) {
			return false
		}
	case scopeTenant, scopeRecord:
		// gated by role tier alone
	}

	return roleRank(p.TenantRole) >= roleRank(def.minRole) && roleRank(p.TenantRole) > 0
}

// HasAnyPermission is a logical OR over repeated single checks.
func HasAnyPermission(p Principal, permissions ...Permission) bool {
	for _, permission := range permissions {
		if HasPermission(p, permission) {
			return true
		}
	}
	return false
}

// HasAllPermissions is a logical AND over repeated single checks. An empty
// list is vacuously true.
func HasAllPermissions(p Principal, permissions ...Permission) bool {
	for _, permission := range permissions {
		if !HasPermission(p, permission) {
			return false
		}
	}
	return true
}
