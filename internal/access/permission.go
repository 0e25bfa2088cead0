package access

// Permission identifies one gated capability. The enumeration is closed:
// every value the application checks is declared here together with its
// scope, minimum tenant role and read-only tag. Anything outside the table
// is denied.
type Permission string

const (
	// Platform scope.
	PermPlatformManageUsers   Permission = "platform.manage_users"
	PermPlatformManageTenants Permission = "platform.manage_tenants"
	PermPlatformViewAuditLog  Permission = "platform.view_audit_log"

	// Tenant scope.
	PermTenantManageMembers  Permission = "tenant.manage_members"
	PermTenantViewMembers    Permission = "tenant.view_members"
	PermTenantManageSettings Permission = "tenant.manage_settings"

	// Licensing context scope.
	PermLicensingViewAgreements   Permission = "licensing.view_agreements"
	PermLicensingManageAgreements Permission = "licensing.manage_agreements"
	PermLicensingApproveRequests  Permission = "licensing.approve_requests"

	// Publishing context scope.
	PermPublishingViewCatalog   Permission = "publishing.view_catalog"
	PermPublishingManageCatalog Permission = "publishing.manage_catalog"

	// Record scope.
	PermRecordViewWork Permission = "record.view_work"
	PermRecordEditWork Permission = "record.edit_work"

	// Workstation module scope.
	PermModuleLicensingAccess  Permission = "module.licensing.access"
	PermModulePublishingAccess Permission = "module.publishing.access"
	PermModuleBillingAccess    Permission = "module.billing.access"
	PermModuleAdminAccess      Permission = "module.admin.access"

	// Notification and escalation surfaces.
	PermNotificationsView    Permission = "notifications.view"
	PermNotificationsResolve Permission = "notifications.resolve"
	PermEscalationsView      Permission = "escalations.view"
	PermEscalationsResolve   Permission = "escalations.resolve"
)

// permissionScope distinguishes how a permission is gated.
type permissionScope int

const (
	scopePlatform permissionScope = iota
	scopeTenant
	scopeContext
	scopeRecord
	scopeModule
)

type permissionDef struct {
	scope permissionScope
	// context is set for context- and module-scoped permissions; the active
	// tenant's allowed-contexts set must include it.
	context PortalContext
	// minRole is the weakest tenant role the permission is granted to.
	// Platform-scoped permissions have no tenant grant and rely on the
	// platform tiers alone.
	minRole TenantRole
	// readOnly marks permissions an external auditor may exercise.
	readOnly bool
}

var permissionTable = map[Permission]permissionDef{
	PermPlatformManageUsers:   {scope: scopePlatform},
	PermPlatformManageTenants: {scope: scopePlatform},
	PermPlatformViewAuditLog:  {scope: scopePlatform, readOnly: true},

	PermTenantManageMembers:  {scope: scopeTenant, minRole: TenantAdmin},
	PermTenantViewMembers:    {scope: scopeTenant, minRole: Viewer, readOnly: true},
	PermTenantManageSettings: {scope: scopeTenant, minRole: TenantAdmin},

	PermLicensingViewAgreements:   {scope: scopeContext, context: ContextLicensing, minRole: Viewer, readOnly: true},
	PermLicensingManageAgreements: {scope: scopeContext, context: ContextLicensing, minRole: TenantUser},
	PermLicensingApproveRequests:  {scope: scopeContext, context: ContextLicensing, minRole: TenantAdmin},

	PermPublishingViewCatalog:   {scope: scopeContext, context: ContextPublishing, minRole: Viewer, readOnly: true},
	PermPublishingManageCatalog: {scope: scopeContext, context: ContextPublishing, minRole: TenantUser},

	PermRecordViewWork: {scope: scopeRecord, minRole: Viewer, readOnly: true},
	PermRecordEditWork: {scope: scopeRecord, minRole: TenantUser},

	PermModuleLicensingAccess:  {scope: scopeModule, context: ContextLicensing, minRole: Viewer, readOnly: true},
	PermModulePublishingAccess: {scope: scopeModule, context: ContextPublishing, minRole: Viewer, readOnly: true},
	PermModuleBillingAccess:    {scope: scopeModule, minRole: TenantAdmin},
	PermModuleAdminAccess:      {scope: scopePlatform},

	PermNotificationsView:    {scope: scopeTenant, minRole: Viewer, readOnly: true},
	PermNotificationsResolve: {scope: scopeTenant, minRole: TenantUser},
	PermEscalationsView:      {scope: scopeTenant, minRole: TenantAdmin, readOnly: true},
	PermEscalationsResolve:   {scope: scopeTenant, minRole: TenantAdmin},
}

// AllPermissions returns every declared permission. Used by totality tests
// and by the admin surface listing grantable capabilities.
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(permissionTable))
	for perm := range permissionTable {
		out = append(out, perm)
	}
	return out
}
