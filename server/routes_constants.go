package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth routes
	RouteAuthLogin    = "/auth/login"
	RouteAuthCallback = "/auth/callback"
	RouteAuthLogout   = "/auth/logout"
	RouteAuthError    = "/auth/error"

	// API routes
	RouteAPIChat = "/api/chat"

	// Tenancy admin routes (v1 contract)
	RouteAdminTenants                 = "/api/tenancy/v1/admin/tenants"
	RouteAdminTenantSuspend           = "/api/tenancy/v1/admin/tenants/{tenantId}:suspend"
	RouteAdminTenantRotateCredentials = "/api/tenancy/v1/admin/tenants/{tenantId}:rotate-credentials"
	RouteAdminTenantDiagnostics       = "/api/tenancy/v1/admin/tenants/{tenantId}/diagnostics"
	RouteAdminTenantAuditSummary      = "/api/tenancy/v1/admin/tenants/{tenantId}/audit-summary"
	RouteAdminTenantTimeline          = "/api/tenancy/v1/admin/tenants/{tenantId}/timeline"

	// Health
	RouteHealthz = "/healthz"
)

// Header names used for tenant scope cross-checks
const (
	HeaderTenantID       = "x-tenant-id"
	HeaderAppID          = "x-app-id"
	HeaderIdempotencyKey = "Idempotency-Key"
)
