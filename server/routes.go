package server

func (s *Server) initRoutes() {
	// AUTH FLOW
	s.RegisterRouteFunc("GET "+RouteAuthLogin, s.LoginHandler())
	s.RegisterRouteFunc("GET "+RouteAuthCallback, s.CallbackHandler())
	s.RegisterRouteFunc("POST "+RouteAuthCallback, s.CallbackHandler()) // For form_post response mode
	s.RegisterRouteFunc("POST "+RouteAuthLogout, s.LogoutHandler())
	s.RegisterRouteFunc("GET "+RouteAuthError, s.AuthErrorHandler())

	// CHAT PROXY
	s.RegisterRouteHandler("POST "+RouteAPIChat, ChainMiddleware(s.ChatHandler(), s.APIMiddleware(s.RequireSession())...))

	// TENANCY ADMIN (v1)
	// The :suspend / :rotate-credentials forms share one pattern because a
	// ServeMux wildcard must span a whole path segment; the handler splits
	// "{tenantId}:{action}".
	s.RegisterRouteHandler("POST "+RouteAdminTenants, ChainMiddleware(s.AdminCreateTenantHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST /api/tenancy/v1/admin/tenants/{tenantAction}", ChainMiddleware(s.AdminTenantActionHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET /api/tenancy/v1/admin/tenants/{tenantId}/diagnostics", ChainMiddleware(s.AdminDiagnosticsHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET /api/tenancy/v1/admin/tenants/{tenantId}/audit-summary", ChainMiddleware(s.AdminAuditSummaryHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET /api/tenancy/v1/admin/tenants/{tenantId}/timeline", ChainMiddleware(s.AdminTimelineHandler(), s.APIMiddleware(s.RequireSession())...))

	// HEALTH
	s.RegisterRouteFunc("GET "+RouteHealthz, s.HealthzHandler())
}
