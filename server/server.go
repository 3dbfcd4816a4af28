package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/strandhq/agentgate/audit"
	"github.com/strandhq/agentgate/idp"
	"github.com/strandhq/agentgate/internal/config"
	"github.com/strandhq/agentgate/runtime"
	"github.com/strandhq/agentgate/sessionstore"
	"github.com/strandhq/agentgate/tenants"
)

// IdentityProvider is the OIDC client surface the server depends on.
// idp.Client is the production implementation; tests inject fakes.
type IdentityProvider interface {
	AuthorizationURL(state, nonce, codeVerifier string) string
	Exchange(ctx context.Context, code, codeVerifier string) (*idp.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*idp.TokenSet, error)
}

// Deps carries the injected collaborators. Everything here is an interface
// over an external system; the server never constructs its own clients.
type Deps struct {
	Sessions    sessionstore.Store
	Tenants     tenants.Repo
	Idempotency tenants.IdempotencyRepo
	IDP         IdentityProvider
	Runtime     runtime.Client
	Audit       *audit.Logger
	AuditReader *audit.Reader
}

type Server struct {
	env    string // Environment (e.g., "development", "production")
	mux    *http.ServeMux
	routes []string
	config config.Config

	sessions    sessionstore.Store
	tenants     tenants.Repo
	idempotency tenants.IdempotencyRepo
	idp         IdentityProvider
	runtime     runtime.Client
	audit       *audit.Logger
	auditReader *audit.Reader

	loginLimiter *ipRateLimiter
}

func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Sessions == nil || deps.Tenants == nil || deps.IDP == nil || deps.Runtime == nil {
		return nil, fmt.Errorf("[Server New] sessions, tenants, idp and runtime dependencies are required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewLogger(nil, "", false)
	}
	if deps.Idempotency == nil {
		deps.Idempotency = tenants.NewInMemoryRepo()
	}

	s := &Server{
		mux:          http.NewServeMux(),
		config:       cfg,
		env:          cfg.Server.Environment,
		sessions:     deps.Sessions,
		tenants:      deps.Tenants,
		idempotency:  deps.Idempotency,
		idp:          deps.IDP,
		runtime:      deps.Runtime,
		audit:        deps.Audit,
		auditReader:  deps.AuditReader,
		loginLimiter: newIPRateLimiter(cfg.Server.LoginRatePerIP),
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if !s.config.Server.IsDev() {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Printf("[%-19s] %s\n", displayMethod, path)
}
