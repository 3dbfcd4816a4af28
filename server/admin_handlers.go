package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strandhq/agentgate/sessionstore"
	"github.com/strandhq/agentgate/tenants"
)

// Tenancy admin API v1. Every operation is gated by RequireSession and acts
// only on the caller's own tenant: path and body tenant identifiers are
// advisory and must match the authenticated scope or the call is denied.
// Mutations honour the Idempotency-Key header so retries replay the first
// response instead of re-executing.

type createTenantRequest struct {
	// Display name only. The body carries no appId/tenantId authority.
	Name string `json:"name,omitempty"`
}

type tenantResponse struct {
	TenantID            string     `json:"tenantId"`
	AppID               string     `json:"appId"`
	Name                string     `json:"name"`
	Status              string     `json:"status"`
	CredentialVersion   int        `json:"credentialVersion"`
	CredentialRotatedAt *time.Time `json:"credentialRotatedAt,omitempty"`
	OnboardedAt         time.Time  `json:"onboardedAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	Created             bool       `json:"created,omitempty"`
}

func tenantToResponse(t *tenants.Tenant, created bool) tenantResponse {
	return tenantResponse{
		TenantID:            t.ID,
		AppID:               t.AppID,
		Name:                t.Name,
		Status:              string(t.Status),
		CredentialVersion:   t.CredentialVersion,
		CredentialRotatedAt: t.CredentialRotatedAt,
		OnboardedAt:         t.OnboardedAt,
		UpdatedAt:           t.UpdatedAt,
		Created:             created,
	}
}

// AdminCreateTenantHandler ensures the caller's tenant baseline exists.
// Mirrors the callback's just-in-time onboarding; safe to retry.
func (s *Server) AdminCreateTenantHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		// An empty body is fine; the record needs nothing from the caller.
		var req createTenantRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		s.withIdempotency(w, r, identity, func() (int, any) {
			ctx, cancel := context.WithTimeout(r.Context(), s.config.Session.StoreTimeoutDuration())
			defer cancel()

			tenant, created, err := s.onboardTenant(ctx, identity.AppID, identity.TenantID)
			if err != nil {
				log.Err(err).Str("tenant_id", identity.TenantID).Msg("Admin tenant create failed")
				return http.StatusInternalServerError, errorBody{Error: "internal error"}
			}
			if tenant.Suspended() {
				return http.StatusForbidden, errorBody{Error: "tenant suspended"}
			}

			if req.Name != "" && req.Name != tenant.Name {
				tenant.Name = req.Name
				tenant.UpdatedAt = time.Now()
				if err := s.tenants.Upsert(ctx, tenant); err != nil {
					log.Err(err).Str("tenant_id", identity.TenantID).Msg("Admin tenant rename failed")
					return http.StatusInternalServerError, errorBody{Error: "internal error"}
				}
			}

			status := http.StatusOK
			if created {
				status = http.StatusCreated
			}
			return status, tenantToResponse(tenant, created)
		})
	}
}

// AdminTenantActionHandler dispatches the "{tenantId}:suspend" and
// "{tenantId}:rotate-credentials" forms, which share one route because a
// ServeMux wildcard spans the whole segment.
func (s *Server) AdminTenantActionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		tenantID, action, found := strings.Cut(r.PathValue("tenantAction"), ":")
		if !found {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if tenantID != identity.TenantID {
			log.Warn().
				Str("requested_tenant", tenantID).
				Str("session_tenant", identity.TenantID).
				Msg("Admin action denied: tenant scope mismatch")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}

		switch action {
		case "suspend":
			// Re-suspending is idempotent, so a suspended tenant may
			// still call it.
			s.adminMutateTenant(w, r, identity, true, suspendTenant)
		case "rotate-credentials":
			s.adminMutateTenant(w, r, identity, false, rotateTenantCredentials)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

func suspendTenant(t *tenants.Tenant) {
	t.Status = tenants.StatusSuspended
	t.UpdatedAt = time.Now()
}

func rotateTenantCredentials(t *tenants.Tenant) {
	now := time.Now()
	t.CredentialVersion++
	t.CredentialRotatedAt = &now
	t.UpdatedAt = now
}

func (s *Server) adminMutateTenant(w http.ResponseWriter, r *http.Request, identity Identity, allowSuspended bool, mutate func(*tenants.Tenant)) {
	s.withIdempotency(w, r, identity, func() (int, any) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.Session.StoreTimeoutDuration())
		defer cancel()

		tenant, err := s.tenants.Get(ctx, identity.TenantID)
		if errors.Is(err, tenants.ErrNotFound) {
			return http.StatusNotFound, errorBody{Error: "tenant not found"}
		}
		if err != nil {
			log.Err(err).Str("tenant_id", identity.TenantID).Msg("Tenant lookup failed")
			return http.StatusInternalServerError, errorBody{Error: "internal error"}
		}
		if tenant.Suspended() && !allowSuspended {
			return http.StatusForbidden, errorBody{Error: "tenant suspended"}
		}

		mutate(tenant)
		if err := s.tenants.Upsert(ctx, tenant); err != nil {
			log.Err(err).Str("tenant_id", identity.TenantID).Msg("Tenant update failed")
			return http.StatusInternalServerError, errorBody{Error: "internal error"}
		}

		return http.StatusOK, tenantToResponse(tenant, false)
	})
}

// AdminDiagnosticsHandler reports the tenant record plus dependency
// reachability for the caller's own scope.
func (s *Server) AdminDiagnosticsHandler() http.HandlerFunc {
	type diagnostics struct {
		TenantID         string          `json:"tenantId"`
		Tenant           *tenantResponse `json:"tenant,omitempty"`
		SessionStore     string          `json:"sessionStore"`
		Onboarded        bool            `json:"onboarded"`
		AuditPersistence bool            `json:"auditPersistence"`
		CheckedAt        time.Time       `json:"checkedAt"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.config.Session.StoreTimeoutDuration())
		defer cancel()

		diag := diagnostics{
			TenantID:         identity.TenantID,
			SessionStore:     "ok",
			AuditPersistence: s.config.Audit.Enabled,
			CheckedAt:        time.Now(),
		}

		if _, err := s.sessions.GetOnboarding(ctx, identity.AppID, identity.TenantID); err == nil {
			diag.Onboarded = true
		} else if !errors.Is(err, sessionstore.ErrNotFound) {
			diag.SessionStore = "unreachable"
		}

		if tenant, err := s.tenants.Get(ctx, identity.TenantID); err == nil {
			resp := tenantToResponse(tenant, false)
			diag.Tenant = &resp
		}

		writeJSON(w, http.StatusOK, diag)
	}
}

// AdminAuditSummaryHandler aggregates the caller tenant's audit records.
func (s *Server) AdminAuditSummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if s.auditReader == nil {
			writeError(w, http.StatusNotFound, "audit persistence is not enabled")
			return
		}

		summary, err := s.auditReader.Summarize(r.Context(), identity.AppID, identity.TenantID)
		if err != nil {
			log.Err(err).Str("tenant_id", identity.TenantID).Msg("Audit summary failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// AdminTimelineHandler returns the caller tenant's recent audit records,
// newest first.
func (s *Server) AdminTimelineHandler() http.HandlerFunc {
	const (
		defaultLimit = 50
		maxLimit     = 200
	)

	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if s.auditReader == nil {
			writeError(w, http.StatusNotFound, "audit persistence is not enabled")
			return
		}

		limit := defaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = min(parsed, maxLimit)
		}

		records, err := s.auditReader.Timeline(r.Context(), identity.AppID, identity.TenantID, limit)
		if err != nil {
			log.Err(err).Str("tenant_id", identity.TenantID).Msg("Audit timeline failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tenantId": identity.TenantID,
			"events":   records,
		})
	}
}

// withIdempotency wraps a mutating operation with Idempotency-Key replay.
// The key is scoped per tenant so one tenant cannot poison another's
// replays. Without a key the operation executes normally.
func (s *Server) withIdempotency(w http.ResponseWriter, r *http.Request, identity Identity, fn func() (int, any)) {
	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" {
		status, body := fn()
		writeJSON(w, status, body)
		return
	}
	scopedKey := identity.AppID + "#" + identity.TenantID + "#" + r.URL.Path + "#" + key

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Session.StoreTimeoutDuration())
	defer cancel()

	type envelope struct {
		Status int             `json:"status"`
		Body   json.RawMessage `json:"body"`
	}

	if stored, err := s.idempotency.Lookup(ctx, scopedKey); err == nil {
		var env envelope
		if err := json.Unmarshal(stored, &env); err == nil {
			w.Header().Set("Content-Type", contentTypeJSON)
			w.WriteHeader(env.Status)
			_, _ = w.Write(env.Body)
			return
		}
	}

	status, body := fn()

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		writeJSON(w, status, body)
		return
	}
	envJSON, _ := json.Marshal(envelope{Status: status, Body: bodyJSON})

	// Remember resolves races: the first writer wins and everyone replays
	// its response.
	stored, created, err := s.idempotency.Remember(ctx, scopedKey, envJSON)
	if err != nil {
		log.Warn().Err(err).Msg("Idempotency store failed; responding without replay protection")
		writeJSON(w, status, body)
		return
	}
	if !created {
		var env envelope
		if err := json.Unmarshal(stored, &env); err == nil {
			w.Header().Set("Content-Type", contentTypeJSON)
			w.WriteHeader(env.Status)
			_, _ = w.Write(env.Body)
			return
		}
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(bodyJSON)
}
