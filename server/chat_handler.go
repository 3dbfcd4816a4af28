package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/strandhq/agentgate/audit"
	apperrors "github.com/strandhq/agentgate/internal/errors"
	"github.com/strandhq/agentgate/runtime"
	"github.com/strandhq/agentgate/tenants"
)

const contentTypeNDJSON = "application/x-ndjson"

type chatRequest struct {
	Prompt string `json:"prompt"`
	// RuntimeSessionID lets a client continue a conversation. It is always
	// re-qualified with the session's tenant; it never widens scope.
	RuntimeSessionID string `json:"runtimeSessionId,omitempty"`
}

// streamEvent is one NDJSON line emitted to the client.
type streamEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Delta     string `json:"delta,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ChatHandler proxies an authorized chat request to the agent runtime and
// relays the streamed response as NDJSON: one meta line, then one delta line
// per upstream chunk, then an explicit end event. Each chunk is flushed as
// it arrives; nothing buffers the full response.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			// RequireSession always runs first; reaching here is a wiring bug.
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		var req chatRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Prompt == "" {
			writeError(w, http.StatusBadRequest, "missing prompt")
			return
		}

		runtimeSessionID := identity.RuntimeSessionID
		if req.RuntimeSessionID != "" {
			runtimeSessionID = identity.TenantID + "-" + req.RuntimeSessionID
		}

		entry := s.audit.Open(audit.Meta{
			AppID:            identity.AppID,
			TenantID:         identity.TenantID,
			SessionID:        identity.SessionID,
			RuntimeSessionID: runtimeSessionID,
			Method:           r.Method,
			Path:             r.URL.Path,
			SourceIP:         sourceIP(r),
			RequestID:        uuid.NewString(),
		})
		entry.SetPrompt(req.Prompt)

		if denied := s.checkTenantServing(r, identity.TenantID); denied {
			entry.Close(audit.OutcomeDenied, http.StatusForbidden, "tenant suspended")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			entry.Close(audit.OutcomeUpstreamError, http.StatusInternalServerError, "response writer does not support streaming")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		// The stream is bounded by the platform's maximum streaming window;
		// client disconnects cancel it through the request context.
		ctx, cancel := context.WithTimeout(r.Context(), s.config.Runtime.MaxStreamDuration())
		defer cancel()

		stream, err := s.runtime.Invoke(ctx, runtime.InvokeRequest{
			AppID:            identity.AppID,
			TenantID:         identity.TenantID,
			RuntimeSessionID: runtimeSessionID,
			Prompt:           req.Prompt,
		})
		if err != nil {
			status := http.StatusBadGateway
			outcome := audit.OutcomeUpstreamError
			if apperrors.Is(err, apperrors.ErrUpstreamTimeout) {
				status = http.StatusGatewayTimeout
			}
			log.Err(err).Str("tenant_id", identity.TenantID).Msg("Runtime invoke failed")
			entry.Close(outcome, status, err.Error())
			writeError(w, status, "agent runtime unavailable")
			return
		}
		defer stream.Close()

		w.Header().Set("Content-Type", contentTypeNDJSON)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		enc := json.NewEncoder(w)
		_ = enc.Encode(streamEvent{Type: "meta", SessionID: runtimeSessionID})
		flusher.Flush()

		for {
			chunk, err := stream.Recv()
			if err != nil {
				s.finishStream(entry, enc, flusher, r, err)
				return
			}

			entry.AddChunk(chunk.Delta)
			if err := enc.Encode(streamEvent{Type: "delta", Delta: chunk.Delta}); err != nil {
				// Client write failure: treat as a disconnect and cancel
				// upstream via the deferred Close.
				entry.Close(audit.OutcomeClientDisconnected, http.StatusOK, apperrors.ErrClientDisconnected.Error())
				return
			}
			flusher.Flush()
		}
	}
}

// finishStream closes out a stream after Recv returned an error, recording
// partial statistics in every exit path.
func (s *Server) finishStream(entry *audit.Entry, enc *json.Encoder, flusher http.Flusher, r *http.Request, err error) {
	switch {
	case errors.Is(err, io.EOF):
		_ = enc.Encode(streamEvent{Type: "end"})
		flusher.Flush()
		entry.Close(audit.OutcomeCompleted, http.StatusOK, "")

	case r.Context().Err() != nil:
		// Client went away; upstream is already cancelled through the
		// shared context.
		entry.Close(audit.OutcomeClientDisconnected, http.StatusOK, apperrors.ErrClientDisconnected.Error())

	case errors.Is(err, context.DeadlineExceeded):
		entry.Close(audit.OutcomeUpstreamError, http.StatusOK, apperrors.ErrUpstreamTimeout.Error())
		_ = enc.Encode(streamEvent{Type: "error", Message: "stream timed out"})
		flusher.Flush()

	default:
		log.Err(err).Msg("Runtime stream failed mid-response")
		entry.Close(audit.OutcomeUpstreamError, http.StatusOK, err.Error())
		_ = enc.Encode(streamEvent{Type: "error", Message: "agent runtime error"})
		flusher.Flush()
	}
}

// checkTenantServing reports whether the tenant is blocked from traffic.
// A missing record is not a block (sessions only exist for onboarded
// tenants), but a failed lookup denies: tenancy decisions fail closed.
func (s *Server) checkTenantServing(r *http.Request, tenantID string) bool {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Session.StoreTimeoutDuration())
	defer cancel()

	tenant, err := s.tenants.Get(ctx, tenantID)
	if errors.Is(err, tenants.ErrNotFound) {
		return false
	}
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Tenant lookup failed during serving check")
		return true
	}
	return tenant.Suspended()
}
