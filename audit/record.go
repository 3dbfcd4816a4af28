// Package audit builds redacted "shadow JSON" records for every proxied
// request and persists them best-effort to an append-only object store.
// Audit is an observability concern, never a gate: a write failure is logged
// and swallowed. Raw prompt and response bodies never leave the process;
// records carry only SHA-256 fingerprints and length-bounded previews.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
	"unicode/utf8"
)

// PreviewLimit bounds the stored prompt/response previews.
const PreviewLimit = 256

// Outcome classifies how a proxied request ended.
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeUpstreamError      Outcome = "upstream_error"
	OutcomeClientDisconnected Outcome = "client_disconnected"
	OutcomeDenied             Outcome = "denied"
)

// Record is the shadow JSON written once per proxied request. Additive
// changes only; downstream analytics treat this as a stable schema.
type Record struct {
	RequestID        string `json:"request_id"`
	AppID            string `json:"app_id"`
	TenantID         string `json:"tenant_id"`
	SessionID        string `json:"session_id"`
	RuntimeSessionID string `json:"runtime_session_id"`

	Method   string `json:"method"`
	Path     string `json:"path"`
	SourceIP string `json:"source_ip"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`

	StatusCode   int     `json:"status_code"`
	Outcome      Outcome `json:"outcome"`
	ErrorMessage string  `json:"error_message,omitempty"`

	PromptSHA256             string `json:"prompt_sha256,omitempty"`
	PromptPreview            string `json:"prompt_preview,omitempty"`
	PromptPreviewTruncated   bool   `json:"prompt_preview_truncated"`
	ResponseSHA256           string `json:"response_sha256,omitempty"`
	ResponsePreview          string `json:"response_preview,omitempty"`
	ResponsePreviewTruncated bool   `json:"response_preview_truncated"`
	ResponseBytes            int64  `json:"response_bytes"`
	ChunkCount               int    `json:"chunk_count"`
}

// ObjectKey builds the partitioned storage key for a record.
func ObjectKey(prefix string, r Record) string {
	t := r.StartedAt.UTC()
	return fmt.Sprintf("%s/%s/%s/year=%04d/month=%02d/day=%02d/%s.json",
		prefix, r.AppID, r.TenantID, t.Year(), int(t.Month()), t.Day(), r.RequestID)
}

// TenantPrefix is the key prefix under which all of a tenant's records live.
func TenantPrefix(prefix, appID, tenantID string) string {
	return fmt.Sprintf("%s/%s/%s/", prefix, appID, tenantID)
}

func fingerprint(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func preview(data string) (string, bool) {
	if len(data) <= PreviewLimit {
		return data, false
	}
	return data[:previewCut(data, PreviewLimit)], true
}

// previewCut backs a byte limit off to the nearest rune boundary so a
// truncated preview never ends in a split multibyte character.
func previewCut(data string, limit int) int {
	for limit > 0 && !utf8.RuneStart(data[limit]) {
		limit--
	}
	return limit
}
