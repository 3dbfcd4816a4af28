package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"time"

	"github.com/rs/zerolog/log"
)

// Logger opens one Entry per proxied request and writes the finalized record
// in a detached goroutine. It must never block or fail the request path.
type Logger struct {
	store   ObjectStore
	prefix  string
	enabled bool
	now     func() time.Time
}

// NewLogger builds an audit logger. A nil store or enabled=false yields a
// no-op logger.
func NewLogger(store ObjectStore, prefix string, enabled bool) *Logger {
	return &Logger{
		store:   store,
		prefix:  prefix,
		enabled: enabled && store != nil,
		now:     time.Now,
	}
}

// Meta identifies the request being audited.
type Meta struct {
	AppID            string
	TenantID         string
	SessionID        string
	RuntimeSessionID string
	Method           string
	Path             string
	SourceIP         string
	RequestID        string
}

// Open starts a new audit entry at request start.
func (l *Logger) Open(meta Meta) *Entry {
	return &Entry{
		logger: l,
		record: Record{
			RequestID:        meta.RequestID,
			AppID:            meta.AppID,
			TenantID:         meta.TenantID,
			SessionID:        meta.SessionID,
			RuntimeSessionID: meta.RuntimeSessionID,
			Method:           meta.Method,
			Path:             meta.Path,
			SourceIP:         meta.SourceIP,
			StartedAt:        l.now(),
		},
		responseHash: sha256.New(),
	}
}

// Entry accumulates redacted statistics for one request. Not safe for
// concurrent use; the proxy loop is the only writer.
type Entry struct {
	logger          *Logger
	record          Record
	responseHash    hash.Hash
	responsePreview []byte
	closed          bool
}

// SetPrompt fingerprints the submitted prompt. The raw prompt is hashed and
// previewed, never stored whole.
func (e *Entry) SetPrompt(prompt string) {
	e.record.PromptSHA256 = fingerprint(prompt)
	e.record.PromptPreview, e.record.PromptPreviewTruncated = preview(prompt)
}

// AddChunk folds one streamed response fragment into the running hash,
// preview, and counters.
func (e *Entry) AddChunk(delta string) {
	e.responseHash.Write([]byte(delta))
	e.record.ResponseBytes += int64(len(delta))
	e.record.ChunkCount++
	if e.record.ResponsePreviewTruncated {
		return
	}
	if remaining := PreviewLimit - len(e.responsePreview); len(delta) > remaining {
		delta = delta[:previewCut(delta, remaining)]
		e.record.ResponsePreviewTruncated = true
	}
	e.responsePreview = append(e.responsePreview, delta...)
}

// Close finalizes the record and hands it to a detached goroutine for the
// store write. Exactly one write per entry; later calls are no-ops.
func (e *Entry) Close(outcome Outcome, statusCode int, errMsg string) {
	if e.closed {
		return
	}
	e.closed = true

	e.record.CompletedAt = e.logger.now()
	e.record.DurationMs = e.record.CompletedAt.Sub(e.record.StartedAt).Milliseconds()
	e.record.StatusCode = statusCode
	e.record.Outcome = outcome
	e.record.ErrorMessage = errMsg
	if e.record.ChunkCount > 0 {
		e.record.ResponseSHA256 = hexSum(e.responseHash)
		e.record.ResponsePreview = string(e.responsePreview)
	}

	if !e.logger.enabled {
		return
	}

	record := e.record
	go e.logger.write(record)
}

func (l *Logger) write(record Record) {
	data, err := json.Marshal(record)
	if err != nil {
		log.Err(err).Str("request_id", record.RequestID).Msg("Failed to marshal audit record")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := ObjectKey(l.prefix, record)
	if err := l.store.Put(ctx, key, data); err != nil {
		log.Err(err).Str("key", key).Msg("Failed to persist audit record")
	}
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
