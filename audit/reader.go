package audit

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Reader serves the tenant-facing audit views (summary and timeline) off the
// same partitioned object layout the Logger writes.
type Reader struct {
	store  ObjectStore
	prefix string
}

func NewReader(store ObjectStore, prefix string) *Reader {
	return &Reader{store: store, prefix: prefix}
}

// Summary aggregates a tenant's audit records.
type Summary struct {
	TenantID        string         `json:"tenantId"`
	TotalRequests   int            `json:"totalRequests"`
	OutcomeCounts   map[string]int `json:"outcomeCounts"`
	TotalChunks     int            `json:"totalChunks"`
	TotalBytes      int64          `json:"totalBytes"`
	EarliestStarted *time.Time     `json:"earliestStarted,omitempty"`
	LatestStarted   *time.Time     `json:"latestStarted,omitempty"`
}

// Summarize walks a tenant's records and aggregates outcome counts and
// volume. Unreadable objects are skipped, not fatal.
func (r *Reader) Summarize(ctx context.Context, appID, tenantID string) (Summary, error) {
	records, err := r.load(ctx, appID, tenantID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		TenantID:      tenantID,
		OutcomeCounts: make(map[string]int),
	}
	for _, record := range records {
		summary.TotalRequests++
		summary.OutcomeCounts[string(record.Outcome)]++
		summary.TotalChunks += record.ChunkCount
		summary.TotalBytes += record.ResponseBytes

		started := record.StartedAt
		if summary.EarliestStarted == nil || started.Before(*summary.EarliestStarted) {
			s := started
			summary.EarliestStarted = &s
		}
		if summary.LatestStarted == nil || started.After(*summary.LatestStarted) {
			s := started
			summary.LatestStarted = &s
		}
	}
	return summary, nil
}

// Timeline returns a tenant's most recent records, newest first, capped at
// limit.
func (r *Reader) Timeline(ctx context.Context, appID, tenantID string, limit int) ([]Record, error) {
	records, err := r.load(ctx, appID, tenantID)
	if err != nil {
		return nil, err
	}

	// Object names within a day partition are random, so key order only
	// sorts down to the day. Order by the recorded start time instead.
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *Reader) load(ctx context.Context, appID, tenantID string) ([]Record, error) {
	keys, err := r.store.List(ctx, TenantPrefix(r.prefix, appID, tenantID))
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		data, err := r.store.Get(ctx, key)
		if err != nil {
			log.Warn().Str("key", key).Err(err).Msg("Skipping unreadable audit object")
			continue
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("Skipping malformed audit object")
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
