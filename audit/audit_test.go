package audit_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/strandhq/agentgate/audit"
)

const (
	testPrefix   = "events"
	testAppID    = "app-1"
	testTenantID = "tenant-1"
)

func testMeta(requestID string) audit.Meta {
	return audit.Meta{
		AppID:            testAppID,
		TenantID:         testTenantID,
		SessionID:        "sess-1",
		RuntimeSessionID: testTenantID + "-run-1",
		Method:           "POST",
		Path:             "/api/chat",
		SourceIP:         "203.0.113.9",
		RequestID:        requestID,
	}
}

func waitForObjects(t *testing.T, store *audit.MemStore, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return store.Len() == n },
		2*time.Second, 10*time.Millisecond)
}

func storedRecord(t *testing.T, store *audit.MemStore) audit.Record {
	t.Helper()
	keys, err := store.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	data, err := store.Get(context.Background(), keys[0])
	require.NoError(t, err)

	var record audit.Record
	require.NoError(t, json.Unmarshal(data, &record))
	return record
}

// TestEntry_CloseWritesExactlyOnce verifies the write happens once even when
// both the stream loop and a deferred cleanup call Close.
func TestEntry_CloseWritesExactlyOnce(t *testing.T) {
	store := audit.NewMemStore()
	logger := audit.NewLogger(store, testPrefix, true)

	entry := logger.Open(testMeta("req-1"))
	entry.SetPrompt("hello agent")
	entry.AddChunk("Hi ")
	entry.AddChunk("there")
	entry.Close(audit.OutcomeCompleted, 200, "")
	entry.Close(audit.OutcomeUpstreamError, 502, "late duplicate")

	waitForObjects(t, store, 1)

	record := storedRecord(t, store)
	require.Equal(t, audit.OutcomeCompleted, record.Outcome)
	require.Equal(t, 200, record.StatusCode)
	require.Equal(t, 2, record.ChunkCount)
	require.Equal(t, int64(len("Hi there")), record.ResponseBytes)
}

func TestEntry_Fingerprints(t *testing.T) {
	store := audit.NewMemStore()
	logger := audit.NewLogger(store, testPrefix, true)

	prompt := "summarize the quarterly report"
	entry := logger.Open(testMeta("req-1"))
	entry.SetPrompt(prompt)
	entry.AddChunk("The report shows ")
	entry.AddChunk("steady growth.")
	entry.Close(audit.OutcomeCompleted, 200, "")

	waitForObjects(t, store, 1)
	record := storedRecord(t, store)

	promptSum := sha256.Sum256([]byte(prompt))
	require.Equal(t, hex.EncodeToString(promptSum[:]), record.PromptSHA256)
	require.Equal(t, prompt, record.PromptPreview)
	require.False(t, record.PromptPreviewTruncated)

	responseSum := sha256.Sum256([]byte("The report shows steady growth."))
	require.Equal(t, hex.EncodeToString(responseSum[:]), record.ResponseSHA256)
}

// TestEntry_PreviewTruncation checks that previews stop at the limit while
// hashes and byte counts still cover the full payload.
func TestEntry_PreviewTruncation(t *testing.T) {
	store := audit.NewMemStore()
	logger := audit.NewLogger(store, testPrefix, true)

	long := strings.Repeat("a", audit.PreviewLimit+100)
	entry := logger.Open(testMeta("req-1"))
	entry.SetPrompt(long)
	entry.AddChunk(long)
	entry.Close(audit.OutcomeCompleted, 200, "")

	waitForObjects(t, store, 1)
	record := storedRecord(t, store)

	require.Len(t, record.PromptPreview, audit.PreviewLimit)
	require.True(t, record.PromptPreviewTruncated)
	require.Len(t, record.ResponsePreview, audit.PreviewLimit)
	require.True(t, record.ResponsePreviewTruncated)
	require.Equal(t, int64(len(long)), record.ResponseBytes)

	sum := sha256.Sum256([]byte(long))
	require.Equal(t, hex.EncodeToString(sum[:]), record.ResponseSHA256)
}

// TestEntry_PreviewTruncationRuneBoundary lines the byte limit up with the
// middle of a multibyte character; the stored previews must back off to the
// previous rune instead of keeping a split one.
func TestEntry_PreviewTruncationRuneBoundary(t *testing.T) {
	store := audit.NewMemStore()
	logger := audit.NewLogger(store, testPrefix, true)

	// 255 ASCII bytes then a three-byte rune straddling the limit.
	long := strings.Repeat("a", audit.PreviewLimit-1) + strings.Repeat("世", 40)
	entry := logger.Open(testMeta("req-1"))
	entry.SetPrompt(long)
	entry.AddChunk(long)
	entry.Close(audit.OutcomeCompleted, 200, "")

	waitForObjects(t, store, 1)
	record := storedRecord(t, store)

	require.True(t, utf8.ValidString(record.PromptPreview))
	require.Equal(t, strings.Repeat("a", audit.PreviewLimit-1), record.PromptPreview)
	require.True(t, record.PromptPreviewTruncated)

	require.True(t, utf8.ValidString(record.ResponsePreview))
	require.Equal(t, strings.Repeat("a", audit.PreviewLimit-1), record.ResponsePreview)
	require.True(t, record.ResponsePreviewTruncated)
	require.Equal(t, int64(len(long)), record.ResponseBytes)
}

// A response split across chunks must not resume the preview after a
// rune-boundary cut left spare bytes in the budget.
func TestEntry_PreviewStopsAppendingOnceTruncated(t *testing.T) {
	store := audit.NewMemStore()
	logger := audit.NewLogger(store, testPrefix, true)

	entry := logger.Open(testMeta("req-1"))
	entry.AddChunk(strings.Repeat("a", audit.PreviewLimit-1) + "世")
	entry.AddChunk("after")
	entry.Close(audit.OutcomeCompleted, 200, "")

	waitForObjects(t, store, 1)
	record := storedRecord(t, store)

	require.Equal(t, strings.Repeat("a", audit.PreviewLimit-1), record.ResponsePreview)
	require.True(t, record.ResponsePreviewTruncated)
	require.Equal(t, 2, record.ChunkCount)
}

func TestLogger_DisabledWritesNothing(t *testing.T) {
	store := audit.NewMemStore()
	logger := audit.NewLogger(store, testPrefix, false)

	entry := logger.Open(testMeta("req-1"))
	entry.SetPrompt("hello")
	entry.Close(audit.OutcomeCompleted, 200, "")

	// The write is async; give a no-op a moment to (not) happen.
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, store.Len())
}

func TestObjectKey_PartitionsByTenantAndDay(t *testing.T) {
	record := audit.Record{
		RequestID: "req-1",
		AppID:     testAppID,
		TenantID:  testTenantID,
		StartedAt: time.Date(2026, time.March, 7, 12, 0, 0, 0, time.UTC),
	}
	key := audit.ObjectKey(testPrefix, record)
	require.Equal(t, "events/app-1/tenant-1/year=2026/month=03/day=07/req-1.json", key)
	require.True(t, strings.HasPrefix(key, audit.TenantPrefix(testPrefix, testAppID, testTenantID)))
}

func TestReader_SummarizeAndTimeline(t *testing.T) {
	store := audit.NewMemStore()
	logger := audit.NewLogger(store, testPrefix, true)
	reader := audit.NewReader(store, testPrefix)

	outcomes := []audit.Outcome{
		audit.OutcomeCompleted,
		audit.OutcomeCompleted,
		audit.OutcomeUpstreamError,
	}
	for i, outcome := range outcomes {
		entry := logger.Open(testMeta("req-" + string(rune('a'+i))))
		entry.AddChunk("chunk")
		entry.Close(outcome, 200, "")
	}

	// A foreign tenant's record must not leak into the views.
	other := testMeta("req-other")
	other.TenantID = "tenant-2"
	otherEntry := logger.Open(other)
	otherEntry.Close(audit.OutcomeCompleted, 200, "")

	waitForObjects(t, store, 4)

	summary, err := reader.Summarize(context.Background(), testAppID, testTenantID)
	require.NoError(t, err)
	require.Equal(t, 3, summary.TotalRequests)
	require.Equal(t, 2, summary.OutcomeCounts[string(audit.OutcomeCompleted)])
	require.Equal(t, 1, summary.OutcomeCounts[string(audit.OutcomeUpstreamError)])
	require.Equal(t, 3, summary.TotalChunks)
	require.NotNil(t, summary.EarliestStarted)

	timeline, err := reader.Timeline(context.Background(), testAppID, testTenantID, 2)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	for _, record := range timeline {
		require.Equal(t, testTenantID, record.TenantID)
	}
}

// TestReader_TimelineNewestFirst pins the ordering to StartedAt. Object
// names within a day partition are random, so two same-day records can list
// in any key order; the lexically smaller key here belongs to the newer
// record.
func TestReader_TimelineNewestFirst(t *testing.T) {
	store := audit.NewMemStore()
	reader := audit.NewReader(store, testPrefix)
	ctx := context.Background()

	day := time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC)
	records := []audit.Record{
		{RequestID: "ffffffff", AppID: testAppID, TenantID: testTenantID, StartedAt: day.Add(10 * time.Hour)},
		{RequestID: "00000000", AppID: testAppID, TenantID: testTenantID, StartedAt: day.Add(11 * time.Hour)},
		{RequestID: "aaaaaaaa", AppID: testAppID, TenantID: testTenantID, StartedAt: day.AddDate(0, 0, -1)},
	}
	for _, record := range records {
		data, err := json.Marshal(record)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, audit.ObjectKey(testPrefix, record), data))
	}

	timeline, err := reader.Timeline(ctx, testAppID, testTenantID, 0)
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	require.Equal(t, "00000000", timeline[0].RequestID)
	require.Equal(t, "ffffffff", timeline[1].RequestID)
	require.Equal(t, "aaaaaaaa", timeline[2].RequestID)

	// The limit keeps the newest records, not the first listed keys.
	capped, err := reader.Timeline(ctx, testAppID, testTenantID, 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	require.Equal(t, "00000000", capped[0].RequestID)
}

func TestFSStore_RoundTrip(t *testing.T) {
	store, err := audit.NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := "events/app-1/tenant-1/year=2026/month=01/day=02/req-1.json"
	require.NoError(t, store.Put(ctx, key, []byte(`{"ok":true}`)))

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(data))

	keys, err := store.List(ctx, audit.TenantPrefix("events", "app-1", "tenant-1"))
	require.NoError(t, err)
	require.Equal(t, []string{key}, keys)

	_, err = store.Get(ctx, "events/missing.json")
	require.ErrorIs(t, err, audit.ErrObjectNotFound)
}
