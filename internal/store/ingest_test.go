package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mseelig/ccvault/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "usage_history_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// at avoids date-boundary flakiness by pinning events to local noon.
func at(day int) time.Time {
	return time.Date(2025, 6, day, 12, 0, 0, 0, time.Local)
}

func assistantEvent(sess, msg string, ts time.Time, modelID string, usage model.TokenUsage) model.UsageEvent {
	return model.UsageEvent{
		Timestamp: ts,
		SessionID: sess,
		MessageID: msg,
		Kind:      model.KindAssistant,
		Model:     modelID,
		Folder:    "/home/u/project",
		Version:   "2.0.1",
		Usage:     &usage,
	}
}

func userEvent(sess, msg string, ts time.Time) model.UsageEvent {
	return model.UsageEvent{
		Timestamp: ts,
		SessionID: sess,
		MessageID: msg,
		Kind:      model.KindUser,
		Folder:    "/home/u/project",
		Version:   "2.0.1",
	}
}

func TestIngestFullDeduplicates(t *testing.T) {
	s := openTestStore(t)

	batch := []model.UsageEvent{
		userEvent("sess-1", "msg-1", at(1)),
		assistantEvent("sess-1", "msg-2", at(1), "claude-sonnet-4-5-20250929",
			model.TokenUsage{InputTokens: 100, OutputTokens: 50}),
		assistantEvent("sess-2", "msg-3", at(1), "claude-sonnet-4-5-20250929",
			model.TokenUsage{InputTokens: 10, OutputTokens: 5}),
	}

	n, err := s.Ingest(batch, model.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// The same batch again is a no-op, including a batch that partially
	// overlaps.
	n, err = s.Ingest(batch, model.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	overlapping := append(batch, assistantEvent("sess-2", "msg-4", at(1),
		"claude-sonnet-4-5-20250929", model.TokenUsage{InputTokens: 1}))
	n, err = s.Ingest(overlapping, model.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.TotalEvents)
}

func TestIngestFullRollupMatchesRawEvents(t *testing.T) {
	s := openTestStore(t)

	batch := []model.UsageEvent{
		userEvent("sess-1", "msg-1", at(1)),
		assistantEvent("sess-1", "msg-2", at(1), "claude-sonnet-4-5-20250929",
			model.TokenUsage{InputTokens: 100, OutputTokens: 50, CacheCreationTokens: 20, CacheReadTokens: 1000}),
		userEvent("sess-2", "msg-3", at(1)),
		assistantEvent("sess-2", "msg-4", at(1), "claude-sonnet-4-5-20250929",
			model.TokenUsage{InputTokens: 30, OutputTokens: 40}),
		// same session continues, still one distinct session on day 1
		assistantEvent("sess-2", "msg-5", at(1), "claude-sonnet-4-5-20250929",
			model.TokenUsage{InputTokens: 5, OutputTokens: 5}),
		assistantEvent("sess-3", "msg-6", at(2), "claude-opus-4-1-20250805",
			model.TokenUsage{InputTokens: 7, OutputTokens: 3}),
	}

	_, err := s.Ingest(batch, model.ModeFull)
	require.NoError(t, err)

	rollups, err := s.DailyRollups("", "")
	require.NoError(t, err)
	require.Len(t, rollups, 2)

	day1 := rollups[0]
	assert.Equal(t, at(1).Format("2006-01-02"), day1.Date)
	assert.Equal(t, int64(2), day1.Prompts)
	assert.Equal(t, int64(3), day1.Responses)
	assert.Equal(t, int64(2), day1.Sessions)
	assert.Equal(t, int64(135), day1.InputTokens)
	assert.Equal(t, int64(95), day1.OutputTokens)
	assert.Equal(t, int64(20), day1.CacheCreationTokens)
	assert.Equal(t, int64(1000), day1.CacheReadTokens)
	assert.Equal(t, int64(1250), day1.TotalTokens)

	day2 := rollups[1]
	assert.Equal(t, at(2).Format("2006-01-02"), day2.Date)
	assert.Equal(t, int64(1), day2.Responses)
	assert.Equal(t, int64(1), day2.Sessions)
	assert.Equal(t, int64(10), day2.TotalTokens)
}

func TestIngestFullPreservesAgedOutRollups(t *testing.T) {
	s := openTestStore(t)

	// A rollup from a date whose raw events are long gone. Recompute
	// must never touch it.
	_, err := s.db.Exec(`
		INSERT INTO daily_rollups (
			date, prompts, responses, sessions,
			input_tokens, output_tokens, cache_creation_tokens,
			cache_read_tokens, total_tokens, last_updated
		) VALUES ('2020-01-01', 10, 20, 3, 500, 400, 0, 0, 900, '2020-01-02T00:00:00Z')`)
	require.NoError(t, err)

	_, err = s.Ingest([]model.UsageEvent{
		assistantEvent("sess-1", "msg-1", at(1), "claude-sonnet-4-5-20250929",
			model.TokenUsage{InputTokens: 1, OutputTokens: 1}),
	}, model.ModeFull)
	require.NoError(t, err)

	rollups, err := s.DailyRollups("2020-01-01", "2020-01-01")
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, int64(900), rollups[0].TotalTokens)
	assert.Equal(t, int64(3), rollups[0].Sessions)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(902), st.TotalTokens)
	assert.Equal(t, int64(2), st.TotalDays)
	assert.Equal(t, "2020-01-01", st.OldestDate)
}

func TestIngestEmptyBatch(t *testing.T) {
	s := openTestStore(t)

	n, err := s.Ingest(nil, model.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.Ingest([]model.UsageEvent{}, model.ModeAggregate)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.TotalEvents)
	assert.Zero(t, st.TotalDays)
}

func TestAggregateModeKeepsNoRawEvents(t *testing.T) {
	s := openTestStore(t)

	n, err := s.Ingest([]model.UsageEvent{
		userEvent("sess-1", "msg-1", at(1)),
		assistantEvent("sess-1", "msg-2", at(1), "claude-sonnet-4-5-20250929",
			model.TokenUsage{InputTokens: 100, OutputTokens: 50}),
	}, model.ModeAggregate)
	require.NoError(t, err)
	assert.Equal(t, 1, n) // one rollup row written

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.TotalEvents)
	assert.Equal(t, int64(1), st.TotalDays)
	assert.Equal(t, int64(150), st.TotalTokens)
	assert.Empty(t, st.TokensByModel)

	dates, err := s.EventDates()
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestAggregateModeAccumulatesDeltas(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Ingest([]model.UsageEvent{
		assistantEvent("sess-1", "msg-1", at(1), "claude-sonnet-4-5-20250929",
			model.TokenUsage{InputTokens: 100, OutputTokens: 50}),
	}, model.ModeAggregate)
	require.NoError(t, err)

	_, err = s.Ingest([]model.UsageEvent{
		userEvent("sess-2", "msg-2", at(1)),
		assistantEvent("sess-2", "msg-3", at(1), "claude-sonnet-4-5-20250929",
			model.TokenUsage{InputTokens: 30, OutputTokens: 20}),
	}, model.ModeAggregate)
	require.NoError(t, err)

	rollups, err := s.DailyRollups("", "")
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, int64(1), rollups[0].Prompts)
	assert.Equal(t, int64(2), rollups[0].Responses)
	assert.Equal(t, int64(2), rollups[0].Sessions)
	assert.Equal(t, int64(200), rollups[0].TotalTokens)
}

func TestAggregateModeSessionApproximation(t *testing.T) {
	s := openTestStore(t)

	// One session split across two batches counts twice. Without raw
	// rows there is no distinct set to recompute from.
	_, err := s.Ingest([]model.UsageEvent{
		assistantEvent("sess-1", "msg-1", at(1), "claude-sonnet-4-5-20250929",
			model.TokenUsage{InputTokens: 1}),
	}, model.ModeAggregate)
	require.NoError(t, err)

	_, err = s.Ingest([]model.UsageEvent{
		assistantEvent("sess-1", "msg-2", at(1), "claude-sonnet-4-5-20250929",
			model.TokenUsage{InputTokens: 1}),
	}, model.ModeAggregate)
	require.NoError(t, err)

	rollups, err := s.DailyRollups("", "")
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, int64(2), rollups[0].Sessions)
}

func TestStatsCostFromSeededPricing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Ingest([]model.UsageEvent{
		assistantEvent("sess-1", "msg-1", at(1), "claude-sonnet-4-5-20250929",
			model.TokenUsage{InputTokens: 100, OutputTokens: 50}),
	}, model.ModeFull)
	require.NoError(t, err)

	st, err := s.Stats()
	require.NoError(t, err)
	// 100 in at $3/MTok + 50 out at $15/MTok
	want := 100.0/1_000_000*3.0 + 50.0/1_000_000*15.0
	assert.InDelta(t, want, st.TotalCost, 1e-12)
	assert.InDelta(t, want, st.CostByModel["claude-sonnet-4-5-20250929"], 1e-12)
	assert.Equal(t, int64(150), st.TokensByModel["claude-sonnet-4-5-20250929"])
}

func TestStatsSyntheticTokensAreFree(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Ingest([]model.UsageEvent{
		assistantEvent("sess-1", "msg-1", at(1), model.SyntheticModel,
			model.TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}),
	}, model.ModeFull)
	require.NoError(t, err)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), st.TotalTokens)
	assert.Zero(t, st.TotalCost)
	assert.Zero(t, st.CostByModel[model.SyntheticModel])
}

func TestIngestQueryCostEndToEnd(t *testing.T) {
	s := openTestStore(t)

	day := time.Date(2025, 1, 10, 12, 0, 0, 0, time.Local)
	n, err := s.Ingest([]model.UsageEvent{
		userEvent("sess-1", "msg-1", day),
		userEvent("sess-1", "msg-2", day.Add(time.Minute)),
		assistantEvent("sess-1", "msg-3", day.Add(2*time.Minute),
			"claude-sonnet-4-5-20250929", model.TokenUsage{InputTokens: 100, OutputTokens: 50}),
	}, model.ModeFull)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	rollups, err := s.DailyRollups("2025-01-10", "2025-01-10")
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, int64(2), rollups[0].Prompts)
	assert.Equal(t, int64(1), rollups[0].Responses)
	assert.Equal(t, int64(150), rollups[0].TotalTokens)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.InDelta(t, 100.0/1e6*3.0+50.0/1e6*15.0, st.TotalCost, 1e-12)
}

func TestDailyRollupsRange(t *testing.T) {
	s := openTestStore(t)

	var batch []model.UsageEvent
	for day := 1; day <= 5; day++ {
		batch = append(batch, assistantEvent("sess-1", string(rune('a'+day)), at(day),
			"claude-sonnet-4-5-20250929", model.TokenUsage{InputTokens: int64(day)}))
	}
	_, err := s.Ingest(batch, model.ModeFull)
	require.NoError(t, err)

	rollups, err := s.DailyRollups(at(2).Format("2006-01-02"), at(4).Format("2006-01-02"))
	require.NoError(t, err)
	require.Len(t, rollups, 3)
	assert.Equal(t, at(2).Format("2006-01-02"), rollups[0].Date)
	assert.Equal(t, at(4).Format("2006-01-02"), rollups[2].Date)

	none, err := s.DailyRollups("1999-01-01", "1999-12-31")
	require.NoError(t, err)
	assert.Empty(t, none)
}
