package model

import "time"

// SyntheticModel marks test/internal traffic. It is always zero-cost and
// is excluded from per-model breakdowns.
const SyntheticModel = "<synthetic>"

// MessageKind distinguishes user prompts from assistant responses.
type MessageKind string

const (
	KindUser      MessageKind = "user"
	KindAssistant MessageKind = "assistant"
)

// StorageMode controls whether individual events are retained.
type StorageMode string

const (
	// ModeFull keeps raw events; rollups are recomputed from them.
	ModeFull StorageMode = "full"
	// ModeAggregate keeps daily rollups only, updated by delta accumulation.
	ModeAggregate StorageMode = "aggregate"
)

// TokenUsage contains token counts from a single API response
type TokenUsage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
}

// Total returns the sum across all token categories.
func (t TokenUsage) Total() int64 {
	return t.InputTokens + t.OutputTokens + t.CacheCreationTokens + t.CacheReadTokens
}

// UsageEvent represents a single message from the Claude Code log.
// (SessionID, MessageID) is the natural key within one device's store.
type UsageEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id"`
	Kind      MessageKind `json:"kind"`
	Model     string      `json:"model,omitempty"` // empty for user messages
	Folder    string      `json:"folder"`
	GitBranch string      `json:"git_branch,omitempty"`
	Version   string      `json:"version"`
	Usage     *TokenUsage `json:"usage,omitempty"` // nil for user messages
}

// DateKey returns the local calendar date (YYYY-MM-DD) the event belongs
// to. Activity at 23:30 local time groups into the local day even when
// the UTC day differs.
func (e UsageEvent) DateKey() string {
	return e.Timestamp.Local().Format("2006-01-02")
}

// IsUserPrompt reports whether this is a user message.
func (e UsageEvent) IsUserPrompt() bool { return e.Kind == KindUser }

// IsAssistantResponse reports whether this is an assistant message.
func (e UsageEvent) IsAssistantResponse() bool { return e.Kind == KindAssistant }

// DailyRollup is the materialized per-date aggregate. For dates that
// still have raw events it always equals the aggregation of those
// events; for dates whose raw events are gone it is the only surviving
// source of truth.
type DailyRollup struct {
	Date                string
	Prompts             int64
	Responses           int64
	Sessions            int64
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	TotalTokens         int64
	LastUpdated         time.Time
}

// Add merges another rollup's counters into r. Dates are not compared;
// callers group first.
func (r *DailyRollup) Add(o DailyRollup) {
	r.Prompts += o.Prompts
	r.Responses += o.Responses
	r.Sessions += o.Sessions
	r.InputTokens += o.InputTokens
	r.OutputTokens += o.OutputTokens
	r.CacheCreationTokens += o.CacheCreationTokens
	r.CacheReadTokens += o.CacheReadTokens
	r.TotalTokens += o.TotalTokens
}

// LimitsSnapshot is an opaque record from the limits-probing
// collaborator. Reset strings are stored verbatim, never parsed.
type LimitsSnapshot struct {
	CapturedAt   time.Time
	Date         string
	SessionPct   int
	WeekPct      int
	OpusPct      int
	SessionReset string
	WeekReset    string
	OpusReset    string
}

// Device is one machine's identity in the shared registry. Devices are
// deactivated rather than deleted so their stores keep counting.
type Device struct {
	MachineName    string
	Hostname       string
	RegisteredDate time.Time
	LastSeen       time.Time
	Active         bool
}

// BackupInfo describes one backup file, derived from its filename.
type BackupInfo struct {
	Path    string
	Date    time.Time
	Monthly bool
	Size    int64
}
