package pricing

import (
	"sort"
	"strings"

	"github.com/mseelig/ccvault/internal/model"
)

// Entry contains pricing for one model, in USD per million tokens.
type Entry struct {
	ModelName         string
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheWritePerMTok float64
	CacheReadPerMTok  float64
	Notes             string
}

// familyRule maps a model-id substring to fallback pricing. Rules are
// evaluated in order, only after an exact lookup misses, so more
// specific families must come before their prefixes (sonnet-4-5 before
// sonnet-4).
type familyRule struct {
	match func(string) bool
	entry Entry
}

// Table resolves model ids to pricing. It is an explicit value passed
// to callers rather than process-wide state; construct one at startup
// with Default or Store.PricingTable and pass it by reference.
type Table struct {
	exact    map[string]Entry
	families []familyRule
	legacy   Entry
}

func contains(tokens ...string) func(string) bool {
	return func(id string) bool {
		for _, tok := range tokens {
			if strings.Contains(id, tok) {
				return true
			}
		}
		return false
	}
}

// New builds a Table from explicit entries plus the standard family
// fallback chain.
func New(entries []Entry) *Table {
	t := &Table{exact: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		t.exact[e.ModelName] = e
	}

	opus4 := Entry{ModelName: "Opus 4", InputPerMTok: 15.0, OutputPerMTok: 75.0, CacheWritePerMTok: 18.75, CacheReadPerMTok: 1.50}
	sonnet45 := Entry{ModelName: "Sonnet 4.5", InputPerMTok: 3.0, OutputPerMTok: 15.0, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30}
	sonnet4 := Entry{ModelName: "Sonnet 4", InputPerMTok: 3.0, OutputPerMTok: 15.0, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30}
	haiku45 := Entry{ModelName: "Haiku 4.5", InputPerMTok: 1.0, OutputPerMTok: 5.0, CacheWritePerMTok: 1.25, CacheReadPerMTok: 0.10}
	haiku35 := Entry{ModelName: "Haiku 3.5", InputPerMTok: 1.0, OutputPerMTok: 5.0, CacheWritePerMTok: 1.0, CacheReadPerMTok: 0.08}

	t.families = []familyRule{
		{contains("opus-4"), opus4},
		{contains("sonnet-4-5", "sonnet-4.5"), sonnet45},
		{contains("sonnet-4"), sonnet4},
		{contains("haiku-4-5", "haiku-4.5"), haiku45},
		{contains("haiku-3-5", "haiku-3.5"), haiku35},
	}

	// Pre-cache-pricing models and anything unrecognized bill at the
	// old Sonnet rate.
	t.legacy = Entry{ModelName: "Unknown", InputPerMTok: 3.0, OutputPerMTok: 15.0, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30}

	return t
}

// Default returns a Table seeded with the embedded price list.
func Default() *Table {
	return New(defaultEntries())
}

func defaultEntries() []Entry {
	return []Entry{
		{ModelName: "claude-opus-4-1-20250805", InputPerMTok: 15.0, OutputPerMTok: 75.0, CacheWritePerMTok: 18.75, CacheReadPerMTok: 1.50, Notes: "Current flagship model"},
		{ModelName: "claude-sonnet-4-5-20250929", InputPerMTok: 3.0, OutputPerMTok: 15.0, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30, Notes: "Current balanced model"},
		{ModelName: "claude-haiku-3-5-20241022", InputPerMTok: 0.80, OutputPerMTok: 4.0, CacheWritePerMTok: 1.0, CacheReadPerMTok: 0.08, Notes: "Current fast model"},
		{ModelName: "claude-sonnet-4-20250514", InputPerMTok: 3.0, OutputPerMTok: 15.0, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30, Notes: "Legacy Sonnet 4"},
		{ModelName: "claude-opus-4-20250514", InputPerMTok: 15.0, OutputPerMTok: 75.0, CacheWritePerMTok: 18.75, CacheReadPerMTok: 1.50, Notes: "Legacy Opus 4"},
		{ModelName: "claude-sonnet-3-7-20250219", InputPerMTok: 3.0, OutputPerMTok: 15.0, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30, Notes: "Legacy Sonnet 3.7"},
		{ModelName: model.SyntheticModel, InputPerMTok: 0, OutputPerMTok: 0, CacheWritePerMTok: 0, CacheReadPerMTok: 0, Notes: "Test/synthetic model - no cost"},
	}
}

// Resolve looks up pricing for a model id: exact match first, then the
// ordered family fallbacks, then the legacy default.
func (t *Table) Resolve(modelID string) Entry {
	if e, ok := t.exact[modelID]; ok {
		return e
	}
	lower := strings.ToLower(modelID)
	for _, f := range t.families {
		if f.match(lower) {
			return f.entry
		}
	}
	return t.legacy
}

// Cost returns the USD cost of the given usage under the given model.
// Synthetic traffic is free regardless of table contents; the sentinel
// is checked before any lookup.
func (t *Table) Cost(usage model.TokenUsage, modelID string) float64 {
	if modelID == model.SyntheticModel {
		return 0
	}
	e := t.Resolve(modelID)
	return float64(usage.InputTokens)/1_000_000*e.InputPerMTok +
		float64(usage.OutputTokens)/1_000_000*e.OutputPerMTok +
		float64(usage.CacheCreationTokens)/1_000_000*e.CacheWritePerMTok +
		float64(usage.CacheReadTokens)/1_000_000*e.CacheReadPerMTok
}

// Entries returns the exact-match entries sorted by model name, for
// persistence and display.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.exact))
	for _, e := range t.exact {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelName < out[j].ModelName })
	return out
}
