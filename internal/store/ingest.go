package store

import (
	"database/sql"
	"time"

	"github.com/mseelig/ccvault/internal/model"
)

// txlike is the subset of *sql.Tx the rollup maintenance needs; tests
// exercise it through Ingest only.
type txlike interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	Prepare(query string) (*sql.Stmt, error)
}

// Ingest saves a batch of usage events and maintains the daily rollups,
// all within one transaction.
//
// In full mode individual events are inserted (duplicates on
// (session_id, message_id) are silently skipped) and the rollup row for
// every date still present in raw storage is recomputed from those raw
// rows. Rollup rows for dates whose raw events are gone are never
// touched. The return value is the number of genuinely new events.
//
// In aggregate mode no raw events are kept; per-date deltas computed
// from the batch are merged into the existing rollup rows, and the
// return value is the number of rollup rows written. Aggregate mode has
// no event identity to deduplicate on, so re-ingesting an
// already-counted batch double-counts; callers are expected to feed
// each event once.
//
// An empty batch is a no-op and returns 0.
func (s *Store) Ingest(events []model.UsageEvent, mode model.StorageMode) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, classify("begin ingest", err)
	}
	defer tx.Rollback()

	var saved int
	if mode == model.ModeFull {
		saved, err = s.ingestFull(tx, events)
	} else {
		saved, err = s.ingestAggregate(tx, events)
	}
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, classify("commit ingest", err)
	}
	return saved, nil
}

func (s *Store) ingestFull(tx txlike, events []model.UsageEvent) (int, error) {
	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO usage_events (
			date, timestamp, session_id, message_id, kind, model,
			folder, git_branch, version,
			input_tokens, output_tokens, cache_creation_tokens,
			cache_read_tokens, total_tokens
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, classify("prepare insert", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, e := range events {
		var usage model.TokenUsage
		if e.Usage != nil {
			usage = *e.Usage
		}
		res, err := stmt.Exec(
			e.DateKey(), e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.SessionID, e.MessageID, string(e.Kind), nullable(e.Model),
			e.Folder, nullable(e.GitBranch), e.Version,
			usage.InputTokens, usage.OutputTokens,
			usage.CacheCreationTokens, usage.CacheReadTokens, usage.Total(),
		)
		if err != nil {
			return 0, classify("insert event", err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := recomputeRollups(tx); err != nil {
		return 0, err
	}
	return int(inserted), nil
}

// recomputeRollups replaces the rollup row for every date that has raw
// events. Never REPLACE over dates without raw rows: their events aged
// out of the source window (or the store ran in aggregate mode before),
// and the rollup is all that is left of them.
func recomputeRollups(tx txlike) error {
	rows, err := tx.Query(`SELECT DISTINCT date FROM usage_events`)
	if err != nil {
		return classify("list event dates", err)
	}
	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			rows.Close()
			return classify("list event dates", err)
		}
		dates = append(dates, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classify("list event dates", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, date := range dates {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO daily_rollups (
				date, prompts, responses, sessions,
				input_tokens, output_tokens, cache_creation_tokens,
				cache_read_tokens, total_tokens, last_updated
			)
			SELECT
				?,
				SUM(CASE WHEN kind = 'user' THEN 1 ELSE 0 END),
				SUM(CASE WHEN kind = 'assistant' THEN 1 ELSE 0 END),
				COUNT(DISTINCT session_id),
				SUM(input_tokens), SUM(output_tokens),
				SUM(cache_creation_tokens), SUM(cache_read_tokens),
				SUM(total_tokens), ?
			FROM usage_events WHERE date = ?`,
			date, now, date,
		)
		if err != nil {
			return classify("recompute rollup", err)
		}
	}
	return nil
}

type dayDelta struct {
	prompts, responses                             int64
	input, output, cacheCreation, cacheRead, total int64
	sessions                                       map[string]bool
}

func (s *Store) ingestAggregate(tx txlike, events []model.UsageEvent) (int, error) {
	deltas := make(map[string]*dayDelta)
	for _, e := range events {
		key := e.DateKey()
		d, ok := deltas[key]
		if !ok {
			d = &dayDelta{sessions: make(map[string]bool)}
			deltas[key] = d
		}
		d.sessions[e.SessionID] = true
		switch {
		case e.IsUserPrompt():
			d.prompts++
		case e.IsAssistantResponse():
			d.responses++
		}
		if e.Usage != nil {
			d.input += e.Usage.InputTokens
			d.output += e.Usage.OutputTokens
			d.cacheCreation += e.Usage.CacheCreationTokens
			d.cacheRead += e.Usage.CacheReadTokens
			d.total += e.Usage.Total()
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var saved int
	for date, d := range deltas {
		// The session count adds this batch's distinct sessions to the
		// stored count. A session spanning two ingestion batches is
		// counted twice; without raw rows there is no global distinct
		// set to recompute from. Known approximation.
		_, err := tx.Exec(`
			INSERT INTO daily_rollups (
				date, prompts, responses, sessions,
				input_tokens, output_tokens, cache_creation_tokens,
				cache_read_tokens, total_tokens, last_updated
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				prompts = prompts + excluded.prompts,
				responses = responses + excluded.responses,
				sessions = sessions + excluded.sessions,
				input_tokens = input_tokens + excluded.input_tokens,
				output_tokens = output_tokens + excluded.output_tokens,
				cache_creation_tokens = cache_creation_tokens + excluded.cache_creation_tokens,
				cache_read_tokens = cache_read_tokens + excluded.cache_read_tokens,
				total_tokens = total_tokens + excluded.total_tokens,
				last_updated = excluded.last_updated`,
			date, d.prompts, d.responses, int64(len(d.sessions)),
			d.input, d.output, d.cacheCreation, d.cacheRead, d.total, now,
		)
		if err != nil {
			return 0, classify("merge rollup", err)
		}
		saved++
	}
	return saved, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
