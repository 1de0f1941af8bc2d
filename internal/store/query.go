package store

import (
	"time"

	"github.com/mseelig/ccvault/internal/model"
)

// DailyRollups returns rollup rows between from and to (inclusive,
// YYYY-MM-DD, either may be empty), oldest first. Only dates that were
// actually tracked appear; absence of a date means it was never
// tracked, not that it was tracked as zero.
func (s *Store) DailyRollups(from, to string) ([]model.DailyRollup, error) {
	query := `
		SELECT date, prompts, responses, sessions,
		       input_tokens, output_tokens, cache_creation_tokens,
		       cache_read_tokens, total_tokens, last_updated
		FROM daily_rollups WHERE 1=1`
	var args []any
	if from != "" {
		query += ` AND date >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND date <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY date`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, classify("query rollups", err)
	}
	defer rows.Close()

	var out []model.DailyRollup
	for rows.Next() {
		r, err := scanRollup(rows)
		if err != nil {
			return nil, classify("query rollups", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query rollups", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRollup(row rowScanner) (model.DailyRollup, error) {
	var r model.DailyRollup
	var updated string
	err := row.Scan(&r.Date, &r.Prompts, &r.Responses, &r.Sessions,
		&r.InputTokens, &r.OutputTokens, &r.CacheCreationTokens,
		&r.CacheReadTokens, &r.TotalTokens, &updated)
	if err != nil {
		return model.DailyRollup{}, err
	}
	r.LastUpdated, _ = time.Parse(time.RFC3339, updated)
	return r, nil
}

// Stats summarizes the whole store.
type Stats struct {
	TotalEvents    int64
	TotalDays      int64
	OldestDate     string
	NewestDate     string
	TotalTokens    int64
	TotalPrompts   int64
	TotalResponses int64
	TotalSessions  int64
	TokensByModel  map[string]int64
	CostByModel    map[string]float64
	TotalCost      float64

	AvgTokensPerSession  int64
	AvgTokensPerResponse int64
	AvgCostPerSession    float64
	AvgCostPerResponse   float64
}

// Stats computes database-wide statistics. Totals come from the rollup
// table so aged-out history still counts; per-model numbers need raw
// events and stay empty for aggregate-mode stores.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	st.TokensByModel = make(map[string]int64)
	st.CostByModel = make(map[string]float64)

	err := s.db.QueryRow(`SELECT COUNT(*) FROM usage_events`).Scan(&st.TotalEvents)
	if err != nil {
		return Stats{}, classify("count events", err)
	}

	err = s.db.QueryRow(`SELECT COUNT(*), COALESCE(MIN(date), ''), COALESCE(MAX(date), '') FROM daily_rollups`).
		Scan(&st.TotalDays, &st.OldestDate, &st.NewestDate)
	if err != nil {
		return Stats{}, classify("rollup range", err)
	}

	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(total_tokens), 0), COALESCE(SUM(prompts), 0),
		       COALESCE(SUM(responses), 0), COALESCE(SUM(sessions), 0)
		FROM daily_rollups`).
		Scan(&st.TotalTokens, &st.TotalPrompts, &st.TotalResponses, &st.TotalSessions)
	if err != nil {
		return Stats{}, classify("rollup totals", err)
	}

	if st.TotalEvents > 0 {
		if err := s.perModelStats(&st); err != nil {
			return Stats{}, err
		}
	}

	if st.TotalSessions > 0 {
		st.AvgTokensPerSession = st.TotalTokens / st.TotalSessions
		st.AvgCostPerSession = st.TotalCost / float64(st.TotalSessions)
	}
	if st.TotalResponses > 0 {
		st.AvgTokensPerResponse = st.TotalTokens / st.TotalResponses
		st.AvgCostPerResponse = st.TotalCost / float64(st.TotalResponses)
	}

	return st, nil
}

// perModelStats joins raw events against the persisted price list.
// Synthetic traffic is priced by its zero-cost row, so it contributes
// tokens but never cost.
func (s *Store) perModelStats(st *Stats) error {
	rows, err := s.db.Query(`
		SELECT
			ue.model,
			SUM(ue.total_tokens),
			SUM(ue.input_tokens), SUM(ue.output_tokens),
			SUM(ue.cache_creation_tokens), SUM(ue.cache_read_tokens),
			COALESCE(mp.input_price_per_mtok, 0),
			COALESCE(mp.output_price_per_mtok, 0),
			COALESCE(mp.cache_write_price_per_mtok, 0),
			COALESCE(mp.cache_read_price_per_mtok, 0)
		FROM usage_events ue
		LEFT JOIN model_pricing mp ON ue.model = mp.model_name
		WHERE ue.model IS NOT NULL
		GROUP BY ue.model`)
	if err != nil {
		return classify("per-model stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var modelName string
		var total, input, output, cacheWrite, cacheRead int64
		var inPrice, outPrice, cwPrice, crPrice float64
		err := rows.Scan(&modelName, &total, &input, &output, &cacheWrite, &cacheRead,
			&inPrice, &outPrice, &cwPrice, &crPrice)
		if err != nil {
			return classify("per-model stats", err)
		}

		st.TokensByModel[modelName] = total

		cost := float64(input)/1_000_000*inPrice +
			float64(output)/1_000_000*outPrice +
			float64(cacheWrite)/1_000_000*cwPrice +
			float64(cacheRead)/1_000_000*crPrice
		st.CostByModel[modelName] = cost
		st.TotalCost += cost
	}
	return rows.Err()
}

// EventDates returns the distinct dates that currently have raw events.
func (s *Store) EventDates() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT date FROM usage_events ORDER BY date`)
	if err != nil {
		return nil, classify("event dates", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, classify("event dates", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}
