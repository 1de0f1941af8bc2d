package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/mseelig/ccvault/internal/model"
)

// SaveLimits records one limits snapshot. Snapshots with the same
// capture instant overwrite; no interpretation of reset strings.
func (s *Store) SaveLimits(snap model.LimitsSnapshot) error {
	date := snap.Date
	if date == "" {
		date = snap.CapturedAt.Local().Format("2006-01-02")
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO limits_snapshots (
			captured_at, date, session_pct, week_pct, opus_pct,
			session_reset, week_reset, opus_reset
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.CapturedAt.UTC().Format(time.RFC3339Nano), date,
		snap.SessionPct, snap.WeekPct, snap.OpusPct,
		snap.SessionReset, snap.WeekReset, snap.OpusReset,
	)
	if err != nil {
		return classify("save limits", err)
	}
	return nil
}

// LatestLimits returns the most recent limits snapshot, or nil when
// none has been recorded.
func (s *Store) LatestLimits() (*model.LimitsSnapshot, error) {
	var snap model.LimitsSnapshot
	var captured string
	err := s.db.QueryRow(`
		SELECT captured_at, date, session_pct, week_pct, opus_pct,
		       session_reset, week_reset, opus_reset
		FROM limits_snapshots
		ORDER BY captured_at DESC
		LIMIT 1`).
		Scan(&captured, &snap.Date, &snap.SessionPct, &snap.WeekPct, &snap.OpusPct,
			&snap.SessionReset, &snap.WeekReset, &snap.OpusReset)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("latest limits", err)
	}
	snap.CapturedAt, _ = time.Parse(time.RFC3339Nano, captured)
	return &snap, nil
}

// DailyLimits holds per-day maxima of the week and opus percentages.
type DailyLimits struct {
	WeekPct int
	OpusPct int
}

// DailyMaxLimits returns the per-day maximum week/opus percentage for
// every day with at least one snapshot.
func (s *Store) DailyMaxLimits() (map[string]DailyLimits, error) {
	rows, err := s.db.Query(`
		SELECT date, COALESCE(MAX(week_pct), 0), COALESCE(MAX(opus_pct), 0)
		FROM limits_snapshots
		GROUP BY date
		ORDER BY date`)
	if err != nil {
		return nil, classify("daily limits", err)
	}
	defer rows.Close()

	out := make(map[string]DailyLimits)
	for rows.Next() {
		var date string
		var dl DailyLimits
		if err := rows.Scan(&date, &dl.WeekPct, &dl.OpusPct); err != nil {
			return nil, classify("daily limits", err)
		}
		out[date] = dl
	}
	return out, rows.Err()
}
