package vault

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// firstEligibleQuery computes the earliest preferred run date across jobs
// that can still do useful work. Opt-outs are excluded when the matched
// record is already gone, when the broker removes records through its
// parent site, or when the user dismissed the match as not theirs.
const firstEligibleQuery = `
WITH next_scan AS (
	SELECT MIN(preferred_run_date) AS d FROM scans
	WHERE preferred_run_date IS NOT NULL
),
next_optout AS (
	SELECT MIN(o.preferred_run_date) AS d
	FROM optouts o
	JOIN extracted_profiles ep ON ep.id = o.extracted_profile_id
	JOIN brokers b ON b.id = o.broker_id
	WHERE o.preferred_run_date IS NOT NULL
	  AND ep.removed_date IS NULL
	  AND b.optout_type != 'parentSiteOptOut'
	  AND NOT EXISTS (
		SELECT 1 FROM optout_history_events h
		WHERE h.extracted_profile_id = o.extracted_profile_id
		  AND h.event_type = 'matchRemovedByUser'
	  )
)
SELECT MIN(d) FROM (
	SELECT d FROM next_scan
	UNION ALL
	SELECT d FROM next_optout
)`

// FirstEligibleJobDate returns the earliest date any eligible job wants to
// run, or nil when no job is eligible.
func (s *Store) FirstEligibleJobDate(ctx context.Context) (*time.Time, error) {
	var d sql.NullInt64
	err := s.q.QueryRowContext(ctx, firstEligibleQuery).Scan(&d)
	if err != nil {
		return nil, fmt.Errorf("%w: first eligible job date: %w", ErrDatabase, err)
	}
	return unixPtr(d), nil
}
