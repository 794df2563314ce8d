package vault

import (
	"context"
	"fmt"
	"time"
)

// --- scans ---

const scanColumns = "broker_id, profile_query_id, last_run_date, preferred_run_date"

func scanScan(row interface{ Scan(...any) error }) (scanRecord, error) {
	var r scanRecord
	err := row.Scan(&r.BrokerID, &r.ProfileQueryID, &r.LastRunDate, &r.PreferredRunDate)
	return r, err
}

// InsertScan provisions a scan job for a broker/query pair.
func (s *Store) InsertScan(ctx context.Context, rec scanRecord) error {
	_, err := s.exec(ctx, "insert scan", `
		INSERT INTO scans (broker_id, profile_query_id, last_run_date, preferred_run_date)
		VALUES (?, ?, ?, ?)`,
		rec.BrokerID, rec.ProfileQueryID, rec.LastRunDate, rec.PreferredRunDate)
	return err
}

// FetchScan loads the scan job for a broker/query pair.
func (s *Store) FetchScan(ctx context.Context, brokerID, profileQueryID int64) (scanRecord, error) {
	r, err := scanScan(s.q.QueryRowContext(ctx,
		"SELECT "+scanColumns+" FROM scans WHERE broker_id = ? AND profile_query_id = ?",
		brokerID, profileQueryID))
	if err != nil {
		return scanRecord{}, scanErr("fetch scan", err)
	}
	return r, nil
}

// FetchAllScans returns every scan job.
func (s *Store) FetchAllScans(ctx context.Context) ([]scanRecord, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+scanColumns+" FROM scans ORDER BY broker_id, profile_query_id")
	if err != nil {
		return nil, fmt.Errorf("%w: fetch scans: %w", ErrDatabase, err)
	}
	defer rows.Close()

	var out []scanRecord
	for rows.Next() {
		r, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan scan row: %w", ErrDatabase, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch scans: %w", ErrDatabase, err)
	}
	return out, nil
}

// UpdateScanPreferredRunDate reschedules a scan job.
func (s *Store) UpdateScanPreferredRunDate(ctx context.Context, brokerID, profileQueryID int64, date *time.Time) error {
	return s.execOne(ctx, "update scan preferred run date",
		"UPDATE scans SET preferred_run_date = ? WHERE broker_id = ? AND profile_query_id = ?",
		nullUnix(date), brokerID, profileQueryID)
}

// UpdateScanLastRunDate records when a scan last executed.
func (s *Store) UpdateScanLastRunDate(ctx context.Context, brokerID, profileQueryID int64, date *time.Time) error {
	return s.execOne(ctx, "update scan last run date",
		"UPDATE scans SET last_run_date = ? WHERE broker_id = ? AND profile_query_id = ?",
		nullUnix(date), brokerID, profileQueryID)
}

// InsertScanEvent appends a history event to a scan job.
func (s *Store) InsertScanEvent(ctx context.Context, rec scanEventRecord) error {
	_, err := s.exec(ctx, "insert scan event", `
		INSERT INTO scan_history_events (broker_id, profile_query_id, event_type, matches_found, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		rec.BrokerID, rec.ProfileQueryID, rec.EventType, rec.MatchesFound, rec.Timestamp)
	return err
}

// FetchScanEvents returns a scan job's history in insertion order.
func (s *Store) FetchScanEvents(ctx context.Context, brokerID, profileQueryID int64) ([]scanEventRecord, error) {
	return s.queryScanEvents(ctx, `
		SELECT id, broker_id, profile_query_id, event_type, matches_found, timestamp
		FROM scan_history_events
		WHERE broker_id = ? AND profile_query_id = ?
		ORDER BY id`, brokerID, profileQueryID)
}

// FetchAllScanEvents returns every scan history event.
func (s *Store) FetchAllScanEvents(ctx context.Context) ([]scanEventRecord, error) {
	return s.queryScanEvents(ctx, `
		SELECT id, broker_id, profile_query_id, event_type, matches_found, timestamp
		FROM scan_history_events ORDER BY id`)
}

func (s *Store) queryScanEvents(ctx context.Context, query string, args ...any) ([]scanEventRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch scan events: %w", ErrDatabase, err)
	}
	defer rows.Close()

	var out []scanEventRecord
	for rows.Next() {
		var e scanEventRecord
		if err := rows.Scan(&e.ID, &e.BrokerID, &e.ProfileQueryID, &e.EventType,
			&e.MatchesFound, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan scan event: %w", ErrDatabase, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch scan events: %w", ErrDatabase, err)
	}
	return out, nil
}

// --- extracted profiles ---

const extractedProfileColumns = "id, broker_id, profile_query_id, content, created_date, removed_date"

func scanExtractedProfile(row interface{ Scan(...any) error }) (extractedProfileRecord, error) {
	var r extractedProfileRecord
	err := row.Scan(&r.ID, &r.BrokerID, &r.ProfileQueryID, &r.Content,
		&r.CreatedDate, &r.RemovedDate)
	return r, err
}

// InsertExtractedProfile stores a matched record found during a scan and
// returns its generated ID.
func (s *Store) InsertExtractedProfile(ctx context.Context, rec extractedProfileRecord) (int64, error) {
	res, err := s.exec(ctx, "insert extracted profile", `
		INSERT INTO extracted_profiles (broker_id, profile_query_id, content, created_date, removed_date)
		VALUES (?, ?, ?, ?, ?)`,
		rec.BrokerID, rec.ProfileQueryID, rec.Content, rec.CreatedDate, rec.RemovedDate)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: insert extracted profile: %w", ErrDatabase, err)
	}
	return id, nil
}

// FetchExtractedProfile loads a matched record by ID.
func (s *Store) FetchExtractedProfile(ctx context.Context, id int64) (extractedProfileRecord, error) {
	r, err := scanExtractedProfile(s.q.QueryRowContext(ctx,
		"SELECT "+extractedProfileColumns+" FROM extracted_profiles WHERE id = ?", id))
	if err != nil {
		return extractedProfileRecord{}, scanErr("fetch extracted profile", err)
	}
	return r, nil
}

// FetchExtractedProfilesByPair returns the matched records for one
// broker/query pair.
func (s *Store) FetchExtractedProfilesByPair(ctx context.Context, brokerID, profileQueryID int64) ([]extractedProfileRecord, error) {
	return s.queryExtractedProfiles(ctx,
		"SELECT "+extractedProfileColumns+` FROM extracted_profiles
		WHERE broker_id = ? AND profile_query_id = ? ORDER BY id`,
		brokerID, profileQueryID)
}

// FetchAllExtractedProfiles returns every matched record.
func (s *Store) FetchAllExtractedProfiles(ctx context.Context) ([]extractedProfileRecord, error) {
	return s.queryExtractedProfiles(ctx,
		"SELECT "+extractedProfileColumns+" FROM extracted_profiles ORDER BY id")
}

func (s *Store) queryExtractedProfiles(ctx context.Context, query string, args ...any) ([]extractedProfileRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch extracted profiles: %w", ErrDatabase, err)
	}
	defer rows.Close()

	var out []extractedProfileRecord
	for rows.Next() {
		r, err := scanExtractedProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan extracted profile: %w", ErrDatabase, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch extracted profiles: %w", ErrDatabase, err)
	}
	return out, nil
}

// HasMatchesForQuery reports whether any extracted profile exists for the
// query, on any broker. Counts rows only; nothing is decrypted.
func (s *Store) HasMatchesForQuery(ctx context.Context, profileQueryID int64) (bool, error) {
	var count int64
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM extracted_profiles WHERE profile_query_id = ?",
		profileQueryID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: check matches for query: %w", ErrDatabase, err)
	}
	return count > 0, nil
}

// UpdateExtractedProfileRemovedDate marks when the record disappeared from
// the broker site; nil clears a previous marking.
func (s *Store) UpdateExtractedProfileRemovedDate(ctx context.Context, id int64, date *time.Time) error {
	return s.execOne(ctx, "update extracted profile removed date",
		"UPDATE extracted_profiles SET removed_date = ? WHERE id = ?", nullUnix(date), id)
}

// --- opt-outs ---

const optOutColumns = `broker_id, profile_query_id, extracted_profile_id, created_date,
	last_run_date, preferred_run_date, attempt_count, submitted_success_date,
	seven_day_pixel_fired, fourteen_day_pixel_fired, twenty_one_day_pixel_fired`

func scanOptOut(row interface{ Scan(...any) error }) (optOutRecord, error) {
	var r optOutRecord
	err := row.Scan(&r.BrokerID, &r.ProfileQueryID, &r.ExtractedProfileID, &r.CreatedDate,
		&r.LastRunDate, &r.PreferredRunDate, &r.AttemptCount, &r.SubmittedSuccessDate,
		&r.SevenDayPixelFired, &r.FourteenDayPixelFired, &r.TwentyOneDayPixelFired)
	return r, err
}

// InsertOptOut provisions an opt-out job for a matched record.
func (s *Store) InsertOptOut(ctx context.Context, rec optOutRecord) error {
	_, err := s.exec(ctx, "insert optout", `
		INSERT INTO optouts (broker_id, profile_query_id, extracted_profile_id, created_date,
			last_run_date, preferred_run_date, attempt_count, submitted_success_date,
			seven_day_pixel_fired, fourteen_day_pixel_fired, twenty_one_day_pixel_fired)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BrokerID, rec.ProfileQueryID, rec.ExtractedProfileID, rec.CreatedDate,
		rec.LastRunDate, rec.PreferredRunDate, rec.AttemptCount, rec.SubmittedSuccessDate,
		rec.SevenDayPixelFired, rec.FourteenDayPixelFired, rec.TwentyOneDayPixelFired)
	return err
}

// FetchOptOut loads the opt-out job for a matched record.
func (s *Store) FetchOptOut(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64) (optOutRecord, error) {
	r, err := scanOptOut(s.q.QueryRowContext(ctx,
		"SELECT "+optOutColumns+` FROM optouts
		WHERE broker_id = ? AND profile_query_id = ? AND extracted_profile_id = ?`,
		brokerID, profileQueryID, extractedProfileID))
	if err != nil {
		return optOutRecord{}, scanErr("fetch optout", err)
	}
	return r, nil
}

// FetchOptOutsByPair returns the opt-out jobs for one broker/query pair.
func (s *Store) FetchOptOutsByPair(ctx context.Context, brokerID, profileQueryID int64) ([]optOutRecord, error) {
	return s.queryOptOuts(ctx,
		"SELECT "+optOutColumns+` FROM optouts
		WHERE broker_id = ? AND profile_query_id = ?
		ORDER BY extracted_profile_id`, brokerID, profileQueryID)
}

// FetchAllOptOuts returns every opt-out job.
func (s *Store) FetchAllOptOuts(ctx context.Context) ([]optOutRecord, error) {
	return s.queryOptOuts(ctx,
		"SELECT "+optOutColumns+` FROM optouts
		ORDER BY broker_id, profile_query_id, extracted_profile_id`)
}

func (s *Store) queryOptOuts(ctx context.Context, query string, args ...any) ([]optOutRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch optouts: %w", ErrDatabase, err)
	}
	defer rows.Close()

	var out []optOutRecord
	for rows.Next() {
		r, err := scanOptOut(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan optout: %w", ErrDatabase, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch optouts: %w", ErrDatabase, err)
	}
	return out, nil
}

// UpdateOptOutPreferredRunDate reschedules an opt-out job.
func (s *Store) UpdateOptOutPreferredRunDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64, date *time.Time) error {
	return s.execOne(ctx, "update optout preferred run date", `
		UPDATE optouts SET preferred_run_date = ?
		WHERE broker_id = ? AND profile_query_id = ? AND extracted_profile_id = ?`,
		nullUnix(date), brokerID, profileQueryID, extractedProfileID)
}

// UpdateOptOutLastRunDate records when an opt-out job last executed.
func (s *Store) UpdateOptOutLastRunDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64, date *time.Time) error {
	return s.execOne(ctx, "update optout last run date", `
		UPDATE optouts SET last_run_date = ?
		WHERE broker_id = ? AND profile_query_id = ? AND extracted_profile_id = ?`,
		nullUnix(date), brokerID, profileQueryID, extractedProfileID)
}

// UpdateOptOutSubmittedDate records when the removal request was submitted
// successfully.
func (s *Store) UpdateOptOutSubmittedDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64, date *time.Time) error {
	return s.execOne(ctx, "update optout submitted date", `
		UPDATE optouts SET submitted_success_date = ?
		WHERE broker_id = ? AND profile_query_id = ? AND extracted_profile_id = ?`,
		nullUnix(date), brokerID, profileQueryID, extractedProfileID)
}

// IncrementOptOutAttemptCount bumps the attempt counter by one.
func (s *Store) IncrementOptOutAttemptCount(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64) error {
	return s.execOne(ctx, "increment optout attempt count", `
		UPDATE optouts SET attempt_count = attempt_count + 1
		WHERE broker_id = ? AND profile_query_id = ? AND extracted_profile_id = ?`,
		brokerID, profileQueryID, extractedProfileID)
}

// SetOptOutPixelFired marks the confirmation pixel for the given window
// (7, 14 or 21 days) as fired.
func (s *Store) SetOptOutPixelFired(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64, days int) error {
	var column string
	switch days {
	case 7:
		column = "seven_day_pixel_fired"
	case 14:
		column = "fourteen_day_pixel_fired"
	case 21:
		column = "twenty_one_day_pixel_fired"
	default:
		return fmt.Errorf("vault: unsupported pixel window %d days", days)
	}
	return s.execOne(ctx, "set optout pixel fired", `
		UPDATE optouts SET `+column+` = 1
		WHERE broker_id = ? AND profile_query_id = ? AND extracted_profile_id = ?`,
		brokerID, profileQueryID, extractedProfileID)
}

// InsertOptOutEvent appends a history event to an opt-out job.
func (s *Store) InsertOptOutEvent(ctx context.Context, rec optOutEventRecord) error {
	_, err := s.exec(ctx, "insert optout event", `
		INSERT INTO optout_history_events (broker_id, profile_query_id, extracted_profile_id, event_type, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		rec.BrokerID, rec.ProfileQueryID, rec.ExtractedProfileID, rec.EventType, rec.Timestamp)
	return err
}

// FetchOptOutEvents returns an opt-out job's history in insertion order.
func (s *Store) FetchOptOutEvents(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64) ([]optOutEventRecord, error) {
	return s.queryOptOutEvents(ctx, `
		SELECT id, broker_id, profile_query_id, extracted_profile_id, event_type, timestamp
		FROM optout_history_events
		WHERE broker_id = ? AND profile_query_id = ? AND extracted_profile_id = ?
		ORDER BY id`, brokerID, profileQueryID, extractedProfileID)
}

// FetchAllOptOutEvents returns every opt-out history event.
func (s *Store) FetchAllOptOutEvents(ctx context.Context) ([]optOutEventRecord, error) {
	return s.queryOptOutEvents(ctx, `
		SELECT id, broker_id, profile_query_id, extracted_profile_id, event_type, timestamp
		FROM optout_history_events ORDER BY id`)
}

func (s *Store) queryOptOutEvents(ctx context.Context, query string, args ...any) ([]optOutEventRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch optout events: %w", ErrDatabase, err)
	}
	defer rows.Close()

	var out []optOutEventRecord
	for rows.Next() {
		var e optOutEventRecord
		if err := rows.Scan(&e.ID, &e.BrokerID, &e.ProfileQueryID, &e.ExtractedProfileID,
			&e.EventType, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan optout event: %w", ErrDatabase, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch optout events: %w", ErrDatabase, err)
	}
	return out, nil
}

// --- attempts ---

// SaveAttempt records the active submission attempt for an extracted
// profile, replacing any previous one.
func (s *Store) SaveAttempt(ctx context.Context, rec attemptRecord) error {
	_, err := s.exec(ctx, "save attempt", `
		INSERT INTO optout_attempts (extracted_profile_id, attempt_id, date_started, last_stage_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(extracted_profile_id) DO UPDATE SET
			attempt_id = excluded.attempt_id,
			date_started = excluded.date_started,
			last_stage_date = excluded.last_stage_date`,
		rec.ExtractedProfileID, rec.AttemptID, rec.DateStarted, rec.LastStageDate)
	return err
}

// FetchAttempt loads the active attempt for an extracted profile.
func (s *Store) FetchAttempt(ctx context.Context, extractedProfileID int64) (attemptRecord, error) {
	var r attemptRecord
	err := s.q.QueryRowContext(ctx, `
		SELECT extracted_profile_id, attempt_id, date_started, last_stage_date
		FROM optout_attempts WHERE extracted_profile_id = ?`, extractedProfileID).
		Scan(&r.ExtractedProfileID, &r.AttemptID, &r.DateStarted, &r.LastStageDate)
	if err != nil {
		return attemptRecord{}, scanErr("fetch attempt", err)
	}
	return r, nil
}

// UpdateAttemptLastStageDate records progress on the active attempt.
func (s *Store) UpdateAttemptLastStageDate(ctx context.Context, extractedProfileID int64, date *time.Time) error {
	return s.execOne(ctx, "update attempt last stage date",
		"UPDATE optout_attempts SET last_stage_date = ? WHERE extracted_profile_id = ?",
		nullUnix(date), extractedProfileID)
}

// --- email confirmations ---

const emailConfirmationColumns = `profile_query_id, broker_id, extracted_profile_id,
	generated_email, attempt_id, link, link_obtained_date, attempt_count`

func scanEmailConfirmation(row interface{ Scan(...any) error }) (emailConfirmationRecord, error) {
	var r emailConfirmationRecord
	err := row.Scan(&r.ProfileQueryID, &r.BrokerID, &r.ExtractedProfileID,
		&r.GeneratedEmail, &r.AttemptID, &r.Link, &r.LinkObtainedDate, &r.AttemptCount)
	return r, err
}

// SaveEmailConfirmation stores or replaces the email-confirmation job for an
// extracted profile.
func (s *Store) SaveEmailConfirmation(ctx context.Context, rec emailConfirmationRecord) error {
	_, err := s.exec(ctx, "save email confirmation", `
		INSERT INTO email_confirmations (profile_query_id, broker_id, extracted_profile_id,
			generated_email, attempt_id, link, link_obtained_date, attempt_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_query_id, broker_id, extracted_profile_id) DO UPDATE SET
			generated_email = excluded.generated_email,
			attempt_id = excluded.attempt_id,
			link = excluded.link,
			link_obtained_date = excluded.link_obtained_date,
			attempt_count = excluded.attempt_count`,
		rec.ProfileQueryID, rec.BrokerID, rec.ExtractedProfileID,
		rec.GeneratedEmail, rec.AttemptID, rec.Link, rec.LinkObtainedDate, rec.AttemptCount)
	return err
}

// FetchEmailConfirmation loads the email-confirmation job keyed by the
// query/broker/extracted-profile triple.
func (s *Store) FetchEmailConfirmation(ctx context.Context, profileQueryID, brokerID, extractedProfileID int64) (emailConfirmationRecord, error) {
	r, err := scanEmailConfirmation(s.q.QueryRowContext(ctx,
		"SELECT "+emailConfirmationColumns+` FROM email_confirmations
		WHERE profile_query_id = ? AND broker_id = ? AND extracted_profile_id = ?`,
		profileQueryID, brokerID, extractedProfileID))
	if err != nil {
		return emailConfirmationRecord{}, scanErr("fetch email confirmation", err)
	}
	return r, nil
}

// FetchAllEmailConfirmations returns every email-confirmation job.
func (s *Store) FetchAllEmailConfirmations(ctx context.Context) ([]emailConfirmationRecord, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+emailConfirmationColumns+` FROM email_confirmations
		ORDER BY profile_query_id, broker_id, extracted_profile_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch email confirmations: %w", ErrDatabase, err)
	}
	defer rows.Close()

	var out []emailConfirmationRecord
	for rows.Next() {
		r, err := scanEmailConfirmation(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan email confirmation: %w", ErrDatabase, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch email confirmations: %w", ErrDatabase, err)
	}
	return out, nil
}

// UpdateEmailConfirmationLink stores the confirmation link once received.
func (s *Store) UpdateEmailConfirmationLink(ctx context.Context, profileQueryID, brokerID, extractedProfileID int64, link []byte, obtained *time.Time) error {
	return s.execOne(ctx, "update email confirmation link", `
		UPDATE email_confirmations SET link = ?, link_obtained_date = ?
		WHERE profile_query_id = ? AND broker_id = ? AND extracted_profile_id = ?`,
		link, nullUnix(obtained), profileQueryID, brokerID, extractedProfileID)
}

// IncrementEmailConfirmationAttempt bumps the retry counter by one.
func (s *Store) IncrementEmailConfirmationAttempt(ctx context.Context, profileQueryID, brokerID, extractedProfileID int64) error {
	return s.execOne(ctx, "increment email confirmation attempt", `
		UPDATE email_confirmations SET attempt_count = attempt_count + 1
		WHERE profile_query_id = ? AND broker_id = ? AND extracted_profile_id = ?`,
		profileQueryID, brokerID, extractedProfileID)
}

// --- background task events ---

// InsertBackgroundTaskEvent appends an entry to the background task log.
func (s *Store) InsertBackgroundTaskEvent(ctx context.Context, rec backgroundTaskEventRecord) error {
	_, err := s.exec(ctx, "insert background task event",
		"INSERT INTO background_task_events (event_type, detail, timestamp) VALUES (?, ?, ?)",
		rec.EventType, rec.Detail, rec.Timestamp)
	return err
}

// FetchBackgroundTaskEventsSince returns log entries at or after the cutoff.
func (s *Store) FetchBackgroundTaskEventsSince(ctx context.Context, since time.Time) ([]backgroundTaskEventRecord, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, event_type, detail, timestamp FROM background_task_events
		WHERE timestamp >= ? ORDER BY id`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: fetch background task events: %w", ErrDatabase, err)
	}
	defer rows.Close()

	var out []backgroundTaskEventRecord
	for rows.Next() {
		var e backgroundTaskEventRecord
		if err := rows.Scan(&e.ID, &e.EventType, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan background task event: %w", ErrDatabase, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch background task events: %w", ErrDatabase, err)
	}
	return out, nil
}

// PruneBackgroundTaskEventsBefore deletes log entries older than the cutoff
// and reports how many were removed.
func (s *Store) PruneBackgroundTaskEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, "prune background task events",
		"DELETE FROM background_task_events WHERE timestamp < ?", cutoff.Unix())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: prune background task events: %w", ErrDatabase, err)
	}
	return n, nil
}
