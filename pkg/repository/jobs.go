package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/delistd/delistctl/pkg/removal"
	"github.com/delistd/delistctl/pkg/vault"
)

// Pass-throughs for the scheduler and the opt-out submission pipeline. Each
// one records a classified telemetry event on failure and returns the error
// unchanged.

// UpdateScanPreferredRunDate reschedules a scan job.
func (r *Repository) UpdateScanPreferredRunDate(ctx context.Context, brokerID, profileQueryID int64, date *time.Time) error {
	return r.report("updateScanPreferredRunDate",
		r.vault.UpdateScanPreferredRunDate(ctx, brokerID, profileQueryID, date))
}

// UpdateScanLastRunDate records when a scan last executed.
func (r *Repository) UpdateScanLastRunDate(ctx context.Context, brokerID, profileQueryID int64, date *time.Time) error {
	return r.report("updateScanLastRunDate",
		r.vault.UpdateScanLastRunDate(ctx, brokerID, profileQueryID, date))
}

// SaveExtractedProfile stores a match found by a scan and provisions its
// opt-out job in the same transaction, scheduled immediately.
func (r *Repository) SaveExtractedProfile(ctx context.Context, ep removal.ExtractedProfile) (int64, error) {
	var id int64
	err := r.vault.WithTx(ctx, func(tx *vault.Vault) error {
		var err error
		ep.CreatedDate = r.now()
		id, err = tx.SaveExtractedProfile(ctx, ep)
		if err != nil {
			return err
		}
		now := r.now()
		return tx.SaveOptOutJob(ctx, removal.OptOutJob{
			BrokerID:           ep.BrokerID,
			ProfileQueryID:     ep.ProfileQueryID,
			ExtractedProfileID: id,
			CreatedDate:        now,
			PreferredRunDate:   &now,
		})
	})
	return id, r.report("saveExtractedProfile", err)
}

// ExtractedProfiles returns the matches for one broker/query pairing.
func (r *Repository) ExtractedProfiles(ctx context.Context, brokerID, profileQueryID int64) ([]removal.ExtractedProfile, error) {
	eps, err := r.vault.ExtractedProfiles(ctx, brokerID, profileQueryID)
	return eps, r.report("fetchExtractedProfiles", err)
}

// MarkExtractedProfileRemoved records when the match disappeared from the
// broker site.
func (r *Repository) MarkExtractedProfileRemoved(ctx context.Context, id int64, date *time.Time) error {
	return r.report("markExtractedProfileRemoved",
		r.vault.MarkExtractedProfileRemoved(ctx, id, date))
}

// UpdateOptOutPreferredRunDate reschedules an opt-out job.
func (r *Repository) UpdateOptOutPreferredRunDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64, date *time.Time) error {
	return r.report("updateOptOutPreferredRunDate",
		r.vault.UpdateOptOutPreferredRunDate(ctx, brokerID, profileQueryID, extractedProfileID, date))
}

// UpdateOptOutLastRunDate records when an opt-out job last executed.
func (r *Repository) UpdateOptOutLastRunDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64, date *time.Time) error {
	return r.report("updateOptOutLastRunDate",
		r.vault.UpdateOptOutLastRunDate(ctx, brokerID, profileQueryID, extractedProfileID, date))
}

// UpdateOptOutSubmittedDate records a successful removal submission.
func (r *Repository) UpdateOptOutSubmittedDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64, date *time.Time) error {
	return r.report("updateOptOutSubmittedDate",
		r.vault.UpdateOptOutSubmittedDate(ctx, brokerID, profileQueryID, extractedProfileID, date))
}

// IncrementOptOutAttemptCount bumps the opt-out attempt counter by one.
func (r *Repository) IncrementOptOutAttemptCount(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64) error {
	return r.report("incrementOptOutAttemptCount",
		r.vault.IncrementOptOutAttemptCount(ctx, brokerID, profileQueryID, extractedProfileID))
}

// SetOptOutPixelFired marks a 7/14/21-day confirmation checkpoint as already
// reported.
func (r *Repository) SetOptOutPixelFired(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64, days int) error {
	return r.report("setOptOutPixelFired",
		r.vault.SetOptOutPixelFired(ctx, brokerID, profileQueryID, extractedProfileID, days))
}

// AddHistoryEvent appends an audit event to the owning job's history.
func (r *Repository) AddHistoryEvent(ctx context.Context, e removal.HistoryEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	return r.report("addHistoryEvent", r.vault.AddHistoryEvent(ctx, e))
}

// StartOptOutAttempt begins a new attempt pipeline run for an extracted
// profile, replacing any previous attempt, and returns its generated ID.
func (r *Repository) StartOptOutAttempt(ctx context.Context, extractedProfileID int64) (string, error) {
	attemptID := uuid.NewString()
	err := r.vault.SaveAttempt(ctx, removal.AttemptInformation{
		ExtractedProfileID: extractedProfileID,
		AttemptID:          attemptID,
		DateStarted:        r.now(),
	})
	if err != nil {
		return "", r.report("startOptOutAttempt", err)
	}
	return attemptID, nil
}

// Attempt returns the active attempt for an extracted profile.
func (r *Repository) Attempt(ctx context.Context, extractedProfileID int64) (removal.AttemptInformation, error) {
	a, err := r.vault.Attempt(ctx, extractedProfileID)
	return a, r.report("fetchAttempt", err)
}

// RecordAttemptStage timestamps the most recent stage of the active attempt.
func (r *Repository) RecordAttemptStage(ctx context.Context, extractedProfileID int64) error {
	now := r.now()
	return r.report("recordAttemptStage",
		r.vault.UpdateAttemptLastStageDate(ctx, extractedProfileID, &now))
}

// SaveEmailConfirmation stores or replaces an email-confirmation job.
func (r *Repository) SaveEmailConfirmation(ctx context.Context, j removal.EmailConfirmationJob) error {
	return r.report("saveEmailConfirmation", r.vault.SaveEmailConfirmation(ctx, j))
}

// EmailConfirmation returns one email-confirmation job.
func (r *Repository) EmailConfirmation(ctx context.Context, profileQueryID, brokerID, extractedProfileID int64) (removal.EmailConfirmationJob, error) {
	j, err := r.vault.EmailConfirmation(ctx, profileQueryID, brokerID, extractedProfileID)
	return j, r.report("fetchEmailConfirmation", err)
}

// SetEmailConfirmationLink stores the confirmation link once received.
func (r *Repository) SetEmailConfirmationLink(ctx context.Context, profileQueryID, brokerID, extractedProfileID int64, link string) error {
	now := r.now()
	return r.report("setEmailConfirmationLink",
		r.vault.UpdateEmailConfirmationLink(ctx, profileQueryID, brokerID, extractedProfileID, link, &now))
}

// IncrementEmailConfirmationAttempt bumps the confirmation retry counter.
func (r *Repository) IncrementEmailConfirmationAttempt(ctx context.Context, profileQueryID, brokerID, extractedProfileID int64) error {
	return r.report("incrementEmailConfirmationAttempt",
		r.vault.IncrementEmailConfirmationAttempt(ctx, profileQueryID, brokerID, extractedProfileID))
}

// LogBackgroundTaskEvent appends an entry to the background scheduling log.
func (r *Repository) LogBackgroundTaskEvent(ctx context.Context, eventType, detail string) error {
	return r.report("logBackgroundTaskEvent",
		r.vault.LogBackgroundTaskEvent(ctx, eventType, detail, r.now()))
}

// BackgroundTaskEventsSince returns log entries at or after the cutoff.
func (r *Repository) BackgroundTaskEventsSince(ctx context.Context, since time.Time) ([]removal.BackgroundTaskEvent, error) {
	events, err := r.vault.BackgroundTaskEventsSince(ctx, since)
	return events, r.report("fetchBackgroundTaskEvents", err)
}

// PruneBackgroundTaskEvents deletes log entries older than the cutoff.
func (r *Repository) PruneBackgroundTaskEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := r.vault.PruneBackgroundTaskEvents(ctx, cutoff)
	return n, r.report("pruneBackgroundTaskEvents", err)
}
