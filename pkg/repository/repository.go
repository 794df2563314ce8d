// Package repository is the highest-level façade of the removal store. It
// implements the profile save/update reconciliation algorithm, composite
// broker/query aggregation, and the telemetry classification applied to every
// public operation.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/delistd/delistctl/pkg/catalog"
	"github.com/delistd/delistctl/pkg/removal"
	"github.com/delistd/delistctl/pkg/telemetry"
	"github.com/delistd/delistctl/pkg/vault"
)

// ErrDataNotInDatabase indicates an aggregation precondition failed: the
// broker, profile query, or scan required to assemble a composite record is
// missing. Callers must not treat this as an empty result.
var ErrDataNotInDatabase = errors.New("repository: data not in database")

// Repository orchestrates the secure vault, the bundled broker catalog and
// the telemetry sink.
type Repository struct {
	vault   *vault.Vault
	catalog catalog.Source
	sink    telemetry.Sink
	now     func() time.Time
}

// New creates a repository. A nil sink discards telemetry.
func New(v *vault.Vault, cat catalog.Source, sink telemetry.Sink) *Repository {
	if sink == nil {
		sink = telemetry.Discard
	}
	return &Repository{vault: v, catalog: cat, sink: sink, now: time.Now}
}

// SaveProfile persists the user profile. The first save seeds the broker
// table from the bundled catalog and provisions one scan per broker and
// query; subsequent saves reconcile the stored queries against the new
// profile's content. Either way, every change lands in one transaction.
func (r *Repository) SaveProfile(ctx context.Context, p removal.Profile) error {
	err := r.vault.WithTx(ctx, func(tx *vault.Vault) error {
		hadProfile, err := tx.HasProfile(ctx)
		if err != nil {
			return err
		}
		now := r.now()
		if err := tx.SaveProfile(ctx, p, now); err != nil {
			return err
		}
		if !hadProfile {
			return r.saveNewProfile(ctx, tx, p, now)
		}
		return r.updateProfile(ctx, tx, p, now)
	})
	return r.report("saveProfile", err)
}

// saveNewProfile handles the first-time path: seed brokers when none exist,
// then provision every broker x query pair.
func (r *Repository) saveNewProfile(ctx context.Context, tx *vault.Vault, p removal.Profile, now time.Time) error {
	count, err := tx.BrokerCount(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		if err := r.seedBrokers(ctx, tx); err != nil {
			return err
		}
	}
	brokers, err := tx.AllBrokers(ctx)
	if err != nil {
		return err
	}
	for _, q := range dedupeQueries(p.Queries()) {
		if _, err := r.createQueryWithScans(ctx, tx, q, brokers, now); err != nil {
			return err
		}
	}
	return nil
}

// seedBrokers populates the broker table from the bundled catalog.
func (r *Repository) seedBrokers(ctx context.Context, tx *vault.Vault) error {
	result, err := r.catalog.BundledBrokers(ctx)
	if err != nil {
		return fmt.Errorf("repository: bundled broker load failed: %w", err)
	}
	for _, b := range result.Brokers {
		if _, err := tx.SaveBroker(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// createQueryWithScans inserts a query and one scan job per broker, with the
// scan scheduled immediately and never run.
func (r *Repository) createQueryWithScans(ctx context.Context, tx *vault.Vault, q removal.ProfileQuery, brokers []removal.DataBroker, now time.Time) (int64, error) {
	q.ProfileID = 1
	id, err := tx.SaveProfileQuery(ctx, q)
	if err != nil {
		return 0, err
	}
	for _, b := range brokers {
		if err := tx.SaveScanJob(ctx, removal.ScanJob{
			BrokerID:         b.ID,
			ProfileQueryID:   id,
			PreferredRunDate: &now,
		}); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// updateProfile reconciles stored queries against the new profile's content:
// unknown variants are created and provisioned, dropped variants are deleted
// unless they still have broker-side matches (those are deprecated instead),
// and re-submitted deprecated variants are revived and rescheduled.
// Content identity, not row identity, decides what counts as "the same"
// query.
func (r *Repository) updateProfile(ctx context.Context, tx *vault.Vault, p removal.Profile, now time.Time) error {
	existing, err := tx.AllProfileQueries(ctx)
	if err != nil {
		return err
	}
	brokers, err := tx.AllBrokers(ctx)
	if err != nil {
		return err
	}

	target := dedupeQueries(p.Queries())
	targetByKey := make(map[string]removal.ProfileQuery, len(target))
	for _, q := range target {
		targetByKey[q.IdentityKey()] = q
	}
	existingByKey := make(map[string]removal.ProfileQuery, len(existing))
	for _, q := range existing {
		existingByKey[q.IdentityKey()] = q
	}

	var toCreate []removal.ProfileQuery
	for _, q := range target {
		if _, ok := existingByKey[q.IdentityKey()]; !ok {
			toCreate = append(toCreate, q)
		}
	}

	var toRemove, toUpdate []removal.ProfileQuery
	for _, q := range existing {
		if _, ok := targetByKey[q.IdentityKey()]; ok {
			// Still submitted. A previously deprecated variant is revived.
			if q.Deprecated {
				q.Deprecated = false
				toUpdate = append(toUpdate, q)
			}
			continue
		}
		hasMatches, err := tx.HasMatchesForQuery(ctx, q.ID)
		if err != nil {
			return err
		}
		if hasMatches {
			q.Deprecated = true
			toUpdate = append(toUpdate, q)
		} else {
			toRemove = append(toRemove, q)
		}
	}

	for _, q := range toRemove {
		if err := tx.DeleteProfileQuery(ctx, q.ID); err != nil {
			return err
		}
	}
	for _, q := range toUpdate {
		if err := tx.UpdateProfileQuery(ctx, q); err != nil {
			return err
		}
		if !q.Deprecated {
			// Revived variant: reschedule its surviving scan rows. Brokers
			// imported while the query was deprecated have none.
			for _, b := range brokers {
				err := tx.UpdateScanPreferredRunDate(ctx, b.ID, q.ID, &now)
				if err != nil && !errors.Is(err, vault.ErrElementNotFound) {
					return err
				}
			}
		}
	}
	for _, q := range toCreate {
		if _, err := r.createQueryWithScans(ctx, tx, q, brokers, now); err != nil {
			return err
		}
	}
	return nil
}

// dedupeQueries drops content-identical duplicates, keeping first occurrence
// order. The same name+address submitted twice is one query.
func dedupeQueries(queries []removal.ProfileQuery) []removal.ProfileQuery {
	seen := make(map[string]bool, len(queries))
	out := queries[:0:0]
	for _, q := range queries {
		key := q.IdentityKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}

// Profile returns the stored profile.
func (r *Repository) Profile(ctx context.Context) (removal.Profile, error) {
	p, err := r.vault.FetchProfile(ctx)
	return p, r.report("fetchProfile", err)
}

// HasProfile reports whether a profile has been saved.
func (r *Repository) HasProfile(ctx context.Context) (bool, error) {
	has, err := r.vault.HasProfile(ctx)
	return has, r.report("hasProfile", err)
}

// DeleteProfileData removes every stored record atomically.
func (r *Repository) DeleteProfileData(ctx context.Context) error {
	return r.report("deleteProfileData", r.vault.DeleteProfileData(ctx))
}

// MatchRemovedByUser records that the user dismissed a match as not theirs.
// It appends a matchRemovedByUser event to the owning opt-out history; it
// does not set the match's removed date, which is a separate signal written
// by the submission pipeline. A missing extracted profile surfaces as
// ErrElementNotFound.
func (r *Repository) MatchRemovedByUser(ctx context.Context, extractedProfileID int64) error {
	err := r.vault.WithTx(ctx, func(tx *vault.Vault) error {
		ep, err := tx.ExtractedProfile(ctx, extractedProfileID)
		if err != nil {
			return err
		}
		return tx.AddHistoryEvent(ctx, removal.HistoryEvent{
			BrokerID:           ep.BrokerID,
			ProfileQueryID:     ep.ProfileQueryID,
			ExtractedProfileID: &extractedProfileID,
			Type:               removal.EventMatchRemovedByUser,
			Timestamp:          r.now(),
		})
	})
	return r.report("matchRemovedByUser", err)
}

// BrokerProfileQueryData is the composite record the scheduler and UI layers
// consume: one broker/query pairing with its scan and opt-out state.
type BrokerProfileQueryData struct {
	Broker       removal.DataBroker
	ProfileQuery removal.ProfileQuery
	ScanJob      removal.ScanJob
	OptOutJobs   []removal.OptOutJob
}

// HasMatches reports whether the pairing produced any extracted profiles.
func (d BrokerProfileQueryData) HasMatches() bool {
	return len(d.OptOutJobs) > 0
}

// BrokerProfileQueryData assembles the composite record for one pairing.
// Broker, query and scan must all exist; a missing scan means the pairing was
// never provisioned and is an error, not an empty result.
func (r *Repository) BrokerProfileQueryData(ctx context.Context, brokerID, profileQueryID int64) (*BrokerProfileQueryData, error) {
	data, err := r.brokerProfileQueryData(ctx, brokerID, profileQueryID)
	return data, r.report("brokerProfileQueryData", err)
}

func (r *Repository) brokerProfileQueryData(ctx context.Context, brokerID, profileQueryID int64) (*BrokerProfileQueryData, error) {
	broker, err := r.vault.Broker(ctx, brokerID)
	if err != nil {
		return nil, aggregationErr("broker", brokerID, err)
	}
	query, err := r.vault.ProfileQuery(ctx, profileQueryID)
	if err != nil {
		return nil, aggregationErr("profile query", profileQueryID, err)
	}
	scan, err := r.vault.ScanJob(ctx, brokerID, profileQueryID)
	if err != nil {
		return nil, aggregationErr("scan", profileQueryID, err)
	}
	optOuts, err := r.vault.OptOutJobs(ctx, brokerID, profileQueryID)
	if err != nil {
		return nil, err
	}
	return &BrokerProfileQueryData{
		Broker:       broker,
		ProfileQuery: query,
		ScanJob:      scan,
		OptOutJobs:   optOuts,
	}, nil
}

// aggregationErr converts a not-found during composite assembly into the
// aggregation precondition error; other failures pass through.
func aggregationErr(what string, id int64, err error) error {
	if errors.Is(err, vault.ErrElementNotFound) {
		return fmt.Errorf("%w: %s %d", ErrDataNotInDatabase, what, id)
	}
	return err
}

// AllBrokerProfileQueryData assembles the composite record for every
// provisioned pairing from whole-table reads. Pairings without a scan row
// are skipped, not errored.
func (r *Repository) AllBrokerProfileQueryData(ctx context.Context) ([]BrokerProfileQueryData, error) {
	data, err := r.allBrokerProfileQueryData(ctx)
	return data, r.report("allBrokerProfileQueryData", err)
}

func (r *Repository) allBrokerProfileQueryData(ctx context.Context) ([]BrokerProfileQueryData, error) {
	brokers, err := r.vault.AllBrokers(ctx)
	if err != nil {
		return nil, err
	}
	queries, err := r.vault.AllProfileQueries(ctx)
	if err != nil {
		return nil, err
	}
	scans, err := r.vault.AllScanJobs(ctx)
	if err != nil {
		return nil, err
	}
	optOuts, err := r.vault.AllOptOutJobs(ctx)
	if err != nil {
		return nil, err
	}

	type pair struct{ broker, query int64 }
	scanByPair := make(map[pair]removal.ScanJob, len(scans))
	for _, s := range scans {
		scanByPair[pair{s.BrokerID, s.ProfileQueryID}] = s
	}
	optOutsByPair := make(map[pair][]removal.OptOutJob)
	for _, o := range optOuts {
		k := pair{o.BrokerID, o.ProfileQueryID}
		optOutsByPair[k] = append(optOutsByPair[k], o)
	}

	var out []BrokerProfileQueryData
	for _, b := range brokers {
		for _, q := range queries {
			k := pair{b.ID, q.ID}
			scan, ok := scanByPair[k]
			if !ok {
				continue
			}
			out = append(out, BrokerProfileQueryData{
				Broker:       b,
				ProfileQuery: q,
				ScanJob:      scan,
				OptOutJobs:   optOutsByPair[k],
			})
		}
	}
	return out, nil
}

// FirstEligibleJobDate returns the earliest date any eligible job wants to
// run, or nil when nothing is scheduled.
func (r *Repository) FirstEligibleJobDate(ctx context.Context) (*time.Time, error) {
	d, err := r.vault.FirstEligibleJobDate(ctx)
	return d, r.report("firstEligibleJobDate", err)
}
