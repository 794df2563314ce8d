package vault

import (
	"context"
	"time"

	"github.com/delistd/delistctl/pkg/removal"
)

// Vault is the secure storage façade: domain entities in, encrypted rows
// out. It combines the crypto gateway, the record mapper and the SQLite
// storage provider. All methods are safe for concurrent use.
type Vault struct {
	store *Store
	gw    *Gateway
	m     mapper
}

// New combines an open store and a crypto gateway into a vault.
func New(store *Store, gw *Gateway) *Vault {
	return &Vault{store: store, gw: gw, m: mapper{gw: gw}}
}

// Close closes the underlying store.
func (v *Vault) Close() error {
	return v.store.Close()
}

// WithTx runs fn against a transaction-bound vault. Every store access made
// through the argument commits or rolls back as one unit.
func (v *Vault) WithTx(ctx context.Context, fn func(*Vault) error) error {
	return v.store.WithTx(ctx, func(tx *Store) error {
		return fn(&Vault{store: tx, gw: v.gw, m: v.m})
	})
}

// WithWorkingKey exposes the gateway's working key to fn for subkey
// derivation. The key is wiped when fn returns.
func (v *Vault) WithWorkingKey(fn func(key []byte) error) error {
	return v.gw.WithWorkingKey(fn)
}

// FirstEligibleJobDate returns the earliest date any eligible job wants to
// run, or nil when nothing is scheduled.
func (v *Vault) FirstEligibleJobDate(ctx context.Context) (*time.Time, error) {
	return v.store.FirstEligibleJobDate(ctx)
}

// --- profile ---

// SaveProfile encrypts and stores the user profile, replacing the previous
// one. The original creation date is preserved across re-saves.
func (v *Vault) SaveProfile(ctx context.Context, p removal.Profile, now time.Time) error {
	names := make([]nameRecord, 0, len(p.Names))
	for _, n := range p.Names {
		rec, err := v.m.nameRecord(1, n)
		if err != nil {
			return err
		}
		names = append(names, rec)
	}
	addrs := make([]addressRecord, 0, len(p.Addresses))
	for _, a := range p.Addresses {
		rec, err := v.m.addressRecord(1, a)
		if err != nil {
			return err
		}
		addrs = append(addrs, rec)
	}
	phones := make([]phoneRecord, 0, len(p.Phones))
	for _, ph := range p.Phones {
		rec, err := v.m.phoneRecord(1, ph)
		if err != nil {
			return err
		}
		phones = append(phones, rec)
	}
	rec := profileRecord{
		ID:          1,
		BirthYear:   int64(p.BirthYear),
		CreatedDate: now.Unix(),
		UpdatedDate: now.Unix(),
	}
	return v.store.ReplaceProfile(ctx, rec, names, addrs, phones)
}

// HasProfile reports whether a profile has been saved.
func (v *Vault) HasProfile(ctx context.Context) (bool, error) {
	return v.store.HasProfile(ctx)
}

// FetchProfile loads and decrypts the stored profile.
func (v *Vault) FetchProfile(ctx context.Context) (removal.Profile, error) {
	rec, nameRecs, addrRecs, phoneRecs, err := v.store.FetchProfile(ctx)
	if err != nil {
		return removal.Profile{}, err
	}
	p := removal.Profile{BirthYear: int(rec.BirthYear)}
	for _, nr := range nameRecs {
		n, err := v.m.name(nr)
		if err != nil {
			return removal.Profile{}, err
		}
		p.Names = append(p.Names, n)
	}
	for _, ar := range addrRecs {
		a, err := v.m.address(ar)
		if err != nil {
			return removal.Profile{}, err
		}
		p.Addresses = append(p.Addresses, a)
	}
	for _, pr := range phoneRecs {
		ph, err := v.m.phone(pr)
		if err != nil {
			return removal.Profile{}, err
		}
		p.Phones = append(p.Phones, ph)
	}
	return p, nil
}

// DeleteProfileData removes every stored record atomically.
func (v *Vault) DeleteProfileData(ctx context.Context) error {
	return v.store.DeleteProfileData(ctx)
}

// --- brokers ---

// SaveBroker stores a broker definition and returns its generated ID.
func (v *Vault) SaveBroker(ctx context.Context, b removal.DataBroker) (int64, error) {
	rec, err := v.m.brokerRecord(b)
	if err != nil {
		return 0, err
	}
	return v.store.InsertBroker(ctx, rec)
}

// UpdateBroker replaces the stored definition for b.ID.
func (v *Vault) UpdateBroker(ctx context.Context, b removal.DataBroker) error {
	rec, err := v.m.brokerRecord(b)
	if err != nil {
		return err
	}
	return v.store.UpdateBroker(ctx, rec)
}

// Broker loads a broker by ID.
func (v *Vault) Broker(ctx context.Context, id int64) (removal.DataBroker, error) {
	rec, err := v.store.FetchBroker(ctx, id)
	if err != nil {
		return removal.DataBroker{}, err
	}
	return v.m.broker(rec)
}

// BrokerByName loads a broker by its unique name.
func (v *Vault) BrokerByName(ctx context.Context, name string) (removal.DataBroker, error) {
	rec, err := v.store.FetchBrokerByName(ctx, name)
	if err != nil {
		return removal.DataBroker{}, err
	}
	return v.m.broker(rec)
}

// AllBrokers returns every stored broker.
func (v *Vault) AllBrokers(ctx context.Context) ([]removal.DataBroker, error) {
	recs, err := v.store.FetchAllBrokers(ctx)
	if err != nil {
		return nil, err
	}
	return v.mapBrokers(recs)
}

// ChildBrokers returns the brokers whose parent is the named broker.
func (v *Vault) ChildBrokers(ctx context.Context, parent string) ([]removal.DataBroker, error) {
	recs, err := v.store.FetchChildBrokers(ctx, parent)
	if err != nil {
		return nil, err
	}
	return v.mapBrokers(recs)
}

func (v *Vault) mapBrokers(recs []brokerRecord) ([]removal.DataBroker, error) {
	out := make([]removal.DataBroker, 0, len(recs))
	for _, rec := range recs {
		b, err := v.m.broker(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// BrokerCount returns the number of stored brokers.
func (v *Vault) BrokerCount(ctx context.Context) (int64, error) {
	return v.store.CountBrokers(ctx)
}

// --- profile queries ---

// SaveProfileQuery encrypts and stores a search query, returning its ID.
func (v *Vault) SaveProfileQuery(ctx context.Context, q removal.ProfileQuery) (int64, error) {
	rec, err := v.m.profileQueryRecord(q)
	if err != nil {
		return 0, err
	}
	return v.store.InsertProfileQuery(ctx, rec)
}

// UpdateProfileQuery rewrites a stored query, including its deprecated flag.
func (v *Vault) UpdateProfileQuery(ctx context.Context, q removal.ProfileQuery) error {
	rec, err := v.m.profileQueryRecord(q)
	if err != nil {
		return err
	}
	return v.store.UpdateProfileQuery(ctx, rec)
}

// SetProfileQueryDeprecated flips only the deprecated flag.
func (v *Vault) SetProfileQueryDeprecated(ctx context.Context, id int64, deprecated bool) error {
	return v.store.SetProfileQueryDeprecated(ctx, id, deprecated)
}

// DeleteProfileQuery removes a query and, via cascade, its scans, matches
// and their dependents.
func (v *Vault) DeleteProfileQuery(ctx context.Context, id int64) error {
	return v.store.DeleteProfileQuery(ctx, id)
}

// ProfileQuery loads and decrypts one query.
func (v *Vault) ProfileQuery(ctx context.Context, id int64) (removal.ProfileQuery, error) {
	rec, err := v.store.FetchProfileQuery(ctx, id)
	if err != nil {
		return removal.ProfileQuery{}, err
	}
	return v.m.profileQuery(rec)
}

// AllProfileQueries returns every stored query, deprecated included.
func (v *Vault) AllProfileQueries(ctx context.Context) ([]removal.ProfileQuery, error) {
	recs, err := v.store.FetchAllProfileQueries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]removal.ProfileQuery, 0, len(recs))
	for _, rec := range recs {
		q, err := v.m.profileQuery(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// TouchProfileUpdated bumps the profile's updated date.
func (v *Vault) TouchProfileUpdated(ctx context.Context, now time.Time) error {
	return v.store.touchProfileUpdated(ctx, now)
}

// --- scans ---

// SaveScanJob provisions a scan job for a broker/query pair.
func (v *Vault) SaveScanJob(ctx context.Context, job removal.ScanJob) error {
	return v.store.InsertScan(ctx, scanJobRecord(job))
}

// ScanJob loads the scan job for a broker/query pair, history included.
func (v *Vault) ScanJob(ctx context.Context, brokerID, profileQueryID int64) (removal.ScanJob, error) {
	rec, err := v.store.FetchScan(ctx, brokerID, profileQueryID)
	if err != nil {
		return removal.ScanJob{}, err
	}
	eventRecs, err := v.store.FetchScanEvents(ctx, brokerID, profileQueryID)
	if err != nil {
		return removal.ScanJob{}, err
	}
	return scanJob(rec, mapScanEvents(eventRecs)), nil
}

// AllScanJobs returns every scan job with its history.
func (v *Vault) AllScanJobs(ctx context.Context) ([]removal.ScanJob, error) {
	recs, err := v.store.FetchAllScans(ctx)
	if err != nil {
		return nil, err
	}
	eventRecs, err := v.store.FetchAllScanEvents(ctx)
	if err != nil {
		return nil, err
	}
	type pair struct{ broker, query int64 }
	byJob := make(map[pair][]removal.HistoryEvent)
	for _, er := range eventRecs {
		k := pair{er.BrokerID, er.ProfileQueryID}
		byJob[k] = append(byJob[k], scanEvent(er))
	}
	out := make([]removal.ScanJob, 0, len(recs))
	for _, rec := range recs {
		out = append(out, scanJob(rec, byJob[pair{rec.BrokerID, rec.ProfileQueryID}]))
	}
	return out, nil
}

func mapScanEvents(recs []scanEventRecord) []removal.HistoryEvent {
	out := make([]removal.HistoryEvent, 0, len(recs))
	for _, rec := range recs {
		out = append(out, scanEvent(rec))
	}
	return out
}

// UpdateScanPreferredRunDate reschedules a scan job.
func (v *Vault) UpdateScanPreferredRunDate(ctx context.Context, brokerID, profileQueryID int64, date *time.Time) error {
	return v.store.UpdateScanPreferredRunDate(ctx, brokerID, profileQueryID, date)
}

// UpdateScanLastRunDate records when a scan last executed.
func (v *Vault) UpdateScanLastRunDate(ctx context.Context, brokerID, profileQueryID int64, date *time.Time) error {
	return v.store.UpdateScanLastRunDate(ctx, brokerID, profileQueryID, date)
}

// --- extracted profiles ---

// SaveExtractedProfile encrypts and stores a matched record, returning its
// generated ID.
func (v *Vault) SaveExtractedProfile(ctx context.Context, ep removal.ExtractedProfile) (int64, error) {
	rec, err := v.m.extractedProfileRecord(ep)
	if err != nil {
		return 0, err
	}
	return v.store.InsertExtractedProfile(ctx, rec)
}

// ExtractedProfile loads and decrypts one matched record.
func (v *Vault) ExtractedProfile(ctx context.Context, id int64) (removal.ExtractedProfile, error) {
	rec, err := v.store.FetchExtractedProfile(ctx, id)
	if err != nil {
		return removal.ExtractedProfile{}, err
	}
	return v.m.extractedProfile(rec)
}

// ExtractedProfiles returns the matched records for one broker/query pair.
func (v *Vault) ExtractedProfiles(ctx context.Context, brokerID, profileQueryID int64) ([]removal.ExtractedProfile, error) {
	recs, err := v.store.FetchExtractedProfilesByPair(ctx, brokerID, profileQueryID)
	if err != nil {
		return nil, err
	}
	return v.mapExtractedProfiles(recs)
}

// AllExtractedProfiles returns every matched record.
func (v *Vault) AllExtractedProfiles(ctx context.Context) ([]removal.ExtractedProfile, error) {
	recs, err := v.store.FetchAllExtractedProfiles(ctx)
	if err != nil {
		return nil, err
	}
	return v.mapExtractedProfiles(recs)
}

func (v *Vault) mapExtractedProfiles(recs []extractedProfileRecord) ([]removal.ExtractedProfile, error) {
	out := make([]removal.ExtractedProfile, 0, len(recs))
	for _, rec := range recs {
		ep, err := v.m.extractedProfile(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

// HasMatchesForQuery reports whether any extracted profile exists for the
// query, on any broker.
func (v *Vault) HasMatchesForQuery(ctx context.Context, profileQueryID int64) (bool, error) {
	return v.store.HasMatchesForQuery(ctx, profileQueryID)
}

// MarkExtractedProfileRemoved sets (or clears, with nil) the date the record
// disappeared from the broker site.
func (v *Vault) MarkExtractedProfileRemoved(ctx context.Context, id int64, date *time.Time) error {
	return v.store.UpdateExtractedProfileRemovedDate(ctx, id, date)
}

// --- opt-outs ---

// SaveOptOutJob provisions an opt-out job for a matched record.
func (v *Vault) SaveOptOutJob(ctx context.Context, job removal.OptOutJob) error {
	return v.store.InsertOptOut(ctx, optOutJobRecord(job))
}

// OptOutJob loads one opt-out job with its history.
func (v *Vault) OptOutJob(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64) (removal.OptOutJob, error) {
	rec, err := v.store.FetchOptOut(ctx, brokerID, profileQueryID, extractedProfileID)
	if err != nil {
		return removal.OptOutJob{}, err
	}
	eventRecs, err := v.store.FetchOptOutEvents(ctx, brokerID, profileQueryID, extractedProfileID)
	if err != nil {
		return removal.OptOutJob{}, err
	}
	return optOutJob(rec, mapOptOutEvents(eventRecs)), nil
}

// OptOutJobs returns the opt-out jobs for one broker/query pair, each with
// its history.
func (v *Vault) OptOutJobs(ctx context.Context, brokerID, profileQueryID int64) ([]removal.OptOutJob, error) {
	recs, err := v.store.FetchOptOutsByPair(ctx, brokerID, profileQueryID)
	if err != nil {
		return nil, err
	}
	out := make([]removal.OptOutJob, 0, len(recs))
	for _, rec := range recs {
		eventRecs, err := v.store.FetchOptOutEvents(ctx, rec.BrokerID, rec.ProfileQueryID, rec.ExtractedProfileID)
		if err != nil {
			return nil, err
		}
		out = append(out, optOutJob(rec, mapOptOutEvents(eventRecs)))
	}
	return out, nil
}

// AllOptOutJobs returns every opt-out job with its history.
func (v *Vault) AllOptOutJobs(ctx context.Context) ([]removal.OptOutJob, error) {
	recs, err := v.store.FetchAllOptOuts(ctx)
	if err != nil {
		return nil, err
	}
	eventRecs, err := v.store.FetchAllOptOutEvents(ctx)
	if err != nil {
		return nil, err
	}
	byProfile := make(map[int64][]removal.HistoryEvent)
	for _, er := range eventRecs {
		byProfile[er.ExtractedProfileID] = append(byProfile[er.ExtractedProfileID], optOutEvent(er))
	}
	out := make([]removal.OptOutJob, 0, len(recs))
	for _, rec := range recs {
		out = append(out, optOutJob(rec, byProfile[rec.ExtractedProfileID]))
	}
	return out, nil
}

func mapOptOutEvents(recs []optOutEventRecord) []removal.HistoryEvent {
	out := make([]removal.HistoryEvent, 0, len(recs))
	for _, rec := range recs {
		out = append(out, optOutEvent(rec))
	}
	return out
}

// UpdateOptOutPreferredRunDate reschedules an opt-out job.
func (v *Vault) UpdateOptOutPreferredRunDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64, date *time.Time) error {
	return v.store.UpdateOptOutPreferredRunDate(ctx, brokerID, profileQueryID, extractedProfileID, date)
}

// UpdateOptOutLastRunDate records when an opt-out job last executed.
func (v *Vault) UpdateOptOutLastRunDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64, date *time.Time) error {
	return v.store.UpdateOptOutLastRunDate(ctx, brokerID, profileQueryID, extractedProfileID, date)
}

// UpdateOptOutSubmittedDate records a successful removal submission.
func (v *Vault) UpdateOptOutSubmittedDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64, date *time.Time) error {
	return v.store.UpdateOptOutSubmittedDate(ctx, brokerID, profileQueryID, extractedProfileID, date)
}

// IncrementOptOutAttemptCount bumps the attempt counter by one.
func (v *Vault) IncrementOptOutAttemptCount(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64) error {
	return v.store.IncrementOptOutAttemptCount(ctx, brokerID, profileQueryID, extractedProfileID)
}

// SetOptOutPixelFired marks the confirmation pixel for a 7-, 14- or 21-day
// window as fired.
func (v *Vault) SetOptOutPixelFired(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64, days int) error {
	return v.store.SetOptOutPixelFired(ctx, brokerID, profileQueryID, extractedProfileID, days)
}

// --- history events ---

// AddHistoryEvent appends an event to the owning job's history. Events
// carrying an extracted profile ID belong to the opt-out history; the rest
// belong to the scan history.
func (v *Vault) AddHistoryEvent(ctx context.Context, e removal.HistoryEvent) error {
	if e.ExtractedProfileID != nil {
		return v.store.InsertOptOutEvent(ctx, optOutEventRecord{
			BrokerID:           e.BrokerID,
			ProfileQueryID:     e.ProfileQueryID,
			ExtractedProfileID: *e.ExtractedProfileID,
			EventType:          string(e.Type),
			Timestamp:          e.Timestamp.Unix(),
		})
	}
	return v.store.InsertScanEvent(ctx, scanEventRecord{
		BrokerID:       e.BrokerID,
		ProfileQueryID: e.ProfileQueryID,
		EventType:      string(e.Type),
		MatchesFound:   int64(e.MatchesFound),
		Timestamp:      e.Timestamp.Unix(),
	})
}

// ScanEvents returns the scan history for one broker/query pair.
func (v *Vault) ScanEvents(ctx context.Context, brokerID, profileQueryID int64) ([]removal.HistoryEvent, error) {
	recs, err := v.store.FetchScanEvents(ctx, brokerID, profileQueryID)
	if err != nil {
		return nil, err
	}
	return mapScanEvents(recs), nil
}

// OptOutEvents returns the opt-out history for one matched record.
func (v *Vault) OptOutEvents(ctx context.Context, brokerID, profileQueryID, extractedProfileID int64) ([]removal.HistoryEvent, error) {
	recs, err := v.store.FetchOptOutEvents(ctx, brokerID, profileQueryID, extractedProfileID)
	if err != nil {
		return nil, err
	}
	return mapOptOutEvents(recs), nil
}

// --- attempts ---

// SaveAttempt records the active submission attempt for an extracted
// profile, replacing any previous one.
func (v *Vault) SaveAttempt(ctx context.Context, a removal.AttemptInformation) error {
	return v.store.SaveAttempt(ctx, attemptRecord{
		ExtractedProfileID: a.ExtractedProfileID,
		AttemptID:          a.AttemptID,
		DateStarted:        a.DateStarted.Unix(),
		LastStageDate:      nullUnix(a.LastStageDate),
	})
}

// Attempt loads the active attempt for an extracted profile.
func (v *Vault) Attempt(ctx context.Context, extractedProfileID int64) (removal.AttemptInformation, error) {
	rec, err := v.store.FetchAttempt(ctx, extractedProfileID)
	if err != nil {
		return removal.AttemptInformation{}, err
	}
	return attemptInformation(rec), nil
}

// UpdateAttemptLastStageDate records progress on the active attempt.
func (v *Vault) UpdateAttemptLastStageDate(ctx context.Context, extractedProfileID int64, date *time.Time) error {
	return v.store.UpdateAttemptLastStageDate(ctx, extractedProfileID, date)
}

// --- email confirmations ---

// SaveEmailConfirmation encrypts and stores (or replaces) an
// email-confirmation job.
func (v *Vault) SaveEmailConfirmation(ctx context.Context, j removal.EmailConfirmationJob) error {
	rec, err := v.m.emailConfirmationRecord(j)
	if err != nil {
		return err
	}
	return v.store.SaveEmailConfirmation(ctx, rec)
}

// EmailConfirmation loads and decrypts one email-confirmation job.
func (v *Vault) EmailConfirmation(ctx context.Context, profileQueryID, brokerID, extractedProfileID int64) (removal.EmailConfirmationJob, error) {
	rec, err := v.store.FetchEmailConfirmation(ctx, profileQueryID, brokerID, extractedProfileID)
	if err != nil {
		return removal.EmailConfirmationJob{}, err
	}
	return v.m.emailConfirmation(rec)
}

// AllEmailConfirmations returns every email-confirmation job.
func (v *Vault) AllEmailConfirmations(ctx context.Context) ([]removal.EmailConfirmationJob, error) {
	recs, err := v.store.FetchAllEmailConfirmations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]removal.EmailConfirmationJob, 0, len(recs))
	for _, rec := range recs {
		j, err := v.m.emailConfirmation(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// UpdateEmailConfirmationLink encrypts and stores the confirmation link once
// received.
func (v *Vault) UpdateEmailConfirmationLink(ctx context.Context, profileQueryID, brokerID, extractedProfileID int64, link string, obtained *time.Time) error {
	blob, err := v.m.encryptString(link)
	if err != nil {
		return err
	}
	return v.store.UpdateEmailConfirmationLink(ctx, profileQueryID, brokerID, extractedProfileID, blob, obtained)
}

// IncrementEmailConfirmationAttempt bumps the retry counter by one.
func (v *Vault) IncrementEmailConfirmationAttempt(ctx context.Context, profileQueryID, brokerID, extractedProfileID int64) error {
	return v.store.IncrementEmailConfirmationAttempt(ctx, profileQueryID, brokerID, extractedProfileID)
}

// --- background task events ---

// LogBackgroundTaskEvent appends an entry to the background task log.
func (v *Vault) LogBackgroundTaskEvent(ctx context.Context, eventType, detail string, at time.Time) error {
	return v.store.InsertBackgroundTaskEvent(ctx, backgroundTaskEventRecord{
		EventType: eventType,
		Detail:    detail,
		Timestamp: at.Unix(),
	})
}

// BackgroundTaskEventsSince returns log entries at or after the cutoff.
func (v *Vault) BackgroundTaskEventsSince(ctx context.Context, since time.Time) ([]removal.BackgroundTaskEvent, error) {
	recs, err := v.store.FetchBackgroundTaskEventsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	out := make([]removal.BackgroundTaskEvent, 0, len(recs))
	for _, rec := range recs {
		out = append(out, backgroundTaskEvent(rec))
	}
	return out, nil
}

// PruneBackgroundTaskEvents deletes log entries older than the cutoff and
// reports how many were removed.
func (v *Vault) PruneBackgroundTaskEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	return v.store.PruneBackgroundTaskEventsBefore(ctx, cutoff)
}
