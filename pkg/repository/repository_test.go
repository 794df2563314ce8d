package repository

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/delistd/delistctl/pkg/catalog"
	"github.com/delistd/delistctl/pkg/crypto"
	"github.com/delistd/delistctl/pkg/keystore"
	"github.com/delistd/delistctl/pkg/removal"
	"github.com/delistd/delistctl/pkg/telemetry"
	"github.com/delistd/delistctl/pkg/vault"
)

const brokerOne = `{
	"name": "broker-one.com", "url": "https://broker-one.com", "version": "1.0.0",
	"steps": [{"stepType": "scan"}, {"stepType": "optOut", "optOutType": "formOptOut"}]
}`

const brokerTwo = `{
	"name": "broker-two.com", "url": "https://broker-two.com", "version": "1.0.0",
	"steps": [{"stepType": "optOut", "optOutType": "formOptOut"}]
}`

func newTestRepo(t *testing.T, catalogFiles map[string]string) (*Repository, *vault.Vault, *telemetry.Collector) {
	t.Helper()
	ks := keystore.NewFileKeyStore(t.TempDir(), crypto.TestParams)
	if err := ks.Initialize(); err != nil {
		t.Fatalf("keystore init: %v", err)
	}
	salt, err := ks.Salt()
	if err != nil {
		t.Fatalf("keystore salt: %v", err)
	}
	v := vault.New(vault.OpenMemory(t), vault.NewGateway(ks, crypto.NewProvider(salt, crypto.TestParams)))

	fsys := fstest.MapFS{}
	for name, data := range catalogFiles {
		fsys[name] = &fstest.MapFile{Data: []byte(data)}
	}
	collector := &telemetry.Collector{}
	return New(v, catalog.NewDir(fsys), collector), v, collector
}

func janeDoe() removal.Profile {
	return removal.Profile{
		Names:     []removal.Name{{First: "Jane", Last: "Doe"}},
		Addresses: []removal.Address{{City: "Miami", State: "FL"}},
		BirthYear: 1980,
	}
}

func queryIDsByName(t *testing.T, v *vault.Vault) map[string]removal.ProfileQuery {
	t.Helper()
	queries, err := v.AllProfileQueries(context.Background())
	if err != nil {
		t.Fatalf("AllProfileQueries: %v", err)
	}
	out := make(map[string]removal.ProfileQuery, len(queries))
	for _, q := range queries {
		out[q.FirstName+" "+q.LastName] = q
	}
	return out
}

func TestFirstSaveProvisionsBrokersAndScans(t *testing.T) {
	r, v, _ := newTestRepo(t, map[string]string{"one.json": brokerOne, "two.json": brokerTwo})
	ctx := context.Background()

	// Two names x one address = two queries; two brokers.
	profile := removal.Profile{
		Names:     []removal.Name{{First: "Jane", Last: "Doe"}, {First: "Janet", Last: "Doe"}},
		Addresses: []removal.Address{{City: "Miami", State: "FL"}},
		BirthYear: 1980,
	}
	if err := r.SaveProfile(ctx, profile); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	brokers, err := v.AllBrokers(ctx)
	if err != nil {
		t.Fatalf("AllBrokers: %v", err)
	}
	if len(brokers) != 2 {
		t.Fatalf("brokers = %d, want 2 seeded from catalog", len(brokers))
	}

	scans, err := v.AllScanJobs(ctx)
	if err != nil {
		t.Fatalf("AllScanJobs: %v", err)
	}
	if len(scans) != 4 {
		t.Fatalf("scans = %d, want 2 brokers x 2 queries = 4", len(scans))
	}
	for _, s := range scans {
		if s.LastRunDate != nil {
			t.Errorf("scan (%d,%d): fresh scan must have nil last run date", s.BrokerID, s.ProfileQueryID)
		}
		if s.PreferredRunDate == nil {
			t.Errorf("scan (%d,%d): fresh scan must be scheduled", s.BrokerID, s.ProfileQueryID)
		}
	}
}

func TestFirstSaveSkipsCatalogWhenBrokersExist(t *testing.T) {
	r, v, _ := newTestRepo(t, map[string]string{"one.json": brokerOne})
	ctx := context.Background()

	preexisting := removal.DataBroker{Name: "manual.com", Version: "0.1.0"}
	if _, err := v.SaveBroker(ctx, preexisting); err != nil {
		t.Fatalf("SaveBroker: %v", err)
	}

	if err := r.SaveProfile(ctx, janeDoe()); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	brokers, err := v.AllBrokers(ctx)
	if err != nil {
		t.Fatalf("AllBrokers: %v", err)
	}
	if len(brokers) != 1 || brokers[0].Name != "manual.com" {
		t.Fatalf("catalog must not be consulted when brokers exist, got %+v", brokers)
	}
}

func TestResaveIdenticalProfileIsNoOp(t *testing.T) {
	r, v, _ := newTestRepo(t, map[string]string{"one.json": brokerOne})
	ctx := context.Background()

	if err := r.SaveProfile(ctx, janeDoe()); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	before := queryIDsByName(t, v)

	// Same content, resubmitted.
	if err := r.SaveProfile(ctx, janeDoe()); err != nil {
		t.Fatalf("SaveProfile (resave): %v", err)
	}
	after := queryIDsByName(t, v)

	if len(after) != len(before) {
		t.Fatalf("query count changed on identical resave: %d -> %d", len(before), len(after))
	}
	for name, q := range after {
		orig, ok := before[name]
		if !ok || orig.ID != q.ID {
			t.Errorf("query %q was recreated (id %d -> %d)", name, orig.ID, q.ID)
		}
		if q.Deprecated {
			t.Errorf("query %q deprecated by identical resave", name)
		}
	}
}

func TestUpdateDeletesQueryWithoutMatches(t *testing.T) {
	r, v, _ := newTestRepo(t, map[string]string{"one.json": brokerOne})
	ctx := context.Background()

	if err := r.SaveProfile(ctx, janeDoe()); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	updated := janeDoe()
	updated.Names = []removal.Name{{First: "Jonathan", Last: "Doe"}}
	if err := r.SaveProfile(ctx, updated); err != nil {
		t.Fatalf("SaveProfile (update): %v", err)
	}

	queries := queryIDsByName(t, v)
	if len(queries) != 1 {
		t.Fatalf("queries = %d, want only the new one", len(queries))
	}
	q, ok := queries["Jonathan Doe"]
	if !ok {
		t.Fatalf("Jonathan Doe query missing: %+v", queries)
	}
	if q.Deprecated {
		t.Error("new query must not be deprecated")
	}

	scans, err := v.AllScanJobs(ctx)
	if err != nil {
		t.Fatalf("AllScanJobs: %v", err)
	}
	if len(scans) != 1 || scans[0].ProfileQueryID != q.ID {
		t.Fatalf("expected exactly one scan for the new query, got %+v", scans)
	}
}

func TestUpdateDeprecatesQueryWithMatches(t *testing.T) {
	r, v, _ := newTestRepo(t, map[string]string{"one.json": brokerOne})
	ctx := context.Background()

	if err := r.SaveProfile(ctx, janeDoe()); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	jane := queryIDsByName(t, v)["Jane Doe"]
	brokers, err := v.AllBrokers(ctx)
	if err != nil {
		t.Fatalf("AllBrokers: %v", err)
	}
	if _, err := r.SaveExtractedProfile(ctx, removal.ExtractedProfile{
		BrokerID:       brokers[0].ID,
		ProfileQueryID: jane.ID,
		Content:        removal.ExtractedProfileContent{Name: "Jane Doe"},
	}); err != nil {
		t.Fatalf("SaveExtractedProfile: %v", err)
	}

	updated := janeDoe()
	updated.Names = []removal.Name{{First: "Jonathan", Last: "Doe"}}
	if err := r.SaveProfile(ctx, updated); err != nil {
		t.Fatalf("SaveProfile (update): %v", err)
	}

	queries := queryIDsByName(t, v)
	if len(queries) != 2 {
		t.Fatalf("queries = %d, want deprecated Jane + new Jonathan", len(queries))
	}
	if got := queries["Jane Doe"]; got.ID != jane.ID || !got.Deprecated {
		t.Errorf("Jane Doe should survive deprecated, got %+v", got)
	}
	if got := queries["Jonathan Doe"]; got.Deprecated {
		t.Errorf("Jonathan Doe must not be deprecated, got %+v", got)
	}
}

func TestUpdateRevivesDeprecatedQuery(t *testing.T) {
	r, v, _ := newTestRepo(t, map[string]string{"one.json": brokerOne})
	ctx := context.Background()

	if err := r.SaveProfile(ctx, janeDoe()); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	jane := queryIDsByName(t, v)["Jane Doe"]
	brokers, err := v.AllBrokers(ctx)
	if err != nil {
		t.Fatalf("AllBrokers: %v", err)
	}
	if _, err := r.SaveExtractedProfile(ctx, removal.ExtractedProfile{
		BrokerID:       brokers[0].ID,
		ProfileQueryID: jane.ID,
		Content:        removal.ExtractedProfileContent{Name: "Jane Doe"},
	}); err != nil {
		t.Fatalf("SaveExtractedProfile: %v", err)
	}

	// Drop Jane (deprecates her query), then submit her again.
	updated := janeDoe()
	updated.Names = []removal.Name{{First: "Jonathan", Last: "Doe"}}
	if err := r.SaveProfile(ctx, updated); err != nil {
		t.Fatalf("SaveProfile (drop): %v", err)
	}
	if err := r.SaveProfile(ctx, janeDoe()); err != nil {
		t.Fatalf("SaveProfile (revive): %v", err)
	}

	queries := queryIDsByName(t, v)
	got, ok := queries["Jane Doe"]
	if !ok {
		t.Fatalf("Jane Doe query missing after revival: %+v", queries)
	}
	if got.ID != jane.ID {
		t.Errorf("revival must reuse the surviving row, got id %d want %d", got.ID, jane.ID)
	}
	if got.Deprecated {
		t.Error("revived query must not stay deprecated")
	}

	// Her surviving scan is rescheduled.
	scan, err := v.ScanJob(ctx, brokers[0].ID, jane.ID)
	if err != nil {
		t.Fatalf("ScanJob: %v", err)
	}
	if scan.PreferredRunDate == nil {
		t.Error("revived query's scan must be rescheduled")
	}
}

func TestMatchRemovedByUser(t *testing.T) {
	r, v, _ := newTestRepo(t, map[string]string{"one.json": brokerOne})
	ctx := context.Background()

	if err := r.SaveProfile(ctx, janeDoe()); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	jane := queryIDsByName(t, v)["Jane Doe"]
	brokers, err := v.AllBrokers(ctx)
	if err != nil {
		t.Fatalf("AllBrokers: %v", err)
	}
	epID, err := r.SaveExtractedProfile(ctx, removal.ExtractedProfile{
		BrokerID:       brokers[0].ID,
		ProfileQueryID: jane.ID,
		Content:        removal.ExtractedProfileContent{Name: "Jane Doe"},
	})
	if err != nil {
		t.Fatalf("SaveExtractedProfile: %v", err)
	}

	if err := r.MatchRemovedByUser(ctx, epID); err != nil {
		t.Fatalf("MatchRemovedByUser: %v", err)
	}

	events, err := v.OptOutEvents(ctx, brokers[0].ID, jane.ID, epID)
	if err != nil {
		t.Fatalf("OptOutEvents: %v", err)
	}
	if len(events) != 1 || events[0].Type != removal.EventMatchRemovedByUser {
		t.Fatalf("expected one matchRemovedByUser event, got %+v", events)
	}

	// Dismissal is a separate signal from confirmed removal.
	ep, err := v.ExtractedProfile(ctx, epID)
	if err != nil {
		t.Fatalf("ExtractedProfile: %v", err)
	}
	if ep.RemovedDate != nil {
		t.Error("MatchRemovedByUser must not set the removed date")
	}

	if err := r.MatchRemovedByUser(ctx, epID+100); !errors.Is(err, vault.ErrElementNotFound) {
		t.Errorf("expected ErrElementNotFound for missing match, got %v", err)
	}
}

func TestAttemptCountSemantics(t *testing.T) {
	r, v, _ := newTestRepo(t, map[string]string{"one.json": brokerOne})
	ctx := context.Background()

	if err := r.SaveProfile(ctx, janeDoe()); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	jane := queryIDsByName(t, v)["Jane Doe"]
	brokers, err := v.AllBrokers(ctx)
	if err != nil {
		t.Fatalf("AllBrokers: %v", err)
	}
	brokerID := brokers[0].ID
	epID, err := r.SaveExtractedProfile(ctx, removal.ExtractedProfile{
		BrokerID:       brokerID,
		ProfileQueryID: jane.ID,
		Content:        removal.ExtractedProfileContent{Name: "Jane Doe"},
	})
	if err != nil {
		t.Fatalf("SaveExtractedProfile: %v", err)
	}

	if err := r.IncrementOptOutAttemptCount(ctx, brokerID, jane.ID, epID); err != nil {
		t.Fatalf("IncrementOptOutAttemptCount: %v", err)
	}
	job, err := v.OptOutJob(ctx, brokerID, jane.ID, epID)
	if err != nil {
		t.Fatalf("OptOutJob: %v", err)
	}
	if job.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", job.AttemptCount)
	}

	err = r.IncrementOptOutAttemptCount(ctx, brokerID, jane.ID, epID+100)
	if !errors.Is(err, vault.ErrElementNotFound) {
		t.Errorf("expected ErrElementNotFound for missing opt-out, got %v", err)
	}
}

func TestStartOptOutAttemptGeneratesUniqueIDs(t *testing.T) {
	r, v, _ := newTestRepo(t, map[string]string{"one.json": brokerOne})
	ctx := context.Background()

	if err := r.SaveProfile(ctx, janeDoe()); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	jane := queryIDsByName(t, v)["Jane Doe"]
	brokers, err := v.AllBrokers(ctx)
	if err != nil {
		t.Fatalf("AllBrokers: %v", err)
	}
	epID, err := r.SaveExtractedProfile(ctx, removal.ExtractedProfile{
		BrokerID:       brokers[0].ID,
		ProfileQueryID: jane.ID,
		Content:        removal.ExtractedProfileContent{Name: "Jane Doe"},
	})
	if err != nil {
		t.Fatalf("SaveExtractedProfile: %v", err)
	}

	first, err := r.StartOptOutAttempt(ctx, epID)
	if err != nil {
		t.Fatalf("StartOptOutAttempt: %v", err)
	}
	second, err := r.StartOptOutAttempt(ctx, epID)
	if err != nil {
		t.Fatalf("StartOptOutAttempt (second): %v", err)
	}
	if first == "" || first == second {
		t.Errorf("attempt IDs must be unique and non-empty: %q, %q", first, second)
	}

	active, err := r.Attempt(ctx, epID)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if active.AttemptID != second {
		t.Errorf("active attempt = %q, want latest %q", active.AttemptID, second)
	}
}

func TestBrokerProfileQueryDataRequiresProvisionedPair(t *testing.T) {
	r, v, _ := newTestRepo(t, map[string]string{"one.json": brokerOne})
	ctx := context.Background()

	if err := r.SaveProfile(ctx, janeDoe()); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	jane := queryIDsByName(t, v)["Jane Doe"]
	brokers, err := v.AllBrokers(ctx)
	if err != nil {
		t.Fatalf("AllBrokers: %v", err)
	}
	brokerID := brokers[0].ID

	data, err := r.BrokerProfileQueryData(ctx, brokerID, jane.ID)
	if err != nil {
		t.Fatalf("BrokerProfileQueryData: %v", err)
	}
	if data.Broker.ID != brokerID || data.ProfileQuery.ID != jane.ID {
		t.Fatalf("wrong aggregate: %+v", data)
	}
	if data.HasMatches() {
		t.Error("no matches expected yet")
	}

	// Unprovisioned pairing: broker exists, query exists, scan does not.
	extraBroker, err := v.SaveBroker(ctx, removal.DataBroker{Name: "late.com", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("SaveBroker: %v", err)
	}
	if _, err := r.BrokerProfileQueryData(ctx, extraBroker, jane.ID); !errors.Is(err, ErrDataNotInDatabase) {
		t.Errorf("expected ErrDataNotInDatabase for unprovisioned pair, got %v", err)
	}
	if _, err := r.BrokerProfileQueryData(ctx, brokerID+500, jane.ID); !errors.Is(err, ErrDataNotInDatabase) {
		t.Errorf("expected ErrDataNotInDatabase for missing broker, got %v", err)
	}
}

func TestAllBrokerProfileQueryDataSkipsUnprovisionedPairs(t *testing.T) {
	r, v, _ := newTestRepo(t, map[string]string{"one.json": brokerOne})
	ctx := context.Background()

	if err := r.SaveProfile(ctx, janeDoe()); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	// A broker added outside ImportBrokers has no scan rows.
	if _, err := v.SaveBroker(ctx, removal.DataBroker{Name: "late.com", Version: "1.0.0"}); err != nil {
		t.Fatalf("SaveBroker: %v", err)
	}

	all, err := r.AllBrokerProfileQueryData(ctx)
	if err != nil {
		t.Fatalf("AllBrokerProfileQueryData: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("aggregates = %d, want 1 (unprovisioned pair skipped)", len(all))
	}
	if all[0].Broker.Name != "broker-one.com" {
		t.Errorf("unexpected aggregate broker: %q", all[0].Broker.Name)
	}
}

func TestImportBrokersProvisionsNewBroker(t *testing.T) {
	r, v, _ := newTestRepo(t, map[string]string{"one.json": brokerOne})
	ctx := context.Background()

	if err := r.SaveProfile(ctx, janeDoe()); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	// A refreshed catalog carries a new broker and a version bump.
	fsys := fstest.MapFS{
		"one.json": &fstest.MapFile{Data: []byte(`{
			"name": "broker-one.com", "url": "https://broker-one.com", "version": "1.1.0",
			"steps": [{"stepType": "optOut", "optOutType": "formOptOut"}]
		}`)},
		"two.json": &fstest.MapFile{Data: []byte(brokerTwo)},
	}
	r.catalog = catalog.NewDir(fsys)

	result, err := r.ImportBrokers(ctx)
	if err != nil {
		t.Fatalf("ImportBrokers: %v", err)
	}
	if result.Inserted != 1 || result.Updated != 1 {
		t.Fatalf("inserted/updated = %d/%d, want 1/1", result.Inserted, result.Updated)
	}

	one, err := v.BrokerByName(ctx, "broker-one.com")
	if err != nil {
		t.Fatalf("BrokerByName: %v", err)
	}
	if one.Version != "1.1.0" {
		t.Errorf("version = %q, want 1.1.0", one.Version)
	}

	// The new broker gets one scan per live query.
	scans, err := v.AllScanJobs(ctx)
	if err != nil {
		t.Fatalf("AllScanJobs: %v", err)
	}
	if len(scans) != 2 {
		t.Fatalf("scans = %d, want 2 (one per broker)", len(scans))
	}

	// Re-import with identical versions is a no-op.
	again, err := r.ImportBrokers(ctx)
	if err != nil {
		t.Fatalf("ImportBrokers (again): %v", err)
	}
	if again.Inserted != 0 || again.Updated != 0 {
		t.Errorf("second import changed brokers: %+v", again)
	}
}

func TestSaveProfileRollsBackOnCatalogFailure(t *testing.T) {
	r, v, collector := newTestRepo(t, map[string]string{"one.json": brokerOne})
	r.catalog = failingCatalog{}
	ctx := context.Background()

	if err := r.SaveProfile(ctx, janeDoe()); err == nil {
		t.Fatal("expected catalog failure to propagate")
	}

	// The whole first save rolled back, profile row included.
	has, err := v.HasProfile(ctx)
	if err != nil {
		t.Fatalf("HasProfile: %v", err)
	}
	if has {
		t.Error("profile survived a failed first save")
	}

	misc := collector.ByType(telemetry.MiscError)
	if len(misc) != 1 || misc[0].Operation != "saveProfile" {
		t.Fatalf("expected one miscError for saveProfile, got %+v", collector.Events)
	}
}

type failingCatalog struct{}

func (failingCatalog) BundledBrokers(context.Context) (*catalog.LoadResult, error) {
	return nil, errors.New("catalog unavailable")
}

func TestTelemetryClassifiesDatabaseErrors(t *testing.T) {
	r, v, collector := newTestRepo(t, map[string]string{"one.json": brokerOne})
	ctx := context.Background()

	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.HasProfile(ctx); !errors.Is(err, vault.ErrDatabase) {
		t.Fatalf("expected ErrDatabase on closed store, got %v", err)
	}

	dbEvents := collector.ByType(telemetry.DatabaseError)
	if len(dbEvents) != 1 || dbEvents[0].Operation != "hasProfile" {
		t.Fatalf("expected one databaseError for hasProfile, got %+v", collector.Events)
	}
}
