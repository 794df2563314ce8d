package vault

import (
	"context"
	"testing"
	"time"

	"github.com/delistd/delistctl/pkg/removal"
)

// eligibilityFixture provisions a broker, a query, one extracted profile and
// an opt-out job scheduled at optOutDate.
type eligibilityFixture struct {
	brokerID int64
	queryID  int64
	epID     int64
}

func newEligibilityFixture(t *testing.T, v *Vault, brokerName string, parentSite bool, optOutDate time.Time) eligibilityFixture {
	t.Helper()
	ctx := context.Background()

	b := testBroker(brokerName)
	if parentSite {
		b.Parent = "parent.com"
		b.Steps = []removal.Step{{Type: "optOut", OptOutType: removal.OptOutTypeParentSite}}
	}
	brokerID, err := v.SaveBroker(ctx, b)
	if err != nil {
		t.Fatalf("SaveBroker: %v", err)
	}
	queryID, err := v.SaveProfileQuery(ctx, testQuery("Jane", "Doe", "Springfield", "IL", 1980))
	if err != nil {
		t.Fatalf("SaveProfileQuery: %v", err)
	}
	epID, err := v.SaveExtractedProfile(ctx, removal.ExtractedProfile{
		BrokerID: brokerID, ProfileQueryID: queryID,
		Content: removal.ExtractedProfileContent{Name: "Jane Doe"}, CreatedDate: time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveExtractedProfile: %v", err)
	}
	if err := v.SaveOptOutJob(ctx, removal.OptOutJob{
		BrokerID: brokerID, ProfileQueryID: queryID, ExtractedProfileID: epID,
		CreatedDate: time.Now(), PreferredRunDate: &optOutDate,
	}); err != nil {
		t.Fatalf("SaveOptOutJob: %v", err)
	}
	return eligibilityFixture{brokerID: brokerID, queryID: queryID, epID: epID}
}

func TestFirstEligibleJobDateEmpty(t *testing.T) {
	v := newTestVault(t)
	d, err := v.FirstEligibleJobDate(context.Background())
	if err != nil {
		t.Fatalf("FirstEligibleJobDate: %v", err)
	}
	if d != nil {
		t.Errorf("expected nil for empty store, got %v", d)
	}
}

func TestFirstEligibleJobDatePicksEarliest(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	optOutDate := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	fix := newEligibilityFixture(t, v, "broker.com", false, optOutDate)

	scanDate := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	if err := v.SaveScanJob(ctx, removal.ScanJob{
		BrokerID: fix.brokerID, ProfileQueryID: fix.queryID, PreferredRunDate: &scanDate,
	}); err != nil {
		t.Fatalf("SaveScanJob: %v", err)
	}

	d, err := v.FirstEligibleJobDate(ctx)
	if err != nil {
		t.Fatalf("FirstEligibleJobDate: %v", err)
	}
	if d == nil || !d.Equal(scanDate) {
		t.Errorf("eligible date = %v, want %v", d, scanDate)
	}
}

func TestFirstEligibleJobDateIgnoresRemovedMatches(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	optOutDate := time.Now().Add(time.Hour).Truncate(time.Second)
	fix := newEligibilityFixture(t, v, "broker.com", false, optOutDate)

	removed := time.Now()
	if err := v.MarkExtractedProfileRemoved(ctx, fix.epID, &removed); err != nil {
		t.Fatalf("MarkExtractedProfileRemoved: %v", err)
	}

	d, err := v.FirstEligibleJobDate(ctx)
	if err != nil {
		t.Fatalf("FirstEligibleJobDate: %v", err)
	}
	if d != nil {
		t.Errorf("removed match must not be eligible, got %v", d)
	}
}

func TestFirstEligibleJobDateIgnoresParentSiteBrokers(t *testing.T) {
	v := newTestVault(t)

	optOutDate := time.Now().Add(time.Hour).Truncate(time.Second)
	newEligibilityFixture(t, v, "child.com", true, optOutDate)

	d, err := v.FirstEligibleJobDate(context.Background())
	if err != nil {
		t.Fatalf("FirstEligibleJobDate: %v", err)
	}
	if d != nil {
		t.Errorf("parent-site opt-out must not be eligible, got %v", d)
	}
}

func TestFirstEligibleJobDateIgnoresUserDismissedMatches(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	optOutDate := time.Now().Add(time.Hour).Truncate(time.Second)
	fix := newEligibilityFixture(t, v, "broker.com", false, optOutDate)

	if err := v.AddHistoryEvent(ctx, removal.HistoryEvent{
		BrokerID: fix.brokerID, ProfileQueryID: fix.queryID, ExtractedProfileID: &fix.epID,
		Type: removal.EventMatchRemovedByUser, Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("AddHistoryEvent: %v", err)
	}

	d, err := v.FirstEligibleJobDate(ctx)
	if err != nil {
		t.Fatalf("FirstEligibleJobDate: %v", err)
	}
	if d != nil {
		t.Errorf("user-dismissed match must not be eligible, got %v", d)
	}
}

func TestFirstEligibleJobDateUnscheduledJobs(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	brokerID, queryID := provisionPair(t, v, "broker.com")
	if err := v.SaveScanJob(ctx, removal.ScanJob{BrokerID: brokerID, ProfileQueryID: queryID}); err != nil {
		t.Fatalf("SaveScanJob: %v", err)
	}

	d, err := v.FirstEligibleJobDate(ctx)
	if err != nil {
		t.Fatalf("FirstEligibleJobDate: %v", err)
	}
	if d != nil {
		t.Errorf("unscheduled scan must not be eligible, got %v", d)
	}
}
