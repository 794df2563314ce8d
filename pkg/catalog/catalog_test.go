package catalog

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/delistd/delistctl/pkg/removal"
)

func TestBundledBrokers(t *testing.T) {
	fsys := fstest.MapFS{
		"beta.json": &fstest.MapFile{Data: []byte(`{
			"name": "beta.com", "url": "https://beta.com", "version": "1.0.0",
			"steps": [{"stepType": "scan"}, {"stepType": "optOut", "optOutType": "formOptOut"}]
		}`)},
		"alpha.json": &fstest.MapFile{Data: []byte(`{
			"name": "alpha.com", "url": "https://alpha.com", "version": "1.2.0",
			"parent": "beta.com",
			"steps": [{"stepType": "optOut", "optOutType": "parentSiteOptOut"}]
		}`)},
		"README.md": &fstest.MapFile{Data: []byte("not a broker")},
	}

	result, err := NewDir(fsys).BundledBrokers(context.Background())
	if err != nil {
		t.Fatalf("BundledBrokers: %v", err)
	}
	if len(result.Skipped) != 0 {
		t.Fatalf("unexpected skips: %+v", result.Skipped)
	}
	if len(result.Brokers) != 2 {
		t.Fatalf("brokers = %d, want 2", len(result.Brokers))
	}
	if result.Brokers[0].Name != "alpha.com" || result.Brokers[1].Name != "beta.com" {
		t.Errorf("brokers not sorted by name: %s, %s", result.Brokers[0].Name, result.Brokers[1].Name)
	}
	if result.Brokers[0].OptOutType() != removal.OptOutTypeParentSite {
		t.Errorf("alpha.com should classify as parent-site opt-out")
	}
	if result.Brokers[1].OptOutType() != removal.OptOutTypeForm {
		t.Errorf("beta.com should classify as form opt-out")
	}
}

func TestBundledBrokersSkipsMalformed(t *testing.T) {
	fsys := fstest.MapFS{
		"good.json":    &fstest.MapFile{Data: []byte(`{"name": "good.com", "version": "1.0.0", "steps": []}`)},
		"broken.json":  &fstest.MapFile{Data: []byte(`{not json`)},
		"unnamed.json": &fstest.MapFile{Data: []byte(`{"version": "1.0.0"}`)},
	}

	result, err := NewDir(fsys).BundledBrokers(context.Background())
	if err != nil {
		t.Fatalf("BundledBrokers: %v", err)
	}
	if len(result.Brokers) != 1 || result.Brokers[0].Name != "good.com" {
		t.Fatalf("brokers = %+v, want only good.com", result.Brokers)
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("skipped = %+v, want 2 entries", result.Skipped)
	}
	for _, s := range result.Skipped {
		if s.Reason == "" {
			t.Errorf("skip of %s has no reason", s.Name)
		}
	}
}

func TestBundledBrokersEmptyTree(t *testing.T) {
	result, err := NewDir(fstest.MapFS{}).BundledBrokers(context.Background())
	if err != nil {
		t.Fatalf("BundledBrokers: %v", err)
	}
	if len(result.Brokers) != 0 || len(result.Skipped) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}
