package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/delistd/delistctl/pkg/telemetry"
)

func TestOpenCreatesSchemaAndPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), DBFileName)
	store, err := Open(path, telemetry.Discard)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != FileMode {
		t.Errorf("file mode = %o, want %o", info.Mode().Perm(), FileMode)
	}

	version, err := getSchemaVersion(store.db)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, CurrentSchemaVersion)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), DBFileName)

	for i := 0; i < 3; i++ {
		store, err := Open(path, telemetry.Discard)
		if err != nil {
			t.Fatalf("Open (round %d): %v", i, err)
		}
		version, err := getSchemaVersion(store.db)
		if err != nil {
			t.Fatalf("getSchemaVersion (round %d): %v", i, err)
		}
		if version != CurrentSchemaVersion {
			t.Errorf("schema version (round %d) = %d, want %d", i, version, CurrentSchemaVersion)
		}
		store.Close()
	}
}

func TestOpenRebuildsCorruptDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DBFileName)

	// A file that is not a SQLite database at all.
	if err := os.WriteFile(path, []byte("this is not a database"), 0600); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	collector := &telemetry.Collector{}
	store, err := Open(path, collector)
	if err != nil {
		t.Fatalf("Open should rebuild, got error: %v", err)
	}
	defer store.Close()

	recreated := collector.ByType(telemetry.DatabaseRecreated)
	if len(recreated) != 1 {
		t.Fatalf("DatabaseRecreated events = %d, want 1", len(recreated))
	}

	// The corrupt original is preserved next to the fresh file.
	entries, err := filepath.Glob(path + ".corrupt-*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("corrupt backups = %d, want 1", len(entries))
	}

	version, err := getSchemaVersion(store.db)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("rebuilt schema version = %d, want %d", version, CurrentSchemaVersion)
	}
}
