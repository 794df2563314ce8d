// Package catalog loads bundled data-broker definitions from JSON files.
// Definitions ship with the application and seed the vault's broker table on
// first profile save; later releases update brokers in place by version.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/delistd/delistctl/pkg/removal"
)

// Source provides the bundled broker definitions. It is consulted only when
// the broker table is empty at first profile save, and may be slow; callers
// pass a context.
type Source interface {
	// BundledBrokers loads every available broker definition. Malformed
	// files are skipped and reported in the result, never fatal.
	BundledBrokers(ctx context.Context) (*LoadResult, error)
}

// LoadResult contains the outcome of loading a broker catalog.
type LoadResult struct {
	// Brokers are the successfully parsed definitions, ordered by name.
	Brokers []removal.DataBroker

	// Skipped are files that could not be parsed, with reasons.
	Skipped []SkippedFile
}

// SkippedFile is one catalog file that failed to load.
type SkippedFile struct {
	Name   string
	Reason string
}

// brokerFile is the on-disk JSON shape of one broker definition.
type brokerFile struct {
	Name    string         `json:"name"`
	URL     string         `json:"url"`
	Version string         `json:"version"`
	Parent  string         `json:"parent,omitempty"`
	Steps   []removal.Step `json:"steps"`
}

// Dir reads one broker definition per .json file from a directory tree.
type Dir struct {
	fsys fs.FS
}

// NewDir creates a catalog source over fsys.
func NewDir(fsys fs.FS) *Dir {
	return &Dir{fsys: fsys}
}

// BundledBrokers walks the tree and parses every .json file. A file that
// fails to parse or validate is recorded as skipped; only filesystem errors
// and context cancellation abort the load.
func (s *Dir) BundledBrokers(ctx context.Context) (*LoadResult, error) {
	result := &LoadResult{}

	err := fs.WalkDir(s.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".json" {
			return nil
		}

		data, err := fs.ReadFile(s.fsys, p)
		if err != nil {
			return fmt.Errorf("catalog: failed to read %s: %w", p, err)
		}

		broker, reason := parseBroker(data)
		if reason != "" {
			result.Skipped = append(result.Skipped, SkippedFile{Name: p, Reason: reason})
			return nil
		}
		result.Brokers = append(result.Brokers, broker)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result.Brokers, func(i, j int) bool {
		return result.Brokers[i].Name < result.Brokers[j].Name
	})
	return result, nil
}

// parseBroker decodes and validates one definition. A non-empty reason means
// the file must be skipped.
func parseBroker(data []byte) (removal.DataBroker, string) {
	var f brokerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return removal.DataBroker{}, fmt.Sprintf("invalid JSON: %v", err)
	}
	if f.Name == "" {
		return removal.DataBroker{}, "missing broker name"
	}
	if f.Version == "" {
		return removal.DataBroker{}, "missing broker version"
	}
	return removal.DataBroker{
		Name:    f.Name,
		URL:     f.URL,
		Version: f.Version,
		Parent:  f.Parent,
		Steps:   f.Steps,
	}, ""
}
