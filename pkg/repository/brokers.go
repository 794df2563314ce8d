package repository

import (
	"context"
	"errors"

	"github.com/delistd/delistctl/pkg/catalog"
	"github.com/delistd/delistctl/pkg/removal"
	"github.com/delistd/delistctl/pkg/vault"
)

// ImportResult summarizes a broker catalog refresh.
type ImportResult struct {
	Inserted int
	Updated  int
	Skipped  []catalog.SkippedFile
}

// AllBrokers returns every stored broker.
func (r *Repository) AllBrokers(ctx context.Context) ([]removal.DataBroker, error) {
	brokers, err := r.vault.AllBrokers(ctx)
	return brokers, r.report("fetchAllBrokers", err)
}

// ImportBrokers refreshes the broker table from the bundled catalog: unknown
// brokers are inserted and provisioned with one scan per existing query,
// known brokers are updated in place when the catalog carries a different
// version. Runs as one transaction.
func (r *Repository) ImportBrokers(ctx context.Context) (*ImportResult, error) {
	result := &ImportResult{}
	err := r.vault.WithTx(ctx, func(tx *vault.Vault) error {
		loaded, err := r.catalog.BundledBrokers(ctx)
		if err != nil {
			return err
		}
		result.Skipped = loaded.Skipped

		queries, err := tx.AllProfileQueries(ctx)
		if err != nil {
			return err
		}
		now := r.now()

		for _, b := range loaded.Brokers {
			existing, err := tx.BrokerByName(ctx, b.Name)
			if err == nil {
				if existing.Version == b.Version {
					continue
				}
				b.ID = existing.ID
				if err := tx.UpdateBroker(ctx, b); err != nil {
					return err
				}
				result.Updated++
				continue
			}
			if !isNotFound(err) {
				return err
			}

			id, err := tx.SaveBroker(ctx, b)
			if err != nil {
				return err
			}
			result.Inserted++
			for _, q := range queries {
				if q.Deprecated {
					continue
				}
				if err := tx.SaveScanJob(ctx, removal.ScanJob{
					BrokerID:         id,
					ProfileQueryID:   q.ID,
					PreferredRunDate: &now,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, r.report("importBrokers", err)
	}
	return result, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, vault.ErrElementNotFound)
}
