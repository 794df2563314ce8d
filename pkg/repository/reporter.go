package repository

import (
	"errors"

	"github.com/delistd/delistctl/pkg/telemetry"
	"github.com/delistd/delistctl/pkg/vault"
)

// classify maps a storage failure onto its telemetry event type. Anything
// that is neither a crypto nor a storage-engine failure (not-found lookups,
// catalog failures, bad arguments) is miscellaneous.
func classify(err error) telemetry.EventType {
	switch {
	case errors.Is(err, vault.ErrCrypto),
		errors.Is(err, vault.ErrAuthRequired),
		errors.Is(err, vault.ErrNoEncryptionKey):
		return telemetry.CryptoError
	case errors.Is(err, vault.ErrDatabase):
		return telemetry.DatabaseError
	default:
		return telemetry.MiscError
	}
}

// report records one classified event for a failed operation and returns the
// error unchanged. Failures are never swallowed here.
func (r *Repository) report(op string, err error) error {
	if err == nil {
		return nil
	}
	r.sink.Record(telemetry.Event{
		Type:      classify(err),
		Operation: op,
		Detail:    err.Error(),
		Timestamp: r.now(),
	})
	return err
}
