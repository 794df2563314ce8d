package vault

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/delistd/delistctl/pkg/telemetry"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: db, q: db, writeMu: &sync.Mutex{}, sink: telemetry.Discard}, mock
}

func TestDeleteProfileDataRollsBackMidway(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM optout_history_events").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM optouts").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := store.DeleteProfileData(context.Background())
	if !errors.Is(err, ErrDatabase) {
		t.Fatalf("expected ErrDatabase, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTxCommitFailureSurfaces(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO brokers").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	err := store.WithTx(context.Background(), func(tx *Store) error {
		_, err := tx.InsertBroker(context.Background(), brokerRecord{Name: "broker.com"})
		return err
	})
	if !errors.Is(err, ErrDatabase) {
		t.Fatalf("expected ErrDatabase on commit failure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestReplaceProfileRollsBackOnChildFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO profiles").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM profile_names").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM profile_addresses").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM profile_phones").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO profile_names").WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err := store.ReplaceProfile(context.Background(),
		profileRecord{ID: 1, BirthYear: 1980, CreatedDate: 1, UpdatedDate: 1},
		[]nameRecord{{ProfileID: 1}}, nil, nil)
	if !errors.Is(err, ErrDatabase) {
		t.Fatalf("expected ErrDatabase, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
