package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// WithTx runs fn against a transaction-bound copy of the store. The write
// mutex is held for the duration, so every statement inside fn observes and
// produces a single atomic change. Nested calls reuse the open transaction.
func (s *Store) WithTx(ctx context.Context, fn func(*Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", ErrDatabase, err)
	}
	defer tx.Rollback()

	txStore := &Store{db: s.db, q: tx, writeMu: s.writeMu, inTx: true, sink: s.sink}
	if err := fn(txStore); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %w", ErrDatabase, err)
	}
	return nil
}

// exec runs a mutating statement, serializing against other writers when not
// already inside a transaction.
func (s *Store) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	if !s.inTx {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDatabase, op, err)
	}
	return res, nil
}

// execOne is exec for statements that must change an existing row; zero rows
// affected means the target does not exist.
func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.exec(ctx, op, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDatabase, op, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, op)
	}
	return nil
}

func scanErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrElementNotFound, op)
	}
	return fmt.Errorf("%w: %s: %w", ErrDatabase, op, err)
}

// --- profile ---

// ReplaceProfile writes the singleton profile row and replaces its child
// name, address and phone rows in one transaction.
func (s *Store) ReplaceProfile(ctx context.Context, rec profileRecord, names []nameRecord, addrs []addressRecord, phones []phoneRecord) error {
	return s.WithTx(ctx, func(tx *Store) error {
		_, err := tx.q.ExecContext(ctx, `
			INSERT INTO profiles (id, birth_year, created_date, updated_date)
			VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				birth_year = excluded.birth_year,
				updated_date = excluded.updated_date`,
			rec.BirthYear, rec.CreatedDate, rec.UpdatedDate)
		if err != nil {
			return fmt.Errorf("%w: save profile: %w", ErrDatabase, err)
		}

		for _, table := range []string{"profile_names", "profile_addresses", "profile_phones"} {
			if _, err := tx.q.ExecContext(ctx, "DELETE FROM "+table+" WHERE profile_id = 1"); err != nil {
				return fmt.Errorf("%w: clear %s: %w", ErrDatabase, table, err)
			}
		}
		for _, n := range names {
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO profile_names (profile_id, first, middle, last, suffix)
				VALUES (1, ?, ?, ?, ?)`,
				n.First, n.Middle, n.Last, n.Suffix)
			if err != nil {
				return fmt.Errorf("%w: save profile name: %w", ErrDatabase, err)
			}
		}
		for _, a := range addrs {
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO profile_addresses (profile_id, street, city, state, zip)
				VALUES (1, ?, ?, ?, ?)`,
				a.Street, a.City, a.State, a.ZIP)
			if err != nil {
				return fmt.Errorf("%w: save profile address: %w", ErrDatabase, err)
			}
		}
		for _, p := range phones {
			_, err := tx.q.ExecContext(ctx,
				"INSERT INTO profile_phones (profile_id, number) VALUES (1, ?)", p.Number)
			if err != nil {
				return fmt.Errorf("%w: save profile phone: %w", ErrDatabase, err)
			}
		}
		return nil
	})
}

// HasProfile reports whether a profile has been saved.
func (s *Store) HasProfile(ctx context.Context) (bool, error) {
	var count int64
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiles").Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: check profile: %w", ErrDatabase, err)
	}
	return count > 0, nil
}

// FetchProfile loads the singleton profile row with its children.
func (s *Store) FetchProfile(ctx context.Context) (profileRecord, []nameRecord, []addressRecord, []phoneRecord, error) {
	var rec profileRecord
	err := s.q.QueryRowContext(ctx,
		"SELECT id, birth_year, created_date, updated_date FROM profiles WHERE id = 1").
		Scan(&rec.ID, &rec.BirthYear, &rec.CreatedDate, &rec.UpdatedDate)
	if err != nil {
		return profileRecord{}, nil, nil, nil, scanErr("fetch profile", err)
	}

	names, err := s.fetchNames(ctx)
	if err != nil {
		return profileRecord{}, nil, nil, nil, err
	}
	addrs, err := s.fetchAddresses(ctx)
	if err != nil {
		return profileRecord{}, nil, nil, nil, err
	}
	phones, err := s.fetchPhones(ctx)
	if err != nil {
		return profileRecord{}, nil, nil, nil, err
	}
	return rec, names, addrs, phones, nil
}

func (s *Store) fetchNames(ctx context.Context) ([]nameRecord, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT profile_id, first, middle, last, suffix FROM profile_names ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("%w: fetch profile names: %w", ErrDatabase, err)
	}
	defer rows.Close()

	var out []nameRecord
	for rows.Next() {
		var n nameRecord
		if err := rows.Scan(&n.ProfileID, &n.First, &n.Middle, &n.Last, &n.Suffix); err != nil {
			return nil, fmt.Errorf("%w: scan profile name: %w", ErrDatabase, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch profile names: %w", ErrDatabase, err)
	}
	return out, nil
}

func (s *Store) fetchAddresses(ctx context.Context) ([]addressRecord, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT profile_id, street, city, state, zip FROM profile_addresses ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("%w: fetch profile addresses: %w", ErrDatabase, err)
	}
	defer rows.Close()

	var out []addressRecord
	for rows.Next() {
		var a addressRecord
		if err := rows.Scan(&a.ProfileID, &a.Street, &a.City, &a.State, &a.ZIP); err != nil {
			return nil, fmt.Errorf("%w: scan profile address: %w", ErrDatabase, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch profile addresses: %w", ErrDatabase, err)
	}
	return out, nil
}

func (s *Store) fetchPhones(ctx context.Context) ([]phoneRecord, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT profile_id, number FROM profile_phones ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("%w: fetch profile phones: %w", ErrDatabase, err)
	}
	defer rows.Close()

	var out []phoneRecord
	for rows.Next() {
		var p phoneRecord
		if err := rows.Scan(&p.ProfileID, &p.Number); err != nil {
			return nil, fmt.Errorf("%w: scan profile phone: %w", ErrDatabase, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch profile phones: %w", ErrDatabase, err)
	}
	return out, nil
}

// DeleteProfileData removes every stored record in dependency order inside
// one transaction. Either everything is gone afterwards or nothing is.
func (s *Store) DeleteProfileData(ctx context.Context) error {
	tables := []string{
		"optout_history_events",
		"optouts",
		"scan_history_events",
		"scans",
		"optout_attempts",
		"email_confirmations",
		"extracted_profiles",
		"profile_queries",
		"profile_names",
		"profile_addresses",
		"profile_phones",
		"brokers",
		"profiles",
	}
	return s.WithTx(ctx, func(tx *Store) error {
		for _, table := range tables {
			if _, err := tx.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("%w: delete %s: %w", ErrDatabase, table, err)
			}
		}
		return nil
	})
}

// --- brokers ---

const brokerColumns = "id, name, url, version, parent, optout_type, steps_json"

func scanBroker(row interface{ Scan(...any) error }) (brokerRecord, error) {
	var b brokerRecord
	err := row.Scan(&b.ID, &b.Name, &b.URL, &b.Version, &b.Parent, &b.OptOutType, &b.StepsJSON)
	return b, err
}

// InsertBroker stores a broker definition and returns its generated ID.
func (s *Store) InsertBroker(ctx context.Context, rec brokerRecord) (int64, error) {
	res, err := s.exec(ctx, "insert broker", `
		INSERT INTO brokers (name, url, version, parent, optout_type, steps_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.URL, rec.Version, rec.Parent, rec.OptOutType, rec.StepsJSON)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: insert broker: %w", ErrDatabase, err)
	}
	return id, nil
}

// UpdateBroker replaces the stored definition for rec.ID.
func (s *Store) UpdateBroker(ctx context.Context, rec brokerRecord) error {
	return s.execOne(ctx, "update broker", `
		UPDATE brokers SET name = ?, url = ?, version = ?, parent = ?, optout_type = ?, steps_json = ?
		WHERE id = ?`,
		rec.Name, rec.URL, rec.Version, rec.Parent, rec.OptOutType, rec.StepsJSON, rec.ID)
}

// FetchBroker loads a broker by ID.
func (s *Store) FetchBroker(ctx context.Context, id int64) (brokerRecord, error) {
	b, err := scanBroker(s.q.QueryRowContext(ctx,
		"SELECT "+brokerColumns+" FROM brokers WHERE id = ?", id))
	if err != nil {
		return brokerRecord{}, scanErr("fetch broker", err)
	}
	return b, nil
}

// FetchBrokerByName loads a broker by its unique name.
func (s *Store) FetchBrokerByName(ctx context.Context, name string) (brokerRecord, error) {
	b, err := scanBroker(s.q.QueryRowContext(ctx,
		"SELECT "+brokerColumns+" FROM brokers WHERE name = ?", name))
	if err != nil {
		return brokerRecord{}, scanErr("fetch broker by name", err)
	}
	return b, nil
}

// FetchAllBrokers returns every stored broker ordered by ID.
func (s *Store) FetchAllBrokers(ctx context.Context) ([]brokerRecord, error) {
	return s.queryBrokers(ctx,
		"SELECT "+brokerColumns+" FROM brokers ORDER BY id")
}

// FetchChildBrokers returns the brokers whose parent is the named broker.
func (s *Store) FetchChildBrokers(ctx context.Context, parent string) ([]brokerRecord, error) {
	return s.queryBrokers(ctx,
		"SELECT "+brokerColumns+" FROM brokers WHERE parent = ? ORDER BY id", parent)
}

func (s *Store) queryBrokers(ctx context.Context, query string, args ...any) ([]brokerRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch brokers: %w", ErrDatabase, err)
	}
	defer rows.Close()

	var out []brokerRecord
	for rows.Next() {
		b, err := scanBroker(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan broker: %w", ErrDatabase, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch brokers: %w", ErrDatabase, err)
	}
	return out, nil
}

// CountBrokers returns the number of stored brokers.
func (s *Store) CountBrokers(ctx context.Context) (int64, error) {
	var count int64
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM brokers").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count brokers: %w", ErrDatabase, err)
	}
	return count, nil
}

// --- profile queries ---

const profileQueryColumns = "id, profile_id, first, middle, last, city, state, birth_year, deprecated"

func scanProfileQuery(row interface{ Scan(...any) error }) (profileQueryRecord, error) {
	var q profileQueryRecord
	err := row.Scan(&q.ID, &q.ProfileID, &q.First, &q.Middle, &q.Last,
		&q.City, &q.State, &q.BirthYear, &q.Deprecated)
	return q, err
}

// InsertProfileQuery stores a search query and returns its generated ID.
func (s *Store) InsertProfileQuery(ctx context.Context, rec profileQueryRecord) (int64, error) {
	res, err := s.exec(ctx, "insert profile query", `
		INSERT INTO profile_queries (profile_id, first, middle, last, city, state, birth_year, deprecated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ProfileID, rec.First, rec.Middle, rec.Last, rec.City, rec.State,
		rec.BirthYear, rec.Deprecated)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: insert profile query: %w", ErrDatabase, err)
	}
	return id, nil
}

// UpdateProfileQuery rewrites a stored query, including its deprecated flag.
func (s *Store) UpdateProfileQuery(ctx context.Context, rec profileQueryRecord) error {
	return s.execOne(ctx, "update profile query", `
		UPDATE profile_queries
		SET first = ?, middle = ?, last = ?, city = ?, state = ?, birth_year = ?, deprecated = ?
		WHERE id = ?`,
		rec.First, rec.Middle, rec.Last, rec.City, rec.State, rec.BirthYear,
		rec.Deprecated, rec.ID)
}

// SetProfileQueryDeprecated flips only the deprecated flag.
func (s *Store) SetProfileQueryDeprecated(ctx context.Context, id int64, deprecated bool) error {
	return s.execOne(ctx, "set profile query deprecated",
		"UPDATE profile_queries SET deprecated = ? WHERE id = ?", deprecated, id)
}

// DeleteProfileQuery removes a query; scans, extracted profiles and their
// dependents follow via cascading foreign keys.
func (s *Store) DeleteProfileQuery(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete profile query",
		"DELETE FROM profile_queries WHERE id = ?", id)
}

// FetchProfileQuery loads a single query by ID.
func (s *Store) FetchProfileQuery(ctx context.Context, id int64) (profileQueryRecord, error) {
	q, err := scanProfileQuery(s.q.QueryRowContext(ctx,
		"SELECT "+profileQueryColumns+" FROM profile_queries WHERE id = ?", id))
	if err != nil {
		return profileQueryRecord{}, scanErr("fetch profile query", err)
	}
	return q, nil
}

// FetchAllProfileQueries returns every stored query, deprecated included.
func (s *Store) FetchAllProfileQueries(ctx context.Context) ([]profileQueryRecord, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+profileQueryColumns+" FROM profile_queries ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("%w: fetch profile queries: %w", ErrDatabase, err)
	}
	defer rows.Close()

	var out []profileQueryRecord
	for rows.Next() {
		q, err := scanProfileQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan profile query: %w", ErrDatabase, err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch profile queries: %w", ErrDatabase, err)
	}
	return out, nil
}

// touchProfileUpdated bumps the profile's updated_date.
func (s *Store) touchProfileUpdated(ctx context.Context, now time.Time) error {
	_, err := s.exec(ctx, "touch profile",
		"UPDATE profiles SET updated_date = ? WHERE id = 1", now.Unix())
	return err
}
