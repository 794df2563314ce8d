package vault

import (
	"database/sql"
	"time"
)

// Storage-row representations. Encrypted columns are []byte blobs with the
// GCM nonce prepended; dates are unix seconds with NULL meaning unset. The
// storage provider reads and writes these shapes only; encryption awareness
// lives in the mapper.

type profileRecord struct {
	ID          int64
	BirthYear   int64
	CreatedDate int64
	UpdatedDate int64
}

type nameRecord struct {
	ProfileID int64
	First     []byte
	Middle    []byte
	Last      []byte
	Suffix    []byte
}

type addressRecord struct {
	ProfileID int64
	Street    []byte
	City      []byte
	State     []byte
	ZIP       []byte
}

type phoneRecord struct {
	ProfileID int64
	Number    []byte
}

type brokerRecord struct {
	ID         int64
	Name       string
	URL        string
	Version    string
	Parent     string
	OptOutType string
	StepsJSON  string
}

type profileQueryRecord struct {
	ID         int64
	ProfileID  int64
	First      []byte
	Middle     []byte
	Last       []byte
	City       []byte
	State      []byte
	BirthYear  int64
	Deprecated bool
}

type scanRecord struct {
	BrokerID         int64
	ProfileQueryID   int64
	LastRunDate      sql.NullInt64
	PreferredRunDate sql.NullInt64
}

type scanEventRecord struct {
	ID             int64
	BrokerID       int64
	ProfileQueryID int64
	EventType      string
	MatchesFound   int64
	Timestamp      int64
}

type extractedProfileRecord struct {
	ID             int64
	BrokerID       int64
	ProfileQueryID int64
	Content        []byte
	CreatedDate    int64
	RemovedDate    sql.NullInt64
}

type optOutRecord struct {
	BrokerID               int64
	ProfileQueryID         int64
	ExtractedProfileID     int64
	CreatedDate            int64
	LastRunDate            sql.NullInt64
	PreferredRunDate       sql.NullInt64
	AttemptCount           int64
	SubmittedSuccessDate   sql.NullInt64
	SevenDayPixelFired     bool
	FourteenDayPixelFired  bool
	TwentyOneDayPixelFired bool
}

type optOutEventRecord struct {
	ID                 int64
	BrokerID           int64
	ProfileQueryID     int64
	ExtractedProfileID int64
	EventType          string
	Timestamp          int64
}

type attemptRecord struct {
	ExtractedProfileID int64
	AttemptID          string
	DateStarted        int64
	LastStageDate      sql.NullInt64
}

type emailConfirmationRecord struct {
	ProfileQueryID     int64
	BrokerID           int64
	ExtractedProfileID int64
	GeneratedEmail     []byte
	AttemptID          string
	Link               []byte
	LinkObtainedDate   sql.NullInt64
	AttemptCount       int64
}

type backgroundTaskEventRecord struct {
	ID        int64
	EventType string
	Detail    string
	Timestamp int64
}

// nullUnix converts an optional time to its storage form.
func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

// unixPtr converts a nullable storage date back to an optional time.
func unixPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}
