// Package removal defines the domain entities of the data-broker-removal
// store: the user profile, broker descriptions, profile queries, and the
// scan / opt-out job records tracked per broker and query.
package removal

import "time"

// Name is one name variant of the user.
type Name struct {
	First  string `json:"first"`
	Middle string `json:"middle,omitempty"`
	Last   string `json:"last"`
	Suffix string `json:"suffix,omitempty"`
}

// Address is one address variant of the user.
type Address struct {
	Street string `json:"street,omitempty"`
	City   string `json:"city"`
	State  string `json:"state"`
	ZIP    string `json:"zip,omitempty"`
}

// Phone is one phone number of the user.
type Phone struct {
	Number string `json:"number"`
}

// Profile is the user's personal data submitted for removal. Exactly one
// profile is supported at a time; its child collections are replaced
// wholesale on update.
type Profile struct {
	Names     []Name
	Addresses []Address
	Phones    []Phone
	BirthYear int
}

// Queries derives the concrete profile queries for this profile: one per
// name and address combination.
func (p Profile) Queries() []ProfileQuery {
	queries := make([]ProfileQuery, 0, len(p.Names)*len(p.Addresses))
	for _, n := range p.Names {
		for _, a := range p.Addresses {
			queries = append(queries, ProfileQuery{
				FirstName:  n.First,
				MiddleName: n.Middle,
				LastName:   n.Last,
				City:       a.City,
				State:      a.State,
				BirthYear:  p.BirthYear,
			})
		}
	}
	return queries
}

// ProfileQuery is one name+address search variant of the profile. Deprecated
// queries are no longer part of the user's submission but are retained while
// they still have broker-side matches.
type ProfileQuery struct {
	ID         int64
	ProfileID  int64
	FirstName  string
	MiddleName string
	LastName   string
	City       string
	State      string
	BirthYear  int
	Deprecated bool
}

// OptOutType classifies how a broker's removal flow operates.
type OptOutType string

const (
	// OptOutTypeForm is a broker handling its own opt-out submissions.
	OptOutTypeForm OptOutType = "formOptOut"

	// OptOutTypeParentSite delegates removal to the parent broker's flow.
	// Opt-outs against such brokers are never scheduled directly.
	OptOutTypeParentSite OptOutType = "parentSiteOptOut"
)

// Step is one entry of a broker's structured steps definition.
type Step struct {
	Type      string     `json:"stepType"`
	OptOutType OptOutType `json:"optOutType,omitempty"`
}

// DataBroker describes a target site that may list personal data. Parent is
// a logical grouping by broker name; it is not enforced referentially.
type DataBroker struct {
	ID      int64
	Name    string
	URL     string
	Version string
	Parent  string
	Steps   []Step
}

// OptOutType derives the broker's opt-out classification from its steps
// definition. Brokers without an explicit opt-out step fall back to the form
// flow.
func (b DataBroker) OptOutType() OptOutType {
	for _, s := range b.Steps {
		if s.Type == "optOut" && s.OptOutType != "" {
			return s.OptOutType
		}
	}
	return OptOutTypeForm
}

// PerformsParentSiteOptOut reports whether removal is delegated to the
// broker's parent site.
func (b DataBroker) PerformsParentSiteOptOut() bool {
	return b.OptOutType() == OptOutTypeParentSite
}

// EventType identifies a history event.
type EventType string

const (
	EventScanStarted        EventType = "scanStarted"
	EventNoMatchFound       EventType = "noMatchFound"
	EventMatchesFound       EventType = "matchesFound"
	EventError              EventType = "error"
	EventOptOutStarted      EventType = "optOutStarted"
	EventOptOutRequested    EventType = "optOutRequested"
	EventOptOutConfirmed    EventType = "optOutConfirmed"
	EventMatchRemovedByUser EventType = "matchRemovedByUser"
)

// HistoryEvent is an append-only audit record tied to a broker and profile
// query, and optionally to one extracted profile.
type HistoryEvent struct {
	BrokerID           int64
	ProfileQueryID     int64
	ExtractedProfileID *int64
	Type               EventType
	MatchesFound       int
	Timestamp          time.Time
}

// ScanJob is the recurring check of one broker for one profile query. A nil
// PreferredRunDate means the scan is not scheduled.
type ScanJob struct {
	BrokerID         int64
	ProfileQueryID   int64
	LastRunDate      *time.Time
	PreferredRunDate *time.Time
	Events           []HistoryEvent
}

// ExtractedProfileContent is the user's data as it appears on a broker's
// site. It is persisted only in encrypted form.
type ExtractedProfileContent struct {
	Name             string   `json:"name"`
	AlternativeNames []string `json:"alternativeNames,omitempty"`
	Age              string   `json:"age,omitempty"`
	Addresses        []string `json:"addresses,omitempty"`
	PhoneNumbers     []string `json:"phoneNumbers,omitempty"`
	Relatives        []string `json:"relatives,omitempty"`
	ProfileURL       string   `json:"profileUrl,omitempty"`
}

// ExtractedProfile is a match found by a scan. RemovedDate stays nil until
// removal is confirmed by a submission pipeline or by explicit user action.
type ExtractedProfile struct {
	ID             int64
	BrokerID       int64
	ProfileQueryID int64
	Content        ExtractedProfileContent
	CreatedDate    time.Time
	RemovedDate    *time.Time
}

// OptOutJob is the removal request process for one extracted profile. The
// three pixel flags record which confirmation checkpoints have already been
// reported, to avoid duplicate telemetry.
type OptOutJob struct {
	BrokerID                  int64
	ProfileQueryID            int64
	ExtractedProfileID        int64
	CreatedDate               time.Time
	LastRunDate               *time.Time
	PreferredRunDate          *time.Time
	AttemptCount              int64
	SubmittedSuccessfullyDate *time.Time
	SevenDayPixelFired        bool
	FourteenDayPixelFired     bool
	TwentyOneDayPixelFired    bool
	Events                    []HistoryEvent
}

// AttemptInformation records the most recent opt-out attempt pipeline run
// for an extracted profile. Exactly one active attempt is kept per extracted
// profile; saving a new attempt replaces the previous one. This is a known
// simplification of the intended one-to-many relation.
type AttemptInformation struct {
	ExtractedProfileID int64
	AttemptID          string
	DateStarted        time.Time
	LastStageDate      *time.Time
}

// EmailConfirmationJob tracks an email-based opt-out confirmation flow for
// one extracted profile on one broker.
type EmailConfirmationJob struct {
	ProfileQueryID       int64
	BrokerID             int64
	ExtractedProfileID   int64
	GeneratedEmail       string
	AttemptID            string
	Link                 string
	LinkObtainedDate     *time.Time
	AttemptCount         int64
}

// BackgroundTaskEvent is one entry of the rolling background-scheduling
// diagnostic log.
type BackgroundTaskEvent struct {
	ID        int64
	Type      string
	Detail    string
	Timestamp time.Time
}
