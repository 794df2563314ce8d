package vault

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/delistd/delistctl/pkg/removal"
)

// mapper converts between domain entities and storage rows, applying the
// crypto gateway to sensitive fields in both directions. Mapping is pure
// apart from the gateway calls; any encrypt/decrypt failure aborts the whole
// conversion so partial output is never returned.
type mapper struct {
	gw *Gateway
}

func (m mapper) encryptString(s string) ([]byte, error) {
	return m.gw.Encrypt([]byte(s))
}

func (m mapper) decryptString(blob []byte) (string, error) {
	plain, err := m.gw.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// --- profile children ---

func (m mapper) nameRecord(profileID int64, n removal.Name) (nameRecord, error) {
	var rec nameRecord
	var err error
	rec.ProfileID = profileID
	if rec.First, err = m.encryptString(n.First); err != nil {
		return nameRecord{}, err
	}
	if rec.Middle, err = m.encryptString(n.Middle); err != nil {
		return nameRecord{}, err
	}
	if rec.Last, err = m.encryptString(n.Last); err != nil {
		return nameRecord{}, err
	}
	if rec.Suffix, err = m.encryptString(n.Suffix); err != nil {
		return nameRecord{}, err
	}
	return rec, nil
}

func (m mapper) name(rec nameRecord) (removal.Name, error) {
	var n removal.Name
	var err error
	if n.First, err = m.decryptString(rec.First); err != nil {
		return removal.Name{}, err
	}
	if n.Middle, err = m.decryptString(rec.Middle); err != nil {
		return removal.Name{}, err
	}
	if n.Last, err = m.decryptString(rec.Last); err != nil {
		return removal.Name{}, err
	}
	if n.Suffix, err = m.decryptString(rec.Suffix); err != nil {
		return removal.Name{}, err
	}
	return n, nil
}

func (m mapper) addressRecord(profileID int64, a removal.Address) (addressRecord, error) {
	var rec addressRecord
	var err error
	rec.ProfileID = profileID
	if rec.Street, err = m.encryptString(a.Street); err != nil {
		return addressRecord{}, err
	}
	if rec.City, err = m.encryptString(a.City); err != nil {
		return addressRecord{}, err
	}
	if rec.State, err = m.encryptString(a.State); err != nil {
		return addressRecord{}, err
	}
	if rec.ZIP, err = m.encryptString(a.ZIP); err != nil {
		return addressRecord{}, err
	}
	return rec, nil
}

func (m mapper) address(rec addressRecord) (removal.Address, error) {
	var a removal.Address
	var err error
	if a.Street, err = m.decryptString(rec.Street); err != nil {
		return removal.Address{}, err
	}
	if a.City, err = m.decryptString(rec.City); err != nil {
		return removal.Address{}, err
	}
	if a.State, err = m.decryptString(rec.State); err != nil {
		return removal.Address{}, err
	}
	if a.ZIP, err = m.decryptString(rec.ZIP); err != nil {
		return removal.Address{}, err
	}
	return a, nil
}

func (m mapper) phoneRecord(profileID int64, p removal.Phone) (phoneRecord, error) {
	number, err := m.encryptString(p.Number)
	if err != nil {
		return phoneRecord{}, err
	}
	return phoneRecord{ProfileID: profileID, Number: number}, nil
}

func (m mapper) phone(rec phoneRecord) (removal.Phone, error) {
	number, err := m.decryptString(rec.Number)
	if err != nil {
		return removal.Phone{}, err
	}
	return removal.Phone{Number: number}, nil
}

// --- brokers (no sensitive fields) ---

func (m mapper) brokerRecord(b removal.DataBroker) (brokerRecord, error) {
	steps, err := json.Marshal(b.Steps)
	if err != nil {
		return brokerRecord{}, fmt.Errorf("vault: failed to marshal broker steps: %w", err)
	}
	return brokerRecord{
		ID:         b.ID,
		Name:       b.Name,
		URL:        b.URL,
		Version:    b.Version,
		Parent:     b.Parent,
		OptOutType: string(b.OptOutType()),
		StepsJSON:  string(steps),
	}, nil
}

func (m mapper) broker(rec brokerRecord) (removal.DataBroker, error) {
	b := removal.DataBroker{
		ID:      rec.ID,
		Name:    rec.Name,
		URL:     rec.URL,
		Version: rec.Version,
		Parent:  rec.Parent,
	}
	if rec.StepsJSON != "" {
		if err := json.Unmarshal([]byte(rec.StepsJSON), &b.Steps); err != nil {
			return removal.DataBroker{}, fmt.Errorf("vault: failed to unmarshal broker steps: %w", err)
		}
	}
	return b, nil
}

// --- profile queries ---

func (m mapper) profileQueryRecord(q removal.ProfileQuery) (profileQueryRecord, error) {
	var rec profileQueryRecord
	var err error
	rec.ID = q.ID
	rec.ProfileID = q.ProfileID
	rec.BirthYear = int64(q.BirthYear)
	rec.Deprecated = q.Deprecated
	if rec.First, err = m.encryptString(q.FirstName); err != nil {
		return profileQueryRecord{}, err
	}
	if rec.Middle, err = m.encryptString(q.MiddleName); err != nil {
		return profileQueryRecord{}, err
	}
	if rec.Last, err = m.encryptString(q.LastName); err != nil {
		return profileQueryRecord{}, err
	}
	if rec.City, err = m.encryptString(q.City); err != nil {
		return profileQueryRecord{}, err
	}
	if rec.State, err = m.encryptString(q.State); err != nil {
		return profileQueryRecord{}, err
	}
	return rec, nil
}

func (m mapper) profileQuery(rec profileQueryRecord) (removal.ProfileQuery, error) {
	q := removal.ProfileQuery{
		ID:         rec.ID,
		ProfileID:  rec.ProfileID,
		BirthYear:  int(rec.BirthYear),
		Deprecated: rec.Deprecated,
	}
	var err error
	if q.FirstName, err = m.decryptString(rec.First); err != nil {
		return removal.ProfileQuery{}, err
	}
	if q.MiddleName, err = m.decryptString(rec.Middle); err != nil {
		return removal.ProfileQuery{}, err
	}
	if q.LastName, err = m.decryptString(rec.Last); err != nil {
		return removal.ProfileQuery{}, err
	}
	if q.City, err = m.decryptString(rec.City); err != nil {
		return removal.ProfileQuery{}, err
	}
	if q.State, err = m.decryptString(rec.State); err != nil {
		return removal.ProfileQuery{}, err
	}
	return q, nil
}

// --- extracted profiles ---

func (m mapper) extractedProfileRecord(ep removal.ExtractedProfile) (extractedProfileRecord, error) {
	content, err := json.Marshal(ep.Content)
	if err != nil {
		return extractedProfileRecord{}, fmt.Errorf("vault: failed to marshal extracted profile: %w", err)
	}
	blob, err := m.gw.Encrypt(content)
	if err != nil {
		return extractedProfileRecord{}, err
	}
	return extractedProfileRecord{
		ID:             ep.ID,
		BrokerID:       ep.BrokerID,
		ProfileQueryID: ep.ProfileQueryID,
		Content:        blob,
		CreatedDate:    ep.CreatedDate.Unix(),
		RemovedDate:    nullUnix(ep.RemovedDate),
	}, nil
}

func (m mapper) extractedProfile(rec extractedProfileRecord) (removal.ExtractedProfile, error) {
	plain, err := m.gw.Decrypt(rec.Content)
	if err != nil {
		return removal.ExtractedProfile{}, err
	}
	ep := removal.ExtractedProfile{
		ID:             rec.ID,
		BrokerID:       rec.BrokerID,
		ProfileQueryID: rec.ProfileQueryID,
		CreatedDate:    time.Unix(rec.CreatedDate, 0).UTC(),
		RemovedDate:    unixPtr(rec.RemovedDate),
	}
	if err := json.Unmarshal(plain, &ep.Content); err != nil {
		return removal.ExtractedProfile{}, fmt.Errorf("vault: failed to unmarshal extracted profile: %w", err)
	}
	return ep, nil
}

// --- scans and opt-outs (dates, counts and flags only; no crypto) ---

func scanJobRecord(s removal.ScanJob) scanRecord {
	return scanRecord{
		BrokerID:         s.BrokerID,
		ProfileQueryID:   s.ProfileQueryID,
		LastRunDate:      nullUnix(s.LastRunDate),
		PreferredRunDate: nullUnix(s.PreferredRunDate),
	}
}

func scanJob(rec scanRecord, events []removal.HistoryEvent) removal.ScanJob {
	return removal.ScanJob{
		BrokerID:         rec.BrokerID,
		ProfileQueryID:   rec.ProfileQueryID,
		LastRunDate:      unixPtr(rec.LastRunDate),
		PreferredRunDate: unixPtr(rec.PreferredRunDate),
		Events:           events,
	}
}

func optOutJobRecord(o removal.OptOutJob) optOutRecord {
	return optOutRecord{
		BrokerID:               o.BrokerID,
		ProfileQueryID:         o.ProfileQueryID,
		ExtractedProfileID:     o.ExtractedProfileID,
		CreatedDate:            o.CreatedDate.Unix(),
		LastRunDate:            nullUnix(o.LastRunDate),
		PreferredRunDate:       nullUnix(o.PreferredRunDate),
		AttemptCount:           o.AttemptCount,
		SubmittedSuccessDate:   nullUnix(o.SubmittedSuccessfullyDate),
		SevenDayPixelFired:     o.SevenDayPixelFired,
		FourteenDayPixelFired:  o.FourteenDayPixelFired,
		TwentyOneDayPixelFired: o.TwentyOneDayPixelFired,
	}
}

func optOutJob(rec optOutRecord, events []removal.HistoryEvent) removal.OptOutJob {
	return removal.OptOutJob{
		BrokerID:                  rec.BrokerID,
		ProfileQueryID:            rec.ProfileQueryID,
		ExtractedProfileID:        rec.ExtractedProfileID,
		CreatedDate:               time.Unix(rec.CreatedDate, 0).UTC(),
		LastRunDate:               unixPtr(rec.LastRunDate),
		PreferredRunDate:          unixPtr(rec.PreferredRunDate),
		AttemptCount:              rec.AttemptCount,
		SubmittedSuccessfullyDate: unixPtr(rec.SubmittedSuccessDate),
		SevenDayPixelFired:        rec.SevenDayPixelFired,
		FourteenDayPixelFired:     rec.FourteenDayPixelFired,
		TwentyOneDayPixelFired:    rec.TwentyOneDayPixelFired,
		Events:                    events,
	}
}

func scanEvent(rec scanEventRecord) removal.HistoryEvent {
	return removal.HistoryEvent{
		BrokerID:       rec.BrokerID,
		ProfileQueryID: rec.ProfileQueryID,
		Type:           removal.EventType(rec.EventType),
		MatchesFound:   int(rec.MatchesFound),
		Timestamp:      time.Unix(rec.Timestamp, 0).UTC(),
	}
}

func optOutEvent(rec optOutEventRecord) removal.HistoryEvent {
	id := rec.ExtractedProfileID
	return removal.HistoryEvent{
		BrokerID:           rec.BrokerID,
		ProfileQueryID:     rec.ProfileQueryID,
		ExtractedProfileID: &id,
		Type:               removal.EventType(rec.EventType),
		Timestamp:          time.Unix(rec.Timestamp, 0).UTC(),
	}
}

func attemptInformation(rec attemptRecord) removal.AttemptInformation {
	return removal.AttemptInformation{
		ExtractedProfileID: rec.ExtractedProfileID,
		AttemptID:          rec.AttemptID,
		DateStarted:        time.Unix(rec.DateStarted, 0).UTC(),
		LastStageDate:      unixPtr(rec.LastStageDate),
	}
}

// --- email confirmations ---

func (m mapper) emailConfirmationRecord(j removal.EmailConfirmationJob) (emailConfirmationRecord, error) {
	email, err := m.encryptString(j.GeneratedEmail)
	if err != nil {
		return emailConfirmationRecord{}, err
	}
	rec := emailConfirmationRecord{
		ProfileQueryID:     j.ProfileQueryID,
		BrokerID:           j.BrokerID,
		ExtractedProfileID: j.ExtractedProfileID,
		GeneratedEmail:     email,
		AttemptID:          j.AttemptID,
		LinkObtainedDate:   nullUnix(j.LinkObtainedDate),
		AttemptCount:       j.AttemptCount,
	}
	if j.Link != "" {
		if rec.Link, err = m.encryptString(j.Link); err != nil {
			return emailConfirmationRecord{}, err
		}
	}
	return rec, nil
}

func (m mapper) emailConfirmation(rec emailConfirmationRecord) (removal.EmailConfirmationJob, error) {
	j := removal.EmailConfirmationJob{
		ProfileQueryID:     rec.ProfileQueryID,
		BrokerID:           rec.BrokerID,
		ExtractedProfileID: rec.ExtractedProfileID,
		AttemptID:          rec.AttemptID,
		LinkObtainedDate:   unixPtr(rec.LinkObtainedDate),
		AttemptCount:       rec.AttemptCount,
	}
	var err error
	if j.GeneratedEmail, err = m.decryptString(rec.GeneratedEmail); err != nil {
		return removal.EmailConfirmationJob{}, err
	}
	if len(rec.Link) > 0 {
		if j.Link, err = m.decryptString(rec.Link); err != nil {
			return removal.EmailConfirmationJob{}, err
		}
	}
	return j, nil
}

func backgroundTaskEvent(rec backgroundTaskEventRecord) removal.BackgroundTaskEvent {
	return removal.BackgroundTaskEvent{
		ID:        rec.ID,
		Type:      rec.EventType,
		Detail:    rec.Detail,
		Timestamp: time.Unix(rec.Timestamp, 0).UTC(),
	}
}
