// Package telemetry defines the event sink the storage core reports
// classified failures to, plus a tamper-evident file sink for local
// deployments.
package telemetry

import "time"

// EventType classifies a telemetry event.
type EventType string

const (
	// DatabaseError is a storage-engine failure (I/O, constraint, corruption).
	DatabaseError EventType = "databaseError"

	// CryptoError is a key-derivation or encrypt/decrypt failure.
	CryptoError EventType = "cryptoError"

	// MiscError is any other failure, e.g. a collaborator error while
	// fetching bundled brokers.
	MiscError EventType = "miscError"

	// DatabaseRecreated signals the physical store had to be rebuilt from
	// scratch after irrecoverable corruption.
	DatabaseRecreated EventType = "databaseRecreated"
)

// Event is one classified telemetry record. Operation names the originating
// storage operation as free text.
type Event struct {
	Type      EventType `json:"type"`
	Operation string    `json:"op"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Sink accepts classified events. Implementations must not block the calling
// operation on slow transports; Record errors are the sink's own concern.
type Sink interface {
	Record(Event)
}

// Discard is a Sink that drops every event. Useful in tests.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(Event) {}

// Collector is a Sink that retains events in memory, for assertions in tests
// and for the CLI status command.
type Collector struct {
	Events []Event
}

// Record appends the event.
func (c *Collector) Record(e Event) {
	c.Events = append(c.Events, e)
}

// ByType returns the recorded events of one type.
func (c *Collector) ByType(t EventType) []Event {
	var out []Event
	for _, e := range c.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
