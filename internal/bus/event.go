package bus

import "time"

// Event is a domain event. Kind is a dot-separated name owned by the
// publishing package (e.g. "status.changed", "sync.message_failed");
// Payload is the event-specific snapshot.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
