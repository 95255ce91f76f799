/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Audit log: a process-wide sink accessed through an explicit handle
 * (never an ambient singleton), per spec section 9 "Global state".
 */

package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single audit log entry.
type Event struct {
	ID     string
	Time   time.Time
	Kind   string
	PeerID string
	Detail string
}

// Sink is an interface for receivers of finished audit events. No type in
// this package implements it; Log forwards events through its onEvent
// callback instead.
type Sink interface {
	Record(Event)
}

// Log is a minimal in-memory ring buffer of audit events, used directly
// as the audit handle threaded through the transport/server layers. Its
// Record takes the event fields rather than an Event, so *Log does not
// satisfy Sink.
type Log struct {
	mu      sync.Mutex
	cap     int
	events  []Event
	onEvent func(Event)
}

// NewLog creates a Log retaining at most capacity events, optionally
// also invoking onEvent (e.g. to forward into the structured logger)
// for every recorded event.
func NewLog(capacity int, onEvent func(Event)) *Log {
	return &Log{cap: capacity, onEvent: onEvent}
}

// Record appends an event, stamping it with a fresh id and timestamp.
func (l *Log) Record(kind, peerID, detail string) {
	ev := Event{
		ID:     uuid.NewString(),
		Time:   time.Now(),
		Kind:   kind,
		PeerID: peerID,
		Detail: detail,
	}

	l.mu.Lock()
	l.events = append(l.events, ev)
	if len(l.events) > l.cap {
		l.events = l.events[len(l.events)-l.cap:]
	}
	l.mu.Unlock()

	if l.onEvent != nil {
		l.onEvent(ev)
	}
}

// Recent returns a snapshot of the retained events, oldest first.
func (l *Log) Recent() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// AuthFailure records an inbound connection rejected by the allowlist.
func (l *Log) AuthFailure(peerID, reason string) {
	l.Record("auth_failure", peerID, reason)
}
