// Package presence turns per-tick face matches into entry and exit events.
//
// The Tracker is a pure state machine: it never performs I/O and never reads
// the clock. Callers pass the set of identities visible on a tick together
// with the tick's wall-clock time and receive the transitions that tick
// produced.
package presence

import (
	"fmt"
	"time"
)

// Identity is the stable key of a known subject (the roster image stem).
type Identity string

// Unknown labels a detection that matched no roster entry.
const Unknown Identity = "Unknown"

// State is the presence state of a single identity.
type State int

const (
	Absent State = iota
	Present
	PendingExit
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Present:
		return "present"
	case PendingExit:
		return "pending_exit"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets State render as its name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Record is the per-identity state held by the Tracker.
// EnteredAt is zero only when State is Absent; ExitDetectedAt is non-zero
// only when State is PendingExit.
type Record struct {
	State          State
	EnteredAt      time.Time
	ExitDetectedAt time.Time
}

// EventKind distinguishes the externally visible transitions.
type EventKind int

const (
	EntryEvent EventKind = iota + 1
	ExitConfirmedEvent
)

func (k EventKind) String() string {
	switch k {
	case EntryEvent:
		return "entry"
	case ExitConfirmedEvent:
		return "exit_confirmed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a transition emitted by Tracker.Observe.
type Event struct {
	Kind     EventKind
	Identity Identity
	At       time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%s, %s)", e.Kind, e.Identity, e.At.Format(time.RFC3339))
}
