package presence

import (
	"log/slog"
	"sort"
	"time"
)

// DefaultGracePeriod is how long an identity may go unseen before its
// departure is confirmed.
const DefaultGracePeriod = 120 * time.Second

// Tracker maintains presence state across ticks. It is not safe for
// concurrent use; one goroutine (the sampling loop) owns it.
type Tracker struct {
	grace   time.Duration
	records map[Identity]*Record
}

// NewTracker returns a Tracker that confirms exits once an identity has been
// missing for strictly longer than grace. A non-positive grace falls back to
// DefaultGracePeriod.
func NewTracker(grace time.Duration) *Tracker {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Tracker{
		grace:   grace,
		records: make(map[Identity]*Record),
	}
}

// GracePeriod returns the configured exit grace period.
func (t *Tracker) GracePeriod() time.Duration { return t.grace }

// Observe applies one tick. visible is the set of identities matched on this
// tick; duplicates and Unknown are ignored. Entry events come first in the
// order identities appear in visible, followed by confirmed exits ordered by
// identity.
func (t *Tracker) Observe(visible []Identity, now time.Time) []Event {
	var events []Event

	seen := make(map[Identity]struct{}, len(visible))
	for _, id := range visible {
		if id == Unknown || id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		rec, ok := t.records[id]
		switch {
		case !ok || rec.State == Absent:
			t.records[id] = &Record{State: Present, EnteredAt: now}
			events = append(events, Event{Kind: EntryEvent, Identity: id, At: now})
		case rec.State == PendingExit:
			slog.Debug("presence: return cancelled pending exit",
				"identity", id,
				"missing_for", now.Sub(rec.ExitDetectedAt),
			)
			rec.State = Present
			rec.ExitDetectedAt = time.Time{}
		}
	}

	missing := make([]Identity, 0, len(t.records))
	for id := range t.records {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })

	for _, id := range missing {
		rec := t.records[id]
		switch rec.State {
		case Present:
			rec.State = PendingExit
			rec.ExitDetectedAt = now
		case PendingExit:
			if now.Sub(rec.ExitDetectedAt) > t.grace {
				delete(t.records, id)
				events = append(events, Event{Kind: ExitConfirmedEvent, Identity: id, At: now})
			}
		}
	}

	return events
}

// Lookup returns the record for id, if the tracker holds one.
func (t *Tracker) Lookup(id Identity) (Record, bool) {
	rec, ok := t.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len is the number of identities currently Present or PendingExit.
func (t *Tracker) Len() int { return len(t.records) }

// IdentityRecord pairs a record with its identity for snapshots.
type IdentityRecord struct {
	Identity       Identity   `json:"identity"`
	State          State      `json:"state"`
	EnteredAt      time.Time  `json:"entered_at"`
	ExitDetectedAt *time.Time `json:"exit_detected_at,omitempty"`
}

// Records returns a copy of all held records sorted by identity.
func (t *Tracker) Records() []IdentityRecord {
	out := make([]IdentityRecord, 0, len(t.records))
	for id, rec := range t.records {
		ir := IdentityRecord{Identity: id, State: rec.State, EnteredAt: rec.EnteredAt}
		if rec.State == PendingExit {
			at := rec.ExitDetectedAt
			ir.ExitDetectedAt = &at
		}
		out = append(out, ir)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
