package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/rollcall/internal/presence"
)

// recorder captures every call in arrival order across both interfaces.
type recorder struct {
	mu       sync.Mutex
	calls    []string
	entryErr error
	alertErr error
	delay    map[presence.Identity]time.Duration
}

func (r *recorder) Append(ctx context.Context, e Entry) error {
	r.sleep(e.Identity)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("entry:%s:%s", e.Identity, e.Label))
	return r.entryErr
}

func (r *recorder) Notify(ctx context.Context, a Alert) error {
	r.sleep(a.Identity)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("alert:%s", a.Identity))
	return r.alertErr
}

func (r *recorder) sleep(id presence.Identity) {
	if d, ok := r.delay[id]; ok {
		time.Sleep(d)
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

var now = time.Date(2026, 3, 2, 14, 5, 9, 0, time.UTC)

func TestAdapterRoutesEvents(t *testing.T) {
	rec := &recorder{}
	a := New(rec, rec)

	a.Dispatch(context.Background(), []presence.Event{
		{Kind: presence.EntryEvent, Identity: "alice", At: now},
		{Kind: presence.ExitConfirmedEvent, Identity: "bob", At: now},
	})

	got := rec.snapshot()
	want := []string{"entry:alice:Entered", "alert:bob"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestAdapterContinuesAfterFailure(t *testing.T) {
	rec := &recorder{entryErr: errors.New("disk full"), alertErr: errors.New("smtp down")}
	a := New(rec, rec)

	a.Dispatch(context.Background(), []presence.Event{
		{Kind: presence.EntryEvent, Identity: "alice", At: now},
		{Kind: presence.EntryEvent, Identity: "bob", At: now},
		{Kind: presence.ExitConfirmedEvent, Identity: "alice", At: now},
	})

	// Every event is attempted exactly once, with no retries.
	if got := rec.snapshot(); len(got) != 3 {
		t.Errorf("Expected 3 attempts, got %v", got)
	}
}

func TestAdapterNilCollaborators(t *testing.T) {
	a := New(nil, nil)
	a.Dispatch(context.Background(), []presence.Event{
		{Kind: presence.EntryEvent, Identity: "alice", At: now},
		{Kind: presence.ExitConfirmedEvent, Identity: "alice", At: now},
	})
}

func TestAlertFormatting(t *testing.T) {
	a := Alert{Identity: "alice", DepartedAt: now}
	if a.Subject() != "Bunk Alert: alice left the class" {
		t.Errorf("Unexpected subject %q", a.Subject())
	}
	if a.Body() != "alice left the class at 14:05:09" {
		t.Errorf("Unexpected body %q", a.Body())
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{entryErr: errors.New("nope"), alertErr: errors.New("nope")}

	if err := (MultiLedger{bad, ok}).Append(context.Background(), Entry{Identity: "a"}); err == nil {
		t.Error("Expected joined error from MultiLedger")
	}
	if err := (MultiNotifier{ok, bad}).Notify(context.Background(), Alert{Identity: "a"}); err == nil {
		t.Error("Expected joined error from MultiNotifier")
	}
	if len(ok.snapshot()) != 2 {
		t.Errorf("Healthy sinks must still receive events, got %v", ok.snapshot())
	}
}

func TestAsyncPreservesPerIdentityOrder(t *testing.T) {
	// Slow entry for alice must not let her exit overtake it.
	rec := &recorder{delay: map[presence.Identity]time.Duration{"alice": 5 * time.Millisecond}}
	as := NewAsync(New(rec, rec), 4, 8)

	ctx, cancel := context.WithCancel(context.Background())
	as.Dispatch(ctx, []presence.Event{{Kind: presence.EntryEvent, Identity: "alice", At: now}})
	as.Dispatch(ctx, []presence.Event{{Kind: presence.EntryEvent, Identity: "bob", At: now}})
	as.Dispatch(ctx, []presence.Event{{Kind: presence.ExitConfirmedEvent, Identity: "alice", At: now}})
	cancel()

	if err := as.Close(); err != nil {
		t.Fatal(err)
	}

	got := rec.snapshot()
	if len(got) != 3 {
		t.Fatalf("Expected all 3 events delivered after cancel+close, got %v", got)
	}
	entry, exit := -1, -1
	for i, c := range got {
		switch c {
		case "entry:alice:Entered":
			entry = i
		case "alert:alice":
			exit = i
		}
	}
	if entry == -1 || exit == -1 || entry > exit {
		t.Errorf("Alice's exit was delivered before her entry: %v", got)
	}

	// Dispatch after Close is dropped rather than panicking.
	as.Dispatch(context.Background(), []presence.Event{{Kind: presence.EntryEvent, Identity: "carol", At: now}})
}
