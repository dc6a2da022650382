// Package sink turns tracker events into ledger writes and departure alerts.
//
// Delivery is best-effort: failures are logged and never fed back into the
// tracker, whose in-memory state is the source of truth for the session.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andresmejia3/rollcall/internal/presence"
)

const (
	// TimestampLayout is the ledger timestamp format (%Y-%m-%d %H:%M:%S).
	TimestampLayout = "2006-01-02 15:04:05"
	// AlertTimeLayout is the departure time format (%H:%M:%S).
	AlertTimeLayout = "15:04:05"
	// LabelEntered is the only event label written to the ledger.
	LabelEntered = "Entered"
)

// Entry is one attendance ledger row.
type Entry struct {
	Identity presence.Identity
	At       time.Time
	Label    string
}

// Alert is a departure notification intent.
type Alert struct {
	Identity   presence.Identity
	DepartedAt time.Time
}

// Subject is the alert headline.
func (a Alert) Subject() string {
	return fmt.Sprintf("Bunk Alert: %s left the class", a.Identity)
}

// Body is the alert text.
func (a Alert) Body() string {
	return fmt.Sprintf("%s left the class at %s", a.Identity, a.DepartedAt.Format(AlertTimeLayout))
}

// Ledger appends attendance rows.
type Ledger interface {
	Append(ctx context.Context, e Entry) error
}

// Notifier delivers departure alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Dispatcher consumes the events of one tick.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []presence.Event)
}

// Adapter delivers events synchronously, in order.
type Adapter struct {
	ledger   Ledger
	notifier Notifier
}

// New returns an Adapter. Either collaborator may be nil to drop that
// event kind.
func New(ledger Ledger, notifier Notifier) *Adapter {
	return &Adapter{ledger: ledger, notifier: notifier}
}

// Dispatch delivers events in the order given.
func (a *Adapter) Dispatch(ctx context.Context, events []presence.Event) {
	for _, ev := range events {
		a.deliver(ctx, ev)
	}
}

func (a *Adapter) deliver(ctx context.Context, ev presence.Event) {
	switch ev.Kind {
	case presence.EntryEvent:
		if a.ledger == nil {
			return
		}
		if err := a.ledger.Append(ctx, Entry{Identity: ev.Identity, At: ev.At, Label: LabelEntered}); err != nil {
			slog.Error("sink: ledger write failed", "identity", ev.Identity, "error", err)
			return
		}
		slog.Info("sink: attendance marked", "identity", ev.Identity, "at", ev.At.Format(TimestampLayout))
	case presence.ExitConfirmedEvent:
		if a.notifier == nil {
			return
		}
		if err := a.notifier.Notify(ctx, Alert{Identity: ev.Identity, DepartedAt: ev.At}); err != nil {
			slog.Error("sink: alert failed", "identity", ev.Identity, "error", err)
			return
		}
		slog.Info("sink: alert sent", "identity", ev.Identity, "at", ev.At.Format(AlertTimeLayout))
	default:
		slog.Warn("sink: unknown event", "event", ev)
	}
}

// MultiLedger writes every entry to each ledger in turn.
type MultiLedger []Ledger

func (m MultiLedger) Append(ctx context.Context, e Entry) error {
	var errs []error
	for _, l := range m {
		if err := l.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiNotifier sends every alert to each notifier in turn.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
