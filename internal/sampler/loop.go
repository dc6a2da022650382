// Package sampler drives ticks: frame, recognition, matching, state update,
// event delivery.
package sampler

import (
	"context"
	"log/slog"
	"time"

	"github.com/andresmejia3/rollcall/internal/presence"
	"github.com/andresmejia3/rollcall/internal/sink"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/google/uuid"
)

// DefaultRetryDelay is the pause after a failed frame grab.
const DefaultRetryDelay = time.Second

// Source yields successive frames.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// Recognizer finds and encodes the faces in a frame.
type Recognizer interface {
	Recognize(ctx context.Context, frame []byte) ([]types.FaceResult, error)
}

// Config tunes the loop. Now is the tick clock, time.Now when nil.
type Config struct {
	RetryDelay time.Duration
	Now        func() time.Time
}

// Loop owns the tracker; only Run's goroutine touches it.
type Loop struct {
	source     Source
	recognizer Recognizer
	matcher    *presence.Matcher
	tracker    *presence.Tracker
	sink       sink.Dispatcher
	board      *presence.SnapshotBoard
	cfg        Config

	runID uuid.UUID
	ticks uint64
}

// New wires a loop. board may be nil when no status server is running.
func New(src Source, rec Recognizer, m *presence.Matcher, tr *presence.Tracker, d sink.Dispatcher, board *presence.SnapshotBoard, cfg Config) *Loop {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Loop{
		source:     src,
		recognizer: rec,
		matcher:    m,
		tracker:    tr,
		sink:       d,
		board:      board,
		cfg:        cfg,
		runID:      uuid.New(),
	}
}

// RunID identifies this run in logs and snapshots.
func (l *Loop) RunID() uuid.UUID { return l.runID }

// Ticks is the number of completed ticks.
func (l *Loop) Ticks() uint64 { return l.ticks }

// Run ticks until ctx is cancelled. Frame failures are retried forever
// after RetryDelay. A tick in flight always completes.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("sampler: running", "run_id", l.runID, "grace_period", l.tracker.GracePeriod())
	for {
		if ctx.Err() != nil {
			slog.Info("sampler: stop requested", "ticks", l.ticks)
			return nil
		}

		frame, err := l.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			slog.Warn("sampler: failed to grab frame", "error", err, "retry_in", l.cfg.RetryDelay)
			select {
			case <-time.After(l.cfg.RetryDelay):
			case <-ctx.Done():
			}
			continue
		}

		l.Tick(ctx, frame)
	}
}

// Tick processes one frame and returns the events it produced.
func (l *Loop) Tick(ctx context.Context, frame []byte) []presence.Event {
	// The stop signal prevents the next tick; it never aborts this one.
	tickCtx := context.WithoutCancel(ctx)

	results, err := l.recognizer.Recognize(tickCtx, frame)
	if err != nil {
		// Counted as an empty tick; present identities accrue absence time.
		slog.Warn("sampler: error recognizing faces", "error", err)
		results = nil
	}

	faces := make([]presence.Face, 0, len(results))
	for _, r := range results {
		faces = append(faces, presence.Face{Box: presence.BoxFromLoc(r.Loc), Signature: presence.Signature(r.Vec)})
	}

	visible, detections := l.matcher.Visible(faces)
	small := 0
	for _, d := range detections {
		if d.TooSmall {
			small++
		} else if d.Known() {
			slog.Debug("sampler: match found", "identity", d.Identity, "confidence", d.Confidence())
		}
	}
	if len(detections) > 0 && small == len(detections) {
		slog.Debug("sampler: faces found but none large enough to process", "faces", len(detections))
	}

	now := l.cfg.Now()
	events := l.tracker.Observe(visible, now)
	if len(events) > 0 && l.sink != nil {
		l.sink.Dispatch(tickCtx, events)
	}

	l.ticks++
	if l.board != nil {
		l.board.Publish(presence.Snapshot{
			RunID:     l.runID.String(),
			Ticks:     l.ticks,
			LastTick:  now,
			Grace:     l.tracker.GracePeriod().String(),
			Records:   l.tracker.Records(),
			LastFaces: len(detections),
		})
	}
	return events
}
