package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
)

// ErrUnavailable is returned while no live worker exists and a restart is
// either failing or waiting out its backoff.
var ErrUnavailable = errors.New("python worker unavailable")

// SpawnFunc starts a fresh worker process.
type SpawnFunc func() (*PythonWorker, error)

// Supervisor keeps a recognizer worker alive across timeouts and crashes.
// A worker that has shut down is replaced on the next call. Spawns are
// limited to one per Backoff so a crash-looping interpreter cannot spin.
type Supervisor struct {
	spawn   SpawnFunc
	backoff time.Duration
	now     func() time.Time

	mu        sync.Mutex
	current   *PythonWorker
	lastSpawn time.Time
	restarts  int
}

// NewSupervisor spawns the first worker. Failing to start it is fatal.
func NewSupervisor(spawn SpawnFunc, backoff time.Duration) (*Supervisor, error) {
	s := &Supervisor{spawn: spawn, backoff: backoff, now: time.Now}
	w, err := spawn()
	if err != nil {
		return nil, err
	}
	s.current = w
	s.lastSpawn = s.now()
	return s, nil
}

// acquire returns a live worker, respawning a dead one when the backoff allows.
func (s *Supervisor) acquire() (*PythonWorker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		if !s.current.Closed() {
			return s.current, nil
		}
		s.current.Close()
		s.current = nil
	}

	if wait := s.backoff - s.now().Sub(s.lastSpawn); wait > 0 {
		return nil, fmt.Errorf("%w: next restart in %s", ErrUnavailable, wait.Round(time.Millisecond))
	}
	s.lastSpawn = s.now()

	w, err := s.spawn()
	if err != nil {
		slog.Error("worker: restart failed", "error", err, "retry_in", s.backoff)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.restarts++
	s.current = w
	slog.Warn("worker: restarted python worker", "worker", w.ID, "restarts", s.restarts)
	return w, nil
}

// Recognize forwards to the live worker. The frame that hits a timeout or
// crash still fails; the following call runs on a replacement.
func (s *Supervisor) Recognize(ctx context.Context, frame []byte) ([]types.FaceResult, error) {
	w, err := s.acquire()
	if err != nil {
		return nil, err
	}
	return w.Recognize(ctx, frame)
}

// Encode forwards to the live worker.
func (s *Supervisor) Encode(ctx context.Context, image []byte) ([][]float64, error) {
	w, err := s.acquire()
	if err != nil {
		return nil, err
	}
	return w.Encode(ctx, image)
}

// Restarts counts replacement workers spawned so far.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Cmd returns the current worker's command, for dumping its stderr.
func (s *Supervisor) Cmd() *utils.SafeCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Cmd
}

// Close stops the current worker.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
}
