package worker

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

// healthyWorker answers n recognize requests with one face each.
func healthyWorker(id, n int) *PythonWorker {
	data := &MockCloser{Buffer: new(bytes.Buffer)}
	for i := 0; i < n; i++ {
		frameReply(data.Buffer, `[{"loc":[0,100,100,0],"vec":[0,0]}]`)
	}
	return &PythonWorker{ID: id, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: data, ReadTimeout: time.Second}
}

// stalledWorker never answers.
func stalledWorker(id int) *PythonWorker {
	return &PythonWorker{
		ID:          id,
		Stdin:       &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe:    &blockingPipe{closed: make(chan struct{})},
		ReadTimeout: 20 * time.Millisecond,
	}
}

// spawnSequence hands out the given workers in order, then fails.
func spawnSequence(workers ...*PythonWorker) (SpawnFunc, *int) {
	calls := 0
	return func() (*PythonWorker, error) {
		calls++
		if len(workers) == 0 {
			return nil, errors.New("python3: not found")
		}
		w := workers[0]
		workers = workers[1:]
		return w, nil
	}, &calls
}

func TestSupervisorReplacesTimedOutWorker(t *testing.T) {
	spawn, calls := spawnSequence(stalledWorker(0), healthyWorker(1, 5))
	s, err := NewSupervisor(spawn, 0)
	if err != nil {
		t.Fatalf("NewSupervisor failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Recognize(ctx, []byte("frame")); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected first frame to time out, got %v", err)
	}

	for i := 0; i < 3; i++ {
		faces, err := s.Recognize(ctx, []byte("frame"))
		if err != nil {
			t.Fatalf("Frame %d: expected replacement worker to answer, got %v", i, err)
		}
		if len(faces) != 1 {
			t.Fatalf("Frame %d: expected 1 face, got %d", i, len(faces))
		}
	}
	if *calls != 2 || s.Restarts() != 1 {
		t.Errorf("Expected exactly one restart, got spawns=%d restarts=%d", *calls, s.Restarts())
	}
}

func TestSupervisorBacksOffFailedRestarts(t *testing.T) {
	dead := &PythonWorker{ID: 0, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: &MockCloser{Buffer: new(bytes.Buffer)}}
	spawn, calls := spawnSequence(dead)

	s, err := NewSupervisor(spawn, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	s.lastSpawn = clock

	ctx := context.Background()
	// The first frame crashes the worker.
	if _, err := s.Recognize(ctx, []byte("frame")); err == nil {
		t.Fatal("Expected crash error")
	}

	// Inside the backoff no spawn is attempted.
	clock = clock.Add(5 * time.Second)
	if _, err := s.Recognize(ctx, []byte("frame")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	if *calls != 1 {
		t.Fatalf("Expected no respawn during backoff, got %d spawns", *calls)
	}

	// After it, one attempt is made; it fails and restarts the backoff.
	clock = clock.Add(6 * time.Second)
	if _, err := s.Recognize(ctx, []byte("frame")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable from failed spawn, got %v", err)
	}
	clock = clock.Add(time.Second)
	s.Recognize(ctx, []byte("frame"))
	if *calls != 2 {
		t.Errorf("Expected one respawn attempt, got %d spawns", *calls)
	}
}

func TestNewSupervisorStartupFailure(t *testing.T) {
	spawn, _ := spawnSequence()
	if _, err := NewSupervisor(spawn, time.Second); err == nil {
		t.Error("Expected startup failure to be returned")
	}
}
