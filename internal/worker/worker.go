package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils" // Using the SafeCommand wrapper
)

// Request opcodes understood by python/worker.py
const (
	opRecognize byte = 'R' // detect every face in a frame and encode it
	opEncode    byte = 'E' // encode a roster image with extra jitter passes
)

var (
	// ErrWorker wraps logic errors reported by the Python side
	ErrWorker = errors.New("python worker error")
	// ErrTimeout is returned when the worker does not answer within ReadTimeout
	ErrTimeout = errors.New("python worker timed out")
)

// Config controls how the recognizer subprocess is launched.
type Config struct {
	Python      string        // interpreter, default python3
	Script      string        // default python/worker.py
	ReadTimeout time.Duration // per-request deadline, 0 disables
}

type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Script == "" {
		cfg.Script = "python/worker.py"
	}

	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	// Read Result from the clean DataPipe, so no Magic Byte is needed.
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Recognize sends a frame and returns every face the worker found in it.
func (w *PythonWorker) Recognize(ctx context.Context, frame []byte) ([]types.FaceResult, error) {
	return w.request(ctx, opRecognize, frame)
}

// Encode returns the signatures of every face in a roster image.
func (w *PythonWorker) Encode(ctx context.Context, image []byte) ([][]float64, error) {
	faces, err := w.request(ctx, opEncode, image)
	if err != nil {
		return nil, err
	}
	vecs := make([][]float64, 0, len(faces))
	for _, f := range faces {
		vecs = append(vecs, f.Vec)
	}
	return vecs, nil
}

// request serializes calls; the pipe protocol allows a single request in flight.
func (w *PythonWorker) request(ctx context.Context, op byte, payload []byte) ([]types.FaceResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, fmt.Errorf("worker %d: %w", w.ID, io.ErrClosedPipe)
	}

	msg := make([]byte, 0, len(payload)+1)
	msg = append(msg, op)
	msg = append(msg, payload...)

	type reply struct {
		body []byte
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		body, err := w.Communicate(msg)
		done <- reply{body, err}
	}()

	var timeout <-chan time.Time
	if w.ReadTimeout > 0 {
		timer := time.NewTimer(w.ReadTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var resp reply
	select {
	case resp = <-done:
	case <-timeout:
		// A stuck worker has a half-read frame in its pipe; it cannot be reused.
		w.shutdown()
		return nil, fmt.Errorf("worker %d: %w after %s", w.ID, ErrTimeout, w.ReadTimeout)
	case <-ctx.Done():
		w.shutdown()
		return nil, ctx.Err()
	}
	if resp.err != nil {
		// The pipes are out of sync after a failed read or write.
		w.shutdown()
		return nil, fmt.Errorf("worker %d: %w", w.ID, resp.err)
	}
	return decodeFaces(resp.body)
}

func decodeFaces(body []byte) ([]types.FaceResult, error) {
	var faces []types.FaceResult
	if err := json.Unmarshal(body, &faces); err != nil {
		// Check if it's a Python error object (e.g. {"error": "..."})
		var errorResult types.ErrorResult
		if json.Unmarshal(body, &errorResult) == nil && errorResult.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrWorker, errorResult.Error)
		}
		return nil, fmt.Errorf("malformed worker response: %w", err)
	}
	return faces, nil
}

func (w *PythonWorker) shutdown() {
	if w.closed {
		return
	}
	w.closed = true
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		if w.Cmd.Process != nil {
			w.Cmd.Process.Kill()
		}
		w.Cmd.Wait()
	}
}

// Closed reports whether the worker was shut down, either explicitly or
// after a timeout or broken pipe.
func (w *PythonWorker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *PythonWorker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
