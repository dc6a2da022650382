// Package capture supplies JPEG frames to the sampling loop.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/andresmejia3/rollcall/internal/utils"
)

const megabyte = 1024 * 1024

// ErrNoFrame reports that no frame was available this time. It is transient.
var ErrNoFrame = errors.New("no frame available")

// FFmpegSource reads frames from a live device through ffmpeg's image2pipe.
// When the stream ends (camera unplugged, ffmpeg crash) the next call to Next
// restarts ffmpeg.
type FFmpegSource struct {
	Format string
	Device string
	Scale  float64

	mu      sync.Mutex
	cmd     *utils.SafeCommand
	stdout  io.ReadCloser
	scanner *bufio.Scanner
}

// NewFFmpegSource checks that ffmpeg is installed and starts the decoder.
// A failure here is the startup-fatal "cannot acquire frame source" case.
func NewFFmpegSource(ctx context.Context, format, device string, scale float64) (*FFmpegSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	s := &FFmpegSource{Format: format, Device: device, Scale: scale}
	if err := s.start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FFmpegSource) start(ctx context.Context) error {
	cmd := utils.NewFFmpegCmd(ctx, s.Format, s.Device, s.Scale)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg on %s: %w", s.Device, err)
	}

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	s.cmd, s.stdout, s.scanner = cmd, out, scanner
	slog.Info("capture: ffmpeg started", "device", s.Device, "format", s.Format, "scale", s.Scale)
	return nil
}

// Next blocks until the next frame arrives. The returned slice is owned by
// the caller.
func (s *FFmpegSource) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scanner == nil {
		if err := s.start(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
		}
	}

	if s.scanner.Scan() {
		frame := make([]byte, len(s.scanner.Bytes()))
		copy(frame, s.scanner.Bytes())
		return frame, nil
	}

	scanErr := s.scanner.Err()
	s.stopLocked()
	if scanErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, scanErr)
	}
	return nil, fmt.Errorf("%w: stream ended", ErrNoFrame)
}

func (s *FFmpegSource) stopLocked() {
	if s.cmd == nil {
		return
	}
	s.stdout.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	if err := s.cmd.Wait(); err != nil && s.cmd.Stderr.Len() > 0 {
		slog.Warn("capture: ffmpeg exited", "error", err, "stderr", strings.TrimSpace(s.cmd.Stderr.String()))
	}
	s.cmd, s.stdout, s.scanner = nil, nil, nil
}

// Close stops ffmpeg.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

// DirSource replays the JPEG files of a directory in name order. With Loop
// set it wraps around; otherwise every call after the last file reports
// ErrNoFrame, which the sampling loop treats like a disconnected camera.
type DirSource struct {
	Files []string
	Loop  bool

	next int
}

// NewDirSource lists the .jpg/.jpeg files under dir.
func NewDirSource(dir string, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no frames found in %s", dir)
	}
	return &DirSource{Files: files, Loop: loop}, nil
}

func (d *DirSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.next >= len(d.Files) {
		if !d.Loop || len(d.Files) == 0 {
			return nil, fmt.Errorf("%w: replay exhausted", ErrNoFrame)
		}
		d.next = 0
	}
	path := d.Files[d.next]
	d.next++
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	return data, nil
}
