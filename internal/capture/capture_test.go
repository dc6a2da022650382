package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFrames(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte(n), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestDirSourceOrderAndExhaustion(t *testing.T) {
	dir := writeFrames(t, "b.jpg", "a.JPEG", "notes.txt")

	src, err := NewDirSource(dir, false)
	if err != nil {
		t.Fatalf("NewDirSource failed: %v", err)
	}
	if len(src.Files) != 2 {
		t.Fatalf("Expected 2 frames, got %v", src.Files)
	}

	ctx := context.Background()
	for _, want := range []string{"a.JPEG", "b.jpg"} {
		got, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !bytes.Equal(got, []byte(want)) {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}

	if _, err := src.Next(ctx); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Expected ErrNoFrame after last frame, got %v", err)
	}
}

func TestDirSourceLoop(t *testing.T) {
	src, err := NewDirSource(writeFrames(t, "only.jpg"), true)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := src.Next(context.Background()); err != nil {
			t.Fatalf("Iteration %d: %v", i, err)
		}
	}
}

func TestDirSourceEmptyDir(t *testing.T) {
	if _, err := NewDirSource(writeFrames(t, "x.png"), false); err == nil {
		t.Error("Expected error for directory without JPEGs")
	}
}

func TestDirSourceHonorsContext(t *testing.T) {
	src, err := NewDirSource(writeFrames(t, "a.jpg"), true)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
