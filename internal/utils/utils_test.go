package utils

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	// Use bufio.Scanner with our custom Split function
	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	// Verify the extracted token is exactly the JPEG
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJpegConsecutiveFrames(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0xBB, 0xBB, 0xFF, 0xD9}

	scanner := bufio.NewScanner(bytes.NewReader(append(append([]byte{}, a...), b...)))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if len(got) != 2 || !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("Expected two frames, got %X", got)
	}
}

func TestFFmpegArgs(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		scale   float64
		want    []string
		wantNot []string
	}{
		{
			name:   "v4l2 scaled",
			format: "v4l2",
			scale:  0.75,
			want:   []string{"-f v4l2", "-i /dev/video0", "scale=trunc(iw*0.75/2)*2", "-vcodec mjpeg -"},
		},
		{
			name:    "autodetect unscaled",
			format:  "",
			scale:   1,
			want:    []string{"-i /dev/video0", "-f image2pipe"},
			wantNot: []string{"-vf", "-f v4l2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joined := strings.Join(FFmpegArgs(tt.format, "/dev/video0", tt.scale), " ")
			for _, w := range tt.want {
				if !strings.Contains(joined, w) {
					t.Errorf("Expected %q in %q", w, joined)
				}
			}
			for _, w := range tt.wantNot {
				if strings.Contains(joined, w) {
					t.Errorf("Did not expect %q in %q", w, joined)
				}
			}
		})
	}
}

func TestNewSafeCommandCapturesStderr(t *testing.T) {
	c := NewSafeCommand(context.Background(), "ffmpeg", "-version")
	if c.Cmd.Stderr != c.Stderr {
		t.Error("Expected Stderr buffer to be attached to the command")
	}
}
