package cmd

import (
	"os"
	"testing"
	"time"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/presence"
	"github.com/andresmejia3/rollcall/internal/sink"
	"github.com/spf13/pflag"
)

func TestValidateWatchFlags(t *testing.T) {
	// Create a temp dir for valid input
	rosterDir := t.TempDir()

	// Create a temp file for invalid input
	tmpFile, err := os.CreateTemp("", "face.jpg")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{
			name:    "Valid options",
			mutate:  func(c *config.Config) { c.Roster.Dir = rosterDir },
			wantErr: false,
		},
		{
			name:    "Roster dir does not exist",
			mutate:  func(c *config.Config) { c.Roster.Dir = "nonexistent_faces" },
			wantErr: true,
		},
		{
			name:    "Roster is a file",
			mutate:  func(c *config.Config) { c.Roster.Dir = tmpFile.Name() },
			wantErr: true,
		},
		{
			name: "Invalid Tolerance",
			mutate: func(c *config.Config) {
				c.Roster.Dir = rosterDir
				c.Matching.Tolerance = 1.5
			},
			wantErr: true,
		},
		{
			name: "Invalid notify mode",
			mutate: func(c *config.Config) {
				c.Roster.Dir = rosterDir
				c.Notify.Mode = "pager"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.Default()
			tt.mutate(c)
			if err := validateWatchFlags(c); (err != nil) != tt.wantErr {
				t.Errorf("validateWatchFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyWatchFlagsOnlyOverridesChanged(t *testing.T) {
	var o Options
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	fs.StringVarP(&o.GracePeriod, "grace-period", "g", "120s", "")
	fs.Float64VarP(&o.Tolerance, "tolerance", "t", 0.5, "")
	fs.StringVar(&o.Device, "device", "/dev/video0", "")
	if err := fs.Parse([]string{"-g", "45s", "--device", "rtsp://cam"}); err != nil {
		t.Fatal(err)
	}

	c := config.Default()
	c.Matching.Tolerance = 0.42 // e.g. from YAML
	if err := applyWatchFlags(c, fs, o); err != nil {
		t.Fatalf("applyWatchFlags failed: %v", err)
	}
	if c.Presence.GracePeriod.Std() != 45*time.Second {
		t.Errorf("Expected 45s grace, got %s", c.Presence.GracePeriod.Std())
	}
	if c.Camera.Device != "rtsp://cam" {
		t.Errorf("Expected device override, got %q", c.Camera.Device)
	}
	if c.Matching.Tolerance != 0.42 {
		t.Errorf("Unset flag must not clobber config, got %v", c.Matching.Tolerance)
	}
}

func TestApplyWatchFlagsBadDuration(t *testing.T) {
	var o Options
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	fs.StringVar(&o.RetryDelay, "retry-delay", "1s", "")
	if err := fs.Parse([]string{"--retry-delay", "soon"}); err != nil {
		t.Fatal(err)
	}
	if err := applyWatchFlags(config.Default(), fs, o); err == nil {
		t.Error("Expected error for unparseable retry delay")
	}
}

func TestCSVRows(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	entries := []sink.Entry{
		{Identity: "alice", At: t0, Label: sink.LabelEntered},
		{Identity: "bob", At: t0.Add(time.Minute), Label: sink.LabelEntered},
		{Identity: "alice", At: t0.Add(5 * time.Minute), Label: sink.LabelEntered},
	}

	tests := []struct {
		name     string
		identity presence.Identity
		limit    int
		want     []presence.Identity
	}{
		{name: "All newest first", want: []presence.Identity{"alice", "bob", "alice"}},
		{name: "Limit", limit: 2, want: []presence.Identity{"alice", "bob"}},
		{name: "Filter", identity: "alice", want: []presence.Identity{"alice", "alice"}},
		{name: "No match", identity: "carol", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := csvRows(entries, tt.identity, tt.limit)
			if len(rows) != len(tt.want) {
				t.Fatalf("Expected %d rows, got %d", len(tt.want), len(rows))
			}
			for i, r := range rows {
				if r.Identity != tt.want[i] {
					t.Errorf("Row %d: expected %s, got %s", i, tt.want[i], r.Identity)
				}
			}
			if len(rows) > 1 && rows[0].At.Before(rows[1].At) {
				t.Error("Rows must be newest first")
			}
		})
	}
}
