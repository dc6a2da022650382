package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/notify"
	"github.com/andresmejia3/rollcall/internal/presence"
	"github.com/andresmejia3/rollcall/internal/sampler"
	"gopkg.in/yaml.v3"
)

// Duration accepts Go durations ("2m", "500ms") or plain seconds (120).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

type Config struct {
	Roster   RosterConfig   `yaml:"roster"`
	Camera   CameraConfig   `yaml:"camera"`
	Matching MatchingConfig `yaml:"matching"`
	Presence PresenceConfig `yaml:"presence"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Notify   NotifyConfig   `yaml:"notify"`
	Worker   WorkerConfig   `yaml:"worker"`
	Status   StatusConfig   `yaml:"status"`
}

type RosterConfig struct {
	Dir string `yaml:"dir"` // directory of reference images, one identity per file
}

type CameraConfig struct {
	Device     string   `yaml:"device"`      // ffmpeg input, e.g. /dev/video0
	Format     string   `yaml:"format"`      // ffmpeg demuxer, e.g. v4l2
	Scale      float64  `yaml:"scale"`       // resize factor before recognition
	RetryDelay Duration `yaml:"retry_delay"` // pause after a failed grab
	ReplayDir  string   `yaml:"replay_dir"`  // read JPEGs from a directory instead of a device
}

type MatchingConfig struct {
	MinFaceSize int     `yaml:"min_face_size"` // pixels
	Tolerance   float64 `yaml:"tolerance"`     // max signature distance
}

type PresenceConfig struct {
	GracePeriod Duration `yaml:"grace_period"`
}

type LedgerConfig struct {
	Path string `yaml:"path"` // CSV ledger
}

type NotifyConfig struct {
	Mode string     `yaml:"mode"` // log or smtp
	SMTP SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Addr string `yaml:"addr"`
	User string `yaml:"user"`
	Pass string `yaml:"-"` // only from EMAIL_PASS
	To   string `yaml:"to"`
}

type WorkerConfig struct {
	Python      string   `yaml:"python"`
	Script      string   `yaml:"script"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	RestartBackoff Duration `yaml:"restart_backoff"` // minimum gap between respawns
}

type StatusConfig struct {
	Addr string `yaml:"addr"` // empty disables the status server
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Roster: RosterConfig{Dir: "known_faces"},
		Camera: CameraConfig{
			Device:     "/dev/video0",
			Format:     "v4l2",
			Scale:      0.75,
			RetryDelay: Duration(sampler.DefaultRetryDelay),
		},
		Matching: MatchingConfig{
			MinFaceSize: presence.DefaultMinFaceSize,
			Tolerance:   presence.DefaultTolerance,
		},
		Presence: PresenceConfig{GracePeriod: Duration(presence.DefaultGracePeriod)},
		Ledger:   LedgerConfig{Path: ledger.DefaultPath},
		Notify: NotifyConfig{
			Mode: "log",
			SMTP: SMTPConfig{Addr: notify.DefaultSMTPAddr},
		},
		Worker: WorkerConfig{
			Python:      "python3",
			Script:      "python/worker.py",
			ReadTimeout:    Duration(30 * time.Second),
			RestartBackoff: Duration(5 * time.Second),
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset or empty.
func envInt(key string, defaultVal int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) applyEnv() error {
	var errs []error

	n, err := envInt("MIN_FACE_SIZE", c.Matching.MinFaceSize)
	errs = append(errs, err)
	c.Matching.MinFaceSize = n

	if s := os.Getenv("FACE_MATCH_TOLERANCE"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FACE_MATCH_TOLERANCE: %w", err))
		} else {
			c.Matching.Tolerance = v
		}
	}
	if s := os.Getenv("EXIT_GRACE_PERIOD"); s != "" {
		v, err := parseDuration(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("EXIT_GRACE_PERIOD: %w", err))
		} else {
			c.Presence.GracePeriod = Duration(v)
		}
	}

	envString("EMAIL_USER", &c.Notify.SMTP.User)
	envString("EMAIL_PASS", &c.Notify.SMTP.Pass)
	envString("EMAIL_TO", &c.Notify.SMTP.To)
	envString("SMTP_ADDR", &c.Notify.SMTP.Addr)

	return errors.Join(errs...)
}

// Validate rejects values the core cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Matching.MinFaceSize < 1 {
		errs = append(errs, fmt.Errorf("min face size must be >= 1, got %d", c.Matching.MinFaceSize))
	}
	if c.Matching.Tolerance <= 0 || c.Matching.Tolerance > 1.0 {
		errs = append(errs, fmt.Errorf("tolerance must be between 0.0 and 1.0, got %f", c.Matching.Tolerance))
	}
	if c.Presence.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("grace period must be positive, got %s", c.Presence.GracePeriod.Std()))
	}
	if c.Camera.Scale <= 0 {
		errs = append(errs, fmt.Errorf("scale must be positive, got %f", c.Camera.Scale))
	}
	switch c.Notify.Mode {
	case "log", "smtp":
	default:
		errs = append(errs, fmt.Errorf("unknown notify mode %q (use log or smtp)", c.Notify.Mode))
	}
	return errors.Join(errs...)
}
