package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/andresmejia3/rollcall/internal/capture"
	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/notify"
	"github.com/andresmejia3/rollcall/internal/presence"
	"github.com/andresmejia3/rollcall/internal/roster"
	"github.com/andresmejia3/rollcall/internal/sampler"
	"github.com/andresmejia3/rollcall/internal/sink"
	"github.com/andresmejia3/rollcall/internal/status"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Options holds the watch command's flag values. Only flags the user set
// override the loaded configuration.
type Options struct {
	RosterDir   string
	Device      string
	Format      string
	ReplayDir   string
	Scale       float64
	MinFaceSize int
	Tolerance   float64
	GracePeriod string
	RetryDelay  string
	LedgerPath  string
	NotifyMode  string
	StatusAddr  string
	Async       bool
}

var watchOpts Options

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the camera, mark attendance and alert on departures",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyWatchFlags(cfg, cmd.Flags(), watchOpts); err != nil {
			return err
		}
		if err := validateWatchFlags(cfg); err != nil {
			return err
		}
		return runWatch(cmd.Context(), cfg, watchOpts.Async)
	},
}

func init() {
	f := watchCmd.Flags()
	f.StringVarP(&watchOpts.RosterDir, "roster", "r", "known_faces", "Directory of reference images (filename stem is the identity)")
	f.StringVarP(&watchOpts.Device, "device", "i", "/dev/video0", "Camera input passed to ffmpeg")
	f.StringVar(&watchOpts.Format, "format", "v4l2", "ffmpeg input format (empty lets ffmpeg probe)")
	f.StringVar(&watchOpts.ReplayDir, "replay", "", "Replay JPEG frames from a directory instead of a camera")
	f.Float64Var(&watchOpts.Scale, "scale", 0.75, "Resize factor applied to frames before recognition")
	f.IntVar(&watchOpts.MinFaceSize, "min-face-size", presence.DefaultMinFaceSize, "Minimum face width and height in pixels")
	f.Float64VarP(&watchOpts.Tolerance, "tolerance", "t", presence.DefaultTolerance, "Face matching tolerance (lower is stricter)")
	f.StringVarP(&watchOpts.GracePeriod, "grace-period", "g", "120s", "How long a face can be missing before a departure alert fires")
	f.StringVar(&watchOpts.RetryDelay, "retry-delay", "1s", "Pause after a failed frame grab")
	f.StringVar(&watchOpts.LedgerPath, "ledger", ledger.DefaultPath, "CSV attendance ledger")
	f.StringVar(&watchOpts.NotifyMode, "notify", "log", "Departure alert channel: log or smtp")
	f.StringVar(&watchOpts.StatusAddr, "status-addr", "", "Serve live presence JSON on this address (e.g. :8080)")
	f.BoolVar(&watchOpts.Async, "async", false, "Deliver ledger writes and alerts in the background")

	rootCmd.AddCommand(watchCmd)
}

// applyWatchFlags copies explicitly set flags over c.
func applyWatchFlags(c *config.Config, flags *pflag.FlagSet, o Options) error {
	set := func(name string) bool { return flags.Changed(name) }

	if set("roster") {
		c.Roster.Dir = o.RosterDir
	}
	if set("device") {
		c.Camera.Device = o.Device
	}
	if set("format") {
		c.Camera.Format = o.Format
	}
	if set("replay") {
		c.Camera.ReplayDir = o.ReplayDir
	}
	if set("scale") {
		c.Camera.Scale = o.Scale
	}
	if set("min-face-size") {
		c.Matching.MinFaceSize = o.MinFaceSize
	}
	if set("tolerance") {
		c.Matching.Tolerance = o.Tolerance
	}
	if set("grace-period") {
		d, err := time.ParseDuration(o.GracePeriod)
		if err != nil {
			return fmt.Errorf("invalid grace-period format (use '120s', '2m'): %w", err)
		}
		c.Presence.GracePeriod = config.Duration(d)
	}
	if set("retry-delay") {
		d, err := time.ParseDuration(o.RetryDelay)
		if err != nil {
			return fmt.Errorf("invalid retry-delay format (use '1s', '500ms'): %w", err)
		}
		c.Camera.RetryDelay = config.Duration(d)
	}
	if set("ledger") {
		c.Ledger.Path = o.LedgerPath
	}
	if set("notify") {
		c.Notify.Mode = o.NotifyMode
	}
	if set("status-addr") {
		c.Status.Addr = o.StatusAddr
	}
	return nil
}

// validateWatchFlags ensures the configuration is usable before starting heavy processes.
func validateWatchFlags(c *config.Config) error {
	info, err := os.Stat(c.Roster.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("roster directory does not exist: %w", err)
		}
		return fmt.Errorf("unable to access roster directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("roster path %s is not a directory", c.Roster.Dir)
	}
	return c.Validate()
}

// runWatch wires collaborators around the sampling loop and runs it until ctx is cancelled.
func runWatch(ctx context.Context, c *config.Config, async bool) error {
	// 1. Recognizer worker
	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	w, err := worker.NewSupervisor(spawnWorker(ctx, c), c.Worker.RestartBackoff.Std())
	if err != nil {
		utils.ShowError("Worker startup failed", err, nil)
		return err
	}
	defer w.Close()

	// 2. Roster
	fmt.Fprintln(os.Stderr, "👤 Loading known faces...")
	ros, err := roster.Load(ctx, c.Roster.Dir, w, roster.Options{Progress: os.Stderr})
	if err != nil {
		utils.ShowError("Failed to load roster", err, w.Cmd())
		return err
	}
	fmt.Fprintf(os.Stderr, "\n✅ Loaded %d identities (%d skipped)\n", ros.Len(), len(ros.Warnings()))
	for _, warn := range ros.Warnings() {
		fmt.Fprintf(os.Stderr, "⚠️  %v\n", warn)
	}
	if ros.Len() == 0 {
		fmt.Fprintln(os.Stderr, "⚠️  WARNING: No faces were loaded. Everyone will be Unknown.")
	}

	// 3. Frame source
	src, closeSrc, err := openSource(ctx, c)
	if err != nil {
		utils.ShowError("Failed to open frame source", err, nil)
		return err
	}
	defer closeSrc()

	// 4. Sinks
	csvLedger, err := ledger.OpenCSV(c.Ledger.Path)
	if err != nil {
		utils.ShowError("Failed to open attendance ledger", err, nil)
		return err
	}
	defer csvLedger.Close()

	ledgers := sink.MultiLedger{csvLedger}
	var notifier sink.Notifier = notify.Log{}
	if c.Notify.Mode == "smtp" {
		s := c.Notify.SMTP
		mailer, err := notify.NewSMTP(s.Addr, s.User, s.Pass, s.To)
		if err != nil {
			return err
		}
		notifier = mailer
	}
	notifiers := sink.MultiNotifier{notifier}

	db, err := openStore(ctx)
	if err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}
	if db != nil {
		// Use Background because ctx is already cancelled when we get here on Ctrl+C.
		defer db.Close(context.Background())
		ledgers = append(ledgers, db)
		notifiers = append(notifiers, db)
		fmt.Fprintf(os.Stderr, "🗄️  Recording to database (session %s)\n", db.Session())
	}

	adapter := sink.New(ledgers, notifiers)
	var dispatcher sink.Dispatcher = adapter
	if async {
		as := sink.NewAsync(adapter, 4, 64)
		defer as.Close()
		dispatcher = as
	}

	// 5. Loop + optional status server
	board := &presence.SnapshotBoard{}
	matcher := presence.NewMatcher(ros.Candidates(), c.Matching.MinFaceSize, c.Matching.Tolerance)
	tracker := presence.NewTracker(c.Presence.GracePeriod.Std())
	loop := sampler.New(src, w, matcher, tracker, dispatcher, board, sampler.Config{RetryDelay: c.Camera.RetryDelay.Std()})

	statusErr := make(chan error, 1)
	if c.Status.Addr != "" {
		srv := status.NewServer(c.Status.Addr, board)
		if err := srv.Listen(); err != nil {
			utils.ShowError("Failed to start status server", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🌐 Status server on http://%s/presence\n", srv.Addr())
		go func() {
			err := srv.Run(ctx)
			if err != nil {
				slog.Error("status: server stopped", "error", err)
			}
			statusErr <- err
		}()
	}

	fmt.Fprintf(os.Stderr, "👁️  System running (grace period %s). Press Ctrl+C to exit.\n", tracker.GracePeriod())
	if err := loop.Run(ctx); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Shutting down after %d ticks. %d identities still present.\n", loop.Ticks(), tracker.Len())
	if c.Status.Addr != "" {
		if err := <-statusErr; err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("status server: %w", err)
		}
	}
	return nil
}

// openSource picks the replay directory or the live camera.
func openSource(ctx context.Context, c *config.Config) (sampler.Source, func() error, error) {
	if c.Camera.ReplayDir != "" {
		src, err := capture.NewDirSource(c.Camera.ReplayDir, false)
		if err != nil {
			return nil, nil, err
		}
		fmt.Fprintf(os.Stderr, "📼 Replaying %d frames from %s\n", len(src.Files), c.Camera.ReplayDir)
		return src, func() error { return nil }, nil
	}

	fmt.Fprintf(os.Stderr, "📷 Starting camera %s...\n", c.Camera.Device)
	src, err := capture.NewFFmpegSource(ctx, c.Camera.Format, c.Camera.Device, c.Camera.Scale)
	if err != nil {
		return nil, nil, err
	}
	return src, src.Close, nil
}

// spawnWorker starts numbered recognizer processes for the Supervisor.
func spawnWorker(ctx context.Context, c *config.Config) worker.SpawnFunc {
	next := 0
	return func() (*worker.PythonWorker, error) {
		id := next
		next++
		return worker.NewPythonWorker(ctx, id, worker.Config{
			Python:      c.Worker.Python,
			Script:      c.Worker.Script,
			ReadTimeout: c.Worker.ReadTimeout.Std(),
		})
	}
}
