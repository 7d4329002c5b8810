package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"doorcal/internal/config"
	"doorcal/internal/gcal"
	"doorcal/internal/lock"
	appLog "doorcal/internal/log"
	"doorcal/internal/scheduler"
	"doorcal/internal/syncer"
	"doorcal/internal/verkada"
	"doorcal/internal/web"
)

const version = "0.1.0"

// cliFlags holds values shared by every subcommand.
type cliFlags struct {
	configPath    string
	googleCreds   string
	verkadaAPIKey string
	envFile       string
	exportICS     string
	dryRun        bool
	verbose       bool
	debug         bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		appLog.Error("doorcal failed", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Sync()
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:           "doorcal",
		Short:         "Mirror door exception schedules into a Google Calendar",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "/etc/doorcal/config.yaml", "Path to config file")
	pf.StringVar(&flags.googleCreds, "google-creds", "", "Google service account JSON file (overrides google.credentials_file)")
	pf.StringVar(&flags.verkadaAPIKey, "verkada-api-key", "", "Verkada API key (defaults to VERKADA_API_KEY)")
	pf.StringVar(&flags.envFile, "env-file", "", "Load environment variables from this file first")
	pf.StringVar(&flags.exportICS, "export-ics", "", "Write the events that would be added to this .ics file")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "Compute and log changes without writing to Google Calendar")
	pf.BoolVar(&flags.verbose, "verbose", false, "Log at INFO level")
	pf.BoolVar(&flags.debug, "debug", false, "Log at DEBUG level")

	root.AddCommand(
		&cobra.Command{
			Use:   "sync",
			Short: "Run one synchronization and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runSync(cmd.Context(), flags)
			},
		},
		&cobra.Command{
			Use:   "daemon",
			Short: "Synchronize on a schedule and serve the status API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runDaemon(cmd.Context(), flags)
			},
		},
	)
	return root
}

// app is everything a subcommand needs, wired from config and flags.
type app struct {
	cfg    *config.Config
	syncer *syncer.Syncer
	close  func()
}

func setup(ctx context.Context, flags *cliFlags) (*app, error) {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil {
			return nil, errors.Wrapf(err, "load env file %s", flags.envFile)
		}
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", flags.configPath)
	}
	if err := initLogging(cfg, flags); err != nil {
		return nil, err
	}
	appLog.Info("doorcal starting", "version", version, "config_path", flags.configPath)

	if flags.googleCreds != "" {
		cfg.Google.CredentialsFile = flags.googleCreds
	}
	if _, err := os.Stat(cfg.Google.CredentialsFile); err != nil {
		return nil, errors.Wrapf(err, "cannot find google credentials %s", cfg.Google.CredentialsFile)
	}

	apiKey := flags.verkadaAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("VERKADA_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("verkada api key is required (--verkada-api-key or VERKADA_API_KEY)")
	}

	appLog.Info("effective config",
		"calendar_id", cfg.Google.CalendarID,
		"days_past", cfg.General.DaysInPast,
		"days_future", cfg.General.DaysInFuture,
		"send_emails", cfg.General.SendEmails,
		"clip_weekly_to_window", cfg.General.ClipWeeklyToWindow,
		"verkada_base_url", cfg.Verkada.BaseURL,
		"redis_lock", cfg.Lock.RedisAddr != "",
		"dry_run", flags.dryRun,
	)

	cal, err := gcal.New(ctx, cfg.Google.CredentialsFile, gcal.Options{
		CalendarID: cfg.Google.CalendarID,
		Colors:     cfg.Google.Colors,
		SendEmails: cfg.General.SendEmails,
	})
	if err != nil {
		return nil, err
	}

	source := verkada.NewClient(verkada.Options{
		BaseURL:           cfg.Verkada.BaseURL,
		APIKey:            apiKey,
		Timeout:           cfg.VerkadaTimeout(),
		RequestsPerSecond: cfg.Verkada.RequestsPerSecond,
		MaxRetries:        cfg.Verkada.MaxRetries,
	})

	closeFn := func() {}
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Lock.RedisAddr != "" {
		client, err := lock.DialRedis(ctx, cfg.Lock.RedisAddr, cfg.Lock.RedisPassword, cfg.Lock.RedisDB)
		if err != nil {
			return nil, err
		}
		locker = lock.NewRedisLocker(lock.NewRedisStore(client))
		closeFn = func() {
			if err := client.Close(); err != nil {
				appLog.Error("failed to close redis client", err)
			}
		}
	}

	return &app{
		cfg:    cfg,
		syncer: syncer.New(cfg, source, cal, locker),
		close:  closeFn,
	}, nil
}

// initLogging applies the config level, then the CLI overrides. A dry run
// logs at least at INFO so the plan is visible.
func initLogging(cfg *config.Config, flags *cliFlags) error {
	level := appLog.ParseLevel(cfg.Log.Level)
	if flags.verbose || flags.dryRun {
		if level != appLog.LevelDebug {
			level = appLog.LevelInfo
		}
	}
	if flags.debug {
		level = appLog.LevelDebug
	}
	return appLog.Init(level, cfg.Log.Encoding)
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runSync(parent context.Context, flags *cliFlags) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	a, err := setup(ctx, flags)
	if err != nil {
		return err
	}
	defer a.close()

	_, err = a.syncer.Run(ctx, syncer.Options{DryRun: flags.dryRun, ExportICS: flags.exportICS})
	return err
}

func runDaemon(parent context.Context, flags *cliFlags) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	a, err := setup(ctx, flags)
	if err != nil {
		return err
	}
	defer a.close()

	worker := scheduler.NewWorker(a.syncer, a.cfg.Daemon.Refresh, syncer.Options{DryRun: flags.dryRun, ExportICS: flags.exportICS})
	worker.Start(ctx)
	defer worker.Stop()

	srv := web.NewServer(a.cfg, a.syncer, flags.dryRun)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	appLog.Info("doorcal exiting")
	return nil
}
