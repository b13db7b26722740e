// Command ListingPipe runs the listing ingestion pipeline.
//
//	listingpipe [flags] all
//	listingpipe [flags] <location> <term...>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/ListingPipe/internal/config"
	"github.com/BTreeMap/ListingPipe/internal/fetch"
	"github.com/BTreeMap/ListingPipe/internal/lockfile"
	"github.com/BTreeMap/ListingPipe/internal/models"
	"github.com/BTreeMap/ListingPipe/internal/pipeline"
	"github.com/BTreeMap/ListingPipe/internal/scheduler"
)

// Exit codes
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// Flags holds command line flag values
type Flags struct {
	configPath    *string
	stateDir      *string
	dbDSN         *string
	output        *string
	outputFormat  *string
	dedupPath     *string
	maxAge        *string
	allowShipping *bool
	workers       *int
	input         *string
	fetchURL      *string
	schedule      *string
	once          *bool
	logLevel      *string
	qrOutput      *string
	numeric       *bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	loadDotEnv()
	initializeLogger(stderr, os.Getenv("LOG_LEVEL"))

	fs := flag.NewFlagSet("listingpipe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := registerFlags(fs)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: listingpipe [flags] all | <location> <term>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, err := loadConfig(fs, flags)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return exitError
	}
	initializeLogger(stderr, cfg.LogLevel)

	queries, err := queriesFromArgs(cfg, fs.Args())
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		fs.Usage()
		return exitUsage
	}

	fetcher, err := fetch.New(fetch.Options{
		BaseURL:   cfg.Fetch.BaseURL,
		InputPath: cfg.Fetch.InputPath,
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.Timeout),
	})
	if err != nil {
		slog.Error("Failed to configure fetcher", "error", err)
		return exitError
	}

	dispatcher, closeNotifiers, err := buildDispatcher(ctx, cfg, flags)
	if err != nil {
		slog.Error("Failed to configure notifications", "error", err)
		return exitError
	}
	defer closeNotifiers()

	r := &runner{cfg: cfg, fetcher: fetcher, dispatcher: dispatcher, queries: queries, stdout: stdout}

	if cfg.Schedule == "" || *flags.once {
		return r.cycle(ctx)
	}
	if err := scheduler.Validate(cfg.Schedule); err != nil {
		slog.Error("Invalid schedule", "error", err)
		return exitUsage
	}
	r.cycle(ctx)
	if err := scheduler.NewScheduler().Run(ctx, cfg.Schedule, func(ctx context.Context) { r.cycle(ctx) }); err != nil {
		slog.Error("Scheduler failed", "error", err)
		return exitError
	}
	slog.Info("ListingPipe exited successfully")
	return exitOK
}

func registerFlags(fs *flag.FlagSet) Flags {
	return Flags{
		configPath:    fs.String("config", "", "YAML config file (overrides $LISTINGPIPE_CONFIG, default config.yaml)"),
		stateDir:      fs.String("state-dir", "", "state directory for the lock, dedup and output files (overrides $LISTINGPIPE_STATE_DIR)"),
		dbDSN:         fs.String("db-dsn", "", "database DSN: postgres://, redis:// or an SQLite path (overrides $DATABASE_DSN)"),
		output:        fs.String("output", "", "output file for file-based storage"),
		outputFormat:  fs.String("output-format", "", "output format: jsonl or csv"),
		dedupPath:     fs.String("dedup", "", "seen-id file for file-based storage"),
		maxAge:        fs.String("max-age", "", `maximum listing age, e.g. "10m" or "1 day"`),
		allowShipping: fs.Bool("allow-shipping", false, "accept listings with unknown shipping status"),
		workers:       fs.Int("workers", 0, "number of queries processed concurrently"),
		input:         fs.String("input", "", "JSON Lines dump to read listings from"),
		fetchURL:      fs.String("fetch-url", "", "base URL of the listing search API"),
		schedule:      fs.String("schedule", "", "cron expression for continuous mode"),
		once:          fs.Bool("once", false, "run once and exit even when a schedule is configured"),
		logLevel:      fs.String("log-level", "", "debug, info, warn or error (overrides $LOG_LEVEL)"),
		qrOutput:      fs.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:       fs.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
	}
}

// loadDotEnv loads .env into the environment when present
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
}

// initializeLogger installs a text handler at the given level
func initializeLogger(w io.Writer, level string) {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
	slog.SetDefault(logger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig merges defaults, the config file, the environment and flags.
func loadConfig(fs *flag.FlagSet, flags Flags) (*config.Config, error) {
	path := *flags.configPath
	optional := false
	if path == "" {
		path = os.Getenv("LISTINGPIPE_CONFIG")
	}
	if path == "" {
		path = config.DefaultConfigFile
		optional = true
	}

	cfg, err := config.LoadFile(path, optional)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "state-dir":
			cfg.StateDir = *flags.stateDir
		case "db-dsn":
			cfg.DatabaseDSN = *flags.dbDSN
		case "output":
			cfg.OutputPath = *flags.output
		case "output-format":
			cfg.OutputFormat = *flags.outputFormat
		case "dedup":
			cfg.DedupPath = *flags.dedupPath
		case "max-age":
			cfg.MaxAge = config.Duration(config.ParseDuration(*flags.maxAge))
		case "allow-shipping":
			cfg.AllowShipping = *flags.allowShipping
		case "workers":
			cfg.Workers = *flags.workers
		case "input":
			cfg.Fetch.InputPath = *flags.input
		case "fetch-url":
			cfg.Fetch.BaseURL = *flags.fetchURL
		case "schedule":
			cfg.Schedule = *flags.schedule
		case "log-level":
			cfg.LogLevel = *flags.logLevel
		}
	})
	cfg.ApplyDefaults()
	cfg.ResolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.Debug("Final configuration",
		"state_dir", cfg.StateDir,
		"dsn_set", cfg.DatabaseDSN != "",
		"output", cfg.OutputPath,
		"format", cfg.OutputFormat,
		"max_age", cfg.MaxAge.String(),
		"workers", cfg.Workers,
		"schedule", cfg.Schedule)
	return cfg, nil
}

// queriesFromArgs turns "all" or "<location> <term...>" into queries.
func queriesFromArgs(cfg *config.Config, args []string) ([]models.Query, error) {
	switch {
	case len(args) == 0:
		return nil, errors.New(`expected "all" or "<location> <term>"`)
	case len(args) == 1 && strings.EqualFold(args[0], "all"):
		return cfg.Queries()
	case len(args) == 1:
		return nil, fmt.Errorf("missing search term for location %q", args[0])
	default:
		term := strings.TrimSpace(strings.Join(args[1:], " "))
		loc := strings.TrimSpace(args[0])
		if term == "" || loc == "" {
			return nil, errors.New("location and search term must not be empty")
		}
		return []models.Query{{SearchTerm: term, Location: loc}}, nil
	}
}

// runner executes one locked pipeline run per cycle.
type runner struct {
	cfg        *config.Config
	fetcher    fetch.Fetcher
	dispatcher dispatcher
	queries    []models.Query
	stdout     io.Writer
}

func (r *runner) cycle(ctx context.Context) int {
	lock, err := lockfile.AcquireLock(r.cfg.StateDir)
	if err != nil {
		if lockfile.IsContention(err) {
			slog.Info("Another run is in progress, exiting", "error", err)
			return exitOK
		}
		slog.Error("Failed to acquire run lock", "error", err)
		return exitError
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release run lock", "error", err)
		}
	}()

	st, err := openStores(ctx, r.cfg)
	if err != nil {
		slog.Error("Failed to open stores", "error", err)
		return exitError
	}
	defer st.Close()

	opts := []pipeline.Option{pipeline.WithWorkers(r.cfg.Workers)}
	if d := r.dispatcher.build(st.receipts); d != nil {
		opts = append(opts, pipeline.WithDispatcher(d))
	}
	p := pipeline.New(r.fetcher, st.dedup, r.cfg.FilterConfig(), opts...)

	report, err := p.Run(ctx, r.queries)
	if report != nil {
		writeReport(r.stdout, report)
	}
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		slog.Info("Run cancelled")
		return exitOK
	default:
		slog.Error("Run failed", "error", err)
		return exitError
	}
}

func writeReport(w io.Writer, report *pipeline.Report) {
	enc := json.NewEncoder(w)
	if err := enc.Encode(report); err != nil {
		slog.Warn("Failed to write run report", "error", err)
	}
}
