// Command pulse is the status-line data layer: it reads one host JSON
// document on stdin, resolves every registered data source within the
// invocation deadline, and writes one aggregate session-health record as
// JSON on stdout. All logging goes to stderr; stdout carries data only.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wilbur182/pulse/internal/cache"
	"github.com/wilbur182/pulse/internal/checkpoint"
	"github.com/wilbur182/pulse/internal/config"
	"github.com/wilbur182/pulse/internal/diag"
	"github.com/wilbur182/pulse/internal/features"
	"github.com/wilbur182/pulse/internal/flight"
	"github.com/wilbur182/pulse/internal/orchestrator"
	"github.com/wilbur182/pulse/internal/scanner"
	"github.com/wilbur182/pulse/internal/source"
	"github.com/wilbur182/pulse/internal/sources/billing"
	"github.com/wilbur182/pulse/internal/sources/contextwindow"
	"github.com/wilbur182/pulse/internal/sources/gitinfo"
	"github.com/wilbur182/pulse/internal/sources/quota"
	"github.com/wilbur182/pulse/internal/sources/transcript"
	"github.com/wilbur182/pulse/internal/store"
	"github.com/wilbur182/pulse/internal/version"
	"github.com/wilbur182/pulse/internal/watch"
)

var (
	configPath   = flag.String("config", "", "path to config file")
	debugFlag    = flag.Bool("debug", false, "enable debug logging")
	versionFlag  = flag.Bool("version", false, "print version and exit")
	shortVersion = flag.Bool("v", false, "print version and exit (short)")
	timeoutFlag  = flag.Duration("timeout", 0, "override the invocation deadline")
	watchFlag    = flag.Bool("watch", false, "re-run on transcript changes (development)")

	sessionsFlag = flag.Bool("sessions", false, "list sessions with persisted state and exit")
	pruneFlag    = flag.Bool("prune", false, "evict old session state and exit")
	bustFlag     = flag.Bool("bust", false, "clear shared cache files and exit")
)

const (
	pruneMaxSessions = 200
	pruneMaxAge      = 90 * 24 * time.Hour
	watchPollEvery   = 2 * time.Second
)

func main() {
	flag.Parse()

	if *versionFlag || *shortVersion {
		fmt.Printf("pulse version %s\n", version.Effective())
		os.Exit(0)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		// A broken config must not stop the status line; run on defaults.
		logger.WithError(err).Warn("config load failed, using defaults")
	}
	if *debugFlag {
		logger.SetLevel(logrus.DebugLevel)
		// Debug runs also mirror structured logs to a file, since stderr
		// is usually swallowed by the host.
		if f, ferr := openLogFile(cfg.BaseDir); ferr == nil {
			logger.SetFormatter(&logrus.JSONFormatter{})
			logger.SetOutput(io.MultiWriter(os.Stderr, f))
			defer f.Close()
		}
	}
	if *timeoutFlag > 0 {
		cfg.Deadline = *timeoutFlag
	}
	if !features.Enabled(cfg.Features.Flags, features.TailApproximation.Name) {
		cfg.Scanner.TailThresholdBytes = math.MaxInt64
	}

	if *sessionsFlag || *pruneFlag || *bustFlag {
		os.Exit(runMaintenance(cfg, logger))
	}

	input, err := source.ParseInput(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pulse: %v\n", err)
		os.Exit(1)
	}

	if err := emit(runOnce(cfg, logger, input)); err != nil {
		fmt.Fprintf(os.Stderr, "pulse: write output: %v\n", err)
		os.Exit(1)
	}

	if *watchFlag && features.Enabled(cfg.Features.Flags, features.WatchMode.Name) {
		runWatch(cfg, logger, input)
	}
}

// runOnce builds one invocation context and resolves all sources.
func runOnce(cfg *config.Config, logger *logrus.Logger, input *source.Input) *source.Health {
	ckpts := checkpoint.NewManager(cfg.BaseDir, logger)

	categories := make([]store.Category, 0, len(cfg.Categories))
	for name, cat := range cfg.Categories {
		categories = append(categories, store.Category{Name: name, TTL: cat.TTL})
	}

	invID := uuid.NewString()
	var recorder *diag.Recorder
	if features.Enabled(cfg.Features.Flags, features.DiagnosticsDB.Name) {
		var err error
		recorder, err = diag.Open(cfg.BaseDir, invID, logger)
		if err != nil {
			logger.WithError(err).Debug("diagnostics unavailable")
		}
	}
	defer recorder.Close()

	inv := &source.Invocation{
		ID:          invID,
		Cfg:         cfg,
		Log:         logger,
		Input:       input,
		Checkpoints: ckpts,
		Scanner:     scanner.New(ckpts, cfg.Scanner, logger, nil),
		Results:     cache.New[scanner.ScanResult](cfg.Results.TTL, cfg.Results.MaxEntries, cfg.Results.MaxBytes),
		Store:       store.New(cfg.BaseDir, categories, cfg.Store.MirrorTTL, logger),
		Flight:      flight.New(cfg.BaseDir, cfg.Locks.StaleAge, logger),
		Diag:        recorder,
	}

	reg := source.NewRegistry()
	for _, d := range []source.Descriptor{
		contextwindow.Descriptor(),
		transcript.Descriptor(cfg.Transcript.Timeout),
		gitinfo.Descriptor(cfg.Git.Timeout),
		billing.Descriptor(cfg.Billing.Timeout),
		quota.Descriptor(cfg.Quota.Timeout),
	} {
		if err := reg.Register(d); err != nil {
			logger.WithError(err).Warn("source registration failed")
		}
	}

	orch := orchestrator.New(reg, version.Effective(), logger)
	ctx, cancel := orchestrator.DeadlineContext(context.Background(), cfg.Deadline)
	defer cancel()
	return orch.Run(ctx, inv)
}

// runWatch re-runs the pipeline whenever the transcript grows.
func runWatch(cfg *config.Config, logger *logrus.Logger, input *source.Input) {
	if input.TranscriptPath == "" {
		fmt.Fprintln(os.Stderr, "pulse: -watch needs a transcript_path in the host input")
		os.Exit(1)
	}
	w, err := watch.New(input.TranscriptPath, watchPollEvery, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pulse: watch: %v\n", err)
		os.Exit(1)
	}
	defer w.Close()

	for range w.Events() {
		if err := emit(runOnce(cfg, logger, input)); err != nil {
			fmt.Fprintf(os.Stderr, "pulse: write output: %v\n", err)
			return
		}
	}
}

func runMaintenance(cfg *config.Config, logger *logrus.Logger) int {
	ckpts := checkpoint.NewManager(cfg.BaseDir, logger)

	if *sessionsFlag {
		infos, err := ckpts.ListSessions()
		if err != nil {
			fmt.Fprintf(os.Stderr, "pulse: list sessions: %v\n", err)
			return 1
		}
		for _, info := range infos {
			fmt.Printf("%s\t%d file(s)\tupdated %s\n", info.ID, info.Files, info.UpdatedAt.Format(time.RFC3339))
		}
	}

	if *pruneFlag {
		removed, err := ckpts.Prune(pruneMaxSessions, pruneMaxAge)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pulse: prune: %v\n", err)
			return 1
		}
		fmt.Printf("pruned %d session(s)\n", removed)
	}

	if *bustFlag {
		st := store.New(cfg.BaseDir, nil, cfg.Store.MirrorTTL, logger)
		if err := st.Bust(); err != nil {
			fmt.Fprintf(os.Stderr, "pulse: bust: %v\n", err)
			return 1
		}
		fmt.Println("shared cache cleared")
	}
	return 0
}

func emit(h *source.Health) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = os.Stdout.Write(data)
	return err
}

func openLogFile(baseDir string) (*os.File, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(baseDir, "pulse.log"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}
