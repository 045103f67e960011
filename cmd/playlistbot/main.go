package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/playlistbot/playlistbot/config"
	"github.com/playlistbot/playlistbot/logger"
	"github.com/playlistbot/playlistbot/pkg/errors"
	"github.com/playlistbot/playlistbot/scheduler"
	"github.com/playlistbot/playlistbot/server/statusapi"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	errorHandler := errors.NewErrorHandler()
	cfg := config.NewDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	once := flag.Bool("once", false, "Run a single scan and exit (status 1 on failure)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("playlistbot version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	loadAndValidateConfig(*configPath, &cfg, errorHandler)

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "PLAYLISTBOT: Warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer func(f *os.File) {
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "PLAYLISTBOT: Error closing log file %s: %v\n", f.Name(), err)
			}
		}(logFile)
	}

	logger.Infof("playlistbot starting (version %s, commit: %s, built: %s)", version, commit, date)
	logger.Infof("Logging format: %s, level: %s", cfg.Logging.Format, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	open, err := newOpener(ctx, cfg)
	if err != nil {
		errorHandler.FatalError("initialize mailbox", err)
		os.Exit(errorHandler.WaitForExit())
	}

	if *once {
		r := &runner{open: open}
		if err := r.run(ctx); err != nil {
			errorHandler.FatalError("scan", err)
			os.Exit(errorHandler.WaitForExit())
		}
		return
	}

	os.Exit(serve(ctx, cfg, open, errorHandler))
}

// serve runs the scheduler and, if enabled, the status server until ctx is
// cancelled or the status server fails. It returns the process exit code.
func serve(ctx context.Context, cfg config.Config, open openFunc, errorHandler *errors.ErrorHandler) int {
	interval, _ := cfg.Schedule.GetInterval()
	runTimeout, _ := cfg.Schedule.GetRunTimeout()

	r := &runner{open: open}
	errChan := make(chan error, 1)
	if cfg.Metrics.Enabled {
		status := statusapi.New(cfg.Metrics.Addr)
		r.observer = status
		go status.Start(ctx, errChan)
	}

	daily := scheduler.New(r.run, scheduler.Options{
		Interval:   interval,
		RunOnStart: cfg.Schedule.RunOnStart,
		RunTimeout: runTimeout,
	})
	daily.Start(ctx)
	defer daily.Stop()

	select {
	case <-ctx.Done():
		errorHandler.Shutdown(ctx)
		return errors.ExitOK
	case err := <-errChan:
		errorHandler.FatalError("status server", err)
		return errorHandler.WaitForExit()
	}
}

// loadAndValidateConfig loads configuration from file, applies environment
// overrides and validates the result. It exits the process on failure.
func loadAndValidateConfig(configPath string, cfg *config.Config, errorHandler *errors.ErrorHandler) {
	if err := config.LoadConfigFromFile(configPath, cfg); err != nil {
		if os.IsNotExist(err) && configPath == "config.toml" {
			logger.Infof("WARNING: default configuration file '%s' not found. Using application defaults.", configPath)
		} else {
			errorHandler.ConfigError(configPath, err)
			os.Exit(errorHandler.WaitForExit())
		}
	} else {
		logger.Infof("loaded configuration from %s", configPath)
	}

	config.ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		errorHandler.ValidationError("config", err)
		os.Exit(errorHandler.WaitForExit())
	}
}
