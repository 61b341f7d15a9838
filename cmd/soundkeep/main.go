// Soundkeep is an offline-first client for a personal music library: saved
// tracks live in a remote document store, are cached locally, and every edit
// works offline and is pushed when connectivity returns.
//
// Usage:
//
//	soundkeep daemon [--config <path>]     # run probe + resync loop
//	soundkeep sync-once [--config <path>]  # single load + push pass then exit
//	soundkeep status [--config <path>]     # show config, cache, and ledger state
//	soundkeep wipe [--config ...] [--yes]  # clear the local cache and ledger
//	soundkeep version                      # print version
package main

import (
	"bufio"
	"context"
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

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/soundkeep/soundkeep/internal/config"
	"github.com/soundkeep/soundkeep/internal/kv"
	"github.com/soundkeep/soundkeep/internal/library"
	"github.com/soundkeep/soundkeep/internal/model"
	"github.com/soundkeep/soundkeep/internal/remote"
	"github.com/soundkeep/soundkeep/internal/state"
	"github.com/soundkeep/soundkeep/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runEngine(os.Args[2:], true)
	case "sync-once":
		return runEngine(os.Args[2:], false)
	case "status":
		return runStatus(os.Args[2:])
	case "wipe":
		return runWipe(os.Args[2:])
	case "version":
		fmt.Println("soundkeep", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q; run 'soundkeep' for usage", cmd)
	}
}

func printUsage() error {
	fmt.Fprintln(os.Stderr, "Soundkeep: offline-first personal music library")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  soundkeep daemon [--config ...]     Run probe + resync loop")
	fmt.Fprintln(os.Stderr, "  soundkeep sync-once [--config ...]  Single load + push pass then exit")
	fmt.Fprintln(os.Stderr, "  soundkeep status [--config ...]     Show config, cache, and ledger state")
	fmt.Fprintln(os.Stderr, "  soundkeep wipe [--config ...]       Clear the local cache and ledger")
	fmt.Fprintln(os.Stderr, "  soundkeep version                   Print version")
	fmt.Fprintln(os.Stderr, "")

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

// runEngine handles both "daemon" and "sync-once".
func runEngine(args []string, daemon bool) error {
	fs := flag.NewFlagSet("engine", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}

	logger := newLogger(cfg, *verbose)
	slog.SetDefault(logger)
	logger.Info("config loaded",
		"remote_url", cfg.RemoteURL,
		"collection", cfg.Collection,
		"probe_interval", cfg.ProbeInterval,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Local store ---------------------------------------------------------

	store, err := kv.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing local store", "error", closeErr)
		}
	}()
	logger.Info("local store opened", "dsn", cfg.StoreDSN)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Engine wiring -------------------------------------------------------

	client := remote.NewClient(cfg.RemoteURL, cfg.RemoteToken, cfg.Collection, cfg.RequestTimeout, logger)
	probe := remote.NewProbe(client, cfg.ProbeInterval, logger)
	cache := state.NewSnapshotCache(store, logger)
	ledger := state.LoadLedger(ctx, store, logger)
	svc := library.NewService(client, cache, ledger, probe.IsConnected, logger)

	if probe.Check(ctx) {
		logger.Info("remote store reachable", "url", cfg.RemoteURL)
	} else {
		logger.Info("remote store unreachable, starting offline", "url", cfg.RemoteURL)
	}

	if !daemon {
		logger.Info("running single pass")
		if err := svc.Load(ctx, model.SortRecent); err != nil {
			return fmt.Errorf("loading library: %w", err)
		}
		if err := svc.Sync(ctx); err != nil {
			return fmt.Errorf("syncing library: %w", err)
		}
		logger.Info("pass complete", "items", svc.Count(), "dirty", svc.Dirty())
		return nil
	}

	// daemon mode
	resync := library.NewResync(svc, cfg.SyncInterval, logger)
	probe.OnChange(resync.Observe)

	if err := svc.Load(ctx, model.SortRecent); err != nil {
		logger.Error("initial load failed, continuing with cached snapshot", "error", err)
	}

	go resync.Run(ctx)

	logger.Info("daemon starting", "probe_interval", cfg.ProbeInterval, "sync_interval", cfg.SyncInterval)
	if err := probe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("connectivity probe: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// runStatus prints the current configuration, cache, and ledger state.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("Soundkeep Status")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Printf("  Config:   %s (invalid: %v)\n", *cfgPath, err)
		return nil
	}
	fmt.Printf("  Config:   %s\n", *cfgPath)
	fmt.Printf("  Remote:   %s (collection %q)\n", cfg.RemoteURL, cfg.Collection)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := kv.Open(cfg.StoreDSN)
	if err != nil {
		fmt.Printf("  Store:    unavailable (%v)\n", err)
		return nil
	}
	defer store.Close()

	ctx := context.Background()
	cache := state.NewSnapshotCache(store, logger)
	ledger := state.LoadLedger(ctx, store, logger)

	items, lastModified := cache.Read(ctx)
	fmt.Printf("  Cached:   %d item(s)\n", len(items))
	if lastModified.IsZero() {
		fmt.Println("  Stamp:    unset")
	} else {
		fmt.Printf("  Stamp:    %s\n", lastModified.Format(time.RFC3339))
	}
	fmt.Printf("  Dirty:    %v (%d item(s), %d deletion(s) pending)\n",
		ledger.IsDirty(), len(ledger.DirtyItems()), len(ledger.Deletions()))

	client := remote.NewClient(cfg.RemoteURL, cfg.RemoteToken, cfg.Collection, cfg.RequestTimeout, logger)
	if err := client.Ping(ctx); err != nil {
		fmt.Printf("  Online:   no (%v)\n", err)
	} else {
		fmt.Println("  Online:   yes")
	}

	return nil
}

// runWipe clears the local cache and ledger. The remote store is untouched.
func runWipe(args []string) error {
	fs := flag.NewFlagSet("wipe", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}

	if !*yes {
		fmt.Print("Clear the local cache and pending changes? Unsynced edits will be lost. [y/N] ")
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := kv.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	cache := state.NewSnapshotCache(store, logger)
	ledger := state.LoadLedger(ctx, store, logger)
	if err := errors.Join(cache.Clear(ctx), ledger.Wipe(ctx)); err != nil {
		return fmt.Errorf("wiping local state: %w", err)
	}

	fmt.Println("Local cache and ledger cleared.")
	return nil
}

// newLogger builds the process logger: text to stderr, or a rotated file
// when log_file is configured.
func newLogger(cfg *config.Config, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
