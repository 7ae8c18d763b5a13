// Command marketd replays marketplace scenarios against a persistent market
// and serves read-only views of the result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"nhbmarket/config"
	"nhbmarket/core/events"
	"nhbmarket/observability"
	"nhbmarket/observability/logging"
	telemetry "nhbmarket/observability/otel"
	"nhbmarket/services/archive"
	"nhbmarket/storage"
)

type options struct {
	configPath string
	scriptPath string
	serve      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "./market.toml", "path to marketd config")
	flag.StringVar(&opts.scriptPath, "script", "", "YAML scenario to replay")
	flag.BoolVar(&opts.serve, "serve", false, "serve read-only views after the scenario")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Fatalf("marketd: %v", err)
	}
}

// summary is printed once the scenario finishes.
type summary struct {
	Run      string `json:"run"`
	Steps    int    `json:"steps"`
	Rejected int    `json:"rejected"`
	Height   uint64 `json:"height"`
	Sales    int    `json:"sales"`
	Offers   int    `json:"offers"`
	Auctions int    `json:"auctions"`
	Archived int64  `json:"archived"`
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	runID := uuid.New()
	logger := logging.SetupWithOptions("marketd", cfg.Environment, logging.Options{
		Level:      level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}).With(slog.String("run", runID.String()))

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "marketd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	db, err := openState(cfg.DataDir, runID)
	if err != nil {
		return err
	}
	defer db.Close()

	emitter := events.Fanout{observability.Events()}
	var arch *archive.Archive
	if cfg.Archive.Enabled() {
		arch, err = archive.Open(cfg.Archive.Driver, cfg.Archive.DSN)
		if err != nil {
			return err
		}
		defer func() { _ = arch.Close() }()
		arch.SetLogger(logger)
		emitter = append(emitter, arch)
	}

	n, err := newNode(cfg, db, logger, observability.Market(), emitter)
	if err != nil {
		return err
	}

	out := summary{Run: runID.String()}
	if opts.scriptPath != "" {
		script, err := LoadScript(opts.scriptPath)
		if err != nil {
			return err
		}
		results, err := replay(ctx, n, script)
		out.Steps = len(results)
		for _, res := range results {
			if res.Err != nil {
				out.Rejected++
			}
		}
		if err != nil {
			return err
		}
		logger.Info("scenario replayed", slog.Int("steps", out.Steps), slog.Int("rejected", out.Rejected))
	}
	if err := n.checkConsistency(); err != nil {
		return fmt.Errorf("consistency check: %w", err)
	}
	if arch != nil {
		if err := arch.Verify(ctx); err != nil {
			return err
		}
		if out.Archived, err = arch.Count(ctx); err != nil {
			return err
		}
	}
	stats := n.engine.Stats()
	out.Height = n.currentHeight()
	out.Sales, out.Offers, out.Auctions = stats.Sales, stats.Offers, stats.Auctions
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	if !opts.serve {
		return nil
	}
	return serve(ctx, newServer(n, arch, cfg.HTTP, logger), cfg.HTTP.ListenAddress, logger)
}

// openState opens a fresh LevelDB under dataDir for this run. Engine ledgers
// live in memory, so balances held in escrow only make sense next to the run
// that created them. An empty dataDir keeps everything in memory.
func openState(dataDir string, runID uuid.UUID) (storage.Database, error) {
	if strings.TrimSpace(dataDir) == "" {
		return storage.NewMemDB(), nil
	}
	path := filepath.Join(dataDir, "runs", runID.String())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(path)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return db, nil
}

func replay(ctx context.Context, n *node, script *Script) ([]StepResult, error) {
	r, err := newRunner(n, script)
	if err != nil {
		return nil, err
	}
	if err := r.genesis(script.Genesis); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	return r.run(ctx, script.Steps)
}

func serve(ctx context.Context, s *server, addr string, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		logger.Info("marketd listening", slog.String("addr", addr))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
