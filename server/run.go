package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/config"
	"github.com/frobware/go-saiagent/hwswitch"
	"github.com/frobware/go-saiagent/interpreter/store/sqlite"
	"github.com/frobware/go-saiagent/metrics"
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/statefile"
)

// RunConfig configures the agent daemon.
type RunConfig struct {
	Dirs config.RuntimeDirs
	// DBPath overrides the state database location in Dirs.
	DBPath string
	Config config.Config
	// API is the hardware adapter the switch is programmed through.
	API    sai.API
	Logger *slog.Logger
}

// Run initializes the switch and serves until ctx is cancelled. When
// warm boot is enabled the switch exits for warm boot on the way out,
// leaving hardware programmed for the next agent.
//
// A consistency violation found while completing a warm boot stops the
// agent and is returned.
func Run(ctx context.Context, cfg RunConfig) error {
	dirs := cfg.Dirs

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if cfg.API == nil {
		return errors.New("no hardware adapter")
	}

	if err := dirs.EnsureDirectories(); err != nil {
		return fmt.Errorf("runtime directory setup failed: %w", err)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = dirs.DBPath()
	}
	st, err := sqlite.New(ctx, dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open state store at %s: %w", dbPath, err)
	}
	defer st.Close()

	m := metrics.New()
	swCfg := hwswitch.ConfigFrom(cfg.Config.Switch)
	sw, err := hwswitch.New(swCfg, m.Instrument(cfg.API), st, logger)
	if err != nil {
		return err
	}
	bootType, err := sw.Init(ctx)
	if err != nil {
		return fmt.Errorf("switch init: %w", err)
	}
	m.MustRegister(metrics.NewSwitchCollector(sw, swCfg.Index))
	logger.InfoContext(ctx, "switch ready", "boot_type", bootType)

	ctx, fatal := context.WithCancelCause(ctx)
	defer fatal(nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sw.Run(gctx) })

	if path := cfg.Config.State.File; path != "" {
		a := &applier{sw: sw, m: m, logger: logger, fatal: fatal}
		g.Go(func() error { return statefile.Watch(gctx, path, 0, a.apply) })
	} else {
		logger.WarnContext(ctx, "no state file configured, hardware keeps its boot state")
	}

	if addr := cfg.Config.Server.Metrics; addr != "" {
		g.Go(func() error { return serveMetrics(gctx, addr, m, logger) })
	}

	socketPath := cfg.Config.Server.Socket
	if socketPath == "" {
		socketPath = dirs.SocketPath()
	}
	srv := New(sw, logger)
	g.Go(func() error { return srv.serve(gctx, socketPath, cfg.Config.Server.TCP) })

	err = g.Wait()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if err != nil {
		return err
	}

	switch {
	case !swCfg.WarmBoot:
	case sw.WarmBootPending():
		logger.WarnContext(ctx, "warm boot never completed, keeping the persisted warm boot state")
	default:
		if err := sw.ExitForWarmBoot(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("exit for warm boot: %w", err)
		}
		logger.InfoContext(ctx, "exited for warm boot")
	}
	return nil
}

// applier applies each state read from the state file.
type applier struct {
	sw     *hwswitch.Switch
	m      *metrics.Metrics
	logger *slog.Logger
	fatal  context.CancelCauseFunc
}

func (a *applier) apply(ctx context.Context, s saiagent.SwitchState, err error) {
	if err != nil {
		a.logger.ErrorContext(ctx, "state file rejected, keeping the applied state", "error", err)
		return
	}
	err = a.sw.StateChanged(ctx, s)
	a.m.ObserveBatch(err)
	if err != nil {
		a.logger.ErrorContext(ctx, "state change failed", "error", err)
		return
	}
	if err := a.sw.CompleteWarmBoot(ctx); err != nil {
		if errors.Is(err, saiagent.ErrConsistencyViolation) {
			a.fatal(err)
			return
		}
		a.logger.ErrorContext(ctx, "complete warm boot", "error", err)
	}
}

// serveMetrics serves Prometheus metrics and pprof on addr until ctx
// is done.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	logger.InfoContext(ctx, "metrics HTTP server listening", "address", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
