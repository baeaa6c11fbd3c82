package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/qurban-ledger/api"
	"github.com/warp/qurban-ledger/engine"
	"github.com/warp/qurban-ledger/eventbus"
)

const shutdownTimeout = 30 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the ledger over HTTP until SIGINT or SIGTERM.

Domain events are logged as they are published, and the discrepancy
monitor reports stale shipments and error logs in the background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				rootOpts.cfg.Port = port
			}
			if err := rootOpts.cfg.Validate(); err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port, overrides QURBAN_PORT")

	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, logOut io.Writer) error {
	cfg := opts.cfg
	logger := opts.logger(logOut)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	bus := eventbus.New()
	defer bus.Close()
	events := make(chan engine.DomainEvent, cfg.EventBuffer)
	if err := bus.Subscribe("log", events); err != nil {
		return err
	}
	go eventbus.LogEvents(ctx, logger.With("component", "events"), events)

	eng := engine.New(st,
		engine.WithLogger(logger.With("component", "engine")),
		engine.WithPublisher(bus),
	)

	mon := api.NewDiscrepancyMonitor(eng, logger.With("component", "monitor"))
	mon.CheckInterval = cfg.MonitorEvery
	mon.StaleAfter = cfg.StaleAfter
	mon.Start()
	defer mon.Stop()

	h := api.NewHandler(eng, logger.With("component", "http"))
	h.Monitor = mon
	h.Events = bus
	h.Store = st

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(h, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DBPath)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "forced shutdown", err)
	}

	stats := bus.Stats()
	logger.Info("server stopped", "eventsSent", stats.TotalSent, "eventsDropped", stats.TotalDropped,
		"dropRate", eventbus.DropRate(stats))
	return nil
}
