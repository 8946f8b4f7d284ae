package cli

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"solana-token-sale/internal/api"
	"solana-token-sale/internal/config"
	"solana-token-sale/internal/ledger"
	"solana-token-sale/internal/observability"
	"solana-token-sale/internal/tokensale"
)

const (
	shutdownTimeout = 30 * time.Second
	uptimeInterval  = 15 * time.Second
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger and its HTTP API",
		Long: `Run the ledger runtime with the token sale program registered and serve
the HTTP and websocket API. Configuration is read from TOKENSALE_* environment
variables and an optional .env file.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return err
			}
			logger, err := config.Logger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger, nil)
		},
	}
	return cmd
}

// runServe blocks until ctx is cancelled or the listener fails. ready, when
// set, receives the bound address once the server accepts connections.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger, ready func(net.Addr)) (err error) {
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, b.Close()) }()

	program := tokensale.New(cfg.ProgramID)
	hub := api.NewHub(logger)

	sinks := []ledger.EventSink{ledger.StoreSink{Store: b.events}}
	if b.analytics != nil {
		sinks = append(sinks, ledger.StoreSink{Store: b.analytics, Label: "clickhouse"})
	}
	sinks = append(sinks, hub)

	rt, err := ledger.NewRuntime(ctx, b.accounts,
		ledger.WithLogger(logger),
		ledger.WithPrograms(program),
		ledger.WithEventSinks(sinks...),
		ledger.WithLockTimeout(cfg.LockTimeout),
		ledger.WithFaucet(cfg.FaucetCap()),
	)
	if err != nil {
		return errors.Wrap(err, "create runtime")
	}

	srv := api.NewServer(api.Config{
		Runtime: rt,
		Program: program,
		Events:  b.events,
		Hub:     hub,
		Logger:  logger,
		Metrics: cfg.MetricsEnabled,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.ListenAddr)
	}
	httpServer := &http.Server{
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("serving",
		zap.Stringer("addr", ln.Addr()),
		zap.String("store", cfg.Store),
		zap.Stringer("program", cfg.ProgramID),
		zap.Bool("faucet", cfg.FaucetEnabled),
	)
	if ready != nil {
		ready(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve http")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(uptimeInterval)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-gctx.Done():
				observability.RecordUptime(time.Since(last))
				return nil
			case now := <-ticker.C:
				observability.RecordUptime(now.Sub(last))
				last = now
			}
		}
	})
	return g.Wait()
}
