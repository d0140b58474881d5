package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/virgolamobile/observatory/internal/bridge"
	"github.com/virgolamobile/observatory/internal/bus"
	"github.com/virgolamobile/observatory/internal/config"
	"github.com/virgolamobile/observatory/internal/coreplane"
	"github.com/virgolamobile/observatory/internal/decision"
	"github.com/virgolamobile/observatory/internal/docs"
	"github.com/virgolamobile/observatory/internal/drilldown"
	"github.com/virgolamobile/observatory/internal/hostprobe"
	"github.com/virgolamobile/observatory/internal/insights"
	"github.com/virgolamobile/observatory/internal/logging"
	"github.com/virgolamobile/observatory/internal/metrics"
	"github.com/virgolamobile/observatory/internal/runtime"
	"github.com/virgolamobile/observatory/internal/server"
	"github.com/virgolamobile/observatory/internal/state"
)

const registryLookupTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the observatory backend",
	Long: `Start the background readers for the configured mode and serve the
dashboard API, websocket push, and Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "HTTP listen address (default :5050)")
	serveCmd.Flags().String("mode", "", "run mode: legacy, core-only-passive, or auto")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("mode", serveCmd.Flags().Lookup("mode"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	log.Info("observatory starting",
		zap.String("mode", cfg.Mode),
		zap.String("addr", cfg.Server.Addr),
		zap.String("bus", cfg.Paths.BusFile))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	set := metrics.New(registry)

	store := state.New(cfg.Mode)
	hub := server.NewHub(store, set, log)

	history, err := bus.NewHistoryLog(cfg.Paths.HistoryDir)
	if err != nil {
		return fmt.Errorf("failed to prepare history dir: %w", err)
	}
	archive := bus.NewInvalidArchive(cfg.Paths.InvalidDir)
	tailer := bus.NewTailer(cfg.Paths.BusFile, store, history, archive, hub, set, log)

	writer, err := bus.NewWriter(cfg.Paths.BusFile)
	if err != nil {
		return fmt.Errorf("failed to prepare bus writer: %w", err)
	}
	br := bridge.New(cfg.Paths.AgentsRoot, writer, set, log)

	runner := coreplane.NewCLIRunner(cfg.Core.Binary, coreplane.Channels, set, log)
	runLog := coreplane.NewRunLog(cfg.Paths.CronRunsDir)
	poller := coreplane.NewPoller(runner, store, hub, runLog, set, log,
		cfg.Core.PollInterval, cfg.Core.MaxActivations)

	lookup := func() []coreplane.AgentRecord {
		ctx, cancel := context.WithTimeout(context.Background(), registryLookupTimeout)
		defer cancel()
		var agents []coreplane.AgentRecord
		if raw := runner.Query(ctx, coreplane.ChannelAgents, "agents", "list"); raw != nil {
			_ = json.Unmarshal(raw, &agents)
		}
		return agents
	}
	loader := decision.NewContextLoader(lookup, cfg.Paths.Home)

	srv := server.New(
		log,
		store,
		hub,
		insights.NewAggregator(store, hostprobe.NewExecProber(log)),
		drilldown.NewBuilder(store, loader, cfg.Core.MaxActivations),
		docs.NewLibrary(cfg.Paths.DocsDir),
		poller.Capabilities,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supervisor := runtime.New(cfg.Mode, tailer, br, poller, log)
	supervisor.Start(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown incomplete", zap.Error(err))
		}
		supervisor.Wait()
	}

	log.Info("observatory stopped")
	return nil
}
