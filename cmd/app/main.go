package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"trade_sim/internal/app"
	"trade_sim/internal/domain"
	"trade_sim/internal/event"

	_ "net/http/pprof" // For pprof profiling
)

var (
	configPath    string
	pprofAddr     string
	asset         string
	orderType     string
	quantityUSD   float64
	volatilityPct float64
	feeTier       string
	runDuration   time.Duration
)

// rootCmd streams an OKX orderbook and prints one cost estimate per tick as JSON.
var rootCmd = &cobra.Command{
	Use:   "trade_sim",
	Short: "Real-time trading cost simulator",
	Long: `trade_sim subscribes to an OKX orderbook websocket and estimates the cost of a
market order on every tick: slippage, market impact, maker/taker split and fees.

Example usage:
  trade_sim --asset BTC-USDT-SWAP --quantity 100 --fee-tier mid
  trade_sim --volatility 2.5 --duration 30s
  trade_sim runs --limit 5`,
	SilenceUsage: true,
	RunE:         runSimulation,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", app.DefaultConfigPath, "Path to configuration file")

	f := rootCmd.Flags()
	f.StringVar(&asset, "asset", "", "Instrument id, e.g. BTC-USDT-SWAP")
	f.StringVar(&orderType, "order-type", "", "Order type (market|limit|stop)")
	f.Float64Var(&quantityUSD, "quantity", 0, "Order size in USD")
	f.Float64Var(&volatilityPct, "volatility", 0, "Volatility in percent")
	f.StringVar(&feeTier, "fee-tier", "", "Fee tier (low|mid|high)")
	f.DurationVar(&runDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	f.StringVar(&pprofAddr, "pprof", "localhost:6060", "pprof listen address (empty disables)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// paramsFromFlags overlays explicitly set flags on the configured defaults.
func paramsFromFlags(cmd *cobra.Command, base domain.SimulationParams) domain.SimulationParams {
	f := cmd.Flags()
	if f.Changed("asset") {
		base.Asset = asset
	}
	if f.Changed("order-type") {
		base.OrderType = domain.OrderType(orderType)
	}
	if f.Changed("quantity") {
		base.QuantityUSD = quantityUSD
	}
	if f.Changed("volatility") {
		base.VolatilityPct = volatilityPct
	}
	if f.Changed("fee-tier") {
		base.FeeTier = domain.FeeTier(feeTier)
	}
	return base
}

func runSimulation(cmd *cobra.Command, args []string) error {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(configPath); err != nil {
		return fmt.Errorf("bootstrapping failed: %w", err)
	}
	defer bootstrap.Close()
	cfg := bootstrap.Config

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}

	// 3. Pprof Server (for performance profiling)
	if pprofAddr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", pprofAddr))
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 4. Prometheus endpoint
	if cfg.Metrics.Enabled {
		srv := metricsServer(cfg.Metrics.Addr, bootstrap.Registry)
		go func() {
			slog.Info("📈 Metrics server started", slog.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// 5. Event consumer
	params := paramsFromFlags(cmd, cfg.Params)
	recorder := bootstrap.Recorder()
	if recorder != nil {
		recorder.Track(params)
	}
	sim := bootstrap.Simulator
	finished := make(chan error, 1)
	go consume(sim.Events(), recorder, cmd.OutOrStdout(), finished)

	// 6. Simulation
	if err := sim.Start(params); err != nil {
		return err
	}
	slog.InfoContext(ctx, "✨ Simulation running. Press Ctrl+C to stop.", slog.String("asset", params.Asset))

	select {
	case <-ctx.Done():
		slog.Info("👋 Shutting down gracefully...")
		if err := sim.Stop(); err != nil {
			slog.Warn("Stop reported an error", slog.Any("error", err))
		}
		return <-finished
	case err := <-finished:
		return err
	}
}

// consume prints metric records as JSON lines, logs status changes and feeds the
// recorder. It reports the run outcome once the simulator returns to idle.
func consume(events <-chan event.Event, recorder *app.Recorder, out io.Writer, finished chan<- error) {
	enc := json.NewEncoder(out)
	started := false
	var fatal error

	for ev := range events {
		if recorder != nil {
			recorder.Handle(ev)
		}

		switch e := ev.(type) {
		case *event.MetricEvent:
			if err := enc.Encode(e.Record); err != nil {
				slog.Warn("Failed to write metric", slog.Any("error", err))
			}

		case *event.StatusEvent:
			logStatus(e)
			if e.IsFatal() {
				fatal = e.Err
			}
			switch e.State {
			case event.StateRunning:
				started = true
			case event.StateIdle:
				if started {
					finished <- fatal
					return
				}
			}
		}
	}
}

func logStatus(e *event.StatusEvent) {
	attrs := []any{slog.String("state", string(e.State)), slog.Uint64("seq", e.Seq)}
	switch {
	case e.IsFatal():
		slog.Error(e.Message, append(attrs, slog.String("kind", e.Kind.String()))...)
	case e.IsError():
		slog.Warn(e.Message, append(attrs, slog.String("kind", e.Kind.String()))...)
	default:
		slog.Info(e.Message, attrs...)
	}
}

func metricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
