// Package main is the liquidation agent's process entrypoint: it wires
// the exchange client, asset registry, liquidation engine, balance
// feed, and status HTTP server together, runs the startup cold pass,
// and streams balance events until told to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klingon-exchange/autosell/internal/config"
	"github.com/klingon-exchange/autosell/internal/engine"
	"github.com/klingon-exchange/autosell/internal/exchange"
	"github.com/klingon-exchange/autosell/internal/feed"
	"github.com/klingon-exchange/autosell/internal/httpapi"
	"github.com/klingon-exchange/autosell/internal/registry"
	"github.com/klingon-exchange/autosell/internal/status"
	"github.com/klingon-exchange/autosell/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

// shutdownGracePeriod bounds how long shutdown waits for an in-flight
// sell cycle to reach a stable state before exiting anyway.
const shutdownGracePeriod = 30 * time.Second

func main() {
	var (
		httpAddr    = flag.String("http-addr", "", "status API bind address, overrides HTTP_ADDR")
		logLevel    = flag.String("log-level", "", "log level (debug, info, warn, error), overrides DEBUG")
		showVersion = flag.Bool("version", false, "show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("autosell %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("failed to load configuration", "error", err)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}

	level := cfg.LogLevel()
	if *logLevel != "" {
		level = *logLevel
	}
	log := logging.New(&logging.Config{
		Level:      level,
		TimeFormat: time.TimeOnly,
		Output:     logging.NewMultiWriter(sinkFor(cfg)),
	})
	logging.SetDefault(log)

	client, err := exchange.NewClient(cfg.APIKey, cfg.APISecret)
	if err != nil {
		log.Fatal("failed to construct exchange client", "error", err)
	}
	if cfg.Sandbox {
		client.UseSandbox()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// engineCtx is cancelled only after WaitIdle at shutdown, so stopping
	// the feed does not abort a sell cycle that is already in flight.
	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()

	reg := registry.New()
	if err := reg.Load(ctx, client); err != nil {
		log.Fatal("failed to load tradable pair catalog", "error", err)
	}
	log.Info("asset registry loaded")

	eng := engine.New(client, reg, cfg.TargetFiat)

	log.Info("running startup cold pass")
	if err := eng.ColdPass(engineCtx); err != nil {
		log.Fatal("cold pass failed", "error", err)
	}
	log.Info("startup cold pass complete")

	bal := feed.New(client,
		func(snap feed.BalanceSnapshot) { eng.HandleSnapshot(engineCtx, snap) },
		func(ev exchange.BalanceEvent) { eng.HandleUpdate(engineCtx, ev) },
	)
	if cfg.Sandbox {
		bal.UseSandbox()
	}
	go bal.Run(ctx)
	log.Info("balance feed started")

	reporter := status.New(eng, bal)
	api := httpapi.New(reporter, eng, client)
	if err := api.Start(cfg.HTTPAddr); err != nil {
		log.Fatal("failed to start status server", "error", err)
	}

	printBanner(log, cfg)

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := reporter.Status()
				log.Info("status",
					"initial_pass_complete", snap.InitialPassComplete,
					"feed_connected", snap.FeedConnected,
					"assets_tracked", len(snap.Balances),
					"uptime", reporter.Uptime().Round(time.Second),
				)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")

	cancel()

	if !eng.WaitIdle(shutdownGracePeriod) {
		log.Warn("shutdown grace period elapsed with a sell cycle still in flight")
	}
	engineCancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := api.Stop(stopCtx); err != nil {
		log.Error("error stopping status server", "error", err)
	}

	log.Info("goodbye")
}

func sinkFor(cfg *config.Config) *logging.SinkWriter {
	if cfg.LogSinkURL == "" {
		return nil
	}
	return logging.NewSinkWriter(cfg.LogSinkURL, cfg.LogSinkToken)
}

func printBanner(log *logging.Logger, cfg *config.Config) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  autosell liquidation agent")
	log.Infof("  version: %s", version)
	log.Info("=================================================")
	log.Infof("  target fiat: %s", cfg.TargetFiat)
	log.Infof("  sandbox: %v", cfg.Sandbox)
	log.Infof("  status API: http://%s", cfg.HTTPAddr)
	log.Info("=================================================")
	log.Info("")
}
