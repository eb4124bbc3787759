package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"
	"gopkg.in/tomb.v2"

	"github.com/iremturen/stofina-sub001/internal/broadcast"
	"github.com/iremturen/stofina-sub001/internal/config"
	"github.com/iremturen/stofina-sub001/internal/domain"
	"github.com/iremturen/stofina-sub001/internal/engine"
	"github.com/iremturen/stofina-sub001/internal/handler"
	"github.com/iremturen/stofina-sub001/internal/ledger"
	"github.com/iremturen/stofina-sub001/internal/pricefeed"
	"github.com/iremturen/stofina-sub001/internal/service"
	"github.com/iremturen/stofina-sub001/internal/store"
	"github.com/iremturen/stofina-sub001/internal/worker"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("venue stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if cfg.PyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "stofina.venue",
			ServerAddress:   cfg.PyroscopeAddr,
			Logger:          profilerLogger{logger},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
				pyroscope.ProfileGoroutines,
			},
		})
		if err != nil {
			return fmt.Errorf("start profiler: %w", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores. Trades survive restarts when a journal directory is set.
	var journal store.Journal
	if cfg.JournalDir != "" {
		pj, err := store.OpenPebbleJournal(cfg.JournalDir)
		if err != nil {
			return fmt.Errorf("open trade journal: %w", err)
		}
		defer pj.Close()
		journal = pj
	}
	orders := store.NewOrderStore()
	trades := store.NewTradeStore(journal)
	if err := trades.Load(); err != nil {
		return fmt.Errorf("replay trade journal: %w", err)
	}
	watchers := store.NewWatcherStore()
	symbols := domain.NewSymbolRegistry(cfg.Symbols...)

	// Market data.
	feed := pricefeed.NewMemoryFeed(logger)
	rng := engine.NewRandomSource()
	var background tomb.Tomb
	if len(cfg.KafkaBrokers) > 0 {
		reader := pricefeed.NewKafkaTickReader(cfg.KafkaBrokers, cfg.KafkaTicksTopic, "stofina-venue", feed, logger)
		defer reader.Close()
		background.Go(func() error { return reader.Run(ctx) })
	} else {
		sim := pricefeed.NewSimulator(feed, cfg.Symbols, cfg.SeedPrice, cfg.TickVolatility, rng)
		background.Go(func() error { return sim.Run(ctx, cfg.TickInterval) })
		logger.Info("no tick topic configured, simulating prices",
			slog.Int64("seed_price", cfg.SeedPrice),
			slog.String("volatility", cfg.TickVolatility.String()),
		)
	}

	// Ledger saga, in-process unless an external ledger is configured.
	var (
		transport ledger.Transport
		mem       *ledger.MemoryLedger
	)
	if cfg.LedgerURL != "" {
		transport = ledger.NewHTTPTransport(cfg.LedgerURL, cfg.LedgerTimeout)
	} else {
		mem = ledger.NewMemoryLedger(ledger.MemoryConfig{
			AutoOpen:      true,
			InitialCash:   cfg.LedgerInitialCash,
			InitialShares: cfg.LedgerInitialShares,
		})
		transport = mem
	}
	saga := ledger.NewSaga(transport, ledger.SagaConfig{
		Attempts: cfg.LedgerRetries,
		Timeout:  cfg.LedgerTimeout,
		Backoff:  ledger.Backoff{Min: cfg.LedgerBackoff, Max: 20 * cfg.LedgerBackoff, Factor: 2},
	}, logger)

	// Broadcasting.
	pubs := broadcast.Fanout{broadcast.NewLogPublisher(logger, slog.LevelDebug)}
	if len(cfg.KafkaBrokers) > 0 {
		pubs = append(pubs, broadcast.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic))
	}
	if cfg.BroadcastWebhookURL != "" {
		pubs = append(pubs, broadcast.NewWebhookPublisher(cfg.BroadcastWebhookURL, cfg.WebhookTimeout))
	}
	notifier := broadcast.NewNotifier(pubs, 1024, cfg.WebhookTimeout, logger)
	notifier.Start(ctx)

	pool := worker.New(cfg.Workers, cfg.WorkerQueue, logger)
	pool.Start(ctx)

	// Engine.
	calendar, err := engine.NewCalendar(cfg.MarketTimezone, cfg.MarketOpen, cfg.MarketClose)
	if err != nil {
		return fmt.Errorf("market calendar: %w", err)
	}
	mcfg := engine.DefaultMatcherConfig()
	mcfg.Tolerance = cfg.PriceTolerance
	books := engine.NewBookManager()
	matcher := engine.NewMatcher(mcfg, books, orders, trades, watchers, feed, saga, rng, notifier, logger)
	monitor := engine.NewStopLossMonitor(books, orders, watchers, notifier, logger)
	expiry := engine.NewExpiryManager(matcher, orders, logger)

	maintenance := engine.NewMaintenance(engine.MaintenanceDeps{
		Symbols:   symbols,
		Books:     books,
		Generator: engine.NewDisplayBookGenerator(books, rng, engine.DefaultTiers),
		Matcher:   matcher,
		Expiry:    expiry,
		Monitor:   monitor,
		Calendar:  calendar,
		Prices:    feed,
		Orders:    orders,
		Pool:      pool,
		Notifier:  notifier,
		Logger:    logger,
		Depth:     mcfg.SnapshotDepth,
	})
	scheduler := engine.NewScheduler(logger, maintenance.Tasks(engine.Intervals{
		DisplayRefresh: cfg.DisplayRefreshInterval,
		MatchingSweep:  cfg.MatchSweepInterval,
		Expiry:         cfg.ExpirationInterval,
		Phase:          cfg.PhaseInterval,
		WatcherCleanup: cfg.WatcherCleanupInterval,
	})...)
	scheduler.Start(ctx)

	// Services.
	orderSvc := service.NewOrderService(service.OrderServiceDeps{
		Matcher:   matcher,
		Monitor:   monitor,
		Expiry:    expiry,
		Calendar:  calendar,
		Orders:    orders,
		Watchers:  watchers,
		Prices:    feed,
		Reserver:  saga,
		Pool:      pool,
		Symbols:   symbols,
		Tolerance: mcfg.Tolerance,
		Logger:    logger,
	})
	marketSvc := service.NewMarketService(books, trades, feed, maintenance, calendar, symbols, cfg.VWAPWindow)
	var accountSvc *service.AccountService
	if mem != nil {
		accountSvc = service.NewAccountService(mem, symbols)
	}

	ticks, unsubscribe := feed.Subscribe(256)
	defer unsubscribe()
	background.Go(func() error { return orderSvc.RunStopLoss(ctx, ticks) })

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(orderSvc, marketSvc, accountSvc, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.Any("symbols", cfg.Symbols),
			slog.Bool("external_ledger", mem == nil),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Wait for SIGINT/SIGTERM, a failed listener or a dead background loop.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case runErr = <-serveErr:
	case <-background.Dying():
		runErr = background.Err()
	}

	// Graceful shutdown: stop intake first, then the loops that feed it.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	background.Kill(nil)
	if err := background.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	if err := scheduler.Stop(); err != nil {
		logger.Error("scheduler shutdown error", slog.String("error", err.Error()))
	}
	if err := pool.Stop(); err != nil {
		logger.Error("worker pool shutdown error", slog.String("error", err.Error()))
	}
	if err := notifier.Stop(); err != nil {
		logger.Error("notifier shutdown error", slog.String("error", err.Error()))
	}
	if err := pubs.Close(); err != nil {
		logger.Error("publisher close error", slog.String("error", err.Error()))
	}
	return runErr
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// profilerLogger routes pyroscope's printf-style logging into slog.
type profilerLogger struct {
	logger *slog.Logger
}

func (l profilerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "pyroscope"))
}

func (l profilerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "pyroscope"))
}

func (l profilerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "pyroscope"))
}
