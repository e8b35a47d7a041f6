package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis/exitengine/internal/api"
	"github.com/wonny/aegis/exitengine/internal/api/handlers"
	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/execution"
	"github.com/wonny/aegis/exitengine/internal/exit"
	"github.com/wonny/aegis/exitengine/internal/external/exchange"
	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/internal/realtime/feed"
	"github.com/wonny/aegis/exitengine/internal/scheduler"
	"github.com/wonny/aegis/exitengine/internal/scheduler/jobs"
	"github.com/wonny/aegis/exitengine/internal/strategyconfig"
	"github.com/wonny/aegis/exitengine/internal/volatility"
	"github.com/wonny/aegis/exitengine/pkg/config"
	"github.com/wonny/aegis/exitengine/pkg/database"
	"github.com/wonny/aegis/exitengine/pkg/logger"
	"github.com/wonny/aegis/exitengine/pkg/redis"
)

// runCmd starts the monitor loop, the scheduler and the API server
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "청산 엔진 시작",
	Long: `포지션 모니터, 스케줄러, API 서버를 함께 시작합니다.

이 명령어는:
- 틱마다 OPEN 포지션 평가 + 청산
- 변동성 프로필 / 캔들 / 스트림 구독 주기 갱신
- REST API + /metrics 제공

Endpoints:
  GET  /health
  GET  /metrics
  GET  /api/monitor/status
  GET  /api/positions            (?status=open|closed)
  POST /api/positions
  GET  /api/positions/{id}
  POST /api/positions/{id}/close
  GET  /api/profiles
  GET  /api/profiles/{symbol}
  GET  /api/outcomes             (DATABASE_URL 설정 시)

Example:
  go run ./cmd/exitengine run
  go run ./cmd/exitengine run --port 8090 --rules ./rules.yaml`,
	RunE: runEngine,
}

var (
	runPort string
)

// candle history kept in sync per symbol (hourly candles)
const candleSyncLimit = 200

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runPort, "port", "", "API 서버 포트 (default: PORT)")
}

func runEngine(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Exit Engine ===")

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runPort != "" {
		cfg.Port = runPort
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Exit rules
	rules, snap, err := loadRules(cfg.Engine)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	for _, w := range strategyconfig.Warn(rules) {
		log.WithField("code", w.Code).Warn(w.Message)
	}
	eng, err := exit.NewEngine(&rules.Exit)
	if err != nil {
		return fmt.Errorf("build exit engine: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"rules_id":       snap.RulesID,
		"rules_hash":     snap.ConfigHash,
		"pure_rule_mode": rules.Exit.PureRuleMode,
		"tick_interval":  rules.Exit.TickInterval.String(),
		"port":           cfg.Port,
		"env":            cfg.Env,
	}).Info("Initializing exit engine")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Redis (optional)
	rdb, err := redis.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()
	shared := redis.NewCache(rdb, "exitengine")

	// 5. Exchange client
	exchangeClient := exchange.NewClient(cfg.Exchange, log)

	// 6. Database (optional): candles + trade outcomes
	var (
		db        *database.DB
		dbCandles *volatility.DBCandleProvider
		repo      *execution.Repository
	)
	candles := contracts.CandleProvider(exchangeClient)
	sink := contracts.TradeOutcomeSink(execution.NewLogSink(log))

	if cfg.Database.Enabled() {
		db, err = database.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		health := db.HealthCheck(ctx)
		log.WithFields(map[string]interface{}{
			"response_time": health.ResponseTime.String(),
			"total_conns":   health.TotalConns,
		}).Info("Connected to database")

		dbCandles = volatility.NewDBCandleProvider(db.Pool)
		candles = volatility.NewFallbackCandleProvider(dbCandles, exchangeClient)
		repo = execution.NewRepository(db.Pool)
		sink = execution.MultiSink{repo, sink}
	}

	// 7. Quotes + tolerance profiles
	quotes := cache.NewPriceCache(rules.Exit.QuoteTTL, shared, log)
	profiles := volatility.NewBuilder(candles, shared, rules.Exit.ProfileTTL, log)

	// 8. Execution
	store := execution.NewPositionStore()
	defer store.Stop()

	prices := execution.NewPriceChain(
		exchangeClient.PrimarySource(),
		exchangeClient.SecondarySource(),
		quotes,
		rules.Exit.PriceRetryAttempts,
		rules.Exit.PriceRetryBackoff,
		log,
	)

	executor := contracts.OrderExecutor(exchangeClient)
	if cfg.Exchange.Paper {
		executor = execution.NewPaperBroker(exchangeClient.PrimarySource(), log)
		log.Warn("Paper execution enabled: no market orders are sent")
	}

	reg := prometheus.NewRegistry()
	var metrics *execution.Metrics
	if cfg.MetricsEnabled {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = execution.NewMetrics(reg)
	}

	monitor, err := execution.NewPositionMonitor(execution.MonitorDeps{
		Engine:        eng,
		Store:         store,
		Prices:        prices,
		Profiles:      profiles,
		Executor:      executor,
		Sink:          sink,
		Metrics:       metrics,
		Logger:        log,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
	})
	if err != nil {
		return fmt.Errorf("create monitor: %w", err)
	}

	// 9. Stream (optional)
	var stream *feed.StreamClient
	if cfg.Exchange.StreamURL != "" {
		stream = feed.NewStreamClient(cfg.Exchange.StreamURL, quotes, log)
	}

	// 10. Scheduler
	sched, err := newScheduler(log, cfg, store, quotes, profiles, stream, exchangeClient, dbCandles)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	// 11. API
	monitorHandler := handlers.NewMonitorHandler(monitor, quotes, sched, snap)
	if db != nil {
		monitorHandler.AddHealthCheck("database", db)
	}
	if rdb.Enabled() {
		monitorHandler.AddHealthCheck("redis", rdb)
	}

	deps := api.RouterDeps{
		Monitor:   monitorHandler,
		Positions: handlers.NewPositionHandler(monitor, log),
		Profiles:  handlers.NewProfileHandler(profiles),
	}
	if repo != nil {
		deps.Outcomes = handlers.NewOutcomeHandler(repo, log)
	}
	if cfg.MetricsEnabled {
		deps.Metrics = reg
	}
	server := api.New(cfg, log, api.NewRouter(deps, log))

	// 12. Warm up the static watch list
	if len(cfg.Engine.Symbols) > 0 {
		n := profiles.Refresh(ctx, cfg.Engine.Symbols)
		log.WithField("profiles", n).Info("Tolerance profiles warmed up")
		if stream != nil {
			stream.SetSymbols(cfg.Engine.Symbols)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	if stream != nil {
		g.Go(func() error {
			return stream.Run(gctx)
		})
	}
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down exit engine...")

		sched.Stop()

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	sched.Start()

	fmt.Printf("\n✅ Exit engine running on http://localhost:%s\n", cfg.Port)
	fmt.Println("\nRegistered jobs:")
	for _, name := range sched.GetAllJobs() {
		fmt.Printf("  - %s\n", name)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		return err
	}

	log.WithField("exits", monitor.Stats().Exits).Info("Exit engine stopped")
	return nil
}

// newScheduler registers the maintenance jobs that the configured components support
func newScheduler(
	log *logger.Logger,
	cfg *config.Config,
	store *execution.PositionStore,
	quotes *cache.PriceCache,
	profiles *volatility.Builder,
	stream *feed.StreamClient,
	exchangeClient *exchange.Client,
	dbCandles *volatility.DBCandleProvider,
) (*scheduler.Scheduler, error) {
	sched := scheduler.New(log)
	watch := cfg.Engine.Symbols

	toAdd := []scheduler.Job{
		jobs.NewCacheCleanupJob(quotes, log),
		jobs.NewProfileRefreshJob(profiles, store, watch, log),
	}
	if stream != nil {
		toAdd = append(toAdd, jobs.NewStreamSymbolsJob(stream, store, watch, log))
	}
	if dbCandles != nil {
		toAdd = append(toAdd, jobs.NewCandleSyncJob(exchangeClient, dbCandles, store, watch, candleSyncLimit, log))
	}

	for _, job := range toAdd {
		if err := sched.AddJob(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
