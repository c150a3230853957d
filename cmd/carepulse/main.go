package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carepulse/carepulse/internal/api"
	"github.com/carepulse/carepulse/internal/cache"
	"github.com/carepulse/carepulse/internal/config"
	"github.com/carepulse/carepulse/internal/cron"
	"github.com/carepulse/carepulse/internal/leaderelection"
	"github.com/carepulse/carepulse/internal/metrics"
	"github.com/carepulse/carepulse/internal/runner"
	"github.com/carepulse/carepulse/internal/schedule"
	"github.com/carepulse/carepulse/internal/store/postgres"
	"github.com/carepulse/carepulse/internal/store/sqlite"
	"github.com/carepulse/carepulse/internal/sweeper"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// triggerStore is the full store surface the service needs: the API
// lifecycle operations plus the sweep claim/advance operations. Both
// the postgres and sqlite stores satisfy it.
type triggerStore interface {
	api.Store
	sweeper.Store
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "sweep":
		os.Exit(runSweep())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`carepulse - recurring check-in trigger scheduler

Usage:
  carepulse <command>

Commands:
  serve      Start the HTTP API and the due-trigger sweep loop
  sweep      Run a single sweep batch and exit
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  SCHEDULER_TOKEN           Static bearer token for the API (required)
  DB_DRIVER                 Store backend: "postgres" or "sqlite" (default: "postgres")
  DATABASE_URL              PostgreSQL connection string (required for postgres)
  SQLITE_PATH               SQLite database file (default: "carepulse.db")
  REDIS_ADDR                Redis address for alert dedup (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  SWEEP_INTERVAL            Interval between sweeps (default: "1m")
  SWEEP_SCHEDULE            Cron expression overriding SWEEP_INTERVAL (optional)
  SWEEP_BATCH_SIZE          Max triggers claimed per sweep (default: "25")
  SWEEP_CLAIM_LEASE         How long a claim hides a trigger (default: "5m")
  SWEEP_STALE_AFTER         Overdue age advanced without an alert (default: "24h")
  DEDUP_WINDOW              Per-subject alert window, "0" disables (default: "0")

  DEFAULT_CHECKIN_HOUR      Default check-in hour 0-23 (default: "9")
  DEFAULT_CHECKIN_MINUTE    Default check-in minute 0-59 (default: "0")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  LEADER_ELECT_ENABLED      Advisory-lock election, postgres only (default: "true")
  LEADER_LOCK_KEY           Advisory lock key shared by all instances (default: "615243")
  LEADER_RETRY_INTERVAL     Election retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection heartbeat (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	calc := schedule.NewCalculator()

	store, db, closeStore, err := openStore(cfg, calc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer closeStore()

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("carepulse: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Metrics are served on a separate port so the scrape endpoint
		// never sits behind the bearer token.
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("carepulse: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("carepulse: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("carepulse: METRICS_ENABLED not set; metrics disabled")
	}

	sw := sweeper.New(
		sweeper.Config{
			StaleAfter:  cfg.SweepStaleAfter,
			DedupWindow: cfg.DedupWindow,
		},
		store,
	)
	if metricsSink != nil {
		sw = sw.WithMetrics(metricsSink)
	}

	var dedupCache cache.Cache
	if cfg.DedupWindow > 0 {
		dedupCache, err = openDedupCache(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to redis: %v\n", err)
			return exitRuntimeError
		}
		defer dedupCache.Close()
		sw = sw.WithDedup(dedupCache)
	}

	apiHandler := api.NewHandler(store, sw, calc, cfg.SchedulerToken).
		WithCheckinDefaults(cfg.DefaultCheckinHour, cfg.DefaultCheckinMinute)
	if db != nil {
		apiHandler = apiHandler.WithHealthChecker(db)
	}
	if metricsSink != nil {
		apiHandler = apiHandler.WithMetrics(metricsSink)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("carepulse: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("carepulse: http server error: %v", err)
		}
	}()

	runnerCfg := runner.Config{
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatchSize,
	}
	if cfg.SweepSchedule != "" {
		sched, err := cron.NewParser().Parse(cfg.SweepSchedule, "UTC")
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid SWEEP_SCHEDULE: %v\n", err)
			return exitInvalidConfig
		}
		runnerCfg.Schedule = sched
	}
	run := runner.New(runnerCfg, sw)

	// The sweep loop runs on exactly one instance. With postgres the
	// advisory-lock elector decides which; sqlite is single-instance by
	// construction so the loop starts directly.
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	var loopWg sync.WaitGroup

	if db != nil && cfg.LeaderElectEnabled {
		var runnerWg sync.WaitGroup
		onElected := func(ctx context.Context) {
			runnerWg.Add(1)
			go func() {
				defer runnerWg.Done()
				_ = run.Run(ctx)
			}()
		}
		onDemoted := func() {
			runnerWg.Wait()
		}

		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			onElected,
			onDemoted,
		)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}

		loopWg.Add(1)
		go func() {
			defer loopWg.Done()
			elector.Run(loopCtx)
		}()
	} else {
		loopWg.Add(1)
		go func() {
			defer loopWg.Done()
			_ = run.Run(loopCtx)
		}()
	}

	log.Printf("carepulse: started (driver=%s, http=%s, batch=%d)", cfg.DBDriver, cfg.HTTPAddr, cfg.SweepBatchSize)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("carepulse: received signal %v, shutting down", received)

	// Phase 1: Stop the sweep loop (and elector) so no batch is claimed
	// mid-shutdown.
	log.Println("carepulse: stopping sweep loop...")
	cancelLoop()
	loopWg.Wait()
	log.Println("carepulse: sweep loop stopped")

	// Phase 2: Stop HTTP server with graceful shutdown
	log.Println("carepulse: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("carepulse: http server shutdown error: %v", err)
	}
	log.Println("carepulse: http server stopped")

	// Phase 3: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("carepulse: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("carepulse: metrics server shutdown error: %v", err)
		}
		log.Println("carepulse: metrics server stopped")
	}

	log.Println("carepulse: stopped")
	return exitSuccess
}

// runSweep processes a single due batch and exits. Useful for ad-hoc
// catch-up and for platforms that schedule one-shot jobs externally.
func runSweep() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	calc := schedule.NewCalculator()

	store, _, closeStore, err := openStore(cfg, calc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer closeStore()

	sw := sweeper.New(
		sweeper.Config{
			StaleAfter:  cfg.SweepStaleAfter,
			DedupWindow: cfg.DedupWindow,
		},
		store,
	)
	if cfg.DedupWindow > 0 {
		dedupCache, err := openDedupCache(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to redis: %v\n", err)
			return exitRuntimeError
		}
		defer dedupCache.Close()
		sw = sw.WithDedup(dedupCache)
	}

	processed, err := sw.Sweep(context.Background(), cfg.SweepBatchSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		return exitRuntimeError
	}

	fmt.Printf("sweep complete: %d trigger(s) processed\n", processed)
	return exitSuccess
}

// openStore opens the configured store backend. The returned *sql.DB is
// non-nil only for postgres; sqlite keeps its handle internal.
func openStore(cfg config.Config, calc *schedule.Calculator) (triggerStore, *sql.DB, func(), error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

		log.Printf("carepulse: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := probeTriggersTable(db); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("triggers table not found (apply the schema migrations first): %w", err)
		}

		store := postgres.New(db, calc, cfg.DBOpTimeout).WithClaimLease(cfg.SweepClaimLease)
		return store, db, func() { db.Close() }, nil

	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath, calc)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		store = store.WithClaimLease(cfg.SweepClaimLease)
		log.Printf("carepulse: sqlite store opened (path=%s)", cfg.SQLitePath)
		return store, nil, func() { store.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

func openDedupCache(cfg config.Config) (cache.Cache, error) {
	if cfg.RedisAddr != "" {
		c, err := cache.NewRedis(context.Background(), cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		log.Printf("carepulse: alert dedup enabled (window=%s, redis=%s)", cfg.DedupWindow, cfg.RedisAddr)
		return c, nil
	}
	log.Printf("carepulse: alert dedup enabled (window=%s, in-memory)", cfg.DedupWindow)
	return cache.NewMemory(), nil
}

// probeTriggersTable verifies the triggers table exists before serving.
// The schema is managed by external migrations; failing fast here beats
// erroring on the first request.
func probeTriggersTable(db *sql.DB) error {
	var n int
	return db.QueryRow(`SELECT count(*) FROM triggers WHERE false`).Scan(&n)
}

// logConfigWarnings flags configuration combinations that are valid but
// likely not what an operator wants in production.
func logConfigWarnings(cfg *config.Config) {
	if cfg.DedupWindow > 0 && cfg.RedisAddr == "" {
		log.Println("carepulse: WARNING [P0]: DEDUP_WINDOW set with REDIS_ADDR unset; the in-memory dedup guard is per-instance and resets on restart")
	}

	if !cfg.MetricsEnabled {
		log.Println("carepulse: WARNING [P1]: METRICS_ENABLED=false; sweep outcomes and alert failures will not be visible to monitoring")
	}

	if cfg.DBDriver == "postgres" && !cfg.LeaderElectEnabled {
		log.Println("carepulse: INFO: LEADER_ELECT_ENABLED=false; the sweep loop starts unconditionally, run a single replica")
	}

	if cfg.DBDriver == "sqlite" {
		log.Println("carepulse: INFO: DB_DRIVER=sqlite; single-instance mode, leader election disabled")
	}

	if cfg.SweepSchedule != "" {
		log.Printf("carepulse: INFO: SWEEP_SCHEDULE=%q overrides SWEEP_INTERVAL", cfg.SweepSchedule)
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("carepulse version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
