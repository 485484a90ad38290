// File: cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpAdapter "github.com/AutoCookies/pomai-memberttl/internal/adapter/http"
	"github.com/AutoCookies/pomai-memberttl/internal/adapter/persistence"
	"github.com/AutoCookies/pomai-memberttl/internal/adapter/redisstore"
	tcpAdapter "github.com/AutoCookies/pomai-memberttl/internal/adapter/tcp"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/tenants"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/ttl"
)

const (
	Version     = "1.0.0"
	ServiceName = "Pomai Member TTL"
)

func main() {
	_ = godotenv.Load()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("configuration error", "err", err)
	}
	logger.SetLevel(cfg.LogLevel)

	printBanner(cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dsFactory, closeRedis, err := setupDataStore(cfg, logger)
	if err != nil {
		logger.Fatal("data store", "err", err)
	}
	defer closeRedis()

	ttlCfg := ttl.DefaultConfig()
	ttlCfg.Interval = cfg.ReaperInterval
	ttlCfg.QueueSize = cfg.PendingQueueSize
	ttlCfg.Overflow = cfg.PendingOverflow

	tm := tenants.NewManager(tenants.Options{
		ShardCount: cfg.CacheShards,
		TTL:        ttlCfg,
		DataStore:  dsFactory,
		Registerer: reg,
		Logger:     logger,
	})

	sp, closeSnapshots := setupPersistence(cfg, tm, logger)
	defer closeSnapshots()

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	persistence.PeriodicSnapshot(rootCtx, sp, tm, cfg.SnapshotInterval, logger)

	httpSrv, tcpSrv := startServers(cfg, tm, reg, logger)

	waitForReady(cfg.HTTPPort, logger)
	logger.Info("all services ready")

	gracefulShutdown(cfg, httpSrv, tcpSrv, sp, tm, cancelRoot, logger)
}

// setupDataStore picks where expiring members are removed from. With
// REDIS_ADDR set every tenant's engine targets Redis under "<tenant>:" and
// the server's own data commands are refused for those tenants.
func setupDataStore(cfg *Config, logger *log.Logger) (tenants.DataStoreFactory, func(), error) {
	if cfg.RedisAddr == "" {
		return tenants.InMemory, func() {}, nil
	}

	base, err := redisstore.Dial(context.Background(), redisstore.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Timeout:  cfg.RedisTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("expiring members from redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)

	factory := redisstore.TenantFactory(base)
	closeFn := func() {
		if err := base.Close(); err != nil {
			logger.Warn("redis close", "err", err)
		}
	}
	return factory, closeFn, nil
}

func setupPersistence(cfg *Config, tm *tenants.Manager, logger *log.Logger) (persistence.Snapshotter, func()) {
	var (
		sp      persistence.Snapshotter
		closeFn = func() {}
	)

	switch cfg.PersistenceType {
	case "file":
		sp = persistence.NewFileSnapshotter(cfg.DataDir)
	case "pebble":
		ps, err := persistence.OpenPebbleSnapshotter(cfg.DataDir, true)
		if err != nil {
			logger.Fatal("open snapshot database", "dir", cfg.DataDir, "err", err)
		}
		sp = ps
		closeFn = func() {
			if err := ps.Close(); err != nil {
				logger.Warn("snapshot database close", "err", err)
			}
		}
	default:
		logger.Info("persistence disabled")
		return persistence.NewNoOpSnapshotter(), closeFn
	}

	n, err := persistence.RestoreAll(sp, tm, logger)
	if err != nil {
		logger.Fatal("restore snapshots", "dir", cfg.DataDir, "err", err)
	}
	logger.Info("persistence enabled", "type", cfg.PersistenceType, "dir", cfg.DataDir, "restored_keys", n)
	return sp, closeFn
}

func startServers(cfg *Config, tm *tenants.Manager, reg *prometheus.Registry, logger *log.Logger) (*httpAdapter.Server, *tcpAdapter.PomaiServer) {
	httpSrv := httpAdapter.NewServer(tm, httpAdapter.Config{
		ReadTimeout:   cfg.HTTPReadTimeout,
		WriteTimeout:  cfg.HTTPWriteTimeout,
		IdleTimeout:   cfg.HTTPIdleTimeout,
		EnableCORS:    cfg.EnableCORS,
		EnableMetrics: cfg.EnableMetrics,
		Gatherer:      reg,
	}, logger)

	go func() {
		if err := httpSrv.ListenAndServe(":" + cfg.HTTPPort); err != nil {
			logger.Fatal("HTTP server error", "err", err)
		}
	}()

	tcpSrv := tcpAdapter.NewPomaiServer(tm, logger)

	go func() {
		if err := tcpSrv.ListenAndServe(":" + cfg.TCPPort); err != nil {
			logger.Fatal("TCP server error", "err", err)
		}
	}()

	return httpSrv, tcpSrv
}

func waitForReady(port string, logger *log.Logger) {
	maxRetries := 50
	retryDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		resp, err := http.Get("http://localhost:" + port + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(retryDelay)
	}

	logger.Warn("health check timeout")
}

func gracefulShutdown(cfg *Config, httpSrv *httpAdapter.Server, tcpSrv *tcpAdapter.PomaiServer,
	sp persistence.Snapshotter, tm *tenants.Manager, cancelRoot context.CancelFunc, logger *log.Logger) {

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigCh
	logger.Info("signal received, shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "err", err)
	}
	if err := tcpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("TCP shutdown error", "err", err)
	}

	cancelRoot()
	tm.Close()

	if err := persistence.SnapshotAll(sp, tm, logger); err != nil {
		logger.Error("final snapshot incomplete", "err", err)
	}

	printFinalStats(tm, logger)
	logger.Info("shutdown complete")
}

func printBanner(cfg *Config) {
	banner := `
========================================
   %s v%s
========================================
  Go:             %s
  CPU:            %d cores
  HTTP:           :%s
  TCP:            :%s (gnet)
  Shards:         %d
  Reaper:         every %s
  Pending queue:  %d (%s on overflow)
  Persistence:    %s
  Redis:          %s
========================================
`
	redis := "disabled"
	if cfg.RedisAddr != "" {
		redis = cfg.RedisAddr
	}

	fmt.Printf(banner,
		ServiceName,
		Version,
		runtime.Version(),
		runtime.NumCPU(),
		cfg.HTTPPort,
		cfg.TCPPort,
		cfg.CacheShards,
		cfg.ReaperInterval,
		cfg.PendingQueueSize,
		cfg.PendingOverflow,
		cfg.PersistenceType,
		redis,
	)
}

func printFinalStats(tm *tenants.Manager, logger *log.Logger) {
	for id, st := range tm.StatsAll() {
		logger.Info("tenant",
			"id", id,
			"keys", st.Store.Keys,
			"members", st.Store.Members,
			"size", formatBytes(st.Store.Bytes),
			"expired", st.TTL.Expired,
			"active_ttls", st.TTL.Active,
		)
	}
}
