// Package main implements poold, the mining pool's single orchestrator
// process: it owns the node RPC connection, the template/job lifecycle,
// share validation and PPLNS accounting, the Stratum listener miners
// connect to, and the read-only HTTP status API.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kaspanet/kaspad/util"

	"github.com/kaspool/core/internal/config"
	"github.com/kaspool/core/internal/database"
	"github.com/kaspool/core/internal/database/influx"
	"github.com/kaspool/core/internal/database/postgres"
	"github.com/kaspool/core/internal/database/redis"
	"github.com/kaspool/core/internal/httpapi"
	"github.com/kaspool/core/internal/node"
	"github.com/kaspool/core/internal/pool"
	"github.com/kaspool/core/internal/stratum"
	"github.com/kaspool/core/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting poold",
		"version", cfg.Version,
		"listen_addr", fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.ListenPort),
		"http_addr", cfg.HTTPAddr,
	)

	nodeClient, err := node.NewRPCClient(cfg.NodeRPCHost, cfg.NodeRPCPort)
	if err != nil {
		logger.WithError(err).Error("failed to connect to node RPC")
		os.Exit(2)
	}
	defer nodeClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()
	if err := nodeClient.Ping(pingCtx); err != nil {
		logger.WithError(err).Error("node RPC connectivity check failed")
		os.Exit(2)
	}

	prefix, err := bech32Prefix(cfg.NodeNetwork)
	if err != nil {
		logger.WithError(err).Error("invalid node network")
		os.Exit(1)
	}
	addressValidator := node.NewAddressValidator(prefix)

	if !addressValidator.Validate(cfg.PoolAddress) {
		logger.Error("pool address does not validate against the configured network", "address", cfg.PoolAddress, "network", cfg.NodeNetwork)
		os.Exit(1)
	}

	dbConfig, err := buildDatabaseConfig(cfg)
	if err != nil {
		logger.WithError(err).Error("failed to build database configuration")
		os.Exit(1)
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		logger.WithError(err).Error("failed to create database manager")
		os.Exit(2)
	}
	defer func() {
		if err := dbManager.Close(); err != nil {
			logger.WithError(err).Warn("error closing database connections")
		}
	}()

	registry := pool.NewJobRegistry()
	cache := pool.NewTemplateCache(cfg.DAAWindowSize)
	templates := pool.NewTemplateService(nodeClient, cache, registry, cfg.PoolAddress, cfg.ExtraDataTag, cfg.DAAWindowSize, logger)
	ledger := pool.NewShareLedger(registry, cache, templates, cfg.PPLNSWindow)
	broadcaster := pool.NewBroadcaster(logger)

	payoutSender := newLoggingPayoutSender(logger)
	paymentThreshold := big.NewInt(cfg.PaymentThresholdSompi)
	blocks := pool.NewBlockAccount(dbManager, payoutSender, paymentThreshold, logger)

	orchestrator := pool.NewPoolOrchestrator(templates, ledger, blocks, broadcaster, dbManager, logger)
	orchestrator.SetMaturitySource(node.NewMaturityPoller(nodeClient, cfg.PoolFeePercent))

	var eventPublisher *kafkaEventPublisher
	if cfg.MessagingEnabled {
		eventPublisher = newKafkaEventPublisher(cfg.KafkaBrokers, logger.Logger)
		orchestrator.SetPublisher(eventPublisher)
		logger.Info("cross-process event publishing enabled", "brokers", cfg.KafkaBrokers)
		defer func() {
			if err := eventPublisher.Close(); err != nil {
				logger.WithError(err).Warn("error closing kafka event publisher")
			}
		}()
	}

	sessionManager := stratum.NewSessionManager(addressValidator, ledger, broadcaster, cfg.MinDifficulty, logger)

	httpServer, err := httpapi.New(cfg.HTTPAddr, ledger, dbManager, dbManager.Blocks, dbManager.Payouts, dbManager.Influx, cfg.Version, logger)
	if err != nil {
		logger.WithError(err).Error("failed to start http api")
		os.Exit(1)
	}

	stratumListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.ListenPort))
	if err != nil {
		logger.WithError(err).Error("failed to bind stratum listener")
		os.Exit(1)
	}

	server := &stratumServer{
		cfg:      cfg,
		logger:   logger,
		listener: stratumListener,
		handler:  sessionManager,
		sessions: make(map[string]*stratum.Session),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbManager.StartPeriodicTasks(ctx)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := orchestrator.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("pool orchestrator stopped unexpectedly")
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("stratum server stopped unexpectedly")
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		if err := httpServer.Start(); err != nil {
			logger.WithError(err).Error("http api stopped unexpectedly")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
		logger.Warn("shutting down after an internal component failure")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http api shutdown error")
	}
	server.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out waiting for components")
	}

	logger.Info("poold stopped")
}

// bech32Prefix maps the configured network name to kaspad's address prefix.
func bech32Prefix(network string) (util.Bech32Prefix, error) {
	switch network {
	case "mainnet", "":
		return util.Bech32PrefixKaspa, nil
	case "testnet":
		return util.Bech32PrefixKaspaTest, nil
	case "simnet":
		return util.Bech32PrefixKaspaSim, nil
	case "devnet":
		return util.Bech32PrefixKaspaDev, nil
	default:
		return 0, fmt.Errorf("unknown network %q", network)
	}
}

// buildDatabaseConfig translates the URL-shaped connection settings loaded
// from the environment into the field-based configs each store client
// expects.
func buildDatabaseConfig(cfg *config.Config) (*database.Config, error) {
	pgCfg, err := parsePostgresURL(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_URL: %w", err)
	}

	redisCfg, err := parseRedisURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	return &database.Config{
		Postgres: pgCfg,
		Redis:    redisCfg,
		Influx: &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		},
	}, nil
}

func parsePostgresURL(raw string) (*postgres.Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	host := u.Hostname()
	port := 5432
	if p := u.Port(); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			port = parsed
		}
	}

	password, _ := u.User.Password()
	sslMode := "disable"
	if mode := u.Query().Get("sslmode"); mode != "" {
		sslMode = mode
	}

	return &postgres.Config{
		Host:         host,
		Port:         port,
		Database:     strings.TrimPrefix(u.Path, "/"),
		User:         u.User.Username(),
		Password:     password,
		SSLMode:      sslMode,
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		MaxLifetime:  5 * time.Minute,
	}, nil
}

func parseRedisURL(raw string) (*redis.Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	db := 0
	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		if parsed, err := strconv.Atoi(path); err == nil {
			db = parsed
		}
	}

	password, _ := u.User.Password()

	return &redis.Config{
		Addr:         u.Host,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}, nil
}
