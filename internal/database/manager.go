// Package database provides unified database management for the mining pool
// core. It coordinates operations across PostgreSQL, Redis, and InfluxDB.
package database

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/kaspool/core/internal/database/influx"
	"github.com/kaspool/core/internal/database/postgres"
	"github.com/kaspool/core/internal/database/redis"
	"github.com/kaspool/core/internal/pool"
	"github.com/kaspool/core/pkg/circuit"
	"github.com/kaspool/core/pkg/errors"
	"github.com/kaspool/core/pkg/retry"
)

var (
	_ pool.BalanceStore     = (*Manager)(nil)
	_ pool.HashrateRecorder = (*Manager)(nil)
)

// Manager coordinates all database operations across PostgreSQL, Redis, and
// InfluxDB, and implements pool.BalanceStore and pool.HashrateRecorder so
// internal/pool can depend on it through those narrow interfaces.
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	// Repositories
	Miners  *postgres.MinerRepository
	Blocks  *postgres.BlockRepository
	Payouts *postgres.PayoutRepository

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all database systems
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
}

// NewManager creates a new database manager with all connections
func NewManager(cfg *Config) (*Manager, error) {
	// Initialize PostgreSQL
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
			"failed to connect to PostgreSQL database")
	}

	// Initialize Redis
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		if closeErr := pgClient.Close(); closeErr != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database")
			wrappedCloseErr := errors.Wrap(closeErr, errors.ErrorTypeDatabase, "postgres_cleanup",
				"failed to close PostgreSQL connection during error cleanup")
			return nil, errors.New(errors.ErrorTypeDatabase, "connection_failure",
				"multiple database connection failures").
				WithContext("redis_error", origErr.Error()).
				WithContext("postgres_cleanup_error", wrappedCloseErr.Error())
		}
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
			"failed to connect to Redis database")
	}

	// Initialize InfluxDB
	influxClient, err := influx.NewClient(cfg.Influx)
	if err != nil {
		var closeErrs []error
		if closeErr := pgClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}
		if closeErr := redisClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}

		origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
			"failed to connect to InfluxDB database")

		if len(closeErrs) > 0 {
			return nil, origErr.WithContext("cleanup_errors", fmt.Sprintf("%v", closeErrs))
		}
		return nil, origErr
	}

	// Configure error handling
	cbConfig := &circuit.Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	// Create repositories
	miners := postgres.NewMinerRepository(pgClient.DB())
	blocks := postgres.NewBlockRepository(pgClient.DB())
	payouts := postgres.NewPayoutRepository(pgClient.DB())

	return &Manager{
		Postgres:       pgClient,
		Redis:          redisClient,
		Influx:         influxClient,
		Miners:         miners,
		Blocks:         blocks,
		Payouts:        payouts,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.DatabaseConfig(),
	}, nil
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if err := m.Postgres.Close(); err != nil {
		errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
	}

	if err := m.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis close error: %w", err))
	}

	m.Influx.Close()

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of all database connections
func (m *Manager) Health(ctx context.Context) error {
	if err := m.Postgres.Health(ctx); err != nil {
		return fmt.Errorf("PostgreSQL health check failed: %w", err)
	}

	if err := m.Redis.Health(ctx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	if err := m.Influx.Health(ctx); err != nil {
		return fmt.Errorf("InfluxDB health check failed: %w", err)
	}

	return nil
}

// pool.BalanceStore implementation.
//
// internal/pool.BlockAccount is the sole writer of balance deltas, applied
// transactionally on block maturity and settled (zeroed) in the same
// transaction once a payout threshold is crossed. CreditAndSettle and
// RecordPayout are the entire surface it depends on.

// CreditAndSettle credits delta (signed) sompi to address and, in the same
// PostgreSQL transaction, zeros the balance back to 0 if it is now at or
// above threshold — so two concurrent maturity events crediting the same
// address can never interleave a read of one call with the reset of the
// other. Returns the settled amount the caller should batch for payout, or
// nil if address's balance stayed below threshold.
func (m *Manager) CreditAndSettle(address string, delta, threshold *big.Int) (*big.Int, error) {
	if !delta.IsInt64() {
		return nil, errors.New(errors.ErrorTypeDatabase, "credit_and_settle",
			"balance delta exceeds int64 range").WithContext("address", address)
	}
	if !threshold.IsInt64() {
		return nil, errors.New(errors.ErrorTypeDatabase, "credit_and_settle",
			"payment threshold exceeds int64 range").WithContext("address", address)
	}
	deltaSompi := delta.Int64()
	thresholdSompi := threshold.Int64()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var settledSompi int64
	var settled bool
	err := m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			var err error
			settledSompi, settled, err = m.Miners.CreditAndSettle(ctx, address, deltaSompi, thresholdSompi)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "credit_and_settle",
					"failed to credit and settle miner balance").
					WithContext("address", address).
					WithContext("delta_sompi", deltaSompi)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if !settled {
		return nil, nil
	}
	return big.NewInt(settledSompi), nil
}

// Balance returns address's current balance in sompi.
func (m *Manager) Balance(address string) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	balance, err := m.Miners.Balance(ctx, address)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "get_balance",
			"failed to read miner balance").WithContext("address", address)
	}
	return big.NewInt(balance), nil
}

// RecordPayout persists a sent payout batch entry. The miner's balance is
// not touched here: CreditAndSettle already reset it to 0 in the same
// transaction that produced the settled amount.
func (m *Manager) RecordPayout(address string, amount *big.Int, at time.Time) error {
	if !amount.IsInt64() {
		return errors.New(errors.ErrorTypeDatabase, "record_payout",
			"payout amount exceeds int64 range").WithContext("address", address)
	}
	amountSompi := amount.Int64()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Payouts.RecordPayout(ctx, address, amountSompi, at); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_payout",
					"failed to record payout").WithContext("address", address)
			}
			m.Influx.WritePayoutMetric(address, amountSompi, "sent")
			return nil
		})
	})
}

// pool.HashrateRecorder implementation, delegated straight to InfluxDB's
// time-series storage.

// RecordHashrate persists a pool-wide hashrate snapshot.
func (m *Manager) RecordHashrate(value float64) error {
	return m.Influx.RecordHashrate(value)
}

// RecordBlockAccepted records a newly submitted block across PostgreSQL
// (durable record + PPLNS contribution snapshot) and InfluxDB (best-effort
// metric), given the pool-core BlockRecord produced at acceptance time.
func (m *Manager) RecordBlockAccepted(ctx context.Context, blockHash string, contributions []postgres.BlockContribution, submittedAt time.Time) error {
	record := &postgres.BlockRecord{
		BlockHash:   blockHash,
		Status:      "submitted",
		SubmittedAt: submittedAt,
	}

	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Blocks.CreateBlockRecord(ctx, record, contributions); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_block",
					"failed to store block record").WithContext("block_hash", blockHash)
			}

			var topAddress, topWorker string
			var topDifficulty float64
			for _, c := range contributions {
				if c.Difficulty > topDifficulty {
					topAddress, topWorker, topDifficulty = c.Address, c.WorkerName, c.Difficulty
				}
			}
			m.Influx.WriteBlockMetric(blockHash, topAddress, topWorker, topDifficulty, 0, "submitted")

			return nil
		})
	})
}

// RecordBlockMatured updates a block's terminal status once its coinbase
// matures or orphans.
func (m *Manager) RecordBlockMatured(ctx context.Context, blockHash string, orphaned bool) error {
	status := "mature"
	if orphaned {
		status = "orphaned"
	}
	if err := m.Blocks.UpdateBlockStatus(ctx, blockHash, status); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "update_block_status",
			"failed to update block status").WithContext("block_hash", blockHash)
	}
	return nil
}

// GetPoolStats retrieves comprehensive pool statistics from InfluxDB and
// PostgreSQL. The /status read endpoint does not use it; it reads live
// figures from the ShareLedger.
func (m *Manager) GetPoolStats(ctx context.Context) (*PoolStats, error) {
	poolHashrate, err := m.Influx.GetPoolHashrate(ctx, 10*time.Minute)
	if err != nil {
		poolHashrate = 0
	}

	recentBlocks, err := m.Blocks.GetRecentBlocks(ctx, 10, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent blocks: %w", err)
	}

	return &PoolStats{
		TotalHashrate: poolHashrate,
		RecentBlocks:  recentBlocks,
		LastUpdated:   time.Now(),
	}, nil
}

// StartPeriodicTasks starts background tasks for database maintenance. The
// pool-wide hashrate snapshot itself is driven by
// internal/pool.PoolOrchestrator via RecordHashrate; this loop only flushes
// InfluxDB's buffered writer.
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()
}

// PoolStats represents comprehensive pool statistics.
type PoolStats struct {
	TotalHashrate float64
	RecentBlocks  []*postgres.BlockRecord
	LastUpdated   time.Time
}
