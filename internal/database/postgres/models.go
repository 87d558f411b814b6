package postgres

import (
	"time"
)

// MinerAccount represents a pool participant's durable balance record,
// keyed by their consensus address. BalanceSompi is always an exact integer
// count of sompi (§9: decimal arithmetic replaced with integer math
// throughout the reward path).
type MinerAccount struct {
	ID            int64      `db:"id"`
	Address       string     `db:"address"`
	BalanceSompi  int64      `db:"balance_sompi"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	LastSeenAt    *time.Time `db:"last_seen_at"`
}

// BlockRecord is the durable record of one submitted block, mirroring
// pool.BlockRecord without the in-memory contribution snapshot (persisted
// separately as BlockContribution rows).
type BlockRecord struct {
	ID          int64      `db:"id"`
	BlockHash   string     `db:"block_hash"`
	Status      string     `db:"status"` // submitted, mature, orphaned
	SubmittedAt time.Time  `db:"submitted_at"`
	MaturedAt   *time.Time `db:"matured_at"`
}

// BlockContribution is one miner's share of a block's PPLNS snapshot,
// persisted for audit/reporting alongside the owning BlockRecord.
type BlockContribution struct {
	ID          int64   `db:"id"`
	BlockID     int64   `db:"block_id"`
	Address     string  `db:"address"`
	WorkerName  string  `db:"worker_name"`
	Difficulty  float64 `db:"difficulty"`
	SubmittedAt time.Time `db:"submitted_at"`
}

// PayoutRecord represents a payout sent to a miner.
type PayoutRecord struct {
	ID          int64      `db:"id"`
	Address     string     `db:"address"`
	AmountSompi int64      `db:"amount_sompi"`
	TxID        *string    `db:"tx_id"`
	Status      string     `db:"status"` // pending, sent, confirmed, failed
	CreatedAt   time.Time  `db:"created_at"`
	SentAt      *time.Time `db:"sent_at"`
	ConfirmedAt *time.Time `db:"confirmed_at"`
}

// MinerStatsRow represents aggregated per-miner statistics for the read API.
type MinerStatsRow struct {
	Address      string     `db:"address"`
	SharesCount  int64      `db:"shares_count"`
	Hashrate     float64    `db:"hashrate"`
	BalanceSompi int64      `db:"balance_sompi"`
	LastShareAt  *time.Time `db:"last_share_at"`
}

// PoolStatsRow represents overall pool statistics.
type PoolStatsRow struct {
	ID              int64     `db:"id"`
	TotalHashrate   float64   `db:"total_hashrate"`
	ActiveMiners    int64     `db:"active_miners"`
	BlocksFound     int64     `db:"blocks_found"`
	NetworkHashrate float64   `db:"network_hashrate"`
	Timestamp       time.Time `db:"timestamp"`
}
