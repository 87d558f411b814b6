package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MinerRepository handles miner account and balance operations, including
// the atomic CreditAndSettle pool.BlockAccount depends on for crediting
// maturity rewards and settling payout thresholds.
type MinerRepository struct {
	db *sql.DB
}

// NewMinerRepository creates a new miner repository.
func NewMinerRepository(db *sql.DB) *MinerRepository {
	return &MinerRepository{db: db}
}

// GetOrCreate returns the miner account for address, creating an empty one
// if none exists yet.
func (r *MinerRepository) GetOrCreate(ctx context.Context, address string) (*MinerAccount, error) {
	now := time.Now()
	query := `
		INSERT INTO miner_accounts (address, balance_sompi, created_at, updated_at)
		VALUES ($1, 0, $2, $2)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING id, address, balance_sompi, created_at, updated_at, last_seen_at`

	account := &MinerAccount{}
	err := r.db.QueryRowContext(ctx, query, address, now).Scan(
		&account.ID, &account.Address, &account.BalanceSompi,
		&account.CreatedAt, &account.UpdatedAt, &account.LastSeenAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create miner account: %w", err)
	}
	return account, nil
}

// CreditAndSettle applies a signed delta (sompi) to address's balance and,
// if the resulting balance is at or above thresholdSompi, zeros it back to 0
// in the same transaction. All three steps (ensure account, credit, and the
// threshold read-and-reset) run inside one PostgreSQL transaction, so a
// second concurrent CreditAndSettle for the same address can never observe
// (or clobber) a balance that reflects only part of this call. settledSompi
// is the amount the caller should pay out and settled is true when the
// threshold was reached; otherwise they are 0 and false.
func (r *MinerRepository) CreditAndSettle(ctx context.Context, address string, deltaSompi, thresholdSompi int64) (settledSompi int64, settled bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO miner_accounts (address, balance_sompi, created_at, updated_at)
		 VALUES ($1, 0, $2, $2) ON CONFLICT (address) DO NOTHING`,
		address, now,
	); err != nil {
		return 0, false, fmt.Errorf("failed to ensure miner account: %w", err)
	}

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE miner_accounts SET balance_sompi = balance_sompi + $1, updated_at = $2
		 WHERE address = $3 RETURNING balance_sompi`,
		deltaSompi, now, address,
	).Scan(&balance); err != nil {
		return 0, false, fmt.Errorf("failed to update balance: %w", err)
	}

	if balance < thresholdSompi {
		return 0, false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE miner_accounts SET balance_sompi = 0, updated_at = $1 WHERE address = $2`,
		now, address,
	); err != nil {
		return 0, false, fmt.Errorf("failed to reset settled balance: %w", err)
	}

	return balance, true, tx.Commit()
}

// Balance returns address's current balance in sompi.
func (r *MinerRepository) Balance(ctx context.Context, address string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance_sompi FROM miner_accounts WHERE address = $1`, address,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// UpdateLastSeen updates the miner's last seen timestamp.
func (r *MinerRepository) UpdateLastSeen(ctx context.Context, address string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`UPDATE miner_accounts SET last_seen_at = $1, updated_at = $1 WHERE address = $2`, now, address,
	)
	if err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	return nil
}

// BlockRepository handles block record persistence.
type BlockRepository struct {
	db *sql.DB
}

// NewBlockRepository creates a new block repository.
func NewBlockRepository(db *sql.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// CreateBlockRecord persists a newly submitted block along with its PPLNS
// contribution snapshot.
func (r *BlockRepository) CreateBlockRecord(ctx context.Context, block *BlockRecord, contributions []BlockContribution) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO block_records (block_hash, status, submitted_at) VALUES ($1, $2, $3) RETURNING id`,
		block.BlockHash, block.Status, block.SubmittedAt,
	).Scan(&block.ID)
	if err != nil {
		return fmt.Errorf("failed to create block record: %w", err)
	}

	for _, c := range contributions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO block_contributions (block_id, address, worker_name, difficulty, submitted_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			block.ID, c.Address, c.WorkerName, c.Difficulty, c.SubmittedAt,
		); err != nil {
			return fmt.Errorf("failed to insert block contribution: %w", err)
		}
	}

	return tx.Commit()
}

// UpdateBlockStatus updates a block record's lifecycle status on maturity or
// orphaning (§3's BlockRecord.status transitions).
func (r *BlockRepository) UpdateBlockStatus(ctx context.Context, blockHash, status string) error {
	now := time.Now()
	var err error
	if status == "mature" || status == "orphaned" {
		_, err = r.db.ExecContext(ctx,
			`UPDATE block_records SET status = $1, matured_at = $2 WHERE block_hash = $3`,
			status, now, blockHash,
		)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE block_records SET status = $1 WHERE block_hash = $2`, status, blockHash,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update block status: %w", err)
	}
	return nil
}

// GetRecentBlocks retrieves recent blocks with pagination for the /blocks
// read endpoint.
func (r *BlockRepository) GetRecentBlocks(ctx context.Context, limit, offset int) ([]*BlockRecord, error) {
	query := `
		SELECT id, block_hash, status, submitted_at, matured_at
		FROM block_records
		ORDER BY submitted_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var blocks []*BlockRecord
	for rows.Next() {
		b := &BlockRecord{}
		if err := rows.Scan(&b.ID, &b.BlockHash, &b.Status, &b.SubmittedAt, &b.MaturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocks: %w", err)
	}
	return blocks, nil
}

// PayoutRepository handles payout record persistence.
type PayoutRepository struct {
	db *sql.DB
}

// NewPayoutRepository creates a new payout repository.
func NewPayoutRepository(db *sql.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// RecordPayout persists a sent payout batch entry.
func (r *PayoutRepository) RecordPayout(ctx context.Context, address string, amountSompi int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payout_records (address, amount_sompi, status, created_at, sent_at)
		 VALUES ($1, $2, 'sent', $3, $3)`,
		address, amountSompi, at,
	)
	if err != nil {
		return fmt.Errorf("failed to record payout: %w", err)
	}
	return nil
}

// RecordPayoutAndZeroBalance persists a sent payout entry and debits the
// same amount from address's balance in one transaction, so a crash between
// the two writes can never leave a payout recorded without the balance
// reset (or vice versa).
func (r *PayoutRepository) RecordPayoutAndZeroBalance(ctx context.Context, address string, amountSompi int64, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO payout_records (address, amount_sompi, status, created_at, sent_at)
		 VALUES ($1, $2, 'sent', $3, $3)`,
		address, amountSompi, at,
	); err != nil {
		return fmt.Errorf("failed to record payout: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO miner_accounts (address, balance_sompi, created_at, updated_at)
		 VALUES ($1, 0, $2, $2) ON CONFLICT (address) DO NOTHING`,
		address, at,
	); err != nil {
		return fmt.Errorf("failed to ensure miner account: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE miner_accounts SET balance_sompi = balance_sompi - $1, updated_at = $2 WHERE address = $3`,
		amountSompi, at, address,
	); err != nil {
		return fmt.Errorf("failed to zero paid balance: %w", err)
	}

	return tx.Commit()
}

// GetRecentPayouts retrieves recent payouts with pagination for the
// /payouts read endpoint.
func (r *PayoutRepository) GetRecentPayouts(ctx context.Context, limit, offset int) ([]*PayoutRecord, error) {
	query := `
		SELECT id, address, amount_sompi, tx_id, status, created_at, sent_at, confirmed_at
		FROM payout_records
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var payouts []*PayoutRecord
	for rows.Next() {
		p := &PayoutRecord{}
		if err := rows.Scan(&p.ID, &p.Address, &p.AmountSompi, &p.TxID, &p.Status, &p.CreatedAt, &p.SentAt, &p.ConfirmedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payouts: %w", err)
	}
	return payouts, nil
}
