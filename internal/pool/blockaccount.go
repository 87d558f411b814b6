package pool

import (
	"math/big"
	"sync"
	"time"

	"github.com/kaspool/core/pkg/log"
)

// BalanceStore is the narrow persistent-store interface BlockAccount needs
// (§6's "Persistent store (consumed as interface)"), implemented against a
// real key-value/SQL store by internal/database.
type BalanceStore interface {
	// CreditAndSettle atomically adds delta (signed) sompi to address's
	// balance and, if the resulting balance is at or above threshold,
	// resets it to 0 in the same transaction and returns the settled
	// amount. Returns a nil settled amount when the balance stayed below
	// threshold. The credit and the threshold check-and-reset must be one
	// atomic operation so two concurrent calls for the same address can
	// never interleave.
	CreditAndSettle(address string, delta, threshold *big.Int) (settled *big.Int, err error)
	// RecordPayout persists a payout batch entry.
	RecordPayout(address string, amount *big.Int, at time.Time) error
}

// MaturityEvent is delivered by the external UTXO processor when a
// previously submitted block's coinbase matures.
type MaturityEvent struct {
	BlockHash string
	NetAmount *big.Int // net of pool fee
	IsBlue    bool
}

// PayoutOutput is one entry of a payout batch handed to the external
// payout.send(outputs) collaborator.
type PayoutOutput struct {
	Address string
	Amount  *big.Int
}

// PayoutSender is the external payout transaction builder/signer, narrowed
// to the single entry point this package needs.
type PayoutSender interface {
	Send(outputs []PayoutOutput) (txids []string, err error)
}

// BlockAccount snapshots PPLNS contributions at block-acceptance time and,
// on coinbase maturity, computes proportional rewards and drives payout.
type BlockAccount struct {
	mu                sync.Mutex
	records           map[string]*BlockRecord
	paymentThreshold  *big.Int
	balances          BalanceStore
	payout            PayoutSender
	logger            *log.Logger
}

// NewBlockAccount wires a BlockAccount against a persistent balance store
// and payout sender, with paymentThreshold in sompi.
func NewBlockAccount(balances BalanceStore, payout PayoutSender, paymentThreshold *big.Int, logger *log.Logger) *BlockAccount {
	return &BlockAccount{
		records:          make(map[string]*BlockRecord),
		paymentThreshold: paymentThreshold,
		balances:         balances,
		payout:           payout,
		logger:           logger.WithComponent("block_account"),
	}
}

// OnBlockAccepted snapshots the ledger's current window as the block's
// contribution set (§4.6: "snapshot taken at the moment of acceptance,
// before further shares arrive"). snapshot must already reflect no
// Contribution created strictly after the triggering submitBlock success.
func (a *BlockAccount) OnBlockAccepted(blockHash string, snapshot []Contribution) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[blockHash] = &BlockRecord{
		BlockHash:     blockHash,
		Contributions: snapshot,
		SubmittedAt:   time.Now(),
		Status:        BlockStatusSubmitted,
	}
}

// OnMaturity handles the external coinbase-maturity event: checks the
// block's color, and either orphans the record or distributes rewards
// proportionally to contribution difficulty (PPLNS split, §4.6, §8-S5/S6).
func (a *BlockAccount) OnMaturity(evt MaturityEvent) error {
	a.mu.Lock()
	record, ok := a.records[evt.BlockHash]
	a.mu.Unlock()
	if !ok {
		a.logger.Warn("maturity event for unknown block", "block_hash", evt.BlockHash)
		return nil
	}

	if !evt.IsBlue {
		a.mu.Lock()
		record.Status = BlockStatusOrphaned
		a.mu.Unlock()
		a.logger.Info("block orphaned at maturity", "block_hash", evt.BlockHash)
		return nil
	}

	totalWork := new(big.Float)
	for _, c := range record.Contributions {
		totalWork.Add(totalWork, big.NewFloat(c.Difficulty))
	}

	if totalWork.Sign() <= 0 {
		a.mu.Lock()
		record.Status = BlockStatusMature
		a.mu.Unlock()
		return nil
	}

	type split struct {
		address string
		reward  *big.Int
	}

	// Difficulties are scaled to integers (×1e9) through big.Float; the split
	// itself multiplies first and divides last in big.Int (§9: "exact
	// integer sompi outputs... floor division").
	amount := new(big.Int).Set(evt.NetAmount)
	var splits []split
	aggregated := make(map[string]*big.Int)
	order := make([]string, 0)

	totalDiffScaled, _ := new(big.Float).Mul(totalWork, big.NewFloat(1e9)).Int(nil)
	if totalDiffScaled.Sign() == 0 {
		totalDiffScaled = big.NewInt(1)
	}

	for _, c := range record.Contributions {
		diffScaled, _ := new(big.Float).Mul(big.NewFloat(c.Difficulty), big.NewFloat(1e9)).Int(nil)
		reward := new(big.Int).Mul(amount, diffScaled)
		reward.Div(reward, totalDiffScaled) // floor division

		if existing, ok := aggregated[c.Address]; ok {
			existing.Add(existing, reward)
		} else {
			aggregated[c.Address] = reward
			order = append(order, c.Address)
		}
	}

	for _, addr := range order {
		splits = append(splits, split{address: addr, reward: aggregated[addr]})
	}

	var payoutBatch []PayoutOutput
	for _, s := range splits {
		if s.reward.Sign() <= 0 {
			continue
		}
		settled, err := a.balances.CreditAndSettle(s.address, s.reward, a.paymentThreshold)
		if err != nil {
			a.logger.WithError(err).Warn("failed to credit balance", "address", s.address)
			continue
		}
		if settled != nil {
			payoutBatch = append(payoutBatch, PayoutOutput{Address: s.address, Amount: settled})
		}
	}

	a.mu.Lock()
	record.Status = BlockStatusMature
	a.mu.Unlock()

	if len(payoutBatch) == 0 {
		return nil
	}

	txids, err := a.payout.Send(payoutBatch)
	if err != nil {
		a.logger.WithError(err).Warn("payout send failed")
		return err
	}

	now := time.Now()
	for i, out := range payoutBatch {
		if err := a.balances.RecordPayout(out.Address, out.Amount, now); err != nil {
			a.logger.WithError(err).Warn("failed to record payout", "address", out.Address)
		}
		if i < len(txids) {
			a.logger.Info("payout sent", "address", out.Address, "amount", out.Amount.String(), "txid", txids[i])
		}
	}

	return nil
}

// PendingHashes returns the hashes of blocks still awaiting a maturity
// verdict, for a MaturityEventSource to poll.
func (a *BlockAccount) PendingHashes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	hashes := make([]string, 0, len(a.records))
	for hash, r := range a.records {
		if r.Status == BlockStatusSubmitted {
			hashes = append(hashes, hash)
		}
	}
	return hashes
}

// Record returns a copy of the block record for hash, if known.
func (a *BlockAccount) Record(hash string) (BlockRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.records[hash]
	if !ok {
		return BlockRecord{}, false
	}
	return *r, true
}

// PruneTerminal removes terminal (mature/orphaned) records older than maxAge
// (§4.7 cleanup tick).
func (a *BlockAccount) PruneTerminal(maxAge time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for hash, r := range a.records {
		if r.Status == BlockStatusSubmitted {
			continue
		}
		if r.SubmittedAt.Before(cutoff) {
			delete(a.records, hash)
		}
	}
}
