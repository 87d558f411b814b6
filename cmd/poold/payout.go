package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/kaspool/core/internal/pool"
	"github.com/kaspool/core/pkg/log"
)

// loggingPayoutSender stands in for the payout transaction builder/signer
// (UTXO selection, signing, broadcast against the node) that this pool core
// only ever depends on through pool.PayoutSender's single Send entry point.
// That collaborator owns private key material and consensus-level UTXO
// bookkeeping that belong in a separate, independently audited process; this
// implementation logs the batch and returns a deterministic placeholder
// txid per output so the maturity → payout → RecordPayout path is fully
// exercised end to end without fabricating a wallet integration.
type loggingPayoutSender struct {
	logger *log.Logger
}

var _ pool.PayoutSender = (*loggingPayoutSender)(nil)

func newLoggingPayoutSender(logger *log.Logger) *loggingPayoutSender {
	return &loggingPayoutSender{logger: logger.WithComponent("payout_sender")}
}

// Send logs the outputs a real transaction builder would batch, sign and
// broadcast. It never touches a wallet; callers other than a development or
// staging deployment must supply a pool.PayoutSender backed by an actual
// signer.
func (s *loggingPayoutSender) Send(outputs []pool.PayoutOutput) ([]string, error) {
	txids := make([]string, len(outputs))
	for i, out := range outputs {
		txids[i] = placeholderTxID(out.Address, out.Amount.String(), i)
		s.logger.Warn("payout not broadcast: no transaction signer wired",
			"address", out.Address,
			"amount_sompi", out.Amount.String(),
			"placeholder_txid", txids[i],
		)
	}
	return txids, nil
}

// placeholderTxID derives a stable, clearly-synthetic identifier so logs and
// stored payout records stay correlated across a run without implying a
// real on-chain transaction exists.
func placeholderTxID(address, amount string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("unsent:%s:%s:%d", address, amount, index)))
	return "unsent-" + hex.EncodeToString(sum[:16])
}
