package pool

import (
	"math/big"
	"sync"
	"time"
)

type fakeBalanceStore struct {
	mu       sync.Mutex
	balances map[string]*big.Int
	payouts  []PayoutOutput
}

func newFakeBalanceStore() *fakeBalanceStore {
	return &fakeBalanceStore{balances: make(map[string]*big.Int)}
}

// CreditAndSettle mirrors internal/database.Manager's atomic behavior: the
// credit and the threshold check-and-reset happen under the same lock, so
// no interleaving is observable to callers.
func (s *fakeBalanceStore) CreditAndSettle(address string, delta, threshold *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[address]
	if !ok {
		b = big.NewInt(0)
		s.balances[address] = b
	}
	b.Add(b, delta)

	if b.Cmp(threshold) < 0 {
		return nil, nil
	}
	settled := new(big.Int).Set(b)
	b.SetInt64(0)
	return settled, nil
}

// Balance is a test-only inspection helper, not part of BalanceStore.
func (s *fakeBalanceStore) Balance(address string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[address]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(b), nil
}

func (s *fakeBalanceStore) RecordPayout(address string, amount *big.Int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts = append(s.payouts, PayoutOutput{Address: address, Amount: new(big.Int).Set(amount)})
	return nil
}

type fakePayoutSender struct {
	sent [][]PayoutOutput
}

func (p *fakePayoutSender) Send(outputs []PayoutOutput) ([]string, error) {
	p.sent = append(p.sent, outputs)
	txids := make([]string, len(outputs))
	for i := range outputs {
		txids[i] = "tx" + outputs[i].Address
	}
	return txids, nil
}
