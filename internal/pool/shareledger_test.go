package pool

import (
	"context"
	"math/big"
	"testing"

	"github.com/kaspool/core/pkg/log"
)

type fakeNode struct {
	submitCalls int
	results     []SubmitResult
	blockHash   string
}

func (n *fakeNode) Subscribe(ctx context.Context) (<-chan NewTemplateEvent, error) {
	ch := make(chan NewTemplateEvent)
	return ch, nil
}

func (n *fakeNode) GetBlockTemplate(ctx context.Context, payAddress, extraData string) (Block, PoWState, error) {
	return nil, nil, nil
}

func (n *fakeNode) SubmitBlock(ctx context.Context, block Block, allowNonDAABlocks bool) (SubmitResult, error) {
	r := n.results[n.submitCalls]
	n.submitCalls++
	return r, nil
}

func (n *fakeNode) BlockHash(block Block) string {
	return n.blockHash
}

func testLogger() *log.Logger {
	return log.New("kaspool-test", "test", "error", "text")
}

func newTestLedger(t *testing.T, solves bool, node *fakeNode) (*ShareLedger, [32]byte) {
	t.Helper()
	registry := NewJobRegistry()
	cache := NewTemplateCache(10)
	service := NewTemplateService(node, cache, registry, "kaspool:pool", "kaspool", 10, testLogger())

	h := hashFor(42)
	var target [32]byte
	target[31] = 0xff // large target => easy work, satisfies any reasonable difficulty
	cache.Insert(h, &Template{Block: fakeBlock{ts: 100}, PoW: fakePoW{hash: h, solves: solves, target: target}})
	registry.Mint(h)

	ledger := NewShareLedger(registry, cache, service, 100000)
	return ledger, h
}

func TestShareLedgerDuplicateShare(t *testing.T) {
	ledger, h := newTestLedger(t, false, &fakeNode{})
	jobID := ledger.registry.Mint(h)
	maxTarget := new(big.Int).Lsh(big.NewInt(1), 255)

	if _, err := ledger.Submit("kaspool:miner1", "worker1", jobID, "0000000000000001", 1.0, maxTarget); err != nil {
		t.Fatalf("expected first submit to succeed, got %v", err)
	}

	_, err := ledger.Submit("kaspool:miner1", "worker1", jobID, "0000000000000001", 1.0, maxTarget)
	if err == nil {
		t.Fatal("expected duplicate-share error on second identical submit")
	}
}

func TestShareLedgerJobNotFound(t *testing.T) {
	ledger, _ := newTestLedger(t, false, &fakeNode{})
	maxTarget := new(big.Int).Lsh(big.NewInt(1), 255)

	_, err := ledger.Submit("kaspool:miner1", "worker1", "nonexistent-job", "0000000000000001", 1.0, maxTarget)
	if err == nil {
		t.Fatal("expected job-not-found error")
	}
}

func TestShareLedgerLowDifficulty(t *testing.T) {
	ledger, h := newTestLedger(t, false, &fakeNode{})
	jobID := ledger.registry.Mint(h)

	// A target of all-zero bytes (the hardest possible) can never satisfy
	// a high required difficulty derived from a small maxTarget.
	tplAny, _ := ledger.cache.Get(h)
	tplAny.PoW = fakePoW{hash: h, solves: false, target: [32]byte{0xff, 0xff, 0xff, 0xff}}

	tinyMaxTarget := big.NewInt(1) // any positive difficulty demands a target smaller than this
	_, err := ledger.Submit("kaspool:miner1", "worker1", jobID, "0000000000000002", 1.0, tinyMaxTarget)
	if err == nil {
		t.Fatal("expected low-difficulty-share error")
	}
}

func TestShareLedgerBlockHitEmitsEvent(t *testing.T) {
	node := &fakeNode{results: []SubmitResult{{Accepted: true}}, blockHash: "deadbeef"}
	ledger, h := newTestLedger(t, true, node)
	jobID := ledger.registry.Mint(h)
	maxTarget := new(big.Int).Lsh(big.NewInt(1), 255)

	result, err := ledger.Submit("kaspool:miner1", "worker1", jobID, "0000000000000003", 1.0, maxTarget)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsBlock || result.BlockHash != "deadbeef" {
		t.Fatalf("expected block hit with hash deadbeef, got %+v", result)
	}

	select {
	case evt := <-ledger.BlockAccepted():
		if evt.BlockHash != "deadbeef" {
			t.Fatalf("expected block-accepted event for deadbeef, got %q", evt.BlockHash)
		}
	default:
		t.Fatal("expected a block-accepted event to be published")
	}
}

func TestShareLedgerWindowBounded(t *testing.T) {
	node := &fakeNode{}
	registry := NewJobRegistry()
	cache := NewTemplateCache(10)
	service := NewTemplateService(node, cache, registry, "kaspool:pool", "kaspool", 10, testLogger())

	h := hashFor(7)
	var target [32]byte
	target[31] = 0xff
	cache.Insert(h, &Template{Block: fakeBlock{ts: 1}, PoW: fakePoW{hash: h, solves: false, target: target}})
	jobID := registry.Mint(h)

	ledger := NewShareLedger(registry, cache, service, 3)
	maxTarget := new(big.Int).Lsh(big.NewInt(1), 255)

	for i := 0; i < 5; i++ {
		nonceHex := []string{"01", "02", "03", "04", "05"}[i]
		if _, err := ledger.Submit("kaspool:miner1", "worker1", jobID, "00000000000000"+nonceHex, 1.0, maxTarget); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	if ledger.WindowLen() != 3 {
		t.Fatalf("expected window bounded to 3, got %d", ledger.WindowLen())
	}
}
