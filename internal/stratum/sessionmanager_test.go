package stratum

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kaspool/core/internal/pool"
	"github.com/kaspool/core/pkg/log"
)

type fakeValidator struct {
	valid map[string]bool
}

func (v *fakeValidator) Validate(address string) bool {
	return v.valid[address]
}

func testLogger() *log.Logger {
	return log.New("kaspool-test", "test", "error", "text")
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return NewSession("test-session", server, testLogger(), time.Second, time.Second)
}

func TestSessionManagerSubscribe(t *testing.T) {
	validator := &fakeValidator{valid: map[string]bool{"kaspool:miner1": true}}
	registry := pool.NewJobRegistry()
	cache := pool.NewTemplateCache(10)
	ledger := pool.NewShareLedger(registry, cache, nil, 100)
	broadcaster := pool.NewBroadcaster(testLogger())

	m := NewSessionManager(validator, ledger, broadcaster, 1.0, testLogger())
	s := newTestSession(t)

	msg := NewRequest(float64(1), "mining.subscribe", []any{"test-miner/1.0"})
	if err := m.HandleMessage(context.Background(), s, msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if !s.IsSubscribed() {
		t.Fatal("expected session to be subscribed")
	}
	if broadcaster.Len() != 1 {
		t.Fatalf("expected 1 subscribed session, got %d", broadcaster.Len())
	}
}

func TestSessionManagerAuthorizeRejectsInvalidAddress(t *testing.T) {
	validator := &fakeValidator{valid: map[string]bool{}}
	registry := pool.NewJobRegistry()
	cache := pool.NewTemplateCache(10)
	ledger := pool.NewShareLedger(registry, cache, nil, 100)
	broadcaster := pool.NewBroadcaster(testLogger())

	m := NewSessionManager(validator, ledger, broadcaster, 1.0, testLogger())
	s := newTestSession(t)

	msg := NewRequest(float64(2), "mining.authorize", []any{"not-a-real-address.worker1"})
	err := m.HandleMessage(context.Background(), s, msg)
	if err != nil {
		t.Fatalf("HandleMessage should not itself error on rejection: %v", err)
	}
	if s.IsAuthorized() {
		t.Fatal("expected session to remain unauthorized")
	}
}

func TestSessionManagerAuthorizeAcceptsValidAddress(t *testing.T) {
	validator := &fakeValidator{valid: map[string]bool{"kaspool:miner1": true}}
	registry := pool.NewJobRegistry()
	cache := pool.NewTemplateCache(10)
	ledger := pool.NewShareLedger(registry, cache, nil, 100)
	broadcaster := pool.NewBroadcaster(testLogger())

	m := NewSessionManager(validator, ledger, broadcaster, 2.5, testLogger())
	s := newTestSession(t)

	msg := NewRequest(float64(3), "mining.authorize", []any{"kaspool:miner1.worker1"})
	if err := m.HandleMessage(context.Background(), s, msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if !s.IsAuthorized() {
		t.Fatal("expected session to be authorized")
	}
	if !s.HasWorker("kaspool:miner1", "worker1") {
		t.Fatal("expected worker to be registered")
	}
	if s.Difficulty() != 2.5 {
		t.Fatalf("expected initial difficulty 2.5, got %v", s.Difficulty())
	}
}

func TestSessionManagerRemove(t *testing.T) {
	validator := &fakeValidator{valid: map[string]bool{"kaspool:miner1": true}}
	registry := pool.NewJobRegistry()
	cache := pool.NewTemplateCache(10)
	ledger := pool.NewShareLedger(registry, cache, nil, 100)
	broadcaster := pool.NewBroadcaster(testLogger())

	m := NewSessionManager(validator, ledger, broadcaster, 1.0, testLogger())
	s := newTestSession(t)

	_ = m.HandleMessage(context.Background(), s, NewRequest(float64(1), "mining.subscribe", []any{"agent/1.0"}))
	_ = m.HandleMessage(context.Background(), s, NewRequest(float64(2), "mining.authorize", []any{"kaspool:miner1.worker1"}))

	if broadcaster.Len() != 1 {
		t.Fatalf("expected session registered before removal, got %d", broadcaster.Len())
	}

	m.Remove(s)

	if broadcaster.Len() != 0 {
		t.Fatalf("expected broadcaster to drop session on removal, got %d", broadcaster.Len())
	}
}
