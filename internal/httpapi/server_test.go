package httpapi

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/kaspool/core/internal/database/influx"
	"github.com/kaspool/core/internal/database/postgres"
	"github.com/kaspool/core/internal/pool"
	"github.com/kaspool/core/pkg/log"
)

type fakeBalances struct {
	balances map[string]*big.Int
	err      error
}

func (f *fakeBalances) Balance(address string) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.balances[address]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

type fakeBlocks struct {
	blocks []*postgres.BlockRecord
}

func (f *fakeBlocks) GetRecentBlocks(ctx context.Context, limit, offset int) ([]*postgres.BlockRecord, error) {
	return f.blocks, nil
}

type fakePayouts struct {
	payouts []*postgres.PayoutRecord
}

func (f *fakePayouts) GetRecentPayouts(ctx context.Context, limit, offset int) ([]*postgres.PayoutRecord, error) {
	return f.payouts, nil
}

type fakeHashrates struct {
	points []influx.HashratePoint
}

func (f *fakeHashrates) GetPoolHashrateHistory(ctx context.Context, duration time.Duration) ([]influx.HashratePoint, error) {
	return f.points, nil
}

func testLogger() *log.Logger {
	return log.New("kaspool-test", "test", "error", "text")
}

func newTestServer(t *testing.T) (*Server, *fakeBalances) {
	t.Helper()
	balances := &fakeBalances{balances: map[string]*big.Int{"kaspool:miner1": big.NewInt(5000)}}

	s, err := New("127.0.0.1:0",
		pool.NewShareLedger(pool.NewJobRegistry(), pool.NewTemplateCache(10), nil, 100),
		balances,
		&fakeBlocks{},
		&fakePayouts{},
		&fakeHashrates{},
		"test-version",
		testLogger(),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, balances
}

func TestHandleVersion(t *testing.T) {
	s, _ := newTestServer(t)

	rr := newRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/version", nil)
	s.handleVersion(rr, req, nil)

	if rr.status != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.status)
	}

	var body map[string]string
	if err := json.Unmarshal(rr.body, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["version"] != "test-version" {
		t.Fatalf("unexpected version: %q", body["version"])
	}
}

func TestHandleMinerRequiresAddress(t *testing.T) {
	s, _ := newTestServer(t)

	rr := newRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/miner", nil)
	s.handleMiner(rr, req, nil)

	if rr.status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.status)
	}
}

func TestHandleMinerNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rr := newRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/miner?address=kaspool:unknown", nil)
	s.handleMiner(rr, req, nil)

	if rr.status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.status)
	}
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(t)

	rr := newRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/status", nil)
	s.handleStatus(rr, req, nil)

	if rr.status != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.status)
	}

	var body statusResponse
	if err := json.Unmarshal(rr.body, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Version != "test-version" {
		t.Fatalf("unexpected version: %q", body.Version)
	}
}

func TestPagingParamsFallsBackOnOutOfRange(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/blocks?limit=99999&offset=-5", nil)
	limit, offset := pagingParams(req)
	if limit != 50 {
		t.Fatalf("expected limit to fall back to default 50, got %d", limit)
	}
	if offset != 0 {
		t.Fatalf("expected offset to fall back to default 0, got %d", offset)
	}
}

func TestPagingParamsHonorsValidValues(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/blocks?limit=10&offset=20", nil)
	limit, offset := pagingParams(req)
	if limit != 10 || offset != 20 {
		t.Fatalf("expected (10, 20), got (%d, %d)", limit, offset)
	}
}

// recorder is a minimal http.ResponseWriter capturing status and body,
// avoiding a dependency on net/http/httptest's extra ceremony for these
// narrow handler-level checks.
type recorder struct {
	status int
	body   []byte
	header http.Header
}

func newRecorder() *recorder {
	return &recorder{status: http.StatusOK, header: make(http.Header)}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return len(b), nil
}

func (r *recorder) WriteHeader(status int) { r.status = status }
