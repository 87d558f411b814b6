package pool

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	poolerrors "github.com/kaspool/core/pkg/errors"
)

// SubmitResultShare is the outcome of a ShareLedger.Submit call.
type SubmitResultShare struct {
	IsBlock   bool
	BlockHash string
}

// BlockAcceptedEvent is raised by ShareLedger when a submission clears the
// network target and the node has accepted the resubmitted block.
type BlockAcceptedEvent struct {
	BlockHash    string
	Contribution Contribution
}

const (
	// maxRecentShares bounds the per-worker hashrate sample retained for
	// reporting (§4.4's "keep up to 100 recent shares per worker").
	maxRecentShares = 100
	// hashrateWindow is the trailing window used for the per-worker H ≈
	// (Σ difficulty × 2³²) / window_seconds estimate.
	hashrateWindow = 10 * time.Minute
	// shareHistoryRetention is how long timestamps are kept for rate
	// reporting (§3's shareHistory).
	shareHistoryRetention = 24 * time.Hour
)

type workerShareSample struct {
	difficulty float64
	at         time.Time
}

// ShareLedger de-duplicates nonces, validates submitted work against the
// session's advertised difficulty, and appends accepted shares to a bounded
// PPLNS window while tracking live per-miner statistics. It is the single
// writer of seenNonces, window and minerStats (§5).
type ShareLedger struct {
	mu sync.Mutex

	registry *JobRegistry
	cache    *TemplateCache
	service  *TemplateService
	window   int // PPLNS_WINDOW

	seenNonces map[uint64]struct{}
	contribs   []Contribution
	minerStats map[string]*MinerStats
	// recentShares samples per (address, worker) for hashrate reporting.
	recentShares  map[string][]workerShareSample
	shareHistory  []time.Time

	blockAccepted chan BlockAcceptedEvent
}

// NewShareLedger wires a ShareLedger sharing registry/cache with the rest of
// the pool and submitting block-hits through service.
func NewShareLedger(registry *JobRegistry, cache *TemplateCache, service *TemplateService, pplnsWindow int) *ShareLedger {
	return &ShareLedger{
		registry:      registry,
		cache:         cache,
		service:       service,
		window:        pplnsWindow,
		seenNonces:    make(map[uint64]struct{}),
		minerStats:    make(map[string]*MinerStats),
		recentShares:  make(map[string][]workerShareSample),
		blockAccepted: make(chan BlockAcceptedEvent, 16),
	}
}

// BlockAccepted returns the channel on which block-accepted events are
// published for BlockAccount to consume.
func (l *ShareLedger) BlockAccepted() <-chan BlockAcceptedEvent {
	return l.blockAccepted
}

// calculateTarget converts a session difficulty into the u256 target it
// corresponds to: higher difficulty → smaller (harder) target. Grounded on
// the same "difficulty-1 target, divide down" convention used across every
// stratum implementation in the pack, generalized to an arbitrary max
// target supplied by the node's consensus parameters.
func calculateTarget(maxTarget *big.Int, difficulty float64) *big.Int {
	if difficulty <= 0 {
		difficulty = 1
	}
	diffBig := new(big.Float).SetFloat64(difficulty)
	maxF := new(big.Float).SetInt(maxTarget)
	target := new(big.Float).Quo(maxF, diffBig)
	result, _ := target.Int(nil)
	return result
}

// Submit validates and records a share per §4.4's numbered algorithm.
func (l *ShareLedger) Submit(addr, workerName, jobID, nonceHex string, difficulty float64, maxTarget *big.Int) (SubmitResultShare, error) {
	h, ok := l.registry.Lookup(jobID)
	if !ok {
		return SubmitResultShare{}, poolerrors.New(poolerrors.ErrorTypeValidation, "submit_share", "job-not-found")
	}

	tpl, ok := l.cache.Get(h)
	if !ok {
		return SubmitResultShare{}, poolerrors.New(poolerrors.ErrorTypeValidation, "submit_share", "job-not-found")
	}

	nonce, err := parseNonceHex(nonceHex)
	if err != nil {
		return SubmitResultShare{}, poolerrors.New(poolerrors.ErrorTypeProtocol, "submit_share", "malformed nonce")
	}

	l.mu.Lock()
	if _, dup := l.seenNonces[nonce]; dup {
		l.mu.Unlock()
		return SubmitResultShare{}, poolerrors.New(poolerrors.ErrorTypeValidation, "submit_share", "duplicate-share")
	}
	l.mu.Unlock()

	isBlock, target := tpl.PoW.CheckWork(nonce)

	targetInt := new(big.Int).SetBytes(target[:])
	required := calculateTarget(maxTarget, difficulty)
	if targetInt.Cmp(required) > 0 {
		return SubmitResultShare{}, poolerrors.New(poolerrors.ErrorTypeValidation, "submit_share", "low-difficulty-share")
	}

	now := time.Now()
	contribution := Contribution{Address: addr, WorkerName: workerName, Difficulty: difficulty, Timestamp: now}

	l.mu.Lock()
	if _, dup := l.seenNonces[nonce]; dup {
		l.mu.Unlock()
		return SubmitResultShare{}, poolerrors.New(poolerrors.ErrorTypeValidation, "submit_share", "duplicate-share")
	}
	l.seenNonces[nonce] = struct{}{}
	l.contribs = append(l.contribs, contribution)
	if len(l.contribs) > l.window {
		l.contribs = l.contribs[len(l.contribs)-l.window:]
	}
	l.recordStatsLocked(addr, workerName, difficulty, now)
	l.mu.Unlock()

	if !isBlock {
		return SubmitResultShare{}, nil
	}

	blockHash, err := l.service.Submit(context.Background(), h, nonce)
	if err != nil {
		return SubmitResultShare{}, err
	}

	evt := BlockAcceptedEvent{BlockHash: blockHash, Contribution: contribution}
	select {
	case l.blockAccepted <- evt:
	default:
	}

	return SubmitResultShare{IsBlock: true, BlockHash: blockHash}, nil
}

func (l *ShareLedger) recordStatsLocked(addr, workerName string, difficulty float64, now time.Time) {
	stats, ok := l.minerStats[addr]
	if !ok {
		stats = &MinerStats{
			Workers:     make(map[string]struct{}),
			WorkerStats: make(map[string]*WorkerStats),
		}
		l.minerStats[addr] = stats
	}
	stats.SharesCount++
	stats.LastActive = now
	if workerName != "" {
		stats.Workers[workerName] = struct{}{}
		ws, ok := stats.WorkerStats[workerName]
		if !ok {
			ws = &WorkerStats{}
			stats.WorkerStats[workerName] = ws
		}
		ws.SharesCount++
		ws.LastActive = now
	}

	key := addr + "/" + workerName
	samples := append(l.recentShares[key], workerShareSample{difficulty: difficulty, at: now})
	if len(samples) > maxRecentShares {
		samples = samples[len(samples)-maxRecentShares:]
	}
	l.recentShares[key] = samples

	l.shareHistory = append(l.shareHistory, now)
	cutoff := now.Add(-shareHistoryRetention)
	for len(l.shareHistory) > 0 && l.shareHistory[0].Before(cutoff) {
		l.shareHistory = l.shareHistory[1:]
	}
}

// Hashrate estimates a worker's hashrate over the trailing window:
// H ≈ (Σ difficulty × 2³²) / window_seconds.
func (l *ShareLedger) Hashrate(addr, workerName string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := addr + "/" + workerName
	samples := l.recentShares[key]
	if len(samples) == 0 {
		return 0
	}

	cutoff := time.Now().Add(-hashrateWindow)
	var sum float64
	oldest := time.Now()
	for _, s := range samples {
		if s.at.Before(cutoff) {
			continue
		}
		sum += s.difficulty
		if s.at.Before(oldest) {
			oldest = s.at
		}
	}
	elapsed := time.Since(oldest).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return (sum * 4294967296.0) / elapsed
}

// PoolHashrate sums every miner's share of the current recent-share pool.
func (l *ShareLedger) PoolHashrate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-hashrateWindow)
	var sum float64
	var oldest time.Time
	for _, samples := range l.recentShares {
		for _, s := range samples {
			if s.at.Before(cutoff) {
				continue
			}
			sum += s.difficulty
			if oldest.IsZero() || s.at.Before(oldest) {
				oldest = s.at
			}
		}
	}
	if oldest.IsZero() {
		return 0
	}
	elapsed := time.Since(oldest).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return (sum * 4294967296.0) / elapsed
}

// WindowLen returns the current number of contributions held.
func (l *ShareLedger) WindowLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.contribs)
}

// Snapshot returns a copy of the current PPLNS window, for BlockAccount to
// attach to a BlockRecord at acceptance time. It must be called with no
// Contribution inserted strictly after the triggering submitBlock success
// (§5); callers invoke it synchronously from the block-accepted handler
// before any other share can be processed, since ShareLedger itself is the
// single writer and Submit calls are serialized under l.mu.
func (l *ShareLedger) Snapshot() []Contribution {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Contribution, len(l.contribs))
	copy(out, l.contribs)
	return out
}

// MinerStatsSnapshot returns a copy of one miner's live stats.
func (l *ShareLedger) MinerStatsSnapshot(addr string) (MinerStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats, ok := l.minerStats[addr]
	if !ok {
		return MinerStats{}, false
	}
	cp := MinerStats{
		SharesCount:         stats.SharesCount,
		HashrateAccumulator: stats.HashrateAccumulator,
		LastActive:          stats.LastActive,
		Workers:             make(map[string]struct{}, len(stats.Workers)),
		WorkerStats:         make(map[string]*WorkerStats, len(stats.WorkerStats)),
	}
	for w := range stats.Workers {
		cp.Workers[w] = struct{}{}
	}
	for w, ws := range stats.WorkerStats {
		wsCopy := *ws
		cp.WorkerStats[w] = &wsCopy
	}
	return cp, true
}

// MinerAddresses returns a snapshot of every address with live stats,
// feeding the /miners read endpoint.
func (l *ShareLedger) MinerAddresses() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	addrs := make([]string, 0, len(l.minerStats))
	for addr := range l.minerStats {
		addrs = append(addrs, addr)
	}
	return addrs
}

// PruneInactive drops minerStats entries inactive longer than maxAge and
// shareHistory entries older than the retention window (§4.7 cleanup tick).
func (l *ShareLedger) PruneInactive(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for addr, stats := range l.minerStats {
		if stats.LastActive.Before(cutoff) {
			delete(l.minerStats, addr)
		}
	}
	historyCutoff := time.Now().Add(-shareHistoryRetention)
	for len(l.shareHistory) > 0 && l.shareHistory[0].Before(historyCutoff) {
		l.shareHistory = l.shareHistory[1:]
	}
}

func parseNonceHex(nonceHex string) (uint64, error) {
	b, err := hex.DecodeString(nonceHex)
	if err != nil {
		return 0, err
	}
	if len(b) > 8 {
		return 0, fmt.Errorf("nonce too long: %d bytes", len(b))
	}
	var padded [8]byte
	copy(padded[8-len(b):], b)
	return binary.BigEndian.Uint64(padded[:]), nil
}
