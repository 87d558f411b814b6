package pool

import (
	"encoding/hex"
	"sync"
)

// JobRegistry maps short session-facing job IDs to pre-PoW hashes, in
// insertion order, with FIFO eviction kept in lockstep with TemplateCache.
//
// mint is deterministic from the hash: minting the same prePoWHash twice in
// a row returns the same jobId and does not grow the registry.
type JobRegistry struct {
	mu      sync.RWMutex
	order   []string
	byJob   map[string][32]byte
	byHash  map[[32]byte]string
	counter uint64
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{
		byJob:  make(map[string][32]byte),
		byHash: make(map[[32]byte]string),
	}
}

// Mint returns the jobId for prePoWHash, minting a new one if this hash has
// never been seen. Idempotent: repeat calls with the same hash return the
// existing id without mutating order.
func (r *JobRegistry) Mint(prePoWHash [32]byte) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byHash[prePoWHash]; ok {
		return id
	}

	r.counter++
	id := hex.EncodeToString(prePoWHash[:4])
	if _, collide := r.byJob[id]; collide {
		// fall back to a counter-derived id on the rare 32-bit collision
		id = hex.EncodeToString(prePoWHash[:4]) + "-" + hex.EncodeToString([]byte{byte(r.counter)})
	}

	r.byJob[id] = prePoWHash
	r.byHash[prePoWHash] = id
	r.order = append(r.order, id)
	return id
}

// Lookup recovers the prePoWHash for a jobId. ok is false if the job has
// been evicted or was never minted.
func (r *JobRegistry) Lookup(jobID string) (hash [32]byte, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hash, ok = r.byJob[jobID]
	return hash, ok
}

// ExpireOldest removes the oldest (first-minted) job, if any.
func (r *JobRegistry) ExpireOldest() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return
	}
	oldest := r.order[0]
	r.order = r.order[1:]
	if hash, ok := r.byJob[oldest]; ok {
		delete(r.byHash, hash)
	}
	delete(r.byJob, oldest)
}

// Len returns the number of live jobs.
func (r *JobRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
