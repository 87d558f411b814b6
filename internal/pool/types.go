// Package pool implements the template/job lifecycle, share-validation and
// PPLNS accounting core of the mining pool: JobRegistry, TemplateCache,
// TemplateService, ShareLedger, BlockAccount, Broadcaster and the
// PoolOrchestrator that wires them together.
package pool

import "time"

// BlockStatus is the lifecycle state of a BlockRecord.
type BlockStatus string

const (
	BlockStatusSubmitted BlockStatus = "submitted"
	BlockStatusMature    BlockStatus = "mature"
	BlockStatusOrphaned  BlockStatus = "orphaned"
)

// PoWState exposes the pre-PoW hash of a candidate block header and checks
// whether a nonce solves it against a target. Delegated to the node/consensus
// library; the pool core treats it as an opaque collaborator.
type PoWState interface {
	// PrePoWHash is the header hash excluding the nonce.
	PrePoWHash() [32]byte
	// CheckWork reports whether nonce solves the block, and the target the
	// resulting hash achieved (smaller target = harder work).
	CheckWork(nonce uint64) (solvesBlock bool, target [32]byte)
}

// Block is the opaque candidate block a Template wraps. The pool core never
// interprets its contents beyond handing it back to the node on submission.
type Block interface {
	// Timestamp is the block header's timestamp, used verbatim in the
	// mining.notify payload.
	Timestamp() int64
	// WithNonce returns a copy of the block with the header nonce set,
	// ready for submission.
	WithNonce(nonce uint64) Block
}

// Template pairs a candidate block with its PoW state.
type Template struct {
	Block Block
	PoW   PoWState
}

// Contribution records one accepted share.
type Contribution struct {
	Address    string
	WorkerName string
	Difficulty float64
	Timestamp  time.Time
}

// BlockRecord is the durable record of one submitted block and the PPLNS
// snapshot taken at the moment it was accepted.
type BlockRecord struct {
	BlockHash     string
	Contributions []Contribution
	SubmittedAt   time.Time
	Status        BlockStatus
}

// WorkerStats tracks per-worker share activity, feeding /miner?address=.
type WorkerStats struct {
	SharesCount int64
	LastActive  time.Time
}

// MinerStats tracks per-address aggregate mining activity.
type MinerStats struct {
	SharesCount         int64
	HashrateAccumulator float64
	LastActive          time.Time
	Workers             map[string]struct{}
	WorkerStats         map[string]*WorkerStats
}

// AddressValidator validates a protocol-layer address. Implemented by
// internal/node against the consensus address format.
type AddressValidator interface {
	Validate(address string) bool
}
