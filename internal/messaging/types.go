package messaging

import "time"

// JobMessage carries a job-ready event across process boundaries for
// deployments that run stratum front-ends as separate processes from the
// template service, mirroring internal/pool.JobReadyEvent over the wire.
type JobMessage struct {
	JobID       string    `json:"job_id"`
	PrePoWHash  string    `json:"pre_pow_hash"` // hex-encoded 32 bytes
	Timestamp   int64     `json:"timestamp"`
	DAAWindow   int       `json:"daa_window"`
	CreatedAt   time.Time `json:"created_at"`
}

// ShareMessage carries a raw share submission from a stratum front-end
// process to a share-processing consumer, mirroring the parameters of
// internal/pool.ShareLedger.Submit.
type ShareMessage struct {
	ShareID      string    `json:"share_id"`
	JobID        string    `json:"job_id"`
	MinerAddress string    `json:"miner_address"`
	WorkerName   string    `json:"worker_name"`
	NonceHex     string    `json:"nonce_hex"`
	Difficulty   float64   `json:"difficulty"`
	SessionID    string    `json:"session_id"`
	RemoteAddr   string    `json:"remote_addr"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// BlockCandidateMessage carries a block-hit share from a share-processing
// consumer to a node-submission consumer, mirroring
// internal/pool.BlockAcceptedEvent.
type BlockCandidateMessage struct {
	ShareID      string    `json:"share_id"`
	JobID        string    `json:"job_id"`
	BlockHash    string    `json:"block_hash"`
	MinerAddress string    `json:"miner_address"`
	WorkerName   string    `json:"worker_name"`
	Difficulty   float64   `json:"difficulty"`
	FoundAt      time.Time `json:"found_at"`
}

// BlockSubmissionResult represents the result of block submission
type BlockSubmissionResult struct {
	ShareID        string    `json:"share_id"`
	BlockHash      string    `json:"block_hash"`
	Status         string    `json:"status"` // "submitted", "mature", "orphaned"
	ErrorMessage   string    `json:"error_message,omitempty"`
	SubmissionTime time.Time `json:"submission_time"`
	LatencyMs      float64   `json:"latency_ms"`
}

// ShareValidationResult represents the result of share validation
type ShareValidationResult struct {
	ShareID          string    `json:"share_id"`
	JobID            string    `json:"job_id"`
	Status           string    `json:"status"` // "valid", "duplicate-share", "low-difficulty-share", "job-not-found"
	ErrorMessage     string    `json:"error_message,omitempty"`
	IsBlockCandidate bool      `json:"is_block_candidate"`
	ProcessedAt      time.Time `json:"processed_at"`
	ProcessingTimeMs float64   `json:"processing_time_ms"`
}

// MinerStatsUpdate represents per-miner statistics updates for the read API.
type MinerStatsUpdate struct {
	MinerAddress string    `json:"miner_address"`
	WorkerName   string    `json:"worker_name,omitempty"`
	SharesCount  int64     `json:"shares_count"`
	Hashrate     float64   `json:"hashrate"`
	LastShareAt  time.Time `json:"last_share_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
