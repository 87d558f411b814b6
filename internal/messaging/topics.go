package messaging

// Topic constants for the mining pool's optional cross-process messaging
// path. The single-binary internal/pool.PoolOrchestrator wires these
// collaborators in-process over typed channels by default (§9's
// event-emitter-to-typed-channel redesign); these topics exist for
// deployments that split the stratum front-end from the template/share core
// across processes.
const (
	TopicJobs            = "pool.jobs"             // template service → stratum front-ends
	TopicShares          = "pool.shares"           // stratum front-ends → share ledger
	TopicBlockCandidates = "pool.block_candidates" // share ledger → node submitter (HOT PATH)
	TopicBlockResults    = "pool.block_results"    // node submitter → stats
	TopicShareResults    = "pool.share_results"    // share ledger → stats

	TopicMinerStats = "pool.miner_stats" // share ledger → stats
	TopicPoolStats  = "pool.pool_stats"  // orchestrator → read API
)
