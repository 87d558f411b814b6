package pool

import (
	"context"
	"time"

	"github.com/kaspool/core/pkg/log"
)

const (
	cleanupInterval         = 60 * time.Second
	hashrateSnapshotPeriod  = 60 * time.Second
	minerStatsMaxAge        = 1 * time.Hour
	shareHistoryMaxAge      = 24 * time.Hour
	blockRecordTerminalAge  = 48 * time.Hour
	hashrateHistoryCapacity = 100
	maturityPollInterval    = 30 * time.Second
)

// HashrateRecorder persists pool hashrate snapshots for the read API's
// /hashrate-history endpoint, bounded to hashrateHistoryCapacity points.
type HashrateRecorder interface {
	RecordHashrate(value float64) error
}

// EventPublisher mirrors job-ready and block-accepted events onto an
// inter-service bus for deployments that split the stratum front-end from
// the template/share core across processes. A nil EventPublisher leaves the
// orchestrator fully in-process, which is the default.
type EventPublisher interface {
	PublishJob(jobID string, prePoWHash [32]byte, timestamp int64) error
	PublishBlockCandidate(evt BlockAcceptedEvent) error
}

// MaturityEventSource polls the external coinbase-maturity collaborator for
// blocks that have crossed the maturity depth, given the set of still
// submitted-but-unresolved block hashes BlockAccount is holding. A nil
// MaturityEventSource leaves maturity entirely undriven, which is only
// appropriate for tests that exercise OnMaturity directly.
type MaturityEventSource interface {
	Poll(ctx context.Context, pendingHashes []string) ([]MaturityEvent, error)
}

// PoolOrchestrator wires TemplateService, ShareLedger, BlockAccount and
// Broadcaster together, and owns the background cleanup and hashrate
// snapshot tickers (§4.7).
type PoolOrchestrator struct {
	templates   *TemplateService
	ledger      *ShareLedger
	blocks      *BlockAccount
	broadcaster *Broadcaster
	hashrate    HashrateRecorder
	publisher   EventPublisher
	maturity    MaturityEventSource
	logger      *log.Logger
}

// NewPoolOrchestrator wires the given components.
func NewPoolOrchestrator(templates *TemplateService, ledger *ShareLedger, blocks *BlockAccount, broadcaster *Broadcaster, hashrate HashrateRecorder, logger *log.Logger) *PoolOrchestrator {
	return &PoolOrchestrator{
		templates:   templates,
		ledger:      ledger,
		blocks:      blocks,
		broadcaster: broadcaster,
		hashrate:    hashrate,
		logger:      logger.WithComponent("orchestrator"),
	}
}

// SetPublisher attaches an optional EventPublisher. Call before Run; it is
// not safe to change once the bridge goroutines have started.
func (o *PoolOrchestrator) SetPublisher(publisher EventPublisher) {
	o.publisher = publisher
}

// SetMaturitySource attaches the collaborator that drives BlockAccount's
// maturity bridge. Call before Run; it is not safe to change once the
// bridge goroutines have started.
func (o *PoolOrchestrator) SetMaturitySource(maturity MaturityEventSource) {
	o.maturity = maturity
}

// Run starts the template service, the job-ready → broadcast bridge, the
// block-accepted → BlockAccount bridge, the maturity → BlockAccount bridge
// (if a MaturityEventSource is attached), and the background tickers. It
// blocks until ctx is cancelled.
func (o *PoolOrchestrator) Run(ctx context.Context) error {
	go func() {
		if err := o.templates.Run(ctx); err != nil && ctx.Err() == nil {
			o.logger.WithError(err).Warn("template service stopped")
		}
	}()

	go o.bridgeJobReady(ctx)
	go o.bridgeBlockAccepted(ctx)
	if o.maturity != nil {
		go o.bridgeMaturity(ctx)
	}

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()
	hashrateTicker := time.NewTicker(hashrateSnapshotPeriod)
	defer hashrateTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanupTicker.C:
			o.ledger.PruneInactive(minerStatsMaxAge)
			o.blocks.PruneTerminal(blockRecordTerminalAge)
		case <-hashrateTicker.C:
			if o.hashrate != nil {
				if err := o.hashrate.RecordHashrate(o.ledger.PoolHashrate()); err != nil {
					o.logger.WithError(err).Warn("failed to record hashrate snapshot")
				}
			}
		}
	}
}

func (o *PoolOrchestrator) bridgeJobReady(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-o.templates.JobReady():
			if !ok {
				return
			}
			o.broadcaster.Broadcast(evt.JobID, evt.PrePoWHash, evt.Timestamp)
			if o.publisher != nil {
				if err := o.publisher.PublishJob(evt.JobID, evt.PrePoWHash, evt.Timestamp); err != nil {
					o.logger.WithError(err).Warn("failed to publish job event")
				}
			}
		}
	}
}

// bridgeMaturity periodically hands BlockAccount's still-pending block
// hashes to the attached MaturityEventSource and applies whatever maturity
// verdicts come back, matching bridgeJobReady/bridgeBlockAccepted's
// channel-driven pattern but on a poll tick rather than a push channel,
// since coinbase maturity is a depth condition the node must be asked
// about rather than something it pushes notifications for.
func (o *PoolOrchestrator) bridgeMaturity(ctx context.Context) {
	ticker := time.NewTicker(maturityPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending := o.blocks.PendingHashes()
			if len(pending) == 0 {
				continue
			}
			events, err := o.maturity.Poll(ctx, pending)
			if err != nil {
				o.logger.WithError(err).Warn("maturity poll failed")
				continue
			}
			for _, evt := range events {
				if err := o.blocks.OnMaturity(evt); err != nil {
					o.logger.WithError(err).Warn("failed to apply maturity event", "block_hash", evt.BlockHash)
				}
			}
		}
	}
}

func (o *PoolOrchestrator) bridgeBlockAccepted(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-o.ledger.BlockAccepted():
			if !ok {
				return
			}
			snapshot := o.ledger.Snapshot()
			o.blocks.OnBlockAccepted(evt.BlockHash, snapshot)
			if o.publisher != nil {
				if err := o.publisher.PublishBlockCandidate(evt); err != nil {
					o.logger.WithError(err).Warn("failed to publish block candidate event")
				}
			}
		}
	}
}
