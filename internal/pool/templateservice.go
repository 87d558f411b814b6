package pool

import (
	"context"
	"time"

	"github.com/kaspool/core/pkg/circuit"
	poolerrors "github.com/kaspool/core/pkg/errors"
	"github.com/kaspool/core/pkg/log"
)

// JobReadyEvent is emitted whenever a new template has been admitted into
// the cache and minted a jobId worth broadcasting.
type JobReadyEvent struct {
	JobID      string
	PrePoWHash [32]byte
	Timestamp  int64
}

// submitRetryInterval is the §4.1 "sleep 5 seconds, retry" delay for the two
// transient reject reasons. Variable rather than const so tests can shorten
// it.
var submitRetryInterval = 5 * time.Second

// submitRetryCap bounds total elapsed retry time per §9's design note
// ("cap total elapsed retry time, recommend 10 min").
const submitRetryCap = 10 * time.Minute

// TemplateService subscribes to the node's new-template stream, populates
// TemplateCache and JobRegistry, and emits job-ready events for the
// Broadcaster. It also owns resubmission of solved blocks to the node.
type TemplateService struct {
	node       NodeClient
	cache      *TemplateCache
	registry   *JobRegistry
	payAddress string
	extraData  string
	daaWindow  int

	breaker *circuit.Breaker
	logger  *log.Logger

	jobReady chan JobReadyEvent
}

// NewTemplateService wires a TemplateService against node, sharing cache and
// registry with the rest of the pool.
func NewTemplateService(node NodeClient, cache *TemplateCache, registry *JobRegistry, payAddress, extraData string, daaWindow int, logger *log.Logger) *TemplateService {
	return &TemplateService{
		node:       node,
		cache:      cache,
		registry:   registry,
		payAddress: payAddress,
		extraData:  extraData,
		daaWindow:  daaWindow,
		breaker: circuit.New(&circuit.Config{
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         10 * time.Second,
			ResetTimeout:    30 * time.Second,
		}),
		logger:   logger.WithComponent("template_service"),
		jobReady: make(chan JobReadyEvent, 64),
	}
}

// JobReady returns the channel job-ready events are published on.
func (s *TemplateService) JobReady() <-chan JobReadyEvent {
	return s.jobReady
}

// Run subscribes to the node's new-template stream and ingests templates
// until ctx is cancelled, resubscribing on stream loss.
func (s *TemplateService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(s.jobReady)
			return ctx.Err()
		default:
		}

		events, err := s.node.Subscribe(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("new-template subscription failed, retrying")
			select {
			case <-ctx.Done():
				close(s.jobReady)
				return ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		s.logger.Info("subscribed to new-template stream")
		s.consume(ctx, events)
		// events closed: node connection dropped, resubscribe.
	}
}

func (s *TemplateService) consume(ctx context.Context, events <-chan NewTemplateEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			if err := s.ingest(ctx); err != nil {
				s.logger.WithError(err).Warn("failed to ingest new template")
			}
		}
	}
}

// ingest fetches a fresh block template and, if its pre-PoW hash hasn't
// already been seen, stores it and mints a job.
func (s *TemplateService) ingest(ctx context.Context) error {
	block, pow, err := s.node.GetBlockTemplate(ctx, s.payAddress, s.extraData)
	if err != nil {
		return poolerrors.Wrap(err, poolerrors.ErrorTypeNode, "get_block_template", "failed to fetch block template")
	}

	h := pow.PrePoWHash()
	if s.cache.Has(h) {
		return nil // idempotent ingest: already seen, do not re-mint or re-broadcast
	}

	if !s.cache.Insert(h, &Template{Block: block, PoW: pow}) {
		return nil
	}

	if s.cache.Len() > s.daaWindow {
		if evicted, ok := s.cache.EvictOldest(); ok {
			_ = evicted
			s.registry.ExpireOldest()
		}
	}

	jobID := s.registry.Mint(h)
	evt := JobReadyEvent{JobID: jobID, PrePoWHash: h, Timestamp: block.Timestamp()}

	select {
	case s.jobReady <- evt:
	case <-ctx.Done():
	}

	return nil
}

// Submit looks up the template for prePoWHash, sets nonce on it, and
// resubmits to the node with the §4.1 retry semantics.
func (s *TemplateService) Submit(ctx context.Context, prePoWHash [32]byte, nonce uint64) (blockHash string, err error) {
	tpl, ok := s.cache.Get(prePoWHash)
	if !ok {
		return "", poolerrors.New(poolerrors.ErrorTypeValidation, "submit", "template-not-found")
	}

	block := tpl.Block.WithNonce(nonce)

	deadline := time.Now().Add(submitRetryCap)
	for {
		var result SubmitResult
		err := s.breaker.Execute(ctx, func() error {
			var submitErr error
			result, submitErr = s.node.SubmitBlock(ctx, block, false)
			return submitErr
		})
		if err != nil {
			return "", poolerrors.Wrap(err, poolerrors.ErrorTypeNode, "submit_block", "node submit-block call failed")
		}

		if result.Accepted {
			return s.node.BlockHash(block), nil
		}

		switch result.Reason {
		case RejectIsInIBD, RejectRouteIsFull:
			s.logger.Warn("transient submit rejection, retrying", "reason", string(result.Reason))
			if time.Now().After(deadline) {
				return "", poolerrors.New(poolerrors.ErrorTypeNode, "submit_block", "retry cap exceeded").WithContext("reason", string(result.Reason))
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(submitRetryInterval):
			}
			continue
		default:
			// BlockInvalid or any other reason: fatal for this submission.
			// The template is NOT evicted here; normal DAA-window eviction handles it.
			return "", poolerrors.New(poolerrors.ErrorTypeValidation, "submit_block", "block-invalid").
				WithContext("reason", string(result.Reason))
		}
	}
}
