package pool

import "context"

// RejectReason classifies a node's refusal to accept a submitted block.
type RejectReason string

const (
	RejectIsInIBD     RejectReason = "IsInIBD"
	RejectRouteIsFull RejectReason = "RouteIsFull"
	RejectBlockInvalid RejectReason = "BlockInvalid"
)

// SubmitResult is the node's verdict on a submitBlock call.
type SubmitResult struct {
	Accepted bool
	Reason   RejectReason // set when !Accepted
}

// NewTemplateEvent is delivered on the node's new-block-template event
// stream; Node only needs to signal "something changed", TemplateService
// re-fetches the template itself.
type NewTemplateEvent struct{}

// NodeClient is the node RPC surface the pool core depends on (§6). It is
// implemented by internal/node against a real Kaspa full node and may be
// faked in tests.
type NodeClient interface {
	// Subscribe opens the "new block template" event stream. The returned
	// channel is closed when ctx is done or the subscription is torn down;
	// callers must resubscribe on reconnect.
	Subscribe(ctx context.Context) (<-chan NewTemplateEvent, error)

	// GetBlockTemplate fetches a fresh candidate block paying payAddress,
	// embedding extraData in the coinbase, and returns it with its PoW
	// state already derived.
	GetBlockTemplate(ctx context.Context, payAddress, extraData string) (Block, PoWState, error)

	// SubmitBlock submits block (with its nonce already set) to the node.
	SubmitBlock(ctx context.Context, block Block, allowNonDAABlocks bool) (SubmitResult, error)

	// BlockHash returns the finalized hash of a submitted block.
	BlockHash(block Block) string
}
