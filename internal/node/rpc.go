package node

import (
	"context"
	"fmt"
	"time"

	"github.com/kaspanet/kaspad/app/appmessage"
	"github.com/kaspanet/kaspad/infrastructure/network/rpcclient"

	"github.com/kaspool/core/internal/pool"
	"github.com/kaspool/core/pkg/circuit"
	poolerrors "github.com/kaspool/core/pkg/errors"
	"github.com/kaspool/core/pkg/retry"
)

// RPCClient wraps kaspad's gRPC rpcclient with the circuit-breaker/retry
// discipline the rest of this pool's infrastructure clients use.
type RPCClient struct {
	client         *rpcclient.RPCClient
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

var _ pool.NodeClient = (*RPCClient)(nil)

// NewRPCClient dials a Kaspa full node's gRPC RPC endpoint at host:port.
func NewRPCClient(host string, port int) (*RPCClient, error) {
	address := fmt.Sprintf("%s:%d", host, port)
	client, err := rpcclient.NewRPCClient(address)
	if err != nil {
		return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeNode, "rpc_client_creation", "failed to connect to node RPC").
			WithContext("address", address)
	}
	client.SetTimeout(10 * time.Second)

	return &RPCClient{
		client: client,
		circuitBreaker: circuit.New(&circuit.Config{
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         10 * time.Second,
			ResetTimeout:    30 * time.Second,
		}),
		retryConfig: retry.NetworkConfig(),
	}, nil
}

// Subscribe opens the node's new-block-template notification stream.
func (c *RPCClient) Subscribe(ctx context.Context) (<-chan pool.NewTemplateEvent, error) {
	events := make(chan pool.NewTemplateEvent, 16)

	onNotify := func(notification *appmessage.NewBlockTemplateNotificationMessage) {
		select {
		case events <- pool.NewTemplateEvent{}:
		default:
		}
	}

	if err := c.client.RegisterForNewBlockTemplateNotifications(onNotify); err != nil {
		close(events)
		return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeNode, "subscribe_new_template", "failed to register for new-block-template notifications")
	}

	go func() {
		<-ctx.Done()
		close(events)
	}()

	return events, nil
}

// GetBlockTemplate fetches a fresh candidate block from the node.
func (c *RPCClient) GetBlockTemplate(ctx context.Context, payAddress, extraData string) (pool.Block, pool.PoWState, error) {
	block, err := circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (*appmessage.RPCBlock, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (*appmessage.RPCBlock, error) {
			resp, err := c.client.GetBlockTemplate(payAddress, extraData)
			if err != nil {
				return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeNode, "get_block_template", "failed to retrieve block template")
			}
			return resp.Block, nil
		})
	})
	if err != nil {
		return nil, nil, err
	}

	pow, err := newPoWState(block)
	if err != nil {
		return nil, nil, poolerrors.Wrap(err, poolerrors.ErrorTypeNode, "derive_pow_state", "failed to derive pre-PoW hash from block header")
	}

	return rpcBlock{block: block}, pow, nil
}

// SubmitBlock submits a solved block to the node.
func (c *RPCClient) SubmitBlock(ctx context.Context, block pool.Block, allowNonDAABlocks bool) (pool.SubmitResult, error) {
	rb, ok := block.(rpcBlock)
	if !ok {
		return pool.SubmitResult{}, poolerrors.New(poolerrors.ErrorTypeInternal, "submit_block", "block is not a node-originated template")
	}

	// Block submission is time-critical: minimal retry, relies on the
	// caller (pool.TemplateService) for the transient-rejection retry loop.
	submitConfig := &retry.Config{
		MaxAttempts: 2,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
		Multiplier:  1.5,
		Jitter:      false,
	}

	var result pool.SubmitResult
	err := c.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, submitConfig, func() error {
			resp, err := c.client.SubmitBlock(rb.block, allowNonDAABlocks)
			if err != nil {
				return poolerrors.Wrap(err, poolerrors.ErrorTypeNode, "submit_block", "node submitBlock call failed")
			}

			switch resp.RejectReason {
			case appmessage.RejectReasonNone:
				result = pool.SubmitResult{Accepted: true}
			case appmessage.RejectReasonIsInIBD:
				result = pool.SubmitResult{Accepted: false, Reason: pool.RejectIsInIBD}
			default:
				result = pool.SubmitResult{Accepted: false, Reason: pool.RejectBlockInvalid}
			}
			return nil
		})
	})

	return result, err
}

// BlockHash returns the finalized header hash of a submitted block.
func (c *RPCClient) BlockHash(block pool.Block) string {
	rb, ok := block.(rpcBlock)
	if !ok {
		return ""
	}
	header, err := appmessage.RPCBlockHeaderToDomainBlockHeader(rb.block.Header)
	if err != nil {
		return ""
	}
	return header.BlockHash().String()
}

// GetCurrentBlockColor reports whether hash is part of the selected chain
// ("blue"), consumed by the coinbase-maturity collaborator, not by the pool
// core directly (§6).
func (c *RPCClient) GetCurrentBlockColor(ctx context.Context, hash string) (bool, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (bool, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (bool, error) {
			resp, err := c.client.GetCurrentBlockColor(hash)
			if err != nil {
				return false, poolerrors.Wrap(err, poolerrors.ErrorTypeNode, "get_current_block_color", "failed to retrieve block color").
					WithContext("hash", hash)
			}
			return resp.Blue, nil
		})
	})
}

// GetFeeEstimate returns the node's current fee estimate, used by the
// out-of-scope payout transaction builder.
func (c *RPCClient) GetFeeEstimate(ctx context.Context) (float64, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (float64, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (float64, error) {
			resp, err := c.client.GetFeeEstimate()
			if err != nil {
				return 0, poolerrors.Wrap(err, poolerrors.ErrorTypeNode, "get_fee_estimate", "failed to retrieve fee estimate")
			}
			return resp.Estimate, nil
		})
	})
}

// Ping checks node connectivity, used at startup (process exit code 2 on
// failure, §6).
func (c *RPCClient) Ping(ctx context.Context) error {
	return c.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			_, err := c.client.GetInfo()
			if err != nil {
				return poolerrors.Wrap(err, poolerrors.ErrorTypeNetwork, "ping", "node RPC connectivity check failed")
			}
			return nil
		})
	})
}

// Close releases the underlying gRPC connection.
func (c *RPCClient) Close() {
	c.client.Disconnect()
}
