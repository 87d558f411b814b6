package node

import (
	"context"
	"math/big"

	"github.com/kaspanet/kaspad/app/appmessage"

	"github.com/kaspool/core/internal/pool"
	"github.com/kaspool/core/pkg/circuit"
	poolerrors "github.com/kaspool/core/pkg/errors"
	"github.com/kaspool/core/pkg/retry"
)

// coinbaseMaturityDAAScore is the confirmation depth, in DAA score, Kaspa
// requires before a block's coinbase output is considered spendable.
const coinbaseMaturityDAAScore = 100

// MaturityPoller checks a set of submitted-but-not-yet-mature block hashes
// against the node's current DAG state and reports the ones that have
// crossed the coinbase maturity depth, paired with their color and net
// coinbase amount (§4.6's external coinbase-maturity collaborator).
type MaturityPoller struct {
	client         *RPCClient
	poolFeePercent float64
}

var _ pool.MaturityEventSource = (*MaturityPoller)(nil)

// NewMaturityPoller wires a MaturityPoller against an already-connected
// RPCClient, deducting poolFeePercent from each matured block's coinbase
// before handing the net amount to BlockAccount.
func NewMaturityPoller(client *RPCClient, poolFeePercent float64) *MaturityPoller {
	return &MaturityPoller{client: client, poolFeePercent: poolFeePercent}
}

// Poll checks each of pendingHashes and returns a pool.MaturityEvent for
// every one that has crossed coinbaseMaturityDAAScore confirmations,
// omitting any still pending. A block the node can no longer serve (pruned,
// or not yet indexed) is silently skipped and retried on the next poll.
func (p *MaturityPoller) Poll(ctx context.Context, pendingHashes []string) ([]pool.MaturityEvent, error) {
	if len(pendingHashes) == 0 {
		return nil, nil
	}

	dagInfo, err := circuit.ExecuteWithResult(ctx, p.client.circuitBreaker, func() (*appmessage.GetBlockDAGInfoResponseMessage, error) {
		return retry.DoWithResult(ctx, p.client.retryConfig, func() (*appmessage.GetBlockDAGInfoResponseMessage, error) {
			resp, err := p.client.client.GetBlockDAGInfo()
			if err != nil {
				return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeNode, "get_block_dag_info", "failed to retrieve DAG info")
			}
			return resp, nil
		})
	})
	if err != nil {
		return nil, err
	}

	var events []pool.MaturityEvent
	for _, hash := range pendingHashes {
		evt, ok, err := p.checkOne(ctx, hash, dagInfo.VirtualDAAScore)
		if err != nil {
			continue
		}
		if ok {
			events = append(events, evt)
		}
	}

	return events, nil
}

func (p *MaturityPoller) checkOne(ctx context.Context, hash string, virtualDAAScore uint64) (pool.MaturityEvent, bool, error) {
	block, err := circuit.ExecuteWithResult(ctx, p.client.circuitBreaker, func() (*appmessage.RPCBlock, error) {
		return retry.DoWithResult(ctx, p.client.retryConfig, func() (*appmessage.RPCBlock, error) {
			resp, err := p.client.client.GetBlock(hash, true)
			if err != nil {
				return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeNode, "get_block", "failed to retrieve block").WithContext("hash", hash)
			}
			return resp.Block, nil
		})
	})
	if err != nil {
		return pool.MaturityEvent{}, false, err
	}

	if virtualDAAScore < block.Header.DAAScore || virtualDAAScore-block.Header.DAAScore < coinbaseMaturityDAAScore {
		return pool.MaturityEvent{}, false, nil
	}

	blue, err := circuit.ExecuteWithResult(ctx, p.client.circuitBreaker, func() (bool, error) {
		return retry.DoWithResult(ctx, p.client.retryConfig, func() (bool, error) {
			resp, err := p.client.client.GetCurrentBlockColor(hash)
			if err != nil {
				return false, poolerrors.Wrap(err, poolerrors.ErrorTypeNode, "get_current_block_color", "failed to retrieve block color").WithContext("hash", hash)
			}
			return resp.Blue, nil
		})
	})
	if err != nil {
		return pool.MaturityEvent{}, false, err
	}

	netAmount := big.NewInt(0)
	if blue && len(block.Transactions) > 0 {
		netAmount = p.coinbaseNetAmount(block.Transactions[0])
	}

	return pool.MaturityEvent{BlockHash: hash, NetAmount: netAmount, IsBlue: blue}, true, nil
}

// coinbaseNetAmount sums coinbase's outputs and deducts the configured pool
// fee percentage, floored to whole sompi.
func (p *MaturityPoller) coinbaseNetAmount(coinbase *appmessage.RPCTransaction) *big.Int {
	total := new(big.Int)
	for _, out := range coinbase.Outputs {
		total.Add(total, new(big.Int).SetUint64(out.Amount))
	}

	feeBps := int64(p.poolFeePercent * 100)
	net := new(big.Int).Mul(total, big.NewInt(10000-feeBps))
	net.Div(net, big.NewInt(10000))
	return net
}
