// Package node provides the Kaspa full-node RPC client, address validation
// and PoW delegation the pool core consumes as narrow interfaces
// (internal/pool.NodeClient, internal/pool.PoWState, internal/pool.Block).
package node

import (
	"github.com/kaspanet/kaspad/app/appmessage"
	"github.com/kaspanet/kaspad/domain/consensus/utils/pow"

	"github.com/kaspool/core/internal/pool"
)

// rpcBlock adapts *appmessage.RPCBlock to the pool's opaque pool.Block
// interface, so the core never imports appmessage directly.
type rpcBlock struct {
	block *appmessage.RPCBlock
}

var _ pool.Block = rpcBlock{}

func (b rpcBlock) Timestamp() int64 {
	return b.block.Header.Timestamp
}

// WithNonce returns a shallow copy of the block with the header nonce
// replaced, ready for resubmission.
func (b rpcBlock) WithNonce(nonce uint64) pool.Block {
	header := *b.block.Header
	header.Nonce = nonce
	cp := *b.block
	cp.Header = &header
	return rpcBlock{block: &cp}
}

// powState adapts the consensus pow.State to pool.PoWState.
type powState struct {
	hash  [32]byte
	state *pow.State
}

var _ pool.PoWState = powState{}

func (p powState) PrePoWHash() [32]byte {
	return p.hash
}

// CheckWork hashes nonce against the block header and reports whether the
// resulting proof-of-work value clears the block's own target as well as
// the numeric target the hash actually achieved, expressed as a 32-byte
// big-endian integer (smaller = harder).
func (p powState) CheckWork(nonce uint64) (bool, [32]byte) {
	solved, powValue := p.state.CheckProofOfWork(nonce)

	var target [32]byte
	b := powValue.Bytes()
	copy(target[32-len(b):], b)

	return solved, target
}

// newPoWState derives a pow.State and pre-PoW hash from a freshly fetched
// RPC block header, delegating the hash function itself to kaspad's
// consensus pow package rather than reimplementing it.
func newPoWState(block *appmessage.RPCBlock) (powState, error) {
	header, err := appmessage.RPCBlockHeaderToDomainBlockHeader(block.Header)
	if err != nil {
		return powState{}, err
	}

	state := pow.NewState(header.ToMutable())
	hashBytes := state.PrePoWHash()

	var hash [32]byte
	copy(hash[:], hashBytes.ByteSlice())

	return powState{hash: hash, state: state}, nil
}
