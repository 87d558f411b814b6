package node

import (
	"github.com/kaspanet/kaspad/util"

	"github.com/kaspool/core/internal/pool"
)

// AddressValidator validates protocol-layer (bech32 "kaspa:..."-style)
// addresses against the consensus address format, implementing
// pool.AddressValidator and feeding §3's "Every Contribution.address passes
// the consensus address validator" invariant.
type AddressValidator struct {
	prefix util.Bech32Prefix
}

var _ pool.AddressValidator = (*AddressValidator)(nil)

// NewAddressValidator builds a validator bound to prefix (mainnet, testnet,
// etc).
func NewAddressValidator(prefix util.Bech32Prefix) *AddressValidator {
	return &AddressValidator{prefix: prefix}
}

// Validate reports whether address decodes as a well-formed address for
// this validator's network prefix.
func (v *AddressValidator) Validate(address string) bool {
	decoded, err := util.DecodeAddress(address, v.prefix)
	if err != nil {
		return false
	}
	return decoded != nil
}
