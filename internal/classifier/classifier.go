// Package classifier decides which side of a freshly created pool is the
// newly launched token.
package classifier

import (
	"github.com/ethereum/go-ethereum/common"
)

// Registry holds the known base-token addresses for a single chain. Addresses
// are stored in their canonical byte form, so checksum or lowercase hex input
// makes no difference.
type Registry struct {
	known map[common.Address]struct{}
}

// NewRegistry builds a registry from hex address strings as they appear in
// configuration.
func NewRegistry(addrs []string) *Registry {
	known := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		known[common.HexToAddress(a)] = struct{}{}
	}
	return &Registry{known: known}
}

// Contains reports whether the address is a known base token.
func (r *Registry) Contains(addr common.Address) bool {
	_, ok := r.known[addr]
	return ok
}

// Len returns the number of registered base tokens.
func (r *Registry) Len() int {
	return len(r.known)
}

// Classify determines the new and base sides of a two-token pool. Exactly one
// of the inputs must be a known base token; when neither or both are known
// the pair is unusable and ok is false.
func Classify(token0, token1 common.Address, registry *Registry) (newToken, baseToken common.Address, ok bool) {
	known0 := registry.Contains(token0)
	known1 := registry.Contains(token1)

	switch {
	case known0 && !known1:
		return token1, token0, true
	case known1 && !known0:
		return token0, token1, true
	default:
		return common.Address{}, common.Address{}, false
	}
}
