// Package domain defines the core data structures shared by the listener,
// audit and trading layers.
package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Version identifies the DEX protocol flavour a pool belongs to.
type Version string

const (
	// VersionV2 is the discrete-reserve (constant product) protocol.
	VersionV2 Version = "v2"
	// VersionV3 is the concentrated-liquidity protocol with fee tiers.
	VersionV3 Version = "v3"
)

// Valid reports whether the version is one of the supported protocol flavours.
func (v Version) Valid() bool {
	return v == VersionV2 || v == VersionV3
}

// ParseVersion converts a configuration string into a Version.
func ParseVersion(s string) (Version, error) {
	v := Version(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown protocol version %q", s)
	}
	return v, nil
}

// CandidatePair is a newly created pool whose unknown side is a candidate for
// screening and trading. It is immutable once produced by a listener, except
// for the Report field which the audit pipeline attaches on a pass verdict.
type CandidatePair struct {
	// Chain is the human-readable chain name from configuration, e.g. "ethereum".
	Chain   string
	ChainID uint64
	Version Version
	// Token is the newly launched, unverified asset.
	Token common.Address
	// BaseToken is the known counter-asset the pool was created against.
	BaseToken common.Address
	// Pool is the pair (v2) or pool (v3) contract address.
	Pool common.Address
	// FeeTier is the pool fee in hundredths of a bip. Zero for v2.
	FeeTier uint32
	// TokenSlot is 0 when Token is the pool's token0, 1 when it is token1.
	TokenSlot uint8
	// Report carries the merged security-check payloads once the audit passed.
	Report *SecurityReport
}

// Key returns the identity used for queue deduplication. Two candidates from
// the same chain pointing at the same pool are the same candidate.
func (c CandidatePair) Key() string {
	return fmt.Sprintf("%d:%s", c.ChainID, c.Pool.Hex())
}

// String returns a short human-readable description for logs.
func (c CandidatePair) String() string {
	return fmt.Sprintf("%s/%s token=%s pool=%s", c.Chain, c.Version, c.Token.Hex(), c.Pool.Hex())
}
