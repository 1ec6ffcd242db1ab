package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justbytes/evmsniper/internal/domain"
)

func TestResolve(t *testing.T) {
	ethV2 := testEngine(newFakeExchange())
	baseV3 := New("base", 8453, domain.VersionV3, ethV2.cfg, newFakeExchange(), nil, nil)
	instances := map[string]*Engine{
		ethV2.Name():  ethV2,
		baseV3.Name(): baseV3,
	}

	t.Run("by name", func(t *testing.T) {
		c := engineCandidate()
		got := Resolve(instances, c)
		require.NotNil(t, got)
		assert.Same(t, ethV2, got)
	})

	t.Run("name is case insensitive on chain", func(t *testing.T) {
		c := engineCandidate()
		c.Chain = "Ethereum"
		assert.Same(t, ethV2, Resolve(instances, c))
	})

	t.Run("falls back to chain id scan", func(t *testing.T) {
		c := engineCandidate()
		c.Chain = "mainnet" // alias not used as a registry key
		assert.Same(t, ethV2, Resolve(instances, c))
	})

	t.Run("version must match", func(t *testing.T) {
		c := engineCandidate()
		c.Version = domain.VersionV3
		assert.Nil(t, Resolve(instances, c))
	})

	t.Run("unknown chain", func(t *testing.T) {
		c := engineCandidate()
		c.Chain = "solana"
		c.ChainID = 0
		assert.Nil(t, Resolve(instances, c))
	})
}
