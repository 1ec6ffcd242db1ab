package classifier

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usdcMainnet = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	wethMainnet = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	freshToken  = "0x1111111111111111111111111111111111111111"
)

func TestClassify(t *testing.T) {
	registry := NewRegistry([]string{usdcMainnet, wethMainnet})

	t.Run("token1 is the new token", func(t *testing.T) {
		newTok, base, ok := Classify(common.HexToAddress(usdcMainnet), common.HexToAddress(freshToken), registry)
		require.True(t, ok)
		assert.Equal(t, common.HexToAddress(freshToken), newTok)
		assert.Equal(t, common.HexToAddress(usdcMainnet), base)
	})

	t.Run("token0 is the new token", func(t *testing.T) {
		newTok, base, ok := Classify(common.HexToAddress(freshToken), common.HexToAddress(wethMainnet), registry)
		require.True(t, ok)
		assert.Equal(t, common.HexToAddress(freshToken), newTok)
		assert.Equal(t, common.HexToAddress(wethMainnet), base)
	})

	t.Run("both sides known", func(t *testing.T) {
		_, _, ok := Classify(common.HexToAddress(usdcMainnet), common.HexToAddress(wethMainnet), registry)
		assert.False(t, ok)
	})

	t.Run("neither side known", func(t *testing.T) {
		_, _, ok := Classify(common.HexToAddress(freshToken), common.HexToAddress("0x2222222222222222222222222222222222222222"), registry)
		assert.False(t, ok)
	})

	t.Run("checksum case does not matter", func(t *testing.T) {
		lower := NewRegistry([]string{"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"})
		newTok, base, ok := Classify(common.HexToAddress(usdcMainnet), common.HexToAddress(freshToken), lower)
		require.True(t, ok)
		assert.Equal(t, common.HexToAddress(freshToken), newTok)
		assert.Equal(t, common.HexToAddress(usdcMainnet), base)
	})
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry([]string{usdcMainnet, usdcMainnet})
	assert.Equal(t, 1, registry.Len())
	assert.True(t, registry.Contains(common.HexToAddress(usdcMainnet)))
	assert.False(t, registry.Contains(common.HexToAddress(freshToken)))
}
