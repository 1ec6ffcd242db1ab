package engine

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justbytes/evmsniper/internal/domain"
)

func TestPriceFromReserves(t *testing.T) {
	t.Run("token in slot 0", func(t *testing.T) {
		price, err := PriceFromReserves(big.NewInt(10), big.NewInt(250), 0)
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.NewFromInt(25)), price.String())
	})

	t.Run("token in slot 1", func(t *testing.T) {
		price, err := PriceFromReserves(big.NewInt(250), big.NewInt(10), 1)
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.NewFromInt(25)), price.String())
	})

	t.Run("empty reserves", func(t *testing.T) {
		_, err := PriceFromReserves(big.NewInt(0), big.NewInt(250), 0)
		assert.Error(t, err)

		_, err = PriceFromReserves(nil, big.NewInt(250), 0)
		assert.Error(t, err)
	})
}

func TestPriceFromSqrtPriceX96(t *testing.T) {
	t.Run("token in slot 0", func(t *testing.T) {
		// sqrtPriceX96 = 2 * 2^96 encodes price token1/token0 = 4
		sqrt := new(big.Int).Lsh(big.NewInt(2), 96)
		price, err := PriceFromSqrtPriceX96(sqrt, 0)
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.NewFromInt(4)), price.String())
	})

	t.Run("token in slot 1 inverts", func(t *testing.T) {
		sqrt := new(big.Int).Lsh(big.NewInt(2), 96)
		price, err := PriceFromSqrtPriceX96(sqrt, 1)
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.NewFromFloat(0.25)), price.String())
	})

	t.Run("zero price", func(t *testing.T) {
		_, err := PriceFromSqrtPriceX96(big.NewInt(0), 0)
		assert.Error(t, err)
	})
}

func TestSwapTopic(t *testing.T) {
	assert.Equal(t, syncTopic, SwapTopic(domain.VersionV2))
	assert.Equal(t, v3SwapTopic, SwapTopic(domain.VersionV3))
	assert.NotEqual(t, SwapTopic(domain.VersionV2), SwapTopic(domain.VersionV3))
}

func TestPriceFromSwapLog(t *testing.T) {
	t.Run("v2 sync", func(t *testing.T) {
		c := domain.CandidatePair{Version: domain.VersionV2, TokenSlot: 0}
		price, err := PriceFromSwapLog(c, syncLog(10, 250))
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.NewFromInt(25)), price.String())
	})

	t.Run("v3 swap", func(t *testing.T) {
		c := domain.CandidatePair{Version: domain.VersionV3, TokenSlot: 0}
		data := make([]byte, 0, 160)
		data = append(data, common.LeftPadBytes(big.NewInt(100).Bytes(), 32)...)  // amount0
		data = append(data, common.LeftPadBytes(big.NewInt(-400).Bytes(), 32)...) // amount1
		sqrt := new(big.Int).Lsh(big.NewInt(2), 96)
		data = append(data, common.LeftPadBytes(sqrt.Bytes(), 32)...) // sqrtPriceX96
		data = append(data, common.LeftPadBytes(big.NewInt(1).Bytes(), 32)...)
		data = append(data, common.LeftPadBytes(big.NewInt(1).Bytes(), 32)...)

		price, err := PriceFromSwapLog(c, types.Log{Data: data})
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.NewFromInt(4)), price.String())
	})

	t.Run("short data", func(t *testing.T) {
		_, err := PriceFromSwapLog(domain.CandidatePair{Version: domain.VersionV2}, types.Log{Data: []byte{1, 2}})
		assert.Error(t, err)

		_, err = PriceFromSwapLog(domain.CandidatePair{Version: domain.VersionV3}, types.Log{Data: []byte{1, 2}})
		assert.Error(t, err)
	})
}
