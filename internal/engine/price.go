package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/justbytes/evmsniper/internal/domain"
)

// Swap-monitoring event topics. The v2 pair emits Sync with fresh reserves on
// every swap; the v3 pool's Swap event carries the packed price directly.
var (
	syncTopic   = crypto.Keccak256Hash([]byte("Sync(uint112,uint112)"))
	v3SwapTopic = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
)

var q96 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 96), 0)

// PriceFromReserves derives the new token's price in base-token raw units
// from a constant-product pool's reserves. tokenSlot says which reserve slot
// holds the new token.
func PriceFromReserves(reserve0, reserve1 *big.Int, tokenSlot uint8) (decimal.Decimal, error) {
	if reserve0 == nil || reserve1 == nil || reserve0.Sign() == 0 || reserve1.Sign() == 0 {
		return decimal.Zero, errors.New("pool has empty reserves")
	}

	r0 := decimal.NewFromBigInt(reserve0, 0)
	r1 := decimal.NewFromBigInt(reserve1, 0)
	if tokenSlot == 0 {
		return r1.Div(r0), nil
	}
	return r0.Div(r1), nil
}

// PriceFromSqrtPriceX96 derives the new token's price in base-token raw
// units from a concentrated-liquidity pool's packed sqrt price. The packed
// value encodes sqrt(token1/token0) * 2^96.
func PriceFromSqrtPriceX96(sqrtPriceX96 *big.Int, tokenSlot uint8) (decimal.Decimal, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return decimal.Zero, errors.New("pool has no price")
	}

	sqrt := decimal.NewFromBigInt(sqrtPriceX96, 0).Div(q96)
	price01 := sqrt.Mul(sqrt) // token1 per token0
	if tokenSlot == 0 {
		return price01, nil
	}
	if price01.IsZero() {
		return decimal.Zero, errors.New("pool price underflow")
	}
	return decimal.NewFromInt(1).Div(price01), nil
}

// SwapTopic returns the event topic the engine must subscribe to for live
// price updates on the candidate's pool.
func SwapTopic(version domain.Version) common.Hash {
	if version == domain.VersionV3 {
		return v3SwapTopic
	}
	return syncTopic
}

// PriceFromSwapLog re-derives the current pool price from a swap-monitoring
// log. For v2 pools the log is a Sync event (two uint112 reserves); for v3
// pools it is a Swap event carrying sqrtPriceX96 in the third data word.
func PriceFromSwapLog(c domain.CandidatePair, lg types.Log) (decimal.Decimal, error) {
	if c.Version == domain.VersionV3 {
		if len(lg.Data) < 96 {
			return decimal.Zero, errors.New("short v3 swap log")
		}
		sqrtPrice := new(big.Int).SetBytes(lg.Data[64:96])
		return PriceFromSqrtPriceX96(sqrtPrice, c.TokenSlot)
	}

	if len(lg.Data) != 64 {
		return decimal.Zero, errors.New("short sync log")
	}
	reserve0 := new(big.Int).SetBytes(lg.Data[:32])
	reserve1 := new(big.Int).SetBytes(lg.Data[32:64])
	return PriceFromReserves(reserve0, reserve1, c.TokenSlot)
}
