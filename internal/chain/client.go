// Package chain adapts a JSON-RPC node into the exchange surface the trading
// engine consumes: pool price reads, router swaps and swap-event
// subscriptions.
package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/justbytes/evmsniper/internal/domain"
	"github.com/justbytes/evmsniper/internal/engine"
)

const (
	swapDeadline  = 2 * time.Minute
	receiptPoll   = 2 * time.Second
	defaultGasCap = 600_000
	approveGasCap = 80_000
)

// maxUint256 is the unlimited-approval amount.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Backend is the slice of the RPC client the adapter needs. *ethclient.Client
// satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Client executes trades on one chain through its v2 and v3 routers.
type Client struct {
	backend  Backend
	chainID  *big.Int
	routerV2 common.Address
	routerV3 common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	signer   types.Signer
	log      *zap.Logger

	// sendMu serializes nonce acquisition and broadcast
	sendMu sync.Mutex
}

// NewClient builds a chain adapter signing with the given hex private key.
func NewClient(backend Backend, chainID uint64, routerV2, routerV3 common.Address,
	privateKeyHex string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}

	id := new(big.Int).SetUint64(chainID)
	return &Client{
		backend:  backend,
		chainID:  id,
		routerV2: routerV2,
		routerV3: routerV3,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		signer:   types.LatestSignerForChainID(id),
		log:      log.With(zap.Uint64("chain_id", chainID)),
	}, nil
}

// Wallet returns the trading wallet address.
func (c *Client) Wallet() common.Address { return c.from }

// CurrentPrice reads the candidate pool's spot price in base-token raw units.
func (c *Client) CurrentPrice(ctx context.Context, cand domain.CandidatePair) (decimal.Decimal, error) {
	if cand.Version == domain.VersionV3 {
		out, err := c.call(ctx, cand.Pool, poolV3ABI, "slot0")
		if err != nil {
			return decimal.Zero, errors.Wrap(err, "slot0")
		}
		sqrtPrice, ok := out[0].(*big.Int)
		if !ok {
			return decimal.Zero, errors.New("unexpected slot0 result")
		}
		return engine.PriceFromSqrtPriceX96(sqrtPrice, cand.TokenSlot)
	}

	out, err := c.call(ctx, cand.Pool, pairABI, "getReserves")
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "getReserves")
	}
	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return decimal.Zero, errors.New("unexpected getReserves result")
	}
	return engine.PriceFromReserves(reserve0, reserve1, cand.TokenSlot)
}

// Buy swaps amountIn of the base token for the candidate token.
func (c *Client) Buy(ctx context.Context, cand domain.CandidatePair, amountIn, minOut *big.Int) (common.Hash, error) {
	if err := c.EnsureAllowance(ctx, cand.BaseToken, amountIn); err != nil {
		return common.Hash{}, err
	}
	return c.swap(ctx, cand, cand.BaseToken, cand.Token, amountIn, minOut)
}

// Sell swaps amountIn of the candidate token back to the base token.
func (c *Client) Sell(ctx context.Context, cand domain.CandidatePair, amountIn, minOut *big.Int) (common.Hash, error) {
	return c.swap(ctx, cand, cand.Token, cand.BaseToken, amountIn, minOut)
}

func (c *Client) swap(ctx context.Context, cand domain.CandidatePair, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int) (common.Hash, error) {
	deadline := big.NewInt(time.Now().Add(swapDeadline).Unix())

	var (
		router common.Address
		data   []byte
		err    error
	)
	if cand.Version == domain.VersionV3 {
		router = c.routerV3
		data, err = routerV3ABI.Pack("exactInputSingle", exactInputSingleParams{
			TokenIn:           tokenIn,
			TokenOut:          tokenOut,
			Fee:               new(big.Int).SetUint64(uint64(cand.FeeTier)),
			Recipient:         c.from,
			Deadline:          deadline,
			AmountIn:          amountIn,
			AmountOutMinimum:  minOut,
			SqrtPriceLimitX96: big.NewInt(0),
		})
	} else {
		router = c.routerV2
		data, err = routerV2ABI.Pack("swapExactTokensForTokens",
			amountIn, minOut, []common.Address{tokenIn, tokenOut}, c.from, deadline)
	}
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pack swap calldata")
	}

	return c.send(ctx, router, data, defaultGasCap)
}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// EnsureAllowance grants the responsible router an unlimited allowance for
// token when the current allowance does not cover amount.
func (c *Client) EnsureAllowance(ctx context.Context, token common.Address, amount *big.Int) error {
	for _, router := range []common.Address{c.routerV2, c.routerV3} {
		if router == (common.Address{}) {
			continue
		}
		out, err := c.call(ctx, token, erc20ABI, "allowance", c.from, router)
		if err != nil {
			return errors.Wrap(err, "read allowance")
		}
		allowance, ok := out[0].(*big.Int)
		if !ok {
			return errors.New("unexpected allowance result")
		}
		if allowance.Cmp(amount) >= 0 {
			continue
		}

		data, err := erc20ABI.Pack("approve", router, maxUint256)
		if err != nil {
			return errors.Wrap(err, "pack approve calldata")
		}
		txHash, err := c.send(ctx, token, data, approveGasCap)
		if err != nil {
			return errors.Wrap(err, "send approve")
		}
		if err := c.WaitConfirmed(ctx, txHash); err != nil {
			return errors.Wrap(err, "confirm approve")
		}
		c.log.Info("allowance granted",
			zap.String("token", token.Hex()),
			zap.String("spender", router.Hex()))
	}
	return nil
}

// TokenBalance returns the wallet's raw balance of token.
func (c *Client) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, erc20ABI, "balanceOf", c.from)
	if err != nil {
		return nil, errors.Wrap(err, "balanceOf")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected balanceOf result")
	}
	return balance, nil
}

// WaitConfirmed polls for the transaction receipt until ctx expires. A mined
// transaction with a failed status is an error.
func (c *Client) WaitConfirmed(ctx context.Context, txHash common.Hash) error {
	ticker := time.NewTicker(receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return errors.Errorf("transaction %s reverted", txHash.Hex())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for %s", txHash.Hex())
		case <-ticker.C:
		}
	}
}

// SubscribeSwaps subscribes to the candidate pool's price-bearing events.
func (c *Client) SubscribeSwaps(ctx context.Context, cand domain.CandidatePair, ch chan<- types.Log) (ethereum.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{cand.Pool},
		Topics:    [][]common.Hash{{engine.SwapTopic(cand.Version)}},
	}
	return c.backend.SubscribeFilterLogs(ctx, query, ch)
}

func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("%s returned no values", method)
	}
	return out, nil
}

// send signs and broadcasts a legacy transaction to the given contract.
func (c *Client) send(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pending nonce")
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "suggest gas price")
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign transaction")
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "broadcast transaction")
	}
	return signed.Hash(), nil
}
