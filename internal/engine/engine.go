// Package engine executes buys on audited candidates, tracks open positions
// and closes them when the pool price crosses the target or stop-loss.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/justbytes/evmsniper/internal/domain"
	"github.com/justbytes/evmsniper/internal/observability"
)

// ErrPositionOpen is returned when a buy is requested for a token that
// already has an open position on this engine.
var ErrPositionOpen = errors.New("position already open for token")

// Exchange is the slice of the chain adapter the engine needs. Swap math and
// transaction encoding live behind this boundary.
type Exchange interface {
	// CurrentPrice returns the new token's pool price in base-token raw units.
	CurrentPrice(ctx context.Context, c domain.CandidatePair) (decimal.Decimal, error)
	// Buy swaps amountIn of the quote asset for at least minOut of the token.
	Buy(ctx context.Context, c domain.CandidatePair, amountIn, minOut *big.Int) (common.Hash, error)
	// Sell swaps amountIn of the token back for at least minOut of the quote asset.
	Sell(ctx context.Context, c domain.CandidatePair, amountIn, minOut *big.Int) (common.Hash, error)
	// EnsureAllowance makes sure the router may spend at least amount of token.
	EnsureAllowance(ctx context.Context, token common.Address, amount *big.Int) error
	// TokenBalance returns the wallet's raw balance of token.
	TokenBalance(ctx context.Context, token common.Address) (*big.Int, error)
	// WaitConfirmed blocks until the transaction is mined or ctx expires.
	WaitConfirmed(ctx context.Context, tx common.Hash) error
	// SubscribeSwaps subscribes to the candidate pool's swap-monitoring events.
	SubscribeSwaps(ctx context.Context, c domain.CandidatePair, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Config holds per-engine trade parameters.
type Config struct {
	// BuyAmountWei is the fixed quote-asset amount spent per buy.
	BuyAmountWei *big.Int
	// TargetMultiplier scales the pre-trade price into the take-profit level.
	TargetMultiplier decimal.Decimal
	// StopLossMultiplier scales the pre-trade price into the stop level.
	StopLossMultiplier decimal.Decimal
	// SlippagePercent bounds the accepted quote-vs-execution price deviation.
	SlippagePercent decimal.Decimal
	// ConfirmTimeout bounds how long a confirmation wait may run.
	ConfirmTimeout time.Duration
}

// DefaultConfig returns the stock trade parameters: 2x target, 0.5x stop,
// 2% slippage.
func DefaultConfig() Config {
	return Config{
		BuyAmountWei:       big.NewInt(10_000_000_000_000_000), // 0.01 of the quote asset
		TargetMultiplier:   decimal.NewFromInt(2),
		StopLossMultiplier: decimal.NewFromFloat(0.5),
		SlippagePercent:    decimal.NewFromInt(2),
		ConfirmTimeout:     90 * time.Second,
	}
}

// Engine is one trading instance bound to a single (chain, version). It
// exclusively owns its positions and price listeners; nothing outside the
// engine mutates them.
type Engine struct {
	chain    string
	chainID  uint64
	version  domain.Version
	cfg      Config
	exchange Exchange
	metrics  *observability.Metrics
	log      *zap.Logger

	mu        sync.Mutex
	positions map[common.Address]*domain.Position
	listeners map[common.Address]context.CancelFunc
	opening   map[common.Address]struct{}
	closing   map[common.Address]struct{}
	wg        sync.WaitGroup
}

// New creates a trading engine instance.
func New(chain string, chainID uint64, version domain.Version, cfg Config, exchange Exchange,
	metrics *observability.Metrics, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		chain:    chain,
		chainID:  chainID,
		version:  version,
		cfg:      cfg,
		exchange: exchange,
		metrics:  metrics,
		log: log.With(
			zap.String("chain", chain),
			zap.String("version", string(version))),
		positions: make(map[common.Address]*domain.Position),
		listeners: make(map[common.Address]context.CancelFunc),
		opening:   make(map[common.Address]struct{}),
		closing:   make(map[common.Address]struct{}),
	}
}

// Name returns the registry key for this instance.
func (e *Engine) Name() string {
	return fmt.Sprintf("%s_%s", strings.ToLower(e.chain), e.version)
}

// ChainID returns the chain this engine trades on.
func (e *Engine) ChainID() uint64 { return e.chainID }

// Version returns the protocol version this engine trades.
func (e *Engine) Version() domain.Version { return e.version }

// Position returns the open position for token, if any.
func (e *Engine) Position(token common.Address) (*domain.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[token]
	return p, ok
}

// OpenPositions returns the number of open positions.
func (e *Engine) OpenPositions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.positions)
}

// Buy executes a fixed-size buy of the candidate token. Target and stop
// levels are derived from the pre-trade price, before the swap executes. On
// success a position is stored and a price listener started; on failure
// neither exists.
func (e *Engine) Buy(ctx context.Context, c domain.CandidatePair) (*domain.Position, error) {
	e.mu.Lock()
	if _, open := e.positions[c.Token]; open {
		e.mu.Unlock()
		return nil, ErrPositionOpen
	}
	if _, inflight := e.opening[c.Token]; inflight {
		e.mu.Unlock()
		return nil, ErrPositionOpen
	}
	e.opening[c.Token] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.opening, c.Token)
		e.mu.Unlock()
	}()

	log := e.log.With(zap.String("token", c.Token.Hex()), zap.String("pool", c.Pool.Hex()))

	price, err := e.exchange.CurrentPrice(ctx, c)
	if err != nil {
		e.metrics.IncBuy(e.chain, "error")
		return nil, errors.Wrap(err, "pre-trade price")
	}
	if price.LessThanOrEqual(decimal.Zero) {
		e.metrics.IncBuy(e.chain, "error")
		return nil, errors.New("pre-trade price is zero")
	}

	target := price.Mul(e.cfg.TargetMultiplier)
	stop := price.Mul(e.cfg.StopLossMultiplier)

	amountIn := decimal.NewFromBigInt(e.cfg.BuyAmountWei, 0)
	expectedOut := amountIn.Div(price)
	minOut := e.applySlippage(expectedOut)

	log.Info("executing buy",
		zap.String("price", price.String()),
		zap.String("target", target.String()),
		zap.String("stop", stop.String()),
		zap.String("amount_in", amountIn.String()),
		zap.String("min_out", minOut.String()))

	txHash, err := e.exchange.Buy(ctx, c, e.cfg.BuyAmountWei, minOut.BigInt())
	if err != nil {
		e.metrics.IncBuy(e.chain, "error")
		return nil, errors.Wrap(err, "buy swap")
	}

	// best-effort confirmation: the tx was broadcast, so the position is
	// recorded even when the wait times out
	confirmCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	err = e.exchange.WaitConfirmed(confirmCtx, txHash)
	cancel()
	if err != nil {
		log.Warn("buy confirmation not observed in time", zap.String("tx", txHash.Hex()), zap.Error(err))
	}

	quantity := expectedOut
	if balance, err := e.exchange.TokenBalance(ctx, c.Token); err == nil && balance.Sign() > 0 {
		quantity = decimal.NewFromBigInt(balance, 0)
	} else if err != nil {
		log.Warn("could not read post-buy balance, using expected output", zap.Error(err))
	}

	position, err := domain.NewPosition(c.Token, c.Pool, price, quantity, txHash, target, stop)
	if err != nil {
		e.metrics.IncBuy(e.chain, "error")
		return nil, errors.Wrap(err, "record position")
	}

	e.mu.Lock()
	e.positions[c.Token] = position
	e.mu.Unlock()

	e.startPriceListener(c, position)
	e.metrics.IncBuy(e.chain, "ok")
	log.Info("position opened", zap.String("tx", txHash.Hex()), zap.String("quantity", quantity.String()))

	return position, nil
}

// SellManual closes the position for token at the current price, if one is
// open.
func (e *Engine) SellManual(ctx context.Context, token common.Address) error {
	e.mu.Lock()
	position, ok := e.positions[token]
	e.mu.Unlock()
	if !ok {
		return errors.Errorf("no open position for %s", token.Hex())
	}

	c := domain.CandidatePair{
		Chain: e.chain, ChainID: e.chainID, Version: e.version,
		Token: token, Pool: position.Pool,
	}
	price, err := e.exchange.CurrentPrice(ctx, c)
	if err != nil {
		price = position.EntryPrice
	}
	return e.closePosition(c, domain.SellReasonManual, price)
}

// StopListeners tears down all price listeners without selling. Used on
// shutdown so no new exits are scheduled.
func (e *Engine) StopListeners() {
	e.mu.Lock()
	for token, cancel := range e.listeners {
		cancel()
		delete(e.listeners, token)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) applySlippage(amount decimal.Decimal) decimal.Decimal {
	keep := decimal.NewFromInt(1).Sub(e.cfg.SlippagePercent.Div(decimal.NewFromInt(100)))
	return amount.Mul(keep)
}

// startPriceListener subscribes to the pool's swap events and watches for a
// threshold crossing.
func (e *Engine) startPriceListener(c domain.CandidatePair, position *domain.Position) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.listeners[c.Token] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watch(ctx, c, position)
	}()
}

// watch consumes swap events until an exit threshold is crossed or the
// listener is cancelled. The sell triggers at most once per crossing: watch
// returns right after scheduling it, and closePosition marks the token
// in-flight before selling. When the sell fails, closePosition brings up a
// replacement listener for the still-open position.
func (e *Engine) watch(ctx context.Context, c domain.CandidatePair, position *domain.Position) {
	log := e.log.With(zap.String("token", c.Token.Hex()), zap.String("pool", c.Pool.Hex()))
	retry := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}

	for {
		logs := make(chan types.Log, 64)
		sub, err := e.exchange.SubscribeSwaps(ctx, c, logs)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := retry.Duration()
			log.Warn("price subscription failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()
		log.Info("price listener started",
			zap.String("target", position.TargetPrice.String()),
			zap.String("stop", position.StopPrice.String()))

		if done := e.consumeSwaps(ctx, sub, logs, c, position, log); done {
			return
		}
	}
}

// consumeSwaps returns true when the watch loop should exit (cancelled or a
// sell was triggered), false to resubscribe.
func (e *Engine) consumeSwaps(ctx context.Context, sub ethereum.Subscription, logs chan types.Log,
	c domain.CandidatePair, position *domain.Position, log *zap.Logger) bool {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return true
		case err := <-sub.Err():
			log.Warn("price subscription lost", zap.Error(err))
			return false
		case lg := <-logs:
			price, err := PriceFromSwapLog(c, lg)
			if err != nil {
				log.Debug("undecodable swap event", zap.Error(err))
				continue
			}
			reason, hit := position.ExitReason(price)
			if !hit {
				continue
			}
			log.Info("exit threshold crossed",
				zap.String("price", price.String()),
				zap.String("reason", string(reason)))
			if err := e.closePosition(c, reason, price); err != nil {
				log.Error("sell failed", zap.Error(err))
			}
			return true
		}
	}
}

// closePosition sells the full token balance and removes the position. The
// closing set is the exactly-once gate: only the caller that marks the token
// in-flight performs the sell. The position stays on the books until the sell
// goes through, so a failed sell leaves the holding open, restarts its price
// listener and remains sellable manually.
func (e *Engine) closePosition(c domain.CandidatePair, reason domain.SellReason, price decimal.Decimal) error {
	e.mu.Lock()
	position, ok := e.positions[c.Token]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	if _, inflight := e.closing[c.Token]; inflight {
		e.mu.Unlock()
		return nil
	}
	e.closing[c.Token] = struct{}{}
	cancel, hasListener := e.listeners[c.Token]
	delete(e.listeners, c.Token)
	e.mu.Unlock()

	if hasListener {
		cancel()
	}

	sellErr := e.executeSell(c, reason, price)

	e.mu.Lock()
	delete(e.closing, c.Token)
	if sellErr == nil {
		delete(e.positions, c.Token)
	}
	e.mu.Unlock()

	if sellErr != nil {
		e.startPriceListener(c, position)
		return sellErr
	}
	return nil
}

// executeSell performs the balance read, allowance check and swap under a
// fresh deadline, detached from any listener context.
func (e *Engine) executeSell(c domain.CandidatePair, reason domain.SellReason, price decimal.Decimal) error {
	ctx, cancelSell := context.WithTimeout(context.Background(), e.cfg.ConfirmTimeout)
	defer cancelSell()

	log := e.log.With(
		zap.String("token", c.Token.Hex()),
		zap.String("reason", string(reason)))

	// always sell the full held balance
	balance, err := e.exchange.TokenBalance(ctx, c.Token)
	if err != nil {
		return errors.Wrap(err, "read balance for sell")
	}
	if balance.Sign() == 0 {
		log.Warn("nothing to sell, balance is zero")
		return nil
	}

	if err := e.exchange.EnsureAllowance(ctx, c.Token, balance); err != nil {
		return errors.Wrap(err, "router allowance")
	}

	expectedOut := decimal.NewFromBigInt(balance, 0).Mul(price)
	minOut := e.applySlippage(expectedOut)

	txHash, err := e.exchange.Sell(ctx, c, balance, minOut.BigInt())
	if err != nil {
		return errors.Wrap(err, "sell swap")
	}

	if err := e.exchange.WaitConfirmed(ctx, txHash); err != nil {
		log.Warn("sell confirmation not observed in time", zap.String("tx", txHash.Hex()), zap.Error(err))
	}

	e.metrics.IncSell(e.chain, string(reason))
	log.Info("position closed", zap.String("tx", txHash.Hex()), zap.String("price", price.String()))
	return nil
}
