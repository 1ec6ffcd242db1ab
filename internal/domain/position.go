package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// SellReason records why a position was closed.
type SellReason string

const (
	SellReasonTargetHit SellReason = "TARGET_HIT"
	SellReasonStopLoss  SellReason = "STOP_LOSS"
	SellReasonManual    SellReason = "MANUAL"
)

// Position is an open trade tracked by a trading engine. At most one open
// position may exist per (engine, token). It is read-only after creation;
// closing a position removes it from the engine's map.
type Position struct {
	Token      common.Address
	Pool       common.Address
	EntryPrice decimal.Decimal
	// Quantity is the amount of Token acquired, in raw token units.
	Quantity decimal.Decimal
	EntryTx  common.Hash
	// TargetPrice and StopPrice are derived from the pre-trade price, not the
	// fill price.
	TargetPrice decimal.Decimal
	StopPrice   decimal.Decimal
	OpenedAt    time.Time
}

// NewPosition validates and constructs an open position.
func NewPosition(token, pool common.Address, entryPrice, quantity decimal.Decimal, entryTx common.Hash, target, stop decimal.Decimal) (*Position, error) {
	if entryPrice.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("entry price must be greater than zero")
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("position quantity must be greater than zero")
	}
	if target.LessThanOrEqual(entryPrice) {
		return nil, errors.New("target price must be above entry price")
	}
	if stop.GreaterThanOrEqual(entryPrice) {
		return nil, errors.New("stop price must be below entry price")
	}

	return &Position{
		Token:       token,
		Pool:        pool,
		EntryPrice:  entryPrice,
		Quantity:    quantity,
		EntryTx:     entryTx,
		TargetPrice: target,
		StopPrice:   stop,
		OpenedAt:    time.Now(),
	}, nil
}

// ExitReason classifies the given market price against the position's
// thresholds. The second return is false while neither threshold is crossed.
func (p *Position) ExitReason(price decimal.Decimal) (SellReason, bool) {
	if p == nil {
		return "", false
	}
	if price.GreaterThanOrEqual(p.TargetPrice) {
		return SellReasonTargetHit, true
	}
	if price.LessThanOrEqual(p.StopPrice) {
		return SellReasonStopLoss, true
	}
	return "", false
}
