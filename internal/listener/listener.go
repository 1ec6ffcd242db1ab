// Package listener subscribes to pair/pool creation events on a DEX factory
// and turns them into audit candidates.
package listener

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/justbytes/evmsniper/internal/classifier"
	"github.com/justbytes/evmsniper/internal/dispatch"
	"github.com/justbytes/evmsniper/internal/domain"
	"github.com/justbytes/evmsniper/internal/observability"
)

// Creation event topics per protocol version.
var (
	pairCreatedTopic = crypto.Keccak256Hash([]byte("PairCreated(address,address,address,uint256)"))
	poolCreatedTopic = crypto.Keccak256Hash([]byte("PoolCreated(address,address,uint24,int24,address)"))
)

// LogSubscriber is the slice of the chain client the listener needs.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Listener watches one factory contract on one chain for creation events.
// Subscription failures are retried with jittered backoff; they never
// propagate past Run, so one misconfigured chain cannot take down others.
type Listener struct {
	chain    string
	chainID  uint64
	version  domain.Version
	factory  common.Address
	client   LogSubscriber
	registry *classifier.Registry
	bus      *dispatch.Bus
	metrics  *observability.Metrics
	log      *zap.Logger
}

// New creates a listener for a (chain, version, factory) tuple.
func New(chain string, chainID uint64, version domain.Version, factory common.Address,
	client LogSubscriber, registry *classifier.Registry, bus *dispatch.Bus,
	metrics *observability.Metrics, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		chain:    chain,
		chainID:  chainID,
		version:  version,
		factory:  factory,
		client:   client,
		registry: registry,
		bus:      bus,
		metrics:  metrics,
		log: log.With(
			zap.String("chain", chain),
			zap.String("version", string(version)),
			zap.String("factory", factory.Hex())),
	}
}

func (l *Listener) topic() common.Hash {
	if l.version == domain.VersionV3 {
		return poolCreatedTopic
	}
	return pairCreatedTopic
}

// Run subscribes and processes creation events until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	retry := &backoff.Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}

	for {
		if err := l.subscribeAndConsume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := retry.Duration()
			l.log.Warn("subscription lost, reconnecting", zap.Error(err), zap.Duration("backoff", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()
	}
}

func (l *Listener) subscribeAndConsume(ctx context.Context) error {
	logs := make(chan types.Log, 64)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{l.factory},
		Topics:    [][]common.Hash{{l.topic()}},
	}

	sub, err := l.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	l.log.Info("listening for creation events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case lg := <-logs:
			l.handleLog(lg)
		}
	}
}

// handleLog decodes, classifies and forwards one creation event. Events are
// processed in receipt order.
func (l *Listener) handleLog(lg types.Log) {
	token0, token1, pool, feeTier, ok := l.decode(lg)
	if !ok {
		l.log.Warn("undecodable creation event",
			zap.String("tx", lg.TxHash.Hex()),
			zap.Int("topics", len(lg.Topics)))
		return
	}
	l.metrics.IncPairDetected(l.chain, string(l.version))

	newToken, baseToken, classified := classifier.Classify(token0, token1, l.registry)
	if !classified {
		// both sides known or both unknown; nothing to snipe here
		l.metrics.IncClassifierDrop(l.chain, string(l.version))
		l.log.Debug("creation event dropped by classifier",
			zap.String("token0", token0.Hex()),
			zap.String("token1", token1.Hex()))
		return
	}

	var slot uint8
	if newToken == token1 {
		slot = 1
	}

	candidate := domain.CandidatePair{
		Chain:     l.chain,
		ChainID:   l.chainID,
		Version:   l.version,
		Token:     newToken,
		BaseToken: baseToken,
		Pool:      pool,
		FeeTier:   feeTier,
		TokenSlot: slot,
	}

	l.log.Info("new candidate pair", zap.String("candidate", candidate.String()))
	l.bus.Publish(domain.Message{Action: domain.ActionAudit, Candidate: candidate})
}

// decode extracts token0, token1, the pool address and (v3) fee tier from a
// creation log.
func (l *Listener) decode(lg types.Log) (token0, token1, pool common.Address, feeTier uint32, ok bool) {
	if l.version == domain.VersionV3 {
		// PoolCreated(token0 idx, token1 idx, fee idx, tickSpacing, pool)
		if len(lg.Topics) != 4 || len(lg.Data) != 64 {
			return common.Address{}, common.Address{}, common.Address{}, 0, false
		}
		token0 = common.BytesToAddress(lg.Topics[1].Bytes())
		token1 = common.BytesToAddress(lg.Topics[2].Bytes())
		feeTier = uint32(new(big.Int).SetBytes(lg.Topics[3].Bytes()).Uint64())
		pool = common.BytesToAddress(lg.Data[44:64])
		return token0, token1, pool, feeTier, true
	}

	// PairCreated(token0 idx, token1 idx, pair, allPairsLength)
	if len(lg.Topics) != 3 || len(lg.Data) != 64 {
		return common.Address{}, common.Address{}, common.Address{}, 0, false
	}
	token0 = common.BytesToAddress(lg.Topics[1].Bytes())
	token1 = common.BytesToAddress(lg.Topics[2].Bytes())
	pool = common.BytesToAddress(lg.Data[12:32])
	return token0, token1, pool, 0, true
}
