package engine

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justbytes/evmsniper/internal/domain"
)

type fakeSwapSub struct {
	errs chan error
}

func (s *fakeSwapSub) Unsubscribe()      {}
func (s *fakeSwapSub) Err() <-chan error { return s.errs }

type fakeExchange struct {
	mu sync.Mutex

	price   decimal.Decimal
	balance *big.Int

	priceErr error
	buyErr   error
	sellErr  error

	buyCalls  int
	sellCalls int
	sellIn    *big.Int

	swapLogs chan<- types.Log
}

func (f *fakeExchange) CurrentPrice(ctx context.Context, c domain.CandidatePair) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return decimal.Zero, f.priceErr
	}
	return f.price, nil
}

func (f *fakeExchange) Buy(ctx context.Context, c domain.CandidatePair, amountIn, minOut *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buyCalls++
	if f.buyErr != nil {
		return common.Hash{}, f.buyErr
	}
	return common.HexToHash("0xb1"), nil
}

func (f *fakeExchange) Sell(ctx context.Context, c domain.CandidatePair, amountIn, minOut *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellCalls++
	f.sellIn = new(big.Int).Set(amountIn)
	if f.sellErr != nil {
		return common.Hash{}, f.sellErr
	}
	return common.HexToHash("0x5e11"), nil
}

func (f *fakeExchange) EnsureAllowance(ctx context.Context, token common.Address, amount *big.Int) error {
	return nil
}

func (f *fakeExchange) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeExchange) WaitConfirmed(ctx context.Context, tx common.Hash) error { return nil }

func (f *fakeExchange) SubscribeSwaps(ctx context.Context, c domain.CandidatePair, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	f.swapLogs = ch
	f.mu.Unlock()
	return &fakeSwapSub{errs: make(chan error)}, nil
}

func (f *fakeExchange) swapChannel() chan<- types.Log {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swapLogs
}

func (f *fakeExchange) setSellErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellErr = err
}

func (f *fakeExchange) sells() (int, *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sellCalls, f.sellIn
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		price:   decimal.NewFromInt(100),
		balance: big.NewInt(1_000_000),
	}
}

func testEngine(ex *fakeExchange) *Engine {
	cfg := Config{
		BuyAmountWei:       big.NewInt(1_000_000),
		TargetMultiplier:   decimal.NewFromInt(2),
		StopLossMultiplier: decimal.NewFromFloat(0.5),
		SlippagePercent:    decimal.NewFromInt(2),
		ConfirmTimeout:     time.Second,
	}
	return New("ethereum", 1, domain.VersionV2, cfg, ex, nil, nil)
}

func engineCandidate() domain.CandidatePair {
	return domain.CandidatePair{
		Chain:     "ethereum",
		ChainID:   1,
		Version:   domain.VersionV2,
		Token:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
		BaseToken: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		Pool:      common.HexToAddress("0x3333333333333333333333333333333333333333"),
	}
}

// syncLog builds a v2 Sync event that prices the token at reserve0/reserve1
// for TokenSlot 1 (the default candidate has the new token in slot 0, so the
// price is reserve1/reserve0).
func syncLog(reserve0, reserve1 int64) types.Log {
	data := make([]byte, 0, 64)
	data = append(data, common.LeftPadBytes(big.NewInt(reserve0).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(reserve1).Bytes(), 32)...)
	return types.Log{Topics: []common.Hash{syncTopic}, Data: data}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met before deadline")
}

func TestBuyOpensPosition(t *testing.T) {
	ex := newFakeExchange()
	e := testEngine(ex)
	defer e.StopListeners()

	position, err := e.Buy(context.Background(), engineCandidate())
	require.NoError(t, err)
	require.NotNil(t, position)

	assert.True(t, position.EntryPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, position.TargetPrice.Equal(decimal.NewFromInt(200)))
	assert.True(t, position.StopPrice.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 1, e.OpenPositions())

	// the price listener must come up
	waitUntil(t, func() bool { return ex.swapChannel() != nil })
}

func TestBuyFailureLeavesNoPosition(t *testing.T) {
	t.Run("swap rejected", func(t *testing.T) {
		ex := newFakeExchange()
		ex.buyErr = errors.New("insufficient output amount")
		e := testEngine(ex)

		_, err := e.Buy(context.Background(), engineCandidate())
		require.Error(t, err)
		assert.Equal(t, 0, e.OpenPositions())
		assert.Nil(t, ex.swapChannel())
	})

	t.Run("price unavailable", func(t *testing.T) {
		ex := newFakeExchange()
		ex.priceErr = errors.New("rpc timeout")
		e := testEngine(ex)

		_, err := e.Buy(context.Background(), engineCandidate())
		require.Error(t, err)
		assert.Equal(t, 0, e.OpenPositions())
	})
}

func TestBuyRejectsOpenPosition(t *testing.T) {
	ex := newFakeExchange()
	e := testEngine(ex)
	defer e.StopListeners()

	_, err := e.Buy(context.Background(), engineCandidate())
	require.NoError(t, err)

	_, err = e.Buy(context.Background(), engineCandidate())
	assert.ErrorIs(t, err, ErrPositionOpen)
}

func TestTargetHitSellsExactlyOnce(t *testing.T) {
	ex := newFakeExchange()
	e := testEngine(ex)
	defer e.StopListeners()

	_, err := e.Buy(context.Background(), engineCandidate())
	require.NoError(t, err)
	waitUntil(t, func() bool { return ex.swapChannel() != nil })

	// entry 100, target 200: reserves 1/250 price the token at 250
	ex.swapChannel() <- syncLog(1, 250)

	waitUntil(t, func() bool {
		calls, _ := ex.sells()
		return calls == 1
	})
	waitUntil(t, func() bool { return e.OpenPositions() == 0 })

	_, sold := ex.sells()
	assert.Equal(t, big.NewInt(1_000_000), sold, "the full balance is sold")

	// a late crossing must not trigger a second sell
	if ch := ex.swapChannel(); ch != nil {
		select {
		case ch <- syncLog(1, 300):
		default:
		}
	}
	time.Sleep(50 * time.Millisecond)
	calls, _ := ex.sells()
	assert.Equal(t, 1, calls)
}

func TestStopLossSells(t *testing.T) {
	ex := newFakeExchange()
	e := testEngine(ex)
	defer e.StopListeners()

	_, err := e.Buy(context.Background(), engineCandidate())
	require.NoError(t, err)
	waitUntil(t, func() bool { return ex.swapChannel() != nil })

	// entry 100, stop 50: reserves 1/40 price the token at 40
	ex.swapChannel() <- syncLog(1, 40)

	waitUntil(t, func() bool {
		calls, _ := ex.sells()
		return calls == 1
	})
	assert.Equal(t, 0, e.OpenPositions())
}

func TestPriceBetweenThresholdsHolds(t *testing.T) {
	ex := newFakeExchange()
	e := testEngine(ex)
	defer e.StopListeners()

	_, err := e.Buy(context.Background(), engineCandidate())
	require.NoError(t, err)
	waitUntil(t, func() bool { return ex.swapChannel() != nil })

	ex.swapChannel() <- syncLog(1, 150)
	time.Sleep(50 * time.Millisecond)

	calls, _ := ex.sells()
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, e.OpenPositions())
}

func TestFailedSellKeepsPosition(t *testing.T) {
	ex := newFakeExchange()
	ex.sellErr = errors.New("transfer amount exceeds balance")
	e := testEngine(ex)
	defer e.StopListeners()

	c := engineCandidate()
	_, err := e.Buy(context.Background(), c)
	require.NoError(t, err)
	waitUntil(t, func() bool { return ex.swapChannel() != nil })
	first := ex.swapChannel()

	// entry 100, target 200: the crossing triggers a sell that reverts
	first <- syncLog(1, 250)
	waitUntil(t, func() bool {
		calls, _ := ex.sells()
		return calls == 1
	})

	// the holding stays open and a replacement listener comes up
	waitUntil(t, func() bool { return ex.swapChannel() != first })
	assert.Equal(t, 1, e.OpenPositions())

	// a manual exit still sees the position while sells keep failing
	require.Error(t, e.SellManual(context.Background(), c.Token))
	assert.Equal(t, 1, e.OpenPositions())

	// once the swap goes through the position closes
	ex.setSellErr(nil)
	require.NoError(t, e.SellManual(context.Background(), c.Token))
	assert.Equal(t, 0, e.OpenPositions())

	calls, sold := ex.sells()
	assert.Equal(t, 3, calls)
	assert.Equal(t, big.NewInt(1_000_000), sold, "the full balance is sold")
}

func TestSellManual(t *testing.T) {
	ex := newFakeExchange()
	e := testEngine(ex)
	defer e.StopListeners()

	c := engineCandidate()
	_, err := e.Buy(context.Background(), c)
	require.NoError(t, err)

	require.NoError(t, e.SellManual(context.Background(), c.Token))
	calls, _ := ex.sells()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, e.OpenPositions())

	assert.Error(t, e.SellManual(context.Background(), c.Token), "second manual sell has nothing to close")
}
