package dispatch

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justbytes/evmsniper/internal/domain"
)

func testMessage(action domain.Action) domain.Message {
	return domain.Message{
		Action: action,
		Candidate: domain.CandidatePair{
			Chain:   "ethereum",
			ChainID: 1,
			Version: domain.VersionV2,
			Token:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Pool:    common.HexToAddress("0x3333333333333333333333333333333333333333"),
		},
	}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus(4)
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(testMessage(domain.ActionAudit))

	for _, ch := range []chan domain.Message{a, b} {
		select {
		case msg := <-ch:
			assert.Equal(t, domain.ActionAudit, msg.Action)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the message")
		}
	}
}

func TestBusDropsSlowConsumer(t *testing.T) {
	bus := NewBus(1)
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	// the slow consumer's buffer holds one message; the second is dropped
	bus.Publish(testMessage(domain.ActionAudit))
	bus.Publish(testMessage(domain.ActionTrade))

	require.Len(t, slow, 1)
	assert.Equal(t, domain.ActionAudit, (<-slow).Action)

	// draining the fast consumer still sees only its buffered message
	assert.Equal(t, domain.ActionAudit, (<-fast).Action)
	assert.Empty(t, fast)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(4)
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open, "unsubscribed channel must be closed")

	// publishing after unsubscribe must not panic
	bus.Publish(testMessage(domain.ActionAudit))

	// double unsubscribe is a no-op
	bus.Unsubscribe(ch)
}
