package domain

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPositionValidation(t *testing.T) {
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	pool := common.HexToAddress("0x3333333333333333333333333333333333333333")
	tx := common.HexToHash("0xb1")

	cases := []struct {
		name    string
		entry   string
		qty     string
		target  string
		stop    string
		wantErr bool
	}{
		{"valid", "100", "5", "200", "50", false},
		{"zero entry", "0", "5", "200", "50", true},
		{"zero quantity", "100", "0", "200", "50", true},
		{"target below entry", "100", "5", "90", "50", true},
		{"stop above entry", "100", "5", "200", "110", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPosition(token, pool,
				decimal.RequireFromString(tc.entry),
				decimal.RequireFromString(tc.qty),
				tx,
				decimal.RequireFromString(tc.target),
				decimal.RequireFromString(tc.stop))
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExitReason(t *testing.T) {
	p := &Position{
		TargetPrice: decimal.NewFromInt(200),
		StopPrice:   decimal.NewFromInt(50),
	}

	reason, hit := p.ExitReason(decimal.NewFromInt(250))
	assert.True(t, hit)
	assert.Equal(t, SellReasonTargetHit, reason)

	reason, hit = p.ExitReason(decimal.NewFromInt(200))
	assert.True(t, hit, "reaching the target exactly triggers the exit")
	assert.Equal(t, SellReasonTargetHit, reason)

	reason, hit = p.ExitReason(decimal.NewFromInt(40))
	assert.True(t, hit)
	assert.Equal(t, SellReasonStopLoss, reason)

	_, hit = p.ExitReason(decimal.NewFromInt(100))
	assert.False(t, hit)
}

func TestMessageEnvelope(t *testing.T) {
	msg := Message{
		Action: ActionTrade,
		Candidate: CandidatePair{
			Chain:   "ethereum",
			ChainID: 1,
			Version: VersionV2,
			Token:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Pool:    common.HexToAddress("0x3333333333333333333333333333333333333333"),
		},
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &envelope))
	assert.Contains(t, envelope, "action")
	assert.Contains(t, envelope, "data")

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, msg.Action, decoded.Action)
	assert.Equal(t, msg.Candidate.Pool, decoded.Candidate.Pool)

	var bad Message
	assert.Error(t, json.Unmarshal([]byte(`{"action":"sell","data":{}}`), &bad))
}

func TestCandidateKey(t *testing.T) {
	a := CandidatePair{ChainID: 1, Pool: common.HexToAddress("0x3333333333333333333333333333333333333333")}
	b := CandidatePair{ChainID: 1, Pool: common.HexToAddress("0x3333333333333333333333333333333333333333"), Version: VersionV3}
	c := CandidatePair{ChainID: 8453, Pool: a.Pool}

	assert.Equal(t, a.Key(), b.Key(), "identity is chain id and pool only")
	assert.NotEqual(t, a.Key(), c.Key())
}
