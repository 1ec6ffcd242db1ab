package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justbytes/evmsniper/internal/ratelimit"
)

const testToken = "0x1111111111111111111111111111111111111111"

func newTestLimiter() *ratelimit.Limiter {
	return ratelimit.New(100, time.Minute, nil)
}

func TestClientTokenSecurity(t *testing.T) {
	t.Run("decodes per-address result", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.URL.Path, "/api/v1/token_security/1")
			assert.Equal(t, strings.ToLower(testToken), r.URL.Query().Get("contract_addresses"))
			fmt.Fprintf(w, `{"code":1,"message":"OK","result":{%q:{"is_honeypot":"1","buy_tax":"5"}}}`, strings.ToLower(testToken))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "", newTestLimiter(), nil, nil)
		sec, err := c.TokenSecurity(context.Background(), 1, common.HexToAddress(testToken))
		require.NoError(t, err)
		assert.Equal(t, "1", sec.IsHoneypot)
		assert.Equal(t, "5", sec.BuyTax)
	})

	t.Run("pending sync code maps to ErrPendingSync", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"code":2,"message":"data pending sync","result":null}`)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "", newTestLimiter(), nil, nil)
		_, err := c.TokenSecurity(context.Background(), 1, common.HexToAddress(testToken))
		assert.ErrorIs(t, err, ErrPendingSync)
	})

	t.Run("missing address in result maps to ErrPendingSync", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"code":1,"message":"OK","result":{}}`)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "", newTestLimiter(), nil, nil)
		_, err := c.TokenSecurity(context.Background(), 1, common.HexToAddress(testToken))
		assert.ErrorIs(t, err, ErrPendingSync)
	})

	t.Run("HTTP 429 throttles the shared limiter", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		limiter := newTestLimiter()
		c := NewClient(srv.URL, "", limiter, nil, nil)
		_, err := c.TokenSecurity(context.Background(), 1, common.HexToAddress(testToken))
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.False(t, limiter.CanCall())
		assert.Greater(t, limiter.WaitTime(), time.Duration(0))
	})

	t.Run("rate limit code throttles the shared limiter", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"code":4029,"message":"too many requests","result":null}`)
		}))
		defer srv.Close()

		limiter := newTestLimiter()
		c := NewClient(srv.URL, "", limiter, nil, nil)
		_, err := c.TokenSecurity(context.Background(), 1, common.HexToAddress(testToken))
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.False(t, limiter.CanCall())
	})

	t.Run("unknown code is a hard error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"code":2004,"message":"chain not supported","result":null}`)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "", newTestLimiter(), nil, nil)
		_, err := c.TokenSecurity(context.Background(), 1, common.HexToAddress(testToken))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrPendingSync)
		assert.NotErrorIs(t, err, ErrRateLimited)
	})
}

func TestClientRugpull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/api/v1/rugpull_detecting/56")
		resp := map[string]any{
			"code":    1,
			"message": "OK",
			"result": map[string]any{
				"privilege_withdraw": "0",
				"is_open_source":     "1",
				"owner": map[string]any{
					"owner_type":    "blackhole",
					"owner_address": "0x0000000000000000000000000000000000000000",
				},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", newTestLimiter(), nil, nil)
	rug, err := c.Rugpull(context.Background(), 56, common.HexToAddress(testToken))
	require.NoError(t, err)
	assert.Equal(t, "0", rug.PrivilegeWithdraw)
	assert.Equal(t, "blackhole", rug.Owner.OwnerType)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimited))
	assert.True(t, IsRetryable(ErrPendingSync))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
}
