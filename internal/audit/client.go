// Package audit gates externally sourced tokens through security checks
// before any capital is committed.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/justbytes/evmsniper/internal/domain"
	"github.com/justbytes/evmsniper/internal/observability"
	"github.com/justbytes/evmsniper/internal/ratelimit"
)

// Security API response codes.
const (
	codeOK          = 1
	codePendingSync = 2
	codeRateLimited = 4029
)

const (
	defaultRetryAfter = 60 * time.Second
	requestTimeout    = 15 * time.Second
)

// Sentinel errors classifying API outcomes for retry decisions.
var (
	// ErrRateLimited means the API asked us to back off; the shared limiter
	// has already been throttled when this is returned.
	ErrRateLimited = errors.New("security api: rate limited")
	// ErrPendingSync means the token is too fresh and the API has no data
	// yet; retryable with backoff.
	ErrPendingSync = errors.New("security api: data pending sync")
)

// IsRetryable reports whether the error is worth retrying against the API.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// rate limited, pending sync, and transport errors are all transient
	return true
}

// Client talks to a GoPlus-compatible security API. Every request is routed
// through the shared rate limiter, which is the authoritative call budget.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *ratelimit.Limiter
	metrics *observability.Metrics
	log     *zap.Logger
}

// NewClient creates a security API client.
func NewClient(baseURL, apiKey string, limiter *ratelimit.Limiter, metrics *observability.Metrics, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: limiter,
		metrics: metrics,
		log:     log,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// TokenSecurity fetches the token-level security result for a token.
func (c *Client) TokenSecurity(ctx context.Context, chainID uint64, token common.Address) (domain.TokenSecurity, error) {
	endpoint := fmt.Sprintf("%s/api/v1/token_security/%d?%s", c.baseURL, chainID,
		url.Values{"contract_addresses": {strings.ToLower(token.Hex())}}.Encode())

	raw, err := c.get(ctx, endpoint)
	if err != nil {
		return domain.TokenSecurity{}, err
	}

	// result is keyed by lowercase contract address
	var perAddress map[string]domain.TokenSecurity
	if err := json.Unmarshal(raw, &perAddress); err != nil {
		return domain.TokenSecurity{}, errors.Wrap(err, "decode token security result")
	}
	sec, ok := perAddress[strings.ToLower(token.Hex())]
	if !ok {
		return domain.TokenSecurity{}, ErrPendingSync
	}
	return sec, nil
}

// Rugpull fetches the contract-level rugpull detection result for a token.
func (c *Client) Rugpull(ctx context.Context, chainID uint64, token common.Address) (domain.Rugpull, error) {
	endpoint := fmt.Sprintf("%s/api/v1/rugpull_detecting/%d?%s", c.baseURL, chainID,
		url.Values{"contract_addresses": {strings.ToLower(token.Hex())}}.Encode())

	raw, err := c.get(ctx, endpoint)
	if err != nil {
		return domain.Rugpull{}, err
	}

	var result domain.Rugpull
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.Rugpull{}, errors.Wrap(err, "decode rugpull result")
	}
	return result, nil
}

// get performs one rate-limited GET and maps the response envelope onto the
// sentinel error taxonomy.
func (c *Client) get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	var raw json.RawMessage

	err := c.limiter.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return errors.Wrap(err, "build security api request")
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return errors.Wrap(err, "security api request")
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			c.throttle(retryAfterHeader(resp))
			return ErrRateLimited
		}
		if resp.StatusCode != http.StatusOK {
			return errors.Errorf("security api: unexpected status %d", resp.StatusCode)
		}

		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return errors.Wrap(err, "decode security api envelope")
		}

		switch env.Code {
		case codeOK:
			raw = env.Result
			return nil
		case codePendingSync:
			return ErrPendingSync
		case codeRateLimited:
			c.throttle(defaultRetryAfter)
			return ErrRateLimited
		default:
			return errors.Errorf("security api: code %d: %s", env.Code, env.Message)
		}
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) throttle(retryAfter time.Duration) {
	c.limiter.HandleRateLimit(retryAfter)
	c.metrics.IncThrottle()
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}
