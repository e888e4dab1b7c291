// Package gateway is the HTTP client for the chain gateway, the service that
// holds the platform wallet, signs transactions and reads on-chain state.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/moonerfun/flywheel/internal/config"
	"github.com/moonerfun/flywheel/internal/logger"
	"github.com/moonerfun/flywheel/internal/resilience"
)

const (
	defaultTimeout   = 60 * time.Second
	maxErrorBodySize = 4096
	apiKeyHeader     = "X-API-Key"
	solMint          = "So11111111111111111111111111111111111111112"
)

// StatusError is returned for a non-2xx gateway response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway returned %d", e.StatusCode)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Client calls the chain gateway. Reads are retried; transaction
// submissions are attempted once because the gateway may have broadcast
// them before failing.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
	retry      resilience.RetryConfig
	limiter    *rate.Limiter
	logger     logger.Logger
}

// NewClient creates a gateway client from configuration.
func NewClient(cfg config.GatewayConfig, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	log = log.With(logger.Component("gateway"))

	retryCfg := resilience.DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.RetryAttempts
	}
	retryCfg.IsRetryable = isRetryable

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitRPS)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			FailureThreshold: cfg.BreakerThreshold,
			Timeout:          cfg.BreakerTimeout,
			OnStateChange: func(from, to resilience.State) {
				log.Warn("gateway circuit breaker state changed",
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			},
		}),
		retry:   retryCfg,
		limiter: limiter,
		logger:  log,
	}
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return resilience.IsTransient(err)
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// SOLBalance returns the wallet's SOL balance.
func (c *Client) SOLBalance(ctx context.Context) (float64, error) {
	var resp balanceResponse
	if err := c.read(ctx, "/v1/wallet/balance", &resp); err != nil {
		return 0, fmt.Errorf("sol balance: %w", err)
	}
	return resp.Amount, nil
}

// TokenBalance returns the wallet's balance of mint.
func (c *Client) TokenBalance(ctx context.Context, mint string) (float64, error) {
	var resp balanceResponse
	if err := c.read(ctx, "/v1/wallet/tokens/"+url.PathEscape(mint), &resp); err != nil {
		return 0, fmt.Errorf("token balance %s: %w", mint, err)
	}
	return resp.Amount, nil
}

// ClaimableFees returns the SOL currently claimable from a pool.
func (c *Client) ClaimableFees(ctx context.Context, poolAddress string) (float64, error) {
	var resp claimableResponse
	if err := c.read(ctx, "/v1/pools/"+url.PathEscape(poolAddress)+"/fees", &resp); err != nil {
		return 0, fmt.Errorf("claimable fees %s: %w", poolAddress, err)
	}
	return resp.ClaimableSOL, nil
}

// ClaimFees claims all claimable fees from a pool.
func (c *Client) ClaimFees(ctx context.Context, poolAddress string) (*ClaimReceipt, error) {
	var receipt ClaimReceipt
	if err := c.submit(ctx, "/v1/pools/"+url.PathEscape(poolAddress)+"/claim", struct{}{}, &receipt); err != nil {
		return nil, fmt.Errorf("claim fees %s: %w", poolAddress, err)
	}
	return &receipt, nil
}

// Swap buys req.OutputMint with SOL.
func (c *Client) Swap(ctx context.Context, req SwapRequest) (*SwapReceipt, error) {
	var receipt SwapReceipt
	body := struct {
		SwapRequest
		InputMint string `json:"inputMint"`
	}{SwapRequest: req, InputMint: solMint}

	if err := c.submit(ctx, "/v1/swap", body, &receipt); err != nil {
		return nil, fmt.Errorf("swap on %s: %w", req.PoolAddress, err)
	}
	return &receipt, nil
}

// Burn destroys amount tokens of mint held by the wallet.
func (c *Client) Burn(ctx context.Context, mint string, amount float64) (*BurnReceipt, error) {
	var receipt BurnReceipt
	path := "/v1/tokens/" + url.PathEscape(mint) + "/burn"
	if err := c.submit(ctx, path, burnRequest{Amount: amount}, &receipt); err != nil {
		return nil, fmt.Errorf("burn %s: %w", mint, err)
	}
	return &receipt, nil
}

// PlatformPools lists every pool the launch platform knows about.
func (c *Client) PlatformPools(ctx context.Context) ([]PlatformPool, error) {
	var resp poolsResponse
	if err := c.read(ctx, "/v1/platform/pools", &resp); err != nil {
		return nil, fmt.Errorf("platform pools: %w", err)
	}
	return resp.Pools, nil
}

// MarketCaps returns market caps in SOL keyed by mint. Mints without a price are omitted.
func (c *Client) MarketCaps(ctx context.Context, mints []string) (map[string]float64, error) {
	if len(mints) == 0 {
		return map[string]float64{}, nil
	}

	var resp marketCapsResponse
	err := resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.do(ctx, http.MethodPost, "/v1/market/caps", marketCapsRequest{Mints: mints}, &resp)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("market caps: %w", err)
	}
	if resp.MarketCaps == nil {
		resp.MarketCaps = map[string]float64{}
	}
	return resp.MarketCaps, nil
}

// read issues a retried GET.
func (c *Client) read(ctx context.Context, path string, out any) error {
	return resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.do(ctx, http.MethodGet, path, nil, out)
		})
	})
}

// submit issues a single POST.
func (c *Client) submit(ctx context.Context, path string, body, out any) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, path, body, out)
	})
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return resilience.Permanent(fmt.Errorf("rate limit wait: %w", err))
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := readStatusError(resp)
		c.logger.Debug("gateway request failed",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("status", resp.StatusCode),
		)
		if statusErr.Retryable() {
			return statusErr
		}
		return resilience.Permanent(statusErr)
	}

	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resilience.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func readStatusError(resp *http.Response) *StatusError {
	statusErr := &StatusError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil || len(raw) == 0 {
		return statusErr
	}

	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		statusErr.Message = parsed.Error
	} else {
		statusErr.Message = strings.TrimSpace(string(raw))
	}
	return statusErr
}
