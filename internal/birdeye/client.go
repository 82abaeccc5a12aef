// internal/birdeye/client.go
package birdeye

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	baseURL = "https://public-api.birdeye.so"

	// SOLMint is the wrapped SOL mint used as the native pricing leg.
	SOLMint = "So11111111111111111111111111111111111111112"

	// solFallbackUSD keeps cost-basis reconstruction degraded-functional
	// when the OHLCV endpoint errors for SOL itself.
	solFallbackUSD = 160.0
)

// Quote is one token's current price in USD and SOL.
type Quote struct {
	PriceUSD float64
	PriceSOL float64
}

// Client talks to the Birdeye public API.
type Client struct {
	apiToken   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Birdeye API client.
func NewClient(apiToken string, logger *zap.Logger) *Client {
	return &Client{
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.Named("birdeye"),
	}
}

type ohlcvResponse struct {
	Data *struct {
		Items []struct {
			Open  float64 `json:"o"`
			Close float64 `json:"c"`
		} `json:"items"`
	} `json:"data"`
}

// PriceAt returns the USD price of a mint at the minute containing t, taken
// as the midpoint of the 1-minute candle. For SOL a hardcoded fallback is
// returned on any failure; for other mints failures return 0.
func (c *Client) PriceAt(ctx context.Context, mint string, t time.Time) (float64, error) {
	minute := t.Truncate(time.Minute).Unix()
	url := fmt.Sprintf("%s/defi/ohlcv?address=%s&type=1m&currency=usd&time_from=%d&time_to=%d",
		baseURL, mint, minute, minute)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return c.fallback(mint, fmt.Errorf("create request: %w", err))
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fallback(mint, fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return c.fallback(mint, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
	}

	var response ohlcvResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return c.fallback(mint, fmt.Errorf("decode response: %w", err))
	}
	if response.Data == nil || len(response.Data.Items) == 0 {
		return c.fallback(mint, fmt.Errorf("no OHLCV data for %s", mint))
	}

	candle := response.Data.Items[0]
	return (candle.Open + candle.Close) / 2.0, nil
}

func (c *Client) fallback(mint string, cause error) (float64, error) {
	if mint == SOLMint {
		c.logger.Error("Historical SOL price unavailable, using fallback",
			zap.Float64("fallback_usd", solFallbackUSD),
			zap.Error(cause))
		return solFallbackUSD, nil
	}
	return 0, cause
}

type multiPriceResponse struct {
	Data map[string]*struct {
		Value         *float64 `json:"value"`
		PriceInNative *float64 `json:"priceInNative"`
	} `json:"data"`
}

// Quotes returns current prices for a batch of mints, restricted to tokens
// above the given liquidity floor. Mints the API does not price are simply
// absent from the result.
func (c *Client) Quotes(ctx context.Context, mints []string, liquidity int) (map[string]Quote, error) {
	if len(mints) == 0 {
		return map[string]Quote{}, nil
	}

	url := fmt.Sprintf("%s/defi/multi_price?check_liquidity=%d&include_liquidity=false", baseURL, liquidity)
	payload, err := json.Marshal(map[string]string{
		"list_address": strings.Join(mints, ","),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var response multiPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	quotes := make(map[string]Quote, len(response.Data))
	for mint, entry := range response.Data {
		if entry == nil || entry.Value == nil || entry.PriceInNative == nil {
			continue
		}
		quotes[mint] = Quote{
			PriceUSD: *entry.Value,
			PriceSOL: *entry.PriceInNative,
		}
	}
	return quotes, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-chain", "solana")
	req.Header.Set("X-API-KEY", c.apiToken)
}
