// ==================================
// File: internal/swap/jupiter.go
// ==================================
package swap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	quoteURL = "https://quote-api.jup.ag/v6/quote"
	swapURL  = "https://quote-api.jup.ag/v6/swap"

	maxPriorityFeeLamports = 100000000 // 0.1 SOL
)

// Quote is a Jupiter swap quote. Raw keeps the untouched response body so
// the swap endpoint receives exactly what the quote endpoint produced.
type Quote struct {
	InAmount  uint64
	OutAmount uint64
	Raw       json.RawMessage
}

// JupiterClient talks to the Jupiter v6 aggregator API.
type JupiterClient struct {
	httpClient *http.Client
	logger     *zap.Logger
}

func NewJupiterClient(logger *zap.Logger) *JupiterClient {
	return &JupiterClient{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.Named("jupiter"),
	}
}

type quotePayload struct {
	InAmount  string `json:"inAmount"`
	OutAmount string `json:"outAmount"`
}

// GetQuote fetches a swap quote for amount raw units of inputMint into
// outputMint.
func (c *JupiterClient) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error) {
	url := fmt.Sprintf("%s?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		quoteURL, inputMint, outputMint, amount, slippageBps)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var payload quotePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if payload.InAmount == "" || payload.OutAmount == "" {
		return nil, fmt.Errorf("invalid quote: missing inAmount or outAmount")
	}

	inAmount, err := strconv.ParseUint(payload.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse inAmount: %w", err)
	}
	outAmount, err := strconv.ParseUint(payload.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse outAmount: %w", err)
	}

	return &Quote{
		InAmount:  inAmount,
		OutAmount: outAmount,
		Raw:       body,
	}, nil
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	PrioritizationFeeLamports struct {
		PriorityLevelWithMaxLamports struct {
			MaxLamports   uint64 `json:"maxLamports"`
			Global        bool   `json:"global"`
			PriorityLevel string `json:"priorityLevel"`
		} `json:"priorityLevelWithMaxLamports"`
	} `json:"prioritizationFeeLamports"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// BuildSwap asks the aggregator for a signable swap transaction for the
// given quote, returned base64-encoded and validated.
func (c *JupiterClient) BuildSwap(ctx context.Context, quote *Quote, userPublicKey string) (string, error) {
	request := swapRequest{
		QuoteResponse:    quote.Raw,
		UserPublicKey:    userPublicKey,
		WrapAndUnwrapSol: true,
	}
	request.PrioritizationFeeLamports.PriorityLevelWithMaxLamports.MaxLamports = maxPriorityFeeLamports
	request.PrioritizationFeeLamports.PriorityLevelWithMaxLamports.PriorityLevel = "veryHigh"

	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, swapURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var response swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if response.SwapTransaction == "" {
		return "", fmt.Errorf("invalid swap response: missing swapTransaction")
	}
	if _, err := base64.StdEncoding.DecodeString(response.SwapTransaction); err != nil {
		return "", fmt.Errorf("invalid base64 swapTransaction: %w", err)
	}

	return response.SwapTransaction, nil
}
