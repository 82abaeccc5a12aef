// internal/helius/client.go
package helius

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultRPCURL = "https://mainnet.helius-rpc.com/?api-key="
	defaultAPIURL = "https://api.helius.xyz"

	tokenAccountsLimit = 100
)

// Client talks to the Helius DAS JSON-RPC and enhanced-transactions APIs.
type Client struct {
	apiKey     string
	rpcURL     string
	apiURL     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Helius API client.
func NewClient(apiKey string, logger *zap.Logger) *Client {
	return &Client{
		apiKey: apiKey,
		rpcURL: defaultRPCURL + apiKey,
		apiURL: defaultAPIURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.Named("helius"),
	}
}

// TokenAccounts returns non-zero token accounts for an owner. Malformed
// responses are logged and surface as an empty list, not an error, so one
// bad payload cannot poison a reconcile cycle.
func (c *Client) TokenAccounts(ctx context.Context, owner string) ([]TokenAccount, error) {
	params := map[string]interface{}{
		"owner": owner,
		"page":  1,
		"limit": tokenAccountsLimit,
		"displayOptions": map[string]interface{}{
			"showZeroBalance": false,
		},
	}

	raw, err := c.callRPC(ctx, "getTokenAccounts", params)
	if err != nil {
		return nil, fmt.Errorf("getTokenAccounts: %w", err)
	}

	var result tokenAccountsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn("Malformed token accounts response", zap.String("owner", owner), zap.Error(err))
		return nil, nil
	}
	if result.Total == nil || result.Limit == nil {
		c.logger.Warn("Token accounts response missing expected fields", zap.String("owner", owner))
		return nil, nil
	}

	return result.TokenAccounts, nil
}

// Asset returns symbol, name and decimals for a mint. Missing metadata fields
// are tolerated; the zero Asset is returned alongside a nil error.
func (c *Client) Asset(ctx context.Context, mint string) (Asset, error) {
	params := map[string]interface{}{"id": mint}

	raw, err := c.callRPC(ctx, "getAsset", params)
	if err != nil {
		return Asset{}, fmt.Errorf("getAsset: %w", err)
	}

	var result assetResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn("Malformed asset response", zap.String("mint", mint), zap.Error(err))
		return Asset{}, nil
	}
	if result.TokenInfo == nil || result.Content == nil {
		c.logger.Warn("Asset response missing token_info", zap.String("mint", mint))
		return Asset{}, nil
	}

	return Asset{
		Symbol:   result.Content.Metadata.Symbol,
		Name:     result.Content.Metadata.Name,
		Decimals: result.TokenInfo.Decimals,
	}, nil
}

// ParsedTransactions returns the enriched transaction history for a token
// account, newest first.
func (c *Client) ParsedTransactions(ctx context.Context, address string) ([]ParsedTransaction, error) {
	url := fmt.Sprintf("%s/v0/addresses/%s/transactions?api-key=%s", c.apiURL, address, c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var transactions []ParsedTransaction
	if err := json.NewDecoder(resp.Body).Decode(&transactions); err != nil {
		c.logger.Warn("Malformed transaction history response", zap.String("address", address), zap.Error(err))
		return nil, nil
	}

	return transactions, nil
}

func (c *Client) callRPC(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "1",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
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

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}

	return envelope.Result, nil
}
