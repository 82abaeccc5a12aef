// internal/blockchain/solana/client.go
package solana

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// NewClient creates a Solana client over the given RPC endpoints.
func NewClient(rpcURLs []string, logger *zap.Logger) (*Client, error) {
	if len(rpcURLs) == 0 {
		return nil, errors.New("empty RPC URL list")
	}

	var clients []*RPCClient
	for _, urlStr := range rpcURLs {
		if _, err := url.Parse(urlStr); err != nil {
			logger.Warn("Invalid RPC URL", zap.String("url", urlStr), zap.Error(err))
			continue
		}

		client := &RPCClient{
			Client:  rpc.New(urlStr),
			URL:     urlStr,
			active:  true,
			metrics: &RPCMetrics{},
		}
		clients = append(clients, client)
	}

	if len(clients) == 0 {
		return nil, errors.New("no valid RPC URLs provided")
	}

	return &Client{
		rpcClients: clients,
		logger:     logger,
	}, nil
}

// GetBalance returns the lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		client := c.getNextClient()
		if client == nil {
			return 0, errors.New("no active RPC clients available")
		}

		start := time.Now()
		result, err := client.Client.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
		client.updateMetrics(err == nil, time.Since(start))

		if err != nil {
			lastErr = err
			client.setActive(false)
			continue
		}

		return result.Value, nil
	}

	return 0, fmt.Errorf("failed to get balance after %d attempts: %w", maxRetries, lastErr)
}

// GetBalanceWithRetry wraps GetBalance in an exponential backoff policy for
// startup balance checks, where rate limits are common.
func (c *Client) GetBalanceWithRetry(ctx context.Context, pubkey solana.PublicKey, maxTries uint) (uint64, error) {
	return backoff.Retry(
		ctx,
		func() (uint64, error) {
			return c.GetBalance(ctx, pubkey)
		},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxTries),
	)
}

// GetRecentBlockhash returns the latest blockhash.
func (c *Client) GetRecentBlockhash(ctx context.Context) (solana.Hash, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		client := c.getNextClient()
		if client == nil {
			return solana.Hash{}, errors.New("no active RPC clients available")
		}

		start := time.Now()
		result, err := client.Client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		client.updateMetrics(err == nil, time.Since(start))

		if err != nil {
			lastErr = err
			client.setActive(false)
			continue
		}

		return result.Value.Blockhash, nil
	}

	return solana.Hash{}, fmt.Errorf("failed to get recent blockhash after %d attempts: %w", maxRetries, lastErr)
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		client := c.getNextClient()
		if client == nil {
			return solana.Signature{}, errors.New("no active RPC clients available")
		}

		start := time.Now()
		sig, err := client.Client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: rpc.CommitmentFinalized,
		})
		client.updateMetrics(err == nil, time.Since(start))

		if err != nil {
			lastErr = err
			client.setActive(false)
			continue
		}

		return sig, nil
	}

	return solana.Signature{}, fmt.Errorf("failed to send transaction after %d attempts: %w", maxRetries, lastErr)
}

// WaitForTransactionConfirmation polls signature status until the transaction
// reaches confirmed or finalized commitment.
func (c *Client) WaitForTransactionConfirmation(ctx context.Context, signature solana.Signature) error {
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()
	timeout := time.After(confirmTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("confirmation timeout for %s", signature)
		case <-ticker.C:
			client := c.getNextClient()
			if client == nil {
				return errors.New("no active RPC clients available")
			}
			statuses, err := client.Client.GetSignatureStatuses(ctx, true, signature)
			if err != nil {
				c.logger.Warn("Error getting signature statuses", zap.Error(err))
				continue
			}
			if statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
				status := statuses.Value[0]
				if status.Err != nil {
					return fmt.Errorf("transaction %s failed on chain: %v", signature, status.Err)
				}
				if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized ||
					status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed {
					return nil
				}
			}
		}
	}
}

func (c *Client) getNextClient() *RPCClient {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	initialIndex := c.currIndex
	for {
		c.currIndex = (c.currIndex + 1) % len(c.rpcClients)
		if c.rpcClients[c.currIndex].isActive() {
			return c.rpcClients[c.currIndex]
		}
		if c.currIndex == initialIndex {
			// All endpoints were marked down; reactivate and retry round-robin.
			for _, client := range c.rpcClients {
				success, errors, avgLatency := client.getMetrics()
				c.logger.Warn("Reactivating RPC endpoint",
					zap.String("url", client.URL),
					zap.Uint64("success", success),
					zap.Uint64("errors", errors),
					zap.Duration("avg_latency", avgLatency))
				client.setActive(true)
			}
			return c.rpcClients[c.currIndex]
		}
	}
}
