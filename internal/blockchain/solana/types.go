// internal/blockchain/solana/types.go
package solana

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	maxRetries = 3

	confirmPollInterval = 500 * time.Millisecond
	confirmTimeout      = 30 * time.Second
)

// RPCMetrics tracks per-endpoint call statistics.
type RPCMetrics struct {
	mutex        sync.RWMutex
	successCount uint64
	errorCount   uint64
	latency      time.Duration
}

// RPCClient wraps one RPC endpoint with health state.
type RPCClient struct {
	Client  *rpc.Client
	URL     string
	mutex   sync.RWMutex
	active  bool
	metrics *RPCMetrics
}

// Client rotates over a pool of RPC endpoints with failover.
type Client struct {
	rpcClients []*RPCClient
	currIndex  int
	mutex      sync.Mutex
	logger     *zap.Logger
}
