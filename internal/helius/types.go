// internal/helius/types.go
package helius

import "encoding/json"

// rpcRequest is the JSON-RPC envelope for DAS methods.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// TokenAccount is one entry from the getTokenAccounts DAS method.
type TokenAccount struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
	Amount  uint64 `json:"amount"`
}

type tokenAccountsResult struct {
	Total         *int           `json:"total"`
	Limit         *int           `json:"limit"`
	TokenAccounts []TokenAccount `json:"token_accounts"`
}

// Asset carries the metadata fields the seller needs from getAsset.
type Asset struct {
	Symbol   string
	Name     string
	Decimals uint8
}

type assetResult struct {
	Content *struct {
		Metadata struct {
			Symbol string `json:"symbol"`
			Name   string `json:"name"`
		} `json:"metadata"`
	} `json:"content"`
	TokenInfo *struct {
		Decimals uint8 `json:"decimals"`
	} `json:"token_info"`
}

// ParsedTransaction is one enriched transaction from the v0 transactions API.
type ParsedTransaction struct {
	Timestamp       int64            `json:"timestamp"`
	Signature       string           `json:"signature"`
	NativeTransfers []NativeTransfer `json:"nativeTransfers"`
	TokenTransfers  []TokenTransfer  `json:"tokenTransfers"`
	AccountData     []AccountData    `json:"accountData"`
}

type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"` // lamports
}

type TokenTransfer struct {
	FromUserAccount  string  `json:"fromUserAccount"`
	ToUserAccount    string  `json:"toUserAccount"`
	FromTokenAccount string  `json:"fromTokenAccount"`
	ToTokenAccount   string  `json:"toTokenAccount"`
	Mint             string  `json:"mint"`
	TokenAmount      float64 `json:"tokenAmount"`
}

type AccountData struct {
	Account             string               `json:"account"`
	NativeBalanceChange int64                `json:"nativeBalanceChange"`
	TokenBalanceChanges []TokenBalanceChange `json:"tokenBalanceChanges"`
}

type TokenBalanceChange struct {
	TokenAccount   string         `json:"tokenAccount"`
	Mint           string         `json:"mint"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    int    `json:"decimals"`
}
