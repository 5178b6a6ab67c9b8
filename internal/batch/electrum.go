package batch

import (
	"bytes"
	"encoding/json"

	"electrumbatch/internal/electrum"
)

// IsObject accepts a JSON object result
func IsObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{' && json.Valid(raw)
}

// IsArray accepts a JSON array result
func IsArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '[' && json.Valid(raw)
}

// GetBalance queues blockchain.scripthash.get_balance
func (c *Client) GetBalance(scripthash string) (*Request, error) {
	return c.AddRequest(electrum.MethodGetBalance, []any{scripthash}, IsObject)
}

// ListUnspent queues blockchain.scripthash.listunspent
func (c *Client) ListUnspent(scripthash string) (*Request, error) {
	return c.AddRequest(electrum.MethodListUnspent, []any{scripthash}, IsArray)
}

// GetMempool queues blockchain.scripthash.get_mempool
func (c *Client) GetMempool(scripthash string) (*Request, error) {
	return c.AddRequest(electrum.MethodGetMempool, []any{scripthash}, IsArray)
}

// GetHistory queues blockchain.scripthash.get_history
func (c *Client) GetHistory(scripthash string) (*Request, error) {
	return c.AddRequest(electrum.MethodGetHistory, []any{scripthash}, IsArray)
}
