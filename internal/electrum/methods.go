package electrum

// Electrum protocol methods used by the batch client
const (
	MethodGetBalance  = "blockchain.scripthash.get_balance"
	MethodListUnspent = "blockchain.scripthash.listunspent"
	MethodGetMempool  = "blockchain.scripthash.get_mempool"
	MethodGetHistory  = "blockchain.scripthash.get_history"
	MethodServerPing  = "server.ping"
)

// Balance is the result of blockchain.scripthash.get_balance, in satoshis
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// UTXO is one entry of blockchain.scripthash.listunspent
type UTXO struct {
	TxHash string `json:"tx_hash"`
	TxPos  uint32 `json:"tx_pos"`
	Height int64  `json:"height"`
	Value  int64  `json:"value"`
}

// MempoolTx is one entry of blockchain.scripthash.get_mempool
type MempoolTx struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
	Fee    int64  `json:"fee"`
}

// HistoryTx is one entry of blockchain.scripthash.get_history
type HistoryTx struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
	Fee    int64  `json:"fee,omitempty"`
}
