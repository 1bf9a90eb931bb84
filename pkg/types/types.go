// Package types holds the small set of wire-level types shared by the
// contract client and the transaction listener, mirroring the JSON shapes
// returned by eth_getTransactionReceipt.
package types

// TxType selects the gas/fee strategy used when a ContractClient sends a
// transaction.
type TxType int

const (
	// Standard uses the node's suggested gas price and an estimated gas
	// limit (or the caller-supplied limit, when non-nil).
	Standard TxType = iota
	// Dynamic uses EIP-1559 fee fields (tip + base fee cap).
	Dynamic
)

// TxReceipt is the subset of eth_getTransactionReceipt fields the engine
// cares about. Numeric fields are kept as hex strings exactly as the RPC
// returns them; callers parse with big.Int.SetString(s, 0) when needed.
type TxReceipt struct {
	TransactionHash   string `json:"transactionHash"`
	BlockNumber       string `json:"blockNumber"`
	Status            string `json:"status"`
	GasUsed           string `json:"gasUsed"`
	EffectiveGasPrice string `json:"effectiveGasPrice"`
}
