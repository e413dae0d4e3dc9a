package ports

import "context"

// TxSummary is one entry of an address's recent signature history.
type TxSummary struct {
	Signature string
	BlockTime int64
	Failed    bool
	Memo      string
}

// TxDetail is the decoded view of a confirmed transaction, limited to what
// reconciliation needs: memos and per-address native balance deltas.
type TxDetail struct {
	Signature string
	BlockTime int64
	Failed    bool
	Memos     []string
	// BalanceDeltas maps account addresses to their lamport delta, post
	// minus pre.
	BalanceDeltas map[string]int64
	// InstructionCount distinguishes plain transfers from composed
	// transactions, where balance-delta matching is unreliable.
	InstructionCount int
}

// ChainClient reads confirmed state from the settlement chain RPC. All
// methods surface transport failures as errors for the caller to classify.
type ChainClient interface {
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]TxSummary, error)
	GetTransaction(ctx context.Context, signature string) (*TxDetail, error)
	AccountExists(ctx context.Context, address string) (bool, error)
	LatestBlockhash(ctx context.Context) (string, error)
}
