package ports

import "context"

// BuiltTx is an unsigned transaction ready to be signed by the payer and
// submitted client-side, together with the escrow address it targets.
type BuiltTx struct {
	UnsignedTx    string
	EscrowAddress string
}

// TxBuilder constructs unsigned transactions against the on-chain escrow
// program. It never signs nor submits; its only network access is a read of
// the escrow token account existence.
type TxBuilder interface {
	BuildLockTx(
		ctx context.Context, payer, payee, taskId string, amount uint64, deadline int64,
	) (*BuiltTx, error)
	BuildApproveTx(ctx context.Context, payer, payee, taskId string) (*BuiltTx, error)
	BuildDeclineTx(ctx context.Context, payer, payee, taskId string) (*BuiltTx, error)
	// EscrowAddress derives the program address for a task without touching
	// the network.
	EscrowAddress(taskId string) (string, error)
}
