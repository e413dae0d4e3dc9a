package txbuilder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"

	"github.com/ibwt-market/settler/internal/core/ports"
)

// escrowSeed is the fixed namespace tag of the escrow program's address
// derivation.
const escrowSeed = "escrow"

// taskIdWidth is the fixed width the program expects for task identifiers.
// Shorter ids are zero-padded, longer ones truncated. The same rule applies
// to lock, approve and decline, since the derivation depends on exact byte
// equality. Ids longer than the width can collide on a shared prefix.
const taskIdWidth = 32

var (
	lockDiscriminator    = anchorDiscriminator("lock_funds")
	approveDiscriminator = anchorDiscriminator("approve")
	declineDiscriminator = anchorDiscriminator("decline")
)

type txBuilder struct {
	chain     ports.ChainClient
	programId solana.PublicKey
	mint      solana.PublicKey
}

func NewTxBuilder(
	chain ports.ChainClient, programId, mint string,
) (ports.TxBuilder, error) {
	program, err := solana.PublicKeyFromBase58(programId)
	if err != nil {
		return nil, fmt.Errorf("invalid escrow program id: %s", err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement mint: %s", err)
	}
	return &txBuilder{chain, program, mintKey}, nil
}

func (b *txBuilder) BuildLockTx(
	ctx context.Context, payer, payee, taskId string, amount uint64, deadline int64,
) (*ports.BuiltTx, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("missing amount to lock")
	}
	payerKey, payeeKey, err := parseParties(payer, payee)
	if err != nil {
		return nil, err
	}

	escrow, err := b.deriveEscrow(taskId)
	if err != nil {
		return nil, err
	}
	payerAta, _, err := solana.FindAssociatedTokenAddress(payerKey, b.mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive payer token account: %s", err)
	}
	escrowAta, _, err := solana.FindAssociatedTokenAddress(escrow, b.mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive escrow token account: %s", err)
	}

	instructions := make([]solana.Instruction, 0, 2)

	// creating an already-initialized token account would fail the whole
	// transaction, so the create instruction is only prepended when the
	// account is missing
	exists, err := b.chain.AccountExists(ctx, escrowAta.String())
	if err != nil {
		return nil, fmt.Errorf("failed to check escrow token account: %w", err)
	}
	if !exists {
		createAta := associatedtokenaccount.NewCreateInstruction(
			payerKey, escrow, b.mint,
		).Build()
		instructions = append(instructions, createAta)
	}

	data := make([]byte, 0, 8+taskIdWidth+8+8)
	data = append(data, lockDiscriminator[:]...)
	seed := taskIdBytes(taskId)
	data = append(data, seed[:]...)
	data = binary.LittleEndian.AppendUint64(data, amount)
	data = binary.LittleEndian.AppendUint64(data, uint64(deadline))

	instructions = append(instructions, solana.NewInstruction(
		b.programId,
		solana.AccountMetaSlice{
			solana.Meta(payerKey).WRITE().SIGNER(),
			solana.Meta(payeeKey),
			solana.Meta(escrow).WRITE(),
			solana.Meta(payerAta).WRITE(),
			solana.Meta(escrowAta).WRITE(),
			solana.Meta(b.mint),
			solana.Meta(solana.TokenProgramID),
			solana.Meta(solana.SystemProgramID),
		},
		data,
	))

	return b.assemble(ctx, payerKey, escrow, instructions)
}

// BuildApproveTx releases the full locked amount to the payee. The program
// reads the amount from the escrow account, so none is passed here.
func (b *txBuilder) BuildApproveTx(
	ctx context.Context, payer, payee, taskId string,
) (*ports.BuiltTx, error) {
	return b.buildSettleTx(ctx, payer, payee, taskId, approveDiscriminator, true)
}

// BuildDeclineTx refunds the full locked amount to the payer.
func (b *txBuilder) BuildDeclineTx(
	ctx context.Context, payer, payee, taskId string,
) (*ports.BuiltTx, error) {
	return b.buildSettleTx(ctx, payer, payee, taskId, declineDiscriminator, false)
}

func (b *txBuilder) EscrowAddress(taskId string) (string, error) {
	escrow, err := b.deriveEscrow(taskId)
	if err != nil {
		return "", err
	}
	return escrow.String(), nil
}

func (b *txBuilder) buildSettleTx(
	ctx context.Context, payer, payee, taskId string,
	discriminator [8]byte, toPayee bool,
) (*ports.BuiltTx, error) {
	payerKey, payeeKey, err := parseParties(payer, payee)
	if err != nil {
		return nil, err
	}

	escrow, err := b.deriveEscrow(taskId)
	if err != nil {
		return nil, err
	}
	escrowAta, _, err := solana.FindAssociatedTokenAddress(escrow, b.mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive escrow token account: %s", err)
	}

	recipient := payerKey
	if toPayee {
		recipient = payeeKey
	}
	recipientAta, _, err := solana.FindAssociatedTokenAddress(recipient, b.mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive recipient token account: %s", err)
	}

	instructions := make([]solana.Instruction, 0, 2)

	exists, err := b.chain.AccountExists(ctx, recipientAta.String())
	if err != nil {
		return nil, fmt.Errorf("failed to check recipient token account: %w", err)
	}
	if !exists {
		createAta := associatedtokenaccount.NewCreateInstruction(
			payerKey, recipient, b.mint,
		).Build()
		instructions = append(instructions, createAta)
	}

	data := make([]byte, 0, 8+taskIdWidth)
	data = append(data, discriminator[:]...)
	seed := taskIdBytes(taskId)
	data = append(data, seed[:]...)

	instructions = append(instructions, solana.NewInstruction(
		b.programId,
		solana.AccountMetaSlice{
			solana.Meta(payerKey).WRITE().SIGNER(),
			solana.Meta(escrow).WRITE(),
			solana.Meta(escrowAta).WRITE(),
			solana.Meta(recipientAta).WRITE(),
			solana.Meta(b.mint),
			solana.Meta(solana.TokenProgramID),
		},
		data,
	))

	return b.assemble(ctx, payerKey, escrow, instructions)
}

func (b *txBuilder) assemble(
	ctx context.Context, payer, escrow solana.PublicKey,
	instructions []solana.Instruction,
) (*ports.BuiltTx, error) {
	blockhash, err := b.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest blockhash: %w", err)
	}
	recent, err := solana.HashFromBase58(blockhash)
	if err != nil {
		return nil, fmt.Errorf("invalid blockhash %s: %s", blockhash, err)
	}

	tx, err := solana.NewTransaction(
		instructions, recent, solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %s", err)
	}
	encoded, err := tx.ToBase64()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %s", err)
	}

	return &ports.BuiltTx{
		UnsignedTx:    encoded,
		EscrowAddress: escrow.String(),
	}, nil
}

func (b *txBuilder) deriveEscrow(taskId string) (solana.PublicKey, error) {
	if len(taskId) <= 0 {
		return solana.PublicKey{}, fmt.Errorf("missing task id")
	}
	seed := taskIdBytes(taskId)
	escrow, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(escrowSeed), seed[:]}, b.programId,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive escrow address: %s", err)
	}
	return escrow, nil
}

func parseParties(payer, payee string) (solana.PublicKey, solana.PublicKey, error) {
	payerKey, err := solana.PublicKeyFromBase58(payer)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("invalid payer address: %s", err)
	}
	payeeKey, err := solana.PublicKeyFromBase58(payee)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("invalid payee address: %s", err)
	}
	return payerKey, payeeKey, nil
}

func taskIdBytes(taskId string) [taskIdWidth]byte {
	var out [taskIdWidth]byte
	copy(out[:], taskId)
	return out
}

func anchorDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}
