package chainrpc

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/ibwt-market/settler/internal/core/ports"
)

type chainClient struct {
	rpcClient *rpc.Client
}

func NewChainClient(endpoint string) (ports.ChainClient, error) {
	if len(endpoint) <= 0 {
		return nil, fmt.Errorf("missing rpc endpoint")
	}
	return &chainClient{rpc.New(endpoint)}, nil
}

func (c *chainClient) GetSignaturesForAddress(
	ctx context.Context, address string, limit int,
) ([]ports.TxSummary, error) {
	account, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %s", address, err)
	}

	opts := &rpc.GetSignaturesForAddressOpts{
		Commitment: rpc.CommitmentConfirmed,
	}
	if limit > 0 {
		opts.Limit = &limit
	}
	sigs, err := c.rpcClient.GetSignaturesForAddressWithOpts(ctx, account, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signatures for %s: %w", address, err)
	}

	summaries := make([]ports.TxSummary, 0, len(sigs))
	for _, sig := range sigs {
		summary := ports.TxSummary{
			Signature: sig.Signature.String(),
			Failed:    sig.Err != nil,
		}
		if sig.BlockTime != nil {
			summary.BlockTime = int64(*sig.BlockTime)
		}
		if sig.Memo != nil {
			summary.Memo = *sig.Memo
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (c *chainClient) GetTransaction(
	ctx context.Context, signature string,
) (*ports.TxDetail, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %s: %s", signature, err)
	}

	maxVersion := uint64(0)
	res, err := c.rpcClient.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tx %s: %w", signature, err)
	}
	if res == nil || res.Transaction == nil {
		return nil, fmt.Errorf("tx %s not found", signature)
	}

	rawTx := res.Transaction.GetBinary()
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return nil, fmt.Errorf("failed to decode tx %s: %s", signature, err)
	}

	detail := &ports.TxDetail{
		Signature:        signature,
		Memos:            extractMemos(tx),
		InstructionCount: len(tx.Message.Instructions),
	}
	if res.BlockTime != nil {
		detail.BlockTime = int64(*res.BlockTime)
	}
	if res.Meta != nil {
		detail.Failed = res.Meta.Err != nil
		detail.BalanceDeltas = balanceDeltas(
			tx.Message.AccountKeys, res.Meta.PreBalances, res.Meta.PostBalances,
		)
	}
	return detail, nil
}

func (c *chainClient) AccountExists(
	ctx context.Context, address string,
) (bool, error) {
	account, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return false, fmt.Errorf("invalid address %s: %s", address, err)
	}

	res, err := c.rpcClient.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to fetch account %s: %w", address, err)
	}
	return res != nil && res.Value != nil, nil
}

func (c *chainClient) LatestBlockhash(ctx context.Context) (string, error) {
	res, err := c.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("failed to fetch latest blockhash: %w", err)
	}
	return res.Value.Blockhash.String(), nil
}

func extractMemos(tx *solana.Transaction) []string {
	memos := make([]string, 0)
	for _, inst := range tx.Message.Instructions {
		program, err := tx.Message.Program(inst.ProgramIDIndex)
		if err != nil {
			continue
		}
		if program.Equals(solana.MemoProgramID) {
			memos = append(memos, string(inst.Data))
		}
	}
	return memos
}

func balanceDeltas(
	keys []solana.PublicKey, pre, post []uint64,
) map[string]int64 {
	deltas := make(map[string]int64)
	for i, key := range keys {
		if i >= len(pre) || i >= len(post) {
			break
		}
		deltas[key.String()] = int64(post[i]) - int64(pre[i])
	}
	return deltas
}
