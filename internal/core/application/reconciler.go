package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/ibwt-market/settler/internal/core/domain"
	"github.com/ibwt-market/settler/internal/core/ports"
)

const (
	// reconcileBatchSize bounds how many pending payments one pass inspects.
	reconcileBatchSize = 100
	// signatureWindow bounds how far back in an address's history one pass
	// looks for a match.
	signatureWindow = 20
)

// amountTolerance is the relative slack allowed by the balance-delta
// fallback match.
var amountTolerance = decimal.NewFromFloat(0.01)

// Confirmation reports one payment confirmed by a reconciliation pass.
type Confirmation struct {
	PaymentId string
	Signature string
}

// reconciler is the batch job matching pending payments against recent
// on-chain transactions. It is stateless across invocations; overlapping
// passes are resolved by the conditional confirm in the payment repository.
type reconciler struct {
	repoManager ports.RepoManager
	chain       ports.ChainClient
	notifier    ports.Notifier
}

func newReconciler(
	repoManager ports.RepoManager, chain ports.ChainClient, notifier ports.Notifier,
) *reconciler {
	return &reconciler{repoManager, chain, notifier}
}

// reconcile runs one pass: match pending payments first, then sweep expired
// ones. The order matters, a late transaction observed in the same pass still
// confirms a payment whose deadline just passed.
func (r *reconciler) reconcile(ctx context.Context) ([]Confirmation, error) {
	now := time.Now()

	pending, err := r.repoManager.Payments().GetPendingPayments(ctx, now, reconcileBatchSize)
	if err != nil {
		return nil, err
	}

	confirmations := make([]Confirmation, 0)
	for _, payment := range pending {
		confirmation, err := r.reconcilePayment(ctx, payment)
		if err != nil {
			// failures are isolated, the payment stays pending for the
			// next pass
			log.WithError(err).WithField("payment", payment.Id).
				Warn("failed to reconcile payment")
			continue
		}
		if confirmation != nil {
			confirmations = append(confirmations, *confirmation)
		}
	}

	expired, err := r.repoManager.Payments().ExpirePayments(ctx, now)
	if err != nil {
		log.WithError(err).Error("failed to sweep expired payments")
	} else if len(expired) > 0 {
		log.WithField("count", len(expired)).Debug("expired stale payments")
	}

	return confirmations, nil
}

// reconcilePayment scans the recipient's recent signatures for a match and
// confirms at most once.
func (r *reconciler) reconcilePayment(
	ctx context.Context, payment domain.Payment,
) (*Confirmation, error) {
	summaries, err := r.chain.GetSignaturesForAddress(ctx, payment.Recipient, signatureWindow)
	if err != nil {
		return nil, UpstreamError{"chain rpc", err}
	}

	for _, summary := range summaries {
		if summary.Failed {
			continue
		}
		if summary.BlockTime > 0 && summary.BlockTime < payment.CreatedAt {
			continue
		}

		if strings.Contains(summary.Memo, payment.Memo) {
			return r.markConfirmed(ctx, payment, summary.Signature)
		}

		detail, err := r.chain.GetTransaction(ctx, summary.Signature)
		if err != nil {
			return nil, UpstreamError{"chain rpc", err}
		}
		if detail.Failed {
			continue
		}
		if r.matches(payment, detail) {
			return r.markConfirmed(ctx, payment, summary.Signature)
		}
	}

	// no matching transaction found: a normal pending outcome, not an error
	return nil, nil
}

// verifyWithSignature short-circuits the signature scan with a caller
// supplied candidate.
func (r *reconciler) verifyWithSignature(
	ctx context.Context, payment domain.Payment, signature string,
) error {
	detail, err := r.chain.GetTransaction(ctx, signature)
	if err != nil {
		return UpstreamError{"chain rpc", err}
	}
	if detail.Failed {
		return ValidationError{fmt.Sprintf("transaction %s failed on-chain", signature)}
	}
	if detail.BlockTime > 0 && detail.BlockTime < payment.CreatedAt {
		return ValidationError{fmt.Sprintf("transaction %s predates the payment", signature)}
	}
	if !r.matches(payment, detail) {
		return ValidationError{fmt.Sprintf("transaction %s does not match payment %s", signature, payment.Id)}
	}
	if _, err := r.markConfirmed(ctx, payment, signature); err != nil {
		return err
	}
	return nil
}

// matches tests the memo first, then falls back to comparing the recipient's
// balance delta with the expected amount. The fallback is a low-confidence
// heuristic kept to single-instruction native transfers.
func (r *reconciler) matches(payment domain.Payment, detail *ports.TxDetail) bool {
	for _, memo := range detail.Memos {
		if strings.Contains(memo, payment.Memo) {
			return true
		}
	}

	// multi-instruction transactions move balances for too many reasons
	// for a delta comparison to mean anything
	if detail.InstructionCount > 2 {
		return false
	}
	delta, ok := detail.BalanceDeltas[payment.Recipient]
	if !ok || delta <= 0 {
		return false
	}

	expected := decimal.NewFromInt(int64(payment.Lamports))
	diff := decimal.NewFromInt(delta).Sub(expected).Abs()
	return diff.LessThanOrEqual(expected.Mul(amountTolerance))
}

// markConfirmed performs the conditional status flip and dispatches the
// webhook. A lost race means another invocation already confirmed, which is
// not a new confirmation for this pass.
func (r *reconciler) markConfirmed(
	ctx context.Context, payment domain.Payment, signature string,
) (*Confirmation, error) {
	err := r.repoManager.Payments().ConfirmPayment(ctx, payment.Id, signature, time.Now())
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, nil
		}
		return nil, err
	}

	confirmed, err := r.repoManager.Payments().GetPayment(ctx, payment.Id)
	if err != nil {
		return nil, err
	}

	merchant, err := r.repoManager.Merchants().GetMerchant(ctx, payment.MerchantId)
	if err != nil {
		log.WithError(err).WithField("merchant", payment.MerchantId).
			Warn("cannot notify merchant of confirmed payment")
	} else if merchant.HasWebhook() {
		// webhook delivery never blocks settlement state
		if err := r.notifier.NotifyPaymentConfirmed(ctx, *merchant, *confirmed); err != nil {
			log.WithError(err).WithField("payment", payment.Id).
				Warn("failed to dispatch webhook")
		}
	}

	return &Confirmation{PaymentId: payment.Id, Signature: signature}, nil
}
