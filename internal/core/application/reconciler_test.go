package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ibwt-market/settler/internal/core/application"
	"github.com/ibwt-market/settler/internal/core/domain"
	"github.com/ibwt-market/settler/internal/core/ports"
)

func createPendingPayment(
	t *testing.T, svc application.Service, ttl time.Duration,
) (*domain.Payment, *domain.Merchant) {
	t.Helper()
	ctx := context.Background()

	merchant, err := svc.RegisterMerchant(
		ctx, "merchant-wallet", "Acme", "https://acme.example/hooks",
	)
	require.NoError(t, err)

	payment, err := svc.CreatePayment(ctx, merchant.ApiKey, application.CreatePaymentRequest{
		Amount:   decimal.RequireFromString("0.01"),
		Currency: "SOL",
		TTL:      ttl,
	})
	require.NoError(t, err)
	return payment, merchant
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("memo_match", func(t *testing.T) {
		svc, _, chain, notifier := newTestService(t)
		payment, _ := createPendingPayment(t, svc, time.Hour)

		chain.On("GetSignaturesForAddress", mock.Anything, payment.Recipient, mock.Anything).
			Return([]ports.TxSummary{
				{
					Signature: "matching-sig",
					BlockTime: time.Now().Unix(),
					Memo:      "[12] " + payment.Memo,
				},
			}, nil)

		confirmations, err := svc.Reconcile(ctx)
		require.NoError(t, err)
		require.Len(t, confirmations, 1)
		require.Equal(t, payment.Id, confirmations[0].PaymentId)
		require.Equal(t, "matching-sig", confirmations[0].Signature)

		confirmed, err := svc.GetPayment(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentConfirmed, confirmed.Status)
		require.Equal(t, "matching-sig", confirmed.Signature)
		require.Equal(t, 1, notifier.count())
	})

	t.Run("idempotent_double_pass", func(t *testing.T) {
		svc, _, chain, notifier := newTestService(t)
		payment, _ := createPendingPayment(t, svc, time.Hour)

		chain.On("GetSignaturesForAddress", mock.Anything, payment.Recipient, mock.Anything).
			Return([]ports.TxSummary{
				{
					Signature: "matching-sig",
					BlockTime: time.Now().Unix(),
					Memo:      payment.Memo,
				},
			}, nil)

		first, err := svc.Reconcile(ctx)
		require.NoError(t, err)
		require.Len(t, first, 1)

		// second pass against identical chain state confirms nothing new
		second, err := svc.Reconcile(ctx)
		require.NoError(t, err)
		require.Empty(t, second)
		require.Equal(t, 1, notifier.count())
	})

	t.Run("balance_delta_fallback", func(t *testing.T) {
		svc, _, chain, _ := newTestService(t)
		payment, _ := createPendingPayment(t, svc, time.Hour)

		chain.On("GetSignaturesForAddress", mock.Anything, payment.Recipient, mock.Anything).
			Return([]ports.TxSummary{
				{Signature: "transfer-sig", BlockTime: time.Now().Unix()},
			}, nil)
		chain.On("GetTransaction", mock.Anything, "transfer-sig").
			Return(&ports.TxDetail{
				Signature: "transfer-sig",
				BlockTime: time.Now().Unix(),
				BalanceDeltas: map[string]int64{
					// within the 1% tolerance of 10_000_000
					payment.Recipient: 9_990_000,
				},
				InstructionCount: 1,
			}, nil)

		confirmations, err := svc.Reconcile(ctx)
		require.NoError(t, err)
		require.Len(t, confirmations, 1)
	})

	t.Run("multi_instruction_tx_not_matched_by_delta", func(t *testing.T) {
		svc, _, chain, _ := newTestService(t)
		payment, _ := createPendingPayment(t, svc, time.Hour)

		chain.On("GetSignaturesForAddress", mock.Anything, payment.Recipient, mock.Anything).
			Return([]ports.TxSummary{
				{Signature: "composed-sig", BlockTime: time.Now().Unix()},
			}, nil)
		chain.On("GetTransaction", mock.Anything, "composed-sig").
			Return(&ports.TxDetail{
				Signature: "composed-sig",
				BlockTime: time.Now().Unix(),
				BalanceDeltas: map[string]int64{
					payment.Recipient: 10_000_000,
				},
				InstructionCount: 5,
			}, nil)

		confirmations, err := svc.Reconcile(ctx)
		require.NoError(t, err)
		require.Empty(t, confirmations)
	})

	t.Run("failed_tx_skipped", func(t *testing.T) {
		svc, _, chain, _ := newTestService(t)
		payment, _ := createPendingPayment(t, svc, time.Hour)

		chain.On("GetSignaturesForAddress", mock.Anything, payment.Recipient, mock.Anything).
			Return([]ports.TxSummary{
				{
					Signature: "failed-sig",
					BlockTime: time.Now().Unix(),
					Memo:      payment.Memo,
					Failed:    true,
				},
			}, nil)

		confirmations, err := svc.Reconcile(ctx)
		require.NoError(t, err)
		require.Empty(t, confirmations)

		got, err := svc.GetPayment(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentPending, got.Status)
	})

	t.Run("tx_predating_payment_skipped", func(t *testing.T) {
		svc, _, chain, _ := newTestService(t)
		payment, _ := createPendingPayment(t, svc, time.Hour)

		chain.On("GetSignaturesForAddress", mock.Anything, payment.Recipient, mock.Anything).
			Return([]ports.TxSummary{
				{
					Signature: "old-sig",
					BlockTime: payment.CreatedAt - 600,
					Memo:      payment.Memo,
				},
			}, nil)

		confirmations, err := svc.Reconcile(ctx)
		require.NoError(t, err)
		require.Empty(t, confirmations)
	})

	t.Run("expiry_sweep", func(t *testing.T) {
		svc, _, chain, notifier := newTestService(t)
		payment, _ := createPendingPayment(t, svc, time.Second)

		chain.On("GetSignaturesForAddress", mock.Anything, mock.Anything, mock.Anything).
			Return([]ports.TxSummary{}, nil)

		time.Sleep(1100 * time.Millisecond)

		confirmations, err := svc.Reconcile(ctx)
		require.NoError(t, err)
		require.Empty(t, confirmations)

		expired, err := svc.GetPayment(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentExpired, expired.Status)
		require.Empty(t, expired.Signature)
		require.Zero(t, notifier.count())
	})

	t.Run("upstream_failure_isolated", func(t *testing.T) {
		svc, _, chain, _ := newTestService(t)
		payment, _ := createPendingPayment(t, svc, time.Hour)

		chain.On("GetSignaturesForAddress", mock.Anything, payment.Recipient, mock.Anything).
			Return(nil, context.DeadlineExceeded)

		confirmations, err := svc.Reconcile(ctx)
		require.NoError(t, err)
		require.Empty(t, confirmations)

		got, err := svc.GetPayment(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentPending, got.Status)
	})
}

func TestVerifyPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("with_signature", func(t *testing.T) {
		svc, _, chain, notifier := newTestService(t)
		payment, _ := createPendingPayment(t, svc, time.Hour)

		chain.On("GetTransaction", mock.Anything, "client-sig").
			Return(&ports.TxDetail{
				Signature: "client-sig",
				BlockTime: time.Now().Unix(),
				Memos:     []string{payment.Memo},
			}, nil)

		verified, err := svc.VerifyPayment(ctx, payment.Id, "client-sig")
		require.NoError(t, err)
		require.Equal(t, domain.PaymentConfirmed, verified.Status)
		require.Equal(t, "client-sig", verified.Signature)
		require.Equal(t, 1, notifier.count())
	})

	t.Run("mismatched_signature", func(t *testing.T) {
		svc, _, chain, _ := newTestService(t)
		payment, _ := createPendingPayment(t, svc, time.Hour)

		chain.On("GetTransaction", mock.Anything, "unrelated-sig").
			Return(&ports.TxDetail{
				Signature: "unrelated-sig",
				BlockTime: time.Now().Unix(),
				Memos:     []string{"ibwt:some-other-payment"},
			}, nil)

		_, err := svc.VerifyPayment(ctx, payment.Id, "unrelated-sig")
		var validationErr application.ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("already_confirmed_is_noop", func(t *testing.T) {
		svc, _, chain, notifier := newTestService(t)
		payment, _ := createPendingPayment(t, svc, time.Hour)

		chain.On("GetTransaction", mock.Anything, "client-sig").
			Return(&ports.TxDetail{
				Signature: "client-sig",
				BlockTime: time.Now().Unix(),
				Memos:     []string{payment.Memo},
			}, nil)

		_, err := svc.VerifyPayment(ctx, payment.Id, "client-sig")
		require.NoError(t, err)

		verified, err := svc.VerifyPayment(ctx, payment.Id, "client-sig")
		require.NoError(t, err)
		require.Equal(t, domain.PaymentConfirmed, verified.Status)
		require.Equal(t, 1, notifier.count())
	})
}
