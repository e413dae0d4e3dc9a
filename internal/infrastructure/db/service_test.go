package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/ibwt-market/settler/internal/core/domain"
	"github.com/ibwt-market/settler/internal/core/ports"
	"github.com/ibwt-market/settler/internal/infrastructure/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestService(t *testing.T) {
	tests := []struct {
		name   string
		config db.ServiceConfig
	}{
		{
			name: "repo_manager_with_badger_stores",
			config: db.ServiceConfig{
				DataStoreType:   "badger",
				DataStoreConfig: []interface{}{"", nil},
			},
		},
		{
			name: "repo_manager_with_sqlite_stores",
			config: db.ServiceConfig{
				DataStoreType:   "sqlite",
				DataStoreConfig: []interface{}{t.TempDir()},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := db.NewService(tt.config)
			require.NoError(t, err)
			defer svc.Close()

			testTaskRepository(t, svc)
			testPaymentRepository(t, svc)
			testMerchantRepository(t, svc)
			testWebhookDeliveryRepository(t, svc)
		})
	}
}

func testTaskRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_task_repository", func(t *testing.T) {
		repo := svc.Tasks()

		task, err := domain.NewTask("requester-wallet", "translate a document", 1000)
		require.NoError(t, err)

		_, err = repo.GetTask(ctx, task.Id)
		require.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, repo.AddTask(ctx, *task))

		got, err := repo.GetTask(ctx, task.Id)
		require.NoError(t, err)
		require.Equal(t, task.Id, got.Id)
		require.Equal(t, domain.TaskOpen, got.Status)

		bid, err := domain.NewBid(task.Id, "agent-1", 900, time.Now().Unix())
		require.NoError(t, err)
		otherBid, err := domain.NewBid(task.Id, "agent-2", 950, time.Now().Unix()+1)
		require.NoError(t, err)
		require.NoError(t, repo.AddBid(ctx, *bid))
		require.NoError(t, repo.AddBid(ctx, *otherBid))

		bids, err := repo.GetBidsForTask(ctx, task.Id)
		require.NoError(t, err)
		require.Len(t, bids, 2)

		err = repo.UpdateTask(ctx, task.Id, func(t *domain.Task) (*domain.Task, error) {
			if err := t.Assign(bid.Id, "lock-signature", time.Now()); err != nil {
				return nil, err
			}
			return t, nil
		})
		require.NoError(t, err)

		got, err = repo.GetTask(ctx, task.Id)
		require.NoError(t, err)
		require.Equal(t, domain.TaskWorking, got.Status)
		require.Equal(t, bid.Id, got.AcceptedBidId)
		require.Equal(t, "lock-signature", got.LockSignature)

		// a second assignment attempt surfaces the state conflict
		err = repo.UpdateTask(ctx, task.Id, func(t *domain.Task) (*domain.Task, error) {
			if err := t.Assign(otherBid.Id, "other-signature", time.Now()); err != nil {
				return nil, err
			}
			return t, nil
		})
		require.ErrorIs(t, err, domain.ErrConflict)

		err = repo.UpdateBid(ctx, bid.Id, func(b *domain.Bid) (*domain.Bid, error) {
			if err := b.Accept(); err != nil {
				return nil, err
			}
			return b, nil
		})
		require.NoError(t, err)

		gotBid, err := repo.GetBid(ctx, bid.Id)
		require.NoError(t, err)
		require.Equal(t, domain.BidAccepted, gotBid.Status)

		deliverable := domain.Deliverable{
			TaskId:      task.Id,
			AgentId:     "agent-1",
			Outputs:     "the translated document",
			Revision:    1,
			SubmittedAt: time.Now().Unix(),
		}
		require.NoError(t, repo.UpsertDeliverable(ctx, deliverable))

		deliverable.Outputs = "the corrected translation"
		deliverable.Revision = 2
		require.NoError(t, repo.UpsertDeliverable(ctx, deliverable))

		gotDeliverable, err := repo.GetDeliverable(ctx, task.Id)
		require.NoError(t, err)
		require.Equal(t, 2, gotDeliverable.Revision)
		require.Equal(t, "the corrected translation", gotDeliverable.Outputs)
	})
}

func testPaymentRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_payment_repository", func(t *testing.T) {
		repo := svc.Payments()
		now := time.Now()

		payment, err := domain.NewPayment(
			"merchant-1", "recipient-wallet", 10_000_000,
			decimal.NewFromFloat(0.01), "SOL",
			map[string]string{"order": "42"}, time.Hour, now,
		)
		require.NoError(t, err)
		require.NoError(t, repo.AddPayment(ctx, *payment))

		got, err := repo.GetPayment(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentPending, got.Status)
		require.Equal(t, payment.Memo, got.Memo)
		require.Equal(t, "42", got.Metadata["order"])
		require.True(t, payment.FiatAmount.Equal(got.FiatAmount))

		pending, err := repo.GetPendingPayments(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		require.NoError(t, repo.ConfirmPayment(ctx, payment.Id, "tx-signature", now))

		// confirming twice loses the race
		err = repo.ConfirmPayment(ctx, payment.Id, "other-signature", now)
		require.ErrorIs(t, err, domain.ErrConflict)

		got, err = repo.GetPayment(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentConfirmed, got.Status)
		require.Equal(t, "tx-signature", got.Signature)

		pending, err = repo.GetPendingPayments(ctx, now, 10)
		require.NoError(t, err)
		require.Empty(t, pending)

		shortLived, err := domain.NewPayment(
			"merchant-1", "recipient-wallet", 5_000_000,
			decimal.NewFromFloat(0.005), "SOL", nil, time.Minute, now,
		)
		require.NoError(t, err)
		require.NoError(t, repo.AddPayment(ctx, *shortLived))

		expired, err := repo.ExpirePayments(ctx, now.Add(2*time.Minute))
		require.NoError(t, err)
		require.Len(t, expired, 1)
		require.Equal(t, shortLived.Id, expired[0].Id)

		got, err = repo.GetPayment(ctx, shortLived.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentExpired, got.Status)

		// confirmed payments are never swept
		expired, err = repo.ExpirePayments(ctx, now.Add(2*time.Hour))
		require.NoError(t, err)
		require.Empty(t, expired)
	})
}

func testMerchantRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_merchant_repository", func(t *testing.T) {
		repo := svc.Merchants()

		merchant, err := domain.NewMerchant(
			"merchant-wallet", "acme shop", "https://example.com/hook", time.Now(),
		)
		require.NoError(t, err)
		require.NoError(t, repo.AddMerchant(ctx, *merchant))

		got, err := repo.GetMerchant(ctx, merchant.Id)
		require.NoError(t, err)
		require.Equal(t, merchant.ApiKey, got.ApiKey)
		require.True(t, got.HasWebhook())

		byKey, err := repo.GetMerchantByApiKey(ctx, merchant.ApiKey)
		require.NoError(t, err)
		require.Equal(t, merchant.Id, byKey.Id)

		_, err = repo.GetMerchantByApiKey(ctx, "unknown-key")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func testWebhookDeliveryRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_webhook_delivery_repository", func(t *testing.T) {
		repo := svc.WebhookDeliveries()

		delivery := domain.NewWebhookDelivery(
			"merchant-1", "payment-1", "payment.confirmed", `{"type":"payment.confirmed"}`,
			time.Now(),
		)
		require.NoError(t, repo.AddDelivery(ctx, *delivery))

		err := repo.UpdateDelivery(
			ctx, delivery.Id,
			func(d *domain.WebhookDelivery) (*domain.WebhookDelivery, error) {
				d.Attempts = 1
				d.Status = domain.DeliveryDelivered
				d.DeliveredAt = time.Now().Unix()
				return d, nil
			},
		)
		require.NoError(t, err)

		deliveries, err := repo.GetDeliveriesForPayment(ctx, "payment-1")
		require.NoError(t, err)
		require.Len(t, deliveries, 1)
		require.Equal(t, domain.DeliveryDelivered, deliveries[0].Status)
		require.Equal(t, 1, deliveries[0].Attempts)
	})
}
