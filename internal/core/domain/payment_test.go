package domain_test

import (
	"testing"
	"time"

	"github.com/ibwt-market/settler/internal/core/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPayment(t *testing.T) {
	now := time.Now()

	newPayment := func(t *testing.T, ttl time.Duration) *domain.Payment {
		payment, err := domain.NewPayment(
			"merchant-1", "recipient-wallet", 10_000_000,
			decimal.Zero, "", nil, ttl, now,
		)
		require.NoError(t, err)
		require.NotNil(t, payment)
		return payment
	}

	t.Run("new_payment", func(t *testing.T) {
		payment := newPayment(t, time.Hour)
		require.Equal(t, domain.PaymentPending, payment.Status)
		require.Equal(t, "ibwt:"+payment.Id, payment.Memo)
		require.Equal(t, now.Add(time.Hour).Unix(), payment.ExpiresAt)
		require.Empty(t, payment.Signature)
	})

	t.Run("default_ttl", func(t *testing.T) {
		payment := newPayment(t, 0)
		require.Equal(t, now.Add(domain.DefaultPaymentTTL).Unix(), payment.ExpiresAt)
	})

	t.Run("confirm", func(t *testing.T) {
		payment := newPayment(t, time.Hour)

		require.NoError(t, payment.Confirm("tx-sig", now))
		require.Equal(t, domain.PaymentConfirmed, payment.Status)
		require.Equal(t, "tx-sig", payment.Signature)
		require.Equal(t, now.Unix(), payment.ConfirmedAt)

		// replay with same signature is a no-op
		require.NoError(t, payment.Confirm("tx-sig", now.Add(time.Minute)))
		require.Equal(t, now.Unix(), payment.ConfirmedAt)

		// a different signature cannot re-confirm
		err := payment.Confirm("other-sig", now)
		require.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("expire", func(t *testing.T) {
		payment := newPayment(t, time.Hour)

		err := payment.Expire(now)
		require.Error(t, err)
		require.Equal(t, domain.PaymentPending, payment.Status)

		// a deadline reached exactly now counts as expired
		require.NoError(t, payment.Expire(now.Add(time.Hour)))
		require.Equal(t, domain.PaymentExpired, payment.Status)
		require.Empty(t, payment.Signature)

		err = payment.Confirm("tx-sig", now.Add(2*time.Hour))
		require.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("confirmed_never_expires", func(t *testing.T) {
		payment := newPayment(t, time.Hour)
		require.NoError(t, payment.Confirm("tx-sig", now))

		err := payment.Expire(now.Add(2 * time.Hour))
		require.ErrorIs(t, err, domain.ErrConflict)
	})
}

func TestMerchant(t *testing.T) {
	t.Run("webhook_secret_iff_webhook_url", func(t *testing.T) {
		withHook, err := domain.NewMerchant("wallet", "Acme", "https://acme.example/hooks", time.Now())
		require.NoError(t, err)
		require.True(t, withHook.HasWebhook())
		require.NotEmpty(t, withHook.WebhookSecret)

		withoutHook, err := domain.NewMerchant("wallet", "Acme", "", time.Now())
		require.NoError(t, err)
		require.False(t, withoutHook.HasWebhook())
		require.Empty(t, withoutHook.WebhookSecret)
	})

	t.Run("unique_api_keys", func(t *testing.T) {
		a, err := domain.NewMerchant("wallet", "Acme", "", time.Now())
		require.NoError(t, err)
		b, err := domain.NewMerchant("wallet", "Acme", "", time.Now())
		require.NoError(t, err)
		require.NotEqual(t, a.ApiKey, b.ApiKey)
	})
}
