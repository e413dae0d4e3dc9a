package ports

import (
	"context"

	"github.com/ibwt-market/settler/internal/core/domain"
)

// Notifier delivers settlement events to a merchant's registered webhook
// endpoint. Delivery failures never propagate into settlement state.
type Notifier interface {
	NotifyPaymentConfirmed(ctx context.Context, merchant domain.Merchant, payment domain.Payment) error
	Stop()
}
