package domain

import (
	"context"
	"time"
)

type PaymentRepository interface {
	AddPayment(ctx context.Context, payment Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	// GetPendingPayments returns at most limit payments that are still
	// pending and unexpired at the given time, oldest first.
	GetPendingPayments(ctx context.Context, at time.Time, limit int) ([]Payment, error)
	// ConfirmPayment records the matching signature iff the payment is still
	// pending, returning ErrConflict when another invocation won the race.
	ConfirmPayment(ctx context.Context, id, signature string, at time.Time) error
	// ExpirePayments sweeps every pending payment whose deadline has passed
	// and returns the ones it expired.
	ExpirePayments(ctx context.Context, at time.Time) ([]Payment, error)
	Close()
}
