package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ibwt-market/settler/internal/core/domain"
)

const paymentStoreDir = "payments"

type paymentRepository struct {
	store *badgerhold.Store

	// serializes the read-modify-write cycles of ConfirmPayment and
	// ExpirePayments, so a payment is confirmed or expired exactly once
	updateMtx *sync.Mutex
}

func NewPaymentRepository(config ...interface{}) (domain.PaymentRepository, error) {
	baseDir, logger, err := parseConfig(config)
	if err != nil {
		return nil, err
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, paymentStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open payment store: %s", err)
	}

	return &paymentRepository{store, &sync.Mutex{}}, nil
}

func (r *paymentRepository) AddPayment(ctx context.Context, payment domain.Payment) error {
	if err := r.store.Insert(payment.Id, payment); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("payment %s already exists", payment.Id)
		}
		return err
	}
	return nil
}

func (r *paymentRepository) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	var payment domain.Payment
	if err := r.store.Get(id, &payment); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) GetPendingPayments(
	ctx context.Context, at time.Time, limit int,
) ([]domain.Payment, error) {
	var payments []domain.Payment
	query := badgerhold.Where("Status").Eq(domain.PaymentPending).
		And("ExpiresAt").Gt(at.Unix())
	if err := r.store.Find(&payments, query); err != nil {
		return nil, err
	}

	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt < payments[j].CreatedAt
	})
	if limit > 0 && len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

func (r *paymentRepository) ConfirmPayment(
	ctx context.Context, id, signature string, at time.Time,
) error {
	r.updateMtx.Lock()
	defer r.updateMtx.Unlock()

	payment, err := r.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	if payment.Status != domain.PaymentPending {
		return domain.ErrConflict
	}
	if err := payment.Confirm(signature, at); err != nil {
		return err
	}
	return r.store.Update(id, *payment)
}

func (r *paymentRepository) ExpirePayments(
	ctx context.Context, at time.Time,
) ([]domain.Payment, error) {
	r.updateMtx.Lock()
	defer r.updateMtx.Unlock()

	var payments []domain.Payment
	query := badgerhold.Where("Status").Eq(domain.PaymentPending).
		And("ExpiresAt").Le(at.Unix())
	if err := r.store.Find(&payments, query); err != nil {
		return nil, err
	}

	expired := make([]domain.Payment, 0, len(payments))
	for _, payment := range payments {
		if err := payment.Expire(at); err != nil {
			continue
		}
		if err := r.store.Update(payment.Id, payment); err != nil {
			return nil, err
		}
		expired = append(expired, payment)
	}
	return expired, nil
}

func (r *paymentRepository) Close() {
	r.store.Close()
}
