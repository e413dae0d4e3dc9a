package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ibwt-market/settler/internal/core/domain"
)

const deliveryStoreDir = "webhook-deliveries"

type deliveryRepository struct {
	store     *badgerhold.Store
	updateMtx *sync.Mutex
}

func NewWebhookDeliveryRepository(config ...interface{}) (domain.WebhookDeliveryRepository, error) {
	baseDir, logger, err := parseConfig(config)
	if err != nil {
		return nil, err
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, deliveryStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open webhook delivery store: %s", err)
	}

	return &deliveryRepository{store, &sync.Mutex{}}, nil
}

func (r *deliveryRepository) AddDelivery(ctx context.Context, delivery domain.WebhookDelivery) error {
	if err := r.store.Insert(delivery.Id, delivery); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("delivery %s already exists", delivery.Id)
		}
		return err
	}
	return nil
}

func (r *deliveryRepository) GetDelivery(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	var delivery domain.WebhookDelivery
	if err := r.store.Get(id, &delivery); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &delivery, nil
}

func (r *deliveryRepository) GetDeliveriesForPayment(
	ctx context.Context, paymentId string,
) ([]domain.WebhookDelivery, error) {
	var deliveries []domain.WebhookDelivery
	query := badgerhold.Where("PaymentId").Eq(paymentId)
	if err := r.store.Find(&deliveries, query); err != nil {
		return nil, err
	}
	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].CreatedAt < deliveries[j].CreatedAt
	})
	return deliveries, nil
}

func (r *deliveryRepository) UpdateDelivery(
	ctx context.Context, id string,
	updateFn func(*domain.WebhookDelivery) (*domain.WebhookDelivery, error),
) error {
	r.updateMtx.Lock()
	defer r.updateMtx.Unlock()

	delivery, err := r.GetDelivery(ctx, id)
	if err != nil {
		return err
	}
	updated, err := updateFn(delivery)
	if err != nil {
		return err
	}
	return r.store.Update(id, *updated)
}

func (r *deliveryRepository) Close() {
	r.store.Close()
}
