package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ibwt-market/settler/internal/core/domain"
)

const (
	insertDelivery = `
		INSERT INTO webhook_delivery (
			id, merchant_id, payment_id, event_type, payload, status,
			attempts, last_error, created_at, delivered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	selectDelivery = `
		SELECT id, merchant_id, payment_id, event_type, payload, status,
			attempts, last_error, created_at, delivered_at
		FROM webhook_delivery WHERE id = ?
	`
	selectDeliveriesForPayment = `
		SELECT id, merchant_id, payment_id, event_type, payload, status,
			attempts, last_error, created_at, delivered_at
		FROM webhook_delivery WHERE payment_id = ? ORDER BY created_at ASC
	`
	updateDelivery = `
		UPDATE webhook_delivery SET status = ?, attempts = ?, last_error = ?,
			delivered_at = ?
		WHERE id = ?
	`
)

type deliveryRepository struct {
	db *sql.DB
}

func NewWebhookDeliveryRepository(config ...interface{}) (domain.WebhookDeliveryRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("invalid db")
	}
	return &deliveryRepository{db}, nil
}

func (r *deliveryRepository) AddDelivery(ctx context.Context, delivery domain.WebhookDelivery) error {
	_, err := r.db.ExecContext(
		ctx, insertDelivery,
		delivery.Id, delivery.MerchantId, delivery.PaymentId,
		delivery.EventType, delivery.Payload, int(delivery.Status),
		delivery.Attempts, nullString(delivery.LastError), delivery.CreatedAt,
		delivery.DeliveredAt,
	)
	return err
}

func (r *deliveryRepository) GetDelivery(
	ctx context.Context, id string,
) (*domain.WebhookDelivery, error) {
	return scanDelivery(r.db.QueryRowContext(ctx, selectDelivery, id))
}

func (r *deliveryRepository) GetDeliveriesForPayment(
	ctx context.Context, paymentId string,
) ([]domain.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx, selectDeliveriesForPayment, paymentId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries := make([]domain.WebhookDelivery, 0)
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *delivery)
	}
	return deliveries, rows.Err()
}

func (r *deliveryRepository) UpdateDelivery(
	ctx context.Context, id string,
	updateFn func(*domain.WebhookDelivery) (*domain.WebhookDelivery, error),
) error {
	delivery, err := r.GetDelivery(ctx, id)
	if err != nil {
		return err
	}
	updated, err := updateFn(delivery)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(
		ctx, updateDelivery,
		int(updated.Status), updated.Attempts, nullString(updated.LastError),
		updated.DeliveredAt, id,
	)
	return err
}

func (r *deliveryRepository) Close() {
	// the db handle is shared across repositories and closed by the manager
}

func scanDelivery(row rowScanner) (*domain.WebhookDelivery, error) {
	var delivery domain.WebhookDelivery
	var status int
	var lastError sql.NullString

	err := row.Scan(
		&delivery.Id, &delivery.MerchantId, &delivery.PaymentId,
		&delivery.EventType, &delivery.Payload, &status, &delivery.Attempts,
		&lastError, &delivery.CreatedAt, &delivery.DeliveredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	delivery.Status = domain.DeliveryStatus(status)
	delivery.LastError = fromNullString(lastError)
	return &delivery, nil
}
