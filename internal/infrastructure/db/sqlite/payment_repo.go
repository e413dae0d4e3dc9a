package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ibwt-market/settler/internal/core/domain"
)

const (
	insertPayment = `
		INSERT INTO payment (
			id, merchant_id, fiat_amount, fiat_currency, lamports, recipient,
			payment_uri, memo, signature, status, metadata, created_at,
			expires_at, confirmed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	selectPayment = `
		SELECT id, merchant_id, fiat_amount, fiat_currency, lamports,
			recipient, payment_uri, memo, signature, status, metadata,
			created_at, expires_at, confirmed_at
		FROM payment WHERE id = ?
	`
	selectPendingPayments = `
		SELECT id, merchant_id, fiat_amount, fiat_currency, lamports,
			recipient, payment_uri, memo, signature, status, metadata,
			created_at, expires_at, confirmed_at
		FROM payment WHERE status = ? AND expires_at > ?
		ORDER BY created_at ASC LIMIT ?
	`
	// the status guard confirms a payment exactly once under concurrent
	// reconcile passes
	confirmPayment = `
		UPDATE payment SET status = ?, signature = ?, confirmed_at = ?
		WHERE id = ? AND status = ?
	`
	selectExpiredPayments = `
		SELECT id FROM payment WHERE status = ? AND expires_at <= ?
	`
	expirePayment = `
		UPDATE payment SET status = ? WHERE id = ? AND status = ?
	`
)

type paymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(config ...interface{}) (domain.PaymentRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("invalid db")
	}
	return &paymentRepository{db}, nil
}

func (r *paymentRepository) AddPayment(ctx context.Context, payment domain.Payment) error {
	metadata, err := encodeMetadata(payment.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(
		ctx, insertPayment,
		payment.Id, payment.MerchantId, payment.FiatAmount.String(),
		payment.FiatCurrency, payment.Lamports, payment.Recipient,
		payment.PaymentURI, payment.Memo, nullString(payment.Signature),
		int(payment.Status), metadata, payment.CreatedAt, payment.ExpiresAt,
		payment.ConfirmedAt,
	)
	return err
}

func (r *paymentRepository) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx, selectPayment, id)
	return scanPayment(row)
}

func (r *paymentRepository) GetPendingPayments(
	ctx context.Context, at time.Time, limit int,
) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(
		ctx, selectPendingPayments, int(domain.PaymentPending), at.Unix(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}

func (r *paymentRepository) ConfirmPayment(
	ctx context.Context, id, signature string, at time.Time,
) error {
	res, err := r.db.ExecContext(
		ctx, confirmPayment,
		int(domain.PaymentConfirmed), nullString(signature), at.Unix(),
		id, int(domain.PaymentPending),
	)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count <= 0 {
		if _, err := r.GetPayment(ctx, id); err != nil {
			return err
		}
		return domain.ErrConflict
	}
	return nil
}

func (r *paymentRepository) ExpirePayments(
	ctx context.Context, at time.Time,
) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(
		ctx, selectExpiredPayments, int(domain.PaymentPending), at.Unix(),
	)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	expired := make([]domain.Payment, 0, len(ids))
	for _, id := range ids {
		res, err := r.db.ExecContext(
			ctx, expirePayment,
			int(domain.PaymentExpired), id, int(domain.PaymentPending),
		)
		if err != nil {
			return nil, err
		}
		count, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		// a concurrent confirmation won the race, leave the payment alone
		if count <= 0 {
			continue
		}
		payment, err := r.GetPayment(ctx, id)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *payment)
	}
	return expired, nil
}

func (r *paymentRepository) Close() {
	// the db handle is shared across repositories and closed by the manager
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var payment domain.Payment
	var fiatAmount string
	var status int
	var signature, metadata sql.NullString

	err := row.Scan(
		&payment.Id, &payment.MerchantId, &fiatAmount, &payment.FiatCurrency,
		&payment.Lamports, &payment.Recipient, &payment.PaymentURI,
		&payment.Memo, &signature, &status, &metadata, &payment.CreatedAt,
		&payment.ExpiresAt, &payment.ConfirmedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	amount, err := decimal.NewFromString(fiatAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %s: %s", fiatAmount, err)
	}
	payment.FiatAmount = amount
	payment.Signature = fromNullString(signature)
	payment.Status = domain.PaymentStatus(status)
	payment.Metadata, err = decodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
