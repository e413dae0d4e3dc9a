package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ibwt-market/settler/internal/core/domain"
)

const (
	insertMerchant = `
		INSERT INTO merchant (
			id, wallet, name, api_key, webhook_url, webhook_secret, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	selectMerchant = `
		SELECT id, wallet, name, api_key, webhook_url, webhook_secret, created_at
		FROM merchant WHERE id = ?
	`
	selectMerchantByApiKey = `
		SELECT id, wallet, name, api_key, webhook_url, webhook_secret, created_at
		FROM merchant WHERE api_key = ?
	`
)

type merchantRepository struct {
	db *sql.DB
}

func NewMerchantRepository(config ...interface{}) (domain.MerchantRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("invalid db")
	}
	return &merchantRepository{db}, nil
}

func (r *merchantRepository) AddMerchant(ctx context.Context, merchant domain.Merchant) error {
	_, err := r.db.ExecContext(
		ctx, insertMerchant,
		merchant.Id, merchant.Wallet, merchant.Name, merchant.ApiKey,
		nullString(merchant.WebhookURL), nullString(merchant.WebhookSecret),
		merchant.CreatedAt,
	)
	return err
}

func (r *merchantRepository) GetMerchant(ctx context.Context, id string) (*domain.Merchant, error) {
	return scanMerchant(r.db.QueryRowContext(ctx, selectMerchant, id))
}

func (r *merchantRepository) GetMerchantByApiKey(
	ctx context.Context, apiKey string,
) (*domain.Merchant, error) {
	return scanMerchant(r.db.QueryRowContext(ctx, selectMerchantByApiKey, apiKey))
}

func (r *merchantRepository) Close() {
	// the db handle is shared across repositories and closed by the manager
}

func scanMerchant(row rowScanner) (*domain.Merchant, error) {
	var merchant domain.Merchant
	var webhookURL, webhookSecret sql.NullString

	err := row.Scan(
		&merchant.Id, &merchant.Wallet, &merchant.Name, &merchant.ApiKey,
		&webhookURL, &webhookSecret, &merchant.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	merchant.WebhookURL = fromNullString(webhookURL)
	merchant.WebhookSecret = fromNullString(webhookSecret)
	return &merchant, nil
}
