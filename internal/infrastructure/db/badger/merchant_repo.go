package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ibwt-market/settler/internal/core/domain"
)

const merchantStoreDir = "merchants"

type merchantRepository struct {
	store *badgerhold.Store
}

func NewMerchantRepository(config ...interface{}) (domain.MerchantRepository, error) {
	baseDir, logger, err := parseConfig(config)
	if err != nil {
		return nil, err
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, merchantStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open merchant store: %s", err)
	}

	return &merchantRepository{store}, nil
}

func (r *merchantRepository) AddMerchant(ctx context.Context, merchant domain.Merchant) error {
	if err := r.store.Insert(merchant.Id, merchant); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("merchant %s already exists", merchant.Id)
		}
		return err
	}
	return nil
}

func (r *merchantRepository) GetMerchant(ctx context.Context, id string) (*domain.Merchant, error) {
	var merchant domain.Merchant
	if err := r.store.Get(id, &merchant); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &merchant, nil
}

func (r *merchantRepository) GetMerchantByApiKey(
	ctx context.Context, apiKey string,
) (*domain.Merchant, error) {
	var merchants []domain.Merchant
	query := badgerhold.Where("ApiKey").Eq(apiKey)
	if err := r.store.Find(&merchants, query); err != nil {
		return nil, err
	}
	if len(merchants) <= 0 {
		return nil, domain.ErrNotFound
	}
	return &merchants[0], nil
}

func (r *merchantRepository) Close() {
	r.store.Close()
}
