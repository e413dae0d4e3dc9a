package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ibwt-market/settler/internal/core/domain"
	"github.com/ibwt-market/settler/internal/core/ports"
	badgerdb "github.com/ibwt-market/settler/internal/infrastructure/db/badger"
	sqlitedb "github.com/ibwt-market/settler/internal/infrastructure/db/sqlite"
)

//go:embed sqlite/migration/*.sql
var migrations embed.FS

var (
	taskStoreTypes = map[string]func(...interface{}) (domain.TaskRepository, error){
		"badger": badgerdb.NewTaskRepository,
		"sqlite": sqlitedb.NewTaskRepository,
	}
	paymentStoreTypes = map[string]func(...interface{}) (domain.PaymentRepository, error){
		"badger": badgerdb.NewPaymentRepository,
		"sqlite": sqlitedb.NewPaymentRepository,
	}
	merchantStoreTypes = map[string]func(...interface{}) (domain.MerchantRepository, error){
		"badger": badgerdb.NewMerchantRepository,
		"sqlite": sqlitedb.NewMerchantRepository,
	}
	deliveryStoreTypes = map[string]func(...interface{}) (domain.WebhookDeliveryRepository, error){
		"badger": badgerdb.NewWebhookDeliveryRepository,
		"sqlite": sqlitedb.NewWebhookDeliveryRepository,
	}
)

const (
	sqliteDbFile = "sqlite.db"
)

type ServiceConfig struct {
	DataStoreType   string
	DataStoreConfig []interface{}
}

type service struct {
	taskStore     domain.TaskRepository
	paymentStore  domain.PaymentRepository
	merchantStore domain.MerchantRepository
	deliveryStore domain.WebhookDeliveryRepository

	sqliteDb *sql.DB
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	taskStoreFactory, ok := taskStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	paymentStoreFactory := paymentStoreTypes[config.DataStoreType]
	merchantStoreFactory := merchantStoreTypes[config.DataStoreType]
	deliveryStoreFactory := deliveryStoreTypes[config.DataStoreType]

	storeConfig := config.DataStoreConfig
	var sqliteDb *sql.DB
	if config.DataStoreType == "sqlite" {
		db, err := openAndMigrateSqlite(config.DataStoreConfig)
		if err != nil {
			return nil, err
		}
		sqliteDb = db
		storeConfig = []interface{}{db}
	}

	taskStore, err := taskStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to create task store: %w", err)
	}
	paymentStore, err := paymentStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment store: %w", err)
	}
	merchantStore, err := merchantStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to create merchant store: %w", err)
	}
	deliveryStore, err := deliveryStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook delivery store: %w", err)
	}

	return &service{
		taskStore:     taskStore,
		paymentStore:  paymentStore,
		merchantStore: merchantStore,
		deliveryStore: deliveryStore,
		sqliteDb:      sqliteDb,
	}, nil
}

func (s *service) Tasks() domain.TaskRepository {
	return s.taskStore
}

func (s *service) Payments() domain.PaymentRepository {
	return s.paymentStore
}

func (s *service) Merchants() domain.MerchantRepository {
	return s.merchantStore
}

func (s *service) WebhookDeliveries() domain.WebhookDeliveryRepository {
	return s.deliveryStore
}

func (s *service) Close() {
	s.taskStore.Close()
	s.paymentStore.Close()
	s.merchantStore.Close()
	s.deliveryStore.Close()
	if s.sqliteDb != nil {
		_ = s.sqliteDb.Close()
	}
}

func openAndMigrateSqlite(config []interface{}) (*sql.DB, error) {
	if len(config) < 1 {
		return nil, errors.New("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, errors.New("invalid base directory")
	}

	db, err := sqlitedb.OpenDb(filepath.Join(baseDir, sqliteDbFile))
	if err != nil {
		return nil, err
	}

	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	source, err := iofs.New(migrations, "sqlite/migration")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("failed to migrate up: %w", err)
	}
	return db, nil
}
