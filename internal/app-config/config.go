package appconfig

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ibwt-market/settler/internal/core/application"
	"github.com/ibwt-market/settler/internal/core/ports"
	chainrpc "github.com/ibwt-market/settler/internal/infrastructure/chain-rpc/solana"
	"github.com/ibwt-market/settler/internal/infrastructure/db"
	"github.com/ibwt-market/settler/internal/infrastructure/notifier/webhook"
	oracle "github.com/ibwt-market/settler/internal/infrastructure/oracle/coingecko"
	timescheduler "github.com/ibwt-market/settler/internal/infrastructure/scheduler/gocron"
	txbuilder "github.com/ibwt-market/settler/internal/infrastructure/tx-builder/escrow"
)

var (
	supportedDbs = supportedType{
		"badger": {},
		"sqlite": {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
	}
)

type Config struct {
	DbType            string
	DbDir             string
	SchedulerType     string
	ReconcileInterval int64
	PaymentTTL        time.Duration
	RpcUrl            string
	OracleUrl         string
	EscrowProgramId   string
	SettlementMint    string

	repo      ports.RepoManager
	chain     ports.ChainClient
	txBuilder ports.TxBuilder
	rates     ports.RateSource
	scheduler ports.SchedulerService
	notifier  ports.Notifier
	svc       application.Service
}

func (c *Config) Validate() error {
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf("scheduler type not supported, please select one of: %s", supportedSchedulers)
	}
	if c.ReconcileInterval < 5 {
		return fmt.Errorf("invalid reconcile interval, must be at least 5 seconds")
	}
	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.chainService(); err != nil {
		return err
	}
	if err := c.txBuilderService(); err != nil {
		return err
	}
	if err := c.rateService(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	c.notifier = webhook.NewService(c.repo.WebhookDeliveries())
	if err := c.appService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AppService() application.Service {
	return c.svc
}

func (c *Config) repoManager() error {
	var storeConfig []interface{}
	switch c.DbType {
	case "badger":
		storeConfig = []interface{}{c.DbDir, log.New()}
	case "sqlite":
		storeConfig = []interface{}{c.DbDir}
	}

	svc, err := db.NewService(db.ServiceConfig{
		DataStoreType:   c.DbType,
		DataStoreConfig: storeConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) chainService() error {
	svc, err := chainrpc.NewChainClient(c.RpcUrl)
	if err != nil {
		return err
	}

	c.chain = svc
	return nil
}

func (c *Config) txBuilderService() error {
	svc, err := txbuilder.NewTxBuilder(c.chain, c.EscrowProgramId, c.SettlementMint)
	if err != nil {
		return err
	}

	c.txBuilder = svc
	return nil
}

func (c *Config) rateService() error {
	svc, err := oracle.NewRateSource(c.OracleUrl)
	if err != nil {
		return err
	}

	c.rates = svc
	return nil
}

func (c *Config) schedulerService() error {
	c.scheduler = timescheduler.NewScheduler()
	return nil
}

func (c *Config) appService() error {
	svc, err := application.NewService(
		c.ReconcileInterval, c.PaymentTTL, c.repo, c.txBuilder,
		c.chain, c.rates, c.scheduler, c.notifier,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
