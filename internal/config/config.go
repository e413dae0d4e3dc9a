package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

type Config struct {
	Datadir           string
	Port              uint32
	LogLevel          int
	DbType            string
	SchedulerType     string
	ReconcileInterval int64
	PaymentTTL        int64
	RpcUrl            string
	OracleUrl         string
	EscrowProgramId   string
	SettlementMint    string
	AdminToken        string
}

var (
	Datadir           = "DATADIR"
	Port              = "PORT"
	LogLevel          = "LOG_LEVEL"
	DbType            = "DB_TYPE"
	SchedulerType     = "SCHEDULER_TYPE"
	ReconcileInterval = "RECONCILE_INTERVAL"
	PaymentTTL        = "PAYMENT_TTL"
	RpcUrl            = "RPC_URL"
	OracleUrl         = "ORACLE_URL"
	EscrowProgramId   = "ESCROW_PROGRAM_ID"
	SettlementMint    = "SETTLEMENT_MINT"
	AdminToken        = "ADMIN_TOKEN"

	defaultDatadir           = appDataDir("settlerd")
	defaultPort              = 7070
	defaultLogLevel          = 4 // logrus.InfoLevel
	defaultDbType            = "sqlite"
	defaultSchedulerType     = "gocron"
	defaultReconcileInterval = 15
	defaultPaymentTTL        = 3600
	defaultRpcUrl            = "https://api.devnet.solana.com"
	defaultOracleUrl         = "https://api.coingecko.com/api/v3"
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("SETTLER")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(Port, defaultPort)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(DbType, defaultDbType)
	viper.SetDefault(SchedulerType, defaultSchedulerType)
	viper.SetDefault(ReconcileInterval, defaultReconcileInterval)
	viper.SetDefault(PaymentTTL, defaultPaymentTTL)
	viper.SetDefault(RpcUrl, defaultRpcUrl)
	viper.SetDefault(OracleUrl, defaultOracleUrl)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("error while creating datadir: %s", err)
	}

	cfg := &Config{
		Datadir:           viper.GetString(Datadir),
		Port:              viper.GetUint32(Port),
		LogLevel:          viper.GetInt(LogLevel),
		DbType:            viper.GetString(DbType),
		SchedulerType:     viper.GetString(SchedulerType),
		ReconcileInterval: viper.GetInt64(ReconcileInterval),
		PaymentTTL:        viper.GetInt64(PaymentTTL),
		RpcUrl:            viper.GetString(RpcUrl),
		OracleUrl:         viper.GetString(OracleUrl),
		EscrowProgramId:   viper.GetString(EscrowProgramId),
		SettlementMint:    viper.GetString(SettlementMint),
		AdminToken:        viper.GetString(AdminToken),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.EscrowProgramId) <= 0 {
		return fmt.Errorf("missing escrow program id")
	}
	if len(c.SettlementMint) <= 0 {
		return fmt.Errorf("missing settlement mint")
	}
	if len(c.AdminToken) <= 0 {
		return fmt.Errorf("missing admin token")
	}
	if c.ReconcileInterval < 5 {
		return fmt.Errorf("reconcile interval must be at least 5 seconds")
	}
	if c.PaymentTTL <= 0 {
		return fmt.Errorf("payment ttl must be positive")
	}
	return nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

func appDataDir(appName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(home, "."+appName)
}
