package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	appconfig "github.com/ibwt-market/settler/internal/app-config"
	"github.com/ibwt-market/settler/internal/config"
	"github.com/ibwt-market/settler/internal/interface/web"
)

//nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	appConfig := &appconfig.Config{
		DbType:            cfg.DbType,
		DbDir:             cfg.Datadir,
		SchedulerType:     cfg.SchedulerType,
		ReconcileInterval: cfg.ReconcileInterval,
		PaymentTTL:        time.Duration(cfg.PaymentTTL) * time.Second,
		RpcUrl:            cfg.RpcUrl,
		OracleUrl:         cfg.OracleUrl,
		EscrowProgramId:   cfg.EscrowProgramId,
		SettlementMint:    cfg.SettlementMint,
	}
	if err := appConfig.Validate(); err != nil {
		log.WithError(err).Fatal("invalid app config")
	}

	appSvc := appConfig.AppService()
	webSvc, err := web.NewService(cfg.Port, cfg.AdminToken, appSvc)
	if err != nil {
		log.Fatal(err)
	}

	log.RegisterExitHandler(func() {
		webSvc.Stop()
		appSvc.Stop()
	})

	log.Info("starting service...")
	if err := appSvc.Start(); err != nil {
		log.Fatal(err)
	}
	if err := webSvc.Start(); err != nil {
		log.Fatal(err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)
}
