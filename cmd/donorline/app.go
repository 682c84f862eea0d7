package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/donorline/donorline-go/internal/ipn"
	"github.com/donorline/donorline-go/internal/payment"
	"github.com/donorline/donorline-go/internal/platform/env"
	"github.com/donorline/donorline-go/internal/platform/objectstore"
	"github.com/donorline/donorline-go/internal/platform/postgres"
	"github.com/donorline/donorline-go/internal/query"
	"github.com/donorline/donorline-go/internal/receipt"
	pgrepo "github.com/donorline/donorline-go/internal/repo/postgres"
	"github.com/donorline/donorline-go/internal/service/gateway"
)

const serviceName = "donorline"

const (
	outboxMinIO = "minio"
	outboxLog   = "log"
)

type appConfig struct {
	DefaultCurrency   string
	ReceiptFromEmail  string
	ReceiptOutbox     string
	PaymentConfigPath string
}

func appConfigFromEnv() (appConfig, error) {
	cfg := appConfig{
		DefaultCurrency:   strings.ToUpper(strings.TrimSpace(env.String("DONORLINE_DEFAULT_CURRENCY", "USD"))),
		ReceiptFromEmail:  strings.TrimSpace(env.String("DONORLINE_RECEIPT_FROM_EMAIL", "")),
		ReceiptOutbox:     strings.ToLower(strings.TrimSpace(env.String("DONORLINE_RECEIPT_OUTBOX", outboxMinIO))),
		PaymentConfigPath: payment.ConfigPathFromEnv(),
	}
	return cfg, cfg.Validate()
}

func (c appConfig) Validate() error {
	if len(c.DefaultCurrency) != 3 {
		return fmt.Errorf("DONORLINE_DEFAULT_CURRENCY must be an ISO 4217 code, got %q", c.DefaultCurrency)
	}
	switch c.ReceiptOutbox {
	case outboxMinIO, outboxLog:
	default:
		return fmt.Errorf("DONORLINE_RECEIPT_OUTBOX must be %q or %q, got %q", outboxMinIO, outboxLog, c.ReceiptOutbox)
	}
	return nil
}

// app holds the process-wide collaborators shared by serve and call.
type app struct {
	db       *sql.DB
	gateway  *gateway.Gateway
	store    *minio.Client
	storeCfg objectstore.Config
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func openDatabase(ctx context.Context) (*sql.DB, error) {
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, configErr("database", err)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	return db, nil
}

func openApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	cfg, err := appConfigFromEnv()
	if err != nil {
		return nil, configErr("app", err)
	}
	registry, err := payment.LoadFile(cfg.PaymentConfigPath)
	if err != nil {
		return nil, configErr("payment", err)
	}

	db, err := openDatabase(ctx)
	if err != nil {
		return nil, err
	}
	a := &app{db: db}

	dispatcher, err := a.receiptDispatcher(ctx, logger, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	composer, err := receipt.NewComposer()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("receipt templates: %w", err)
	}

	a.gateway, err = gateway.New(gateway.Deps{
		Contributions:    pgrepo.NewContributionStore(db),
		Query:            pgrepo.NewQueryStore(db),
		Builder:          query.NewBuilder(query.ContributionTable(), query.RelationshipTable()),
		Relations:        pgrepo.NewRelationStore(db),
		Transactor:       pgrepo.NewTransactor(db),
		Audit:            pgrepo.NewAuditStore(db),
		Payments:         payment.NewProcessors(registry),
		Completer:        ipn.NewCompleter(),
		Composer:         composer,
		Dispatcher:       dispatcher,
		Logger:           logger,
		DefaultCurrency:  cfg.DefaultCurrency,
		ReceiptFromEmail: cfg.ReceiptFromEmail,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) receiptDispatcher(ctx context.Context, logger *slog.Logger, cfg appConfig) (receipt.Dispatcher, error) {
	if cfg.ReceiptOutbox == outboxLog {
		return receipt.LogDispatcher{Logger: logger}, nil
	}
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, configErr("object store", err)
	}
	client, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		return nil, configErr("object store", err)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := objectstore.EnsureBucket(startupCtx, client, storeCfg); err != nil {
		return nil, fmt.Errorf("object store unavailable: %w", err)
	}
	a.store, a.storeCfg = client, storeCfg
	return receipt.NewObjectStoreOutbox(client, storeCfg.BucketReceipts, logger), nil
}

var errNoObjectStore = errors.New("object store not configured")

func (a *app) checkObjectStore(ctx context.Context) error {
	if a.store == nil {
		return errNoObjectStore
	}
	return objectstore.CheckBucket(ctx, a.store, a.storeCfg)
}
