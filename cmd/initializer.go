package main

import (
	"database/sql"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"posterBack/internal/bridge"
	"posterBack/internal/config"
	"posterBack/internal/handlers"
	"posterBack/internal/repositories"
	"posterBack/internal/services"
)

type application struct {
	errorLog *log.Logger
	infoLog  *log.Logger

	jwtSecret string

	db    *sql.DB
	redis *redis.Client

	bridgeRegistry *bridge.Registry
	hub            *VIPSocketHub

	sessions   *services.SessionManager
	commerce   *services.CommerceService
	catalog    *services.CatalogService
	poller     *services.ConfirmationPoller
	vipHandler *handlers.VIPHandler
	payHandler *handlers.PayHandler

	sessionMaxIdle time.Duration
}

func initializeApp(cfg config.Config, db *sql.DB, rdb *redis.Client, errorLog, infoLog *log.Logger) (*application, error) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	commerce, err := services.NewCommerceService(services.CommerceConfig{
		BaseURL:        cfg.Commerce.BaseURL,
		CheckoutURL:    cfg.Commerce.CheckoutURL,
		CheckoutSecret: cfg.Commerce.CheckoutSecret,
		Logger:         logger.With("op", "commerce"),
	})
	if err != nil {
		return nil, err
	}

	historyRepo := &repositories.PaymentHistoryRepo{DB: db}
	registry := bridge.NewRegistry()
	hub := NewVIPSocketHub(registry, infoLog, errorLog)

	catalog := &services.CatalogService{
		Commerce: commerce,
		Cache:    rdb,
		TTL:      time.Duration(cfg.Redis.CatalogTTL) * time.Second,
		Logger:   logger.With("op", "catalog"),
	}
	poller := &services.ConfirmationPoller{
		Commerce: commerce,
		History:  historyRepo,
		Signals:  hub,
		Logger:   logger.With("op", "confirm"),
	}

	sessions := services.NewSessionManager()
	sessions.Catalog = catalog
	sessions.Orders = &services.OrderService{Commerce: commerce, Logger: logger.With("op", "orders")}
	sessions.Dispatcher = &services.DispatchService{
		Commerce:  commerce,
		Registry:  registry,
		Logger:    logger.With("op", "dispatch"),
		ReturnURL: cfg.Commerce.CheckoutURL,
	}
	sessions.Poller = poller
	sessions.Env = &services.EnvironmentService{Logger: logger.With("op", "environment")}
	sessions.History = historyRepo
	sessions.Logger = logger.With("op", "sessions")

	maxIdle := time.Duration(cfg.Sessions.MaxIdleMinutes) * time.Minute
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}

	app := &application{
		errorLog:       errorLog,
		infoLog:        infoLog,
		jwtSecret:      cfg.JWT.Secret,
		db:             db,
		redis:          rdb,
		bridgeRegistry: registry,
		hub:            hub,
		sessions:       sessions,
		commerce:       commerce,
		catalog:        catalog,
		poller:         poller,
		sessionMaxIdle: maxIdle,
	}

	app.vipHandler = &handlers.VIPHandler{
		Sessions: sessions,
		Catalog:  catalog,
		Bridge:   registry,
		History:  historyRepo,
		Invokers: hub,
	}
	app.payHandler = &handlers.PayHandler{
		Commerce:  commerce,
		Sessions:  sessions,
		ReturnURL: cfg.Commerce.CheckoutURL,
	}
	return app, nil
}
