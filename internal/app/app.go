// Package app assembles the storage and services shared by the server and
// the ops CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-procurement-cases/internal/common/config"
	"github.com/pesio-ai/be-procurement-cases/internal/common/database"
	"github.com/pesio-ai/be-procurement-cases/internal/common/logger"
	"github.com/pesio-ai/be-procurement-cases/internal/handler"
	"github.com/pesio-ai/be-procurement-cases/internal/notify"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
	"github.com/pesio-ai/be-procurement-cases/internal/repository/memory"
	"github.com/pesio-ai/be-procurement-cases/internal/service"
)

// Storage is an opened store with its health check and release function.
type Storage struct {
	Store  repository.Store
	Health handler.HealthCheck
	Close  func()
}

// OpenStorage opens the configured backend. PostgreSQL pools are migrated
// when migrate is set.
func OpenStorage(ctx context.Context, cfg *config.Config, migrate bool, log *logger.Logger) (*Storage, error) {
	if cfg.Database.Backend == config.BackendMemory {
		log.Warn().Msg("Using in-memory storage, state is lost on exit")
		return &Storage{Store: memory.New(), Close: func() {}}, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")

	if migrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("Database schema applied")
	}

	store := repository.NewPGStore(db)
	return &Storage{Store: store, Health: store.Ping, Close: db.Close}, nil
}

// Services is the full service graph.
type Services struct {
	handler.Services
	Hub *notify.Hub
}

// NewServices wires every service over store. Notifications go to the
// in-process hub and to publisher when it is not nil.
func NewServices(cfg *config.Config, store repository.Store, publisher notify.Publisher, log *logger.Logger) *Services {
	hub := notify.NewHub(notify.DefaultBuffer, log)

	var pub notify.Publisher = hub
	if publisher != nil {
		pub = notify.Fanout{hub, publisher}
	}

	return &Services{
		Hub: hub,
		Services: handler.Services{
			Workflow: service.NewWorkflowService(store, pub, service.WorkflowOptions{
				MinQuotesForReview: cfg.Workflow.MinQuotesForReview,
			}, log),
			Cases:         service.NewCaseQueryService(store, log),
			Suppliers:     service.NewSupplierService(store, log),
			Notifications: service.NewNotificationService(store, hub, log),
			Users: service.NewUserService(store, service.TokenConfig{
				Secret:          []byte(cfg.Auth.JWTSecret),
				Issuer:          cfg.Auth.Issuer,
				TTL:             cfg.Auth.TokenTTL,
				MFAValidityDays: cfg.Workflow.MFAValidityDays,
			}, log),
		},
	}
}

// HealthInterval is how often the storage health check runs.
const HealthInterval = 15 * time.Second
