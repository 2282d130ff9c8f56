package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"convo-chat/internal/config"
	"convo-chat/internal/history"
	"convo-chat/internal/identity"
	"convo-chat/internal/logging"
	"convo-chat/internal/registry"
	"convo-chat/internal/storage"
)

// app holds what every subcommand needs: config, logger, the history store
// and the conversation registry.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	store      storage.Store
	identities *identity.Service
	registry   *registry.Registry
}

func bootstrap(ctx context.Context) (*app, error) {
	envErr := godotenv.Load(".env")

	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	if envErr != nil {
		log.Debug(".env file not loaded", zap.Error(envErr))
	}

	store, users, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	identities := identity.NewService(users, cfg.DefaultUserName)
	if u, err := identities.Seed(ctx); err == nil {
		log.Info("default identity ready", zap.Int64("user_id", u.ID), zap.String("name", u.Name))
	} else if !errors.Is(err, identity.ErrNotFound) {
		log.Warn("failed to seed default identity", zap.Error(err))
	}

	return &app{
		cfg:        cfg,
		log:        log,
		store:      store,
		identities: identities,
		registry:   registry.New(store, identities, log.Named("registry")),
	}, nil
}

// openStore picks the history store for cfg.StoreDriver. Identities live in
// the same sqlite database when there is one, in a JSON file otherwise.
func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, identity.Repository, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := storage.NewSQLiteStore(cfg.DatabasePath, log.Named("sqlite"))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Users(), nil
	case config.DriverBolt:
		s, err := storage.NewBoltStore(cfg.BoltPath, log.Named("bolt"))
		if err != nil {
			return nil, nil, err
		}
		users, err := identity.NewFileRepository(cfg.UsersFilePath)
		if err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, users, nil
	case config.DriverMemory:
		users, err := identity.NewFileRepository(cfg.UsersFilePath)
		if err != nil {
			return nil, nil, err
		}
		log.Warn("using in-memory history store, conversations are lost on exit")
		return history.NewManager(), users, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver: %s", cfg.StoreDriver)
	}
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("failed to close history store", zap.Error(err))
	}
	_ = a.log.Sync()
}
