// Package app wires the configured backends into an engine. Both binaries
// start from here.
package app

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/socialgraph/internal/cache"
	"github.com/jason-s-yu/socialgraph/internal/config"
	"github.com/jason-s-yu/socialgraph/internal/database"
	"github.com/jason-s-yu/socialgraph/internal/docstore"
	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/jason-s-yu/socialgraph/internal/handlers"
	"github.com/jason-s-yu/socialgraph/internal/memstore"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Backend is a user store that also serves the account endpoints.
type Backend interface {
	friends.Store
	handlers.UserStore
}

// App holds the long-lived collaborators built from a Config.
type App struct {
	Config *config.Config
	Log    *logrus.Logger

	Users  Backend
	Engine *friends.Engine

	// Redis, Outbox and Presence are nil when REDIS_ADDR is unset.
	Redis    *redis.Client
	Outbox   *cache.Outbox
	Presence *cache.Presence

	closers []func()
}

// Open connects the store and, when configured, Redis, and builds the engine.
func Open(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	users, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Users = users

	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.Outbox = cache.NewOutbox(rdb, cfg.ReconcileQueue)
		a.Presence = cache.NewPresence(rdb, cfg.PresenceTTL)
		log.WithField("addr", cfg.RedisAddr).Info("connected to Redis")
	} else {
		log.Warn("REDIS_ADDR not set: partial applies are only logged and presence is disabled")
	}

	opts := []friends.Option{
		friends.WithLogger(log),
		friends.WithStrictRequests(cfg.StrictRequests),
		friends.WithSuggestionWarnSize(cfg.SuggestionWarnSize),
	}
	if a.Outbox != nil {
		opts = append(opts, friends.WithReporter(a.Outbox))
	}
	if cfg.PairLock == "redis" {
		opts = append(opts, friends.WithPairLocker(cache.NewPairLocker(a.Redis, cfg.PairLockTTL)))
	}
	a.Engine = friends.NewEngine(friends.WithTimeout(users, cfg.StoreTimeout), opts...)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (Backend, error) {
	cfg := a.Config
	switch cfg.StoreBackend {
	case "mongo":
		s, err := docstore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = s.Close(context.Background()) })
		return s, nil
	case "postgres":
		connStr := database.ConnString(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDatabase)
		s, err := database.Connect(ctx, connStr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "memory":
		a.Log.Warn("using in-memory store; data is lost on exit")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Close releases every connection in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
