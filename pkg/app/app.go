// Package app assembles the datastore, cache, services and router from a
// Config. The server, the CLI and the serverless handler all start here.
package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/wadjakorntonsri/shortlink/pkg/adapters/cache"
	"github.com/wadjakorntonsri/shortlink/pkg/adapters/handler"
	"github.com/wadjakorntonsri/shortlink/pkg/adapters/repository/sqlstore"
	"github.com/wadjakorntonsri/shortlink/pkg/config"
	"github.com/wadjakorntonsri/shortlink/pkg/core/services"
	"github.com/wadjakorntonsri/shortlink/pkg/logging"
)

type App struct {
	Config *config.Config
	Store  *sqlstore.Store
	Repo   *sqlstore.SQLRepository
	Links  *services.LinkService
	Gate   *services.AccessGate
	Clicks *services.ClickRecorder

	cache *cache.RedisCache
}

// New opens the datastore (running its fallback chain) and, when
// REDIS_URL is set, the cache. An unreachable cache is logged and skipped.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver:       cfg.Database.Driver,
		URL:          cfg.Database.URL,
		Fallback:     cfg.Database.Fallback,
		PoolSize:     cfg.Database.PoolSize,
		QueryTimeout: cfg.Database.QueryTimeout,
	})
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Store: store, Repo: sqlstore.NewSQLRepository(store)}

	var opts []services.Option
	if cfg.Cache.RedisURL != "" {
		c, err := cache.Open(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			logging.Warn().Err(err).Msg("redis unavailable, continuing without link cache")
		} else {
			a.cache = c
			opts = append(opts, services.WithCache(c))
			logging.Info().Dur("ttl", cfg.Cache.TTL).Msg("link cache enabled")
		}
	}

	hasher := services.NewPasswordHasher(cfg.Gate.BcryptCost)
	gen := services.NewGenerator(a.Repo, services.GeneratorConfig{
		Length:   cfg.ShortCode.Length,
		Strict:   cfg.ShortCode.Strict,
		Attempts: cfg.ShortCode.Attempts,
	})
	a.Links = services.NewLinkService(a.Repo, gen, hasher, opts...)
	a.Gate = services.NewAccessGate(a.Links, hasher)
	a.Clicks = services.NewClickRecorder(a.Repo, cfg.Gate.ClickTimeout)
	return a, nil
}

func (a *App) Handler() http.Handler {
	return handler.NewRouter(a.Config, a.Links, a.Gate, a.Clicks)
}

// Close releases the cache client and the datastore.
func (a *App) Close() error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
