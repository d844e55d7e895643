// Package app assembles the long-lived services shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/welnecker/roleplay/backend/internal/analysis/rules"
	"github.com/welnecker/roleplay/backend/internal/analysis/scene"
	"github.com/welnecker/roleplay/backend/internal/config"
	"github.com/welnecker/roleplay/backend/internal/model/persona"
	canonService "github.com/welnecker/roleplay/backend/internal/service/canon"
	chatService "github.com/welnecker/roleplay/backend/internal/service/chat"
	"github.com/welnecker/roleplay/backend/internal/service/provider"
	"github.com/welnecker/roleplay/backend/internal/service/session"
	"github.com/welnecker/roleplay/backend/internal/store"
)

// App holds every service of a running process.
type App struct {
	Personas *persona.Registry
	Store    *store.GormStore
	Locker   session.Locker
	Scenes   *scene.Table
	Rules    *rules.Set
	Canon    *canonService.Service
	Router   *provider.Router
	Chat     *chatService.Service

	closers []func() error
}

// OpenStore opens the configured database and migrates it.
func OpenStore(cfg config.StoreConfig, logger *zap.Logger) (*store.GormStore, func() error, error) {
	db, err := store.Open(store.Config{Driver: cfg.Driver, DSN: cfg.DSN}, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return store.NewGormStore(db), sqlDB.Close, nil
}

// NewLocker picks the per-identity lock backend.
func NewLocker(ctx context.Context, cfg config.LockConfig, logger *zap.Logger) (session.Locker, func() error, error) {
	if cfg.Backend != "redis" {
		return session.NewKeyedMutex(), func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("%w: %w", session.ErrLockUnavailable, err)
	}
	return session.NewRedisLocker(client, session.RedisOptions{}, logger), client.Close, nil
}

// NewProviders registers every provider and builds the strict router. The
// HTTP providers are always registered; without a key their calls fail.
func NewProviders(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*provider.Router, error) {
	providers := []provider.Provider{
		provider.NewOpenRouter(provider.HTTPConfig{
			BaseURL:     cfg.OpenRouter.BaseURL,
			APIKey:      cfg.OpenRouter.Token,
			SiteURL:     cfg.OpenRouter.SiteURL,
			AppName:     cfg.OpenRouter.AppName,
			MaxAttempts: cfg.Retries,
		}, logger),
		provider.NewTogether(provider.HTTPConfig{
			BaseURL:     cfg.Together.BaseURL,
			APIKey:      cfg.Together.APIKey,
			MaxAttempts: cfg.Retries,
		}, logger),
	}

	arkCfg := provider.ArkConfig{
		APIKey:    cfg.Ark.APIKey,
		AccessKey: cfg.Ark.AccessKey,
		SecretKey: cfg.Ark.SecretKey,
		Model:     cfg.Ark.Model,
		BaseURL:   cfg.Ark.BaseURL,
		Region:    cfg.Ark.Region,
	}
	if arkCfg.Enabled() {
		ark, err := provider.NewArk(ctx, arkCfg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, ark)
	} else {
		logger.Info("ark credentials not configured, provider disabled")
	}

	return provider.NewRouter(provider.RouterConfig{
		DefaultProvider: cfg.DefaultProvider,
		DefaultModel:    cfg.DefaultModel,
		CallTimeout:     cfg.CallTimeout,
	}, logger, providers...)
}

// New builds the store, the lock, the rule tables, the providers and the
// pipeline. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Personas: persona.NewRegistry(persona.Seed())}
	fail := func(err error) (*App, error) {
		return nil, errors.Join(err, a.Close())
	}

	var err error
	if a.Rules, err = rules.Load(cfg.Pipeline.RulesFile); err != nil {
		return nil, err
	}
	if a.Scenes, err = scene.Load(cfg.Pipeline.ScenesFile); err != nil {
		return nil, err
	}

	st, closeStore, err := OpenStore(cfg.Store, logger)
	if err != nil {
		return fail(err)
	}
	a.Store = st
	a.closers = append(a.closers, closeStore)

	locker, closeLocker, err := NewLocker(ctx, cfg.Lock, logger)
	if err != nil {
		return fail(err)
	}
	a.Locker = locker
	a.closers = append(a.closers, closeLocker)

	if a.Router, err = NewProviders(ctx, cfg.AI, logger); err != nil {
		return fail(err)
	}

	a.Canon = canonService.NewService(a.Store, a.Scenes, logger)
	a.Chat, err = chatService.NewService(chatService.Dependencies{
		Store:    a.Store,
		Personas: a.Personas,
		Router:   a.Router,
		Locker:   a.Locker,
		Rules:    a.Rules,
		Scenes:   a.Scenes,
		Logger:   logger,
	}, chatService.Config{
		Params: provider.Params{
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
			TopP:        cfg.AI.TopP,
		},
		HistoryBudget:      cfg.Pipeline.HistoryBudget,
		ParagraphSentences: cfg.Pipeline.ParagraphSentences,
		ScenePolicy:        chatService.ScenePolicy(cfg.Pipeline.ScenePolicy),
	})
	if err != nil {
		return fail(err)
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
