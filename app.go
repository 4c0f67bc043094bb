package tldwchat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/models/tldw"
	"github.com/Desarso/tldwchat/providers"
	"github.com/Desarso/tldwchat/scheduler"
	"github.com/Desarso/tldwchat/server"
	"github.com/Desarso/tldwchat/sessions"
	"github.com/Desarso/tldwchat/settings"
	"github.com/Desarso/tldwchat/stores"
	"github.com/Desarso/tldwchat/websearch"
)

// App is the assembled application.
type App struct {
	Config    *Config
	Logger    *zap.Logger
	Store     stores.Store
	Settings  settings.Repository
	Client    *tldw.Client
	Resolver  *Resolver
	Session   *sessions.ChatSession
	Scheduler *scheduler.Scheduler
	Health    *scheduler.HealthMonitor
	Models    *scheduler.ModelCache
}

// NewApp opens the store and builds the session with every context
// provider. Background jobs are not started; see StartJobs.
func NewApp(ctx context.Context, cfg *Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := tldw.NewClient(cfg.TLDW, logger)
	if err != nil {
		return nil, err
	}
	store, err := stores.NewStore(&cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	repo := settings.NewStoreRepository(store)
	if err := seedReveal(ctx, repo, cfg); err != nil {
		_ = store.Close()
		return nil, err
	}

	fetcher := websearch.NewFetcher(cfg.FetchTimeout)
	searchers := []websearch.Searcher{websearch.NewDuckDuckGo()}
	if cfg.BraveAPIKey != "" {
		searchers = append(searchers, websearch.NewBrave(cfg.BraveAPIKey))
	}
	web := providers.NewWeb(repo, fetcher, logger, searchers...)
	normal := providers.NewNone(client, repo, logger)

	resolver := &Resolver{Client: client, GeminiAPIKey: cfg.GeminiAPIKey}
	session := sessions.NewChatSession(sessions.Deps{
		Store:    store,
		Settings: repo,
		Models:   resolver,
		Providers: sessions.Providers{
			Normal:   normal,
			RAG:      providers.NewRAG(client, repo, logger),
			Document: providers.NewDocument(client, repo, web, logger),
			Search:   web,
			Tab:      providers.NewTab(fetcher, repo, logger),
			Vision:   providers.NewVision(repo),
			Preset:   providers.NewPreset(repo),
		},
		Logger: logger,
	})

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Settings:  repo,
		Client:    client,
		Resolver:  resolver,
		Session:   session,
		Scheduler: scheduler.New(logger),
		Health:    scheduler.NewHealthMonitor(client, logger),
		Models:    scheduler.NewModelCache(client, logger),
	}, nil
}

// seedReveal stores the configured reveal cadence unless the user already
// chose one.
func seedReveal(ctx context.Context, repo settings.Repository, cfg *Config) error {
	_, ok, err := repo.Get(ctx, settings.StreamReveal.Name)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return settings.Set(ctx, repo, settings.StreamReveal, cfg.Reveal)
}

// StartJobs registers the health check and model refresh and starts the
// scheduler.
func (a *App) StartJobs(ctx context.Context) error {
	if err := scheduler.Jobs(ctx, a.Scheduler, a.Health, a.Models); err != nil {
		return err
	}
	a.Scheduler.Start()
	return nil
}

// Server returns the HTTP server for the app's session.
func (a *App) Server() *server.Server {
	return server.New(a.Session, a.Store, a.Settings, a.Health, a.Models, a.Logger)
}

// Close stops background work and closes the store.
func (a *App) Close() error {
	a.Session.Close()
	a.Scheduler.Stop()
	return a.Store.Close()
}
