// Package app assembles the engine's components from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/aimerfeng/docagent/internal/agent"
	"github.com/aimerfeng/docagent/internal/cache"
	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/database"
	"github.com/aimerfeng/docagent/internal/embedding"
	"github.com/aimerfeng/docagent/internal/ingestion"
	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/aimerfeng/docagent/internal/search"
	"github.com/aimerfeng/docagent/internal/server"
	"github.com/aimerfeng/docagent/internal/sqlsandbox"
	"github.com/aimerfeng/docagent/internal/store"
	"github.com/aimerfeng/docagent/internal/websearch"
	"github.com/rs/zerolog/log"
)

// App holds the wired components
type App struct {
	Config *config.Config

	DB    *database.DB
	Redis *cache.Redis

	LLM      *llm.Client
	Active   *llm.ActiveModel
	Embedder *embedding.Client

	Documents *store.DocumentStore
	Threads   *store.ThreadStore

	Retriever    *search.Retriever
	Sandbox      *sqlsandbox.Sandbox
	Web          *websearch.Client
	Orchestrator *agent.Orchestrator
	Ingestion    *ingestion.Service
	Limiter      *cache.RateLimiter
}

// New connects to Postgres (and Redis when enabled) and builds every component
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(cfg.Database.URL); err != nil {
			return nil, err
		}
	}

	db, err := database.New(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &App{Config: cfg, DB: db}

	if cfg.Redis.Enabled {
		r, err := cache.NewFromURL(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, continuing without rate limits or model persistence")
		} else {
			a.Redis = r
		}
	}

	a.LLM = llm.NewClient(&cfg.Model)
	a.Active = llm.NewActiveModel(cfg.Model.LLMModel)
	if a.Redis != nil {
		a.Active.WithRedis(a.Redis.Client)
		if err := a.Active.Restore(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to restore active model")
		}
		a.Limiter = cache.NewRateLimiter(a.Redis, "chat", &cfg.RateLimit)
	}
	if a.Active.Snapshot().ID == "" {
		a.pickLoadedModel(ctx)
	}

	a.Embedder = embedding.NewClient(a.LLM, &cfg.Model, &cfg.Ingestion)
	a.Documents = store.NewDocumentStore(db.Pool)
	a.Threads = store.NewThreadStore(db.Pool)

	a.Retriever = search.NewRetriever(a.Documents, a.Embedder, search.NewReranker(a.LLM, &cfg.Retrieval), &cfg.Retrieval)
	a.Sandbox = sqlsandbox.New(db.Pool, &cfg.SQL)
	a.Web = websearch.NewClient(cfg.WebSearch)

	a.Orchestrator = agent.NewOrchestrator(agent.Deps{
		Model:    a.LLM,
		Threads:  a.Threads,
		Searcher: a.Retriever,
		SQL:      a.Sandbox,
		SubAgent: agent.NewSubAgent(a.LLM, a.Documents, a.Retriever, &cfg.Agent),
		Web:      a.Web,
		Active:   a.Active,
		Tokens:   llm.NewTokenCounter(),
	}, &cfg.Agent)

	blobs, err := ingestion.NewLocalStorage(cfg.Ingestion.StorageDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ingestion = ingestion.NewService(ingestion.Deps{
		Store:     a.Documents,
		Blobs:     blobs,
		Parser:    ingestion.NewParser(cfg.Ingestion.DoclingURL),
		Embedder:  a.Embedder,
		Completer: a.LLM,
		Active:    a.Active,
	}, &cfg.Ingestion)

	return a, nil
}

// pickLoadedModel selects the first loaded generation model when none is configured
func (a *App) pickLoadedModel(ctx context.Context) {
	catalog, err := a.LLM.ListModels(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("No LLM_MODEL configured and the model catalog is unavailable")
		return
	}
	for _, m := range catalog {
		if m.IsLoaded() && !m.IsEmbedding() {
			a.Active.Set(ctx, m.ID)
			return
		}
	}
	log.Warn().Msg("No LLM_MODEL configured and no generation model is loaded")
}

// ServerDeps exposes the components the HTTP routes need
func (a *App) ServerDeps() server.Deps {
	deps := server.Deps{
		DB:        a.DB,
		Threads:   a.Threads,
		Chat:      a.Orchestrator,
		Documents: a.Ingestion,
		Models:    a.LLM,
		Active:    a.Active,
	}
	if a.Limiter != nil {
		deps.Limiter = a.Limiter
	}
	return deps
}

// Close releases connections
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
