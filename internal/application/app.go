// Package application wires the configured collaborators — LLM providers,
// the sandbox pool, persistence, and observability hooks — into a ready
// Engine and HTTP server.
package application

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm"
	_ "github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm/anthropic"
	_ "github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm/gemini"
	_ "github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm/openai"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/monitoring"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/persistence"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/sandbox"
	httpiface "github.com/ngoclaw/ngoclaw/gateway/internal/interfaces/http"
)

// App owns every long-lived collaborator the gateway needs: the engine,
// its sandbox pool, and the HTTP surface in front of it.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	pool       *sandbox.Pool
	poolPort   *sandbox.PoolPort
	traceStore *persistence.TraceStore
	docStore   *persistence.DocumentStore
	engine     *service.Engine
	httpServer *httpiface.Server
}

// NewApp constructs the engine and HTTP server from configuration. LLM
// providers are registered from cfg.LLM.Providers; at least one must
// support whichever model a query names.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	router := llm.NewRouter(logger)
	for _, p := range cfg.LLM.Providers {
		provider, err := llm.CreateProvider(llm.ProviderConfig{
			Name:     p.Name,
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			Models:   p.Models,
			Priority: p.Priority,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("configure llm provider %q: %w", p.Name, err)
		}
		router.AddProvider(provider)
	}

	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	traceStore := persistence.NewTraceStore(db, logger)
	docStore := persistence.NewDocumentStore(db)

	sandboxCfg := &sandbox.Config{
		SandboxBinary:  cfg.Sandbox.Binary,
		WorkDir:        cfg.Sandbox.WorkDir,
		ExecTimeout:    cfg.Sandbox.ExecTimeout,
		MaxFrameBytes:  cfg.Sandbox.MaxFrameBytes,
		MaxOutputChars: cfg.Sandbox.MaxOutputChars,
	}
	pool := sandbox.NewPool(sandboxCfg, cfg.Sandbox.PoolSize, logger)
	poolPort := sandbox.NewPoolPort(pool, logger)

	monitor := monitoring.NewMonitor(logger)
	hooks := service.NewHookChain(monitoring.NewMetricsHook(monitor), &service.LoggingHook{})

	engineCfg := service.EngineConfig{
		Model:               cfg.Engine.DriverModel,
		SubModel:            cfg.Engine.SubModel,
		Temperature:         cfg.Engine.Temperature,
		MaxRetries:          cfg.Engine.MaxRetries,
		RetryBaseWait:       cfg.Engine.RetryBaseWait,
		MaxTokenBudget:      cfg.Engine.MaxTokenBudget,
		MaxRunDuration:      cfg.Engine.MaxRunDuration,
		ContextMaxTokens:    cfg.Engine.ContextMaxTokens,
		ContextWarnRatio:    cfg.Engine.ContextWarnRatio,
		ContextHardRatio:    cfg.Engine.ContextHardRatio,
		LoopWindowSize:      cfg.Engine.LoopWindowSize,
		LoopDetectThreshold: cfg.Engine.LoopDetectThreshold,
	}

	engine := service.NewEngine(router, router, poolPort, traceStore, hooks, engineCfg, logger)

	httpServer := httpiface.NewServer(httpiface.Config{
		Host: cfg.Gateway.Host,
		Port: cfg.Gateway.Port,
		Mode: cfg.Gateway.Mode,
	}, engine, logger)

	return &App{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		poolPort:   poolPort,
		traceStore: traceStore,
		docStore:   docStore,
		engine:     engine,
		httpServer: httpServer,
	}, nil
}

// Engine exposes the wired engine for one-shot CLI queries.
func (a *App) Engine() *service.Engine { return a.engine }

// Start begins serving HTTP traffic.
func (a *App) Start(ctx context.Context) error {
	return a.httpServer.Start(ctx)
}

// Stop shuts down the HTTP server and drains the sandbox pool.
func (a *App) Stop(ctx context.Context) error {
	err := a.httpServer.Stop(ctx)
	a.pool.Stop()
	return err
}
