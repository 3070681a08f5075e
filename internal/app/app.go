// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"stream-resolver-go/pkg/appctx"
	"stream-resolver-go/pkg/browser"
	"stream-resolver-go/pkg/challenge"
	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/endpoint"
	"stream-resolver-go/pkg/extractors"
	"stream-resolver-go/pkg/flaresolverr"
	"stream-resolver-go/pkg/handlers/api"
	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/registry"
	"stream-resolver-go/pkg/server"
	"stream-resolver-go/pkg/services"
	"stream-resolver-go/pkg/store"
	"stream-resolver-go/pkg/urlutil"
)

// App is the main application container.
type App struct {
	Ctx          *appctx.Context
	Server       *server.Server
	HTTPClient   *httpclient.Client
	Store        interfaces.Store
	ExtractorReg *registry.ExtractorRegistry

	renderers interfaces.RendererFactory
}

// New creates and initializes the application from cfg.
func New(cfg *config.Config) (*App, error) {
	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)
	log.Info("initializing stream resolver", "port", cfg.Port, "log_level", cfg.LogLevel)

	tables, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	ctx := appctx.New(cfg, log)
	httpClient := httpclient.New(cfg, log)

	// Endpoint resolution
	endpoints := endpoint.NewManager(st, httpClient, cfg.RequestTimeout, log)
	for _, t := range tables {
		endpoints.Register(endpoint.DefinitionFromTable(t))
	}
	ctx.WithEndpoints(endpoints)
	log.Info("registered providers", "count", len(tables))

	// Challenge engine
	renderers, err := newRendererFactory(cfg, log)
	if err != nil {
		st.Close()
		return nil, err
	}
	engine := challenge.NewEngine(renderers, challenge.PolicyFromConfig(cfg), log)
	applyProviderPolicies(engine, challenge.PolicyFromConfig(cfg), tables)
	ctx.WithChallenge(engine)

	// Extraction
	extractorReg := registry.NewExtractorRegistry()
	registerExtractors(extractorReg, httpClient, engine, cfg.DrilldownMaxDepth, log)
	// One extraction may fetch every drill-down level and sit through a challenge
	extractTimeout := cfg.ChallengeDeadline + time.Duration(max(cfg.DrilldownMaxDepth, 1))*cfg.RequestTimeout
	extraction := services.NewExtractionService(log, extractorReg, extractTimeout)
	ctx.WithExtraction(extraction, extractorReg)

	srv := server.New(cfg, log)
	handlers := api.NewHandlers(ctx)
	handlers.RegisterRoutes(srv.Router())

	return &App{
		Ctx:          ctx,
		Server:       srv,
		HTTPClient:   httpClient,
		Store:        st,
		ExtractorReg: extractorReg,
		renderers:    renderers,
	}, nil
}

// Run serves the API until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.Ctx.Log.Info("starting stream resolver server", "port", a.Ctx.Config.Port)
	return a.Server.Run(ctx)
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")

	a.Ctx.Endpoints.Wait()
	a.ExtractorReg.Close()

	if c, ok := a.renderers.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.Ctx.Log.Warn("closing renderer backend", "error", err)
		}
	}
	if err := a.Store.Close(); err != nil {
		a.Ctx.Log.Warn("closing store", "error", err)
	}
}

func openStore(cfg *config.Config, log *logging.Logger) (interfaces.Store, error) {
	if cfg.StorePath == "" {
		log.Info("using in-memory store; endpoint state is not persisted")
		return store.NewMemory(), nil
	}
	st, err := store.OpenSQLite(cfg.StorePath, log)
	if err != nil {
		return nil, err
	}
	log.Info("opened store", "path", cfg.StorePath)
	return st, nil
}

func newRendererFactory(cfg *config.Config, log *logging.Logger) (interfaces.RendererFactory, error) {
	switch cfg.ChallengeBackend {
	case config.BackendRod, "":
		return browser.NewFactory(cfg.BrowserBin, cfg.BrowserHeadless, log), nil
	case config.BackendFlareSolverr:
		client := flaresolverr.NewClient(cfg.FlareSolverrURL, cfg.FlareSolverrTimeout, log)
		if !client.IsConfigured() {
			return nil, fmt.Errorf("challenge backend %q needs FLARESOLVERR_URL", cfg.ChallengeBackend)
		}
		log.Info("FlareSolverr backend enabled", "url", cfg.FlareSolverrURL)
		return flaresolverr.NewFactory(client), nil
	default:
		return nil, fmt.Errorf("unknown challenge backend %q", cfg.ChallengeBackend)
	}
}

// applyProviderPolicies installs each provider's challenge overrides for the
// host of its default base address.
func applyProviderPolicies(engine *challenge.Engine, base challenge.Policy, tables []config.ProviderTable) {
	for _, t := range tables {
		if host := urlutil.Hostname(t.BaseURL); host != "" {
			engine.SetHostPolicy(host, base.WithTable(t.Challenge))
		}
	}
}

// registerExtractors registers all URL extractors.
// Add new extractors here by:
// 1. Creating a new extractor in pkg/extractors/
// 2. Registering it below
func registerExtractors(
	reg *registry.ExtractorRegistry,
	client *httpclient.Client,
	challenger extractors.Challenger,
	maxDepth int,
	log *logging.Logger,
) {
	reg.Register(extractors.NewDirectExtractor())
	reg.Register(extractors.NewMixdropExtractor(client, challenger, log))
	reg.Register(extractors.NewStreamtapeExtractor(client, challenger, log))

	// Drill-down search handles every host without a dedicated extractor
	reg.SetFallback(extractors.NewDrilldownExtractor(client, challenger, maxDepth, log))

	log.Info("registered extractors", "count", len(reg.Names()))
}
