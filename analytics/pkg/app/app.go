// Package app wires the chart service from process configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jonboulle/clockwork"

	"github.com/altocentral/backend/analytics/pkg/agent/react"
	"github.com/altocentral/backend/analytics/pkg/config"
	"github.com/altocentral/backend/analytics/pkg/service"
	"github.com/altocentral/backend/analytics/pkg/templates"
	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

// App is a fully wired service plus the resources it owns.
type App struct {
	Service *service.Service
	Catalog *templates.Catalog
	Sites   *config.Registry

	closers []func()
}

// Build opens the stores named by env and assembles the service. A missing
// sites file is tolerated unless the timescale backend needs it.
func Build(ctx context.Context, log *slog.Logger, env *config.Env) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	sitesPath, err := config.FindSitesFile(env.SitesPath)
	switch {
	case err == nil:
		if a.Sites, err = config.LoadSites(sitesPath); err != nil {
			return nil, err
		}
		log.Debug("app: loaded sites", "path", sitesPath, "count", len(a.Sites.Sites()))
	case errors.Is(err, config.ErrNoSitesFile):
		log.Warn("app: no sites file found, site names and time zones are unavailable")
		a.Sites, _ = config.ParseSites(nil)
		if env.Backend == config.BackendTimescale {
			return nil, fmt.Errorf("timescale backend: %w", err)
		}
	default:
		return nil, err
	}

	stores, closeStores, err := config.OpenStores(ctx, log, env, a.Sites)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s stores: %w", env.Backend, err)
	}
	a.closers = append(a.closers, closeStores)

	clock := clockwork.NewRealClock()
	acq, err := timeseries.NewAcquirer(&timeseries.AcquirerConfig{
		Logger: log,
		Stores: stores,
		Clock:  clock,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, acq.Close)

	tmplStore, err := config.OpenTemplateStore(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("failed to open template store: %w", err)
	}
	if a.Catalog, err = templates.NewCatalog(&templates.CatalogConfig{
		Logger: log,
		Store:  tmplStore,
		Clock:  clock,
	}); err != nil {
		return nil, err
	}

	cfg := &service.Config{
		Logger:        log,
		Acquirer:      acq,
		Catalog:       a.Catalog,
		Clock:         clock,
		Sites:         a.Sites,
		MaxIterations: env.MaxIterations,
		Budget:        env.Budget,
	}
	if env.AIEnabled() {
		llm, err := react.NewAnthropicAgent(&react.AnthropicConfig{
			Logger: log,
			Client: anthropic.NewClient(option.WithAPIKey(env.AnthropicAPIKey)),
			Model:  anthropic.Model(env.Model),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create llm client: %w", err)
		}
		cfg.LLM = llm
	} else {
		log.Info("app: ANTHROPIC_API_KEY not set, only templates will be used")
	}

	if a.Service, err = service.New(cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Service.Close)

	ok = true
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
