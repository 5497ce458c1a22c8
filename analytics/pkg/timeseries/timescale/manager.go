package timescale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

// Lookup returns the database config of a site; ok is false for unknown sites.
type Lookup func(siteID string) (cfg Config, ok bool)

type ManagerConfig struct {
	Logger *slog.Logger
	Lookup Lookup
}

func (cfg *ManagerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Lookup == nil {
		return errors.New("lookup is required")
	}
	return nil
}

type dialFunc func(ctx context.Context, log *slog.Logger, cfg Config) (*Store, error)

// Manager lazily opens one Store per site and hands it out as a
// timeseries.StoreProvider. Connects to different sites run concurrently;
// callers for the same site wait on that site's connect.
type Manager struct {
	log  *slog.Logger
	cfg  *ManagerConfig
	dial dialFunc

	mu     sync.Mutex
	sites  map[string]*siteEntry
	closed bool
}

type siteEntry struct {
	mu    sync.Mutex
	store *Store
}

var _ timeseries.StoreProvider = (*Manager)(nil)

func NewManager(cfg *ManagerConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		log:   cfg.Logger,
		cfg:   cfg,
		dial:  Connect,
		sites: make(map[string]*siteEntry),
	}, nil
}

// Store returns the site's store, connecting on first use. Sites without a
// configured database yield timeseries.ErrUnavailable. Failed connects are not
// cached so a later call retries.
func (m *Manager) Store(ctx context.Context, siteID string) (timeseries.Store, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: timescale manager is closed", timeseries.ErrUnavailable)
	}
	entry, ok := m.sites[siteID]
	if !ok {
		entry = &siteEntry{}
		m.sites[siteID] = entry
	}
	m.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.store != nil {
		return entry.store, nil
	}

	cfg, ok := m.cfg.Lookup(siteID)
	if !ok || !cfg.Configured() {
		m.log.Info("timescale: no database configured", "site_id", siteID)
		return nil, fmt.Errorf("%w: no database configured for site %s", timeseries.ErrUnavailable, siteID)
	}

	s, err := m.dial(ctx, m.log.With("site_id", siteID), cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		s.Close()
		return nil, fmt.Errorf("%w: timescale manager is closed", timeseries.ErrUnavailable)
	}
	entry.store = s
	return s, nil
}

// Close closes every pool opened so far. Connects still in flight close
// their pool when they finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sites := m.sites
	m.sites = make(map[string]*siteEntry)
	m.mu.Unlock()

	for _, entry := range sites {
		entry.mu.Lock()
		if entry.store != nil {
			entry.store.Close()
			entry.store = nil
		}
		entry.mu.Unlock()
	}
	m.log.Info("timescale: closed all site pools")
}
