package templates

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
)

const (
	defaultCacheTTL = 5 * time.Minute

	snapshotCacheKey = "templates"
	allCategories    = "all"
)

type CatalogConfig struct {
	Logger *slog.Logger
	Store  Store
	Clock  clockwork.Clock

	// CacheTTL bounds how long a loaded snapshot is served before the store is
	// read again.
	CacheTTL time.Duration

	// SkipBuiltins leaves out the embedded templates.
	SkipBuiltins bool
}

func (cfg *CatalogConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("template store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CacheTTL < 0 {
		return errors.New("cache ttl must be greater than 0")
	}
	return nil
}

type snapshot struct {
	byKey map[string]*Template
	order []string
}

type usage struct {
	count    int
	lastUsed time.Time
}

// Catalog is the template manager: a cached view over a Store plus the
// embedded builtins. Templates handed out are copies.
type Catalog struct {
	log   *slog.Logger
	cfg   *CatalogConfig
	cache *ttlcache.Cache[string, *snapshot]

	mu sync.Mutex
	// builtinUsage keeps usage of builtin templates, which are never written
	// back.
	builtinUsage map[string]usage
}

func NewCatalog(cfg *CatalogConfig) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// The snapshot expires CacheTTL after loading, however often it is read.
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *snapshot](cfg.CacheTTL),
		ttlcache.WithDisableTouchOnHit[string, *snapshot](),
	)
	return &Catalog{
		log:          cfg.Logger,
		cfg:          cfg,
		cache:        cache,
		builtinUsage: make(map[string]usage),
	}, nil
}

func (c *Catalog) snapshot(ctx context.Context) (*snapshot, error) {
	if item := c.cache.Get(snapshotCacheKey); item != nil {
		return item.Value(), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx)
}

func (c *Catalog) loadLocked(ctx context.Context) (*snapshot, error) {
	if item := c.cache.Get(snapshotCacheKey); item != nil {
		return item.Value(), nil
	}

	snap := &snapshot{byKey: make(map[string]*Template)}
	add := func(t *Template) {
		if _, ok := snap.byKey[t.Key()]; !ok {
			snap.order = append(snap.order, t.Key())
		}
		snap.byKey[t.Key()] = t
	}

	if !c.cfg.SkipBuiltins {
		builtins, err := Builtins()
		if err != nil {
			return nil, err
		}
		for _, t := range builtins {
			add(t)
		}
	}
	stored, skipped, err := c.cfg.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, err := range skipped {
		c.log.Warn("templates: skipping invalid template", "error", err)
	}
	for _, t := range stored {
		add(t)
	}
	for key, u := range c.builtinUsage {
		if t, ok := snap.byKey[key]; ok && !t.Custom() {
			applyUsage(t, u)
		}
	}

	slices.SortFunc(snap.order, func(a, b string) int {
		ta, tb := snap.byKey[a], snap.byKey[b]
		return cmp.Or(
			cmp.Compare(ta.Site, tb.Site),
			cmp.Compare(ta.ID, tb.ID),
		)
	})

	c.log.Debug("templates: loaded catalog", "templates", len(snap.order))
	c.cache.Set(snapshotCacheKey, snap, ttlcache.DefaultTTL)
	return snap, nil
}

func applyUsage(t *Template, u usage) {
	t.UsageCount = u.count
	if !u.lastUsed.IsZero() {
		last := u.lastUsed
		t.LastUsed = &last
	}
}

// Invalidate drops the cached snapshot.
func (c *Catalog) Invalidate() {
	c.cache.Delete(snapshotCacheKey)
}

// All returns every template ordered builtins first, then custom templates
// by site, each group by id.
func (c *Catalog) All(ctx context.Context) ([]*Template, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Template, len(snap.order))
	for i, key := range snap.order {
		out[i] = snap.byKey[key].Clone()
	}
	return out, nil
}

// ForSite returns the builtins and the custom templates of site in catalog
// order.
func (c *Catalog) ForSite(ctx context.Context, site string) ([]*Template, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(t *Template) bool {
		return t.Custom() && t.Site != site
	}), nil
}

// Get resolves id for site, preferring the site's own template over a builtin.
func (c *Catalog) Get(ctx context.Context, id, site string) (*Template, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if site != "" {
		if t, ok := snap.byKey[Key(site, id)]; ok {
			return t.Clone(), nil
		}
	}
	if t, ok := snap.byKey[id]; ok {
		return t.Clone(), nil
	}
	return nil, fmt.Errorf("%s: %w", id, ErrTemplateNotFound)
}

// List summarizes the templates visible to site, optionally restricted to a
// category, most used first.
func (c *Catalog) List(ctx context.Context, site, category string) ([]ListItem, error) {
	visible, err := c.ForSite(ctx, site)
	if err != nil {
		return nil, err
	}
	items := make([]ListItem, 0, len(visible))
	for _, t := range visible {
		if category != "" && category != allCategories && t.Metadata.Category != category {
			continue
		}
		items = append(items, t.ListItem())
	}
	slices.SortStableFunc(items, func(a, b ListItem) int {
		return cmp.Compare(b.UsageCount, a.UsageCount)
	})
	return items, nil
}

// Save validates and stores t under t.Site. Without overwrite an existing
// template with the same key is an error.
func (c *Catalog) Save(ctx context.Context, t *Template, overwrite bool) error {
	t = t.Clone()
	if err := t.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snap, err := c.loadLocked(ctx)
	if err != nil {
		return err
	}
	existing, exists := snap.byKey[t.Key()]
	if exists && !overwrite {
		return fmt.Errorf("%s: %w", t.Key(), ErrTemplateExists)
	}

	now := c.cfg.Clock.Now().UTC()
	t.UpdatedAt = now
	switch {
	case exists && !existing.CreatedAt.IsZero():
		t.CreatedAt = existing.CreatedAt
	case t.CreatedAt.IsZero():
		t.CreatedAt = now
	}
	if err := c.cfg.Store.Put(ctx, t); err != nil {
		return err
	}
	c.cache.Delete(snapshotCacheKey)
	c.log.Info("templates: saved template", "template_id", t.ID, "site_id", t.Site)
	return nil
}

// Update applies fn to a custom template of site and stores the result with
// its patch version bumped.
func (c *Catalog) Update(ctx context.Context, site, id string, fn func(*Template) error) (*Template, error) {
	if site == "" {
		return nil, errors.New("only custom templates can be updated")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snap, err := c.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	existing, ok := snap.byKey[Key(site, id)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", Key(site, id), ErrTemplateNotFound)
	}

	t := existing.Clone()
	if err := fn(t); err != nil {
		return nil, err
	}
	t.ID, t.Site, t.CreatedAt = existing.ID, existing.Site, existing.CreatedAt
	if t.Version, err = BumpPatch(existing.Version); err != nil {
		return nil, err
	}
	t.UpdatedAt = c.cfg.Clock.Now().UTC()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := c.cfg.Store.Put(ctx, t); err != nil {
		return nil, err
	}
	c.cache.Delete(snapshotCacheKey)
	return t.Clone(), nil
}

func (c *Catalog) Delete(ctx context.Context, site, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.cfg.Store.Delete(ctx, site, id); err != nil {
		return err
	}
	c.cache.Delete(snapshotCacheKey)
	c.log.Info("templates: deleted template", "template_id", id, "site_id", site)
	return nil
}

// RecordUsage counts one use of the template id resolves to for site. Only
// custom templates are persisted; builtin usage lives as long as the catalog.
func (c *Catalog) RecordUsage(ctx context.Context, id, site string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, err := c.loadLocked(ctx)
	if err != nil {
		return err
	}
	t, ok := snap.byKey[Key(site, id)]
	if !ok || site == "" {
		t, ok = snap.byKey[id]
	}
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrTemplateNotFound)
	}

	now := c.cfg.Clock.Now().UTC()
	if !t.Custom() {
		u := c.builtinUsage[t.Key()]
		u.count = max(u.count, t.UsageCount) + 1
		u.lastUsed = now
		c.builtinUsage[t.Key()] = u
		updated := t.Clone()
		applyUsage(updated, u)
		c.replaceLocked(snap, updated)
		return nil
	}

	updated := t.Clone()
	updated.UsageCount++
	updated.LastUsed = &now
	if err := c.cfg.Store.Put(ctx, updated); err != nil {
		return err
	}
	c.replaceLocked(snap, updated)
	return nil
}

// replaceLocked publishes a copy of snap with t swapped in; readers may still
// hold the old snapshot.
func (c *Catalog) replaceLocked(snap *snapshot, t *Template) {
	next := &snapshot{byKey: maps.Clone(snap.byKey), order: snap.order}
	next.byKey[t.Key()] = t
	c.cache.Set(snapshotCacheKey, next, ttlcache.DefaultTTL)
}
