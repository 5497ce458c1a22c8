package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/altocentral/backend/analytics/pkg/timeseries/timescale"
)

const sitesFile = "sites.yaml"

// ErrNoSitesFile is returned by FindSitesFile when no candidate exists.
var ErrNoSitesFile = errors.New("sites.yaml not found")

type Databases struct {
	Timescale *timescale.Config `yaml:"timescaledb"`
}

// Site describes one building. Only the fields the chart pipeline reads are
// decoded; the rest of the file is ignored.
type Site struct {
	ID           string    `yaml:"site_id"`
	Name         string    `yaml:"site_name"`
	Code         string    `yaml:"site_code"`
	Latitude     float64   `yaml:"latitude"`
	Longitude    float64   `yaml:"longitude"`
	Timezone     string    `yaml:"timezone"`
	HVACType     string    `yaml:"hvac_type"`
	BuildingType string    `yaml:"building_type"`
	Database     Databases `yaml:"database"`

	loc *time.Location
}

type sitesDocument struct {
	Sites map[string]*Site `yaml:"sites"`
}

// Registry is the set of configured sites keyed by site id.
type Registry struct {
	sites map[string]*Site
}

// FindSitesFile returns path when it is set, otherwise the first of
// config/sites.yaml and ../config/sites.yaml that exists.
func FindSitesFile(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	for _, p := range []string{
		filepath.Join("config", sitesFile),
		filepath.Join("..", "config", sitesFile),
	} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrNoSitesFile
}

func LoadSites(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sites file: %w", err)
	}
	r, err := ParseSites(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// ParseSites decodes a sites document. Map keys fill in a missing site_id and
// an unset timezone means UTC.
func ParseSites(data []byte) (*Registry, error) {
	var doc sitesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse sites: %w", err)
	}
	r := &Registry{sites: make(map[string]*Site, len(doc.Sites))}
	for key, s := range doc.Sites {
		if s == nil {
			s = &Site{}
		}
		if s.ID == "" {
			s.ID = key
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		if s.Timezone == "" {
			s.Timezone = "UTC"
		}
		if s.HVACType == "" {
			s.HVACType = "water"
		}
		if s.BuildingType == "" {
			s.BuildingType = "office"
		}
		loc, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return nil, fmt.Errorf("site %s: invalid timezone %q: %w", s.ID, s.Timezone, err)
		}
		s.loc = loc
		r.sites[s.ID] = s
	}
	return r, nil
}

// Sites returns every site ordered by id.
func (r *Registry) Sites() []*Site {
	out := make([]*Site, 0, len(r.sites))
	for _, s := range r.sites {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Site(id string) (*Site, bool) {
	s, ok := r.sites[id]
	return s, ok
}

// Name returns the display name of the site, or "" for unknown sites.
func (r *Registry) Name(id string) string {
	if s, ok := r.sites[id]; ok {
		return s.Name
	}
	return ""
}

// Location returns the site's time zone, UTC for unknown sites.
func (r *Registry) Location(id string) *time.Location {
	if s, ok := r.sites[id]; ok && s.loc != nil {
		return s.loc
	}
	return time.UTC
}

// Timescale is a timescale.Lookup over the registry.
func (r *Registry) Timescale(id string) (timescale.Config, bool) {
	s, ok := r.sites[id]
	if !ok || s.Database.Timescale == nil {
		return timescale.Config{}, false
	}
	return *s.Database.Timescale, true
}
