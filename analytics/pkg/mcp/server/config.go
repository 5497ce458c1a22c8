package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/altocentral/backend/analytics/pkg/service"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

type Config struct {
	Logger  *slog.Logger
	Service *service.Service

	// DefaultSite is used by tool calls that do not name a site_id.
	DefaultSite string

	// ExposeTools registers the agent's data, chart and template tools next
	// to the chart generation tools.
	ExposeTools bool

	Version           string
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowedTokens     []string // Bearer tokens allowed for MCP endpoint authentication
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Service == nil {
		return fmt.Errorf("service is required")
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
