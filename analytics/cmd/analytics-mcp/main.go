package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/altocentral/backend/analytics/pkg/app"
	"github.com/altocentral/backend/analytics/pkg/config"
	"github.com/altocentral/backend/analytics/pkg/logger"
	"github.com/altocentral/backend/analytics/pkg/mcp/server"
	"github.com/altocentral/backend/analytics/pkg/metrics"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8010"
	defaultMetricsAddr = "0.0.0.0:8080"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", "", "path to a .env file (default: ./.env when present)")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "MCP server listen address (or set MCP_LISTEN_ADDR env var)")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "address to listen on for prometheus metrics, empty to disable")
	siteFlag := flag.String("site", "", "default site for tool calls that do not name one (or set MCP_DEFAULT_SITE env var)")
	exposeToolsFlag := flag.Bool("expose-tools", false, "also expose the agent's data, chart and template tools")
	flag.Parse()

	var envFiles []string
	if *envFileFlag != "" {
		envFiles = append(envFiles, *envFileFlag)
	}
	env, err := config.LoadEnv(envFiles...)
	if err != nil {
		return err
	}

	if v := os.Getenv("MCP_LISTEN_ADDR"); v != "" && !flag.CommandLine.Changed("listen-addr") {
		*listenAddrFlag = v
	}
	if v := os.Getenv("MCP_DEFAULT_SITE"); v != "" && *siteFlag == "" {
		*siteFlag = v
	}
	var allowedTokens []string
	for _, tok := range strings.Split(os.Getenv("MCP_ALLOWED_TOKENS"), ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			allowedTokens = append(allowedTokens, tok)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logger.New(*verboseFlag)

	metricsServerErrCh := make(chan error, 1)
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				metricsServerErrCh <- err
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				metricsServerErrCh <- err
			}
		}()
	}

	a, err := app.Build(ctx, log, env)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	defer a.Close()

	srv, err := server.New(server.Config{
		Logger:        log,
		Service:       a.Service,
		DefaultSite:   *siteFlag,
		ExposeTools:   *exposeToolsFlag,
		Version:       version,
		ListenAddr:    *listenAddrFlag,
		AllowedTokens: allowedTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.Run(ctx); err != nil {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrCh:
		return err
	case err := <-metricsServerErrCh:
		return err
	}
}
