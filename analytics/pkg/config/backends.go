package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/altocentral/backend/analytics/pkg/templates"
	"github.com/altocentral/backend/analytics/pkg/timeseries"
	"github.com/altocentral/backend/analytics/pkg/timeseries/clickhouse"
	"github.com/altocentral/backend/analytics/pkg/timeseries/duck"
	"github.com/altocentral/backend/analytics/pkg/timeseries/influx"
	"github.com/altocentral/backend/analytics/pkg/timeseries/timescale"
)

// OpenStores builds the store provider for the configured backend. The
// returned func releases whatever was opened.
func OpenStores(ctx context.Context, log *slog.Logger, env *Env, sites *Registry) (timeseries.StoreProvider, func(), error) {
	switch env.Backend {
	case BackendTimescale:
		if sites == nil {
			return nil, nil, errors.New("timescale backend needs a sites file")
		}
		mgr, err := timescale.NewManager(&timescale.ManagerConfig{Logger: log, Lookup: sites.Timescale})
		if err != nil {
			return nil, nil, err
		}
		return mgr, mgr.Close, nil

	case BackendClickHouse:
		opts := []clickhouse.Option{
			clickhouse.WithAddr(env.ClickHouse.Addr),
			clickhouse.WithDatabase(env.ClickHouse.Database),
			clickhouse.WithUser(env.ClickHouse.User),
			clickhouse.WithPassword(env.ClickHouse.Password),
			clickhouse.WithSecure(env.ClickHouse.Secure),
		}
		if env.ClickHouse.Table != "" {
			opts = append(opts, clickhouse.WithTable(env.ClickHouse.Table))
		}
		store, err := clickhouse.Open(ctx, log, opts...)
		if err != nil {
			return nil, nil, err
		}
		return timeseries.Static(store), closeLogged(log, "clickhouse", store.Close), nil

	case BackendInflux:
		client, err := influx.NewSDKClient(env.Influx.Host, env.Influx.Token, env.Influx.Database)
		if err != nil {
			return nil, nil, err
		}
		store, err := influx.NewStore(influx.StoreConfig{Logger: log, Client: client})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return timeseries.Static(store), closeLogged(log, "influx", store.Close), nil

	case BackendDuckDB:
		store, err := duck.Open(ctx, log, duck.Options{Path: env.DuckDBPath})
		if err != nil {
			return nil, nil, err
		}
		return timeseries.Static(store), closeLogged(log, "duckdb", store.Close), nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", env.Backend)
}

// OpenTemplateStore returns an S3 store when a bucket is configured and a
// directory store otherwise.
func OpenTemplateStore(ctx context.Context, env *Env) (templates.Store, error) {
	s3cfg := env.TemplatesS3
	if s3cfg.Bucket == "" {
		fs, err := templates.NewFileStore(env.TemplatesDir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s3cfg.Region)}
	if s3cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKey, s3cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	store, err := templates.NewS3Store(&templates.S3StoreConfig{
		Client: client,
		Bucket: s3cfg.Bucket,
		Prefix: s3cfg.Prefix,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func closeLogged(log *slog.Logger, name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			log.Warn("failed to close store", "backend", name, "error", err)
		}
	}
}
