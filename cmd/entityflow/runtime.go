package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"entityflow/internal/config"
	"entityflow/internal/instrument"
	"entityflow/internal/metadata"
	"entityflow/internal/schema"
	"entityflow/internal/store"
	"entityflow/internal/workflow"
)

// runtime holds what every command needs: configuration, logger, database
// and the metadata store.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	tables *metadata.Store
}

func newRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := instrument.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	s, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	opts := []schema.Option{schema.WithTTL(ttl), schema.WithLogger(logger)}
	if cfg.Cache.Driver == "redis" {
		r := cfg.Cache.Redis
		opts = append(opts, schema.WithCache(schema.NewRedisCache(r.Addr, r.Password, r.DB, schema.WithPrefix(r.Prefix))))
	}
	intro := schema.NewIntrospector(s.DB, s.Dialect, opts...)

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  s,
		tables: metadata.NewStore(intro, ttl, logger),
	}, nil
}

// workflows loads every definition in the configured directory. A missing
// directory means no workflows.
func (rt *runtime) workflows(opts ...workflow.Option) (*workflow.Registry, error) {
	defs, err := workflow.LoadDir(rt.cfg.Workflows.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		rt.logger.Info("no workflow directory", zap.String("dir", rt.cfg.Workflows.Dir))
		defs = nil
	} else if err != nil {
		return nil, err
	}
	opts = append(opts, workflow.WithLogger(rt.logger))
	return workflow.NewRegistry(rt.store, defs, opts...)
}

func (rt *runtime) close() {
	rt.store.Close()
	_ = rt.logger.Sync()
}
