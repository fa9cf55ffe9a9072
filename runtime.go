package main

import (
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/tierhub/internal/backend"
	"github.com/any-hub/tierhub/internal/blob"
	"github.com/any-hub/tierhub/internal/config"
	"github.com/any-hub/tierhub/internal/keylock"
	"github.com/any-hub/tierhub/internal/metrics"
	"github.com/any-hub/tierhub/internal/server"
	"github.com/any-hub/tierhub/internal/server/routes"
	"github.com/any-hub/tierhub/internal/storage"
)

// runtimeDeps 是 serve 模式下共享的进程级组件。
type runtimeDeps struct {
	db          *storage.Database
	maintenance *routes.Maintenance
	metrics     *metrics.Metrics
	closers     []func() error
}

// Close 等待后台回填与删除结束后释放远端客户端。
func (r *runtimeDeps) Close() {
	if r.db != nil {
		r.db.Wait()
	}
	for _, closeFn := range r.closers {
		_ = closeFn()
	}
}

func buildRuntime(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*runtimeDeps, error) {
	rt := &runtimeDeps{metrics: metrics.New()}
	locks := keylock.New()

	localStore, err := blob.NewFSStore(cfg.Maintenance.StorePath)
	if err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}
	remoteStore, closeRemote, err := openRemoteStore(ctx, cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("remote store: %w", err)
	}
	if closeRemote != nil {
		rt.closers = append(rt.closers, closeRemote)
	}

	rt.db, err = storage.NewDatabase(storage.DatabaseOptions{
		Local:           backend.New(localStore, backend.Options{Tier: "local", Locks: locks, Logger: logger}),
		Remote:          backend.New(remoteStore, backend.Options{Tier: "remote", Locks: keylock.New(), Logger: logger}),
		PrivatePackages: cfg.Global.PrivatePackages,
		Logger:          logger,
		Metrics:         rt.metrics,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.maintenance, err = newMaintenance(cfg, logger, rt.metrics)
	if err != nil {
		rt.Close()
		return nil, err
	}
	// sync/clean 与本地存储层共享包锁。
	rt.maintenance.Locks = locks
	return rt, nil
}

func newMaintenance(cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics) (*routes.Maintenance, error) {
	uplinks, err := server.NewUplinkRegistry(cfg)
	if err != nil {
		return nil, err
	}
	return &routes.Maintenance{
		Config:  cfg,
		Uplinks: uplinks,
		Client:  server.NewUpstreamClient(cfg),
		Locks:   keylock.New(),
		Logger:  logger,
		Metrics: m,
	}, nil
}

// openRemoteStore 按 [remote] 配置打开远端持久层。GCS 使用应用默认凭据。
func openRemoteStore(ctx context.Context, cfg config.RemoteConfig) (blob.Store, func() error, error) {
	switch cfg.Backend {
	case config.RemoteBackendFS:
		store, err := blob.NewFSStore(cfg.Path)
		return store, nil, err
	case config.RemoteBackendGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		store, err := blob.NewGCSStore(client, cfg.Bucket, cfg.Prefix)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported remote backend %q", cfg.Backend)
	}
}
