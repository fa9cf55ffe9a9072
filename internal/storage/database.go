package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/tierhub/internal/backend"
	"github.com/any-hub/tierhub/internal/logging"
	"github.com/any-hub/tierhub/internal/metrics"
)

// DatabaseOptions 描述 Database 的依赖。
type DatabaseOptions struct {
	Local           *backend.Backend
	Remote          *backend.Backend
	PrivatePackages []string
	Logger          *logrus.Logger
	Metrics         *metrics.Metrics
}

// Database 组合本地与远端两个存储层。包列表、secret 与 token 只存远端，
// 搜索只走本地。
type Database struct {
	local   *backend.Backend
	remote  *backend.Backend
	matcher *Matcher
	logger  *logrus.Logger
	metrics *metrics.Metrics

	bg sync.WaitGroup
}

// NewDatabase 校验依赖并构建 Database。
func NewDatabase(opts DatabaseOptions) (*Database, error) {
	if opts.Local == nil || opts.Remote == nil {
		return nil, errors.New("local and remote backends are required")
	}
	matcher, err := NewMatcher(opts.PrivatePackages)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Database{
		local:   opts.Local,
		remote:  opts.Remote,
		matcher: matcher,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// Matcher 返回私有包匹配器。
func (d *Database) Matcher() *Matcher {
	return d.matcher
}

// Local 返回本地存储层。
func (d *Database) Local() *backend.Backend {
	return d.local
}

// Remote 返回远端存储层。
func (d *Database) Remote() *backend.Backend {
	return d.remote
}

// Add 登记包名，仅写远端。
func (d *Database) Add(ctx context.Context, name string) error {
	return d.remote.Add(ctx, name)
}

// Remove 移除包名，仅写远端。
func (d *Database) Remove(ctx context.Context, name string) error {
	return d.remote.Remove(ctx, name)
}

// List 返回远端登记的包名。
func (d *Database) List(ctx context.Context) ([]string, error) {
	return d.remote.List(ctx)
}

// GetSecret 读取远端 secret。
func (d *Database) GetSecret(ctx context.Context) (string, error) {
	return d.remote.GetSecret(ctx)
}

// SetSecret 写入远端 secret。
func (d *Database) SetSecret(ctx context.Context, secret string) error {
	return d.remote.SetSecret(ctx, secret)
}

// SaveToken 保存 token，仅远端。
func (d *Database) SaveToken(ctx context.Context, token backend.Token) error {
	return d.remote.SaveToken(ctx, token)
}

// DeleteToken 删除 token，仅远端。
func (d *Database) DeleteToken(ctx context.Context, user, key string) error {
	return d.remote.DeleteToken(ctx, user, key)
}

// ReadTokens 读取 token，仅远端。
func (d *Database) ReadTokens(ctx context.Context, filter backend.TokenFilter) ([]backend.Token, error) {
	return d.remote.ReadTokens(ctx, filter)
}

// Search 遍历本地缓存中的包。
func (d *Database) Search(ctx context.Context, match func(name string) bool) ([]backend.SearchResult, error) {
	return d.local.Search(ctx, match)
}

// PackageStorage 返回绑定到 name 的新 Router。
func (d *Database) PackageStorage(name string) *Router {
	return &Router{
		name:    name,
		matcher: d.matcher,
		local:   d.local.PackageStore(name),
		remote:  d.remote.PackageStore(name),
		logger:  d.logger,
		metrics: d.metrics,
		bg:      &d.bg,
	}
}

// Wait 等待所有后台回填与本地删除结束，进程退出前调用。
func (d *Database) Wait() {
	d.bg.Wait()
}
