package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/tierhub/internal/blob"
	"github.com/any-hub/tierhub/internal/keylock"
	"github.com/any-hub/tierhub/internal/logging"
)

const (
	// DBKey 保存包名列表与 secret 的对象。
	DBKey = ".tierhub-db.json"
	// TokensPrefix 之下按用户保存 token 列表。
	TokensPrefix = ".tierhub-tokens"
)

var (
	// ErrNotFound 表示包、文件或 token 不存在。
	ErrNotFound = blob.ErrNotFound
	// ErrExists 表示目标已经存在，例如重复创建包或重复写入 tarball。
	ErrExists = blob.ErrExists
)

// Options 控制 Backend 的依赖注入。
type Options struct {
	// Tier 是日志中的存储层标识，例如 local/remote。
	Tier string
	// Locks 在同一进程内按包名串行化写操作，可与 sync/clean 共享同一实例。
	Locks  *keylock.Map
	Logger *logrus.Logger
}

// Backend 代表一个存储层。
type Backend struct {
	store  blob.Store
	tier   string
	locks  *keylock.Map
	logger *logrus.Logger

	// dbMu 保护 DBKey 的读改写。
	dbMu sync.Mutex
}

// New 基于 blob.Store 构建存储层。
func New(store blob.Store, opts Options) *Backend {
	if opts.Locks == nil {
		opts.Locks = keylock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Tier == "" {
		opts.Tier = "local"
	}
	return &Backend{
		store:  store,
		tier:   opts.Tier,
		locks:  opts.Locks,
		logger: opts.Logger,
	}
}

// Tier 返回存储层标识。
func (b *Backend) Tier() string {
	return b.tier
}

// Store 返回底层对象存储。
func (b *Backend) Store() blob.Store {
	return b.store
}

type registryDB struct {
	List   []string `json:"list"`
	Secret string   `json:"secret"`
}

func (b *Backend) readDB(ctx context.Context) (registryDB, error) {
	var db registryDB
	data, err := blob.ReadAll(ctx, b.store, DBKey)
	if errors.Is(err, blob.ErrNotFound) {
		return registryDB{List: []string{}}, nil
	}
	if err != nil {
		return db, fmt.Errorf("read registry db: %w", err)
	}
	if err := json.Unmarshal(data, &db); err != nil {
		return db, fmt.Errorf("decode registry db: %w", err)
	}
	if db.List == nil {
		db.List = []string{}
	}
	return db, nil
}

func (b *Backend) writeDB(ctx context.Context, db registryDB) error {
	return b.writeJSON(ctx, DBKey, db)
}

func (b *Backend) writeJSON(ctx context.Context, key string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return b.store.Write(ctx, key, bytes.NewReader(data))
}

// Add 将包名加入列表，已存在时不重复添加。
func (b *Backend) Add(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	b.dbMu.Lock()
	defer b.dbMu.Unlock()

	db, err := b.readDB(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(db.List, name) {
		return nil
	}
	db.List = append(db.List, name)
	return b.writeDB(ctx, db)
}

// Remove 从列表中移除包名，不存在时返回 ErrNotFound。
func (b *Backend) Remove(ctx context.Context, name string) error {
	b.dbMu.Lock()
	defer b.dbMu.Unlock()

	db, err := b.readDB(ctx)
	if err != nil {
		return err
	}
	idx := slices.Index(db.List, name)
	if idx < 0 {
		return fmt.Errorf("package %s: %w", name, ErrNotFound)
	}
	db.List = slices.Delete(db.List, idx, idx+1)
	return b.writeDB(ctx, db)
}

// List 返回已登记的包名。
func (b *Backend) List(ctx context.Context) ([]string, error) {
	b.dbMu.Lock()
	defer b.dbMu.Unlock()

	db, err := b.readDB(ctx)
	if err != nil {
		return nil, err
	}
	return db.List, nil
}

// GetSecret 返回 registry secret，未设置时为空串。
func (b *Backend) GetSecret(ctx context.Context) (string, error) {
	b.dbMu.Lock()
	defer b.dbMu.Unlock()

	db, err := b.readDB(ctx)
	if err != nil {
		return "", err
	}
	return db.Secret, nil
}

// SetSecret 持久化 registry secret。
func (b *Backend) SetSecret(ctx context.Context, secret string) error {
	b.dbMu.Lock()
	defer b.dbMu.Unlock()

	db, err := b.readDB(ctx)
	if err != nil {
		return err
	}
	db.Secret = secret
	return b.writeDB(ctx, db)
}

// SearchResult 是本地索引中的一个包。
type SearchResult struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	Time time.Time `json:"time"`
}

// Search 遍历存储层中所有带 package.json 的包，match 为空时返回全部。
func (b *Backend) Search(ctx context.Context, match func(name string) bool) ([]SearchResult, error) {
	keys, err := b.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("walk %s tier: %w", b.tier, err)
	}

	var results []SearchResult
	for _, key := range keys {
		if strings.HasPrefix(key, ".") || path.Base(key) != metadataFile {
			continue
		}
		name := path.Dir(key)
		if ValidateName(name) != nil {
			continue
		}
		if match != nil && !match(name) {
			continue
		}
		result := SearchResult{Name: name, Path: name}
		if obj, err := b.store.Open(ctx, key); err == nil {
			result.Time = obj.ModTime
			obj.Reader.Close()
		}
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, nil
}

// PackageStore 返回绑定到 name 的包存储。
func (b *Backend) PackageStore(name string) *PackageStore {
	return &PackageStore{
		backend: b,
		name:    name,
		logger:  b.logger.WithFields(logging.PackageFields(name, b.tier)),
	}
}

// ValidateName 拒绝空包名、相对路径以及与内部对象冲突的名字。
func ValidateName(name string) error {
	switch {
	case name == "", strings.TrimSpace(name) != name:
		return fmt.Errorf("invalid package name %q", name)
	case strings.HasPrefix(name, "."), strings.HasPrefix(name, "_"):
		return fmt.Errorf("invalid package name %q", name)
	case strings.Contains(name, ".."), strings.Contains(name, "\\"):
		return fmt.Errorf("invalid package name %q", name)
	}
	if strings.HasPrefix(name, "@") {
		scope, pkg, ok := strings.Cut(name, "/")
		if !ok || len(scope) < 2 || pkg == "" || strings.Contains(pkg, "/") {
			return fmt.Errorf("invalid scoped package name %q", name)
		}
		return nil
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("invalid package name %q", name)
	}
	return nil
}
