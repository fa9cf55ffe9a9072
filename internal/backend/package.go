package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/tierhub/internal/blob"
	"github.com/any-hub/tierhub/internal/metadata"
)

const metadataFile = metadata.FileName

// PackageStore 负责单个包目录下的 package.json 与 tarball。
type PackageStore struct {
	backend *Backend
	name    string
	logger  *logrus.Entry
}

// Name 返回包名。
func (p *PackageStore) Name() string {
	return p.name
}

// Tier 返回所属存储层。
func (p *PackageStore) Tier() string {
	return p.backend.tier
}

func (p *PackageStore) key(file string) (string, error) {
	if err := ValidateName(p.name); err != nil {
		return "", err
	}
	if file == "" || strings.ContainsAny(file, "/\\") || file == "." || file == ".." {
		return "", fmt.Errorf("invalid file name %q", file)
	}
	return p.name + "/" + file, nil
}

// ReadPackage 读取包元数据，不存在时返回 ErrNotFound。
func (p *PackageStore) ReadPackage(ctx context.Context) (*metadata.Package, error) {
	key, err := p.key(metadataFile)
	if err != nil {
		return nil, err
	}
	data, err := blob.ReadAll(ctx, p.backend.store, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("package %s: %w", p.name, ErrNotFound)
		}
		return nil, err
	}
	return metadata.Decode(data)
}

// CreatePackage 写入新包的元数据，已存在时返回 ErrExists。
func (p *PackageStore) CreatePackage(ctx context.Context, pkg *metadata.Package) error {
	key, err := p.key(metadataFile)
	if err != nil {
		return err
	}
	data, err := metadata.Encode(pkg)
	if err != nil {
		return err
	}
	if err := p.backend.store.WriteNew(ctx, key, bytes.NewReader(data)); err != nil {
		if errors.Is(err, blob.ErrExists) {
			return fmt.Errorf("package %s: %w", p.name, ErrExists)
		}
		return err
	}
	p.logger.Debug("package created")
	return nil
}

// SavePackage 覆盖写入包元数据。
func (p *PackageStore) SavePackage(ctx context.Context, pkg *metadata.Package) error {
	key, err := p.key(metadataFile)
	if err != nil {
		return err
	}
	data, err := metadata.Encode(pkg)
	if err != nil {
		return err
	}
	return p.backend.store.Write(ctx, key, bytes.NewReader(data))
}

// UpdatePackage 在包锁内读取元数据、交给 update 修改后写回。update 返回错误时不落盘。
func (p *PackageStore) UpdatePackage(ctx context.Context, update func(*metadata.Package) error) (*metadata.Package, error) {
	unlock := p.backend.locks.Lock(p.name)
	defer unlock()

	pkg, err := p.ReadPackage(ctx)
	if err != nil {
		return nil, err
	}
	if err := update(pkg); err != nil {
		return nil, err
	}
	if err := p.SavePackage(ctx, pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

// ReadTarball 打开 tarball，不存在时返回 ErrNotFound。
func (p *PackageStore) ReadTarball(ctx context.Context, file string) (*blob.Object, error) {
	key, err := p.key(file)
	if err != nil {
		return nil, err
	}
	obj, err := p.backend.store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("tarball %s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	return obj, nil
}

// WriteTarball 写入 tarball。tarball 写入后不可变，已存在时返回 ErrExists。
func (p *PackageStore) WriteTarball(ctx context.Context, file string, body io.Reader) error {
	key, err := p.key(file)
	if err != nil {
		return err
	}
	if err := p.backend.store.WriteNew(ctx, key, body); err != nil {
		if errors.Is(err, blob.ErrExists) {
			return fmt.Errorf("tarball %s: %w", key, ErrExists)
		}
		return err
	}
	return nil
}

// DeleteFile 删除包目录下的单个文件，文件不存在视为成功。
func (p *PackageStore) DeleteFile(ctx context.Context, file string) error {
	key, err := p.key(file)
	if err != nil {
		return err
	}
	return p.backend.store.Delete(ctx, key)
}

// RemovePackage 删除整个包目录。
func (p *PackageStore) RemovePackage(ctx context.Context) error {
	if err := ValidateName(p.name); err != nil {
		return err
	}
	return p.backend.store.DeletePrefix(ctx, p.name)
}

// HasTarball 判断包目录下是否存在 file；file 为空时等价于 HasPackage。
func (p *PackageStore) HasTarball(ctx context.Context, file string) bool {
	if file == "" {
		return p.HasPackage(ctx)
	}
	key, err := p.key(file)
	if err != nil {
		return false
	}
	ok, err := p.backend.store.Exists(ctx, key)
	return err == nil && ok
}

// HasPackage 判断包目录下是否存在任何文件。
func (p *PackageStore) HasPackage(ctx context.Context) bool {
	if ValidateName(p.name) != nil {
		return false
	}
	keys, err := p.backend.store.List(ctx, p.name)
	return err == nil && len(keys) > 0
}

// SyncTarball 把从其它存储层读到的 tarball 落到本层。目标已存在，或同一文件
// 正在被其它请求回填时返回 ErrExists，调用方应放弃本次回填。
func (p *PackageStore) SyncTarball(ctx context.Context, file string, src io.Reader) error {
	key, err := p.key(file)
	if err != nil {
		return err
	}
	if p.HasTarball(ctx, file) {
		return fmt.Errorf("tarball %s: %w", key, ErrExists)
	}
	unlock, ok := p.backend.locks.TryLock(key)
	if !ok {
		return fmt.Errorf("tarball %s is being filled: %w", key, ErrExists)
	}
	defer unlock()

	p.logger.WithField("file", file).Debug("start sync tarball")
	if err := p.WriteTarball(ctx, file, src); err != nil {
		return err
	}
	p.logger.WithField("file", file).Debug("end sync tarball")
	return nil
}
