// Package cleaner 删除本地存储目录中的包或指定版本，是 sync 的逆操作。
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/tierhub/internal/atomicfile"
	"github.com/any-hub/tierhub/internal/backend"
	"github.com/any-hub/tierhub/internal/keylock"
	"github.com/any-hub/tierhub/internal/logging"
	"github.com/any-hub/tierhub/internal/metadata"
	"github.com/any-hub/tierhub/internal/metrics"
)

// Options 是进程级依赖。
type Options struct {
	StorePath string
	Locks     *keylock.Map
	Logger    *logrus.Logger
	Metrics   *metrics.Metrics
}

// Request 描述一次清理。Versions 为 all 时删除整个包目录。
type Request struct {
	Name     string
	Versions metadata.VersionFilter
}

// TarballResult 是单个 tarball 的删除结果。
type TarballResult struct {
	Version string
	File    string
	Err     error
}

// Report 汇总清理结果。
type Report struct {
	// PackageRemoved 表示整个包目录被删除。
	PackageRemoved bool
	// Metadata 是重写 package.json 的结果。
	Metadata error
	Tarballs []TarballResult
}

// Err 合并所有子操作的错误，全部成功时返回 nil。
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	errs := []error{r.Metadata}
	for _, item := range r.Tarballs {
		if item.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.File, item.Err))
		}
	}
	return errors.Join(errs...)
}

// Cleaner 清理单个包。
type Cleaner struct {
	req    Request
	opts   Options
	logger *logrus.Entry
}

// New 校验请求并构造 Cleaner。
func New(req Request, opts Options) (*Cleaner, error) {
	if err := backend.ValidateName(req.Name); err != nil || req.Versions.IsZero() {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid name or version")
	}
	if opts.StorePath == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("store path is required")
	}
	if opts.Locks == nil {
		opts.Locks = keylock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Cleaner{
		req:    req,
		opts:   opts,
		logger: opts.Logger.WithFields(logging.MaintenanceFields("clean", req.Name, req.Versions.String(), "")),
	}, nil
}

func (c *Cleaner) packageDir() string {
	return filepath.Join(c.opts.StorePath, filepath.FromSlash(c.req.Name))
}

// Clean 执行清理。删除整个目录失败时返回错误；按版本清理时元数据重写与各
// tarball 删除并发执行，全部结束后汇总到 Report，单项失败不影响其它项。
func (c *Cleaner) Clean(ctx context.Context) (*Report, error) {
	unlock := c.opts.Locks.Lock(c.req.Name)
	defer unlock()

	metaPath := metadata.Path(c.opts.StorePath, c.req.Name)
	if c.req.Versions.All || !atomicfile.Exists(metaPath) {
		if err := atomicfile.RemoveDir(c.packageDir()); err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("remove package dir failed").
				WithCause(err)
		}
		c.logger.Info("package removed")
		return &Report{PackageRemoved: true}, nil
	}

	report := &Report{Tarballs: make([]TarballResult, len(c.req.Versions.Versions))}
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		report.Metadata = c.cleanMetadata(ctx, metaPath)
	}()

	for i, version := range c.req.Versions.Versions {
		report.Tarballs[i] = TarballResult{Version: version, File: metadata.DistFileName(c.req.Name, version)}
		wg.Add(1)
		go func(item *TarballResult) {
			defer wg.Done()
			item.Err = c.cleanTarball(item.File)
		}(&report.Tarballs[i])
	}
	wg.Wait()

	removed := 0
	for _, item := range report.Tarballs {
		if item.Err != nil {
			c.logger.WithField("file", item.File).WithError(item.Err).Warn("remove tarball failed")
			continue
		}
		removed++
	}
	c.opts.Metrics.ObserveCleaned(removed)
	if report.Metadata != nil {
		c.logger.WithError(report.Metadata).Warn("rewrite metadata failed")
	}
	c.logger.WithField("tarballs_removed", removed).Info("versions cleaned")
	return report, nil
}

// cleanMetadata 从 package.json 中移除指定版本及其 _distfiles 条目后原子写回。
func (c *Cleaner) cleanMetadata(ctx context.Context, metaPath string) error {
	meta, err := metadata.LoadOrTemplate(metaPath, c.req.Name)
	if err != nil {
		return err
	}
	pruned := meta.Clone()
	for _, version := range c.req.Versions.Versions {
		if _, ok := pruned.Versions[version]; !ok {
			continue
		}
		delete(pruned.Versions, version)
		delete(pruned.DistFiles, metadata.DistFileName(c.req.Name, version))
	}
	return metadata.Save(ctx, metaPath, pruned)
}

func (c *Cleaner) cleanTarball(file string) error {
	unlock := c.opts.Locks.Lock(c.req.Name + "/" + file)
	defer unlock()
	return atomicfile.RemoveFile(filepath.Join(c.packageDir(), file))
}
