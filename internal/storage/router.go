package storage

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/tierhub/internal/backend"
	"github.com/any-hub/tierhub/internal/logging"
	"github.com/any-hub/tierhub/internal/metadata"
	"github.com/any-hub/tierhub/internal/metrics"
)

const (
	tierLocal  = "local"
	tierRemote = "remote"
)

// Router 把单个包的存储操作分发到本地或远端。私有属性在每次操作时重新计算。
type Router struct {
	name    string
	matcher *Matcher
	local   *backend.PackageStore
	remote  *backend.PackageStore
	logger  *logrus.Logger
	metrics *metrics.Metrics

	// bg 跟踪回填与后台删除，由 Database.Wait 等待。
	bg *sync.WaitGroup
}

// Name 返回包名。
func (r *Router) Name() string {
	return r.name
}

// IsPrivate 判断当前包是否为私有包。
func (r *Router) IsPrivate() bool {
	return r.matcher.IsPrivate(r.name)
}

func (r *Router) target() (*backend.PackageStore, string) {
	if r.IsPrivate() {
		return r.remote, tierRemote
	}
	return r.local, tierLocal
}

func (r *Router) log(op, tier string) *logrus.Entry {
	return r.logger.WithFields(logging.PackageFields(r.name, tier)).WithField("op", op)
}

func (r *Router) observe(op, tier string, err error) error {
	r.metrics.ObserveStorage(op, tier, err)
	return err
}

// WriteTarball 公有包写本地，私有包写远端，写入时不做本地缓存。
func (r *Router) WriteTarball(ctx context.Context, file string, body io.Reader) error {
	store, tier := r.target()
	r.log("write_tarball", tier).WithField("file", file).Debug("write tarball")
	return r.observe("write_tarball", tier, store.WriteTarball(ctx, file, body))
}

// ReadTarball 公有包从本地读取。私有包优先读本地副本，本地没有时从远端读取，
// 同时把读到的字节回填到本地；回填失败只记录日志，不影响调用方读取。
func (r *Router) ReadTarball(ctx context.Context, file string) (*Tarball, error) {
	if !r.IsPrivate() || r.local.HasTarball(ctx, file) {
		r.log("read_tarball", tierLocal).WithField("file", file).Debug("read tarball")
		obj, err := r.local.ReadTarball(ctx, file)
		if err := r.observe("read_tarball", tierLocal, err); err != nil {
			return nil, err
		}
		return &Tarball{Tier: tierLocal, Size: obj.Size, reader: obj.Reader}, nil
	}

	r.log("read_tarball", tierRemote).WithField("file", file).Debug("read tarball")
	obj, err := r.remote.ReadTarball(ctx, file)
	if err := r.observe("read_tarball", tierRemote, err); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	fill := newFill(file)
	r.startFill(ctx, fill, pr)

	return &Tarball{
		Tier:   tierRemote,
		Size:   obj.Size,
		reader: &teeReader{src: obj.Reader, sink: pw},
		fill:   fill,
	}, nil
}

// startFill 在远端流已打开后开始回填。回填结束时关闭管道读端，使 teeReader
// 的后续写入立即失败而不是阻塞。
func (r *Router) startFill(ctx context.Context, fill *Fill, pr *io.PipeReader) {
	if !fill.start() {
		return
	}
	entry := r.log("cache_fill", tierLocal).WithField("file", fill.file)
	entry.Debug("start sync tarball")

	r.bg.Add(1)
	go func() {
		defer r.bg.Done()

		err := r.local.SyncTarball(context.WithoutCancel(ctx), fill.file, pr)
		pr.CloseWithError(errFillFinished)
		if errors.Is(err, backend.ErrExists) {
			err = errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg("local tarball already exists").
				WithCause(err)
		}
		// 日志与指标必须在 finish 之前完成：finish 之后 err 归 Wait 的调用方所有。
		if err != nil {
			r.metrics.ObserveFill(FillAborted.String())
			entry.WithError(err).Warn("sync tarball aborted")
		} else {
			r.metrics.ObserveFill(FillDone.String())
			entry.Debug("end sync tarball")
		}
		fill.finish(err)
	}()
}

// ReadPackage 读取元数据，按包的私有属性选择存储层。
func (r *Router) ReadPackage(ctx context.Context) (*metadata.Package, error) {
	store, tier := r.target()
	r.log("read_package", tier).Debug("read package")
	pkg, err := store.ReadPackage(ctx)
	return pkg, r.observe("read_package", tier, err)
}

// CreatePackage 创建包元数据。
func (r *Router) CreatePackage(ctx context.Context, pkg *metadata.Package) error {
	store, tier := r.target()
	r.log("create_package", tier).Debug("create package")
	return r.observe("create_package", tier, store.CreatePackage(ctx, pkg))
}

// SavePackage 覆盖写入包元数据。
func (r *Router) SavePackage(ctx context.Context, pkg *metadata.Package) error {
	store, tier := r.target()
	r.log("save_package", tier).Debug("save package")
	return r.observe("save_package", tier, store.SavePackage(ctx, pkg))
}

// UpdatePackage 读改写包元数据。
func (r *Router) UpdatePackage(ctx context.Context, update func(*metadata.Package) error) (*metadata.Package, error) {
	store, tier := r.target()
	r.log("update_package", tier).Debug("update package")
	pkg, err := store.UpdatePackage(ctx, update)
	return pkg, r.observe("update_package", tier, err)
}

// DeletePackage 删除包目录下的单个文件。私有包在后台删除本地副本（失败只记日志），
// 同步删除远端并以远端结果作为返回值。
func (r *Router) DeletePackage(ctx context.Context, file string) error {
	if !r.IsPrivate() {
		r.log("delete_file", tierLocal).WithField("file", file).Debug("delete file")
		return r.observe("delete_file", tierLocal, r.local.DeleteFile(ctx, file))
	}

	r.inBackground(ctx, "delete_file", func(bgCtx context.Context) error {
		if !r.local.HasTarball(bgCtx, file) {
			return nil
		}
		return r.local.DeleteFile(bgCtx, file)
	})

	r.log("delete_file", tierRemote).WithField("file", file).Debug("delete file")
	return r.observe("delete_file", tierRemote, r.remote.DeleteFile(ctx, file))
}

// RemovePackage 删除整个包，远端结果决定返回值，规则同 DeletePackage。
func (r *Router) RemovePackage(ctx context.Context) error {
	if !r.IsPrivate() {
		r.log("remove_package", tierLocal).Debug("remove package")
		return r.observe("remove_package", tierLocal, r.local.RemovePackage(ctx))
	}

	r.inBackground(ctx, "remove_package", func(bgCtx context.Context) error {
		if !r.local.HasPackage(bgCtx) {
			return nil
		}
		return r.local.RemovePackage(bgCtx)
	})

	r.log("remove_package", tierRemote).Debug("remove package")
	return r.observe("remove_package", tierRemote, r.remote.RemovePackage(ctx))
}

func (r *Router) inBackground(ctx context.Context, op string, fn func(context.Context) error) {
	bgCtx := context.WithoutCancel(ctx)
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		err := fn(bgCtx)
		r.observe(op, tierLocal, err)
		if err != nil {
			r.log(op, tierLocal).WithError(err).Error("local cleanup failed")
		}
	}()
}
