package uplink

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/tierhub/internal/atomicfile"
	"github.com/any-hub/tierhub/internal/backend"
	"github.com/any-hub/tierhub/internal/keylock"
	"github.com/any-hub/tierhub/internal/logging"
	"github.com/any-hub/tierhub/internal/metadata"
	"github.com/any-hub/tierhub/internal/metrics"
	"github.com/any-hub/tierhub/internal/retry"
)

// Options 是进程级依赖，所有同步请求共享。
type Options struct {
	Client    *http.Client
	StorePath string
	// UserAgent 非空时以 "npm (<UserAgent>)" 发送。
	UserAgent string
	Retry     retry.Config
	// Locks 与本地存储层、清理共享，保证同一个包同一时间只有一个维护操作。
	Locks   *keylock.Map
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

// Request 描述一次同步请求。
type Request struct {
	Name     string
	Versions metadata.VersionFilter
	// Uplink 为上游 registry 根地址，例如 https://registry.npmjs.org/。
	Uplink      string
	SyncTarball bool
}

// TarballResult 是单个版本 tarball 的同步结果，Err 为 nil 表示成功。
type TarballResult struct {
	Version string
	File    string
	URL     string
	Err     error
}

// Result 汇总一次完整同步。
type Result struct {
	Metadata *metadata.Package
	Tarballs []TarballResult
}

// Failed 返回失败的 tarball。
func (r *Result) Failed() []TarballResult {
	if r == nil {
		return nil
	}
	var failed []TarballResult
	for _, item := range r.Tarballs {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// Syncer 从上游同步单个包。
type Syncer struct {
	req    Request
	opts   Options
	retry  *retry.Executor
	logger *logrus.Entry
}

// New 校验请求并构造 Syncer。
func New(req Request, opts Options) (*Syncer, error) {
	if err := backend.ValidateName(req.Name); err != nil {
		return nil, invalidArgument("invalid name or version")
	}
	if req.Versions.IsZero() {
		return nil, invalidArgument("invalid name or version")
	}
	parsed, err := url.Parse(req.Uplink)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, invalidArgument("invalid uplink: " + req.Uplink)
	}
	if opts.StorePath == "" {
		return nil, invalidArgument("store path is required")
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Locks == nil {
		opts.Locks = keylock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	logger := opts.Logger.WithFields(logging.MaintenanceFields("sync", req.Name, req.Versions.String(), req.Uplink))
	cfg := opts.Retry
	if cfg.Log == nil {
		cfg.Log = func(msg string) { logger.Debug("[sync] " + msg) }
	}
	return &Syncer{
		req:    req,
		opts:   opts,
		retry:  retry.New(cfg),
		logger: logger,
	}, nil
}

func (s *Syncer) packageDir() string {
	return filepath.Join(s.opts.StorePath, filepath.FromSlash(s.req.Name))
}

// Run 同步元数据，按需同步 tarball。元数据失败直接返回错误；
// 单个 tarball 的失败只记录在 Result 中。
func (s *Syncer) Run(ctx context.Context) (*Result, error) {
	unlock := s.opts.Locks.Lock(s.req.Name)
	defer unlock()

	meta, err := s.syncMetadata(ctx)
	if err != nil {
		return nil, err
	}
	result := &Result{Metadata: meta}
	if s.req.SyncTarball {
		result.Tarballs = s.batchSyncTarball(ctx, meta)
	}
	return result, nil
}

// SyncMetadata 拉取上游元数据，与本地 package.json（不存在时使用空模板）合并后原子写回。
func (s *Syncer) SyncMetadata(ctx context.Context) (*metadata.Package, error) {
	unlock := s.opts.Locks.Lock(s.req.Name)
	defer unlock()
	return s.syncMetadata(ctx)
}

func (s *Syncer) syncMetadata(ctx context.Context) (*metadata.Package, error) {
	remote, err := s.fetchMetadata(ctx)
	if err != nil {
		return nil, err
	}

	file := metadata.Path(s.opts.StorePath, s.req.Name)
	local, err := metadata.LoadOrTemplate(file, s.req.Name)
	if err != nil {
		return nil, internal("read local metadata failed", err)
	}

	merged := metadata.Merge(s.req.Versions, local, remote)
	if err := metadata.Save(ctx, file, merged); err != nil {
		return nil, internal("write metadata failed", err)
	}
	s.logger.WithField("versions_total", len(merged.Versions)).Info("metadata synced")
	return merged, nil
}

func (s *Syncer) fetchMetadata(ctx context.Context) (*metadata.Package, error) {
	target := MetadataURL(s.req.Uplink, s.req.Name)
	s.logger.WithField("url", target).Debug("fetch metadata")

	resp, err := s.get(ctx, kindMetadata, target)
	if err != nil {
		return nil, internal(err.Error(), err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	body, err := responseBody(resp)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	pkg, err := metadata.Decode(data)
	if err != nil {
		return nil, internal("invalid uplink metadata", err)
	}
	if pkg.Name == "" {
		pkg.Name = s.req.Name
	}
	return pkg, nil
}

// FetchTarball 下载 tarball 并返回响应流。404 返回 NotFound，其它非 2xx 返回
// InternalError；读到结尾时字节数与 Content-Length 不符，或中途传输失败，
// Read 返回 content length mismatch。
func (s *Syncer) FetchTarball(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	s.logger.WithField("url", rawURL).Debug("fetch tarball")
	resp, err := s.get(ctx, kindTarball, rawURL)
	if err != nil {
		return nil, contentMismatch(err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return responseBody(resp)
}

// SyncTarball 下载一个版本的 tarball 并原子写入包目录。
func (s *Syncer) SyncTarball(ctx context.Context, version, rawURL string) error {
	file := metadata.DistFileName(s.req.Name, version)
	unlock := s.opts.Locks.Lock(s.req.Name + "/" + file)
	defer unlock()

	body, err := s.FetchTarball(ctx, rawURL)
	if err != nil {
		s.opts.Metrics.ObserveTarballSync(err)
		return err
	}
	defer body.Close()

	err = atomicfile.Write(ctx, filepath.Join(s.packageDir(), file), body)
	if failed := streamErr(body); err != nil && failed != nil {
		err = failed
	}
	s.opts.Metrics.ObserveTarballSync(err)
	return err
}

// BatchSyncTarball 并发同步 meta 中被请求的版本，等待全部完成后按版本号顺序
// 返回每个版本的结果，单个失败不影响其它版本。
func (s *Syncer) BatchSyncTarball(ctx context.Context, meta *metadata.Package) []TarballResult {
	unlock := s.opts.Locks.Lock(s.req.Name)
	defer unlock()
	return s.batchSyncTarball(ctx, meta)
}

func (s *Syncer) batchSyncTarball(ctx context.Context, meta *metadata.Package) []TarballResult {
	if meta == nil {
		return nil
	}
	versions := make([]string, 0, len(meta.Versions))
	for version := range meta.Versions {
		if s.req.Versions.Includes(version) {
			versions = append(versions, version)
		}
	}
	sort.Strings(versions)
	s.logger.WithField("tarballs", versions).Debug("versions to sync")

	results := make([]TarballResult, len(versions))
	var wg sync.WaitGroup
	for i, version := range versions {
		file := metadata.DistFileName(s.req.Name, version)
		results[i] = TarballResult{Version: version, File: file, URL: tarballURL(meta, file, version)}
		if results[i].URL == "" {
			results[i].Err = notFound("no tarball url for version " + version)
			continue
		}

		wg.Add(1)
		go func(item *TarballResult) {
			defer wg.Done()
			item.Err = s.SyncTarball(ctx, item.Version, item.URL)
		}(&results[i])
	}
	wg.Wait()

	for _, item := range results {
		entry := s.logger.WithField("file", item.File)
		if item.Err != nil {
			entry.WithError(item.Err).Warn("sync tarball failed")
			continue
		}
		entry.Debug("tarball synced")
	}
	return results
}

// tarballURL 优先取 _distfiles 中登记的地址，缺失时退回版本自身的 dist.tarball。
func tarballURL(meta *metadata.Package, file, version string) string {
	if dist, ok := meta.DistFiles[file]; ok && dist.URL != "" {
		return dist.URL
	}
	return meta.Versions[version].TarballURL()
}
