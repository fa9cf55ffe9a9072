package storage

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/any-hub/tierhub/internal/backend"
	"github.com/any-hub/tierhub/internal/blob"
)

// recordingStore 包装 FSStore，记录每个方法的调用次数，并允许注入故障。
type recordingStore struct {
	*blob.FSStore

	mu    sync.Mutex
	calls map[string]int

	// hideExisting 为正时，Exists 先返回 false 若干次，用于模拟并发写入的竞态。
	hideExisting int
	openWrap     func(io.ReadCloser) io.ReadCloser
	deleteErr    error
}

func newRecordingStore(t *testing.T) *recordingStore {
	t.Helper()
	fs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	return &recordingStore{FSStore: fs, calls: map[string]int{}}
}

func (s *recordingStore) record(method string) {
	s.mu.Lock()
	s.calls[method]++
	s.mu.Unlock()
}

func (s *recordingStore) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *recordingStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, n := range s.calls {
		sum += n
	}
	return sum
}

func (s *recordingStore) Open(ctx context.Context, key string) (*blob.Object, error) {
	s.record("Open")
	obj, err := s.FSStore.Open(ctx, key)
	if err == nil && s.openWrap != nil {
		obj.Reader = s.openWrap(obj.Reader)
	}
	return obj, err
}

func (s *recordingStore) Write(ctx context.Context, key string, body io.Reader) error {
	s.record("Write")
	return s.FSStore.Write(ctx, key, body)
}

func (s *recordingStore) WriteNew(ctx context.Context, key string, body io.Reader) error {
	s.record("WriteNew")
	return s.FSStore.WriteNew(ctx, key, body)
}

func (s *recordingStore) Delete(ctx context.Context, key string) error {
	s.record("Delete")
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.FSStore.Delete(ctx, key)
}

func (s *recordingStore) DeletePrefix(ctx context.Context, prefix string) error {
	s.record("DeletePrefix")
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.FSStore.DeletePrefix(ctx, prefix)
}

func (s *recordingStore) Exists(ctx context.Context, key string) (bool, error) {
	s.record("Exists")
	s.mu.Lock()
	hide := s.hideExisting > 0
	if hide {
		s.hideExisting--
	}
	s.mu.Unlock()
	if hide {
		return false, nil
	}
	return s.FSStore.Exists(ctx, key)
}

func (s *recordingStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.record("List")
	return s.FSStore.List(ctx, prefix)
}

type testTiers struct {
	db     *Database
	local  *recordingStore
	remote *recordingStore
}

func newTestTiers(t *testing.T, private ...string) testTiers {
	t.Helper()
	local := newRecordingStore(t)
	remote := newRecordingStore(t)
	db, err := NewDatabase(DatabaseOptions{
		Local:           backend.New(local, backend.Options{Tier: "local"}),
		Remote:          backend.New(remote, backend.Options{Tier: "remote"}),
		PrivatePackages: private,
	})
	if err != nil {
		t.Fatalf("new database: %v", err)
	}
	return testTiers{db: db, local: local, remote: remote}
}

// failingReader 在读出 limit 字节后返回 err。
type failingReader struct {
	src   io.ReadCloser
	limit int
	err   error
	read  int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.read >= r.limit {
		return 0, r.err
	}
	if len(p) > r.limit-r.read {
		p = p[:r.limit-r.read]
	}
	n, err := r.src.Read(p)
	r.read += n
	return n, err
}

func (r *failingReader) Close() error {
	return r.src.Close()
}
