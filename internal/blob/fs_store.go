package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/any-hub/tierhub/internal/atomicfile"
)

// FSStore 以 basePath 为根目录在本地磁盘保存对象，写入通过 atomicfile 完成。
type FSStore struct {
	basePath string
}

// NewFSStore 构建磁盘存储，必要时创建根目录。
func NewFSStore(basePath string) (*FSStore, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return &FSStore{basePath: abs}, nil
}

// Root 返回存储根目录的绝对路径。
func (s *FSStore) Root() string {
	return s.basePath
}

func (s *FSStore) Open(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := s.Path(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Object{
		Key:     key,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Reader:  f,
	}, nil
}

func (s *FSStore) Write(ctx context.Context, key string, body io.Reader) error {
	filePath, err := s.Path(key)
	if err != nil {
		return err
	}
	return atomicfile.Write(ctx, filePath, body)
}

func (s *FSStore) WriteNew(ctx context.Context, key string, body io.Reader) error {
	filePath, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := atomicfile.WriteExclusive(ctx, filePath, body); err != nil {
		if errors.Is(err, atomicfile.ErrExists) {
			return fmt.Errorf("%s: %w", key, ErrExists)
		}
		return err
	}
	return nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := s.Path(key)
	if err != nil {
		return err
	}
	return atomicfile.RemoveFile(filePath)
}

func (s *FSStore) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.Path(prefix)
	if err != nil {
		return err
	}
	return atomicfile.RemoveDir(dir)
}

func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	filePath, err := s.Path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// List 并发遍历 prefix 对应的目录，跳过写入中的临时文件，结果按 key 排序。
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	root := s.basePath
	if strings.Trim(prefix, "/") != "" {
		dir, err := s.Path(prefix)
		if err != nil {
			return nil, err
		}
		root = dir
	}
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var (
		mu   sync.Mutex
		keys []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.Contains(d.Name(), ".tmp-") {
			return nil
		}
		rel, relErr := filepath.Rel(s.basePath, p)
		if relErr != nil {
			return relErr
		}
		mu.Lock()
		keys = append(keys, filepath.ToSlash(rel))
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Path 将 key 映射为根目录下的绝对路径，拒绝逃出根目录的 key。
func (s *FSStore) Path(key string) (string, error) {
	rel := path.Clean("/" + key)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." {
		return "", ErrInvalidKey
	}

	filePath := filepath.Join(s.basePath, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, s.basePath+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return filePath, nil
}
