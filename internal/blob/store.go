package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 是存储层依赖的最小对象存储契约。
type Store interface {
	// Open 返回可流式读取的对象，不存在时返回 ErrNotFound。
	Open(ctx context.Context, key string) (*Object, error)

	// Write 原子写入对象，已存在时覆盖。
	Write(ctx context.Context, key string, body io.Reader) error

	// WriteNew 与 Write 相同，但对象已存在时返回 ErrExists 且不覆盖。
	WriteNew(ctx context.Context, key string, body io.Reader) error

	// Delete 删除单个对象，对象不存在视为成功。
	Delete(ctx context.Context, key string) error

	// DeletePrefix 删除 prefix 之下的全部对象，prefix 为空时拒绝执行。
	DeletePrefix(ctx context.Context, prefix string) error

	// Exists 判断对象是否存在。
	Exists(ctx context.Context, key string) (bool, error)

	// List 返回 prefix 之下全部对象的 key。
	List(ctx context.Context, prefix string) ([]string, error)
}

// Object 组合对象信息与正文 Reader，调用方负责关闭 Reader。
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
	Reader  io.ReadCloser
}

var (
	// ErrNotFound 表示对象不存在。
	ErrNotFound = errors.New("blob not found")
	// ErrExists 表示独占写入时对象已存在。
	ErrExists = errors.New("blob already exists")
	// ErrInvalidKey 表示 key 为空或试图逃出存储根目录。
	ErrInvalidKey = errors.New("invalid blob key")
)

// ReadAll 读取整个对象并关闭 Reader。
func ReadAll(ctx context.Context, store Store, key string) ([]byte, error) {
	obj, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer obj.Reader.Close()
	return io.ReadAll(obj.Reader)
}
