package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSStore 将对象保存在 Cloud Storage bucket 中，所有 key 都挂在 prefix 之下。
// 对象在 Writer 成功 Close 之前对读者不可见，因此写入天然原子。
type GCSStore struct {
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSStore 基于已有 client 构建存储。
func NewGCSStore(client *storage.Client, bucket, prefix string) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("gcs client required")
	}
	if bucket == "" {
		return nil, errors.New("gcs bucket required")
	}
	return &GCSStore{
		bucket: client.Bucket(bucket),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *GCSStore) Open(ctx context.Context, key string) (*Object, error) {
	name, err := s.objectName(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open gs object %s: %w", name, err)
	}
	return &Object{
		Key:     key,
		Size:    reader.Attrs.Size,
		ModTime: reader.Attrs.LastModified,
		Reader:  reader,
	}, nil
}

func (s *GCSStore) Write(ctx context.Context, key string, body io.Reader) error {
	name, err := s.objectName(key)
	if err != nil {
		return err
	}
	return s.upload(ctx, s.bucket.Object(name), body)
}

func (s *GCSStore) WriteNew(ctx context.Context, key string, body io.Reader) error {
	name, err := s.objectName(key)
	if err != nil {
		return err
	}
	obj := s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true})
	if err := s.upload(ctx, obj, body); err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("%s: %w", key, ErrExists)
		}
		return err
	}
	return nil
}

// upload 失败时取消上下文，放弃尚未提交的对象。
func (s *GCSStore) upload(ctx context.Context, obj *storage.ObjectHandle, body io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := obj.NewWriter(ctx)
	if _, err := io.Copy(w, body); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("upload gs object %s: %w", obj.ObjectName(), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("commit gs object %s: %w", obj.ObjectName(), err)
	}
	return nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	name, err := s.objectName(key)
	if err != nil {
		return err
	}
	if err := s.bucket.Object(name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gs object %s: %w", name, err)
	}
	return nil
}

func (s *GCSStore) DeletePrefix(ctx context.Context, prefix string) error {
	if strings.Trim(prefix, "/") == "" {
		return ErrInvalidKey
	}
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	name, err := s.objectName(key)
	if err != nil {
		return false, err
	}
	if _, err := s.bucket.Object(name).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat gs object %s: %w", name, err)
	}
	return true, nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	query := &storage.Query{Prefix: s.listPrefix(prefix)}
	it := s.bucket.Objects(ctx, query)

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs objects: %w", err)
		}
		keys = append(keys, s.keyOf(attrs.Name))
	}
	return keys, nil
}

func (s *GCSStore) objectName(key string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+key), "/")
	if rel == "" {
		return "", ErrInvalidKey
	}
	if s.prefix == "" {
		return rel, nil
	}
	return s.prefix + "/" + rel, nil
}

func (s *GCSStore) listPrefix(prefix string) string {
	rel := strings.Trim(prefix, "/")
	switch {
	case rel == "" && s.prefix == "":
		return ""
	case rel == "":
		return s.prefix + "/"
	case s.prefix == "":
		return rel + "/"
	default:
		return s.prefix + "/" + rel + "/"
	}
}

func (s *GCSStore) keyOf(name string) string {
	if s.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, s.prefix+"/")
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusPreconditionFailed
	}
	return false
}
