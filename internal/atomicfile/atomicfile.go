// Package atomicfile 负责以“临时文件 + rename”的方式落盘，保证目标路径上永远不会出现
// 写了一半的文件。失败时会尽力清理临时文件，并把错误返回给调用方决定是否致命。
package atomicfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
)

// ErrExists 表示独占写入时目标文件已经存在。
var ErrExists = errors.New("target file already exists")

// TempName 生成 `{path}.tmp-{random}` 形式的临时文件名。
func TempName(path string) string {
	return path + ".tmp-" + strconv.FormatUint(rand.Uint64(), 10)
}

// Write 将 src 全量写入 path。目标已存在时先删除再 rename 覆盖。
func Write(ctx context.Context, path string, src io.Reader) error {
	tempPath, err := writeTemp(ctx, path, src)
	if err != nil {
		return err
	}

	if Exists(path) {
		if err := RemoveFile(path); err != nil {
			os.Remove(tempPath)
			return fmt.Errorf("remove existing %s: %w", path, err)
		}
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s: %w", tempPath, err)
	}
	return nil
}

// WriteExclusive 与 Write 相同，但目标已存在时放弃写入并返回 ErrExists，
// 用于 tarball 这类一旦写入就不可变的文件。
func WriteExclusive(ctx context.Context, path string, src io.Reader) error {
	if Exists(path) {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	tempPath, err := writeTemp(ctx, path, src)
	if err != nil {
		return err
	}
	defer os.Remove(tempPath)

	// link 在目标存在时失败，天然具备“不覆盖”语义；不支持硬链接的文件系统退回 rename。
	if err := os.Link(tempPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
		if Exists(path) {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
		if err := os.Rename(tempPath, path); err != nil {
			return fmt.Errorf("rename %s: %w", tempPath, err)
		}
	}
	return nil
}

func writeTemp(ctx context.Context, path string, src io.Reader) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dir for %s: %w", path, err)
	}

	tempPath := TempName(path)
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	_, err = copyWithContext(ctx, f, src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("write %s: %w", tempPath, err)
	}
	return tempPath, nil
}

// Exists 判断路径是否存在（文件或目录）。
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RemoveFile 删除文件，文件本就不存在时视为成功。
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveDir 递归删除目录，目录不存在时视为成功。
func RemoveDir(path string) error {
	return os.RemoveAll(path)
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
