package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/any-hub/tierhub/internal/atomicfile"
)

// FileName 是包目录中元数据文件的名字。
const FileName = "package.json"

// Path 返回 storePath 下某个包的元数据路径。
func Path(storePath, name string) string {
	return filepath.Join(storePath, filepath.FromSlash(name), FileName)
}

// Decode 解析 package.json 内容。
func Decode(data []byte) (*Package, error) {
	var pkg Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// Encode 以两个空格缩进序列化元数据。
func Encode(pkg *Package) ([]byte, error) {
	raw, err := json.Marshal(pkg)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Load 读取磁盘上的元数据。文件不存在时返回 fs.ErrNotExist。
func Load(file string) (*Package, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	pkg, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}
	return pkg, nil
}

// LoadOrTemplate 读取元数据，文件不存在时返回 name 对应的空模板。
func LoadOrTemplate(file, name string) (*Package, error) {
	pkg, err := Load(file)
	if errors.Is(err, fs.ErrNotExist) {
		return NewTemplate(name), nil
	}
	return pkg, err
}

// Save 原子写入元数据。
func Save(ctx context.Context, file string, pkg *Package) error {
	data, err := Encode(pkg)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return atomicfile.Write(ctx, file, bytes.NewReader(data))
}
