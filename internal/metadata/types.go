// Package metadata 定义 npm 包元数据（package.json 文档）的结构，以及同步时使用的
// 合并、模板与读写工具。未识别的 JSON 字段会原样保留，重新落盘时不会丢失。
package metadata

import (
	"bytes"
	"encoding/json"
	"maps"
	"path"
)

// Package 对应存储目录下的 package.json。
type Package struct {
	Name        string              `json:"name"`
	Versions    map[string]*Version `json:"versions"`
	Time        map[string]any      `json:"time"`
	Users       map[string]any      `json:"users"`
	DistTags    map[string]string   `json:"dist-tags"`
	Uplinks     map[string]any      `json:"_uplinks"`
	DistFiles   map[string]DistFile `json:"_distfiles"`
	Attachments map[string]any      `json:"_attachments"`
	Rev         string              `json:"_rev"`
	ID          string              `json:"_id,omitempty"`
	Readme      string              `json:"readme,omitempty"`

	// Extra 保存上述字段之外的顶层字段。
	Extra map[string]json.RawMessage `json:"-"`
}

// Version 描述单个版本，常用字段之外的内容保存在 Extra。
type Version struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Readme  string `json:"readme,omitempty"`
	Dist    *Dist  `json:"dist,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Dist 是版本的发布产物信息。
type Dist struct {
	Tarball string `json:"tarball,omitempty"`
	Shasum  string `json:"shasum,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// DistFile 记录 tarball 文件名对应的上游地址与校验和。
type DistFile struct {
	URL string `json:"url"`
	Sha string `json:"sha,omitempty"`
}

var (
	packageKeys = []string{"name", "versions", "time", "users", "dist-tags", "_uplinks", "_distfiles", "_attachments", "_rev", "_id", "readme"}
	versionKeys = []string{"name", "version", "readme", "dist"}
	distKeys    = []string{"tarball", "shasum"}
)

// NewTemplate 生成一个只有包名的空元数据，本地尚无 package.json 时用作合并起点。
func NewTemplate(name string) *Package {
	p := &Package{Name: name}
	p.ensureMaps()
	return p
}

// DistFileName 返回版本 tarball 在包目录中的文件名。scoped 包只取 `/` 之后的部分，
// 与 npm tarball URL 的最后一段保持一致。
func DistFileName(name, version string) string {
	return path.Base(name) + "-" + version + ".tgz"
}

// TarballURL 返回版本声明的 tarball 地址，没有时返回空串。
func (v *Version) TarballURL() string {
	if v == nil || v.Dist == nil {
		return ""
	}
	return v.Dist.Tarball
}

func (p *Package) ensureMaps() {
	if p.Versions == nil {
		p.Versions = map[string]*Version{}
	}
	if p.Time == nil {
		p.Time = map[string]any{}
	}
	if p.Users == nil {
		p.Users = map[string]any{}
	}
	if p.DistTags == nil {
		p.DistTags = map[string]string{}
	}
	if p.Uplinks == nil {
		p.Uplinks = map[string]any{}
	}
	if p.DistFiles == nil {
		p.DistFiles = map[string]DistFile{}
	}
	if p.Attachments == nil {
		p.Attachments = map[string]any{}
	}
}

// UnmarshalJSON 解析已知字段并把其余字段收集到 Extra，缺失的集合字段补成空 map。
func (p *Package) UnmarshalJSON(data []byte) error {
	type plain Package
	if err := json.Unmarshal(data, (*plain)(p)); err != nil {
		return err
	}
	extra, err := splitExtra(data, packageKeys)
	if err != nil {
		return err
	}
	p.Extra = extra
	p.ensureMaps()
	return nil
}

// MarshalJSON 输出已知字段，并合并 Extra 中的其余字段。
func (p *Package) MarshalJSON() ([]byte, error) {
	type plain Package
	base, err := json.Marshal((*plain)(p))
	if err != nil {
		return nil, err
	}
	return joinExtra(base, p.Extra)
}

func (v *Version) UnmarshalJSON(data []byte) error {
	type plain Version
	if err := json.Unmarshal(data, (*plain)(v)); err != nil {
		return err
	}
	extra, err := splitExtra(data, versionKeys)
	if err != nil {
		return err
	}
	v.Extra = extra
	return nil
}

func (v *Version) MarshalJSON() ([]byte, error) {
	type plain Version
	base, err := json.Marshal((*plain)(v))
	if err != nil {
		return nil, err
	}
	return joinExtra(base, v.Extra)
}

func (d *Dist) UnmarshalJSON(data []byte) error {
	type plain Dist
	if err := json.Unmarshal(data, (*plain)(d)); err != nil {
		return err
	}
	extra, err := splitExtra(data, distKeys)
	if err != nil {
		return err
	}
	d.Extra = extra
	return nil
}

func (d *Dist) MarshalJSON() ([]byte, error) {
	type plain Dist
	base, err := json.Marshal((*plain)(d))
	if err != nil {
		return nil, err
	}
	return joinExtra(base, d.Extra)
}

func splitExtra(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, key := range known {
		delete(all, key)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func joinExtra(base []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, value := range extra {
		if _, ok := merged[key]; !ok {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// Clone 深拷贝元数据，合并等纯函数通过它避免修改入参。
func (p *Package) Clone() *Package {
	if p == nil {
		return nil
	}
	out := *p
	out.Versions = make(map[string]*Version, len(p.Versions))
	for key, version := range p.Versions {
		out.Versions[key] = version.Clone()
	}
	out.Time = cloneAnyMap(p.Time)
	out.Users = cloneAnyMap(p.Users)
	out.Uplinks = cloneAnyMap(p.Uplinks)
	out.Attachments = cloneAnyMap(p.Attachments)
	out.DistTags = maps.Clone(p.DistTags)
	out.DistFiles = maps.Clone(p.DistFiles)
	out.Extra = cloneRaw(p.Extra)
	out.ensureMaps()
	return &out
}

// Clone 深拷贝单个版本。
func (v *Version) Clone() *Version {
	if v == nil {
		return nil
	}
	out := *v
	if v.Dist != nil {
		dist := *v.Dist
		dist.Extra = cloneRaw(v.Dist.Extra)
		out.Dist = &dist
	}
	out.Extra = cloneRaw(v.Extra)
	return &out
}

func cloneRaw(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for key, value := range in {
		out[key] = bytes.Clone(value)
	}
	return out
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneAny(value)
	}
	return out
}

func cloneAny(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneAnyMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneAny(item)
		}
		return out
	default:
		return value
	}
}
