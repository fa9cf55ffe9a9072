package metadata

import (
	"net/url"
	"path"
	"strings"
)

// readmeTagPriority 为 latest 之外兜底读取 readme 的 dist-tag 顺序。
var readmeTagPriority = []string{"next", "beta", "alpha", "test", "dev", "canary"}

// Merge 以 local 为基础合并 remote，返回新对象，不修改任何入参，也不负责落盘。
// 显式版本列表只作用于 remote 的版本集合。
func Merge(filter VersionFilter, local, remote *Package) *Package {
	if remote == nil {
		return local.Clone()
	}
	if local == nil {
		local = NewTemplate(remote.Name)
	}
	merged := local.Clone()

	remoteVersions := make(map[string]*Version, len(remote.Versions))
	for key, version := range remote.Versions {
		if filter.Includes(key) {
			remoteVersions[key] = version
		}
	}

	merged.Readme = LatestReadme(remote.Readme, remoteVersions, remote.DistTags)

	for key, version := range remoteVersions {
		merged.Versions[key] = version.Clone()
	}

	// _distfiles 按合并后的版本重建，不再对应任何版本的条目被丢弃。
	merged.DistFiles = make(map[string]DistFile, len(merged.Versions))
	for _, version := range merged.Versions {
		tarball := version.TarballURL()
		if tarball == "" {
			continue
		}
		name := tarballFileName(tarball)
		if name == "" {
			continue
		}
		merged.DistFiles[name] = DistFile{URL: tarball, Sha: version.Dist.Shasum}
	}

	for tag, version := range remote.DistTags {
		if current, ok := merged.DistTags[tag]; !ok || current != version {
			merged.DistTags[tag] = version
		}
	}

	if remote.Rev != "" {
		merged.Rev = remote.Rev
	}
	if remote.ID != "" {
		merged.ID = remote.ID
	}
	if len(remote.Time) > 0 {
		merged.Time = cloneAnyMap(remote.Time)
	}
	return merged
}

// LatestReadme 按 包级 readme、latest 版本、next/beta/alpha/test/dev/canary 的顺序
// 取第一个非空 readme，均为空时返回空串。
func LatestReadme(readme string, versions map[string]*Version, distTags map[string]string) string {
	if trimmed := strings.TrimSpace(readme); trimmed != "" {
		return trimmed
	}
	if trimmed := strings.TrimSpace(taggedReadme(versions, distTags, "latest")); trimmed != "" {
		return trimmed
	}
	for _, tag := range readmeTagPriority {
		if trimmed := strings.TrimSpace(taggedReadme(versions, distTags, tag)); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func taggedReadme(versions map[string]*Version, distTags map[string]string, tag string) string {
	target, ok := distTags[tag]
	if !ok {
		return ""
	}
	version := versions[target]
	if version == nil {
		return ""
	}
	return version.Readme
}

// tarballFileName 取 tarball URL 路径的最后一段。
func tarballFileName(raw string) string {
	if parsed, err := url.Parse(raw); err == nil && parsed.Path != "" {
		return path.Base(parsed.Path)
	}
	return path.Base(raw)
}
