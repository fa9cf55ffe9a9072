package metadata

import (
	"encoding/json"
	"fmt"
	"slices"
)

const allVersions = "all"

// VersionFilter 描述一次维护操作涉及的版本：要么是全部版本，要么是显式列表。
type VersionFilter struct {
	All      bool
	Versions []string
}

// AllVersions 返回匹配全部版本的过滤器。
func AllVersions() VersionFilter {
	return VersionFilter{All: true}
}

// Only 返回只匹配给定版本的过滤器。
func Only(versions ...string) VersionFilter {
	if versions == nil {
		versions = []string{}
	}
	return VersionFilter{Versions: versions}
}

// IsZero 表示请求里没有提供 version 字段。显式的空列表不算缺失。
func (f VersionFilter) IsZero() bool {
	return !f.All && f.Versions == nil
}

// Includes 判断版本是否被过滤器选中。
func (f VersionFilter) Includes(version string) bool {
	if f.All {
		return true
	}
	return slices.Contains(f.Versions, version)
}

func (f VersionFilter) String() string {
	if f.All {
		return allVersions
	}
	return fmt.Sprintf("%v", f.Versions)
}

// UnmarshalJSON 接受 "all"、单个版本字符串或版本数组。
func (f *VersionFilter) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == allVersions {
			*f = AllVersions()
			return nil
		}
		if single == "" {
			return fmt.Errorf("version must not be empty")
		}
		*f = Only(single)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("version must be %q or a list of versions", allVersions)
	}
	*f = Only(list...)
	return nil
}

func (f VersionFilter) MarshalJSON() ([]byte, error) {
	if f.All {
		return json.Marshal(allVersions)
	}
	return json.Marshal(f.Versions)
}
