package storage

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher 按 glob 模式判断包是否为私有包。匹配区分大小写，`*` 不跨越 `/`，
// 因此 `@corp/*` 匹配整个 scoped 名称 `@corp/util`。
type Matcher struct {
	patterns []string
}

// NewMatcher 校验并保存模式列表。
func NewMatcher(patterns []string) (*Matcher, error) {
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid private package pattern %q", pattern)
		}
	}
	return &Matcher{patterns: append([]string(nil), patterns...)}, nil
}

// IsPrivate 在 name 命中任一模式时返回 true；没有配置模式时所有包都是公有包。
func (m *Matcher) IsPrivate(name string) bool {
	if m == nil {
		return false
	}
	for _, pattern := range m.patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Patterns 返回模式列表的副本。
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}
