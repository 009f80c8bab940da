// Package platforms 维护 platform key 到上游 origin 的静态映射，并负责
// 把客户端路径解析成 (key, 剩余路径) 以及按平台规则重写路径。
package platforms

import (
	"sort"
	"strings"
)

// Registry 持有 key → origin 映射与确定性的前缀匹配顺序。
// 构建后只读，允许并发读取。
type Registry struct {
	bases   map[string]string
	ordered []candidate
}

type candidate struct {
	key    string
	prefix string
}

// NewRegistry 基于给定映射构建注册表。候选前缀按长度降序排列，
// 同长度时按键名排序，保证 cr-docker（/cr/docker/）永远优先于
// 任何更短的重叠键。
func NewRegistry(table map[string]string) *Registry {
	r := &Registry{
		bases:   make(map[string]string, len(table)),
		ordered: make([]candidate, 0, len(table)),
	}
	for key, base := range table {
		r.bases[key] = strings.TrimSuffix(base, "/")
		r.ordered = append(r.ordered, candidate{key: key, prefix: PrefixFor(key)})
	}
	sort.Slice(r.ordered, func(i, j int) bool {
		if len(r.ordered[i].prefix) != len(r.ordered[j].prefix) {
			return len(r.ordered[i].prefix) > len(r.ordered[j].prefix)
		}
		return r.ordered[i].key < r.ordered[j].key
	})
	return r
}

// NewDefaultRegistry 返回使用内置平台表的注册表。
func NewDefaultRegistry() *Registry {
	return NewRegistry(Defaults)
}

// PrefixFor 把 key 转成客户端路径前缀：连字符展开为路径分隔符。
func PrefixFor(key string) string {
	return "/" + strings.ReplaceAll(key, "-", "/") + "/"
}

// BaseURL 返回指定平台的上游 origin。
func (r *Registry) BaseURL(key string) (string, bool) {
	base, ok := r.bases[key]
	return base, ok
}

// Keys 返回全部注册键（无序），供诊断输出使用。
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.bases))
	for key := range r.bases {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Resolve 把客户端路径解析为 (key, 剩余路径)。解析失败不是错误，
// 调用方通常会重定向到落地页。
func (r *Registry) Resolve(path string) (string, string, bool) {
	if path == "" || path == "/" {
		return "", "", false
	}
	for _, cand := range r.ordered {
		if strings.HasPrefix(path, cand.prefix) {
			return cand.key, "/" + strings.TrimPrefix(path, cand.prefix), true
		}
		if path == strings.TrimSuffix(cand.prefix, "/") {
			return cand.key, "/", true
		}
	}

	// 兜底：取第一个路径段作为候选键，支持无前缀的单段键写法。
	trimmed := strings.TrimPrefix(path, "/")
	seg := trimmed
	rest := ""
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		seg = trimmed[:idx]
		rest = trimmed[idx:]
	}
	if _, ok := r.bases[seg]; ok {
		if rest == "" {
			rest = "/"
		}
		return seg, rest, true
	}
	return "", "", false
}

// IsContainerRegistry 判断 key 是否为容器镜像仓库平台。
func IsContainerRegistry(key string) bool {
	return strings.HasPrefix(key, "cr-")
}

// IsInference 判断 key 是否为 AI 推理平台。
func IsInference(key string) bool {
	return strings.HasPrefix(key, "ip-")
}
