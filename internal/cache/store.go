// Package cache 提供 HTTP 响应缓存：显式注入的 Store 接口、磁盘实现，
// 以及负责键派生/Range 归并/写入调度的 Manager。缓存永远是尽力而为，
// 任何后端错误都不会影响请求本身。
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"
)

// Key 唯一定位一个缓存条目。同一资源存在两个变体：
// “按请求”键携带客户端的 Range 头，“完整内容”键去掉 Range，
// 避免子区间请求把存储碎片化。
type Key struct {
	URL    string
	Method string
	Range  string
}

// FullContent 返回去掉 Range 的完整内容键变体。
func (k Key) FullContent() Key {
	k.Range = ""
	return k
}

// Digest 返回键的稳定摘要，磁盘实现用它决定文件布局。
func (k Key) Digest() string {
	sum := sha1.Sum([]byte(k.URL + "\n" + k.Method + "\n" + k.Range))
	return hex.EncodeToString(sum[:])
}

// Entry 描述一次缓存命中，包含写入时保存的响应元数据。
type Entry struct {
	Key        Key
	StatusCode int
	Header     http.Header
	SizeBytes  int64
	ModTime    time.Time
	FilePath   string
}

// ReadResult 组合 Entry 与正文 Reader，便于上层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// PutOptions 携带写入时需要持久化的响应元数据。
type PutOptions struct {
	StatusCode int
	Header     http.Header
	ModTime    time.Time
}

// Store 是显式注入的缓存后端抽象。实现需通过临时文件 + rename 保证
// 写入原子性。nil Store 合法地表示“无缓存后端”。
type Store interface {
	// Get 返回可流式读取的缓存条目，不存在时返回 ErrNotFound。
	Get(ctx context.Context, key Key) (*ReadResult, error)

	// Put 将响应正文与元数据写入缓存。
	Put(ctx context.Context, key Key, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除条目，不存在时不报错。
	Remove(ctx context.Context, key Key) error
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
