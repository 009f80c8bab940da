package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler 是后台任务接收器的最小接口，缓存写入通过它脱离响应路径。
type Scheduler interface {
	Schedule(task func())
}

// Manager 负责缓存键派生、查找（含 Range 归并）与写入调度。
// store 为 nil 时所有操作都静默退化为未命中。
type Manager struct {
	store  Store
	ttl    time.Duration
	logger *logrus.Logger
}

// NewManager 构造 Manager。ttl 用于 Cache-Control 输出。
func NewManager(store Store, ttl time.Duration, logger *logrus.Logger) *Manager {
	return &Manager{store: store, ttl: ttl, logger: logger}
}

// Served 是缓存层产出的响应：命中条目或由完整内容合成的 206。
type Served struct {
	StatusCode    int
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

var sensitiveHeaders = []string{"Authorization", "Cookie", "Proxy-Authorization"}

// HasSensitiveHeaders 判断请求是否携带不可缓存的敏感头。
func HasSensitiveHeaders(header http.Header) bool {
	for _, name := range sensitiveHeaders {
		if header.Get(name) != "" {
			return true
		}
	}
	return false
}

// RequestKey 基于目标 URL 构建“按请求”键。缓存键的方法固定为 GET：
// 底层存储按头全等匹配，Range 是键的一部分。
func RequestKey(targetURL string, header http.Header) Key {
	return Key{
		URL:    targetURL,
		Method: http.MethodGet,
		Range:  strings.TrimSpace(header.Get("Range")),
	}
}

// Lookup 先用按请求键探测；未命中且请求带 Range 时退回完整内容键，
// 并由完整对象合成字节区间响应。
func (m *Manager) Lookup(ctx context.Context, key Key) (*Served, bool) {
	if m.store == nil {
		return nil, false
	}

	if result, err := m.get(ctx, key); err == nil {
		return serveEntry(result), true
	}

	if key.Range == "" {
		return nil, false
	}
	result, err := m.get(ctx, key.FullContent())
	if err != nil {
		return nil, false
	}
	served, ok := m.sliceRange(result, key.Range)
	if !ok {
		result.Reader.Close()
		return nil, false
	}
	return served, true
}

// StoreAndReconcile 按策略写入缓存。仅 GET+200 可写；带 Range 的请求
// 以完整内容键同步写入并立刻重探按请求键，让存储合成精确的 206 替换
// 在途响应。其余情况通过 sink 在后台写入。返回非 nil 时调用方应以
// 返回值替换原响应。
func (m *Manager) StoreAndReconcile(
	ctx context.Context,
	key Key,
	status int,
	header http.Header,
	body []byte,
	sink Scheduler,
) *Served {
	if m.store == nil || key.Method != http.MethodGet || status != http.StatusOK {
		return nil
	}

	storeKey := key
	if key.Range != "" {
		storeKey = key.FullContent()
	}
	opts := PutOptions{
		StatusCode: status,
		Header:     storableHeader(header),
		ModTime:    extractModTime(header),
	}

	if key.Range != "" {
		m.write(ctx, storeKey, body, opts)
		if served, ok := m.Lookup(ctx, key); ok {
			return served
		}
		return nil
	}

	write := func() {
		m.write(context.Background(), storeKey, body, opts)
	}
	if sink != nil {
		sink.Schedule(write)
	} else {
		go write()
	}
	return nil
}

// ApplyPolicy 设置对外的缓存控制头。敏感请求标记为不可缓存并合并 Vary。
func (m *Manager) ApplyPolicy(header http.Header, sensitive bool) {
	if sensitive {
		header.Set("Cache-Control", "private, no-store")
		header.Set("Vary", mergeVary(header.Get("Vary"), "Authorization", "Cookie"))
		return
	}
	header.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(m.ttl.Seconds())))
}

func (m *Manager) get(ctx context.Context, key Key) (*ReadResult, error) {
	result, err := m.store.Get(ctx, key)
	if err != nil {
		if err != ErrNotFound && m.logger != nil {
			m.logger.WithError(err).WithField("action", "cache_get").Warn("cache_get_failed")
		}
		return nil, err
	}
	return result, nil
}

func (m *Manager) write(ctx context.Context, key Key, body []byte, opts PutOptions) {
	if _, err := m.store.Put(ctx, key, bytes.NewReader(body), opts); err != nil && m.logger != nil {
		m.logger.WithError(err).WithField("action", "cache_put").Warn("cache_put_failed")
	}
}

func serveEntry(result *ReadResult) *Served {
	header := cloneHeader(result.Entry.Header)
	header.Set("Content-Length", strconv.FormatInt(result.Entry.SizeBytes, 10))
	return &Served{
		StatusCode:    result.Entry.StatusCode,
		Header:        header,
		Body:          result.Reader,
		ContentLength: result.Entry.SizeBytes,
	}
}

// sliceRange 从完整对象合成单区间 206。仅支持 bytes=start-end 形式，
// 解析失败或区间不可满足时放弃合成。
func (m *Manager) sliceRange(result *ReadResult, rangeSpec string) (*Served, bool) {
	start, end, ok := parseByteRange(rangeSpec, result.Entry.SizeBytes)
	if !ok {
		return nil, false
	}
	if _, err := result.Reader.Seek(start, io.SeekStart); err != nil {
		return nil, false
	}

	length := end - start + 1
	header := cloneHeader(result.Entry.Header)
	header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, result.Entry.SizeBytes))
	header.Set("Content-Length", strconv.FormatInt(length, 10))

	return &Served{
		StatusCode:    http.StatusPartialContent,
		Header:        header,
		Body:          newSectionReadCloser(result.Reader, length),
		ContentLength: length,
	}, true
}

func parseByteRange(spec string, size int64) (int64, int64, bool) {
	spec = strings.TrimSpace(spec)
	if !strings.HasPrefix(spec, "bytes=") || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	spec = strings.TrimPrefix(spec, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	// 后缀区间：bytes=-N 表示最后 N 字节。
	if parts[0] == "" {
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, size > 0
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end := size - 1
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, true
}

type sectionReadCloser struct {
	io.Reader
	closer io.Closer
}

func newSectionReadCloser(r io.ReadSeekCloser, length int64) io.ReadCloser {
	return &sectionReadCloser{Reader: io.LimitReader(r, length), closer: r}
}

func (s *sectionReadCloser) Close() error {
	return s.closer.Close()
}

// storableHeader 只保留值得持久化的响应头，去掉逐跳与时效性字段。
func storableHeader(header http.Header) http.Header {
	stored := cloneHeader(header)
	for _, name := range []string{"Set-Cookie", "Connection", "Transfer-Encoding", "Content-Length", "Date", "Age"} {
		stored.Del(name)
	}
	return stored
}

func extractModTime(header http.Header) time.Time {
	if last := header.Get("Last-Modified"); last != "" {
		if parsed, err := http.ParseTime(last); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}

func cloneHeader(header http.Header) http.Header {
	cloned := http.Header{}
	for key, values := range header {
		for _, value := range values {
			cloned.Add(key, value)
		}
	}
	return cloned
}

func mergeVary(existing string, extra ...string) string {
	seen := map[string]bool{}
	var parts []string
	for _, raw := range append(strings.Split(existing, ","), extra...) {
		value := http.CanonicalHeaderKey(strings.TrimSpace(raw))
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		parts = append(parts, value)
	}
	return strings.Join(parts, ", ")
}
