package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 按键摘要落盘：<base>/<dd>/<digest>.body + .meta。
// entryLock 避免同一键并发写入。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// metaRecord 是 .meta sidecar 的 JSON 结构，保存响应头以便命中时还原。
type metaRecord struct {
	URL        string      `json:"url"`
	Method     string      `json:"method"`
	Range      string      `json:"range,omitempty"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
}

func (s *fileStore) Get(ctx context.Context, key Key) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	bodyPath, metaPath := s.paths(key)

	info, err := os.Stat(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	meta, err := readMeta(metaPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := Entry{
		Key:        key,
		StatusCode: meta.StatusCode,
		Header:     meta.Header,
		SizeBytes:  info.Size(),
		ModTime:    info.ModTime(),
		FilePath:   bodyPath,
	}

	return &ReadResult{Entry: entry, Reader: f}, nil
}

func (s *fileStore) Put(ctx context.Context, key Key, body io.Reader, opts PutOptions) (*Entry, error) {
	unlock := s.lockEntry(key)
	defer unlock()

	bodyPath, metaPath := s.paths(key)

	if err := os.MkdirAll(filepath.Dir(bodyPath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(bodyPath), ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	meta := metaRecord{
		URL:        key.URL,
		Method:     key.Method,
		Range:      key.Range,
		StatusCode: opts.StatusCode,
		Header:     opts.Header,
	}
	if err := writeMeta(metaPath, meta); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, bodyPath); err != nil {
		os.Remove(tempName)
		os.Remove(metaPath)
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	if err := os.Chtimes(bodyPath, modTime, modTime); err != nil {
		return nil, err
	}

	entry := Entry{
		Key:        key,
		StatusCode: opts.StatusCode,
		Header:     opts.Header,
		SizeBytes:  written,
		ModTime:    modTime,
		FilePath:   bodyPath,
	}
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, key Key) error {
	unlock := s.lockEntry(key)
	defer unlock()

	bodyPath, metaPath := s.paths(key)
	if err := os.Remove(bodyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) lockEntry(key Key) func() {
	digest := key.Digest()
	s.mu.Lock()
	lock := s.locks[digest]
	if lock == nil {
		lock = &entryLock{}
		s.locks[digest] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, digest)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) paths(key Key) (string, string) {
	digest := key.Digest()
	dir := filepath.Join(s.basePath, digest[:2])
	return filepath.Join(dir, digest+".body"), filepath.Join(dir, digest+".meta")
}

func readMeta(path string) (metaRecord, error) {
	var meta metaRecord
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, ErrNotFound
		}
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode cache metadata: %w", err)
	}
	if meta.Header == nil {
		meta.Header = http.Header{}
	}
	return meta, nil
}

func writeMeta(path string, meta metaRecord) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	temp, err := os.CreateTemp(filepath.Dir(path), ".meta-*")
	if err != nil {
		return err
	}
	tempName := temp.Name()
	_, writeErr := temp.Write(data)
	closeErr := temp.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return writeErr
	}
	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
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
