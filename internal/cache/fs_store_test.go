package cache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	key := Key{URL: "https://registry-1.docker.io/v2/library/sample/manifests/latest", Method: http.MethodGet}

	modTime := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	payload := []byte("payload")
	opts := PutOptions{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/octet-stream"}},
		ModTime:    modTime,
	}
	if _, err := store.Put(context.Background(), key, bytes.NewReader(payload), opts); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}
	if result.Entry.StatusCode != http.StatusOK {
		t.Fatalf("status mismatch: %d", result.Entry.StatusCode)
	}
	if result.Entry.Header.Get("Content-Type") != "application/octet-stream" {
		t.Fatalf("header not restored: %v", result.Entry.Header)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), Key{URL: "https://example.com/missing", Method: http.MethodGet})
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	key := Key{URL: "https://example.com/remove", Method: http.MethodGet}
	if _, err := store.Put(context.Background(), key, bytes.NewReader([]byte("data")), PutOptions{StatusCode: 200}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), key); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), key); err == nil || err != ErrNotFound {
		t.Fatalf("expected not found after remove, got %v", err)
	}
	// Remove 对不存在的条目不报错。
	if err := store.Remove(context.Background(), key); err != nil {
		t.Fatalf("second remove error: %v", err)
	}
}

func TestStoreRangeVariantsAreIndependent(t *testing.T) {
	store := newTestStore(t)
	full := Key{URL: "https://example.com/blob", Method: http.MethodGet}
	ranged := Key{URL: "https://example.com/blob", Method: http.MethodGet, Range: "bytes=0-9"}

	if full.Digest() == ranged.Digest() {
		t.Fatal("range must participate in the digest")
	}
	if _, err := store.Put(context.Background(), full, bytes.NewReader([]byte("full")), PutOptions{StatusCode: 200}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if _, err := store.Get(context.Background(), ranged); err != ErrNotFound {
		t.Fatalf("range variant should miss, got %v", err)
	}
	if ranged.FullContent() != full {
		t.Fatal("FullContent should drop the range")
	}
}

func TestStoreRequiresBasePath(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Fatal("expected error for empty base path")
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
