package assetcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bodylabs/baiji-pod/internal/config"
)

func newTestCache(t *testing.T, ttl config.TTL, immutable ...string) (*Cache, *fakeStore) {
	t.Helper()
	root := t.TempDir()
	if !filepath.IsAbs(root) {
		t.Fatalf("tempdir not absolute: %s", root)
	}
	root += string(filepath.Separator)

	imm := make(map[string]struct{})
	for _, b := range immutable {
		imm[b] = struct{}{}
	}
	cfg := config.Config{
		CacheRoot:        root,
		TTL:              ttl,
		ImmutableBuckets: imm,
		Verbose:          true,
	}
	store := newFakeStore()
	return New(store, nil, cfg), store
}

func TestGetMissFetch(t *testing.T) {
	c, store := newTestCache(t, config.SecondsTTL(1000*time.Second))
	store.put("s3://B/x.txt", []byte("hello"))

	got, err := c.Get(context.Background(), "/x.txt", "B", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, err := os.ReadFile(string(got))
	if err != nil {
		t.Fatalf("reading fetched file: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("content = %q, want hello", data)
	}

	tsPath := filepath.Join(c.Config.CacheRoot, ".timestamps", "B", "x.txt")
	if _, err := os.Stat(tsPath); err != nil {
		t.Fatalf("expected timestamp sidecar: %v", err)
	}
}

func TestGetWithinTTLMakesNoPortCalls(t *testing.T) {
	c, store := newTestCache(t, config.SecondsTTL(1000*time.Second))
	store.put("s3://B/x.txt", []byte("hello"))

	if _, err := c.Get(context.Background(), "/x.txt", "B", false); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	store.copyCalls.Store(0)
	store.etagCalls.Store(0)

	if _, err := c.Get(context.Background(), "/x.txt", "B", false); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if n := store.copyCalls.Load(); n != 0 {
		t.Errorf("copy calls = %d, want 0", n)
	}
	if n := store.etagCalls.Load(); n != 0 {
		t.Errorf("etag calls = %d, want 0", n)
	}
}

func TestGetRevalidateUnchanged(t *testing.T) {
	c, store := newTestCache(t, config.SecondsTTL(0))
	store.put("s3://B/x.txt", []byte("hello"))

	if _, err := c.Get(context.Background(), "/x.txt", "B", false); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	// Back-date the sidecar so age() exceeds the TTL.
	ts := filepath.Join(c.Config.CacheRoot, ".timestamps", "B", "x.txt")
	old := time.Now().Add(-2 * time.Second)
	if err := os.Chtimes(ts, old, old); err != nil {
		t.Fatal(err)
	}
	store.copyCalls.Store(0)
	store.etagCalls.Store(0)

	if _, err := c.Get(context.Background(), "/x.txt", "B", false); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if n := store.copyCalls.Load(); n != 0 {
		t.Errorf("copy calls = %d, want 0 (unchanged remote)", n)
	}
	if n := store.etagCalls.Load(); n != 1 {
		t.Errorf("etag calls = %d, want 1", n)
	}
	fi, err := os.Stat(ts)
	if err != nil {
		t.Fatal(err)
	}
	if !fi.ModTime().After(old) {
		t.Error("expected sidecar mtime to advance after revalidation")
	}
}

func TestGetRevalidateChanged(t *testing.T) {
	c, store := newTestCache(t, config.SecondsTTL(0))
	store.put("s3://B/x.txt", []byte("hello"))
	if _, err := c.Get(context.Background(), "/x.txt", "B", false); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	ts := filepath.Join(c.Config.CacheRoot, ".timestamps", "B", "x.txt")
	old := time.Now().Add(-2 * time.Second)
	os.Chtimes(ts, old, old)

	store.put("s3://B/x.txt", []byte("goodbye"))
	store.copyCalls.Store(0)

	got, err := c.Get(context.Background(), "/x.txt", "B", false)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if n := store.copyCalls.Load(); n != 1 {
		t.Errorf("copy calls = %d, want 1", n)
	}
	data, _ := os.ReadFile(string(got))
	if string(data) != "goodbye" {
		t.Errorf("content = %q, want goodbye", data)
	}
}

func TestGetImmutableBucketNeverRechecks(t *testing.T) {
	c, store := newTestCache(t, config.SecondsTTL(0), "B")
	store.put("s3://B/x.txt", []byte("hello"))

	if _, err := c.Get(context.Background(), "/x.txt", "B", false); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	store.copyCalls.Store(0)
	store.etagCalls.Store(0)

	for i := 0; i < 3; i++ {
		if _, err := c.Get(context.Background(), "/x.txt", "B", false); err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
	}
	if n := store.copyCalls.Load(); n != 0 {
		t.Errorf("copy calls = %d, want 0 for immutable bucket", n)
	}
	if n := store.etagCalls.Load(); n != 0 {
		t.Errorf("etag calls = %d, want 0 for immutable bucket", n)
	}
}

func TestGetIdempotentNestedCall(t *testing.T) {
	c, store := newTestCache(t, config.SecondsTTL(1000*time.Second))
	store.put("s3://B/x.txt", []byte("hello"))

	first, err := c.Get(context.Background(), "/x.txt", "B", false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Get(context.Background(), string(first), "", false)
	if err != nil {
		t.Fatalf("nested Get: %v", err)
	}
	if first != second {
		t.Errorf("nested Get returned %q, want %q", second, first)
	}
}

func TestInvalidateSubtree(t *testing.T) {
	c, store := newTestCache(t, config.SecondsTTL(1000*time.Second))
	store.put("s3://B/t/a.txt", []byte("a"))
	store.put("s3://B/t/b.txt", []byte("b"))
	if _, err := c.Get(context.Background(), "/t/a.txt", "B", false); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), "/t/b.txt", "B", false); err != nil {
		t.Fatal(err)
	}

	if err := c.Invalidate("/t", "B"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	root := c.Config.CacheRoot
	for _, f := range []string{"B/t/a.txt", "B/t/b.txt"} {
		if _, err := os.Stat(filepath.Join(root, f)); err != nil {
			t.Errorf("expected data file %s preserved: %v", f, err)
		}
	}
	for _, f := range []string{".timestamps/B/t/a.txt", ".timestamps/B/t/b.txt"} {
		if _, err := os.Stat(filepath.Join(root, f)); !os.IsNotExist(err) {
			t.Errorf("expected sidecar %s removed, stat err = %v", f, err)
		}
	}
}

func TestDeleteRemovesDataAndSidecar(t *testing.T) {
	c, store := newTestCache(t, config.SecondsTTL(1000*time.Second))
	store.put("s3://B/x.txt", []byte("hello"))
	if _, err := c.Get(context.Background(), "/x.txt", "B", false); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete("/x.txt", "B"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	root := c.Config.CacheRoot
	if _, err := os.Stat(filepath.Join(root, "B", "x.txt")); !os.IsNotExist(err) {
		t.Error("expected data file removed")
	}
	if _, err := os.Stat(filepath.Join(root, ".timestamps", "B", "x.txt")); !os.IsNotExist(err) {
		t.Error("expected sidecar removed")
	}
}

func TestGetMissingRemoteKeyNotFound(t *testing.T) {
	c, _ := newTestCache(t, config.SecondsTTL(1000*time.Second))
	_, err := c.Get(context.Background(), "/missing.txt", "B", false)
	if err == nil {
		t.Fatal("expected error for missing remote object")
	}
}

func TestGetNoBucketConfigError(t *testing.T) {
	c, _ := newTestCache(t, config.SecondsTTL(1000*time.Second))
	_, err := c.Get(context.Background(), "/x.txt", "", false)
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T (%v)", err, err)
	}
}

func TestList(t *testing.T) {
	c, store := newTestCache(t, config.SecondsTTL(1000*time.Second))
	store.put("s3://B/a.txt", []byte("a"))
	store.put("s3://B/sub/b.txt", []byte("b"))
	ctx := context.Background()
	if _, err := c.Get(ctx, "/a.txt", "B", false); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "/sub/b.txt", "B", false); err != nil {
		t.Fatal(err)
	}

	var keys []string
	for e := range c.List() {
		keys = append(keys, e.Bucket+e.Key)
	}
	if len(keys) != 2 {
		t.Fatalf("List yielded %d entries, want 2: %v", len(keys), keys)
	}
}
