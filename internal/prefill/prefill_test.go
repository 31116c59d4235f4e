package prefill

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/bodylabs/baiji-pod/internal/assetcache"
	"github.com/bodylabs/baiji-pod/internal/config"
	"github.com/bodylabs/baiji-pod/internal/objectstore"
	"github.com/bodylabs/baiji-pod/internal/versionedcache"
)

type fakeStore struct {
	objects map[string][]byte
	gets    atomic.Int32
}

func newFakeStore() *fakeStore { return &fakeStore{objects: make(map[string][]byte)} }

func (s *fakeStore) IsRemote(str string) bool                 { return objectstore.IsRemoteURI(str) }
func (s *fakeStore) Parse(uri string) (string, string, error) { return objectstore.ParseURI(uri) }

func (s *fakeStore) Copy(ctx context.Context, src, dst string, force, validate bool) error {
	s.gets.Add(1)
	if s.IsRemote(src) {
		data, ok := s.objects[src]
		if !ok {
			return &objectstore.KeyNotFound{URI: src}
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return os.WriteFile(dst, data, 0o644)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	s.objects[dst] = data
	return nil
}

func (s *fakeStore) Exists(ctx context.Context, uri string) (bool, error) {
	if s.IsRemote(uri) {
		_, ok := s.objects[uri]
		return ok, nil
	}
	_, err := os.Stat(uri)
	return err == nil, nil
}

func (s *fakeStore) ETag(ctx context.Context, uri string) (string, error) {
	return objectstore.LocalETag(uri, 0)
}

func (s *fakeStore) List(ctx context.Context, bucket, prefix string) ([]string, error) { return nil, nil }

func (s *fakeStore) Remove(ctx context.Context, uri string) error {
	delete(s.objects, uri)
	return nil
}

var _ objectstore.Store = (*fakeStore)(nil)

func TestRunFetchesAllRefs(t *testing.T) {
	root := t.TempDir() + string(filepath.Separator)
	cfg := config.Config{CacheRoot: root, TTL: config.NeverTTL(), ImmutableBuckets: map[string]struct{}{"BV": {}}}
	store := newFakeStore()
	ac := assetcache.New(store, nil, cfg)
	vc := versionedcache.New(ac, filepath.Join(root, "manifest.json"), "BV")

	store.objects["s3://B/a.txt"] = []byte("a")
	store.objects["s3://B/b.txt"] = []byte("b")
	store.objects["s3://BV/c.1.0.0.txt"] = []byte("c")

	if err := os.WriteFile(filepath.Join(root, "manifest.json"), []byte(`{"/c.txt":"1.0.0"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	Run(context.Background(), ac, vc, []string{"s3://B/a.txt", "s3://B/b.txt", "/c.txt", "s3://B/missing.txt"}, 2, true)

	for _, f := range []string{"B/a.txt", "B/b.txt", "BV/c.1.0.0.txt"} {
		if _, err := os.Stat(filepath.Join(root, f)); err != nil {
			t.Errorf("expected %s to be fetched: %v", f, err)
		}
	}
}
