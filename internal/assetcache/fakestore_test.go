package assetcache

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/bodylabs/baiji-pod/internal/objectstore"
)

// fakeStore is an in-memory objectstore.Store used to drive AssetCache
// tests without touching a real object store. It counts calls so tests can
// assert on exactly how many times the port was consulted.
type fakeStore struct {
	objects map[string][]byte // bucket/key -> content, keyed by remote URI

	copyCalls  atomic.Int32
	etagCalls  atomic.Int32
	existCalls atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) put(uri string, content []byte) { s.objects[uri] = content }

func (s *fakeStore) IsRemote(str string) bool { return objectstore.IsRemoteURI(str) }

func (s *fakeStore) Parse(uri string) (string, string, error) { return objectstore.ParseURI(uri) }

func (s *fakeStore) Copy(ctx context.Context, src, dst string, force, validate bool) error {
	if s.IsRemote(src) {
		s.copyCalls.Add(1)
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
	s.existCalls.Add(1)
	if s.IsRemote(uri) {
		_, ok := s.objects[uri]
		return ok, nil
	}
	_, err := os.Stat(uri)
	return err == nil, nil
}

func (s *fakeStore) ETag(ctx context.Context, uri string) (string, error) {
	s.etagCalls.Add(1)
	if s.IsRemote(uri) {
		data, ok := s.objects[uri]
		if !ok {
			return "", &objectstore.KeyNotFound{URI: uri}
		}
		return fmt.Sprintf("%x", md5.Sum(data)), nil
	}
	return objectstore.LocalETag(uri, 0)
}

// List returns the raw keys (not full s3:// URIs) of every object in
// bucket whose key starts with prefix, matching objectstore.Store's
// documented contract.
func (s *fakeStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	want := objectstore.JoinURI(bucket, prefix)
	for uri := range s.objects {
		if len(uri) >= len(want) && uri[:len(want)] == want {
			_, key, err := objectstore.ParseURI(uri)
			if err != nil {
				continue
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *fakeStore) Remove(ctx context.Context, uri string) error {
	if s.IsRemote(uri) {
		delete(s.objects, uri)
		return nil
	}
	return os.Remove(uri)
}

var _ objectstore.Store = (*fakeStore)(nil)
