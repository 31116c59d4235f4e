// Package assetcache implements AssetCache: given a remote path, it
// guarantees a local path whose contents are an up-to-date copy of the
// remote object, governed by a TTL and per-bucket immutability.
//
// Grounded on the teacher's s3cache.Cache (cache-miss download, local
// staging directory, atomic writes) generalized from a build-cache keyed by
// content hash to a general-purpose asset cache keyed by bucket/key.
package assetcache

import (
	"context"
	"errors"
	"expvar"
	"iter"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bodylabs/baiji-pod/internal/cacheentry"
	"github.com/bodylabs/baiji-pod/internal/config"
	"github.com/bodylabs/baiji-pod/internal/objectstore"
	"github.com/bodylabs/baiji-pod/internal/reachability"
)

// Cache is an AssetCache instance. It owns everything under its
// configured cache root.
type Cache struct {
	Store  objectstore.Store
	Prober reachability.Prober
	Config config.Config

	getLocalFresh expvar.Int // Get: local copy present and within TTL
	getRevalHit   expvar.Int // Get: revalidated, remote unchanged
	getRevalMiss  expvar.Int // Get: revalidated, remote changed, re-downloaded
	getFault      expvar.Int // Get: no local copy, fetched from the store
	deleteCount   expvar.Int // Delete calls
	invalidate    expvar.Int // Invalidate calls
}

// New builds a Cache over the given store and config. prober may be nil,
// in which case the store is always assumed reachable.
func New(store objectstore.Store, prober reachability.Prober, cfg config.Config) *Cache {
	return &Cache{Store: store, Prober: prober, Config: cfg}
}

// parse resolves path (plus an optional explicit bucket) to a CacheEntry,
// implementing the four-case algorithm from the design: remote URI,
// cache-rooted local path (idempotent re-entry), bucket-relative key, or
// error when no bucket can be derived.
func (c *Cache) parse(path, bucket string) (cacheentry.Entry, error) {
	if objectstore.IsRemoteURI(path) {
		if bucket != "" {
			return cacheentry.Entry{}, &ConfigError{Msg: "bucket argument supplied together with an s3:// path"}
		}
		b, key, err := objectstore.ParseURI(path)
		if err != nil {
			return cacheentry.Entry{}, err
		}
		return cacheentry.New(c.Config.CacheRoot, b, key), nil
	}

	if cacheentry.IsUnderCacheRoot(c.Config.CacheRoot, path) {
		rel, err := filepath.Rel(c.Config.CacheRoot, path)
		if err != nil {
			return cacheentry.Entry{}, err
		}
		parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
		b := parts[0]
		key := "/"
		if len(parts) > 1 {
			key = "/" + parts[1]
		}
		return cacheentry.New(c.Config.CacheRoot, b, key), nil
	}

	resolved, err := c.Config.ResolveBucket(bucket)
	if err != nil {
		return cacheentry.Entry{}, &ConfigError{Msg: err.Error()}
	}
	return cacheentry.New(c.Config.CacheRoot, resolved, path), nil
}

// Get is AssetCache's primary operation: it guarantees a local path whose
// contents are an up-to-date copy of the remote object named by path (and
// optionally bucket), fetching or revalidating as needed.
func (c *Cache) Get(ctx context.Context, path, bucket string, forceCheck bool) (cacheentry.CachedPath, error) {
	entry, err := c.parse(path, bucket)
	if err != nil {
		return "", err
	}

	if !entry.Exists() {
		if err := reachability.AssertReachable(c.Prober); err != nil {
			c.noteMissing(entry.RemoteURI())
			return "", &NotCached{RemoteURI: entry.RemoteURI(), LocalPath: entry.LocalPath(), Err: err}
		}
		if err := c.Store.Copy(ctx, entry.RemoteURI(), entry.LocalPath(), true, true); err != nil {
			return "", err
		}
		if err := cacheentry.TouchTimestamp(entry); err != nil {
			return "", err
		}
		c.getFault.Add(1)
		return cacheentry.CachedPath(entry.LocalPath()), nil
	}

	if forceCheck || c.isOutdated(entry) {
		if err := c.revalidate(ctx, entry); err != nil {
			// Offline or credential failure while a local copy already
			// exists: tolerate staleness rather than failing the call.
			var unreachable *reachability.UnreachableError
			var transport *objectstore.TransportError
			if !errors.As(err, &unreachable) && !errors.As(err, &transport) {
				return "", err
			}
			if c.verbose() {
				log.Printf("assetcache: %s may be stale, tolerating: %v", entry.RemoteURI(), err)
			}
		}
	} else {
		c.getLocalFresh.Add(1)
	}

	return cacheentry.CachedPath(entry.LocalPath()), nil
}

// revalidate compares the remote and local content tags, refreshing the
// timestamp sidecar on a match and re-downloading on a mismatch.
func (c *Cache) revalidate(ctx context.Context, entry cacheentry.Entry) error {
	if err := reachability.AssertReachable(c.Prober); err != nil {
		return err
	}

	remoteTag, err := c.Store.ETag(ctx, entry.RemoteURI())
	if err != nil {
		return err
	}
	localTag, err := localETag(entry.LocalPath(), remoteTag)
	if err != nil {
		return err
	}

	if remoteTag != "" && remoteTag == localTag {
		c.getRevalHit.Add(1)
		return cacheentry.TouchTimestamp(entry)
	}

	if err := c.Store.Copy(ctx, entry.RemoteURI(), entry.LocalPath(), true, true); err != nil {
		return err
	}
	c.getRevalMiss.Add(1)
	return cacheentry.TouchTimestamp(entry)
}

// localETag computes the local file's content tag using whichever scheme
// remoteTag indicates (single-part or multipart), so the comparison in
// revalidate is apples-to-apples.
func localETag(localPath, remoteTag string) (string, error) {
	partCount, multipart := objectstore.ParseMultipartETag(remoteTag)
	if !multipart {
		partCount = 0
	}
	return objectstore.LocalETag(localPath, partCount)
}

// isOutdated implements the freshness rule: immutable buckets and a
// never-expiring TTL are never outdated; an always-expiring TTL is always
// outdated; otherwise age is compared against the TTL's duration.
func (c *Cache) isOutdated(entry cacheentry.Entry) bool {
	if c.Config.IsImmutable(entry.Bucket) {
		return false
	}
	return c.Config.TTL.Outdated(entry.Age(time.Now()))
}

// noteMissing records uri in the missing-asset journal, logging (but not
// propagating) any failure to do so: a journal failure must never mask
// the error that triggered the recording.
func (c *Cache) noteMissing(uri string) {
	if err := recordMissing(c.Config.CacheRoot, uri); err != nil && c.verbose() {
		log.Printf("assetcache: failed to record missing asset %s: %v", uri, err)
	}
}

func (c *Cache) verbose() bool { return c.Config.Verbose }

// SetMetrics publishes c's counters under m, so they show up alongside
// whatever else the process exports via expvar.
func (c *Cache) SetMetrics(_ context.Context, m *expvar.Map) {
	m.Set("get_local_fresh", &c.getLocalFresh)
	m.Set("get_reval_hit", &c.getRevalHit)
	m.Set("get_reval_miss", &c.getRevalMiss)
	m.Set("get_fault", &c.getFault)
	m.Set("delete", &c.deleteCount)
	m.Set("invalidate", &c.invalidate)
}

// Invalidate removes path's timestamp sidecar (or, if it resolves to a
// directory, the mirrored timestamp subtree), forcing revalidation on the
// next Get. It does not touch the data file. Removing an already-absent
// sidecar is not an error.
func (c *Cache) Invalidate(path, bucket string) error {
	entry, err := c.parse(path, bucket)
	if err != nil {
		return err
	}
	c.invalidate.Add(1)
	return cacheentry.InvalidateOne(entry)
}

// InvalidateAll removes the entire .timestamps subtree.
func (c *Cache) InvalidateAll() error {
	return cacheentry.InvalidateAllUnder(c.Config.CacheRoot)
}

// Delete removes both the local data file (or subtree) and its timestamp
// sidecar(s) for path.
func (c *Cache) Delete(path, bucket string) error {
	entry, err := c.parse(path, bucket)
	if err != nil {
		return err
	}
	if err := cacheentry.InvalidateOne(entry); err != nil {
		return err
	}
	err = os.RemoveAll(entry.LocalPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	c.deleteCount.Add(1)
	return nil
}

// List walks the cache tree lazily, yielding one CacheEntry per cached
// file, skipping the reserved .timestamps subtree and platform cruft.
func (c *Cache) List() iter.Seq[cacheentry.Entry] {
	root := c.Config.CacheRoot
	return func(yield func(cacheentry.Entry) bool) {
		buckets, err := os.ReadDir(root)
		if err != nil {
			return
		}
		for _, b := range buckets {
			if !b.IsDir() || cacheentry.SkipName(b.Name()) {
				continue
			}
			bucket := b.Name()
			bucketRoot := filepath.Join(root, bucket)
			var stop bool
			filepath.WalkDir(bucketRoot, func(p string, d os.DirEntry, err error) error {
				if stop || err != nil {
					return err
				}
				if d.IsDir() {
					if cacheentry.SkipName(d.Name()) {
						return filepath.SkipDir
					}
					return nil
				}
				if cacheentry.SkipName(d.Name()) {
					return nil
				}
				rel, err := filepath.Rel(bucketRoot, p)
				if err != nil {
					return err
				}
				entry := cacheentry.New(root, bucket, "/"+filepath.ToSlash(rel))
				if !yield(entry) {
					stop = true
				}
				return nil
			})
			if stop {
				return
			}
		}
	}
}
