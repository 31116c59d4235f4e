// Package cacheentry binds a (bucket, key) pair to its derived local paths
// and per-entry metadata queries. It has no knowledge of the network; it is
// pure path arithmetic over a cache root, shared by AssetCache and
// VersionedCache.
package cacheentry

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// timestampsDir is the reserved bucket name mirroring validated entries'
// sidecars. Real buckets cannot use this name (spec invariant I4).
const timestampsDir = ".timestamps"

// Entry binds a bucket and key to the paths derived from them under a given
// cache root.
type Entry struct {
	CacheRoot string
	Bucket    string
	Key       string // always starts with "/"
}

// New builds an Entry, normalizing key to start with "/".
func New(cacheRoot, bucket, key string) Entry {
	if !strings.HasPrefix(key, "/") {
		key = "/" + key
	}
	return Entry{CacheRoot: cacheRoot, Bucket: bucket, Key: key}
}

// LocalPath is where this entry's content is staged on disk.
func (e Entry) LocalPath() string {
	return filepath.Join(e.CacheRoot, e.Bucket, filepath.FromSlash(e.Key))
}

// TimestampPath is the sidecar file whose mtime records when this entry was
// last validated against the remote.
func (e Entry) TimestampPath() string {
	return filepath.Join(e.CacheRoot, timestampsDir, e.Bucket, filepath.FromSlash(e.Key))
}

// RemoteURI is this entry's s3://bucket/key address.
func (e Entry) RemoteURI() string {
	return "s3://" + e.Bucket + e.Key
}

// CachedPath is the type of a cache-rooted local path returned by Get. Get
// itself takes a plain string, so the type does not drive recognition: a
// second call to Get recognizes such a path through IsUnderCacheRoot.
type CachedPath string

// IsUnderCacheRoot reports whether path already lives under cacheRoot. It
// is the parser-level check that makes a nested Get on a returned path
// resolve to the same entry instead of a bucket-relative key.
func IsUnderCacheRoot(cacheRoot, path string) bool {
	rel, err := filepath.Rel(cacheRoot, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Age returns the duration since this entry's timestamp sidecar was last
// touched. A missing sidecar reports an effectively infinite age, per
// spec's "if the sidecar is missing, age = +infinity".
func (e Entry) Age(now time.Time) time.Duration {
	fi, err := os.Stat(e.TimestampPath())
	if err != nil {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(fi.ModTime())
}

// Validated reports whether this entry has a timestamp sidecar at all.
func (e Entry) Validated() bool {
	_, err := os.Stat(e.TimestampPath())
	return err == nil
}

// Exists reports whether this entry's local path is present on disk,
// regardless of validation state (spec invariant I2: present-but-unvalidated
// is still "exists").
func (e Entry) Exists() bool {
	_, err := os.Stat(e.LocalPath())
	return err == nil
}

// Size returns the size in bytes of the local file, or 0 if absent.
func (e Entry) Size() int64 {
	fi, err := os.Stat(e.LocalPath())
	if err != nil {
		return 0
	}
	return fi.Size()
}

// TouchTimestamp creates (or refreshes the mtime of) this entry's timestamp
// sidecar, creating any missing intermediate directories. The observable
// semantic is the mtime, not the file's (empty) content.
func TouchTimestamp(e Entry) error {
	p := e.TimestampPath()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	now := time.Now()
	if f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		f.Close()
	} else if !os.IsExist(err) {
		return err
	}
	return os.Chtimes(p, now, now)
}

// InvalidateOne removes this entry's timestamp sidecar (or, if its local
// path is a directory, the mirrored timestamp subtree). Removing a
// nonexistent timestamp is not an error.
func InvalidateOne(e Entry) error {
	p := e.TimestampPath()
	fi, err := os.Stat(e.LocalPath())
	if err == nil && fi.IsDir() {
		err := os.RemoveAll(p)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	err = os.Remove(p)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// InvalidateAllUnder removes the entire .timestamps subtree beneath
// cacheRoot.
func InvalidateAllUnder(cacheRoot string) error {
	err := os.RemoveAll(filepath.Join(cacheRoot, timestampsDir))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SkipName reports whether a directory entry name should be excluded while
// walking the cache tree for List: the reserved timestamps bucket and
// common platform cruft.
func SkipName(name string) bool {
	return name == timestampsDir || name == ".DS_Store"
}
