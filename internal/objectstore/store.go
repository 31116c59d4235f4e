// Package objectstore defines the port the cache core consumes to talk to a
// remote S3-style bucket, plus the concrete AWS S3 implementation of it.
//
// The interface boundary is the scope line spec.md draws around "the
// object-store client itself": callers of Store never need to know whether
// they are talking to AWS S3 or a fake used in tests.
package objectstore

import (
	"context"
	"strings"
)

// Store is the object-store port consumed by the cache core.
type Store interface {
	// Copy copies the contents of src to dst. Either endpoint may be a
	// remote URI (s3://bucket/key) or a local filesystem path. If force is
	// false and dst already exists, Copy may skip the copy. If validate is
	// true, the implementation should verify the written bytes against the
	// source's content hash when practical.
	Copy(ctx context.Context, src, dst string, force, validate bool) error

	// Exists reports whether uri (local or remote) exists.
	Exists(ctx context.Context, uri string) (bool, error)

	// ETag returns the content tag for uri (local or remote). For local
	// paths it computes a matching tag from the file's contents.
	ETag(ctx context.Context, uri string) (string, error)

	// List returns every key in bucket whose key starts with prefix, in no
	// particular order.
	List(ctx context.Context, bucket, prefix string) ([]string, error)

	// Remove deletes uri, which may be local or remote.
	Remove(ctx context.Context, uri string) error

	// Parse splits a remote URI into its bucket and key. Key always starts
	// with "/". Parse only accepts URIs for which IsRemote reports true.
	Parse(uri string) (bucket, key string, err error)

	// IsRemote reports whether s looks like a remote URI (s3://...).
	IsRemote(s string) bool
}

// KeyNotFound indicates the requested remote object does not exist.
type KeyNotFound struct {
	URI string
}

func (e *KeyNotFound) Error() string { return "key not found: " + e.URI }

// TransportError wraps an object-store failure that is not a simple
// not-found, e.g. network or credential failures.
type TransportError struct {
	URI string
	Err error
}

func (e *TransportError) Error() string { return "transport error for " + e.URI + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

const remoteScheme = "s3://"

// ParseURI splits a "s3://bucket/key" URI into its bucket and key, with key
// starting with "/". It is a standalone helper usable without a Store
// instance, shared by every Store implementation's Parse method.
func ParseURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, remoteScheme) {
		return "", "", &KeyNotFound{URI: uri}
	}
	rest := uri[len(remoteScheme):]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return rest, "/", nil
	}
	bucket = rest[:slash]
	key = rest[slash:]
	if key == "" {
		key = "/"
	}
	return bucket, key, nil
}

// IsRemoteURI reports whether s looks like a remote URI.
func IsRemoteURI(s string) bool { return strings.HasPrefix(s, remoteScheme) }

// JoinURI builds a "s3://bucket/key" URI. key is expected to start with "/".
func JoinURI(bucket, key string) string { return remoteScheme + bucket + key }
