package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/creachadair/atomicfile"
	"github.com/creachadair/mds/value"
)

// S3Store implements Store against a real AWS S3 bucket. The bucket name in
// every URI is used to select the bucket; the client itself is not bound to
// a single bucket, since a cache root may reference many buckets.
//
// Grounded on the teacher's lib/s3util.Client (Put/Get/PutCond/IsNotExist).
type S3Store struct {
	Client *s3.Client
}

var _ Store = (*S3Store)(nil)

// IsRemote reports whether s looks like a remote URI.
func (s *S3Store) IsRemote(str string) bool { return IsRemoteURI(str) }

// Parse splits a remote URI into bucket and key.
func (s *S3Store) Parse(uri string) (bucket, key string, err error) { return ParseURI(uri) }

// Copy copies src to dst. The core uses remote->local (download),
// local->remote (publish) and local->local (VersionedCache.Sync);
// remote->remote is not used by the core but is supported for
// completeness.
func (s *S3Store) Copy(ctx context.Context, src, dst string, force, validate bool) error {
	srcRemote := s.IsRemote(src)
	dstRemote := s.IsRemote(dst)

	switch {
	case srcRemote && !dstRemote:
		return s.download(ctx, src, dst, force, validate)
	case !srcRemote && dstRemote:
		return s.upload(ctx, src, dst)
	case !srcRemote && !dstRemote:
		return copyLocalToLocal(src, dst)
	default:
		data, err := s.getData(ctx, src)
		if err != nil {
			return err
		}
		return s.putData(ctx, dst, data)
	}
}

func (s *S3Store) download(ctx context.Context, src, dst string, force, validate bool) error {
	if !force {
		if _, err := os.Stat(dst); err == nil {
			return nil
		}
	}
	bucket, key, err := ParseURI(src)
	if err != nil {
		return err
	}
	rsp, err := s.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		if isNotExist(err) {
			return &KeyNotFound{URI: src}
		}
		return &TransportError{URI: src, Err: err}
	}
	defer rsp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	var body io.Reader = rsp.Body
	var etr ETagReader
	if validate {
		etr = NewETagReader(rsp.Body)
		body = etr
	}
	if err := atomicfile.Tx(dst, 0o644, func(f *atomicfile.File) error {
		_, err := io.Copy(f, body)
		return err
	}); err != nil {
		return err
	}
	if validate && rsp.ETag != nil {
		want := strings.Trim(*rsp.ETag, `"`)
		if _, multipart := ParseMultipartETag(want); !multipart && want != etr.ETag() {
			return fmt.Errorf("copy %s: downloaded content does not match etag %s", src, want)
		}
	}
	return nil
}

func (s *S3Store) upload(ctx context.Context, src, dst string) error {
	bucket, key, err := ParseURI(dst)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	var sizePtr *int64
	if fi, err := f.Stat(); err == nil {
		sizePtr = value.Ptr(fi.Size())
	}
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          f,
		ContentLength: sizePtr,
	})
	if err != nil {
		return &TransportError{URI: dst, Err: err}
	}
	return nil
}

func (s *S3Store) getData(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	rsp, err := s.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		if isNotExist(err) {
			return nil, &KeyNotFound{URI: uri}
		}
		return nil, &TransportError{URI: uri, Err: err}
	}
	defer rsp.Body.Close()
	return io.ReadAll(rsp.Body)
}

func (s *S3Store) putData(ctx context.Context, uri string, data []byte) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          strings.NewReader(string(data)),
		ContentLength: value.Ptr(int64(len(data))),
	})
	if err != nil {
		return &TransportError{URI: uri, Err: err}
	}
	return nil
}

func copyLocalToLocal(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return atomicfile.Tx(dst, 0o644, func(f *atomicfile.File) error {
		_, err := io.Copy(f, in)
		return err
	})
}

// Exists reports whether uri (local or remote) exists.
func (s *S3Store) Exists(ctx context.Context, uri string) (bool, error) {
	if !s.IsRemote(uri) {
		_, err := os.Stat(uri)
		if err == nil {
			return true, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return false, err
	}
	_, err = s.Client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, &TransportError{URI: uri, Err: err}
	}
	return true, nil
}

// ETag returns the content tag for uri, local or remote.
func (s *S3Store) ETag(ctx context.Context, uri string) (string, error) {
	if !s.IsRemote(uri) {
		return LocalETag(uri, 0)
	}
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	rsp, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		if isNotExist(err) {
			return "", &KeyNotFound{URI: uri}
		}
		return "", &TransportError{URI: uri, Err: err}
	}
	if rsp.ETag == nil {
		return "", nil
	}
	return strings.Trim(*rsp.ETag, `"`), nil
}

// List returns every key under bucket whose key starts with prefix.
func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		rsp, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, &TransportError{URI: JoinURI(bucket, prefix), Err: err}
		}
		for _, obj := range rsp.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if rsp.IsTruncated == nil || !*rsp.IsTruncated {
			break
		}
		token = rsp.NextContinuationToken
	}
	return keys, nil
}

// Remove deletes uri, local or remote.
func (s *S3Store) Remove(ctx context.Context, uri string) error {
	if !s.IsRemote(uri) {
		err := os.Remove(uri)
		if err != nil && os.IsNotExist(err) {
			return nil
		}
		return err
	}
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}
	_, err = s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return &TransportError{URI: uri, Err: err}
	}
	return nil
}

// isNotExist reports whether err indicates the requested resource was not
// found, taking into account S3's typed errors and the standard library's.
//
// Grounded on the teacher's lib/s3util.IsNotExist.
func isNotExist(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}
