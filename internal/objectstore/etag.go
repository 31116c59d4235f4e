package objectstore

import (
	"crypto/md5"
	"fmt"
	"hash"
	"io"
	"os"
	"strconv"
	"strings"
)

// ETagReader implements io.Reader by delegating to a nested reader while
// accumulating an MD5 digest of everything read. ETag returns a correctly
// formatted S3-style single-part etag for the bytes read so far.
//
// Grounded on the teacher's lib/s3util.ETagReader: the MD5 here is used
// only as S3's own content tag, not as a security boundary.
type ETagReader struct {
	r    io.Reader
	hash hash.Hash
}

// NewETagReader returns a new ETagReader wrapping r.
func NewETagReader(r io.Reader) ETagReader {
	h := md5.New()
	return ETagReader{r: io.TeeReader(r, h), hash: h}
}

// Read satisfies io.Reader by delegating to the wrapped reader.
func (e ETagReader) Read(p []byte) (int, error) { return e.r.Read(p) }

// ETag returns the hex-encoded MD5 of everything read so far.
func (e ETagReader) ETag() string { return fmt.Sprintf("%x", e.hash.Sum(nil)) }

// LocalETag computes the S3-compatible etag for a local file. If partCount
// is greater than 1, the multipart scheme is used: the part-count signal
// (read off the remote object's own etag, see ParseMultipartETag) tells us
// how many parts the object was uploaded in, so the file is split into
// that many chunks of ceil(size/partCount) bytes (the last chunk holding
// whatever is left, which may be shorter), each
// part's MD5 is computed and concatenated, and the etag is
// "MD5(concat(partMD5s))-partCount" — the same compound algorithm S3 itself
// uses for multipart uploads. Otherwise the plain single-part MD5 hex
// digest is returned.
func LocalETag(path string, partCount int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if partCount <= 1 {
		h := md5.New()
		if _, err := io.Copy(h, f); err != nil {
			return "", err
		}
		return fmt.Sprintf("%x", h.Sum(nil)), nil
	}

	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	partSize := (fi.Size() + int64(partCount) - 1) / int64(partCount)
	if partSize <= 0 {
		partSize = 1
	}

	var concatenated []byte
	buf := make([]byte, partSize)
	for i := 0; i < partCount; i++ {
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return "", err
		}
		h := md5.Sum(buf[:n])
		concatenated = append(concatenated, h[:]...)
		if err == io.EOF {
			break
		}
	}
	whole := md5.Sum(concatenated)
	return fmt.Sprintf("%x-%d", whole, partCount), nil
}

// ParseMultipartETag reports the part count encoded in a multipart S3 etag
// of the form "<hex>-<n>". ok is false for single-part etags.
func ParseMultipartETag(etag string) (partCount int, ok bool) {
	etag = strings.Trim(etag, `"`)
	dash := strings.LastIndexByte(etag, '-')
	if dash < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(etag[dash+1:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
