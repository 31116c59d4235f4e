// Package assetpack bundles cached files into zip archives for offline
// distribution, and restores them into a cache root on the other end.
//
// Grounded on the original's asset_pack.py: first-fit greedy binning by
// descending file size, one deflate zip per bin.
package assetpack

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/bodylabs/baiji-pod/internal/assetcache"
	"github.com/bodylabs/baiji-pod/internal/cacheentry"
	"github.com/bodylabs/baiji-pod/internal/objectstore"
	"github.com/bodylabs/baiji-pod/internal/versionedcache"
)

// fileToPack pairs a resolved local source with the path it should occupy
// inside the zip (the cache-root-relative destination).
type fileToPack struct {
	uri  string
	src  string
	dst  string
	size int64
}

// resolve fetches the local path for a single pack entry: an immutable,
// versioned s3:// path goes through vc; everything else goes through ac.
func resolve(ctx context.Context, ac *assetcache.Cache, vc *versionedcache.VC, uri string) (fileToPack, error) {
	var src string
	if objectstore.IsRemoteURI(uri) {
		if bucket, key, err := objectstore.ParseURI(uri); err == nil && vc != nil && ac.Config.IsImmutable(bucket) {
			if versioned, _ := vc.IsVersioned(key); versioned {
				local, err := vc.Get(ctx, key, "")
				if err != nil {
					return fileToPack{}, err
				}
				src = string(local)
			}
		}
	}
	if src == "" {
		local, err := ac.Get(ctx, uri, "", false)
		if err != nil {
			return fileToPack{}, err
		}
		src = string(local)
	}

	fi, err := os.Stat(src)
	if err != nil {
		return fileToPack{}, err
	}

	dst := strings.TrimPrefix(src, ac.Config.CacheRoot)
	dst = strings.TrimPrefix(dst, string(filepath.Separator))
	return fileToPack{uri: uri, src: src, dst: filepath.ToSlash(dst), size: fi.Size()}, nil
}

// resolveAll resolves every path concurrently, bounded by the cache's
// configured prefill concurrency, mirroring modproxy.S3Cacher's shared
// semaphore.Weighted around its own S3 fault-in path.
func resolveAll(ctx context.Context, ac *assetcache.Cache, vc *versionedcache.VC, paths []string) ([]fileToPack, error) {
	concurrency := ac.Config.PrefillConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	files := make([]fileToPack, len(paths))
	errs := make([]error, len(paths))
	var wg sync.WaitGroup
	for i, p := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			defer sem.Release(1)
			f, err := resolve(ctx, ac, vc, p)
			files[i] = f
			errs[i] = err
		}(i, p)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// Dump builds one or more zip archives containing the resolved contents
// of paths. If maxSizeBytes is zero, everything goes into a single
// archive named "{stem(saveTo)}.zip"; otherwise files are greedily
// first-fit packed into bins no larger than maxSizeBytes, each written as
// "{stem(saveTo)}_{i+1}.zip".
func Dump(ctx context.Context, ac *assetcache.Cache, vc *versionedcache.VC, paths []string, saveTo string, maxSizeBytes int64) error {
	files, err := resolveAll(ctx, ac, vc, paths)
	if err != nil {
		return err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].size > files[j].size })

	var bins [][]fileToPack
	if maxSizeBytes <= 0 {
		bins = [][]fileToPack{files}
	} else {
		for _, f := range files {
			if f.size > maxSizeBytes {
				return fmt.Errorf("file %s is %d bytes, larger than the %d byte limit", f.uri, f.size, maxSizeBytes)
			}
		}
		bins = firstFitBins(files, maxSizeBytes)
	}

	stem := strings.TrimSuffix(saveTo, filepath.Ext(saveTo))
	for i, bin := range bins {
		var zipPath string
		if maxSizeBytes <= 0 {
			zipPath = stem + ".zip"
		} else {
			zipPath = fmt.Sprintf("%s_%d.zip", stem, i+1)
		}
		if err := writeZip(zipPath, bin); err != nil {
			return err
		}
	}
	return nil
}

// firstFitBins assigns each file (already sorted descending by size) to
// the first bin whose remaining capacity accepts it, opening a new bin
// when none does. This is a greedy knapsack approximation, not an
// optimal packing.
func firstFitBins(files []fileToPack, maxSizeBytes int64) [][]fileToPack {
	var bins [][]fileToPack
	var used []int64
	for _, f := range files {
		placed := false
		for i := range bins {
			if used[i]+f.size <= maxSizeBytes {
				bins[i] = append(bins[i], f)
				used[i] += f.size
				placed = true
				break
			}
		}
		if !placed {
			bins = append(bins, []fileToPack{f})
			used = append(used, f.size)
		}
	}
	return bins
}

func writeZip(zipPath string, files []fileToPack) error {
	if err := os.MkdirAll(filepath.Dir(zipPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, f := range files {
		if err := addFile(zw, f); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, f fileToPack) error {
	in, err := os.Open(f.src)
	if err != nil {
		return err
	}
	defer in.Close()

	hdr := &zip.FileHeader{Name: f.dst, Method: zip.Deflate}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

// Load extracts every archive in packPaths into cacheRoot, preserving the
// paths stored in each zip. Extracted files carry no timestamp sidecar:
// they land in the cache's "present but unvalidated" state.
func Load(cacheRoot string, packPaths []string) error {
	for _, packPath := range packPaths {
		if err := extract(cacheRoot, packPath); err != nil {
			return err
		}
	}
	return nil
}

func extract(cacheRoot, packPath string) error {
	zr, err := zip.OpenReader(packPath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := extractOne(cacheRoot, f); err != nil {
			return err
		}
	}
	return nil
}

func extractOne(cacheRoot string, f *zip.File) error {
	dst := filepath.Join(cacheRoot, filepath.FromSlash(f.Name))
	if !cacheentry.IsUnderCacheRoot(cacheRoot, dst) {
		return fmt.Errorf("zip entry %q escapes cache root", f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(dst, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}
