// Package prefill warms the local cache in parallel ahead of time, so that
// later synchronous Get calls are local-only.
//
// Grounded on the teacher's revproxy.Server/gobuild.Store bounded worker
// pools: both use taskgroup.New(nil).Limit(n) to cap concurrent upload/
// fetch fan-out, the same shape this uses for concurrent fan-out warmup.
package prefill

import (
	"context"
	"log"
	"strings"

	"github.com/creachadair/taskgroup"

	"github.com/bodylabs/baiji-pod/internal/assetcache"
	"github.com/bodylabs/baiji-pod/internal/objectstore"
	"github.com/bodylabs/baiji-pod/internal/versionedcache"
)

// Run dispatches refs to AssetCache or VersionedCache concurrently, up to
// concurrency workers at a time. A ref starting with "s3://" is resolved
// via ac; anything else is resolved via vc. Missing keys are logged as
// warnings, not treated as failures: Run always returns after every task
// has completed, regardless of individual outcomes.
func Run(ctx context.Context, ac *assetcache.Cache, vc *versionedcache.VC, refs []string, concurrency int, verbose bool) {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, start := taskgroup.New(nil).Limit(concurrency)

	for _, ref := range refs {
		ref := ref
		start(taskgroup.NoError(func() {
			fetchOne(ctx, ac, vc, ref, verbose)
		}))
	}

	g.Wait()
}

func fetchOne(ctx context.Context, ac *assetcache.Cache, vc *versionedcache.VC, ref string, verbose bool) {
	var err error
	if strings.HasPrefix(ref, "s3://") {
		_, err = ac.Get(ctx, ref, "", false)
	} else {
		_, err = vc.Get(ctx, ref, "")
	}
	if err == nil {
		return
	}
	if isMissing(err) {
		log.Printf("prefill: warning: %s not found, skipping", ref)
		return
	}
	if verbose {
		log.Printf("prefill: warning: %s failed: %v", ref, err)
	}
}

// isMissing reports whether err represents a missing key rather than some
// other failure, so prefill can log and continue instead of aborting.
func isMissing(err error) bool {
	switch err.(type) {
	case *objectstore.KeyNotFound, *versionedcache.KeyNotFound, *versionedcache.NotVersioned, *assetcache.NotCached:
		return true
	default:
		return false
	}
}
