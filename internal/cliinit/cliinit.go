// Package cliinit builds the shared AssetCache/VersionedCache plumbing
// used by every command-line frontend, so each cmd/ package only wires up
// its own flags and subcommands.
//
// Grounded on the teacher's cmd/go-cache-plugin/setup.go: load AWS config
// for a region, build an s3.Client, construct the cache on top of it.
package cliinit

import (
	"context"
	"expvar"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bodylabs/baiji-pod/internal/assetcache"
	"github.com/bodylabs/baiji-pod/internal/config"
	"github.com/bodylabs/baiji-pod/internal/objectstore"
	"github.com/bodylabs/baiji-pod/internal/reachability"
	"github.com/bodylabs/baiji-pod/internal/versionedcache"
)

// Flags carries the command-line options common to every frontend, bound
// via flax struct tags in each cmd/ package.
type Flags struct {
	CacheDir      string `flag:"cache-dir,default=$STATIC_CACHE_DIR,Local cache directory"`
	Bucket        string `flag:"bucket,default=$STATIC_CACHE_DEFAULT_BUCKET,Default S3 bucket"`
	Region        string `flag:"region,default=$BAIJI_POD_S3_REGION,S3 region"`
	Verbose       bool   `flag:"v,default=$STATIC_CACHE_VERBOSE,Enable verbose logging"`
	ManifestPath  string `flag:"manifest,default=vc_manifest.json,Path to the VersionedCache manifest file"`
	VersionBucket string `flag:"version-bucket,default=$STATIC_CACHE_VERSION_BUCKET,Bucket used by the VersionedCache (defaults to --bucket)"`
}

// Cache bundles the built AssetCache and VersionedCache, ready for a
// frontend to drive.
type Cache struct {
	AC *assetcache.Cache
	VC *versionedcache.VC
}

// New builds an AssetCache and VersionedCache backed by a real S3 client,
// using region (or, if empty, the AWS SDK's default resolution) and the
// effective Config built from environment variables overridden by f.
func New(ctx context.Context, f *Flags) (*Cache, error) {
	cfg := config.FromEnvironment()
	if f.CacheDir != "" {
		cfg.CacheRoot = f.CacheDir
		if cfg.CacheRoot[len(cfg.CacheRoot)-1] != '/' {
			cfg.CacheRoot += "/"
		}
	}
	if f.Bucket != "" {
		cfg.DefaultBucket = f.Bucket
	}
	cfg.Verbose = cfg.Verbose || f.Verbose

	var opts []func(*awsconfig.LoadOptions) error
	if f.Region != "" {
		opts = append(opts, awsconfig.WithRegion(f.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	store := &objectstore.S3Store{Client: s3.NewFromConfig(awsCfg)}
	prober := reachability.NetProber{}
	ac := assetcache.New(store, prober, cfg)
	vc := versionedcache.New(ac, f.ManifestPath, f.ResolveVersionBucket())
	ac.SetMetrics(ctx, expvar.NewMap("assetcache"))
	vc.SetMetrics(ctx, expvar.NewMap("versionedcache"))
	return &Cache{AC: ac, VC: vc}, nil
}

// ResolveVersionBucket returns the bucket the VersionedCache should
// publish into: the explicit --version-bucket flag, or else --bucket.
func (f *Flags) ResolveVersionBucket() string {
	if f.VersionBucket != "" {
		return f.VersionBucket
	}
	return f.Bucket
}
