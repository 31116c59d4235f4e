// Package versionedcache implements VersionedCache: semantic-versioned
// file naming and a manifest (logical path -> version) layered on top of
// AssetCache, so that code pinned to a version deterministically resolves
// to an immutable remote artifact.
//
// Grounded on the teacher's modproxy.S3Cacher for the "resolve a logical
// name to an immutable remote object, cache the fetch" shape, generalized
// from Go module proxy semantics to an arbitrary semver-named asset.
package versionedcache

import (
	"context"
	"expvar"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bodylabs/baiji-pod/internal/assetcache"
	"github.com/bodylabs/baiji-pod/internal/cacheentry"
	"github.com/bodylabs/baiji-pod/internal/objectstore"
)

// defaultVersion is used by Add when the caller supplies none.
const defaultVersion = "1.0.0"

// VC is a VersionedCache instance, bound to one AssetCache, one manifest
// file, and one (intended-immutable) bucket.
type VC struct {
	AC           *assetcache.Cache
	ManifestPath string
	Bucket       string

	getNotVersioned expvar.Int // Get calls against a path with no manifest entry
	publishAdd      expvar.Int // successful Add calls
	publishUpdate   expvar.Int // successful Update calls
	updateConflict  expvar.Int // Update calls rejected by VersionConflict
}

// New builds a VC over ac, persisting its manifest at manifestPath and
// publishing into bucket.
func New(ac *assetcache.Cache, manifestPath, bucket string) *VC {
	return &VC{AC: ac, ManifestPath: manifestPath, Bucket: bucket}
}

// canon prefixes p with "/" if missing.
func canon(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func (vc *VC) manifest() (Manifest, error) { return loadManifest(vc.ManifestPath) }

// IsVersioned reports whether path has a manifest entry.
func (vc *VC) IsVersioned(logicalPath string) (bool, error) {
	m, err := vc.manifest()
	if err != nil {
		return false, err
	}
	_, ok := m[canon(logicalPath)]
	return ok, nil
}

// ManifestVersion returns the raw manifest value (a version string or an
// override) for path.
func (vc *VC) ManifestVersion(logicalPath string) (string, error) {
	m, err := vc.manifest()
	if err != nil {
		return "", err
	}
	v, ok := m[canon(logicalPath)]
	if !ok {
		return "", &NotVersioned{Path: canon(logicalPath)}
	}
	return v, nil
}

// ManifestFiles returns every logical path present in the manifest,
// sorted.
func (vc *VC) ManifestFiles() ([]string, error) {
	m, err := vc.manifest()
	if err != nil {
		return nil, err
	}
	return sortedKeys(m), nil
}

// URI constructs the remote URI for logicalPath at version, inserting
// suffixes (if any) before the extension. version may be either a
// grammar-valid semver string or, when allowLocal is true, an override
// value that already names a concrete local path or s3:// URI.
func (vc *VC) URI(ctx context.Context, logicalPath, version string, allowLocal bool, suffixes []string) (string, error) {
	logicalPath = canon(logicalPath)
	if IsValidSemver(version) {
		stem, ext := splitStemExt(logicalPath)
		var b strings.Builder
		b.WriteString(stem)
		b.WriteByte('.')
		b.WriteString(version)
		for _, s := range suffixes {
			b.WriteByte('.')
			b.WriteString(s)
		}
		b.WriteString(ext)
		return objectstore.JoinURI(vc.Bucket, b.String()), nil
	}
	if allowLocal {
		exists, err := vc.AC.Store.Exists(ctx, version)
		if err == nil && exists {
			return version, nil
		}
	}
	return "", &KeyNotFound{Msg: fmt.Sprintf("%q is neither a valid version nor an existing override", version)}
}

// Get resolves path (at an explicit version, or the manifest's pinned
// version) and delegates to AssetCache for the fetch. Because the bucket
// is configured immutable, AssetCache suppresses revalidation on repeat
// calls automatically.
func (vc *VC) Get(ctx context.Context, logicalPath, version string) (cacheentry.CachedPath, error) {
	logicalPath = canon(logicalPath)

	versioned, err := vc.IsVersioned(logicalPath)
	if err != nil {
		return "", err
	}
	if !versioned {
		vc.getNotVersioned.Add(1)
		return "", &NotVersioned{Path: logicalPath}
	}

	if version == "" {
		version, err = vc.ManifestVersion(logicalPath)
		if err != nil {
			return "", err
		}
	}

	u, err := vc.URI(ctx, logicalPath, version, true, nil)
	if err != nil {
		return "", err
	}

	local, err := vc.AC.Get(ctx, u, "", false)
	if err != nil {
		if _, ok := err.(*objectstore.KeyNotFound); ok {
			return "", &KeyNotFound{Msg: fmt.Sprintf("not cached for version %s: %s", version, logicalPath)}
		}
		return "", err
	}
	return local, nil
}

// Add publishes logicalPath for the first time at version (default
// "1.0.0"; partial versions like "1.2" are completed to "1.2.0"). It
// fails if logicalPath is already versioned.
func (vc *VC) Add(ctx context.Context, logicalPath, localFile, version string) error {
	logicalPath = canon(logicalPath)
	if version == "" {
		version = defaultVersion
	}
	version = CompletePartial(version)
	if !IsValidSemver(version) {
		return &InvalidVersion{Value: version}
	}

	versioned, err := vc.IsVersioned(logicalPath)
	if err != nil {
		return err
	}
	if versioned {
		return &AlreadyVersioned{Path: logicalPath}
	}

	u, err := vc.URI(ctx, logicalPath, version, false, nil)
	if err != nil {
		return err
	}
	if err := vc.AC.Store.Copy(ctx, localFile, u, true, true); err != nil {
		return err
	}
	if err := vc.setManifestVersion(logicalPath, version); err != nil {
		return err
	}
	vc.publishAdd.Add(1)
	return nil
}

// UpdateOpts selects how Update computes the new version: either an
// explicit Version (which wins if non-empty), or exactly one bump flag.
type UpdateOpts struct {
	Version             string
	Major, Minor, Patch bool
	MinVersion          string
}

// Update bumps logicalPath's version and publishes localFile under the
// new version, per opts. The new version must be strictly greater than
// the latest version already available remotely.
func (vc *VC) Update(ctx context.Context, logicalPath, localFile string, opts UpdateOpts) (string, error) {
	logicalPath = canon(logicalPath)
	versioned, err := vc.IsVersioned(logicalPath)
	if err != nil {
		return "", err
	}
	if !versioned {
		return "", &NotVersioned{Path: logicalPath}
	}

	latest, err := vc.LatestAvailableVersion(ctx, logicalPath)
	if err != nil {
		return "", err
	}

	var newVersion string
	switch {
	case opts.Version != "":
		newVersion = CompletePartial(opts.Version)
		if !IsValidSemver(newVersion) {
			return "", &InvalidVersion{Value: opts.Version}
		}
	case opts.Major || opts.Minor || opts.Patch:
		if (opts.Major && opts.Minor) || (opts.Major && opts.Patch) || (opts.Minor && opts.Patch) {
			return "", fmt.Errorf("update requires exactly one of major/minor/patch")
		}
		latestVer, err := Parse(latest)
		if err != nil {
			return "", err
		}
		var kind BumpKind
		switch {
		case opts.Major:
			kind = BumpMajor
		case opts.Minor:
			kind = BumpMinor
		default:
			kind = BumpPatch
		}
		newVersion = formatVersion(Bump(latestVer, kind))
	default:
		return "", fmt.Errorf("update requires an explicit version or exactly one of major/minor/patch")
	}

	if opts.MinVersion != "" {
		newVersion = maxVersion(newVersion, CompletePartial(opts.MinVersion))
	}

	if compareVersions(newVersion, latest) <= 0 {
		vc.updateConflict.Add(1)
		return "", &VersionConflict{Path: logicalPath, Attempted: newVersion, Latest: latest}
	}

	u, err := vc.URI(ctx, logicalPath, newVersion, false, nil)
	if err != nil {
		return "", err
	}
	if err := vc.AC.Store.Copy(ctx, localFile, u, true, true); err != nil {
		return "", err
	}
	if err := vc.setManifestVersion(logicalPath, newVersion); err != nil {
		return "", err
	}
	vc.publishUpdate.Add(1)
	return newVersion, nil
}

// UpdateMajor, UpdateMinor, and UpdatePatch are sugar over Update for the
// three bump kinds.
func (vc *VC) UpdateMajor(ctx context.Context, logicalPath, localFile, minVersion string) (string, error) {
	return vc.Update(ctx, logicalPath, localFile, UpdateOpts{Major: true, MinVersion: minVersion})
}

func (vc *VC) UpdateMinor(ctx context.Context, logicalPath, localFile, minVersion string) (string, error) {
	return vc.Update(ctx, logicalPath, localFile, UpdateOpts{Minor: true, MinVersion: minVersion})
}

func (vc *VC) UpdatePatch(ctx context.Context, logicalPath, localFile, minVersion string) (string, error) {
	return vc.Update(ctx, logicalPath, localFile, UpdateOpts{Patch: true, MinVersion: minVersion})
}

// AddOrUpdate publishes logicalPath, calling Add if it is not yet
// versioned and Update (with the given opts) otherwise.
func (vc *VC) AddOrUpdate(ctx context.Context, logicalPath, localFile string, opts UpdateOpts) (string, error) {
	versioned, err := vc.IsVersioned(logicalPath)
	if err != nil {
		return "", err
	}
	if !versioned {
		v := opts.Version
		if v == "" {
			v = defaultVersion
		}
		if err := vc.Add(ctx, logicalPath, localFile, v); err != nil {
			return "", err
		}
		return CompletePartial(v), nil
	}
	return vc.Update(ctx, logicalPath, localFile, opts)
}

// SetMetrics publishes vc's counters under m, alongside whatever else the
// process exports via expvar.
func (vc *VC) SetMetrics(_ context.Context, m *expvar.Map) {
	m.Set("get_not_versioned", &vc.getNotVersioned)
	m.Set("publish_add", &vc.publishAdd)
	m.Set("publish_update", &vc.publishUpdate)
	m.Set("update_conflict", &vc.updateConflict)
}

func (vc *VC) setManifestVersion(logicalPath, version string) error {
	m, err := vc.manifest()
	if err != nil {
		return err
	}
	m[logicalPath] = version
	if err := saveManifest(vc.ManifestPath, m); err != nil {
		return err
	}
	return nil
}

// VersionsAvailable lists every version of logicalPath published
// remotely, ascending.
func (vc *VC) VersionsAvailable(ctx context.Context, logicalPath string) ([]string, error) {
	logicalPath = canon(logicalPath)
	stem, ext := splitStemExt(logicalPath)

	keys, err := vc.AC.Store.List(ctx, vc.Bucket, stem+".")
	if err != nil {
		return nil, err
	}

	var versions []string
	for _, key := range keys {
		if _, keyExt := splitStemExt(key); keyExt != ext {
			continue
		}
		v, err := ExtractVersion(key)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}

	sortVersions(versions)
	return versions, nil
}

// LatestAvailableVersion returns the greatest published version of
// logicalPath.
func (vc *VC) LatestAvailableVersion(ctx context.Context, logicalPath string) (string, error) {
	versions, err := vc.VersionsAvailable(ctx, logicalPath)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "0.0.0", nil
	}
	return versions[len(versions)-1], nil
}

// NextVersionNumber returns the latest published version's patch+1,
// lifted to at least minVersion if supplied.
func (vc *VC) NextVersionNumber(ctx context.Context, logicalPath, minVersion string) (string, error) {
	latest, err := vc.LatestAvailableVersion(ctx, logicalPath)
	if err != nil {
		return "", err
	}
	latestVer, err := Parse(latest)
	if err != nil {
		return "", err
	}
	next := formatVersion(Bump(latestVer, BumpPatch))
	if minVersion != "" {
		next = maxVersion(next, CompletePartial(minVersion))
	}
	return next, nil
}

// LsRemote returns the distinct logical keys (version stripped) present
// anywhere in the bucket.
func (vc *VC) LsRemote(ctx context.Context) ([]string, error) {
	keys, err := vc.AC.Store.List(ctx, vc.Bucket, "/")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, key := range keys {
		logical := stripVersion(key)
		if _, ok := seen[logical]; ok {
			continue
		}
		seen[logical] = struct{}{}
		out = append(out, logical)
	}
	sortStrings(out)
	return out, nil
}

// stripVersion removes the embedded MAJOR.MINOR.PATCH segment from an
// observed key, recovering the logical path that was passed to URI. A
// prerelease suffix after the triple is not removed and stays in the key.
func stripVersion(key string) string {
	v, err := ExtractVersion(key)
	if err != nil {
		return key
	}
	return strings.Replace(key, "."+v, "", 1)
}

// Sync copies every manifest entry, at its pinned version, into
// destination, preserving the logical path layout.
func (vc *VC) Sync(ctx context.Context, destination string) error {
	m, err := vc.manifest()
	if err != nil {
		return err
	}
	for _, logicalPath := range sortedKeys(m) {
		local, err := vc.Get(ctx, logicalPath, "")
		if err != nil {
			return err
		}
		dst := filepath.Join(destination, filepath.FromSlash(logicalPath))
		if err := vc.AC.Store.Copy(ctx, string(local), dst, true, false); err != nil {
			return err
		}
	}
	return nil
}
