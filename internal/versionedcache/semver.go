package versionedcache

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	semver "github.com/Masterminds/semver/v3"
)

// grammarRe is the exact grammar a manifest value must satisfy to be
// treated as a version rather than an override: MAJOR.MINOR.PATCH with no
// leading zeros, plus an optional free-form prerelease suffix.
var grammarRe = regexp.MustCompile(`^(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)(-[0-9A-Za-z-]+(\.[0-9A-Za-z-]+)*)?$`)

// IsValidSemver reports whether s satisfies the manifest's version
// grammar.
func IsValidSemver(s string) bool { return grammarRe.MatchString(s) }

// CompletePartial pads a partial version like "1.2" out to "1.2.0". It is
// a no-op for already-complete versions.
func CompletePartial(s string) string {
	parts := strings.Split(s, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return strings.Join(parts, ".")
}

// Parse parses s as a strict semver version, enforcing the manifest
// grammar first (Masterminds' parser is more permissive than the grammar
// this cache requires, e.g. it accepts leading zeros).
func Parse(s string) (*semver.Version, error) {
	if !IsValidSemver(s) {
		return nil, &InvalidVersion{Value: s}
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil, &InvalidVersion{Value: s}
	}
	return v, nil
}

// BumpKind selects which component of a version to increment.
type BumpKind int

const (
	BumpMajor BumpKind = iota
	BumpMinor
	BumpPatch
)

// Bump increments the selected component of latest, zeroing the
// components below it.
func Bump(latest *semver.Version, kind BumpKind) *semver.Version {
	switch kind {
	case BumpMajor:
		nv := latest.IncMajor()
		return &nv
	case BumpMinor:
		nv := latest.IncMinor()
		return &nv
	default:
		nv := latest.IncPatch()
		return &nv
	}
}

// extractRe mirrors the original's version-extraction grammar exactly: a
// non-greedy prefix, then a captured MAJOR.MINOR.PATCH triple, then an
// optional single trailing dot-segment (the extension). Matched with
// FindStringSubmatch rather than a fully-anchored match, exactly like the
// original's re.match (anchored only at the start): trailing prerelease or
// build-metadata text after the triple, such as "-foo" in "0.1.6-foo.csv",
// is simply left unmatched by the rest of the pattern rather than rejecting
// the whole key.
var extractRe = regexp.MustCompile(`^.*?\.((0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*))(\.[^.]*)?`)

// ExtractVersion returns the MAJOR.MINOR.PATCH triple embedded in an
// observed remote key, e.g. "/a/b.1.2.5.csv" -> "1.2.5".
func ExtractVersion(key string) (string, error) {
	m := extractRe.FindStringSubmatch(key)
	if m == nil {
		return "", fmt.Errorf("no version found in %q", key)
	}
	return m[1], nil
}

// compareVersions orders two grammar-valid version strings, falling back
// to lexical order if either fails to parse (should not happen for
// grammar-valid input).
func compareVersions(a, b string) int {
	va, erra := semver.NewVersion(a)
	vb, errb := semver.NewVersion(b)
	if erra != nil || errb != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}

// maxVersion returns the greater of a and b.
func maxVersion(a, b string) string {
	if compareVersions(a, b) >= 0 {
		return a
	}
	return b
}

// sortVersions sorts a slice of grammar-valid version strings ascending.
func sortVersions(versions []string) {
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) < 0
	})
}

// sortStrings sorts a slice of plain strings ascending.
func sortStrings(s []string) { sort.Strings(s) }

// splitStemExt splits a canonical key into its stem (everything before the
// final extension) and extension (including the leading dot), e.g.
// "/a/b.csv" -> ("/a/b", ".csv"). Keys without a dot have no extension.
func splitStemExt(key string) (stem, ext string) {
	idx := strings.LastIndexByte(key, '.')
	if idx <= 0 {
		return key, ""
	}
	return key[:idx], key[idx:]
}

// formatVersion renders a *semver.Version back into the manifest's
// canonical string form (no "v" prefix, prerelease preserved verbatim).
func formatVersion(v *semver.Version) string {
	s := fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
	if p := v.Prerelease(); p != "" {
		s += "-" + p
	}
	return s
}
