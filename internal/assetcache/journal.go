package assetcache

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/creachadair/atomicfile"
	"gopkg.in/yaml.v3"
)

const missingAssetsFile = "missing_assets.yaml"

// recordMissing appends uri to the missing-asset journal at cacheRoot,
// deduplicated and sorted. The write is best-effort: a journal failure is
// returned to the caller so it can be logged, but it must never replace
// the originating error that triggered the recording.
func recordMissing(cacheRoot, uri string) error {
	path := filepath.Join(cacheRoot, missingAssetsFile)

	var uris []string
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &uris); err != nil {
			uris = nil
		}
	case os.IsNotExist(err):
		// No journal yet; start one.
	default:
		return err
	}

	uris = dedupeSorted(append(uris, uri))

	out, err := yaml.Marshal(uris)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return err
	}
	return atomicfile.Tx(path, 0o644, func(f *atomicfile.File) error {
		_, err := f.Write(out)
		return err
	})
}

func dedupeSorted(in []string) []string {
	set := make(map[string]struct{}, len(in))
	for _, s := range in {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
