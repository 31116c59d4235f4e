package versionedcache

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/creachadair/atomicfile"
)

// Manifest maps canonical logical paths to either a semver string or an
// override (an absolute local path or s3:// URI).
type Manifest map[string]string

// loadManifest reads the manifest at path, returning an empty Manifest if
// the file does not yet exist.
func loadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Manifest{}, nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = Manifest{}
	}
	return m, nil
}

// saveManifest rewrites the manifest atomically, pretty-printed with keys
// sorted (encoding/json sorts map keys automatically).
func saveManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return atomicfile.Tx(path, 0o644, func(f *atomicfile.File) error {
		_, err := f.Write(data)
		return err
	})
}

// sortedKeys returns m's keys in ascending order.
func sortedKeys(m Manifest) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
