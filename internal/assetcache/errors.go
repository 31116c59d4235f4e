package assetcache

import "fmt"

// NotCached indicates path has no local copy and the reachability probe
// reported the object store unreachable, so none could be fetched. Errors
// from the download itself are returned as they are, not as NotCached.
type NotCached struct {
	RemoteURI string
	LocalPath string
	Err       error
}

func (e *NotCached) Error() string {
	return fmt.Sprintf("not cached: %s (expected at %s): %v", e.RemoteURI, e.LocalPath, e.Err)
}

func (e *NotCached) Unwrap() error { return e.Err }

// ConfigError indicates the call could not be resolved against the
// effective configuration, e.g. no bucket could be derived.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }
