// Package reachability checks whether the object store is reachable before
// the cache core attempts a network round trip, so that a missing network
// degrades to a clear error instead of a slow timeout per request.
//
// Grounded on the original's baiji/pod/util/reachability.py: a trusted
// location (there, EC2, detected via an environment flag) short-circuits the
// probe entirely, since such hosts are assumed to always have a route to the
// object store.
package reachability

import (
	"net"
	"os"
	"time"
)

// Prober reports whether the object store is currently reachable.
type Prober interface {
	Reachable() bool
}

const envEC2 = "EC2"

// probeHost and probeTimeout are the default network probe target and
// deadline. They are package variables rather than constants so tests can
// override them.
var (
	probeHost    = "s3.amazonaws.com:443"
	probeTimeout = 2 * time.Second
)

// NetProber probes reachability with a short TCP dial against a well-known
// host. It treats a trusted location (detected via the EC2 environment
// flag, matching the original's location_is_ec2) as always reachable,
// skipping the dial entirely.
type NetProber struct {
	// Host is the address dialed to test reachability. Defaults to
	// probeHost when empty.
	Host string
	// Timeout bounds the dial. Defaults to probeTimeout when zero.
	Timeout time.Duration
}

var _ Prober = NetProber{}

// Reachable reports whether the network appears to be up.
func (p NetProber) Reachable() bool {
	if trustedLocation() {
		return true
	}
	host := p.Host
	if host == "" {
		host = probeHost
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = probeTimeout
	}
	conn, err := net.DialTimeout("tcp", host, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// trustedLocation reports whether the current host is one where network
// reachability is assumed rather than probed.
func trustedLocation() bool {
	v := os.Getenv(envEC2)
	return v == "1" || v == "true" || v == "True" || v == "yes"
}

// UnreachableError indicates a cache operation was aborted because the
// object store could not be reached.
type UnreachableError struct{}

func (e *UnreachableError) Error() string { return "object store unreachable" }

// AssertReachable returns an *UnreachableError if p reports the store is
// not reachable. A nil Prober is treated as always reachable, so callers
// that do not care about offline degradation can omit it.
func AssertReachable(p Prober) error {
	if p == nil {
		return nil
	}
	if !p.Reachable() {
		return &UnreachableError{}
	}
	return nil
}
