package substrate

import "context"

// HostProvider resolves a pool of remote worker hosts. Process launch /
// SSH bootstrap onto a resolved host is out of scope for the core
// (spec.md §1); this interface is the seam a domain adapter (e.g. a
// Kubernetes-native provider listing ready Pods) plugs into.
// Environment.Execute does not consult it: every replica runs
// in-process, with Coord.Host 0.
type HostProvider interface {
	Hosts(ctx context.Context) ([]HostSpec, error)
}

// staticHostProvider is the default HostProvider, backed by the fixed
// list configured on EnvironmentConfig.RemoteHosts.
type staticHostProvider []HostSpec

func staticHosts(hosts []HostSpec) HostProvider { return staticHostProvider(hosts) }

func (s staticHostProvider) Hosts(ctx context.Context) ([]HostSpec, error) {
	return []HostSpec(s), nil
}
