package client

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// FetchPolicy decides whether an operation is answered from the cache, the
// network, or both.
type FetchPolicy string

const (
	CacheFirst      FetchPolicy = "cache-first"
	CacheAndNetwork FetchPolicy = "cache-and-network"
	NetworkOnly     FetchPolicy = "network-only"
	CacheOnly       FetchPolicy = "cache-only"
	NoCache         FetchPolicy = "no-cache"
)

// Defaults of the facade: watches show cached data and refresh it, one-shot
// queries avoid the network when the cache can answer.
const (
	DefaultWatchPolicy = CacheAndNetwork
	DefaultQueryPolicy = CacheFirst
)

// ParseFetchPolicy validates a policy name. The empty string is rejected.
func ParseFetchPolicy(s string) (FetchPolicy, error) {
	switch p := FetchPolicy(s); p {
	case CacheFirst, CacheAndNetwork, NetworkOnly, CacheOnly, NoCache:
		return p, nil
	}
	return "", fmt.Errorf("unknown fetch policy %q: %w", s, errdefs.ErrInvalidArgument)
}

func (p FetchPolicy) readsCache() bool {
	return p == CacheFirst || p == CacheAndNetwork || p == CacheOnly
}

func (p FetchPolicy) writesCache() bool {
	return p != NoCache
}
