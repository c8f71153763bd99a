package cache

import "sync/atomic"

// Stats counts cache activity. Counters are safe for concurrent use.
type Stats struct {
	hits      atomic.Int64
	fetches   atomic.Int64
	shared    atomic.Int64
	discarded atomic.Int64
	degraded  atomic.Int64
	refetches atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Hits      int64 `json:"hits"`
	Fetches   int64 `json:"fetches"`
	Shared    int64 `json:"shared"`
	Discarded int64 `json:"discarded"`
	Degraded  int64 `json:"degraded"`
	Refetches int64 `json:"refetches"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Hits:      s.hits.Load(),
		Fetches:   s.fetches.Load(),
		Shared:    s.shared.Load(),
		Discarded: s.discarded.Load(),
		Degraded:  s.degraded.Load(),
		Refetches: s.refetches.Load(),
	}
}
