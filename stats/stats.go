// Package stats tracks process-wide counters for the tracker. Fields
// are updated with atomic operations from the request path and the
// background workers; aggregate exactness is not required.
package stats

import (
	"sync/atomic"
	"time"
)

// Stats is the set of counters surfaced by the report endpoint. All
// int64 fields must be accessed through sync/atomic.
type Stats struct {
	start time.Time

	OpenConnections   int64
	OpenedConnections int64
	Requests          int64

	Announces           int64
	SuccessfulAnnounces int64
	Scrapes             int64

	Leechers int64
	Seeders  int64

	BytesRead    int64
	BytesWritten int64
}

// New returns a Stats anchored at the given start time.
func New(start time.Time) *Stats {
	return &Stats{start: start}
}

// Uptime reports how long the process has been running.
func (s *Stats) Uptime(now time.Time) time.Duration {
	return now.Sub(s.start)
}

// Snapshot is a consistent-enough copy of the counters for reporting.
type Snapshot struct {
	OpenConnections   int64
	OpenedConnections int64
	Requests          int64

	Announces           int64
	SuccessfulAnnounces int64
	Scrapes             int64

	Leechers int64
	Seeders  int64

	BytesRead    int64
	BytesWritten int64
}

// Snapshot reads every counter atomically.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		OpenConnections:     atomic.LoadInt64(&s.OpenConnections),
		OpenedConnections:   atomic.LoadInt64(&s.OpenedConnections),
		Requests:            atomic.LoadInt64(&s.Requests),
		Announces:           atomic.LoadInt64(&s.Announces),
		SuccessfulAnnounces: atomic.LoadInt64(&s.SuccessfulAnnounces),
		Scrapes:             atomic.LoadInt64(&s.Scrapes),
		Leechers:            atomic.LoadInt64(&s.Leechers),
		Seeders:             atomic.LoadInt64(&s.Seeders),
		BytesRead:           atomic.LoadInt64(&s.BytesRead),
		BytesWritten:        atomic.LoadInt64(&s.BytesWritten),
	}
}
