// Package stats derives score bucket counts from a marker snapshot.
package stats

import (
	"sync"

	"github.com/OCAP2/mapmarkers/pkg/core"
)

// Table holds the number of markers per score, indexed by score value.
type Table [core.ScoreBuckets]int

// Aggregate counts markers per score bucket. Pure; O(n).
// Markers with an out-of-range score are not counted.
func Aggregate(snapshot core.Snapshot) Table {
	var t Table
	for _, m := range snapshot {
		if !m.Score.Valid() {
			continue
		}
		t[m.Score-core.MinScore]++
	}
	return t
}

// Count returns the number of markers with score s; zero for invalid scores.
func (t Table) Count(s core.Score) int {
	if !s.Valid() {
		return 0
	}
	return t[s-core.MinScore]
}

// Total returns the number of markers across all buckets
func (t Table) Total() int {
	total := 0
	for _, n := range t {
		total += n
	}
	return total
}

// Mean returns the average score, or 0 when the table is empty
func (t Table) Mean() float64 {
	total := t.Total()
	if total == 0 {
		return 0
	}
	sum := 0
	for i, n := range t {
		sum += (i + int(core.MinScore)) * n
	}
	return float64(sum) / float64(total)
}

// VersionedSource is something that can hand out snapshots tagged with a version
type VersionedSource interface {
	Snapshot() core.Snapshot
	Version() uint64
}

// Cache memoises the last table per source version. Any store mutation bumps
// the version and therefore invalidates the cached table.
type Cache struct {
	mu      sync.Mutex
	src     VersionedSource
	version uint64
	table   Table
	valid   bool
}

// NewCache creates a Cache over src
func NewCache(src VersionedSource) *Cache {
	return &Cache{src: src}
}

// Table returns the aggregation for the current state of the source.
func (c *Cache) Table() Table {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.src.Version()
	if c.valid && c.version == v {
		return c.table
	}
	c.table = Aggregate(c.src.Snapshot())
	c.version = v
	c.valid = true
	return c.table
}
