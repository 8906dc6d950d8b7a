// Package stats holds the process-wide atomic counters spec.md §3
// describes: blocks written, bytes written, items read, bytes read, and
// queries issued, plus the supplementary duplicatesDropped and flushCount
// counters drawn from original_source/volstore/image.hpp. Every field is
// updated with no lock (spec.md: "readers may observe slightly stale
// values"), so Counters is safe for concurrent use without any external
// synchronization.
package stats

import (
	"strconv"
	"sync/atomic"
)

// Counters is the live, mutable statistics record an Image owns for its
// lifetime. All fields are atomics; take a Snapshot to get a consistent
// point-in-time copy for logging or reporting.
type Counters struct {
	blocksWritten     atomic.Uint64
	bytesWritten      atomic.Uint64
	itemsRead         atomic.Uint64
	bytesRead         atomic.Uint64
	queriesIssued     atomic.Uint64
	duplicatesDropped atomic.Uint64
	flushCount        atomic.Uint64
}

// New returns a zeroed Counters ready for use.
func New() *Counters {
	return &Counters{}
}

// AddBlockWritten records one successfully published block of size n bytes.
func (c *Counters) AddBlockWritten(n uint64) {
	c.blocksWritten.Add(1)
	c.bytesWritten.Add(n)
}

// AddItemRead records one successfully returned read of size n bytes.
func (c *Counters) AddItemRead(n uint64) {
	c.itemsRead.Add(1)
	c.bytesRead.Add(n)
}

// AddQuery records one Is/Many/Validate query, regardless of outcome.
func (c *Counters) AddQuery() {
	c.queriesIssued.Add(1)
}

// AddDuplicateDropped records one Allocate call that found an
// already-published key and silently dropped the write.
func (c *Counters) AddDuplicateDropped() {
	c.duplicatesDropped.Add(1)
}

// AddFlush records one completed index+data flush cycle.
func (c *Counters) AddFlush() {
	c.flushCount.Add(1)
}

// Snapshot is an immutable point-in-time copy of Counters, suitable for
// logging, the stats-snapshot files the flusher writes, or JSON encoding.
type Snapshot struct {
	BlocksWritten     uint64 `json:"blocksWritten"`
	BytesWritten      uint64 `json:"bytesWritten"`
	ItemsRead         uint64 `json:"itemsRead"`
	BytesRead         uint64 `json:"bytesRead"`
	QueriesIssued     uint64 `json:"queriesIssued"`
	DuplicatesDropped uint64 `json:"duplicatesDropped"`
	FlushCount        uint64 `json:"flushCount"`
}

// Snapshot takes a consistent-enough point-in-time copy of the counters.
// Because each field is read independently, a snapshot taken concurrently
// with writers can observe a slightly inconsistent combination (e.g.
// BlocksWritten incremented but BytesWritten not yet) — acceptable per
// spec.md §3's "readers may observe slightly stale values."
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		BlocksWritten:     c.blocksWritten.Load(),
		BytesWritten:      c.bytesWritten.Load(),
		ItemsRead:         c.itemsRead.Load(),
		BytesRead:         c.bytesRead.Load(),
		QueriesIssued:     c.queriesIssued.Load(),
		DuplicatesDropped: c.duplicatesDropped.Load(),
		FlushCount:        c.flushCount.Load(),
	}
}

// String renders the snapshot as a compact log-friendly line, matching the
// teacher pack's preference for structured-but-readable summaries.
func (s Snapshot) String() string {
	u := strconv.FormatUint
	return "blocksWritten=" + u(s.BlocksWritten, 10) +
		" bytesWritten=" + u(s.BytesWritten, 10) +
		" itemsRead=" + u(s.ItemsRead, 10) +
		" bytesRead=" + u(s.BytesRead, 10) +
		" queriesIssued=" + u(s.QueriesIssued, 10) +
		" duplicatesDropped=" + u(s.DuplicatesDropped, 10) +
		" flushCount=" + u(s.FlushCount, 10)
}
