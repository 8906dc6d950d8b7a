// Package options provides the configuration surface for blockvault: the
// image root directory, index sizing, data-file book size, server ports and
// worker pool, flush cadence, and the digest family used for validation. It
// keeps the teacher's functional-option pattern (OptionFunc, WithXxx) and
// JSON-tagged Options struct, and adds YAML load/save in yaml.go so an
// operator can keep a vaultd.yaml alongside the image root.
package options

import (
	"strings"
	"time"
)

// IndexOptions configures the key-offset index's initial sizing.
type IndexOptions struct {
	// BucketCount is the number of buckets (and bucket mutexes) the index
	// starts with. The index rounds it up to a power of two.
	//
	// Default: 4096
	BucketCount uint32 `json:"bucketCount"`

	// SlotsPerBucket is the per-bucket slot capacity before a resize triggers.
	//
	// Default: 256
	SlotsPerBucket uint32 `json:"slotsPerBucket"`
}

// DatafileOptions configures the append-only data file.
type DatafileOptions struct {
	// BookSize is the fixed allocation window in bytes. Allocations never
	// span a book boundary.
	//
	// Default: 256 MiB
	BookSize int64 `json:"bookSize"`
}

// ServerOptions configures the three-channel TCP protocol server.
type ServerOptions struct {
	// QueryPort is the TCP port for the query channel (Is/Validate/Many).
	//
	// Default: 9009
	QueryPort int `json:"queryPort"`

	// ReadPort is the TCP port for the read channel.
	//
	// Default: 1010
	ReadPort int `json:"readPort"`

	// WritePort is the TCP port for the write channel.
	//
	// Default: 1111
	WritePort int `json:"writePort"`

	// Workers is the number of connection-handling goroutines in the
	// server's worker pool.
	//
	// Default: 1
	Workers int `json:"workers"`

	// BufferedWrites selects the write channel's framing: true uses
	// length-prefixed message framing (key||payload in one frame); false
	// uses the split u32-size+key header followed by a raw socket read
	// directly into a mapped region.
	//
	// Default: true
	BufferedWrites bool `json:"bufferedWrites"`

	// MaxBlockSize is the hard cap on a payload's size in bytes.
	//
	// Default: 8 MiB
	MaxBlockSize int `json:"maxBlockSize"`

	// MaxBatchKeys is the hard cap on the number of keys a Many request may carry.
	//
	// Default: 64
	MaxBatchKeys int `json:"maxBatchKeys"`
}

// FlushOptions configures the background flusher's cadence.
type FlushOptions struct {
	// Interval is how often the flusher wakes up.
	//
	// Default: 1s
	Interval time.Duration `json:"interval"`

	// EveryTicks is how many wakeups elapse between index/data flushes.
	//
	// Default: 10
	EveryTicks int `json:"everyTicks"`

	// StatsSnapshotPrefix names the periodic statistics-snapshot files.
	//
	// Default: "stats"
	StatsSnapshotPrefix string `json:"statsSnapshotPrefix"`

	// StatsSnapshotEvery writes a stats snapshot every N ticks; 0 disables snapshots.
	//
	// Default: 60
	StatsSnapshotEvery int `json:"statsSnapshotEvery"`
}

// Options defines the complete configuration for a blockvault image and its
// serving layer.
type Options struct {
	// DataDir is the base path where index.db, image.dat, and lock.db live.
	//
	// Default: "/var/lib/blockvault"
	DataDir string `json:"dataDir"`

	// Index configures the key-offset index.
	Index IndexOptions `json:"index"`

	// Datafile configures the append-only data file.
	Datafile DatafileOptions `json:"datafile"`

	// Server configures the TCP protocol server.
	Server ServerOptions `json:"server"`

	// Flush configures the background flusher.
	Flush FlushOptions `json:"flush"`

	// DigestName selects the Digest implementation ValidateStandard uses:
	// "blake2b-256" (default) or "sha-256".
	DigestName string `json:"digestName"`
}

// OptionFunc mutates an Options value.
type OptionFunc func(*Options)

// WithDataDir sets the image root directory.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithBucketCount sets the index's initial bucket count.
func WithBucketCount(count uint32) OptionFunc {
	return func(o *Options) {
		if count > 0 {
			o.Index.BucketCount = count
		}
	}
}

// WithSlotsPerBucket sets the index's initial per-bucket slot capacity.
func WithSlotsPerBucket(slots uint32) OptionFunc {
	return func(o *Options) {
		if slots > 0 {
			o.Index.SlotsPerBucket = slots
		}
	}
}

// WithBookSize sets the data file's allocation window size.
func WithBookSize(size int64) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.Datafile.BookSize = size
		}
	}
}

// WithPorts sets the query/read/write channel ports.
func WithPorts(query, read, write int) OptionFunc {
	return func(o *Options) {
		if query > 0 {
			o.Server.QueryPort = query
		}
		if read > 0 {
			o.Server.ReadPort = read
		}
		if write > 0 {
			o.Server.WritePort = write
		}
	}
}

// WithWorkers sets the server's connection worker pool size.
func WithWorkers(workers int) OptionFunc {
	return func(o *Options) {
		if workers > 0 {
			o.Server.Workers = workers
		}
	}
}

// WithBufferedWrites selects the write channel's framing mode.
func WithBufferedWrites(buffered bool) OptionFunc {
	return func(o *Options) {
		o.Server.BufferedWrites = buffered
	}
}

// WithFlushInterval sets the flusher's wakeup interval.
func WithFlushInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval > 0 {
			o.Flush.Interval = interval
		}
	}
}

// WithDigest selects the digest family used by ValidateStandard ("blake2b-256" or "sha-256").
func WithDigest(name string) OptionFunc {
	return func(o *Options) {
		name = strings.TrimSpace(name)
		if name != "" {
			o.DigestName = name
		}
	}
}

// Apply applies opts on top of the default configuration and returns the result.
func Apply(opts ...OptionFunc) Options {
	o := NewDefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
