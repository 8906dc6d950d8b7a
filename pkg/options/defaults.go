package options

import "time"

const (
	// DefaultDataDir is the base directory blockvault stores its image in
	// when no other directory is specified during initialization.
	DefaultDataDir = "/var/lib/blockvault"

	// MaxBlockSize is the hard cap on a single block's payload size (8 MiB),
	// per spec.md §3 invariant 5. Inputs exceeding this are rejected without
	// side effect.
	MaxBlockSize = 8 * 1024 * 1024

	// BookSize is the fixed 256 MiB allocation window the data file is
	// conceptually partitioned into (spec.md §3 "Book"). Allocations never
	// span a book boundary.
	BookSize = 256 * 1024 * 1024

	// MaxBatchKeys is the maximum number of keys a single Many call accepts
	// (spec.md §3 invariant 6).
	MaxBatchKeys = 64

	// DefaultBucketCount is the default number of index buckets (and bucket
	// mutexes) the key-offset index starts with.
	DefaultBucketCount uint32 = 4096

	// DefaultSlotsPerBucket is the default per-bucket slot capacity before
	// a resize is triggered.
	DefaultSlotsPerBucket uint32 = 256

	// IndexResizeLoadFactor is a per-bucket occupancy ratio. internal/index
	// does not consult it: the index resizes (doubling slotsPerBucket) only
	// when a key's bucket has no free slot left.
	IndexResizeLoadFactor = 0.75

	// DefaultFlushInterval is how often the flusher wakes up to check whether
	// it's time to flush (spec.md §4.3: every second).
	DefaultFlushInterval = time.Second

	// DefaultFlushEveryTicks is how many flusher ticks elapse between actual
	// index/data flushes (spec.md §4.3: every tenth tick).
	DefaultFlushEveryTicks = 10

	// DefaultQueryPort is the default TCP port for the query channel.
	DefaultQueryPort = 9009

	// DefaultReadPort is the default TCP port for the read channel.
	DefaultReadPort = 1010

	// DefaultWritePort is the default TCP port for the write channel.
	DefaultWritePort = 1111

	// DefaultWorkers is the default size of the server's connection worker pool.
	DefaultWorkers = 1

	// DefaultStatsSnapshotPrefix names the periodic statistics-snapshot files
	// written under <root>/stats/.
	DefaultStatsSnapshotPrefix = "stats"

	// DefaultStatsSnapshotEveryTicks writes a stats snapshot every N flusher
	// ticks (default: once a minute, at one tick per second).
	DefaultStatsSnapshotEveryTicks = 60
)

// defaultOptions holds the baseline configuration for a new Options value.
var defaultOptions = Options{
	DataDir: DefaultDataDir,
	Index: IndexOptions{
		BucketCount:    DefaultBucketCount,
		SlotsPerBucket: DefaultSlotsPerBucket,
	},
	Datafile: DatafileOptions{
		BookSize: BookSize,
	},
	Server: ServerOptions{
		QueryPort:      DefaultQueryPort,
		ReadPort:       DefaultReadPort,
		WritePort:      DefaultWritePort,
		Workers:        DefaultWorkers,
		BufferedWrites: true,
		MaxBlockSize:   MaxBlockSize,
		MaxBatchKeys:   MaxBatchKeys,
	},
	Flush: FlushOptions{
		Interval:            DefaultFlushInterval,
		EveryTicks:          DefaultFlushEveryTicks,
		StatsSnapshotPrefix: DefaultStatsSnapshotPrefix,
		StatsSnapshotEvery:  DefaultStatsSnapshotEveryTicks,
	},
	DigestName: "blake2b-256",
}

// NewDefaultOptions returns a copy of the baseline configuration.
func NewDefaultOptions() Options {
	return defaultOptions
}
