// Package engine composes the key-offset index and the append-only data
// file into the Image abstraction spec.md §4 describes: content-addressed
// Write, presence checks (Is/Many), Read/Map, digest validation, and the
// background flusher that periodically syncs both files to disk and writes
// a statistics snapshot. It owns the cross-process lock.db guard and is the
// single entry point the server package talks to.
package engine

import (
	"bytes"
	"context"
	stdErrors "errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/blockvault/blockvault/internal/datafile"
	"github.com/blockvault/blockvault/internal/index"
	"github.com/blockvault/blockvault/internal/stats"
	"github.com/blockvault/blockvault/pkg/digest"
	"github.com/blockvault/blockvault/pkg/filesys"
	"github.com/blockvault/blockvault/pkg/options"
	"github.com/blockvault/blockvault/pkg/snapname"
	"github.com/blockvault/blockvault/pkg/verrors"
)

// Key is the 32-byte content-addressed identifier every block is stored under.
type Key = index.Key

// ErrEngineClosed is returned when attempting to perform operations on a
// closed engine.
var ErrEngineClosed = stdErrors.New("operation failed: cannot access closed image")

// Image is the main database engine that coordinates the index, the data
// file, and the background flusher. It is the concurrency-safe object the
// server's three channel handlers all share.
type Image struct {
	opts *options.Options
	log  *zap.SugaredLogger

	idx      *index.Index
	data     *datafile.File
	digest   digest.Digest
	counters *stats.Counters

	lockPath  string
	statsDir  string
	snapshots uint64

	closed atomic.Bool

	flushStop chan struct{}
	flushDone sync.WaitGroup
}

// Config holds the parameters needed to open an Image.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// Open opens (creating if necessary) the image rooted at config.Options.DataDir.
func Open(ctx context.Context, config *Config) (*Image, error) {
	if config == nil || config.Options == nil || config.Logger == nil {
		return nil, verrors.NewValidationError(nil, verrors.ErrorCodeInvalidInput, "engine configuration is required").
			WithField("config").WithRule("required")
	}

	opts := config.Options
	log := config.Logger

	if err := filesys.CreateDir(opts.DataDir, 0755, true); err != nil {
		return nil, verrors.NewStorageError(err, verrors.ErrorCodeIO, "failed to create image root").WithPath(opts.DataDir)
	}

	lockPath := filepath.Join(opts.DataDir, "lock.db")
	if err := filesys.AcquireLock(lockPath); err != nil {
		if stdErrors.Is(err, filesys.ErrLocked) {
			return nil, verrors.NewStorageError(err, verrors.ErrorCodeLocked, "image root is already locked by another process").
				WithPath(opts.DataDir)
		}
		return nil, verrors.NewStorageError(err, verrors.ErrorCodeIO, "failed to acquire image lock").WithPath(opts.DataDir)
	}

	idx, err := index.Open(&index.Config{
		Path:           filepath.Join(opts.DataDir, "index.db"),
		BucketCount:    opts.Index.BucketCount,
		SlotsPerBucket: opts.Index.SlotsPerBucket,
		Logger:         log,
	})
	if err != nil {
		filesys.ReleaseLock(lockPath)
		return nil, err
	}

	data, err := datafile.Open(&datafile.Config{
		Path:     filepath.Join(opts.DataDir, "image.dat"),
		BookSize: opts.Datafile.BookSize,
		Logger:   log,
	})
	if err != nil {
		idx.Close()
		filesys.ReleaseLock(lockPath)
		return nil, err
	}

	statsDir := filepath.Join(opts.DataDir, "stats")
	if err := filesys.CreateDir(statsDir, 0755, true); err != nil {
		data.Close()
		idx.Close()
		filesys.ReleaseLock(lockPath)
		return nil, verrors.NewStorageError(err, verrors.ErrorCodeIO, "failed to create stats directory").WithPath(statsDir)
	}

	img := &Image{
		opts:      opts,
		log:       log,
		idx:       idx,
		data:      data,
		digest:    resolveDigest(opts.DigestName),
		counters:  stats.New(),
		lockPath:  lockPath,
		statsDir:  statsDir,
		flushStop: make(chan struct{}),
	}

	img.flushDone.Add(1)
	go img.flushLoop()

	log.Infow("image opened", "dataDir", opts.DataDir, "digest", img.digest.Name())
	return img, nil
}

func resolveDigest(name string) digest.Digest {
	if name == "sha-256" {
		return digest.SHA256()
	}
	return digest.Blake2b256()
}

// ReservedWrite is a pending allocation returned by Reserve: a caller-owned
// span to fill before publishing. It exists so the write channel's
// unbuffered framing can read payload bytes straight from the socket into
// the mapped region instead of Write's own intermediate copy, while still
// only publishing the offset (making it visible to Is/Read/Many) once the
// bytes are actually in place — spec.md's invariant 4, "readers never see
// a partially-written payload."
type ReservedWrite struct {
	cell      *index.Cell
	span      datafile.Span
	offset    uint64
	duplicate bool
}

// Duplicate reports whether key was already published; when true, Span is
// empty and Commit is a no-op beyond releasing the lock.
func (r *ReservedWrite) Duplicate() bool { return r.duplicate }

// Span is the writable region to copy payload bytes into.
func (r *ReservedWrite) Span() []byte { return r.span.Data }

// Commit publishes the reservation's offset (unless it was a duplicate)
// and releases the underlying index lock. Call only after every byte of
// Span has been written.
func (r *ReservedWrite) Commit() {
	if !r.duplicate {
		r.cell.Set(r.offset)
	}
	r.cell.Unlock()
}

// Abort releases the lock without publishing, leaving the slot free. The
// data-file bytes already allocated are left behind as unreachable padding
// (benign in an append-only store).
func (r *ReservedWrite) Abort() {
	r.cell.Unlock()
}

// Reserve is the concurrency-critical allocate(key, n) primitive: it looks
// up or reserves key's slot under its bucket lock and, if not already
// published, carves out n contiguous bytes in the data file for the
// caller to fill. The bucket lock is held for the reservation's whole
// lifetime (until Commit/Abort), serializing concurrent Reserve/Write
// calls for the same key — the same guarantee spec.md's insert_lock
// describes.
func (img *Image) Reserve(key Key, n int) (*ReservedWrite, error) {
	if img.closed.Load() {
		return nil, ErrEngineClosed
	}
	if n > img.opts.Server.MaxBlockSize {
		return nil, verrors.NewOverLimitError("maxBlockSize", n, img.opts.Server.MaxBlockSize)
	}

	cell, err := img.idx.InsertLock(key)
	if err != nil {
		return nil, err
	}

	if cell.Existed() {
		return &ReservedWrite{cell: cell, duplicate: true}, nil
	}

	span, offset, err := img.data.Allocate(uint32(n))
	if err != nil {
		cell.Unlock()
		return nil, err
	}
	return &ReservedWrite{cell: cell, span: span, offset: offset}, nil
}

// Write stores payload under key, first-writer-wins: if key is already
// published, the call is a no-op beyond a duplicatesDropped counter bump
// (spec.md invariant 3: "duplicate-write idempotence").
func (img *Image) Write(key Key, payload []byte) error {
	rw, err := img.Reserve(key, len(payload))
	if err != nil {
		return err
	}

	if rw.Duplicate() {
		img.counters.AddDuplicateDropped()
		rw.Commit()
		return nil
	}

	copy(rw.Span(), payload)
	offset := rw.offset
	rw.Commit()

	if err := img.data.FlushRange(offset, len(payload)); err != nil {
		img.log.Warnw("flush range after write failed", "error", err)
	}
	img.counters.AddBlockWritten(uint64(len(payload)))
	return nil
}

// Is reports whether key is present.
func (img *Image) Is(key Key) (bool, error) {
	if img.closed.Load() {
		return false, ErrEngineClosed
	}
	img.counters.AddQuery()
	_, found, err := img.idx.Find(key)
	return found, err
}

// Many reports presence for a batch of keys, capped at opts.Server.MaxBatchKeys.
func (img *Image) Many(keys []Key) ([]bool, error) {
	if img.closed.Load() {
		return nil, ErrEngineClosed
	}
	if len(keys) > img.opts.Server.MaxBatchKeys {
		return nil, verrors.NewOverLimitError("maxBatchKeys", len(keys), img.opts.Server.MaxBatchKeys)
	}

	img.counters.AddQuery()
	result := make([]bool, len(keys))
	for i, k := range keys {
		_, found, err := img.idx.Find(k)
		if err != nil {
			return nil, err
		}
		result[i] = found
	}
	return result, nil
}

// Read returns an owned copy of the payload stored under key.
func (img *Image) Read(key Key) ([]byte, error) {
	span, err := img.Map(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(span.Data))
	copy(out, span.Data)
	img.counters.AddItemRead(uint64(len(out)))
	return out, nil
}

// Map returns a zero-copy view directly into the memory-mapped data file.
// The returned Span stays valid for the lifetime of the Image (books are
// append-only and never remapped), which lets the read/write channel
// framers stream it straight to a socket without an intermediate copy.
func (img *Image) Map(key Key) (datafile.Span, error) {
	if img.closed.Load() {
		return datafile.Span{}, ErrEngineClosed
	}

	offset, found, err := img.idx.Find(key)
	if err != nil {
		return datafile.Span{}, err
	}
	if !found {
		return datafile.Span{}, verrors.NewIndexError(nil, verrors.ErrorCodeIndexKeyNotFound, "key not found").
			WithKey(fmt.Sprintf("%x", key))
	}
	return img.data.Offset(offset)
}

// ValidateStandard re-derives key's content hash from its stored payload
// and reports whether it matches.
func (img *Image) ValidateStandard(key Key) (bool, error) {
	span, err := img.Map(key)
	if err != nil {
		return false, err
	}
	return img.digest.Verify(key, span.Data), nil
}

// ValidateMany runs ValidateStandard over a batch of keys. A key that
// doesn't exist counts as "not valid" rather than failing the whole batch.
func (img *Image) ValidateMany(keys []Key) ([]bool, error) {
	if len(keys) > img.opts.Server.MaxBatchKeys {
		return nil, verrors.NewOverLimitError("maxBatchKeys", len(keys), img.opts.Server.MaxBatchKeys)
	}
	result := make([]bool, len(keys))
	for i, k := range keys {
		ok, err := img.ValidateStandard(k)
		if err != nil && !verrors.IsIndexError(err) {
			return nil, err
		}
		result[i] = ok
	}
	return result, nil
}

// Enumerate walks every stored block in write order starting at data-file
// offset start, invoking fn with each block's re-derived key, its offset,
// and a zero-copy Span of its payload. Returns the next resumable offset.
func (img *Image) Enumerate(start uint64, fn func(key Key, offset uint64, span datafile.Span) bool) (uint64, error) {
	return img.data.Enumerate(start, func(offset uint64, span datafile.Span) bool {
		key := img.digest.Sum(span.Data)
		return fn(key, offset, span)
	})
}

// EnumerateKeys walks the entire data file via Enumerate and returns the
// key re-derived from every stored payload, in sorted order — a
// convenience for diagnostics and tests that want a stable listing rather
// than write order. For content-addressed writes these are the keys the
// blocks were written under; for any other key the digest differs.
func (img *Image) EnumerateKeys() ([]Key, error) {
	var keys []Key
	_, err := img.Enumerate(0, func(key Key, _ uint64, _ datafile.Span) bool {
		keys = append(keys, key)
		return true
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(keys, func(a, b Key) bool {
		return bytes.Compare(a[:], b[:]) < 0
	})
	return keys, nil
}

// Rebuild walks the entire data file and re-populates the index from
// scratch, re-deriving each key from its payload. It is idempotent and
// safe to run against a live index: a record whose key is already present
// is skipped. Used for recovery after index corruption is detected (see
// verrors.NewIndexCorruptionError's recovery hint).
func (img *Image) Rebuild() (int, error) {
	count := 0
	var rebuildErr error

	_, err := img.Enumerate(0, func(key Key, offset uint64, _ datafile.Span) bool {
		cell, cerr := img.idx.InsertLock(key)
		if cerr != nil {
			rebuildErr = cerr
			return false
		}
		if !cell.Existed() {
			cell.Set(offset)
			count++
		}
		cell.Unlock()
		return true
	})
	if err != nil {
		return count, err
	}
	if rebuildErr != nil {
		return count, verrors.NewIndexCorruptionError("Rebuild", rebuildErr)
	}
	return count, nil
}

// StatsSnapshot returns the current statistics counters.
func (img *Image) StatsSnapshot() stats.Snapshot {
	return img.counters.Snapshot()
}

// Close stops the flusher, performs a final flush, and releases the
// cross-process lock.
func (img *Image) Close() error {
	if !img.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}

	close(img.flushStop)
	img.flushDone.Wait()

	var firstErr error
	if err := img.data.Close(); err != nil {
		firstErr = err
	}
	if err := img.idx.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := filesys.ReleaseLock(img.lockPath); err != nil && firstErr == nil {
		firstErr = err
	}

	img.log.Infow("image closed", "dataDir", img.opts.DataDir)
	return firstErr
}

func (img *Image) flushLoop() {
	defer img.flushDone.Done()

	ticker := time.NewTicker(img.opts.Flush.Interval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-img.flushStop:
			img.flush()
			return
		case <-ticker.C:
			ticks++
			if img.opts.Flush.EveryTicks > 0 && ticks%img.opts.Flush.EveryTicks == 0 {
				img.flush()
			}
			if img.opts.Flush.StatsSnapshotEvery > 0 && ticks%img.opts.Flush.StatsSnapshotEvery == 0 {
				img.writeStatsSnapshot()
			}
		}
	}
}

func (img *Image) flush() {
	if err := img.data.Flush(); err != nil {
		img.log.Warnw("data file flush failed", "error", err)
	}
	if err := img.idx.Flush(); err != nil {
		img.log.Warnw("index flush failed", "error", err)
	}
	img.counters.AddFlush()
}

func (img *Image) writeStatsSnapshot() {
	id := atomic.AddUint64(&img.snapshots, 1)
	name := snapname.Generate(id, img.opts.Flush.StatsSnapshotPrefix, time.Now())
	path := filepath.Join(img.statsDir, name)

	snap := img.counters.Snapshot()
	body := []byte(snap.String() + "\n")
	if err := filesys.WriteFile(path, 0644, body); err != nil {
		img.log.Warnw("failed to write stats snapshot", "error", err, "path", path)
	}
}
