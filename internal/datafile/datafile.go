// Package datafile implements the append-only, memory-mapped, book-chunked
// byte store backing an Image's block payloads (spec.md §4.2). It hands out
// aligned regions for writes and raw byte slices into the map for reads.
//
// The file is mapped in fixed bookSize (default 256 MiB) windows. Each
// mapped book is kept forever in an append-only slice of []byte: growth maps
// a new book without touching or invalidating slices into previously-mapped
// books, so a Span borrowed from an old book stays valid across later
// growth (spec.md §5: "old windows are retained while any span into them is
// live").
//
// A small header page at the front of book 0 reserves logical offset 0 as
// the "slot allocated, payload not yet written" sentinel (spec.md §3) for
// free: the allocator's tail starts just past the header, so offset 0 is
// never handed out to a caller.
package datafile

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/blockvault/blockvault/pkg/verrors"
)

const (
	headerMagic   = "VIMG"
	headerVersion = uint32(1)

	// headerSize is the reserved page at the front of book 0. It holds the
	// magic, format version, and the last-flushed tail so a reopened data
	// file can resume allocation where it left off.
	headerSize = 4096

	// SizePrefixLen is the width of the little-endian size prefix ahead of
	// every payload (spec.md §3 "Block").
	SizePrefixLen = 4

	tailOffsetInHeader = 8
)

// Span is a borrowed view into a mapped book. It stays valid for as long as
// the owning File is open; books are never remapped or shrunk once mapped,
// only appended to, so a Span never needs its own reference counting.
type Span struct {
	Data []byte
}

// File is the append-only, memory-mapped, book-chunked data file.
type File struct {
	path     string
	bookSize int64
	log      *zap.SugaredLogger

	fd *os.File

	mu    sync.RWMutex // guards the books slice's growth only.
	books [][]byte

	tail   atomic.Uint64
	closed atomic.Bool
}

// Config supplies the parameters needed to open a data file.
type Config struct {
	Path     string
	BookSize int64
	Logger   *zap.SugaredLogger
}

// Open opens (creating if necessary) the data file at config.Path, mapping
// every book up to its current high-water mark.
func Open(config *Config) (*File, error) {
	if config == nil || config.Path == "" || config.Logger == nil {
		return nil, verrors.NewValidationError(nil, verrors.ErrorCodeInvalidInput, "datafile configuration is required").
			WithField("config").WithRule("required")
	}

	bookSize := config.BookSize
	if bookSize <= 0 {
		bookSize = 256 * 1024 * 1024
	}

	fd, err := os.OpenFile(config.Path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, verrors.NewStorageError(err, verrors.ErrorCodeIO, "failed to open data file").
			WithPath(config.Path)
	}

	f := &File{path: config.Path, bookSize: bookSize, log: config.Logger, fd: fd}

	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, verrors.NewStorageError(err, verrors.ErrorCodeIO, "failed to stat data file").WithPath(config.Path)
	}

	if info.Size() == 0 {
		if err := f.ensureMapped(0); err != nil {
			fd.Close()
			return nil, err
		}
		copy(f.books[0][0:4], headerMagic)
		binary.LittleEndian.PutUint32(f.books[0][4:8], headerVersion)
		f.tail.Store(uint64(headerSize))
		binary.LittleEndian.PutUint64(f.books[0][tailOffsetInHeader:tailOffsetInHeader+8], f.tail.Load())

		config.Logger.Infow("initialized new data file", "path", config.Path, "bookSize", bookSize)
		return f, nil
	}

	lastBook := int((info.Size() - 1) / bookSize)
	if err := f.ensureMapped(lastBook); err != nil {
		fd.Close()
		return nil, err
	}

	if string(f.books[0][0:4]) != headerMagic {
		fd.Close()
		return nil, verrors.NewStorageError(nil, verrors.ErrorCodeSegmentCorrupted, "data file header magic mismatch").
			WithPath(config.Path)
	}
	version := binary.LittleEndian.Uint32(f.books[0][4:8])
	if version != headerVersion {
		fd.Close()
		return nil, verrors.NewStorageError(nil, verrors.ErrorCodeSegmentCorrupted, "data file format version mismatch").
			WithPath(config.Path).WithDetail("version", version)
	}

	tail := binary.LittleEndian.Uint64(f.books[0][tailOffsetInHeader : tailOffsetInHeader+8])
	if tail < uint64(headerSize) {
		tail = uint64(headerSize)
	}
	f.tail.Store(tail)

	config.Logger.Infow("opened existing data file", "path", config.Path, "tail", tail, "books", lastBook+1)
	return f, nil
}

// Allocate reserves n contiguous payload bytes (plus the 4-byte size
// prefix) that do not cross a book boundary. If the remaining space in the
// current book is insufficient, it zero-pads the remainder (an implicit
// gap, since newly-grown file regions are already zero-filled by the OS)
// and starts the entry in the next book. Thread-safe; never fails except on
// mmap/grow failure.
func (f *File) Allocate(n uint32) (payload Span, offset uint64, err error) {
	entrySize := uint64(SizePrefixLen) + uint64(n)

	for {
		old := f.tail.Load()
		bookIdx := old / uint64(f.bookSize)
		bookEnd := (bookIdx + 1) * uint64(f.bookSize)
		remaining := bookEnd - old

		start := old
		if remaining < entrySize {
			start = bookEnd
		}
		next := start + entrySize

		if !f.tail.CompareAndSwap(old, next) {
			continue
		}

		finalBook := int((next - 1) / uint64(f.bookSize))
		if err := f.ensureMapped(finalBook); err != nil {
			return Span{}, 0, err
		}

		book := f.bookAt(int(start / uint64(f.bookSize)))
		rel := start % uint64(f.bookSize)
		binary.LittleEndian.PutUint32(book[rel:rel+SizePrefixLen], n)

		payload = Span{Data: book[rel+SizePrefixLen : rel+SizePrefixLen+uint64(n)]}
		return payload, start, nil
	}
}

// Offset translates a logical offset into the payload span it begins,
// reading the size prefix that precedes it. It is the engine's primitive
// for both Map (borrow) and Read (copy).
func (f *File) Offset(offset uint64) (Span, error) {
	bookIdx := int(offset / uint64(f.bookSize))
	if err := f.ensureMapped(bookIdx); err != nil {
		return Span{}, err
	}
	book := f.bookAt(bookIdx)
	rel := offset % uint64(f.bookSize)
	if rel+SizePrefixLen > uint64(len(book)) {
		return Span{}, verrors.NewStorageError(nil, verrors.ErrorCodeSegmentCorrupted, "offset has no room for size prefix").
			WithOffset(offset)
	}

	size := binary.LittleEndian.Uint32(book[rel : rel+SizePrefixLen])
	start := rel + SizePrefixLen
	end := start + uint64(size)
	if end > uint64(len(book)) {
		return Span{}, verrors.NewStorageError(nil, verrors.ErrorCodeSegmentCorrupted, "payload size exceeds book bounds").
			WithOffset(offset).WithDetail("size", size)
	}
	return Span{Data: book[start:end]}, nil
}

// Size returns the high-water mark of the logical data file length.
func (f *File) Size() uint64 {
	return f.tail.Load()
}

// Flush persists the current tail into the header page and msyncs every
// mapped book. Best-effort: a failure is returned to the caller (the
// engine's flusher logs and tolerates it) but never corrupts state.
func (f *File) Flush() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.books) > 0 {
		binary.LittleEndian.PutUint64(f.books[0][tailOffsetInHeader:tailOffsetInHeader+8], f.tail.Load())
	}

	for i, book := range f.books {
		if err := unix.Msync(book, unix.MS_ASYNC); err != nil {
			return verrors.NewStorageError(err, verrors.ErrorCodeIO, "msync failed").WithBook(i)
		}
	}
	return nil
}

// FlushRange syncs just the book covering [offset, offset+length), a
// best-effort durability hook called after Image.Write copies payload bytes in.
func (f *File) FlushRange(offset uint64, length int) error {
	bookIdx := int(offset / uint64(f.bookSize))
	book := f.bookAt(bookIdx)
	if book == nil {
		return nil
	}
	if err := unix.Msync(book, unix.MS_ASYNC); err != nil {
		return verrors.NewStorageError(err, verrors.ErrorCodeIO, "msync range failed").
			WithBook(bookIdx).WithOffset(offset)
	}
	return nil
}

// Enumerate performs a linear scan of the data file starting at start,
// invoking fn with each payload's offset and Span. A zero size field means
// "alignment gap" and advances to the next book boundary. Scanning stops
// when fn returns false or the high-water mark is reached, and returns the
// next resumable offset. Offsets below the header page are clamped up to
// it, so callers may always start an enumeration at 0.
func (f *File) Enumerate(start uint64, fn func(offset uint64, span Span) bool) (next uint64, err error) {
	if start < uint64(headerSize) {
		start = uint64(headerSize)
	}

	offset := start
	highWater := f.tail.Load()

	for offset < highWater {
		bookIdx := int(offset / uint64(f.bookSize))
		if err := f.ensureMapped(bookIdx); err != nil {
			return offset, err
		}
		book := f.bookAt(bookIdx)
		rel := offset % uint64(f.bookSize)

		if rel+SizePrefixLen > uint64(len(book)) {
			// No room left for another record in this book: treat as a gap.
			offset = uint64(bookIdx+1) * uint64(f.bookSize)
			continue
		}

		size := binary.LittleEndian.Uint32(book[rel : rel+SizePrefixLen])
		if size == 0 {
			offset = uint64(bookIdx+1) * uint64(f.bookSize)
			continue
		}

		payloadStart := rel + SizePrefixLen
		payloadEnd := payloadStart + uint64(size)
		if payloadEnd > uint64(len(book)) {
			return offset, verrors.NewStorageError(nil, verrors.ErrorCodeSegmentCorrupted, "enumerate found payload crossing book boundary").
				WithOffset(offset).WithBook(bookIdx)
		}

		if !fn(offset, Span{Data: book[payloadStart:payloadEnd]}) {
			return payloadEnd, nil
		}
		offset = payloadEnd
	}

	return offset, nil
}

// Close persists the tail, unmaps every book, and closes the underlying file.
func (f *File) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := f.Flush(); err != nil {
		f.log.Warnw("data file flush on close failed", "error", err, "path", f.path)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for i, book := range f.books {
		if err := unix.Munmap(book); err != nil {
			f.log.Warnw("failed to unmap book", "book", i, "error", err, "path", f.path)
		}
	}
	f.books = nil

	return f.fd.Close()
}

func (f *File) bookAt(idx int) []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if idx < 0 || idx >= len(f.books) {
		return nil
	}
	return f.books[idx]
}

// ensureMapped guarantees books [0, idx] are file-backed and mapped,
// growing the file and mapping new windows as needed. Safe to call
// concurrently; a double-checked length avoids remapping an existing book.
func (f *File) ensureMapped(idx int) error {
	f.mu.RLock()
	if idx < len(f.books) {
		f.mu.RUnlock()
		return nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.books) <= idx {
		next := len(f.books)
		newSize := int64(next+1) * f.bookSize

		if err := f.fd.Truncate(newSize); err != nil {
			return verrors.NewStorageError(err, verrors.ErrorCodeIO, "failed to grow data file").
				WithBook(next).WithPath(f.path)
		}

		mem, err := unix.Mmap(int(f.fd.Fd()), int64(next)*f.bookSize, int(f.bookSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return verrors.NewStorageError(err, verrors.ErrorCodeIO, "mmap failed").
				WithBook(next).WithPath(f.path)
		}

		f.books = append(f.books, mem)
	}
	return nil
}
