package shardfile

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// growthStep is the fixed-size ftruncate growth increment (spec.md §4.3:
// "ftruncate-grown in fixed-size chunks (currently 128 KiB)").
const growthStep = 128 * 1024

// checksumSize is the width of the xxhash trailer WriteChunk appends after
// every chunk's encoded bytes, verified by ReadChunk on every read (spec.md
// §7: corruption is detected, not just a short read).
const checksumSize = 8

// ErrShardRemoved is returned by WriteChunk when the shard was dropped
// while its chunk was being encoded: the caller's data never reaches
// disk and must retry against the series' new shard instead (spec.md §9,
// "chunk finishes after the shard has been removed").
var ErrShardRemoved = errors.New("shardfile: shard removed")

// Shard is one open shard file: its header, its data file, and (when the
// header's FlagHasIndex bit is set) its sidecar ".idx" file.
type Shard struct {
	mu        sync.Mutex
	Header    Header
	path      string
	idxPath   string
	f         *os.File
	idxF      *os.File // nil when the index is inlined into f
	allocated int64    // current file size (may exceed the logical append position)
	appendPos int64    // next byte offset a chunk may be written at
}

// Create opens a brand-new shard file at path, writing h as its header.
// When h.HasFlag(FlagHasIndex) the sidecar index file at idxPath is also
// created.
func Create(path, idxPath string, h Header) (*Shard, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "shardfile: create")
	}
	if _, err := f.Write(h.Encode()); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "shardfile: write header")
	}
	s := &Shard{Header: h, path: path, f: f, allocated: HeaderSize, appendPos: HeaderSize}
	if h.HasFlag(FlagHasIndex) {
		idxF, err := os.OpenFile(idxPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "shardfile: create index")
		}
		s.idxF = idxF
		s.idxPath = idxPath
	}
	return s, nil
}

// Open opens an existing shard file and parses its header.
func Open(path, idxPath string) (*Shard, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "shardfile: open")
	}
	hdrBuf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "shardfile: read header")
	}
	h, err := DecodeHeader(hdrBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "shardfile: stat")
	}
	s := &Shard{Header: h, path: path, f: f, allocated: info.Size(), appendPos: info.Size()}
	if h.HasFlag(FlagHasIndex) {
		idxF, err := os.OpenFile(idxPath, os.O_RDWR, 0o644)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "shardfile: open index")
		}
		s.idxF = idxF
		s.idxPath = idxPath
	}
	return s, nil
}

// ensureCapacity grows the shard file in fixed growthStep increments until
// it can hold `need` more bytes past the current append position.
func (s *Shard) ensureCapacity(need int64) error {
	for s.appendPos+need > s.allocated {
		s.allocated += growthStep
		if err := s.f.Truncate(s.allocated); err != nil {
			return errors.Wrap(err, "shardfile: grow")
		}
	}
	return nil
}

// IsRemoved reports whether this shard has already been flagged removed,
// e.g. by a concurrent Drop. WriteChunk re-checks this after the caller
// has finished encoding a chunk's points, since encoding can race a drop
// triggered by a reindex or compaction pass (spec.md §9).
func (s *Shard) IsRemoved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Header.HasFlag(FlagIsRemoved)
}

// WriteChunk appends one chunk's index entry (inline or to the sidecar
// index file) followed by its encoded point bytes and an xxhash checksum
// trailer, fsyncing both in turn (spec.md §4.3, write protocol steps 2-4).
// It returns the file offset of the chunk's first data byte, for the
// caller to record in a chunk descriptor; the trailing checksum is never
// counted in that offset or in the caller's recorded chunk size, since
// ReadChunk locates it itself from pos+size.
//
// If the shard was dropped between when the caller encoded data and this
// call, WriteChunk discards the write and returns ErrShardRemoved rather
// than writing to a file that's about to be unlinked (spec.md §9).
func (s *Shard) WriteChunk(entry IndexEntry, data []byte) (pos int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Header.HasFlag(FlagIsRemoved) {
		return 0, ErrShardRemoved
	}

	entryBuf := entry.Encode(s.Header.Precision)
	var sumBuf [checksumSize]byte
	binary.LittleEndian.PutUint64(sumBuf[:], xxhash.Sum64(data))

	if s.idxF != nil {
		if _, err := s.idxF.Write(entryBuf); err != nil {
			return 0, errors.Wrap(err, "shardfile: write index entry")
		}
		if err := s.idxF.Sync(); err != nil {
			return 0, errors.Wrap(err, "shardfile: fsync index")
		}
		if err := s.ensureCapacity(int64(len(data)) + checksumSize); err != nil {
			return 0, err
		}
		pos = s.appendPos
		if _, err := s.f.WriteAt(data, pos); err != nil {
			return 0, errors.Wrap(err, "shardfile: write chunk")
		}
		if _, err := s.f.WriteAt(sumBuf[:], pos+int64(len(data))); err != nil {
			return 0, errors.Wrap(err, "shardfile: write chunk checksum")
		}
	} else {
		need := int64(len(entryBuf)+len(data)) + checksumSize
		if err := s.ensureCapacity(need); err != nil {
			return 0, err
		}
		if _, err := s.f.WriteAt(entryBuf, s.appendPos); err != nil {
			return 0, errors.Wrap(err, "shardfile: write inline index entry")
		}
		pos = s.appendPos + int64(len(entryBuf))
		if _, err := s.f.WriteAt(data, pos); err != nil {
			return 0, errors.Wrap(err, "shardfile: write chunk")
		}
		if _, err := s.f.WriteAt(sumBuf[:], pos+int64(len(data))); err != nil {
			return 0, errors.Wrap(err, "shardfile: write chunk checksum")
		}
	}
	if err := s.f.Sync(); err != nil {
		return 0, errors.Wrap(err, "shardfile: fsync data")
	}
	s.appendPos = pos + int64(len(data)) + checksumSize
	s.Header = s.Header.WithFlag(FlagHasNewValues, true)
	return pos, nil
}

// ReadChunk seeks to pos and reads size bytes, then verifies the xxhash
// checksum trailer WriteChunk appended just past them. On a short read or a
// checksum mismatch it flags the shard FlagIsCorrupt and returns (nil,
// err) (spec.md §4.3, §7, read protocol). The engine's query and re-index
// paths and the compactor return that error to their own callers; the flag
// does not put the shard on the compactor's pending list.
func (s *Shard) ReadChunk(pos int64, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, size)
	n, err := s.f.ReadAt(buf, pos)
	if err != nil || n != size {
		s.Header = s.Header.WithFlag(FlagIsCorrupt, true)
		if err == nil {
			err = errors.New("shardfile: short read")
		}
		return nil, errors.Wrap(err, "shardfile: read chunk")
	}

	var sumBuf [checksumSize]byte
	if _, err := s.f.ReadAt(sumBuf[:], pos+int64(size)); err != nil {
		s.Header = s.Header.WithFlag(FlagIsCorrupt, true)
		return nil, errors.Wrap(err, "shardfile: read chunk checksum")
	}
	if binary.LittleEndian.Uint64(sumBuf[:]) != xxhash.Sum64(buf) {
		s.Header = s.Header.WithFlag(FlagIsCorrupt, true)
		return nil, errors.New("shardfile: chunk checksum mismatch")
	}
	return buf, nil
}

// PersistHeader rewrites the header in place, used whenever a lifecycle
// flag changes (has-new-values, has-overlap, is-corrupt, ...).
func (s *Shard) PersistHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.WriteAt(s.Header.Encode(), 0); err != nil {
		return errors.Wrap(err, "shardfile: persist header")
	}
	return s.f.Sync()
}

// Drop flags the shard removed and unlinks its data and (if present) index
// files (spec.md §4.3, "Dropped ... unlink the file and its sibling index
// file"). The caller is responsible for walking every series sharing the
// shard's mask and dropping matching index entries first.
func (s *Shard) Drop() error {
	s.mu.Lock()
	s.Header = s.Header.WithFlag(FlagIsRemoved, true)
	path, idxPath, idxF := s.path, s.idxPath, s.idxF
	s.mu.Unlock()

	if err := s.PersistHeader(); err != nil {
		return err
	}
	s.Close()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "shardfile: remove data file")
	}
	if idxF != nil {
		if err := os.Remove(idxPath); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "shardfile: remove index file")
		}
	}
	return nil
}

// ReplaceWith atomically renames a compacted replacement (built under a
// ".compact"-suffixed path by the compactor) over this shard's files (spec.md
// §4.5: "optimized in place, and atomically renamed over the old file").
func ReplaceWith(replacementPath, replacementIdxPath, targetPath, targetIdxPath string) error {
	if err := os.Rename(replacementPath, targetPath); err != nil {
		return errors.Wrap(err, "shardfile: rename data file")
	}
	if replacementIdxPath == "" {
		return nil
	}
	if err := os.Rename(replacementIdxPath, targetIdxPath); err != nil {
		return errors.Wrap(err, "shardfile: rename index file")
	}
	return nil
}

// Close closes the shard's open file handles.
func (s *Shard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if err := s.f.Close(); err != nil {
		firstErr = err
	}
	if s.idxF != nil {
		if err := s.idxF.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
