// Package reindex implements the background controller that walks a
// journal of local series IDs and resends each one to its new owner pool
// after a cluster pool-count change, and the identical `.initsync`
// mechanics used to seed a freshly joined replica (spec.md §4.8, SPEC_FULL
// §C.5).
package reindex

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// entrySize is the width of one journal entry: a series ID (spec.md §6.2:
// "Per-series-id 4-byte journals").
const entrySize = 4

// ErrEmpty is returned by Peek when the journal has no entries left.
var ErrEmpty = errors.New("reindex: journal is empty")

// Journal is an append-only list of series IDs with the tail of the file
// holding the next series to process (spec.md §6.2: "Tail of file = next
// series to process"). Processing pops from the tail so that a crash mid
// run resumes from the oldest unacknowledged entry without re-deriving
// which series were already migrated.
type Journal struct {
	mu   sync.Mutex
	f    *os.File
	path string
	size int64
}

// Create writes a fresh journal listing every series ID captured at the
// moment a pool was added (or a replica joined), one 4-byte entry per
// series, in the order supplied.
func Create(path string, seriesIDs []uint32) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "reindex: create journal %s", path)
	}
	buf := make([]byte, entrySize*len(seriesIDs))
	for i, id := range seriesIDs {
		binary.LittleEndian.PutUint32(buf[i*entrySize:], id)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "reindex: write journal %s", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "reindex: sync journal %s", path)
	}
	return &Journal{f: f, path: path, size: int64(len(buf))}, nil
}

// Open loads an existing journal file, e.g. after a server restart mid
// re-index (spec.md §4.8 step 4: "crash recovery resumes from the oldest
// unacked series").
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "reindex: open journal %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "reindex: stat journal %s", path)
	}
	size := info.Size() - info.Size()%entrySize
	return &Journal{f: f, path: path, size: size}, nil
}

// Exists reports whether a journal file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Len returns the number of series IDs remaining in the journal.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return int(j.size / entrySize)
}

// Peek returns the series ID currently at the tail without removing it.
func (j *Journal) Peek() (uint32, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.size == 0 {
		return 0, ErrEmpty
	}
	buf := make([]byte, entrySize)
	if _, err := j.f.ReadAt(buf, j.size-entrySize); err != nil {
		return 0, errors.Wrapf(err, "reindex: read journal %s", j.path)
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// Pop truncates the tail entry after its series has been acknowledged by
// the new owner pool (spec.md §4.8 step 4).
func (j *Journal) Pop() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.size == 0 {
		return ErrEmpty
	}
	j.size -= entrySize
	if err := j.f.Truncate(j.size); err != nil {
		return errors.Wrapf(err, "reindex: truncate journal %s", j.path)
	}
	return j.f.Sync()
}

// Close releases the journal's file handle without deleting it.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Remove closes and deletes the journal file, called once it is fully
// drained (spec.md §4.8 step 5).
func (j *Journal) Remove() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.f.Close()
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "reindex: remove journal %s", j.path)
	}
	return nil
}
