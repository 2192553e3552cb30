// Package compactor implements the single-instance shard optimizer
// described in spec.md §4.5: it rewrites shards whose has-new-values,
// has-overlap or has-dropped-series flag is set into a fresh, defragmented
// replacement, swapping each affected series' index entries over once the
// rewrite completes.
package compactor

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/dreamware/siridb/internal/shardfile"
	"github.com/pkg/errors"
)

// shardMeta tracks the on-disk paths for a shard the Manager opened or
// created, since *shardfile.Shard keeps its path fields unexported.
type shardMeta struct {
	path, idxPath string
}

// Manager owns the "shards map" spec.md §5 calls out as shards_mutex-
// protected: the live set of open shards plus enough bookkeeping to create
// a compaction replacement and finalize it by rename. It is the shard set
// the Compactor drives.
type Manager struct {
	mu        sync.Mutex
	dir       string
	live      map[uint64]*shardfile.Shard
	meta      map[*shardfile.Shard]shardMeta
	replacing map[uint64]*shardfile.Shard // old shard id -> in-progress S'
}

// NewManager creates a Manager rooted at dir, the database's shard
// directory.
func NewManager(dir string) *Manager {
	return &Manager{
		dir:       dir,
		live:      make(map[uint64]*shardfile.Shard),
		meta:      make(map[*shardfile.Shard]shardMeta),
		replacing: make(map[uint64]*shardfile.Shard),
	}
}

func (m *Manager) shardPath(id uint64) string {
	return filepath.Join(m.dir, strconv.FormatUint(id, 10)+".sdb")
}

// Track registers an already-open shard under the manager's live set, used
// by startup code that opened every shard from disk before the compactor
// starts.
func (m *Manager) Track(s *shardfile.Shard, path, idxPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[s.Header.ID] = s
	m.meta[s] = shardMeta{path: path, idxPath: idxPath}
}

// Get returns the live shard for id, if any.
func (m *Manager) Get(id uint64) (*shardfile.Shard, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.live[id]
	return s, ok
}

// OpenAndTrack opens an existing shard id's on-disk files and registers it
// as live, for startup recovery (cmd/siridbd walks its persisted chunk
// index and needs every referenced shard open before replaying chunk
// descriptors onto their series). hasIndex must match the flag the shard
// was created with, since that determines whether a sidecar ".idx" file
// exists alongside the ".sdb" data file.
func (m *Manager) OpenAndTrack(id uint64, hasIndex bool) (*shardfile.Shard, error) {
	m.mu.Lock()
	if s, ok := m.live[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	path := m.shardPath(id)
	idxPath := ""
	if hasIndex {
		idxPath = path + ".idx"
	}
	s, err := shardfile.Open(path, idxPath)
	if err != nil {
		return nil, errors.Wrap(err, "compactor: open shard")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.live[id]; ok {
		s.Close()
		return existing, nil
	}
	m.live[id] = s
	m.meta[s] = shardMeta{path: path, idxPath: idxPath}
	return s, nil
}

// GetOrCreate returns the live shard for id, creating it with header h (an
// engine-supplied template: type, duration, max chunk size, precision,
// compressed flag) if it doesn't exist yet (spec.md §4.3: "Created when
// the first point for a given (id, duration) partition arrives").
func (m *Manager) GetOrCreate(id uint64, h shardfile.Header) (*shardfile.Shard, error) {
	m.mu.Lock()
	if s, ok := m.live[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	h.ID = id
	path := m.shardPath(id)
	idxPath := ""
	if h.HasFlag(shardfile.FlagHasIndex) {
		idxPath = path + ".idx"
	}
	s, err := shardfile.Create(path, idxPath, h)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.live[id]; ok {
		// Lost a race with a concurrent GetOrCreate; discard our duplicate.
		s.Close()
		os.Remove(path)
		if idxPath != "" {
			os.Remove(idxPath)
		}
		return existing, nil
	}
	m.live[id] = s
	m.meta[s] = shardMeta{path: path, idxPath: idxPath}
	return s, nil
}

// Pending returns every live shard whose flags mark it as needing
// compaction (spec.md §4.5: "has-new-values or has-overlap or
// has-dropped-series").
func (m *Manager) Pending() []*shardfile.Shard {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*shardfile.Shard
	for _, s := range m.live {
		h := s.Header
		if h.HasFlag(shardfile.FlagHasNewValues) || h.HasFlag(shardfile.FlagHasOverlap) || h.HasFlag(shardfile.FlagHasDroppedSeries) {
			out = append(out, s)
		}
	}
	return out
}

// NewReplacement creates S' (spec.md §4.5 step 1): a shard with the same
// id, type, duration and precision as old, under a temporary path, with
// FlagReplacing set so a crash mid-compaction leaves a recognizable
// half-built file rather than a second shard silently claiming old's id.
// If a run was already started (and interrupted short of Finalize) for
// old, the same in-progress replacement is returned so the retry resumes
// instead of discarding the work already rewritten into it (spec.md §4.5
// step 4: "S'.replacing = S persists so a later retry can progress").
func (m *Manager) NewReplacement(old *shardfile.Shard) (*shardfile.Shard, error) {
	m.mu.Lock()
	if existing, ok := m.replacing[old.Header.ID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	h := old.Header
	h = h.WithFlag(shardfile.FlagReplacing, true)
	h = h.WithFlag(shardfile.FlagHasOverlap, false)
	h = h.WithFlag(shardfile.FlagHasDroppedSeries, false)
	h = h.WithFlag(shardfile.FlagHasNewValues, false)
	h = h.WithFlag(shardfile.FlagIsCorrupt, false)

	path := m.shardPath(h.ID) + ".compact"
	idxPath := ""
	if h.HasFlag(shardfile.FlagHasIndex) {
		idxPath = path + ".idx"
	}
	replacement, err := shardfile.Create(path, idxPath, h)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.meta[replacement] = shardMeta{path: path, idxPath: idxPath}
	m.replacing[h.ID] = replacement
	m.mu.Unlock()
	return replacement, nil
}

// Finalize completes spec.md §4.5 step 5: close old, unlink its files,
// rename the replacement's files over old's path, and make the
// replacement the new live shard for old's id. The replacement's already
// open file descriptors remain valid across the rename (POSIX rename does
// not invalidate open handles), so no reopen is needed — the in-memory
// *shardfile.Shard object every series index already points at becomes
// canonical without any further pointer-fixup.
func (m *Manager) Finalize(old, replacement *shardfile.Shard) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldMeta, ok := m.meta[old]
	if !ok {
		return errors.New("compactor: unknown old shard")
	}
	newMeta, ok := m.meta[replacement]
	if !ok {
		return errors.New("compactor: unknown replacement shard")
	}

	if err := old.Close(); err != nil {
		return errors.Wrap(err, "compactor: close old shard")
	}
	if err := os.Remove(oldMeta.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "compactor: remove old shard file")
	}
	if oldMeta.idxPath != "" {
		if err := os.Remove(oldMeta.idxPath); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "compactor: remove old index file")
		}
	}
	if err := shardfile.ReplaceWith(newMeta.path, newMeta.idxPath, oldMeta.path, oldMeta.idxPath); err != nil {
		return err
	}

	replacement.Header = replacement.Header.WithFlag(shardfile.FlagReplacing, false)
	if err := replacement.PersistHeader(); err != nil {
		return err
	}

	delete(m.meta, old)
	delete(m.replacing, old.Header.ID)
	m.meta[replacement] = shardMeta{path: oldMeta.path, idxPath: oldMeta.idxPath}
	m.live[replacement.Header.ID] = replacement
	return nil
}

// Abandon discards a replacement that was never finalized, e.g. because
// NewReplacement succeeded but the compaction run was cancelled before any
// series rewrite began.
func (m *Manager) Abandon(replacement *shardfile.Shard) error {
	m.mu.Lock()
	meta, ok := m.meta[replacement]
	delete(m.meta, replacement)
	delete(m.replacing, replacement.Header.ID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	replacement.Close()
	if err := os.Remove(meta.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if meta.idxPath != "" {
		os.Remove(meta.idxPath)
	}
	return nil
}
