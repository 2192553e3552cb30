package series

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/dreamware/siridb/internal/point"
	"github.com/pkg/errors"
)

// ErrUnknownSeries is returned by Registry.Get for a name with no series.
var ErrUnknownSeries = errors.New("series: unknown series name")

// ErrSeriesExists is returned by Registry.Create for an already-registered name.
var ErrSeriesExists = errors.New("series: already exists")

// Registry is the in-memory name→*Series catalog (spec.md §3, §4.7) plus
// the monotonic id allocator and the drop journal integration.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*Series
	byID     map[uint32]*Series
	nextID   uint32
	dropped  map[uint32]struct{}
}

// NewRegistry constructs an empty Registry. maxSeriesID is the persisted
// high-water mark from ".max_series_id" (spec.md §6.1); new ids start
// after it.
func NewRegistry(maxSeriesID uint32) *Registry {
	return &Registry{
		byName:  make(map[string]*Series),
		byID:    make(map[uint32]*Series),
		dropped: make(map[uint32]struct{}),
		nextID:  maxSeriesID,
	}
}

// Get returns the series registered under name.
func (r *Registry) Get(name string) (*Series, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	if !ok {
		return nil, ErrUnknownSeries
	}
	return s, nil
}

// GetByID returns the series with the given id.
func (r *Registry) GetByID(id uint32) (*Series, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Create allocates a new series id and registers s under name (spec.md §3:
// "a series is created by insert on an unknown name"). factory receives the
// allocated id and must return the constructed *Series.
func (r *Registry) Create(name string, factory func(id uint32) *Series) (*Series, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return nil, ErrSeriesExists
	}
	r.nextID++
	s := factory(r.nextID)
	r.byName[name] = s
	r.byID[s.ID] = s
	return s, nil
}

// Restore registers a series recovered from the persisted catalog at
// startup, preserving its original id instead of allocating a new one, and
// advances nextID so a later Create never reissues an id already in use
// (spec.md §6.1, "Startup recovery").
func (r *Registry) Restore(s *Series) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[s.Name] = s
	r.byID[s.ID] = s
	if s.ID > r.nextID {
		r.nextID = s.ID
	}
}

// Drop removes name from the registry and records its id as dropped
// (spec.md §3: "removes from registry"; the caller persists the id to the
// ".dropped" journal — see DropJournal).
func (r *Registry) Drop(name string) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byName[name]
	if !ok {
		return 0, ErrUnknownSeries
	}
	s.Drop()
	delete(r.byName, name)
	delete(r.byID, s.ID)
	r.dropped[s.ID] = struct{}{}
	return s.ID, nil
}

// IsDropped reports whether id has been dropped during this registry's
// lifetime (used by the engine's re-index adapter to report a dropped
// series, spec.md §3 "Drop journal").
func (r *Registry) IsDropped(id uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.dropped[id]
	return ok
}

// Names returns every currently-registered series name. Order is
// unspecified.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	return out
}

// All returns a snapshot slice of every registered series pointer (spec.md
// §4.5 step 2: "Snapshot the series list by reference counter, not a
// lock-held iteration" — the registry lock is only held to copy the slice
// of pointers, not while callers walk and read from them).
func (r *Registry) All() []*Series {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Series, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// MaxSeriesID returns the current high-water mark, for persisting to
// ".max_series_id" (spec.md §6.1).
func (r *Registry) MaxSeriesID() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextID
}

// CatalogRecord is the 3-element (name, id, type) record series.dat stores
// per series (spec.md §6.1).
type CatalogRecord struct {
	Name string
	ID   uint32
	Type point.Type
}

// WriteCatalog serializes every registered series to series.dat: a stream
// of length-prefixed name, 4-byte id, 1-byte type records.
func (r *Registry) WriteCatalog(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bw := bufio.NewWriter(w)
	for name, s := range r.byName {
		if err := writeCatalogRecord(bw, CatalogRecord{Name: name, ID: s.ID, Type: s.Type}); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeCatalogRecord(w *bufio.Writer, rec CatalogRecord) error {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(rec.Name)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.WriteString(rec.Name); err != nil {
		return err
	}
	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], rec.ID)
	if _, err := w.Write(idBuf[:]); err != nil {
		return err
	}
	return w.WriteByte(byte(rec.Type))
}

// DefaultMaxTruncationPercent is used by callers that have no
// database.conf-sourced value handy (e.g. in tests), matching
// config.BufferConfig's own default.
const DefaultMaxTruncationPercent = 20

// ReadCatalog parses series.dat records, applying fn to each one. Per
// spec.md §7 ("Corruption") and SPEC_FULL.md §E's resolution of the
// truncation-tolerance open question, if parsing fails after consuming at
// least (100-maxTruncationPercent)% of the stream, the catalog is accepted
// as partial (the caller logs a warning); otherwise it is reported corrupt.
// maxTruncationPercent is expected to come from config.BufferConfig, loaded
// from database.conf's [buffer] section.
func ReadCatalog(r io.Reader, size int64, maxTruncationPercent int, fn func(CatalogRecord)) error {
	minCompleteRatio := 1 - float64(maxTruncationPercent)/100
	br := bufio.NewReader(r)
	var consumed int64
	for {
		rec, n, err := readCatalogRecord(br)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if size > 0 && float64(consumed)/float64(size) >= minCompleteRatio {
				return nil // partial catalog accepted
			}
			return errors.Wrap(err, "series: catalog corrupt")
		}
		consumed += int64(n)
		fn(rec)
	}
}

func readCatalogRecord(br *bufio.Reader) (CatalogRecord, int, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return CatalogRecord{}, 0, err
	}
	nameLen := int(binary.LittleEndian.Uint16(lenBuf[:]))
	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(br, nameBuf); err != nil {
		return CatalogRecord{}, 0, io.ErrUnexpectedEOF
	}
	var idBuf [4]byte
	if _, err := io.ReadFull(br, idBuf[:]); err != nil {
		return CatalogRecord{}, 0, io.ErrUnexpectedEOF
	}
	typByte, err := br.ReadByte()
	if err != nil {
		return CatalogRecord{}, 0, io.ErrUnexpectedEOF
	}
	rec := CatalogRecord{
		Name: string(nameBuf),
		ID:   binary.LittleEndian.Uint32(idBuf[:]),
		Type: point.Type(typByte),
	}
	return rec, 2 + nameLen + 4 + 1, nil
}

// DropJournal is the append-only ".dropped" file of 4-byte series IDs
// (spec.md §6.1).
type DropJournal struct {
	mu sync.Mutex
	f  *os.File
}

// OpenDropJournal opens (creating if necessary) the drop journal at path.
func OpenDropJournal(path string) (*DropJournal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "series: open drop journal")
	}
	return &DropJournal{f: f}, nil
}

// Append records id as dropped, fsyncing before returning.
func (j *DropJournal) Append(id uint32) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], id)
	if _, err := j.f.Write(buf[:]); err != nil {
		return errors.Wrap(err, "series: append drop journal")
	}
	return j.f.Sync()
}

// ReadAll returns every id recorded in the drop journal, for intersecting
// with the persisted catalog at startup (spec.md §3 "Drop journal").
func (j *DropJournal) ReadAll() ([]uint32, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(j.f)
	if err != nil {
		return nil, errors.Wrap(err, "series: read drop journal")
	}
	out := make([]uint32, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		out = append(out, binary.LittleEndian.Uint32(data[i:i+4]))
	}
	return out, nil
}

// Close closes the underlying file.
func (j *DropJournal) Close() error { return j.f.Close() }
