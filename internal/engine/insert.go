package engine

import (
	"github.com/dreamware/siridb/internal/buffer"
	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/series"
	"github.com/dreamware/siridb/internal/sharding"
	"github.com/pkg/errors"
)

// ErrTypeMismatch is returned by Insert when a point's value type doesn't
// match the target series' established type (spec.md §3: "a series has
// exactly one Type for its lifetime").
var ErrTypeMismatch = errors.New("engine: value type does not match series type")

func typeOf(value interface{}) (point.Type, error) {
	switch value.(type) {
	case int64:
		return point.Integer, nil
	case float64:
		return point.Float, nil
	case string:
		return point.String, nil
	default:
		return 0, errors.Errorf("engine: unsupported value type %T", value)
	}
}

// Insert writes one point for the named series, creating the series on its
// first write (spec.md §3: "a series is created by insert on an unknown
// name"). String-typed series bypass the buffer entirely and are written
// straight to their target shard (spec.md §4.1: "String-typed series have
// no buffer"); numeric series are inserted into the series' in-memory ring
// and persisted to the shared buffer file, flushing to shards once the ring
// fills.
func (e *Engine) Insert(name string, ts int64, value interface{}) (err error) {
	typ, err := typeOf(value)
	if err != nil {
		e.countWriteError("bad_type")
		return err
	}
	if err := e.cfg.Precision.Validate(ts); err != nil {
		e.countWriteError("invalid_ts")
		return err
	}

	s, err := e.ensureSeries(name, typ)
	if err != nil {
		e.countWriteError("ensure_series")
		return err
	}
	if s.Type != typ {
		e.countWriteError("type_mismatch")
		return errors.Wrapf(ErrTypeMismatch, "series %q is %s, got %s", name, s.Type, typ)
	}

	e.beginWrite()
	if e.metrics != nil {
		e.metrics.ActiveWrites.Set(float64(e.ActiveWrites()))
	}
	defer func() {
		e.endWrite()
		if e.metrics != nil {
			e.metrics.ActiveWrites.Set(float64(e.ActiveWrites()))
		}
	}()

	p := point.New(ts, value)
	if typ == point.String {
		err = e.insertDirect(s, p)
	} else {
		err = e.insertBuffered(s, p)
	}
	if err != nil {
		e.countWriteError("storage")
		return err
	}
	if e.metrics != nil {
		e.metrics.WritesTotal.WithLabelValues(typ.String()).Inc()
	}
	return nil
}

// countWriteError increments the write-error counter if metrics are wired.
func (e *Engine) countWriteError(reason string) {
	if e.metrics != nil {
		e.metrics.WriteErrors.WithLabelValues(reason).Inc()
	}
}

// ensureSeries returns the registered series for name, creating it (and its
// buffer slot, for numeric types) on first write.
func (e *Engine) ensureSeries(name string, typ point.Type) (*series.Series, error) {
	if s, err := e.series.Get(name); err == nil {
		return s, nil
	} else if err != series.ErrUnknownSeries {
		return nil, err
	}

	pool, mask, srv := sharding.Resolve(name, e.cfg.Params, typ == point.String)

	var offset int64 = -1
	var ring *buffer.Ring
	if typ != point.String {
		offset = e.allocBufferSlot()
		ring = buffer.NewRing(e.bufCapacity)
	}

	news, err := e.series.Create(name, func(id uint32) *series.Series {
		s := series.New(id, name, typ, pool, mask, srv, ring)
		s.BufferOffset = offset
		return s
	})
	if err != nil {
		if err == series.ErrSeriesExists {
			// Lost a creation race; another writer registered it first.
			return e.series.Get(name)
		}
		return nil, err
	}

	if typ != point.String {
		if err := e.bufF.InitSlot(e.slotFor(news)); err != nil {
			return nil, errors.Wrap(err, "engine: init buffer slot")
		}
	}
	return news, nil
}

// slotFor returns the buffer.Slot a numeric series' durable writes land in.
func (e *Engine) slotFor(s *series.Series) buffer.Slot {
	return buffer.Slot{SeriesID: uint64(s.ID), Offset: s.BufferOffset, Capacity: e.bufCapacity}
}

// allocBufferSlot reserves the next contiguous region of the shared buffer
// file for a newly created numeric series.
func (e *Engine) allocBufferSlot() int64 {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	offset := e.nextBufOffset
	e.nextBufOffset += buffer.SlotSize(e.bufCapacity)
	return offset
}

// insertDirect writes p straight to its target shard, used for string-typed
// series which have no buffer (spec.md §4.1).
func (e *Engine) insertDirect(s *series.Series, p point.Point) error {
	return e.writeChunk(nil, s, point.List{p})
}

// insertBuffered inserts p into the series' in-memory ring and persists it
// to the shared buffer file; a full ring triggers a flush to shards before
// the point is retried.
func (e *Engine) insertBuffered(s *series.Series, p point.Point) error {
	before := s.Buffer.Count()
	if err := s.Buffer.Insert(p); err != nil {
		if err != buffer.ErrFull {
			return err
		}
		if err := e.flushToShards(s); err != nil {
			return err
		}
		before = s.Buffer.Count()
		if err := s.Buffer.Insert(p); err != nil {
			return err
		}
	}

	after := s.Buffer.Count()
	if after == before {
		// p overwrote an existing point at the same timestamp; the ring's
		// in-memory copy is authoritative until the next flush.
		return nil
	}
	return e.bufF.WritePoint(e.slotFor(s), before, p, s.Type)
}
