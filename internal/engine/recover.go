package engine

import (
	"io"

	"github.com/dreamware/siridb/internal/buffer"
	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/series"
	"github.com/dreamware/siridb/internal/sharding"
)

// Recover rebuilds the in-memory series registry from a persisted catalog,
// intersects it with the drop journal, and replays each numeric series' own
// slot of the shared buffer file back into a fresh Ring (spec.md §6.1,
// "Startup recovery"). bufferOffsets maps a recovered series' id to the
// buffer slot offset it was assigned before the last shutdown (persisted
// alongside the catalog, see cmd/siridbd's database.dat layout); a
// string-typed series or one the caller has no recorded offset for is
// restored without a ring, consistent with spec.md §4.1's "string-typed
// series have no buffer".
func (e *Engine) Recover(catalog io.Reader, catalogSize int64, maxTruncationPercent int, dropped map[uint32]struct{}, bufferOffsets map[uint32]int64) error {
	return series.ReadCatalog(catalog, catalogSize, maxTruncationPercent, func(rec series.CatalogRecord) {
		if _, isDropped := dropped[rec.ID]; isDropped {
			return
		}

		pool, mask, srv := sharding.Resolve(rec.Name, e.cfg.Params, rec.Type == point.String)

		var ring *buffer.Ring
		offset := int64(-1)
		if rec.Type != point.String {
			if o, ok := bufferOffsets[rec.ID]; ok {
				offset = o
				ring = buffer.NewRing(e.bufCapacity)
				slot := buffer.Slot{SeriesID: uint64(rec.ID), Offset: offset, Capacity: e.bufCapacity}
				if pts, err := e.bufF.Recover(slot, rec.Type); err == nil {
					for _, p := range pts {
						ring.Insert(p)
					}
				}
				e.bufMu.Lock()
				if next := offset + buffer.SlotSize(e.bufCapacity); next > e.nextBufOffset {
					e.nextBufOffset = next
				}
				e.bufMu.Unlock()
			}
		}

		s := series.New(rec.ID, rec.Name, rec.Type, pool, mask, srv, ring)
		s.BufferOffset = offset
		e.series.Restore(s)
	})
}
