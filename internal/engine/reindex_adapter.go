package engine

import (
	"context"
	"sort"

	"github.com/dreamware/siridb/internal/cluster"
	"github.com/dreamware/siridb/internal/codec"
	"github.com/dreamware/siridb/internal/point"
	"github.com/dreamware/siridb/internal/series"
)

// NameAndType satisfies internal/reindex.SeriesLookup: it resolves a
// journal entry's series id back to the name and type the controller needs
// to pack a batch, reporting drop status for ids the registry has already
// forgotten (spec.md §4.8 step 2).
func (e *Engine) NameAndType(seriesID uint32) (name string, typ point.Type, dropped bool, ok bool) {
	if e.series.IsDropped(seriesID) {
		return "", 0, true, true
	}
	s, found := e.series.GetByID(seriesID)
	if !found {
		return "", 0, false, false
	}
	return s.Name, s.Type, false, true
}

// ReadAllPoints satisfies internal/reindex.PointSource: it merges a
// series' full shard-resident history with its buffered tail, unfiltered,
// for shipping to the series' new owner pool (spec.md §4.8 step 3).
func (e *Engine) ReadAllPoints(ctx context.Context, seriesID uint32) (point.List, error) {
	s, ok := e.series.GetByID(seriesID)
	if !ok {
		return nil, series.ErrUnknownSeries
	}

	overlap := s.HasFlag(series.FlagHasOverlap)
	var pts point.List
	for _, cd := range s.Index() {
		var err error
		pts, err = decodeChunk(cd.Shard, s.Type, cd, pts, codec.RangeFilter{}, overlap)
		if err != nil {
			return nil, err
		}
	}
	if s.Buffer != nil {
		pts = append(pts, s.Buffer.Snapshot()...)
		sort.Stable(pts)
	}
	return pts, nil
}

// ClusterResolver satisfies internal/reindex.Resolver against a live
// cluster.Registry: a series still belongs locally when its owner pool
// matches the running server's own pool, otherwise the new owner pool's
// member addresses are returned for the controller to send to.
type ClusterResolver struct {
	Cluster   *cluster.Registry
	LocalPool uint16
}

// Resolve implements internal/reindex.Resolver.
func (r *ClusterResolver) Resolve(name string, isLog bool) (stillLocal bool, addrs []string) {
	pool, _, _ := r.Cluster.OwnerPool(name, isLog)
	if pool == r.LocalPool {
		return true, nil
	}
	members := r.Cluster.PoolMembers(pool)
	addrs = make([]string, 0, len(members))
	for _, m := range members {
		addrs = append(addrs, m.Addr)
	}
	return false, addrs
}
