package reindex

import (
	"context"
	"time"

	"github.com/dreamware/siridb/internal/cluster"
	"github.com/dreamware/siridb/internal/point"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// backoff is how long the controller waits before retrying a series send
// after a network error (spec.md §4.8: "retries SEND with a 30 s backoff
// on network errors").
const backoff = 30 * time.Second

// maxConcurrentSends bounds how many replica sends for a single series run
// at once; a pool holds at most two servers so this is rarely exercised,
// but the same errgroup-based bound is used by internal/compactor for its
// per-series fan-out and kept here for the same reason: failures in one
// send must not leak goroutines or silently drop the other.
const maxConcurrentSends = 4

// PointSource reads every currently-buffered-and-shard-resident point for
// a series, used to build the outgoing batch (spec.md §4.8 step 3: "read
// all points for the series").
type PointSource interface {
	ReadAllPoints(ctx context.Context, seriesID uint32) (point.List, error)
}

// SeriesLookup resolves a series ID to its name and value type, and
// reports whether the series has been dropped (spec.md §4.8 step 2).
type SeriesLookup interface {
	NameAndType(seriesID uint32) (name string, typ point.Type, dropped bool, ok bool)
}

// Resolver decides, for a series, whether it still belongs to the local
// server and if not, which addresses its new owner pool's member servers
// are reachable at.
type Resolver interface {
	Resolve(name string, isLog bool) (stillLocal bool, addrs []string)
}

// CompactorControl lets the controller pause shard compaction while a
// re-index run is in flight and resume it once the journal drains
// (spec.md §4.8: "pauses the compactor while running, resumes it when the
// journal empties").
type CompactorControl interface {
	Pause()
	Resume()
}

// Sender delivers one batch to a single server address. The default
// implementation posts through internal/cluster; tests substitute a fake.
type Sender func(ctx context.Context, addr string, batch cluster.ReindexBatch) error

// Controller drains a re-index or initsync journal, one series at a time,
// resending each to its new owner pool (spec.md §4.8; SPEC_FULL §C.5: the
// same mechanics serve both `.reindex` and `.initsync`, selected by the
// journal path the caller supplies).
type Controller struct {
	journal   *Journal
	points    PointSource
	lookup    SeriesLookup
	resolve   Resolver
	send      Sender
	compactor CompactorControl
	logger    *zap.Logger

	onDrained func()

	// testBackoff overrides backoff when set, so tests don't wait 30s for a
	// retry. Zero means "use the production backoff constant".
	testBackoff time.Duration
}

// NewController builds a controller bound to an already-opened journal.
// onDrained, if non-nil, is invoked after the journal is fully drained and
// removed (e.g. to clear the server's `reindexing` flag and broadcast it).
// The controller logs through zap.NewNop() until SetLogger is called.
func NewController(j *Journal, points PointSource, lookup SeriesLookup, resolve Resolver, send Sender, compactor CompactorControl, onDrained func()) *Controller {
	return &Controller{
		journal:   j,
		points:    points,
		lookup:    lookup,
		resolve:   resolve,
		send:      send,
		compactor: compactor,
		onDrained: onDrained,
		logger:    zap.NewNop(),
	}
}

// SetLogger replaces the controller's logger, e.g. with the process-wide
// *zap.Logger cmd/siridbd constructs from internal/telemetry.
func (c *Controller) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

func (c *Controller) backoff() time.Duration {
	if c.testBackoff > 0 {
		return c.testBackoff
	}
	return backoff
}

// Run drains the journal until empty or ctx is cancelled. It pauses the
// compactor for the duration of the run and resumes it on return,
// regardless of outcome (spec.md §4.8).
func (c *Controller) Run(ctx context.Context) error {
	if c.compactor != nil {
		c.compactor.Pause()
		defer c.compactor.Resume()
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		seriesID, err := c.journal.Peek()
		if errors.Is(err, ErrEmpty) {
			return c.drain()
		}
		if err != nil {
			return err
		}
		if err := c.processOne(ctx, seriesID); err != nil {
			return err
		}
	}
}

func (c *Controller) drain() error {
	if err := c.journal.Remove(); err != nil {
		return err
	}
	if c.onDrained != nil {
		c.onDrained()
	}
	return nil
}

// processOne handles a single journal entry: skip dropped or already-local
// series, otherwise read, pack, send to every member of the new owner
// pool, and only pop the journal once every send is acknowledged.
func (c *Controller) processOne(ctx context.Context, seriesID uint32) error {
	name, typ, dropped, ok := c.lookup.NameAndType(seriesID)
	if !ok || dropped {
		return c.journal.Pop()
	}

	stillLocal, addrs := c.resolve.Resolve(name, typ == point.String)
	if stillLocal {
		return c.journal.Pop()
	}

	pts, err := c.points.ReadAllPoints(ctx, seriesID)
	if err != nil {
		return errors.Wrapf(err, "reindex: read points for series %d", seriesID)
	}

	batch, err := packBatch(name, typ, pts)
	if err != nil {
		return err
	}

	for {
		err := c.sendToAll(ctx, addrs, batch)
		if err == nil {
			return c.journal.Pop()
		}
		wait := c.backoff()
		c.logger.Warn("reindex: send failed, retrying", zap.String("series", name), zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// sendToAll delivers the batch to every address concurrently, bounded by
// maxConcurrentSends, returning the first error (if any).
func (c *Controller) sendToAll(ctx context.Context, addrs []string, batch cluster.ReindexBatch) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSends)
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			return c.send(gctx, addr, batch)
		})
	}
	return g.Wait()
}

// packBatch snappy-compresses a series' raw point set for the wire
// (spec.md §4.8 step 3; SPEC_FULL domain stack: snappy bounds the
// hop-shipped message size).
func packBatch(name string, typ point.Type, pts point.List) (cluster.ReindexBatch, error) {
	raw, err := marshalPoints(pts, typ)
	if err != nil {
		return cluster.ReindexBatch{}, err
	}
	return cluster.ReindexBatch{
		SeriesName:       name,
		Type:             uint8(typ),
		CompressedPoints: snappy.Encode(nil, raw),
	}, nil
}

// UnpackBatch reverses packBatch on the receiving server.
func UnpackBatch(batch cluster.ReindexBatch) (point.List, point.Type, error) {
	raw, err := snappy.Decode(nil, batch.CompressedPoints)
	if err != nil {
		return nil, 0, errors.Wrap(err, "reindex: snappy decode")
	}
	typ := point.Type(batch.Type)
	pts, err := unmarshalPoints(raw, typ)
	if err != nil {
		return nil, 0, err
	}
	return pts, typ, nil
}
