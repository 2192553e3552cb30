package reindex

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/siridb/internal/cluster"
	"github.com/dreamware/siridb/internal/point"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePoints struct {
	bySeries map[uint32]point.List
}

func (f *fakePoints) ReadAllPoints(ctx context.Context, seriesID uint32) (point.List, error) {
	return f.bySeries[seriesID], nil
}

type fakeLookup struct {
	names   map[uint32]string
	types   map[uint32]point.Type
	dropped map[uint32]bool
}

func (f *fakeLookup) NameAndType(seriesID uint32) (string, point.Type, bool, bool) {
	name, ok := f.names[seriesID]
	if !ok {
		return "", 0, false, false
	}
	return name, f.types[seriesID], f.dropped[seriesID], true
}

type fakeResolver struct {
	local map[string]bool
	addrs map[string][]string
}

func (f *fakeResolver) Resolve(name string, isLog bool) (bool, []string) {
	return f.local[name], f.addrs[name]
}

type fakeCompactor struct {
	mu             sync.Mutex
	paused, resume int
}

func (f *fakeCompactor) Pause()  { f.mu.Lock(); f.paused++; f.mu.Unlock() }
func (f *fakeCompactor) Resume() { f.mu.Lock(); f.resume++; f.mu.Unlock() }

func TestControllerSkipsDroppedSeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.reindex")
	j, err := Create(path, []uint32{1})
	require.NoError(t, err)

	lookup := &fakeLookup{
		names:   map[uint32]string{1: "gone"},
		types:   map[uint32]point.Type{1: point.Integer},
		dropped: map[uint32]bool{1: true},
	}
	c := NewController(j, &fakePoints{}, lookup, &fakeResolver{}, nil, nil, nil)

	err = c.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, Exists(path), "journal should be removed once drained")
}

func TestControllerSkipsSeriesStillLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.reindex")
	j, err := Create(path, []uint32{1})
	require.NoError(t, err)

	lookup := &fakeLookup{
		names: map[uint32]string{1: "cpu.load"},
		types: map[uint32]point.Type{1: point.Integer},
	}
	resolver := &fakeResolver{local: map[string]bool{"cpu.load": true}}
	c := NewController(j, &fakePoints{}, lookup, resolver, nil, nil, nil)

	require.NoError(t, c.Run(context.Background()))
	assert.False(t, Exists(path))
}

func TestControllerSendsAndDrainsJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.reindex")
	j, err := Create(path, []uint32{1, 2})
	require.NoError(t, err)

	lookup := &fakeLookup{
		names: map[uint32]string{1: "a", 2: "b"},
		types: map[uint32]point.Type{1: point.Integer, 2: point.Integer},
	}
	resolver := &fakeResolver{
		local: map[string]bool{},
		addrs: map[string][]string{"a": {"host-a:9000"}, "b": {"host-b:9000"}},
	}
	pts := &fakePoints{bySeries: map[uint32]point.List{
		1: {point.New(1, int64(1))},
		2: {point.New(2, int64(2))},
	}}

	var mu sync.Mutex
	var sent []string
	send := func(ctx context.Context, addr string, batch cluster.ReindexBatch) error {
		mu.Lock()
		sent = append(sent, batch.SeriesName+"@"+addr)
		mu.Unlock()
		return nil
	}

	compactor := &fakeCompactor{}
	drained := false
	c := NewController(j, pts, lookup, resolver, send, compactor, func() { drained = true })

	require.NoError(t, c.Run(context.Background()))
	assert.False(t, Exists(path))
	assert.True(t, drained)
	assert.Equal(t, 1, compactor.paused)
	assert.Equal(t, 1, compactor.resume)
	assert.ElementsMatch(t, []string{"a@host-a:9000", "b@host-b:9000"}, sent)
}

func TestControllerRetriesOnSendErrorThenSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.reindex")
	j, err := Create(path, []uint32{1})
	require.NoError(t, err)

	lookup := &fakeLookup{
		names: map[uint32]string{1: "a"},
		types: map[uint32]point.Type{1: point.Integer},
	}
	resolver := &fakeResolver{addrs: map[string][]string{"a": {"host-a:9000"}}}
	pts := &fakePoints{bySeries: map[uint32]point.List{1: {point.New(1, int64(1))}}}

	var attempts int
	var mu sync.Mutex
	send := func(ctx context.Context, addr string, batch cluster.ReindexBatch) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return assertErr
		}
		return nil
	}

	c := NewController(j, pts, lookup, resolver, send, nil, nil)
	c.testBackoff = 5 * time.Millisecond

	require.NoError(t, c.Run(context.Background()))
	assert.False(t, Exists(path))
	assert.Equal(t, 2, attempts)
}

var assertErr = errTransient{}

type errTransient struct{}

func (errTransient) Error() string { return "transient network error" }
