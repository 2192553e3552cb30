package cluster

import (
	"sync"

	"github.com/dreamware/siridb/internal/sharding"
	"github.com/pkg/errors"
)

// ErrUnknownServer is returned when a lookup names a server ID the
// registry has no record of.
var ErrUnknownServer = errors.New("cluster: unknown server")

// Registry is the authoritative in-memory view of cluster topology a
// server holds: every known server and the pool lookup table used by
// sharding.Resolve (spec.md §4.7). Mirrors the teacher's shard registry
// in structure (RWMutex-guarded map, copy-out accessors) but maps
// server IDs to ServerInfo instead of shard IDs to nodes.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]ServerInfo
	params  sharding.Params
}

// NewRegistry builds a registry seeded with the given pool lookup
// parameters (spec.md §4.7: the lookup table is fixed at cluster layout
// time and only changes when pools are added).
func NewRegistry(params sharding.Params) *Registry {
	return &Registry{
		servers: make(map[string]ServerInfo),
		params:  params,
	}
}

// Upsert records or updates a server's info.
func (r *Registry) Upsert(s ServerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[s.ID] = s
}

// Remove drops a server from the registry, e.g. on graceful decommission.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, id)
}

// Get returns a copy of a server's recorded info.
func (r *Registry) Get(id string) (ServerInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[id]
	if !ok {
		return ServerInfo{}, errors.Wrapf(ErrUnknownServer, "id %q", id)
	}
	return s, nil
}

// PoolMembers returns every server belonging to the given pool, ordered
// by server_of_pool.
func (r *Registry) PoolMembers(pool uint16) []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ServerInfo
	for _, s := range r.servers {
		if s.Pool == pool {
			out = append(out, s)
		}
	}
	sortByServerOfPool(out)
	return out
}

// All returns a copy of every registered server.
func (r *Registry) All() []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerInfo, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s)
	}
	return out
}

// OwnerPool resolves the (pool, mask, server_of_pool) triple responsible
// for a series name using the registry's current pool lookup table
// (spec.md §4.7).
func (r *Registry) OwnerPool(seriesName string, isLog bool) (pool uint16, mask uint16, server uint8) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sharding.Resolve(seriesName, r.params, isLog)
}

// SetParams replaces the sharding parameters, e.g. after a pool is added
// and the lookup table is rebuilt and broadcast (spec.md §4.7).
func (r *Registry) SetParams(params sharding.Params) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = params
}

func sortByServerOfPool(s []ServerInfo) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].ServerOfPool > s[j].ServerOfPool; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
