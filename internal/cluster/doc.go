// Package cluster models the pool/server topology of a siridb cluster and
// the HTTP/JSON transport servers use to talk to each other.
//
// # Topology
//
// A cluster is divided into pools; each pool holds one or two servers that
// replicate each other (spec.md §1). Every series belongs to exactly one
// pool, chosen deterministically from its name by internal/sharding. A
// server only ever stores series whose pool matches its own and whose
// server_of_pool matches its own half of the pool.
//
//	Pool 0              Pool 1
//	┌─────────────┐     ┌─────────────┐
//	│ server A    │     │ server C    │
//	│ (of_pool 0) │     │ (of_pool 0) │
//	│   ▲         │     │   ▲         │
//	│   replica   │     │   replica   │
//	│   ▼         │     │   ▼         │
//	│ server B    │     │ server D    │
//	│ (of_pool 1) │     │ (of_pool 1) │
//	└─────────────┘     └─────────────┘
//
// # Registry
//
// Registry is the in-memory, per-server view of this topology: a
// RWMutex-guarded map from server ID to ServerInfo, plus the sharding
// parameters (pool lookup table, shard mask moduli) needed to resolve
// which pool owns a given series name (spec.md §4.7). Every server keeps
// its own copy, which changes only when Registry.SetParams is called; no
// handler in this module receives a BroadcastRequest to update it.
//
// # Health
//
// Monitor runs alongside the registry on every server, polling each known
// peer's /health endpoint on a timer and updating ServerInfo.Status/LastSeen
// via Registry.Upsert, so GET /cluster/servers reflects live reachability
// rather than only the last registration a peer announced.
//
// # Transport
//
// PostJSON and GetJSON are the two primitives every higher-level protocol
// in this module builds on: a shared http.Client with a 5s timeout, JSON
// request/response bodies, and HTTP status >= 300 treated as an error.
// internal/reindex uses them to send ReindexBatch messages to a series'
// new owner pool when the pool count changes; a server's startup sequence
// uses RegisterRequest to announce itself to its peers.
package cluster
