package cluster

import (
	"testing"

	"github.com/dreamware/siridb/internal/sharding"
)

func testParams() sharding.Params {
	return sharding.Params{
		ShardMaskNum: 4,
		ShardMaskLog: 4,
		PoolLookup:   sharding.BuildLookup(2),
	}
}

func TestRegistryUpsertAndGet(t *testing.T) {
	r := NewRegistry(testParams())
	r.Upsert(ServerInfo{ID: "srv-1", Pool: 0, ServerOfPool: 0})

	got, err := r.Get("srv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Pool != 0 {
		t.Errorf("pool: got %d", got.Pool)
	}
}

func TestRegistryGetUnknownServer(t *testing.T) {
	r := NewRegistry(testParams())
	if _, err := r.Get("missing"); err == nil {
		t.Fatal("expected error for unknown server")
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry(testParams())
	r.Upsert(ServerInfo{ID: "srv-1"})
	r.Remove("srv-1")
	if _, err := r.Get("srv-1"); err == nil {
		t.Fatal("expected removed server to be gone")
	}
}

func TestRegistryPoolMembersOrderedByServerOfPool(t *testing.T) {
	r := NewRegistry(testParams())
	r.Upsert(ServerInfo{ID: "srv-b", Pool: 1, ServerOfPool: 1})
	r.Upsert(ServerInfo{ID: "srv-a", Pool: 1, ServerOfPool: 0})
	r.Upsert(ServerInfo{ID: "srv-other-pool", Pool: 2, ServerOfPool: 0})

	members := r.PoolMembers(1)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if members[0].ID != "srv-a" || members[1].ID != "srv-b" {
		t.Errorf("unexpected order: %+v", members)
	}
}

func TestRegistryAllReturnsEveryServer(t *testing.T) {
	r := NewRegistry(testParams())
	r.Upsert(ServerInfo{ID: "srv-1"})
	r.Upsert(ServerInfo{ID: "srv-2"})
	if got := len(r.All()); got != 2 {
		t.Errorf("expected 2 servers, got %d", got)
	}
}

func TestRegistryOwnerPoolMatchesShardingResolve(t *testing.T) {
	p := testParams()
	r := NewRegistry(p)

	wantPool, wantMask, wantServer := sharding.Resolve("cpu.load", p, false)
	gotPool, gotMask, gotServer := r.OwnerPool("cpu.load", false)

	if gotPool != wantPool || gotMask != wantMask || gotServer != wantServer {
		t.Errorf("OwnerPool mismatch: got (%d,%d,%d), want (%d,%d,%d)", gotPool, gotMask, gotServer, wantPool, wantMask, wantServer)
	}
}

func TestRegistrySetParamsChangesResolution(t *testing.T) {
	r := NewRegistry(sharding.Params{PoolLookup: sharding.BuildLookup(1)})
	poolBefore, _, _ := r.OwnerPool("cpu.load", false)
	if poolBefore != 0 {
		t.Fatalf("expected single pool to resolve to 0, got %d", poolBefore)
	}

	r.SetParams(sharding.Params{PoolLookup: sharding.BuildLookup(4)})
	// With 4 pools the lookup table changes; resolution must follow it
	// rather than the stale single-pool table.
	poolAfter, _, _ := r.OwnerPool("cpu.load", false)
	n := sharding.NameSum("cpu.load")
	want := sharding.BuildLookup(4)[n%8192]
	if poolAfter != want {
		t.Errorf("expected pool %d after SetParams, got %d", want, poolAfter)
	}
}
