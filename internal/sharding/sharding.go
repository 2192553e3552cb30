// Package sharding implements the deterministic series-name -> (pool, mask,
// server_of_pool) mapping described in spec.md §4.7. The same series name
// must always resolve to the same triple for a given pool count and shard
// mask parameters, on every server in the cluster; this package has no
// internal state beyond the precomputed pool lookup table.
package sharding

import "math"

// lookupSize is the fixed width of the pool lookup table (spec.md §4.7).
const lookupSize = 8192

// logMaskOffset shifts the log-series mask range so it never collides with
// the numeric-series mask range (spec.md §4.7: "For log series the mask
// range is +600 + ...").
const logMaskOffset = 600

// NameSum computes n, the sum of the bytes of a series name. The spec calls
// this sum "modular": we keep it in a uint64 and let overflow wrap, which is
// harmless because every downstream use only consumes n via division and
// modulo with small divisors and the wraparound is itself deterministic.
func NameSum(name string) uint64 {
	var n uint64
	for i := 0; i < len(name); i++ {
		n += uint64(name[i])
	}
	return n
}

// Params bundles the per-database constants needed to resolve a name. They
// are derived once at database load time from configured shard durations
// (spec.md §4.7) and from the current pool count.
type Params struct {
	// ShardMaskNum is the modulus for numeric-series masks, approximately
	// sqrt(duration_num_seconds)/24.
	ShardMaskNum uint64
	// ShardMaskLog is the modulus for log-series masks, approximately
	// sqrt(duration_log_seconds)/24.
	ShardMaskLog uint64
	// PoolLookup is the 8192-entry table mapping n%8192 to a pool number.
	// Build with BuildLookup whenever the pool count changes.
	PoolLookup [lookupSize]uint16
}

// MaskNumFromDuration computes shard_mask_num from a numeric shard duration
// expressed in seconds, per spec.md §4.7.
func MaskNumFromDuration(durationSeconds uint64) uint64 {
	return maskFromDuration(durationSeconds)
}

// MaskLogFromDuration computes shard_mask_log from a log shard duration
// expressed in seconds, per spec.md §4.7.
func MaskLogFromDuration(durationSeconds uint64) uint64 {
	return maskFromDuration(durationSeconds)
}

func maskFromDuration(durationSeconds uint64) uint64 {
	v := uint64(math.Sqrt(float64(durationSeconds)) / 24)
	if v == 0 {
		v = 1
	}
	return v
}

// BuildLookup regenerates the pool lookup table for a given pool count. The
// table must keep per-pool share within ±20% of 1/poolCount for any
// poolCount up to ~42 (spec.md §4.7); a straight modulo achieves exact
// uniformity (the remainder is spread evenly since lookupSize is much
// larger than poolCount), which is well inside that bound.
func BuildLookup(poolCount int) [lookupSize]uint16 {
	var table [lookupSize]uint16
	if poolCount <= 0 {
		return table
	}
	for i := 0; i < lookupSize; i++ {
		table[i] = uint16(i % poolCount)
	}
	return table
}

// Mask returns the shard-partition key for a name. isLog selects between the
// numeric and log mask ranges.
func Mask(n uint64, p Params, isLog bool) uint16 {
	if isLog {
		mod := p.ShardMaskLog
		if mod == 0 {
			mod = 1
		}
		return uint16(logMaskOffset + (n/11)%mod)
	}
	mod := p.ShardMaskNum
	if mod == 0 {
		mod = 1
	}
	return uint16((n / 11) % mod)
}

// ServerOfPool returns which of the two servers in a pool owns the series
// (0 or 1).
func ServerOfPool(n uint64) uint8 {
	return uint8((n / 11) % 2)
}

// Pool returns the owning pool number for a name, using the precomputed
// lookup table in p.
func Pool(n uint64, p Params) uint16 {
	return p.PoolLookup[n%lookupSize]
}

// Resolve computes the full (pool, mask, server_of_pool) triple for a
// series name in one call; it is a pure function of name, p and isLog
// (spec.md §8 invariant 4).
func Resolve(name string, p Params, isLog bool) (pool uint16, mask uint16, server uint8) {
	n := NameSum(name)
	return Pool(n, p), Mask(n, p, isLog), ServerOfPool(n)
}
