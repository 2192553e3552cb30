package config

import (
	"io"

	"github.com/pkg/errors"

	"github.com/dreamware/siridb/internal/precision"
	"github.com/dreamware/siridb/internal/sharding"
	"github.com/dreamware/siridb/internal/tlv"
)

// Catalog is database.dat's parsed contents (spec.md §6.1: "schema, UUID,
// name, time precision, buffer size, num/log durations, timezone,
// thresholds, limits").
type Catalog struct {
	Schema        int64
	UUID          string
	Name          string
	TimePrecision precision.Precision
	BufferSize    int // bytes; mirrors database.conf's buffer.size but is
	// carried in the catalog too so a server can validate the two agree on
	// open (spec.md §6.1 lists buffer size as part of the catalog itself).
	DurationNum uint64 // numeric-series shard duration, seconds
	DurationLog uint64 // log-series shard duration, seconds
	Timezone    string

	// MaxOpenFiles bounds concurrently open shard files (spec.md §5
	// "Resource limits"); part of the catalog's "limits".
	MaxOpenFiles int
}

// currentSchema is written into every new catalog; DecodeCatalog rejects an
// unrecognized schema rather than guessing at a layout it cannot trust.
const currentSchema = 1

// ErrUnsupportedSchema is returned by DecodeCatalog when database.dat's
// schema field does not match a version this build understands.
var ErrUnsupportedSchema = errors.New("config: unsupported catalog schema")

// Params derives this catalog's sharding.Params from its configured
// durations, for callers wiring up internal/sharding.Resolve (the
// PoolLookup table still needs BuildLookup(poolCount), since pool count is
// cluster-runtime state, not a catalog field).
func (c Catalog) Params() sharding.Params {
	return sharding.Params{
		ShardMaskNum: sharding.MaskNumFromDuration(c.DurationNum),
		ShardMaskLog: sharding.MaskLogFromDuration(c.DurationLog),
	}
}

// EncodeCatalog serializes c as a TLV map.
func EncodeCatalog(c Catalog) ([]byte, error) {
	if c.Schema == 0 {
		c.Schema = currentSchema
	}
	m := map[string]interface{}{
		"schema":         c.Schema,
		"uuid":           c.UUID,
		"name":           c.Name,
		"time_precision": int64(c.TimePrecision),
		"buffer_size":    int64(c.BufferSize),
		"duration_num":   int64(c.DurationNum),
		"duration_log":   int64(c.DurationLog),
		"timezone":       c.Timezone,
		"max_open_files": int64(c.MaxOpenFiles),
	}
	return tlv.Marshal(m)
}

// DecodeCatalog is the inverse of EncodeCatalog.
func DecodeCatalog(data []byte) (Catalog, error) {
	v, err := tlv.Unmarshal(data)
	if err != nil {
		return Catalog{}, errors.Wrap(err, "config: decode catalog")
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return Catalog{}, errors.Wrap(tlv.ErrCorrupt, "config: catalog is not a map")
	}

	schema, err := reqInt(m, "schema")
	if err != nil {
		return Catalog{}, err
	}
	if schema != currentSchema {
		return Catalog{}, errors.Wrapf(ErrUnsupportedSchema, "got %d, want %d", schema, currentSchema)
	}

	uuid, err := reqString(m, "uuid")
	if err != nil {
		return Catalog{}, err
	}
	name, err := reqString(m, "name")
	if err != nil {
		return Catalog{}, err
	}
	timePrecision, err := reqInt(m, "time_precision")
	if err != nil {
		return Catalog{}, err
	}
	bufferSize, err := reqInt(m, "buffer_size")
	if err != nil {
		return Catalog{}, err
	}
	durationNum, err := reqInt(m, "duration_num")
	if err != nil {
		return Catalog{}, err
	}
	durationLog, err := reqInt(m, "duration_log")
	if err != nil {
		return Catalog{}, err
	}
	timezone, err := reqString(m, "timezone")
	if err != nil {
		return Catalog{}, err
	}
	maxOpenFiles, err := reqInt(m, "max_open_files")
	if err != nil {
		return Catalog{}, err
	}

	return Catalog{
		Schema:        schema,
		UUID:          uuid,
		Name:          name,
		TimePrecision: precision.Precision(timePrecision),
		BufferSize:    int(bufferSize),
		DurationNum:   uint64(durationNum),
		DurationLog:   uint64(durationLog),
		Timezone:      timezone,
		MaxOpenFiles:  int(maxOpenFiles),
	}, nil
}

// WriteCatalog encodes c and writes it to w in one call.
func WriteCatalog(w io.Writer, c Catalog) error {
	data, err := EncodeCatalog(c)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return errors.Wrap(err, "config: write catalog")
}

// ReadCatalog reads all of r and decodes it as a Catalog.
func ReadCatalog(r io.Reader) (Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Catalog{}, errors.Wrap(err, "config: read catalog")
	}
	return DecodeCatalog(data)
}

func reqInt(m map[string]interface{}, key string) (int64, error) {
	v, ok := m[key]
	if !ok {
		return 0, errors.Wrapf(ErrMissingKey, "catalog.%s", key)
	}
	i, ok := v.(int64)
	if !ok {
		return 0, errors.Errorf("config: catalog.%s is not an int (got %T)", key, v)
	}
	return i, nil
}

func reqString(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", errors.Wrapf(ErrMissingKey, "catalog.%s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Errorf("config: catalog.%s is not a string (got %T)", key, v)
	}
	return s, nil
}
