package main

import (
	"io"
	"os"
	"strconv"

	"github.com/dreamware/siridb/internal/codec"
	"github.com/dreamware/siridb/internal/engine"
	"github.com/dreamware/siridb/internal/tlv"
	"github.com/pkg/errors"
)

// recoveryState is the sidecar this daemon persists alongside series.dat:
// every shard-resident chunk descriptor (engine.ChunkRecord, see
// internal/engine/recover_index.go) and each numeric series' shared-buffer
// slot offset, neither of which series.dat's (name, id, type) records carry.
// Without it, a restarted server would know every series existed but not
// where its historical points live.
type recoveryState struct {
	Chunks        []engine.ChunkRecord
	BufferOffsets map[uint32]int64
}

const recoveryFileName = ".recovery"

func recoveryPath(dataDir string) string {
	return dataDir + string(os.PathSeparator) + recoveryFileName
}

// encodeRecoveryState flattens a recoveryState to a TLV map. tlv.Marshal
// only knows string-keyed maps, so the uint32 series ids keying the
// buffer-offset map are carried as decimal-string keys and re-parsed on
// load; ids stored as values (series_id, shard_id) are plain int64s.
func encodeRecoveryState(st recoveryState) ([]byte, error) {
	chunks := make([]interface{}, 0, len(st.Chunks))
	for _, c := range st.Chunks {
		chunks = append(chunks, map[string]interface{}{
			"series_id": int64(c.SeriesID),
			"shard_id":  int64(c.ShardID),
			"start_ts":  c.StartTS,
			"end_ts":    c.EndTS,
			"len":       int64(c.Len),
			"pos":       c.Pos,
			"size":      int64(c.Size),
			"cinfo":     int64(c.Cinfo),
		})
	}
	offsets := make(map[string]interface{}, len(st.BufferOffsets))
	for id, off := range st.BufferOffsets {
		offsets[strconv.FormatUint(uint64(id), 10)] = off
	}
	return tlv.Marshal(map[string]interface{}{
		"chunks":         chunks,
		"buffer_offsets": offsets,
	})
}

func decodeRecoveryState(data []byte) (recoveryState, error) {
	v, err := tlv.Unmarshal(data)
	if err != nil {
		return recoveryState{}, errors.Wrap(err, "siridbd: decode recovery state")
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return recoveryState{}, errors.New("siridbd: recovery state is not a map")
	}

	st := recoveryState{BufferOffsets: map[uint32]int64{}}

	if rawChunks, ok := m["chunks"].([]interface{}); ok {
		for _, rc := range rawChunks {
			cm, ok := rc.(map[string]interface{})
			if !ok {
				continue
			}
			st.Chunks = append(st.Chunks, engine.ChunkRecord{
				SeriesID: uint32(asInt(cm["series_id"])),
				ShardID:  uint64(asInt(cm["shard_id"])),
				StartTS:  asInt(cm["start_ts"]),
				EndTS:    asInt(cm["end_ts"]),
				Len:      uint16(asInt(cm["len"])),
				Pos:      asInt(cm["pos"]),
				Size:     int(asInt(cm["size"])),
				Cinfo:    codec.Cinfo(asInt(cm["cinfo"])),
			})
		}
	}

	if rawOffsets, ok := m["buffer_offsets"].(map[string]interface{}); ok {
		for k, v := range rawOffsets {
			id, err := strconv.ParseUint(k, 10, 32)
			if err != nil {
				continue
			}
			st.BufferOffsets[uint32(id)] = asInt(v)
		}
	}

	return st, nil
}

func asInt(v interface{}) int64 {
	i, _ := v.(int64)
	return i
}

// writeRecoveryState persists st to dataDir's sidecar file, fsyncing before
// returning so a crash right after shutdown can't leave a half-written
// recovery file that looks valid but isn't.
func writeRecoveryState(dataDir string, st recoveryState) error {
	data, err := encodeRecoveryState(st)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(recoveryPath(dataDir), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "siridbd: open recovery state")
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return errors.Wrap(err, "siridbd: write recovery state")
	}
	return f.Sync()
}

// readRecoveryState loads dataDir's sidecar file. A missing file is not an
// error: it means this is the database's first run, so both fields come
// back empty.
func readRecoveryState(dataDir string) (recoveryState, error) {
	f, err := os.Open(recoveryPath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return recoveryState{BufferOffsets: map[uint32]int64{}}, nil
		}
		return recoveryState{}, errors.Wrap(err, "siridbd: open recovery state")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return recoveryState{}, errors.Wrap(err, "siridbd: read recovery state")
	}
	return decodeRecoveryState(data)
}
