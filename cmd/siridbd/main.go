// Command siridbd is one server process of a siridb cluster: it owns a
// single database's series registry, shard set and buffer file, serves
// inserts and queries over HTTP, and runs the background shard compactor
// and re-index controller (spec.md §1, §4.5, §4.8).
//
// Configuration is environment-variable driven, following the retrieval
// pack's own convention for small daemons: no flags, no config-file path
// to juggle before the real config (database.conf/database.dat, loaded
// from SIRIDB_DATA_DIR) is even reachable.
//
// Required environment:
//   - SIRIDB_DATA_DIR: directory holding database.conf/database.dat/
//     series.dat and this server's shard files (created on first run)
//   - SIRIDB_ID: this server's unique id within the cluster
//
// Optional environment (defaults in parens):
//   - SIRIDB_LISTEN (:9010), SIRIDB_ADDR (http://127.0.0.1:9010)
//   - SIRIDB_POOL (0), SIRIDB_SERVER_OF_POOL (0), SIRIDB_POOL_COUNT (1)
//   - SIRIDB_LOG_LEVEL (info), SIRIDB_DEV (false)
//   - SIRIDB_CLUSTER_SEEDS: comma-separated addrs to register with on startup
//   - SIRIDB_COMPACT_INTERVAL (30s), SIRIDB_HEALTH_INTERVAL (5s)
//   - SIRIDB_MAX_CHUNK_SIZE (1024)
//   - SIRIDB_COMPRESSED (true), SIRIDB_HAS_INDEX (true)
//
// First-run bootstrap (no database.dat present) additionally reads:
//   - SIRIDB_DB_NAME (default), SIRIDB_PRECISION (s|ms|us|ns, default s)
//   - SIRIDB_DURATION_NUM (86400s), SIRIDB_DURATION_LOG (604800s)
//   - SIRIDB_TIMEZONE (UTC), SIRIDB_BUFFER_SIZE (1048576)
//   - SIRIDB_MAX_OPEN_FILES (1024)
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dreamware/siridb/internal/cluster"
	"github.com/dreamware/siridb/internal/compactor"
	"github.com/dreamware/siridb/internal/config"
	"github.com/dreamware/siridb/internal/engine"
	"github.com/dreamware/siridb/internal/precision"
	"github.com/dreamware/siridb/internal/reindex"
	"github.com/dreamware/siridb/internal/series"
	"github.com/dreamware/siridb/internal/sharding"
	"github.com/dreamware/siridb/internal/telemetry"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// logFatal is a variable so tests can intercept a fatal configuration error
// without killing the test process.
var logFatal = log.Fatalf

// server bundles every long-lived component one siridbd process owns.
type server struct {
	id       string
	dataDir  string
	pool     uint16
	serverOf uint8

	eng       *engine.Engine
	compactor *compactor.Compactor
	cluster   *cluster.Registry
	monitor   *cluster.Monitor
	dropJ     *series.DropJournal

	reindexMu sync.Mutex // guards starting at most one reindex.Controller at a time

	logger *zap.Logger
	reg    *prometheus.Registry
}

func main() {
	dataDir := mustGetenv("SIRIDB_DATA_DIR")
	id := mustGetenv("SIRIDB_ID")
	listen := getenv("SIRIDB_LISTEN", ":9010")
	public := getenv("SIRIDB_ADDR", "http://127.0.0.1:9010")
	pool := getenvInt("SIRIDB_POOL", 0)
	serverOfPool := getenvInt("SIRIDB_SERVER_OF_POOL", 0)
	poolCount := getenvInt("SIRIDB_POOL_COUNT", 1)
	compactInterval := getenvDuration("SIRIDB_COMPACT_INTERVAL", 30*time.Second)

	logger, err := telemetry.NewLogger(getenv("SIRIDB_LOG_LEVEL", "info"), getenv("SIRIDB_DEV", "") != "")
	if err != nil {
		logFatal("siridbd: %v", err)
		return
	}
	defer logger.Sync()

	srv, err := newServer(dataDir, id, uint16(pool), uint8(serverOfPool), poolCount, logger)
	if err != nil {
		logFatal("siridbd: %v", err)
		return
	}
	defer srv.close()

	mux := http.NewServeMux()
	srv.routes(mux)

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("id", id), zap.String("listen", listen), zap.String("public", public))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("siridbd: listen: %v", err)
		}
	}()

	compactCtx, stopCompact := context.WithCancel(context.Background())
	go srv.runCompactionLoop(compactCtx, compactInterval)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	go srv.monitor.Run(monitorCtx)

	if seeds := getenv("SIRIDB_CLUSTER_SEEDS", ""); seeds != "" {
		go srv.registerWithSeeds(context.Background(), strings.Split(seeds, ","), id, public)
	}

	srv.resumePendingReindex(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	stopCompact()
	stopMonitor()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	if err := srv.persist(); err != nil {
		logger.Error("persist on shutdown failed", zap.Error(err))
	}
	logger.Info("siridbd stopped")
}

// newServer loads (or bootstraps) a database at dataDir and wires every
// component together: engine, compactor, cluster registry, metrics.
func newServer(dataDir, id string, pool uint16, serverOfPool uint8, poolCount int, logger *zap.Logger) (*server, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "siridbd: create data dir")
	}
	shardDir := filepath.Join(dataDir, "shards")
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "siridbd: create shard dir")
	}

	cat, err := loadOrBootstrapCatalog(dataDir)
	if err != nil {
		return nil, err
	}
	bufCfg, err := loadOrBootstrapBufferConfig(dataDir, cat)
	if err != nil {
		return nil, err
	}

	maxSeriesID, err := readMaxSeriesID(dataDir)
	if err != nil {
		return nil, err
	}

	params := cat.Params()
	params.PoolLookup = sharding.BuildLookup(poolCount)

	cfg := engine.Config{
		Duration:     cat.DurationNum,
		MaxChunkSize: uint16(getenvInt("SIRIDB_MAX_CHUNK_SIZE", 1024)),
		BufferSize:   bufCfg.Size,
		Precision:    cat.TimePrecision,
		Compressed:   getenvBool("SIRIDB_COMPRESSED", true),
		HasIndex:     getenvBool("SIRIDB_HAS_INDEX", true),
		Params:       params,
		LocalPool:    pool,
	}

	eng, err := engine.New(cfg, shardDir, bufCfg.Path, maxSeriesID)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	eng.SetLogger(logger)
	eng.SetMetrics(metrics)

	dropJ, err := series.OpenDropJournal(filepath.Join(dataDir, ".dropped"))
	if err != nil {
		eng.Close()
		return nil, err
	}
	droppedIDs, err := dropJ.ReadAll()
	if err != nil {
		eng.Close()
		return nil, err
	}
	dropped := make(map[uint32]struct{}, len(droppedIDs))
	for _, id := range droppedIDs {
		dropped[id] = struct{}{}
	}

	state, err := readRecoveryState(dataDir)
	if err != nil {
		eng.Close()
		return nil, err
	}

	if err := recoverCatalogAndChunks(eng, dataDir, bufCfg, dropped, state); err != nil {
		eng.Close()
		return nil, err
	}

	mgr := eng.Shards()
	comp := compactor.New(mgr, eng.Series(), eng)
	comp.SetLogger(logger)

	clusterRegistry := cluster.NewRegistry(params)
	monitor := cluster.NewMonitor(clusterRegistry, getenvDuration("SIRIDB_HEALTH_INTERVAL", 5*time.Second))
	monitor.SetLogger(logger)

	srv := &server{
		id:        id,
		dataDir:   dataDir,
		pool:      pool,
		serverOf:  serverOfPool,
		eng:       eng,
		compactor: comp,
		cluster:   clusterRegistry,
		monitor:   monitor,
		dropJ:     dropJ,
		logger:    logger,
		reg:       reg,
	}
	return srv, nil
}

// recoverCatalogAndChunks replays series.dat (if present) through
// engine.Recover using the buffer offsets this daemon persisted last
// shutdown, opens every shard a persisted chunk record names, and
// reattaches each chunk to its series.
func recoverCatalogAndChunks(eng *engine.Engine, dataDir string, bufCfg config.BufferConfig, dropped map[uint32]struct{}, state recoveryState) error {
	catalogPath := filepath.Join(dataDir, "series.dat")
	f, err := os.Open(catalogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // brand-new database: nothing to recover
		}
		return errors.Wrap(err, "siridbd: open series.dat")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "siridbd: stat series.dat")
	}

	if err := eng.Recover(f, info.Size(), bufCfg.MaxTruncationPercent, dropped, state.BufferOffsets); err != nil {
		return errors.Wrap(err, "siridbd: recover catalog")
	}

	seen := map[uint64]bool{}
	for _, rec := range state.Chunks {
		if !seen[rec.ShardID] {
			if _, err := eng.Shards().OpenAndTrack(rec.ShardID, eng.HasIndex()); err != nil {
				return errors.Wrapf(err, "siridbd: open shard %d", rec.ShardID)
			}
			seen[rec.ShardID] = true
		}
		if err := eng.RestoreChunk(rec); err != nil {
			return errors.Wrapf(err, "siridbd: restore chunk for series %d", rec.SeriesID)
		}
	}
	return nil
}

// persist snapshots the catalog, chunk index and buffer offsets to disk so
// the next startup's recoverCatalogAndChunks can rebuild in-memory state
// exactly (spec.md §6.1 "Startup recovery").
func (s *server) persist() error {
	catalogPath := filepath.Join(s.dataDir, "series.dat")
	f, err := os.OpenFile(catalogPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "siridbd: open series.dat")
	}
	if err := s.eng.Series().WriteCatalog(f); err != nil {
		f.Close()
		return errors.Wrap(err, "siridbd: write series.dat")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "siridbd: close series.dat")
	}

	if err := writeMaxSeriesID(s.dataDir, s.eng.Series().MaxSeriesID()); err != nil {
		return err
	}

	offsets := map[uint32]int64{}
	for _, ser := range s.eng.Series().All() {
		if ser.Buffer != nil {
			offsets[ser.ID] = ser.BufferOffset
		}
	}
	return writeRecoveryState(s.dataDir, recoveryState{
		Chunks:        s.eng.DumpChunkIndex(),
		BufferOffsets: offsets,
	})
}

func (s *server) close() {
	s.dropJ.Close()
	s.eng.Close()
}

func (s *server) runCompactionLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.compactor.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("compaction pass failed", zap.Error(err))
			}
		}
	}
}

// registerWithSeeds announces this server to every seed address, retrying
// each briefly before giving up on it; unlike the teacher's node (which has
// exactly one coordinator and treats registration failure as fatal), a
// siridb server has no single coordinator to depend on, so a seed that
// never answers is logged and skipped rather than aborting startup.
func (s *server) registerWithSeeds(ctx context.Context, seeds []string, id, addr string) {
	body := cluster.RegisterRequest{Server: cluster.ServerInfo{
		ID: id, Addr: addr, Pool: s.pool, ServerOfPool: s.serverOf, Status: "up",
	}}
	for _, seed := range seeds {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}
		var lastErr error
		for i := 0; i < 10; i++ {
			lastErr = cluster.PostJSON(ctx, seed+"/cluster/register", body, nil)
			if lastErr == nil {
				s.logger.Info("registered with seed", zap.String("seed", seed))
				break
			}
			time.Sleep(400 * time.Millisecond)
		}
		if lastErr != nil {
			s.logger.Warn("failed to register with seed", zap.String("seed", seed), zap.Error(lastErr))
		}
	}
}

// resumePendingReindex starts draining a `.reindex` journal left over from
// before the last shutdown, if one exists (spec.md §4.8 step 4: "crash
// recovery resumes from the oldest unacked series").
func (s *server) resumePendingReindex(ctx context.Context) {
	path := filepath.Join(s.dataDir, ".reindex")
	if !reindex.Exists(path) {
		return
	}
	j, err := reindex.Open(path)
	if err != nil {
		s.logger.Error("open pending reindex journal", zap.Error(err))
		return
	}
	go s.runReindex(ctx, j)
}

func (s *server) runReindex(ctx context.Context, j *reindex.Journal) {
	s.reindexMu.Lock()
	defer s.reindexMu.Unlock()

	resolver := &engine.ClusterResolver{Cluster: s.cluster, LocalPool: s.pool}
	sender := func(ctx context.Context, addr string, batch cluster.ReindexBatch) error {
		return cluster.PostJSON(ctx, addr+"/reindex/batch", batch, nil)
	}
	ctrl := reindex.NewController(j, s.eng, s.eng, resolver, sender, s.compactor, nil)
	ctrl.SetLogger(s.logger)
	if err := ctrl.Run(ctx); err != nil {
		s.logger.Error("reindex run failed", zap.Error(err))
	}
}

// loadOrBootstrapCatalog reads dataDir/database.dat, creating one from
// environment defaults on first run.
func loadOrBootstrapCatalog(dataDir string) (config.Catalog, error) {
	path := filepath.Join(dataDir, "database.dat")
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		return config.ReadCatalog(f)
	}
	if !os.IsNotExist(err) {
		return config.Catalog{}, errors.Wrap(err, "siridbd: open database.dat")
	}

	cat := config.Catalog{
		UUID:          uuid.NewString(),
		Name:          getenv("SIRIDB_DB_NAME", "default"),
		TimePrecision: parsePrecision(getenv("SIRIDB_PRECISION", "s")),
		BufferSize:    getenvInt("SIRIDB_BUFFER_SIZE", 1<<20),
		DurationNum:   uint64(getenvInt("SIRIDB_DURATION_NUM", 86400)),
		DurationLog:   uint64(getenvInt("SIRIDB_DURATION_LOG", 604800)),
		Timezone:      getenv("SIRIDB_TIMEZONE", "UTC"),
		MaxOpenFiles:  getenvInt("SIRIDB_MAX_OPEN_FILES", 1024),
	}
	out, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return config.Catalog{}, errors.Wrap(err, "siridbd: create database.dat")
	}
	defer out.Close()
	if err := config.WriteCatalog(out, cat); err != nil {
		return config.Catalog{}, err
	}
	return cat, nil
}

// loadOrBootstrapBufferConfig reads dataDir/database.conf, creating one
// pointing at a default buffer path alongside it on first run.
func loadOrBootstrapBufferConfig(dataDir string, cat config.Catalog) (config.BufferConfig, error) {
	path := filepath.Join(dataDir, "database.conf")
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		return config.LoadBufferConfig(f)
	}
	if !os.IsNotExist(err) {
		return config.BufferConfig{}, errors.Wrap(err, "siridbd: open database.conf")
	}

	bufPath := filepath.Join(dataDir, "buffer.dat")
	truncation := getenvInt("SIRIDB_MAX_TRUNCATION_PERCENT", series.DefaultMaxTruncationPercent)
	contents := "[buffer]\npath = " + bufPath + "\nsize = " + strconv.Itoa(cat.BufferSize) + "\nmax_truncation_percent = " + strconv.Itoa(truncation) + "\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return config.BufferConfig{}, errors.Wrap(err, "siridbd: create database.conf")
	}
	return config.BufferConfig{Path: bufPath, Size: cat.BufferSize, MaxTruncationPercent: truncation}, nil
}

func readMaxSeriesID(dataDir string) (uint32, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, ".max_series_id"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "siridbd: read .max_series_id")
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "siridbd: parse .max_series_id")
	}
	return uint32(v), nil
}

func writeMaxSeriesID(dataDir string, id uint32) error {
	path := filepath.Join(dataDir, ".max_series_id")
	err := os.WriteFile(path, []byte(strconv.FormatUint(uint64(id), 10)), 0o644)
	return errors.Wrap(err, "siridbd: write .max_series_id")
}

func parsePrecision(s string) precision.Precision {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ms":
		return precision.Millisecond
	case "us":
		return precision.Microsecond
	case "ns":
		return precision.Nanosecond
	default:
		return precision.Second
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
