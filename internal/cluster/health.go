package cluster

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor periodically checks every server a Registry knows about and
// keeps each ServerInfo's Status/LastSeen fields current, so a pool's
// replica health is visible through GET /cluster/servers without a
// separate query path.
type Monitor struct {
	registry *Registry

	httpClient  *http.Client
	checkFunc   func(addr string) error
	onUnhealthy func(id string)
	logger      *zap.Logger

	interval    time.Duration
	maxFailures int

	mu    sync.Mutex
	fails map[string]int
}

// NewMonitor builds a monitor for registry, checking every server's
// /health endpoint every interval and marking a server unhealthy after
// 3 consecutive failures.
func NewMonitor(registry *Registry, interval time.Duration) *Monitor {
	m := &Monitor{
		registry:    registry,
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		interval:    interval,
		maxFailures: 3,
		fails:       make(map[string]int),
	}
	m.checkFunc = m.defaultCheck
	return m
}

func (m *Monitor) SetLogger(l *zap.Logger) { m.logger = l }

// SetOnUnhealthy sets a callback invoked (from a new goroutine) the first
// time a server crosses the failure threshold, e.g. to pause sends to it
// from a reindex controller.
func (m *Monitor) SetOnUnhealthy(fn func(id string)) { m.onUnhealthy = fn }

// SetCheckFunc overrides the health-check probe, e.g. for tests.
func (m *Monitor) SetCheckFunc(fn func(addr string) error) { m.checkFunc = fn }

// Run checks every known server every interval until ctx is canceled. It
// performs one check immediately rather than waiting out the first tick.
func (m *Monitor) Run(ctx context.Context) {
	m.checkAll()

	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.checkAll()
		}
	}
}

func (m *Monitor) checkAll() {
	for _, s := range m.registry.All() {
		m.checkOne(s)
	}
}

func (m *Monitor) checkOne(s ServerInfo) {
	err := m.checkFunc(s.Addr)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.fails[s.ID]++
		if m.fails[s.ID] >= m.maxFailures {
			wasHealthy := s.Status != "unhealthy"
			s.Status = "unhealthy"
			m.registry.Upsert(s)
			if wasHealthy && m.onUnhealthy != nil {
				go m.onUnhealthy(s.ID)
			}
			if m.logger != nil {
				m.logger.Warn("server marked unhealthy", zap.String("id", s.ID), zap.Int("fails", m.fails[s.ID]))
			}
		}
		return
	}

	m.fails[s.ID] = 0
	s.Status = "healthy"
	s.LastSeen = time.Now()
	m.registry.Upsert(s)
}

// defaultCheck performs an HTTP GET against addr's /health endpoint.
func (m *Monitor) defaultCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url = strings.TrimRight(url, "/") + "/health"

	resp, err := m.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
