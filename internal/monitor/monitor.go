// Package monitor samples the connection registry on independent timers:
// health evaluation, metric snapshots, a daily histogram reset and the stale
// connection sweep.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/metrics"
)

// Source is the read side of the connection registry plus forced eviction.
type Source interface {
	Count() int
	TenantCounts() map[string]int
	ListByTenant(tenantID string) []domain.ConnectionInfo
	EvictStale(cutoff time.Time, limit int) []domain.ConnectionInfo
}

// Level is the coarse health of the gateway.
type Level string

const (
	Healthy  Level = "healthy"
	Degraded Level = "degraded"
	Critical Level = "critical"
)

func (l Level) gauge() float64 {
	switch l {
	case Degraded:
		return 1
	case Critical:
		return 2
	}
	return 0
}

// Config holds intervals and thresholds. Zero fields take the defaults below.
type Config struct {
	HealthInterval   time.Duration
	SnapshotInterval time.Duration
	SweepInterval    time.Duration
	StaleAfter       time.Duration
	SweepBatch       int

	WarnConnections     int
	CriticalConnections int
	TenantMax           int

	SpikeFactor            float64
	SpikeFloor             int
	ConcentrationThreshold float64
	ConcentrationMinTotal  int

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 500
	}
	if c.WarnConnections <= 0 {
		c.WarnConnections = 8000
	}
	if c.CriticalConnections <= 0 {
		c.CriticalConnections = 10000
	}
	if c.TenantMax <= 0 {
		c.TenantMax = 1000
	}
	if c.SpikeFactor <= 1 {
		c.SpikeFactor = 2
	}
	if c.SpikeFloor <= 0 {
		c.SpikeFloor = 100
	}
	if c.ConcentrationThreshold <= 0 || c.ConcentrationThreshold > 1 {
		c.ConcentrationThreshold = 0.5
	}
	if c.ConcentrationMinTotal <= 0 {
		c.ConcentrationMinTotal = 10
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// Health is the result of one evaluation.
type Health struct {
	Status           Level     `json:"status"`
	Issues           []string  `json:"issues"`
	TotalConnections int       `json:"total_connections"`
	Tenants          int       `json:"tenants"`
	CheckedAt        time.Time `json:"checked_at"`
}

// Metrics is an aggregate snapshot for reporting.
type Metrics struct {
	TotalConnections  int            `json:"total_connections"`
	TenantConnections map[string]int `json:"tenant_connections"`
	PeakConnections   int            `json:"peak_connections"`
	PeakAt            time.Time      `json:"peak_at,omitempty"`
	HourlyConnections [24]int        `json:"hourly_connections"`
	CollectedAt       time.Time      `json:"collected_at"`
}

// Anomaly kinds.
const (
	AnomalySpike         = "connection_spike"
	AnomalyConcentration = "tenant_concentration"
)

// Anomaly is one detected irregularity.
type Anomaly struct {
	Kind       string    `json:"type"`
	Message    string    `json:"message"`
	TenantID   string    `json:"tenant_id,omitempty"`
	Value      float64   `json:"value"`
	DetectedAt time.Time `json:"detected_at"`
}

// TenantDetail describes the live connections of one tenant.
type TenantDetail struct {
	TenantID    string                  `json:"tenant_id"`
	Count       int                     `json:"count"`
	Share       float64                 `json:"share"`
	Connections []domain.ConnectionInfo `json:"connections"`
}

// Monitor owns the rolling statistics. All methods are safe for concurrent use;
// the lock is never held while calling into the Source.
type Monitor struct {
	src Source
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	history []Health // ring buffer
	next    int
	filled  bool
	hourly  [24]int
	peak    int
	peakAt  time.Time
	latest  *Metrics

	wg sync.WaitGroup
}

func New(src Source, cfg Config) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{
		src:     src,
		cfg:     cfg,
		now:     time.Now,
		history: make([]Health, cfg.HistorySize),
	}
}

// Start launches the four periodic tasks. They stop when ctx is cancelled;
// Wait blocks until they have.
func (m *Monitor) Start(ctx context.Context) {
	m.every(ctx, m.cfg.HealthInterval, func() { m.CheckHealth() })
	m.every(ctx, m.cfg.SnapshotInterval, func() { m.collect() })
	m.every(ctx, m.cfg.SweepInterval, func() { m.Sweep() })

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(untilMidnight(m.now()))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				m.ResetDaily()
				timer.Reset(untilMidnight(m.now()))
			}
		}
	}()

	log.Info().
		Dur("health_interval", m.cfg.HealthInterval).
		Dur("snapshot_interval", m.cfg.SnapshotInterval).
		Dur("sweep_interval", m.cfg.SweepInterval).
		Dur("stale_after", m.cfg.StaleAfter).
		Msg("connection monitor started")
}

// Wait blocks until every task started by Start has returned.
func (m *Monitor) Wait() { m.wg.Wait() }

func (m *Monitor) every(ctx context.Context, d time.Duration, fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func untilMidnight(now time.Time) time.Duration {
	y, mo, d := now.Date()
	return time.Date(y, mo, d+1, 0, 0, 0, 0, now.Location()).Sub(now)
}

// CheckHealth evaluates current counts against the thresholds, records the
// sample in the hourly histogram and appends the result to the history.
func (m *Monitor) CheckHealth() Health {
	total := m.src.Count()
	byTenant := m.src.TenantCounts()
	now := m.now()

	h := Health{Status: Healthy, Issues: []string{}, TotalConnections: total, Tenants: len(byTenant), CheckedAt: now}
	switch {
	case total >= m.cfg.CriticalConnections:
		h.Status = Critical
		h.Issues = append(h.Issues, fmt.Sprintf("total connections %d reached critical threshold %d", total, m.cfg.CriticalConnections))
	case total >= m.cfg.WarnConnections:
		h.Status = Degraded
		h.Issues = append(h.Issues, fmt.Sprintf("total connections %d above warning threshold %d", total, m.cfg.WarnConnections))
	}
	for _, tenant := range sortedTenants(byTenant) {
		if n := byTenant[tenant]; n > m.cfg.TenantMax {
			if h.Status == Healthy {
				h.Status = Degraded
			}
			h.Issues = append(h.Issues, fmt.Sprintf("tenant %s holds %d connections (max %d)", tenant, n, m.cfg.TenantMax))
		}
	}

	m.mu.Lock()
	m.hourly[now.Hour()] = total
	if total > m.peak {
		m.peak = total
		m.peakAt = now
	}
	m.history[m.next] = h
	m.next = (m.next + 1) % len(m.history)
	if m.next == 0 {
		m.filled = true
	}
	m.mu.Unlock()

	metrics.HealthStatus.Set(h.Status.gauge())
	if h.Status != Healthy {
		log.Warn().Str("status", string(h.Status)).Strs("issues", h.Issues).Int("connections", total).Msg("gateway health degraded")
	}
	return h
}

// Current returns the latest health result, evaluating one if none exists yet.
func (m *Monitor) Current() Health {
	m.mu.Lock()
	last := (m.next - 1 + len(m.history)) % len(m.history)
	have := m.filled || m.next > 0
	h := m.history[last]
	m.mu.Unlock()
	if !have {
		return m.CheckHealth()
	}
	return h
}

// History returns past health results, oldest first.
func (m *Monitor) History() []Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.filled {
		return append([]Health(nil), m.history[:m.next]...)
	}
	out := make([]Health, 0, len(m.history))
	out = append(out, m.history[m.next:]...)
	return append(out, m.history[:m.next]...)
}

// Snapshot computes aggregate metrics from the registry right now.
func (m *Monitor) Snapshot() Metrics {
	total := m.src.Count()
	byTenant := m.src.TenantCounts()
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if total > m.peak {
		m.peak = total
		m.peakAt = now
	}
	return Metrics{
		TotalConnections:  total,
		TenantConnections: byTenant,
		PeakConnections:   m.peak,
		PeakAt:            m.peakAt,
		HourlyConnections: m.hourly,
		CollectedAt:       now,
	}
}

func (m *Monitor) collect() {
	s := m.Snapshot()
	m.mu.Lock()
	m.latest = &s
	m.mu.Unlock()
	log.Debug().Int("connections", s.TotalConnections).Int("tenants", len(s.TenantConnections)).Int("peak", s.PeakConnections).Msg("connection metrics collected")
}

// Latest returns the last periodic snapshot, or a fresh one before the first tick.
func (m *Monitor) Latest() Metrics {
	m.mu.Lock()
	latest := m.latest
	m.mu.Unlock()
	if latest == nil {
		return m.Snapshot()
	}
	return *latest
}

// ResetDaily clears the hourly histogram and the peak.
func (m *Monitor) ResetDaily() {
	m.mu.Lock()
	m.hourly = [24]int{}
	m.peak = 0
	m.peakAt = time.Time{}
	m.mu.Unlock()
	log.Info().Msg("daily connection statistics reset")
}

// Anomalies compares the current hour with the previous one and looks for a
// tenant holding an outsized share of all connections.
func (m *Monitor) Anomalies() []Anomaly {
	now := m.now()
	byTenant := m.src.TenantCounts()

	m.mu.Lock()
	cur := m.hourly[now.Hour()]
	prev := m.hourly[(now.Hour()+23)%24]
	m.mu.Unlock()

	out := []Anomaly{}
	if spike(prev, cur, m.cfg.SpikeFactor, m.cfg.SpikeFloor) {
		out = append(out, Anomaly{
			Kind:       AnomalySpike,
			Message:    fmt.Sprintf("connections rose from %d to %d within an hour", prev, cur),
			Value:      float64(cur) / float64(prev),
			DetectedAt: now,
		})
	}

	if tenant, share, ok := concentration(byTenant, m.cfg.ConcentrationMinTotal); ok && share > m.cfg.ConcentrationThreshold {
		out = append(out, Anomaly{
			Kind:       AnomalyConcentration,
			Message:    fmt.Sprintf("tenant %s holds %.0f%% of all connections", tenant, share*100),
			TenantID:   tenant,
			Value:      share,
			DetectedAt: now,
		})
	}
	return out
}

// spike reports cur > factor*prev with cur above floor. A previous hour with
// no samples never yields a spike.
func spike(prev, cur int, factor float64, floor int) bool {
	if prev <= 0 {
		return false
	}
	return float64(cur) > factor*float64(prev) && cur > floor
}

// concentration returns the largest tenant and its share of the total, or
// ok=false when the population is below minTotal.
func concentration(byTenant map[string]int, minTotal int) (string, float64, bool) {
	total, top, topN := 0, "", 0
	for _, tenant := range sortedTenants(byTenant) {
		n := byTenant[tenant]
		total += n
		if n > topN {
			top, topN = tenant, n
		}
	}
	if total == 0 || total < minTotal {
		return "", 0, false
	}
	return top, float64(topN) / float64(total), true
}

// TenantDetail lists the connections of one tenant and its share of the total.
func (m *Monitor) TenantDetail(tenantID string) TenantDetail {
	conns := m.src.ListByTenant(tenantID)
	sort.Slice(conns, func(i, j int) bool { return conns[i].ConnectedAt.Before(conns[j].ConnectedAt) })
	d := TenantDetail{TenantID: tenantID, Count: len(conns), Connections: conns}
	if total := m.src.Count(); total > 0 {
		d.Share = float64(len(conns)) / float64(total)
	}
	return d
}

// Sweep force-disconnects connections idle for longer than StaleAfter, at most
// SweepBatch per call. It returns how many were evicted.
func (m *Monitor) Sweep() int {
	cutoff := m.now().Add(-m.cfg.StaleAfter)
	evicted := m.src.EvictStale(cutoff, m.cfg.SweepBatch)
	if len(evicted) > 0 {
		metrics.StaleEvictions.Add(float64(len(evicted)))
		log.Info().Int("evicted", len(evicted)).Time("cutoff", cutoff).Msg("stale connection sweep")
	}
	return len(evicted)
}

func sortedTenants(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
