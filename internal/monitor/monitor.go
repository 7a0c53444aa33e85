// ABOUTME: ActivityMonitor core: pair lifecycle, mailbox dispatch, periodic collection
// ABOUTME: Serializes all mutation per pair while different pairs run in parallel

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/pairwatch/internal/anomaly"
	"github.com/2389/pairwatch/internal/fanout"
	"github.com/2389/pairwatch/internal/metrics"
	"github.com/2389/pairwatch/internal/store"
)

var (
	// ErrPairNotFound is returned for operations on an uninitialized pair.
	ErrPairNotFound = errors.New("pair not initialized")

	// ErrUnknownAgent is returned when a report names an agent outside the pair.
	ErrUnknownAgent = errors.New("agent is not part of this pair")

	// ErrUnknownCommand is returned for unrecognized command kinds. No event
	// is recorded for these.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrClosed is returned once the monitor has shut down.
	ErrClosed = errors.New("monitor closed")
)

// defaultCollectionInterval drives the periodic correlate/anomaly/window tick.
const defaultCollectionInterval = 60 * time.Second

// defaultCorrelationWindowMinutes is the lookback used by the automatic
// synchrony recalculation after each activity report and on each tick.
const defaultCorrelationWindowMinutes = 5

// Monitor tracks collaboration health for agent pairs. Each pair's state is
// owned by a dedicated mailbox goroutine; public methods enqueue work there
// and wait for the result.
type Monitor struct {
	store      store.Storage
	engine     *anomaly.Engine
	fan        *fanout.Fanout
	aggregator *metrics.Aggregator
	logger     *slog.Logger
	interval   time.Duration
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	collectorOnce sync.Once

	mu    sync.Mutex
	pairs map[string]*pairState
}

// Options configures a Monitor. Zero values select defaults.
type Options struct {
	CollectionInterval time.Duration
}

// New creates a Monitor. The storage, engine, fanout, and aggregator are
// required collaborators; logger may be nil.
func New(st store.Storage, engine *anomaly.Engine, fan *fanout.Fanout, aggregator *metrics.Aggregator, logger *slog.Logger, opts Options) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.CollectionInterval
	if interval <= 0 {
		interval = defaultCollectionInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		store:      st,
		engine:     engine,
		fan:        fan,
		aggregator: aggregator,
		logger:     logger.With("component", "monitor"),
		interval:   interval,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		pairs:      make(map[string]*pairState),
	}
}

// Initialize creates or loads the status for an agent pair. Idempotent:
// repeated calls (in either agent order) return the same pair. The first
// call starts the periodic collector.
func (m *Monitor) Initialize(ctx context.Context, agentA, agentB string) (*store.CollaborationStatus, error) {
	if agentA == "" || agentB == "" {
		return nil, fmt.Errorf("both agent ids are required")
	}
	if agentA == agentB {
		return nil, fmt.Errorf("a pair requires two distinct agents")
	}

	key := PairKey(agentA, agentB)

	m.mu.Lock()
	p, exists := m.pairs[key]
	m.mu.Unlock()

	if !exists {
		status, err := m.loadOrCreateStatus(ctx, key, agentA, agentB)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		// Another caller may have raced us here; the first one in wins.
		if existing, ok := m.pairs[key]; ok {
			p = existing
		} else {
			p = &pairState{
				status:  status,
				mailbox: make(chan func(), mailboxSize),
			}
			m.pairs[key] = p
			m.wg.Add(1)
			go m.runPair(p)
			m.logger.Info("pair initialized",
				"pair_id", key, "agent_a", status.AgentA, "agent_b", status.AgentB)
		}
		m.mu.Unlock()
	}

	m.collectorOnce.Do(func() {
		m.wg.Add(1)
		go m.runCollector()
	})

	var snapshot *store.CollaborationStatus
	err := m.withPair(ctx, key, func(p *pairState) error {
		snapshot = p.status.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (m *Monitor) loadOrCreateStatus(ctx context.Context, key, agentA, agentB string) (*store.CollaborationStatus, error) {
	status, err := m.store.LoadStatus(ctx, key)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading pair status: %w", err)
	}

	a, b := sortAgents(agentA, agentB)
	now := m.now().UTC()
	status = &store.CollaborationStatus{
		PairID:            key,
		AgentA:            a,
		AgentB:            b,
		IntegrityA:        100,
		IntegrityB:        100,
		Phase:             store.PhaseIndependent,
		ConflictLevel:     store.ConflictNone,
		OrchestrationMode: store.ModeManual,
		UpdatedAt:         now,
	}
	if err := m.store.SaveStatus(ctx, status); err != nil {
		m.logger.Warn("failed to persist new pair status", "pair_id", key, "error", err)
	}
	return status, nil
}

// Status returns a snapshot of the pair's live status.
func (m *Monitor) Status(ctx context.Context, pairID string) (*store.CollaborationStatus, error) {
	var snapshot *store.CollaborationStatus
	err := m.withPair(ctx, pairID, func(p *pairState) error {
		snapshot = p.status.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Pairs lists the IDs of all initialized pairs.
func (m *Monitor) Pairs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pairs))
	for id := range m.pairs {
		ids = append(ids, id)
	}
	return ids
}

// ConflictsLastHour reports the pair's conflict count over the trailing
// hour. The persisted event log is authoritative so the count survives
// restarts; the in-memory ring covers a store outage.
func (m *Monitor) ConflictsLastHour(ctx context.Context, pairID string) (int, error) {
	var n int
	err := m.withPair(ctx, pairID, func(p *pairState) error {
		since := m.now().Add(-time.Hour)
		count, err := m.store.CountEventsByTypePrefix(ctx, pairID, EventConflictDetected, since)
		if err != nil {
			m.logger.Warn("conflict count query failed, using in-memory window",
				"pair_id", pairID, "error", err)
			count = countSince(p.conflicts, since)
		}
		n = count
		return nil
	})
	return n, err
}

// withPair runs fn inside the pair's mailbox and waits for it to finish.
func (m *Monitor) withPair(ctx context.Context, pairID string, fn func(*pairState) error) error {
	m.mu.Lock()
	p, ok := m.pairs[pairID]
	m.mu.Unlock()
	if !ok {
		return ErrPairNotFound
	}

	errCh := make(chan error, 1)
	select {
	case p.mailbox <- func() { errCh <- fn(p) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrClosed
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrClosed
	}
}

// runPair drains one pair's mailbox until the monitor shuts down.
func (m *Monitor) runPair(p *pairState) {
	defer m.wg.Done()
	for {
		select {
		case fn := <-p.mailbox:
			fn()
		case <-m.ctx.Done():
			return
		}
	}
}

// runCollector drives the periodic tick for every pair.
func (m *Monitor) runCollector() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.collect()
		case <-m.ctx.Done():
			return
		}
	}
}

// collect enqueues a tick on every pair. Collection failures are logged
// and never interrupt the collector.
func (m *Monitor) collect() {
	for _, pairID := range m.Pairs() {
		err := m.withPair(m.ctx, pairID, func(p *pairState) error {
			m.tickPair(p)
			return nil
		})
		if err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Warn("periodic collection failed", "pair_id", pairID, "error", err)
		}
	}
}

// tickPair runs one collection cycle inside the pair's mailbox: recompute
// synchrony, evaluate anomalies, persist aggregate windows.
func (m *Monitor) tickPair(p *pairState) {
	now := m.now().UTC()
	p.trimBefore(now.Add(-sampleRetention))

	m.correlateLocked(p, defaultCorrelationWindowMinutes, now)
	m.evaluateAnomaliesLocked(p, now)
	m.appendWindowsLocked(p, now)

	if err := m.store.SaveStatus(m.ctx, p.status); err != nil {
		m.logger.Warn("failed to persist status on tick",
			"pair_id", p.status.PairID, "error", err)
	}
}

// appendWindowsLocked writes the minute and hour aggregate buckets.
func (m *Monitor) appendWindowsLocked(p *pairState, now time.Time) {
	for _, windowType := range []store.WindowType{store.WindowMinute, store.WindowHour} {
		granularity := time.Minute
		if windowType == store.WindowHour {
			granularity = time.Hour
		}
		start := now.Truncate(granularity)

		countA, countB := p.countsSince(start)
		window := &store.MetricsWindow{
			PairID:            p.status.PairID,
			WindowType:        windowType,
			WindowStart:       start,
			MessagesTotal:     countA + countB,
			MessagesA:         countA,
			MessagesB:         countB,
			EventCount:        countSince(p.events, start),
			ConflictCount:     countSince(p.conflicts, start),
			AvgSynchrony:      p.status.SynchronyScore,
			AvgLatencyA:       p.status.LatencyA,
			AvgLatencyB:       p.status.LatencyB,
			IntegrityFailures: countSince(p.integrityFailures, start),
		}
		if err := m.store.AppendMetricsWindow(m.ctx, window); err != nil {
			m.logger.Warn("failed to append metrics window",
				"pair_id", p.status.PairID, "window_type", windowType, "error", err)
		}
	}
}

// evaluateAnomaliesLocked runs detection and publishes anything that fired.
// Detection failures never propagate.
func (m *Monitor) evaluateAnomaliesLocked(p *pairState, now time.Time) {
	conflicts := countSince(p.conflicts, now.Add(-time.Hour))
	result := m.engine.Evaluate(p.status, conflicts, now)

	if result.EscalateConflict {
		p.status.ConflictLevel = store.ConflictHigh
	}

	for _, record := range result.Anomalies {
		record.Notified = true
		if err := m.store.AppendAnomaly(m.ctx, record); err != nil {
			m.logger.Warn("failed to persist anomaly",
				"pair_id", record.PairID, "type", record.Type, "error", err)
		}
		m.fan.Publish(fanout.Event{
			Type:           fanout.TypeAnomalyDetected,
			Data:           record,
			Timestamp:      now,
			Severity:       string(record.Severity),
			RequiresAction: record.Severity == store.SeverityHigh || record.Severity == store.SeverityCritical,
		})
	}
}

// Close stops the collector and all pair mailboxes, then waits for them.
func (m *Monitor) Close() {
	m.cancel()
	m.wg.Wait()
}
