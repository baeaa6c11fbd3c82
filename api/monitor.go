/*
monitor.go - Background discrepancy monitor

PURPOSE:
  Periodically looks for reconciliation work that operators have left
  behind and reports it. The monitor never changes counters: choosing a
  resolution strategy is always a human decision.

WHAT IS REPORTED:
  - Open error logs older than StaleAfter
  - SENT shipments older than StaleAfter (not yet received or cancelled)
  - Drifted products: unbalanced with nothing in flight and no open
    error log to explain the gap

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Keeps the last report for GET /api/monitor

CONFIGURATION:
  - CheckInterval: How often to check (QURBAN_MONITOR_EVERY, 0 disables)
  - StaleAfter: Age threshold (QURBAN_STALE_AFTER)

USAGE:
  mon := NewDiscrepancyMonitor(eng, logger)
  mon.Start()
  // ... later
  mon.Stop()

SEE ALSO:
  - handlers.go: GetMonitorReport / RunMonitor endpoints
  - engine/resolver.go: Analysis used for drift detection
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/qurban-ledger/engine"
)

// MonitorReport is the result of one monitor check.
type MonitorReport struct {
	CheckedAt      time.Time
	StaleErrorLogs []engine.ErrorLog
	StaleShipments []engine.Shipment
	Drifted        []engine.Product
}

// Clean reports whether the check found nothing to follow up.
func (r MonitorReport) Clean() bool {
	return len(r.StaleErrorLogs) == 0 && len(r.StaleShipments) == 0 && len(r.Drifted) == 0
}

// DiscrepancyMonitor reports stale reconciliation work.
type DiscrepancyMonitor struct {
	Engine        *engine.Engine
	Logger        *slog.Logger
	CheckInterval time.Duration
	StaleAfter    time.Duration
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *MonitorReport
}

// NewDiscrepancyMonitor creates a monitor with a 5 minute interval and a
// 30 minute stale threshold.
func NewDiscrepancyMonitor(eng *engine.Engine, logger *slog.Logger) *DiscrepancyMonitor {
	return &DiscrepancyMonitor{
		Engine:        eng,
		Logger:        logger,
		CheckInterval: 5 * time.Minute,
		StaleAfter:    30 * time.Minute,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start begins periodic checks. A non-positive interval leaves the
// monitor stopped; RunNow still works.
func (m *DiscrepancyMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CheckInterval <= 0 {
		m.Logger.Info("monitor disabled")
		return
	}
	if m.ticker != nil {
		return
	}

	m.ticker = time.NewTicker(m.CheckInterval)
	m.stop = make(chan struct{})
	m.wg.Add(1)

	go m.run()

	m.Logger.Info("monitor started", "interval", m.CheckInterval, "staleAfter", m.StaleAfter)
}

// Stop stops periodic checks and waits for an in-progress check.
func (m *DiscrepancyMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.wg.Wait()
	m.ticker = nil
	m.Logger.Info("monitor stopped")
}

func (m *DiscrepancyMonitor) run() {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	m.RunNow(ctx)

	for {
		select {
		case <-m.ticker.C:
			m.RunNow(ctx)
		case <-m.stop:
			return
		}
	}
}

// RunNow performs a check immediately, stores and returns the report.
func (m *DiscrepancyMonitor) RunNow(ctx context.Context) (MonitorReport, error) {
	rep, err := m.Check(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.Logger.Error("monitor check failed", "err", err)
		}
		return MonitorReport{}, err
	}

	for _, el := range rep.StaleErrorLogs {
		m.Logger.Warn("discrepancy unresolved",
			"errorLog", el.ID, "product", el.ProductID, "shipment", el.ShipmentID,
			"expected", el.QuantityExpected, "actual", el.QuantityActual,
			"age", rep.CheckedAt.Sub(el.CreatedAt).Round(time.Second))
	}
	for _, s := range rep.StaleShipments {
		m.Logger.Warn("shipment still in flight",
			"shipment", s.ID, "items", len(s.LineItems),
			"age", rep.CheckedAt.Sub(s.CreatedAt).Round(time.Second))
	}
	for _, p := range rep.Drifted {
		a := engine.Analyze(p)
		m.Logger.Warn("counters drifted",
			"product", p.ID, "name", p.Name,
			"inventoryDelta", a.InventoryDelta, "cumulativeDelta", a.CumulativeDelta)
	}
	if rep.Clean() {
		m.Logger.Debug("monitor check clean")
	}

	m.lastMu.Lock()
	m.last = &rep
	m.lastMu.Unlock()
	return rep, nil
}

// Last returns the most recent report, if any check has run.
func (m *DiscrepancyMonitor) Last() (MonitorReport, bool) {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	if m.last == nil {
		return MonitorReport{}, false
	}
	return *m.last, true
}

// Check computes a report without logging or storing it.
func (m *DiscrepancyMonitor) Check(ctx context.Context) (MonitorReport, error) {
	now := m.Now()
	cutoff := now.Add(-m.StaleAfter)
	rep := MonitorReport{CheckedAt: now}

	open, err := m.Engine.ErrorLogs.List(ctx, engine.ErrorLogFilter{Unresolved: true})
	if err != nil {
		return MonitorReport{}, err
	}
	explained := make(map[engine.ProductID]bool)
	for _, el := range open {
		explained[el.ProductID] = true
		if el.CreatedAt.Before(cutoff) {
			rep.StaleErrorLogs = append(rep.StaleErrorLogs, el)
		}
	}

	sent, err := m.Engine.Shipments.Shipments(ctx, engine.ShipmentSent)
	if err != nil {
		return MonitorReport{}, err
	}
	for _, s := range sent {
		for _, li := range s.LineItems {
			explained[li.ProductID] = true
		}
		if s.CreatedAt.Before(cutoff) {
			rep.StaleShipments = append(rep.StaleShipments, s)
		}
	}

	products, err := m.Engine.Ledger.Products(ctx)
	if err != nil {
		return MonitorReport{}, err
	}
	for _, p := range products {
		if !explained[p.ID] && !p.Balanced() {
			rep.Drifted = append(rep.Drifted, p)
		}
	}
	return rep, nil
}
