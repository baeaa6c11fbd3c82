// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/qurban-ledger/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	products  map[engine.ProductID]engine.Product
	order     []engine.ProductID
	logs      []engine.ProductLogEntry
	shipments map[engine.ShipmentID]engine.Shipment
	shipOrder []engine.ShipmentID
	errorLogs map[engine.ErrorLogID]engine.ErrorLog
	elOrder   []engine.ErrorLogID
}

func NewMemory() *Memory {
	return &Memory{
		products:  make(map[engine.ProductID]engine.Product),
		shipments: make(map[engine.ShipmentID]engine.Shipment),
		errorLogs: make(map[engine.ErrorLogID]engine.ErrorLog),
	}
}

func (m *Memory) CreateProduct(_ context.Context, p engine.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createProductLocked(p)
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id engine.ProductID) (engine.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProductLocked(id)
}

func (m *Memory) ListProducts(_ context.Context) ([]engine.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listProductsLocked(), nil
}

func (m *Memory) IncrementCounters(_ context.Context, id engine.ProductID, amount int, counters ...engine.Counter) (engine.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrementLocked(id, amount, counters)
}

func (m *Memory) DecrementCounter(_ context.Context, id engine.ProductID, c engine.Counter, amount int) (engine.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrementLocked(id, c, amount)
}

func (m *Memory) SetCounter(_ context.Context, id engine.ProductID, c engine.Counter, value int) (engine.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(id, c, value)
}

func (m *Memory) AppendLog(_ context.Context, e engine.ProductLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, e)
	return nil
}

func (m *Memory) LoadLogs(_ context.Context, id engine.ProductID) ([]engine.ProductLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLogsLocked(id), nil
}

func (m *Memory) RecentLogs(_ context.Context, limit int) ([]engine.ProductLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recentLogsLocked(limit), nil
}

func (m *Memory) CreateShipment(_ context.Context, s engine.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shipments[s.ID] = copyShipment(s)
	m.shipOrder = append(m.shipOrder, s.ID)
	return nil
}

func (m *Memory) GetShipment(_ context.Context, id engine.ShipmentID) (engine.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getShipmentLocked(id)
}

func (m *Memory) UpdateShipment(_ context.Context, s engine.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateShipmentLocked(s)
}

func (m *Memory) ListShipments(_ context.Context, status engine.ShipmentStatus) ([]engine.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listShipmentsLocked(status), nil
}

func (m *Memory) CreateErrorLog(_ context.Context, e engine.ErrorLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErrorLogLocked(e)
	return nil
}

func (m *Memory) GetErrorLog(_ context.Context, id engine.ErrorLogID) (engine.ErrorLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getErrorLogLocked(id)
}

func (m *Memory) UpdateErrorLog(_ context.Context, e engine.ErrorLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateErrorLogLocked(e)
}

func (m *Memory) ListErrorLogs(_ context.Context, f engine.ErrorLogFilter) ([]engine.ErrorLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listErrorLogsLocked(f), nil
}

// =============================================================================
// LOCKED HELPERS - callers hold m.mu
// =============================================================================

func (m *Memory) createProductLocked(p engine.Product) {
	if _, exists := m.products[p.ID]; !exists {
		m.order = append(m.order, p.ID)
	}
	m.products[p.ID] = p
}

func (m *Memory) getProductLocked(id engine.ProductID) (engine.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return engine.Product{}, engine.ProductNotFound(id)
	}
	return p, nil
}

func (m *Memory) listProductsLocked() []engine.Product {
	out := make([]engine.Product, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.products[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Memory) incrementLocked(id engine.ProductID, amount int, counters []engine.Counter) (engine.Product, error) {
	p, err := m.getProductLocked(id)
	if err != nil {
		return engine.Product{}, err
	}
	for _, c := range counters {
		p = p.Set(c, p.Get(c)+amount)
	}
	return m.saveLocked(p), nil
}

func (m *Memory) decrementLocked(id engine.ProductID, c engine.Counter, amount int) (engine.Product, error) {
	p, err := m.getProductLocked(id)
	if err != nil {
		return engine.Product{}, err
	}
	if p.Get(c) < amount {
		return engine.Product{}, &engine.InsufficientStockError{
			ProductID: id,
			Counter:   c,
			Available: p.Get(c),
			Requested: amount,
		}
	}
	return m.saveLocked(p.Set(c, p.Get(c)-amount)), nil
}

func (m *Memory) setLocked(id engine.ProductID, c engine.Counter, value int) (engine.Product, error) {
	p, err := m.getProductLocked(id)
	if err != nil {
		return engine.Product{}, err
	}
	return m.saveLocked(p.Set(c, value)), nil
}

func (m *Memory) saveLocked(p engine.Product) engine.Product {
	p.UpdatedAt = time.Now().UTC()
	m.products[p.ID] = p
	return p
}

func (m *Memory) loadLogsLocked(id engine.ProductID) []engine.ProductLogEntry {
	var out []engine.ProductLogEntry
	for _, e := range m.logs {
		if e.ProductID == id {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) recentLogsLocked(limit int) []engine.ProductLogEntry {
	out := make([]engine.ProductLogEntry, 0, limit)
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.logs[i])
	}
	return out
}

func (m *Memory) getShipmentLocked(id engine.ShipmentID) (engine.Shipment, error) {
	s, ok := m.shipments[id]
	if !ok {
		return engine.Shipment{}, engine.ShipmentNotFound(id)
	}
	return copyShipment(s), nil
}

func (m *Memory) updateShipmentLocked(s engine.Shipment) error {
	if _, ok := m.shipments[s.ID]; !ok {
		return engine.ShipmentNotFound(s.ID)
	}
	m.shipments[s.ID] = copyShipment(s)
	return nil
}

func (m *Memory) listShipmentsLocked(status engine.ShipmentStatus) []engine.Shipment {
	var out []engine.Shipment
	for _, id := range m.shipOrder {
		s := m.shipments[id]
		if status == "" || s.Status == status {
			out = append(out, copyShipment(s))
		}
	}
	return out
}

func (m *Memory) createErrorLogLocked(e engine.ErrorLog) {
	m.errorLogs[e.ID] = e
	m.elOrder = append(m.elOrder, e.ID)
}

func (m *Memory) getErrorLogLocked(id engine.ErrorLogID) (engine.ErrorLog, error) {
	e, ok := m.errorLogs[id]
	if !ok {
		return engine.ErrorLog{}, engine.ErrorLogNotFound(id)
	}
	return e, nil
}

func (m *Memory) updateErrorLogLocked(e engine.ErrorLog) error {
	if _, ok := m.errorLogs[e.ID]; !ok {
		return engine.ErrorLogNotFound(e.ID)
	}
	m.errorLogs[e.ID] = e
	return nil
}

func (m *Memory) listErrorLogsLocked(f engine.ErrorLogFilter) []engine.ErrorLog {
	var out []engine.ErrorLog
	for _, id := range m.elOrder {
		e := m.errorLogs[id]
		if f.ProductID != nil && e.ProductID != *f.ProductID {
			continue
		}
		if f.ShipmentID != nil && e.ShipmentID != *f.ShipmentID {
			continue
		}
		if f.Unresolved && e.Resolved {
			continue
		}
		out = append(out, e)
	}
	return out
}

func copyShipment(s engine.Shipment) engine.Shipment {
	items := make([]engine.LineItem, len(s.LineItems))
	for i, li := range s.LineItems {
		items[i] = li
		if li.QuantityReceived != nil {
			q := *li.QuantityReceived
			items[i].QuantityReceived = &q
		}
	}
	s.LineItems = items
	return s
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	products  map[engine.ProductID]engine.Product
	order     []engine.ProductID
	logs      []engine.ProductLogEntry
	shipments map[engine.ShipmentID]engine.Shipment
	shipOrder []engine.ShipmentID
	errorLogs map[engine.ErrorLogID]engine.ErrorLog
	elOrder   []engine.ErrorLogID
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		products:  make(map[engine.ProductID]engine.Product, len(tm.products)),
		order:     append([]engine.ProductID{}, tm.order...),
		logs:      append([]engine.ProductLogEntry{}, tm.logs...),
		shipments: make(map[engine.ShipmentID]engine.Shipment, len(tm.shipments)),
		shipOrder: append([]engine.ShipmentID{}, tm.shipOrder...),
		errorLogs: make(map[engine.ErrorLogID]engine.ErrorLog, len(tm.errorLogs)),
		elOrder:   append([]engine.ErrorLogID{}, tm.elOrder...),
	}
	for k, v := range tm.products {
		s.products[k] = v
	}
	for k, v := range tm.shipments {
		s.shipments[k] = copyShipment(v)
	}
	for k, v := range tm.errorLogs {
		s.errorLogs[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.products = s.products
	tm.order = s.order
	tm.logs = s.logs
	tm.shipments = s.shipments
	tm.shipOrder = s.shipOrder
	tm.errorLogs = s.errorLogs
	tm.elOrder = s.elOrder
}

// txMemoryView runs inside WithTx; the parent lock is already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CreateProduct(_ context.Context, p engine.Product) error {
	tv.parent.createProductLocked(p)
	return nil
}

func (tv *txMemoryView) GetProduct(_ context.Context, id engine.ProductID) (engine.Product, error) {
	return tv.parent.getProductLocked(id)
}

func (tv *txMemoryView) ListProducts(_ context.Context) ([]engine.Product, error) {
	return tv.parent.listProductsLocked(), nil
}

func (tv *txMemoryView) IncrementCounters(_ context.Context, id engine.ProductID, amount int, counters ...engine.Counter) (engine.Product, error) {
	return tv.parent.incrementLocked(id, amount, counters)
}

func (tv *txMemoryView) DecrementCounter(_ context.Context, id engine.ProductID, c engine.Counter, amount int) (engine.Product, error) {
	return tv.parent.decrementLocked(id, c, amount)
}

func (tv *txMemoryView) SetCounter(_ context.Context, id engine.ProductID, c engine.Counter, value int) (engine.Product, error) {
	return tv.parent.setLocked(id, c, value)
}

func (tv *txMemoryView) AppendLog(_ context.Context, e engine.ProductLogEntry) error {
	tv.parent.logs = append(tv.parent.logs, e)
	return nil
}

func (tv *txMemoryView) LoadLogs(_ context.Context, id engine.ProductID) ([]engine.ProductLogEntry, error) {
	return tv.parent.loadLogsLocked(id), nil
}

func (tv *txMemoryView) RecentLogs(_ context.Context, limit int) ([]engine.ProductLogEntry, error) {
	return tv.parent.recentLogsLocked(limit), nil
}

func (tv *txMemoryView) CreateShipment(_ context.Context, s engine.Shipment) error {
	tv.parent.shipments[s.ID] = copyShipment(s)
	tv.parent.shipOrder = append(tv.parent.shipOrder, s.ID)
	return nil
}

func (tv *txMemoryView) GetShipment(_ context.Context, id engine.ShipmentID) (engine.Shipment, error) {
	return tv.parent.getShipmentLocked(id)
}

func (tv *txMemoryView) UpdateShipment(_ context.Context, s engine.Shipment) error {
	return tv.parent.updateShipmentLocked(s)
}

func (tv *txMemoryView) ListShipments(_ context.Context, status engine.ShipmentStatus) ([]engine.Shipment, error) {
	return tv.parent.listShipmentsLocked(status), nil
}

func (tv *txMemoryView) CreateErrorLog(_ context.Context, e engine.ErrorLog) error {
	tv.parent.createErrorLogLocked(e)
	return nil
}

func (tv *txMemoryView) GetErrorLog(_ context.Context, id engine.ErrorLogID) (engine.ErrorLog, error) {
	return tv.parent.getErrorLogLocked(id)
}

func (tv *txMemoryView) UpdateErrorLog(_ context.Context, e engine.ErrorLog) error {
	return tv.parent.updateErrorLogLocked(e)
}

func (tv *txMemoryView) ListErrorLogs(_ context.Context, f engine.ErrorLogFilter) ([]engine.ErrorLog, error) {
	return tv.parent.listErrorLogsLocked(f), nil
}
