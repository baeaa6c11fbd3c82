/*
sqlite_test.go - Tests for the SQLite store

Tests for:
- Atomic counter increments and guarded decrements
- Transaction rollback
- Append-only product log
- Shipment and error log round trips through the engine
*/
package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/qurban-ledger/engine"
	"github.com/warp/qurban-ledger/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedProduct(t *testing.T, store *sqlite.Store, id engine.ProductID) {
	t.Helper()
	now := time.Date(2026, 6, 16, 6, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateProduct(context.Background(), engine.Product{
		ID:          id,
		Name:        "Sapi " + string(id),
		TargetPaket: 100,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
}

// =============================================================================
// COUNTERS
// =============================================================================

func TestIncrementCounters_AddsToEveryNamedCounter(t *testing.T) {
	// GIVEN: A fresh product
	store := newStore(t)
	ctx := context.Background()
	seedProduct(t, store, "p1")

	// WHEN: Adding 10 to di_timbang and kumulatif
	p, err := store.IncrementCounters(ctx, "p1", 10, engine.CounterWeigh, engine.CounterCumulative)

	// THEN: Both move, inventory does not
	require.NoError(t, err)
	assert.Equal(t, 10, p.DiTimbang)
	assert.Equal(t, 10, p.Kumulatif)
	assert.Equal(t, 0, p.DiInventori)
}

func TestIncrementCounters_UnknownProduct(t *testing.T) {
	store := newStore(t)

	_, err := store.IncrementCounters(context.Background(), "missing", 1, engine.CounterWeigh)

	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestDecrementCounter_InsufficientStock(t *testing.T) {
	// GIVEN: di_timbang = 5
	store := newStore(t)
	ctx := context.Background()
	seedProduct(t, store, "p1")
	_, err := store.IncrementCounters(ctx, "p1", 5, engine.CounterWeigh, engine.CounterCumulative)
	require.NoError(t, err)

	// WHEN: Moving 6
	_, err = store.DecrementCounter(ctx, "p1", engine.CounterWeigh, 6)

	// THEN: Rejected with the available amount, nothing changed
	var stock *engine.InsufficientStockError
	require.True(t, errors.As(err, &stock))
	assert.Equal(t, 5, stock.Available)
	assert.Equal(t, 6, stock.Requested)

	p, err := store.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.DiTimbang)
}

func TestDecrementCounter_UnknownProduct(t *testing.T) {
	store := newStore(t)

	_, err := store.DecrementCounter(context.Background(), "missing", engine.CounterWeigh, 1)

	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestSetCounter_Overwrites(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedProduct(t, store, "p1")

	p, err := store.SetCounter(ctx, "p1", engine.CounterInventory, 42)

	require.NoError(t, err)
	assert.Equal(t, 42, p.DiInventori)
}

func TestConcurrentAdds_NoLostUpdates(t *testing.T) {
	// GIVEN: A file database shared by many goroutines
	store, err := sqlite.New(filepath.Join(t.TempDir(), "qurban.db"))
	require.NoError(t, err)
	defer store.Close()
	seedProduct(t, store, "p1")
	eng := engine.New(store)

	// WHEN: 50 operators each add 1 at the weighing station
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.AddProductLog(context.Background(), "p1", engine.EventAdd, engine.PlaceWeigh, 1, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// THEN: Every add is reflected and logged
	p, err := store.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 50, p.DiTimbang)
	assert.Equal(t, 50, p.Kumulatif)

	logs, err := store.LoadLogs(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, logs, 50)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A product
	store := newStore(t)
	ctx := context.Background()
	seedProduct(t, store, "p1")
	boom := errors.New("boom")

	// WHEN: A transaction increments then fails
	err := store.WithTx(ctx, func(s engine.Store) error {
		if _, err := s.IncrementCounters(ctx, "p1", 10, engine.CounterWeigh); err != nil {
			return err
		}
		return boom
	})

	// THEN: The increment is gone
	assert.ErrorIs(t, err, boom)
	p, err := store.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.DiTimbang)
}

func TestProductLogs_AppendOnly(t *testing.T) {
	// GIVEN: One log row
	store := newStore(t)
	ctx := context.Background()
	seedProduct(t, store, "p1")
	require.NoError(t, store.AppendLog(ctx, engine.ProductLogEntry{
		ID: "log-1", ProductID: "p1", Event: engine.EventAdd, Place: engine.PlaceWeigh,
		Counter: engine.CounterWeigh, Value: 3, Timestamp: time.Now(),
	}))

	// WHEN/THEN: Updates and deletes are refused by the database
	_, err := store.Exec(ctx, `UPDATE product_logs SET value = 99 WHERE id = 'log-1'`)
	assert.ErrorContains(t, err, "append-only")
	_, err = store.Exec(ctx, `DELETE FROM product_logs WHERE id = 'log-1'`)
	assert.ErrorContains(t, err, "append-only")

	logs, err := store.LoadLogs(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 3, logs[0].Value)
}

func TestRecentLogs_NewestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedProduct(t, store, "p1")
	for i, id := range []engine.LogEntryID{"a", "b", "c"} {
		require.NoError(t, store.AppendLog(ctx, engine.ProductLogEntry{
			ID: id, ProductID: "p1", Event: engine.EventAdd, Place: engine.PlaceWeigh,
			Counter: engine.CounterWeigh, Value: i + 1, Timestamp: time.Now(),
		}))
	}

	logs, err := store.RecentLogs(ctx, 2)

	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, engine.LogEntryID("c"), logs[0].ID)
	assert.Equal(t, engine.LogEntryID("b"), logs[1].ID)
}

// =============================================================================
// SHIPMENTS AND ERROR LOGS
// =============================================================================

func TestShipmentLifecycle_PersistsThroughEngine(t *testing.T) {
	// GIVEN: 100 weighed
	store := newStore(t)
	ctx := context.Background()
	eng := engine.New(store, engine.WithIDGenerator(&engine.SequenceGenerator{Prefix: "id"}))
	p, err := eng.CreateProduct(ctx, "Sapi Limosin", 150)
	require.NoError(t, err)
	_, err = eng.AddProductLog(ctx, p.ID, engine.EventAdd, engine.PlaceWeigh, 100, "")
	require.NoError(t, err)

	// WHEN: 70 shipped, 65 received
	sh, err := eng.CreateShipment(ctx, []engine.ShipmentItem{{ProductID: p.ID, Quantity: 70}}, "truk 1")
	require.NoError(t, err)
	res, err := eng.ReceiveShipment(ctx, sh.ID, []engine.ReceivedItem{{ProductID: p.ID, Quantity: 65}})
	require.NoError(t, err)

	// THEN: The stored shipment carries the received quantity and status
	got, err := store.GetShipment(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.ShipmentReceived, got.Status)
	require.NotNil(t, got.ReceivedAt)
	require.Len(t, got.LineItems, 1)
	require.NotNil(t, got.LineItems[0].QuantityReceived)
	assert.Equal(t, 65, *got.LineItems[0].QuantityReceived)

	received, err := store.ListShipments(ctx, engine.ShipmentReceived)
	require.NoError(t, err)
	assert.Len(t, received, 1)
	sent, err := store.ListShipments(ctx, engine.ShipmentSent)
	require.NoError(t, err)
	assert.Empty(t, sent)

	// AND: One open error log
	require.Len(t, res.Discrepancies, 1)
	open, err := store.ListErrorLogs(ctx, engine.ErrorLogFilter{Unresolved: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 70, open[0].QuantityExpected)
	assert.Equal(t, 65, open[0].QuantityActual)

	// WHEN: Resolved by adjusting the weighing counter
	p, err = eng.ResolveDiscrepancy(ctx, open[0].ID, engine.AdjustWeighing{}, "lost on the road")
	require.NoError(t, err)
	assert.Equal(t, 35, p.DiTimbang)

	// THEN: The error log is closed with the strategy recorded
	el, err := store.GetErrorLog(ctx, open[0].ID)
	require.NoError(t, err)
	assert.True(t, el.Resolved)
	assert.Equal(t, engine.StrategyAdjustWeighing, el.Strategy)
	assert.Equal(t, "lost on the road", el.ResolutionNote)
	require.NotNil(t, el.ResolvedAt)

	open, err = store.ListErrorLogs(ctx, engine.ErrorLogFilter{Unresolved: true})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestGetShipment_NotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.GetShipment(context.Background(), "nope")

	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestGetErrorLog_NotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.GetErrorLog(context.Background(), "nope")

	assert.ErrorIs(t, err, engine.ErrNotFound)
}
