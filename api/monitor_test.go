package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/qurban-ledger/engine"
	"github.com/warp/qurban-ledger/engine/store"
)

func newMonitor(t *testing.T, out io.Writer) (*DiscrepancyMonitor, *engine.Engine) {
	t.Helper()
	eng := engine.New(store.NewTxMemory())
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewDiscrepancyMonitor(eng, logger), eng
}

func TestMonitor_CleanWhenNothingIsOpen(t *testing.T) {
	m, eng := newMonitor(t, io.Discard)
	ctx := context.Background()
	p, err := eng.CreateProduct(ctx, "Sapi", 10)
	require.NoError(t, err)
	_, err = eng.AddProductLog(ctx, p.ID, engine.EventAdd, engine.PlaceWeigh, 4, "")
	require.NoError(t, err)

	rep, err := m.Check(ctx)

	require.NoError(t, err)
	assert.True(t, rep.Clean())
}

func TestMonitor_FreshWorkIsNotStale(t *testing.T) {
	// GIVEN: A shipment sent just now
	m, eng := newMonitor(t, io.Discard)
	ctx := context.Background()
	p, err := eng.CreateProduct(ctx, "Sapi", 10)
	require.NoError(t, err)
	_, err = eng.AddProductLog(ctx, p.ID, engine.EventAdd, engine.PlaceWeigh, 4, "")
	require.NoError(t, err)
	_, err = eng.CreateShipment(ctx, []engine.ShipmentItem{{ProductID: p.ID, Quantity: 4}}, "")
	require.NoError(t, err)

	// WHEN: Checking with the default threshold
	rep, err := m.Check(ctx)

	// THEN: Nothing is reported yet, and in-flight stock is not drift
	require.NoError(t, err)
	assert.Empty(t, rep.StaleShipments)
	assert.Empty(t, rep.Drifted)

	// WHEN: The clock passes the threshold
	m.Now = func() time.Time { return time.Now().UTC().Add(31 * time.Minute) }
	rep, err = m.Check(ctx)

	// THEN: The shipment is stale
	require.NoError(t, err)
	require.Len(t, rep.StaleShipments, 1)
	assert.Equal(t, engine.ShipmentSent, rep.StaleShipments[0].Status)
}

func TestMonitor_ReportsDriftAfterManualResolution(t *testing.T) {
	// GIVEN: A discrepancy closed with a manual value that does not balance
	var logs bytes.Buffer
	m, eng := newMonitor(t, &logs)
	ctx := context.Background()
	p, err := eng.CreateProduct(ctx, "Kambing", 10)
	require.NoError(t, err)
	_, err = eng.AddProductLog(ctx, p.ID, engine.EventAdd, engine.PlaceWeigh, 10, "")
	require.NoError(t, err)
	sh, err := eng.CreateShipment(ctx, []engine.ShipmentItem{{ProductID: p.ID, Quantity: 10}}, "")
	require.NoError(t, err)
	res, err := eng.ReceiveShipment(ctx, sh.ID, []engine.ReceivedItem{{ProductID: p.ID, Quantity: 8}})
	require.NoError(t, err)
	require.Len(t, res.Discrepancies, 1)
	seven := 7
	_, err = eng.ResolveDiscrepancy(ctx, res.Discrepancies[0].ID, engine.Manual{DiInventori: &seven}, "head count")
	require.NoError(t, err)

	// WHEN: Running the monitor
	rep, err := m.RunNow(ctx)

	// THEN: The product is reported as drifted and logged
	require.NoError(t, err)
	require.Len(t, rep.Drifted, 1)
	assert.Equal(t, p.ID, rep.Drifted[0].ID)
	assert.Contains(t, logs.String(), "counters drifted")
	assert.Contains(t, logs.String(), "cumulativeDelta=-3")

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, rep.CheckedAt, last.CheckedAt)
}

func TestMonitor_StartStop(t *testing.T) {
	m, _ := newMonitor(t, io.Discard)
	m.CheckInterval = 10 * time.Millisecond

	m.Start()
	require.Eventually(t, func() bool {
		_, ok := m.Last()
		return ok
	}, time.Second, 5*time.Millisecond)
	m.Stop()

	// Stop is idempotent
	m.Stop()
}

func TestMonitor_DisabledDoesNotRun(t *testing.T) {
	m, _ := newMonitor(t, io.Discard)
	m.CheckInterval = 0

	m.Start()
	defer m.Stop()

	_, ok := m.Last()
	assert.False(t, ok)
}
