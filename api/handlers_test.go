/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Product creation, station mutations, and error status mapping
- The ship / receive / resolve round trip over HTTP
- Scenario loading (built-in JSON and uploaded YAML)
- Health and monitor endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/qurban-ledger/engine"
	"github.com/warp/qurban-ledger/engine/store"
	"github.com/warp/qurban-ledger/eventbus"
)

type testServer struct {
	h      *Handler
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(store.NewTxMemory(),
		engine.WithIDGenerator(&engine.SequenceGenerator{Prefix: "id"}),
	)
	h := NewHandler(eng, logger)
	return &testServer{h: h, router: NewRouter(h, []string{"http://localhost:*"})}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if _, raw := body.(string); !raw && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createProduct(t *testing.T, name string, weighed int) ProductDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/products", CreateProductRequest{Name: name, TargetPaket: 50})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decodeBody[ProductDTO](t, rec)
	if weighed > 0 {
		rec = s.do(t, http.MethodPost, "/api/products/"+p.ID+"/logs",
			AddProductLogRequest{Event: "add", Place: "WEIGH", Value: weighed})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		p = decodeBody[ProductDTO](t, rec)
	}
	return p
}

// =============================================================================
// PRODUCTS
// =============================================================================

func TestCreateProduct_AndGetWithAnalysis(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: A product weighed 12 times
	p := s.createProduct(t, "Sapi", 12)
	assert.Equal(t, 12, p.Kumulatif)
	assert.Equal(t, 12, p.DiTimbang)
	assert.Equal(t, "0.00", p.Progress)

	// WHEN: Fetching it
	rec := s.do(t, http.MethodGet, "/api/products/"+p.ID, nil)

	// THEN: Counters and a balanced analysis come back
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[ProductDetailDTO](t, rec)
	assert.Equal(t, "Sapi", detail.Product.Name)
	assert.True(t, detail.Analysis.Balanced)
	assert.Equal(t, 0, detail.Analysis.ExpectedInventori)

	list := decodeBody[[]ProductDTO](t, s.do(t, http.MethodGet, "/api/products", nil))
	assert.Len(t, list, 1)
}

func TestCreateProduct_Rejections(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"empty name", CreateProductRequest{Name: "  "}},
		{"negative target", CreateProductRequest{Name: "Sapi", TargetPaket: -1}},
		{"unknown field", map[string]any{"name": "Sapi", "target": 3}},
		{"empty body", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/products", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			f := decodeBody[engine.Failure](t, rec)
			assert.False(t, f.Success)
			assert.Equal(t, engine.KindValidation, f.ErrorKind)
		})
	}
}

func TestAddProductLog_StatusMapping(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, "Kambing", 3)

	tests := []struct {
		name   string
		path   string
		req    AddProductLogRequest
		status int
		kind   engine.Kind
	}{
		{
			name:   "over-move is insufficient stock",
			path:   "/api/products/" + p.ID + "/logs",
			req:    AddProductLogRequest{Event: "move", Place: "WEIGH", Value: 4},
			status: http.StatusUnprocessableEntity,
			kind:   engine.KindInsufficientStock,
		},
		{
			name:   "correct is not an operator event",
			path:   "/api/products/" + p.ID + "/logs",
			req:    AddProductLogRequest{Event: "correct", Place: "WEIGH", Value: 1},
			status: http.StatusBadRequest,
			kind:   engine.KindValidation,
		},
		{
			name:   "unknown place",
			path:   "/api/products/" + p.ID + "/logs",
			req:    AddProductLogRequest{Event: "add", Place: "KITCHEN", Value: 1},
			status: http.StatusBadRequest,
			kind:   engine.KindValidation,
		},
		{
			name:   "unknown product",
			path:   "/api/products/nope/logs",
			req:    AddProductLogRequest{Event: "add", Place: "WEIGH", Value: 1},
			status: http.StatusNotFound,
			kind:   engine.KindNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.kind, decodeBody[engine.Failure](t, rec).ErrorKind)
		})
	}

	// THEN: Nothing changed and only the initial add was logged
	logs := decodeBody[[]LogEntryDTO](t, s.do(t, http.MethodGet, "/api/products/"+p.ID+"/logs", nil))
	require.Len(t, logs, 1)
	assert.Equal(t, "add", logs[0].Event)
	assert.Equal(t, "di_timbang", logs[0].Counter)
}

func TestRecentLogs(t *testing.T) {
	s := newTestServer(t)
	s.createProduct(t, "Sapi", 2)
	s.createProduct(t, "Kambing", 5)

	rec := s.do(t, http.MethodGet, "/api/logs?limit=1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeBody[[]LogEntryDTO](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, 5, logs[0].Value)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/logs?limit=x", nil).Code)
}

// =============================================================================
// SHIPMENTS AND RESOLUTION
// =============================================================================

func TestShipReceiveResolve_RoundTrip(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: 100 weighed, 70 shipped
	p := s.createProduct(t, "Sapi", 100)
	rec := s.do(t, http.MethodPost, "/api/shipments", CreateShipmentRequest{
		LineItems: []QuantityRequest{{ProductID: p.ID, Quantity: 70}},
		Note:      "truk 1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sh := decodeBody[ShipmentDTO](t, rec)
	assert.Equal(t, "SENT", sh.Status)
	require.Len(t, sh.LineItems, 1)
	assert.Nil(t, sh.LineItems[0].QuantityReceived)

	// WHEN: Only 65 arrive
	rec = s.do(t, http.MethodPost, "/api/shipments/"+sh.ID+"/receive", ReceiveShipmentRequest{
		ReceivedLineItems: []QuantityRequest{{ProductID: p.ID, Quantity: 65}},
	})

	// THEN: The receipt commits with one discrepancy
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[ReceiveResultDTO](t, rec)
	assert.False(t, res.Success)
	assert.Equal(t, "RECEIVED", res.Shipment.Status)
	assert.NotNil(t, res.Shipment.ReceivedAt)
	require.Len(t, res.Discrepancies, 1)
	el := res.Discrepancies[0]
	assert.Equal(t, 70, el.QuantityExpected)
	assert.Equal(t, 65, el.QuantityActual)

	// AND: Analysis previews the three automatic strategies
	rec = s.do(t, http.MethodGet, "/api/error-logs/"+el.ID+"/analysis", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	an := decodeBody[ErrorLogAnalysisDTO](t, rec)
	assert.Equal(t, -5, an.Analysis.InventoryDelta)
	require.Len(t, an.Previews, 3)
	assert.Equal(t, "adjust-weighing", an.Previews[1].Strategy)
	assert.Equal(t, []CorrectionDTO{{Counter: "di_timbang", Value: 35}}, an.Previews[1].Corrections)

	// WHEN: Resolving by trusting inventory
	rec = s.do(t, http.MethodPost, "/api/error-logs/"+el.ID+"/resolve", ResolveRequest{
		Strategy: "adjust-weighing",
		Note:     "five recounted at the weighing station",
	})

	// THEN: WEIGH is corrected and the product balances
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fixed := decodeBody[ProductDTO](t, rec)
	assert.Equal(t, 35, fixed.DiTimbang)
	assert.Equal(t, 65, fixed.DiInventori)
	assert.True(t, fixed.Balanced)

	// AND: A second resolution is a conflict
	rec = s.do(t, http.MethodPost, "/api/error-logs/"+el.ID+"/resolve", ResolveRequest{
		Strategy: "adjust-weighing",
		Note:     "again",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	open := decodeBody[[]ErrorLogDTO](t, s.do(t, http.MethodGet, "/api/error-logs?unresolved=true", nil))
	assert.Empty(t, open)
	all := decodeBody[[]ErrorLogDTO](t, s.do(t, http.MethodGet, "/api/error-logs?productId="+p.ID, nil))
	require.Len(t, all, 1)
	assert.True(t, all[0].Resolved)
	assert.Equal(t, "adjust-weighing", all[0].Strategy)
}

func TestReceiveShipment_TwiceIsConflict(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, "Domba", 10)
	sh := decodeBody[ShipmentDTO](t, s.do(t, http.MethodPost, "/api/shipments", CreateShipmentRequest{
		LineItems: []QuantityRequest{{ProductID: p.ID, Quantity: 10}},
	}))
	body := ReceiveShipmentRequest{ReceivedLineItems: []QuantityRequest{{ProductID: p.ID, Quantity: 10}}}

	first := s.do(t, http.MethodPost, "/api/shipments/"+sh.ID+"/receive", body)
	second := s.do(t, http.MethodPost, "/api/shipments/"+sh.ID+"/receive", body)

	require.Equal(t, http.StatusOK, first.Code)
	assert.True(t, decodeBody[ReceiveResultDTO](t, first).Success)
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestCreateShipment_InsufficientStock(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, "Sapi", 5)

	rec := s.do(t, http.MethodPost, "/api/shipments", CreateShipmentRequest{
		LineItems: []QuantityRequest{{ProductID: p.ID, Quantity: 6}},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	list := decodeBody[[]ShipmentDTO](t, s.do(t, http.MethodGet, "/api/shipments", nil))
	assert.Empty(t, list)
}

func TestCancelShipment(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct(t, "Sapi", 8)
	sh := decodeBody[ShipmentDTO](t, s.do(t, http.MethodPost, "/api/shipments", CreateShipmentRequest{
		LineItems: []QuantityRequest{{ProductID: p.ID, Quantity: 8}},
	}))

	// WHEN: Cancelling without a note
	rec := s.do(t, http.MethodPost, "/api/shipments/"+sh.ID+"/cancel", CancelShipmentRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// WHEN: Cancelling with a note
	rec = s.do(t, http.MethodPost, "/api/shipments/"+sh.ID+"/cancel", CancelShipmentRequest{Note: "truck broke down"})

	// THEN: Stock is back at WEIGH
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decodeBody[ShipmentDTO](t, rec).Status)
	detail := decodeBody[ProductDetailDTO](t, s.do(t, http.MethodGet, "/api/products/"+p.ID, nil))
	assert.Equal(t, 8, detail.Product.DiTimbang)

	cancelled := decodeBody[[]ShipmentDTO](t, s.do(t, http.MethodGet, "/api/shipments?status=CANCELLED", nil))
	assert.Len(t, cancelled, 1)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/shipments?status=LOST", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/shipments/missing", nil).Code)
}

func TestResolveErrorLog_BadStrategy(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/error-logs/whatever/resolve", ResolveRequest{
		Strategy: "recount",
		Note:     "missing values",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[engine.Failure](t, rec).Message, "overrideValues")
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_ListAndLoadBuiltin(t *testing.T) {
	s := newTestServer(t)

	infos := decodeBody[[]map[string]string](t, s.do(t, http.MethodGet, "/api/scenarios", nil))
	require.NotEmpty(t, infos)

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "weigh-ship-receive"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[LoadScenarioResponse](t, rec)
	assert.Equal(t, "weigh-ship-receive", resp.Name)
	assert.Equal(t, "scenario weigh-ship-receive", resp.Trace[0])
	products := decodeBody[[]ProductDTO](t, s.do(t, http.MethodGet, "/api/products", nil))
	assert.NotEmpty(t, products)
}

func TestScenarios_LoadRejections(t *testing.T) {
	s := newTestServer(t)

	unknown := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, unknown.Code)

	badYAML := s.do(t, http.MethodPost, "/api/scenarios/load", "name: x\nsteps: [\n")
	assert.Equal(t, http.StatusBadRequest, badYAML.Code)
}

func TestScenarios_LoadYAMLUpload(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", `
name: upload
products:
  - {key: a, name: Kambing, target: 4}
steps:
  - add: {product: a, place: INVENTORY, value: 2}
`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "upload", decodeBody[LoadScenarioResponse](t, rec).Name)
}

// =============================================================================
// HEALTH AND MONITOR
// =============================================================================

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	s.h.Events = eventbus.New()

	rec := s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[HealthDTO](t, rec).Status)

	s.h.Store = pingFunc(func(context.Context) error { return errors.New("database is locked") })
	rec = s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "locked")
}

func TestMonitor_Endpoints(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/monitor", nil).Code)

	// GIVEN: An open discrepancy and a monitor clock an hour ahead
	s.h.Monitor = NewDiscrepancyMonitor(s.h.Engine, s.h.Logger)
	s.h.Monitor.Now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	p := s.createProduct(t, "Sapi", 10)
	sh := decodeBody[ShipmentDTO](t, s.do(t, http.MethodPost, "/api/shipments", CreateShipmentRequest{
		LineItems: []QuantityRequest{{ProductID: p.ID, Quantity: 10}},
	}))
	s.do(t, http.MethodPost, "/api/shipments/"+sh.ID+"/receive", ReceiveShipmentRequest{
		ReceivedLineItems: []QuantityRequest{{ProductID: p.ID, Quantity: 9}},
	})

	// WHEN: Running a check
	rec := s.do(t, http.MethodPost, "/api/monitor/run", nil)

	// THEN: The stale discrepancy is reported
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decodeBody[MonitorReportDTO](t, rec)
	assert.False(t, rep.Clean)
	require.Len(t, rep.StaleErrorLogs, 1)
	assert.Equal(t, 9, rep.StaleErrorLogs[0].QuantityActual)
	assert.Empty(t, rep.Drifted)

	last := decodeBody[MonitorReportDTO](t, s.do(t, http.MethodGet, "/api/monitor", nil))
	assert.Equal(t, rep.CheckedAt, last.CheckedAt)
}
