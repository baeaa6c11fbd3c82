/*
handlers.go - HTTP API handlers for the qurban ledger

PURPOSE:
  Exposes the ledger and reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Products:
    GET    /api/products                List products
    POST   /api/products                Create product
    GET    /api/products/{id}           Product with counter analysis
    GET    /api/products/{id}/logs      Product log history
    POST   /api/products/{id}/logs      Add or move at a station

  Product log:
    GET    /api/logs?limit=N            Latest log rows across products

  Shipments:
    GET    /api/shipments?status=SENT   List shipments
    POST   /api/shipments               Create shipment (WEIGH -> in flight)
    GET    /api/shipments/{id}          Get shipment
    POST   /api/shipments/{id}/receive  Receive with counted quantities
    POST   /api/shipments/{id}/cancel   Cancel, stock returns to WEIGH

  Error logs:
    GET    /api/error-logs              List (?unresolved=true&productId=&shipmentId=)
    GET    /api/error-logs/{id}         Get error log
    GET    /api/error-logs/{id}/analysis Analysis and strategy previews
    POST   /api/error-logs/{id}/resolve Resolve with a strategy

  Scenarios:
    GET    /api/scenarios               List built-in scenarios
    POST   /api/scenarios/load          Play a built-in (JSON) or uploaded (YAML) scenario

  Monitor:
    GET    /api/monitor                 Last monitor report
    POST   /api/monitor/run             Run a check now

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine: ledger, shipments, error logs, resolver
  - Monitor: optional background discrepancy monitor
  - Events: optional event bus, for health counters

ERROR HANDLING:
  Failures are returned as {success: false, errorKind, message}:
  - 400: validation
  - 404: not_found
  - 409: conflict (shipment no longer SENT, error log already resolved)
  - 422: insufficient_stock
  - 500: internal (message is generic, details are logged)

SECURITY NOTE:
  No authentication or authorization. Run behind the event's LAN.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - monitor.go: Background discrepancy monitor
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/qurban-ledger/engine"
	"github.com/warp/qurban-ledger/eventbus"
	"github.com/warp/qurban-ledger/scenario"
)

// maxScenarioBytes bounds uploaded scenario documents.
const maxScenarioBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *engine.Engine
	Logger  *slog.Logger
	Monitor *DiscrepancyMonitor
	Events  *eventbus.Bus
	Store   Pinger
}

// NewHandler creates a handler over the engine. Monitor, Events and Store
// are optional and may be set afterwards.
func NewHandler(eng *engine.Engine, logger *slog.Logger) *Handler {
	return &Handler{Engine: eng, Logger: logger}
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns all products sorted by name.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Engine.Ledger.Products(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct creates a product with zeroed counters.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Engine.CreateProduct(r.Context(), req.Name, req.TargetPaket)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// GetProduct returns a product with its current analysis.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.Ledger.Product(r.Context(), engine.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ProductDetailDTO{
		Product:  toProductDTO(p),
		Analysis: toAnalysisDTO(h.Engine.Resolver.Analyze(p)),
	})
}

// GetProductLogs returns a product's log rows in write order.
func (h *Handler) GetProductLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.Log.History(r.Context(), engine.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLogEntryDTOs(entries))
}

// AddProductLog applies an add or move at a station.
func (h *Handler) AddProductLog(w http.ResponseWriter, r *http.Request) {
	var req AddProductLogRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Engine.AddProductLog(r.Context(),
		engine.ProductID(chi.URLParam(r, "id")),
		engine.Event(req.Event),
		engine.Place(req.Place),
		req.Value,
		req.Note,
	)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// RecentLogs returns the latest log rows across all products.
func (h *Handler) RecentLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeFailure(w, r, &engine.ValidationError{Field: "limit", Message: "must be a non-negative number"})
			return
		}
		limit = n
	}

	entries, err := h.Engine.Log.Recent(r.Context(), limit)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLogEntryDTOs(entries))
}

// =============================================================================
// SHIPMENT HANDLERS
// =============================================================================

// ListShipments returns shipments, optionally filtered by ?status=.
func (h *Handler) ListShipments(w http.ResponseWriter, r *http.Request) {
	status := engine.ShipmentStatus(r.URL.Query().Get("status"))
	shipments, err := h.Engine.Shipments.Shipments(r.Context(), status)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	dtos := make([]ShipmentDTO, len(shipments))
	for i, s := range shipments {
		dtos[i] = toShipmentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateShipment moves stock out of WEIGH into a SENT shipment.
func (h *Handler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	var req CreateShipmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	s, err := h.Engine.CreateShipment(r.Context(), toShipmentItems(req.LineItems), req.Note)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toShipmentDTO(s))
}

// GetShipment returns a single shipment.
func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Shipments.Shipment(r.Context(), engine.ShipmentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentDTO(s))
}

// ReceiveShipment records counted quantities at INVENTORY. Mismatches
// produce error logs and success=false, but the receipt itself is
// committed, so the status is still 200.
func (h *Handler) ReceiveShipment(w http.ResponseWriter, r *http.Request) {
	var req ReceiveShipmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Engine.ReceiveShipment(r.Context(),
		engine.ShipmentID(chi.URLParam(r, "id")),
		toReceivedItems(req.ReceivedLineItems),
	)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ReceiveResultDTO{
		Success:       res.Success,
		Shipment:      toShipmentDTO(res.Shipment),
		Discrepancies: toErrorLogDTOs(res.Discrepancies),
	})
}

// CancelShipment returns a SENT shipment's stock to WEIGH.
func (h *Handler) CancelShipment(w http.ResponseWriter, r *http.Request) {
	var req CancelShipmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	s, err := h.Engine.CancelShipment(r.Context(), engine.ShipmentID(chi.URLParam(r, "id")), req.Note)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentDTO(s))
}

// =============================================================================
// ERROR LOG HANDLERS
// =============================================================================

// ListErrorLogs returns error logs matching the query filters.
func (h *Handler) ListErrorLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f engine.ErrorLogFilter
	if v := q.Get("unresolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeFailure(w, r, &engine.ValidationError{Field: "unresolved", Message: "must be true or false"})
			return
		}
		f.Unresolved = b
	}
	if v := q.Get("productId"); v != "" {
		id := engine.ProductID(v)
		f.ProductID = &id
	}
	if v := q.Get("shipmentId"); v != "" {
		id := engine.ShipmentID(v)
		f.ShipmentID = &id
	}

	logs, err := h.Engine.ErrorLogs.List(r.Context(), f)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toErrorLogDTOs(logs))
}

// GetErrorLog returns a single error log.
func (h *Handler) GetErrorLog(w http.ResponseWriter, r *http.Request) {
	el, err := h.Engine.ErrorLogs.Get(r.Context(), engine.ErrorLogID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toErrorLogDTO(el))
}

// AnalyzeErrorLog returns the product analysis for an error log and what
// each automatic strategy would set.
func (h *Handler) AnalyzeErrorLog(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Resolver.AnalyzeErrorLog(r.Context(), engine.ErrorLogID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	previews := make([]StrategyPreviewDTO, len(res.Previews))
	for i, pv := range res.Previews {
		previews[i] = StrategyPreviewDTO{
			Strategy:    string(pv.Strategy),
			Corrections: toCorrectionDTOs(pv.Corrections),
		}
		if pv.Err != nil {
			previews[i].Error = pv.Err.Error()
		}
	}

	writeJSON(w, http.StatusOK, ErrorLogAnalysisDTO{
		ErrorLog: toErrorLogDTO(res.ErrorLog),
		Product:  toProductDTO(res.Product),
		Analysis: toAnalysisDTO(res.Analysis),
		Previews: previews,
	})
}

// ResolveErrorLog applies the chosen strategy and closes the error log.
func (h *Handler) ResolveErrorLog(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}

	st, err := engine.ParseStrategy(req.Strategy, engine.Overrides{
		Kumulatif:   req.OverrideValues.Kumulatif,
		DiTimbang:   req.OverrideValues.DiTimbang,
		DiInventori: req.OverrideValues.DiInventori,
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	p, err := h.Engine.ResolveDiscrepancy(r.Context(), engine.ErrorLogID(chi.URLParam(r, "id")), st, req.Note)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns the built-in scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	infos, err := scenario.List()
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// LoadScenario plays a scenario against the live engine. A JSON body
// names a built-in ({"scenarioId": "recount"}); any other body is parsed
// as a YAML scenario document.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxScenarioBytes))
	if err != nil {
		h.writeFailure(w, r, &engine.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	var sc *scenario.Scenario
	if isJSON(r) {
		var req LoadScenarioRequest
		if err := json.Unmarshal(body, &req); err != nil {
			h.writeFailure(w, r, &engine.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()})
			return
		}
		sc, err = scenario.Lookup(req.ScenarioID)
	} else {
		sc, err = scenario.Parse(body)
		if err != nil {
			err = &engine.ValidationError{Field: "scenario", Message: err.Error()}
		}
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	res, err := scenario.Run(r.Context(), h.Engine, sc)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.Logger.Info("scenario loaded", "name", res.Name, "steps", len(sc.Steps))
	writeJSON(w, http.StatusOK, LoadScenarioResponse{Name: res.Name, Trace: res.Trace})
}

// =============================================================================
// MONITOR AND HEALTH
// =============================================================================

// GetMonitorReport returns the last monitor report, running a check if
// none has run yet.
func (h *Handler) GetMonitorReport(w http.ResponseWriter, r *http.Request) {
	if h.Monitor == nil {
		writeJSON(w, http.StatusNotFound, engine.NewFailure(&engine.NotFoundError{Resource: "monitor", ID: "default"}))
		return
	}
	rep, ok := h.Monitor.Last()
	if !ok {
		var err error
		if rep, err = h.Monitor.RunNow(r.Context()); err != nil {
			h.writeFailure(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toMonitorReportDTO(rep))
}

// RunMonitor runs a monitor check immediately.
func (h *Handler) RunMonitor(w http.ResponseWriter, r *http.Request) {
	if h.Monitor == nil {
		writeJSON(w, http.StatusNotFound, engine.NewFailure(&engine.NotFoundError{Resource: "monitor", ID: "default"}))
		return
	}
	rep, err := h.Monitor.RunNow(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMonitorReportDTO(rep))
}

// Health reports liveness, store reachability and event delivery counters.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthDTO{Status: "ok"}
	status := http.StatusOK

	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			h.Logger.Error("health check failed", "err", err)
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	if h.Events != nil {
		st := h.Events.Stats()
		resp.EventsSent = st.TotalSent
		resp.EventsDropped = st.TotalDropped
	}
	if h.Monitor != nil {
		if rep, ok := h.Monitor.Last(); ok {
			resp.MonitorChecked = formatTime(rep.CheckedAt)
		}
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindConflict:
		return http.StatusConflict
	case engine.KindInsufficientStock:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeFailure writes err as a Failure body. Internal errors are logged
// with the request id; their details never reach the client.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	f := engine.NewFailure(err)
	if f.ErrorKind == engine.KindInternal {
		h.Logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path,
			"requestId", requestID(r), "err", err)
	}
	writeJSON(w, statusFor(f.ErrorKind), f)
}

// decode reads a JSON body into v, writing a validation failure on error.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("request body is empty")
		}
		h.writeFailure(w, r, &engine.ValidationError{Field: "body", Message: err.Error()})
		return false
	}
	return true
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func toLogEntryDTOs(entries []engine.ProductLogEntry) []LogEntryDTO {
	dtos := make([]LogEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLogEntryDTO(e)
	}
	return dtos
}
