/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Products:
    ProductDTO, ProductDetailDTO, AnalysisDTO, CreateProductRequest

  Product log:
    LogEntryDTO, AddProductLogRequest

  Shipments:
    ShipmentDTO, LineItemDTO, CreateShipmentRequest,
    ReceiveShipmentRequest, CancelShipmentRequest, ReceiveResultDTO

  Error logs:
    ErrorLogDTO, ErrorLogAnalysisDTO, StrategyPreviewDTO, ResolveRequest

  Scenarios:
    LoadScenarioRequest, LoadScenarioResponse

  Monitor:
    MonitorReportDTO

  Counts are plain integers. Progress is a decimal string ("33.33") so
  clients never see float rounding.

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/qurban-ledger/engine"
)

// =============================================================================
// PRODUCTS
// =============================================================================

type ProductDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Kumulatif     int    `json:"kumulatif"`
	DiTimbang     int    `json:"diTimbang"`
	DiInventori   int    `json:"diInventori"`
	SdhDiserahkan int    `json:"sdhDiserahkan"`
	TargetPaket   int    `json:"targetPaket"`
	Progress      string `json:"progress"`
	Balanced      bool   `json:"balanced"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

// ProductDetailDTO is a product with its current counter analysis.
type ProductDetailDTO struct {
	Product  ProductDTO  `json:"product"`
	Analysis AnalysisDTO `json:"analysis"`
}

type AnalysisDTO struct {
	ExpectedInventori int  `json:"expectedInventori"`
	InventoryDelta    int  `json:"inventoryDelta"`
	TotalAccounted    int  `json:"totalAccounted"`
	CumulativeDelta   int  `json:"cumulativeDelta"`
	Balanced          bool `json:"balanced"`
}

type CreateProductRequest struct {
	Name        string `json:"name"`
	TargetPaket int    `json:"targetPaket"`
}

// =============================================================================
// PRODUCT LOG
// =============================================================================

type LogEntryDTO struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Event     string `json:"event"`
	Place     string `json:"place"`
	Counter   string `json:"counter"`
	Value     int    `json:"value"`
	Note      string `json:"note,omitempty"`
	Reference string `json:"reference,omitempty"`
	Timestamp string `json:"timestamp"`
}

// AddProductLogRequest is an operator add or move at a station.
type AddProductLogRequest struct {
	Event string `json:"event"`
	Place string `json:"place"`
	Value int    `json:"value"`
	Note  string `json:"note"`
}

// =============================================================================
// SHIPMENTS
// =============================================================================

type LineItemDTO struct {
	ProductID        string `json:"productId"`
	QuantityShipped  int    `json:"quantityShipped"`
	QuantityReceived *int   `json:"quantityReceived"`
}

type ShipmentDTO struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Note        string        `json:"note,omitempty"`
	LineItems   []LineItemDTO `json:"lineItems"`
	CreatedAt   string        `json:"createdAt"`
	ReceivedAt  *string       `json:"receivedAt,omitempty"`
	CancelledAt *string       `json:"cancelledAt,omitempty"`
}

type QuantityRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CreateShipmentRequest struct {
	LineItems []QuantityRequest `json:"lineItems"`
	Note      string            `json:"note"`
}

type ReceiveShipmentRequest struct {
	ReceivedLineItems []QuantityRequest `json:"receivedLineItems"`
}

type CancelShipmentRequest struct {
	Note string `json:"note"`
}

type ReceiveResultDTO struct {
	Success       bool          `json:"success"`
	Shipment      ShipmentDTO   `json:"shipment"`
	Discrepancies []ErrorLogDTO `json:"discrepancies"`
}

// =============================================================================
// ERROR LOGS
// =============================================================================

type ErrorLogDTO struct {
	ID               string  `json:"id"`
	ProductID        string  `json:"productId"`
	ShipmentID       string  `json:"shipmentId"`
	QuantityExpected int     `json:"quantityExpected"`
	QuantityActual   int     `json:"quantityActual"`
	Note             string  `json:"note"`
	Resolved         bool    `json:"resolved"`
	Strategy         string  `json:"strategy,omitempty"`
	ResolutionNote   string  `json:"resolutionNote,omitempty"`
	ResolvedAt       *string `json:"resolvedAt,omitempty"`
	CreatedAt        string  `json:"createdAt"`
}

type CorrectionDTO struct {
	Counter string `json:"counter"`
	Value   int    `json:"value"`
}

// StrategyPreviewDTO is what a strategy would do if chosen now.
type StrategyPreviewDTO struct {
	Strategy    string          `json:"strategy"`
	Corrections []CorrectionDTO `json:"corrections"`
	Error       string          `json:"error,omitempty"`
}

type ErrorLogAnalysisDTO struct {
	ErrorLog ErrorLogDTO          `json:"errorLog"`
	Product  ProductDTO           `json:"product"`
	Analysis AnalysisDTO          `json:"analysis"`
	Previews []StrategyPreviewDTO `json:"previews"`
}

type OverrideValues struct {
	Kumulatif   *int `json:"kumulatif,omitempty"`
	DiTimbang   *int `json:"diTimbang,omitempty"`
	DiInventori *int `json:"diInventori,omitempty"`
}

// ResolveRequest picks a strategy and justifies it. OverrideValues is
// required for recount and manual.
type ResolveRequest struct {
	Strategy       string         `json:"strategy"`
	Note           string         `json:"note"`
	OverrideValues OverrideValues `json:"overrideValues"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

type LoadScenarioResponse struct {
	Name  string   `json:"name"`
	Trace []string `json:"trace"`
}

// =============================================================================
// MONITOR
// =============================================================================

type MonitorReportDTO struct {
	CheckedAt      string        `json:"checkedAt"`
	Clean          bool          `json:"clean"`
	StaleErrorLogs []ErrorLogDTO `json:"staleErrorLogs"`
	StaleShipments []ShipmentDTO `json:"staleShipments"`
	Drifted        []ProductDTO  `json:"drifted"`
}

type HealthDTO struct {
	Status         string `json:"status"`
	EventsSent     uint64 `json:"eventsSent"`
	EventsDropped  uint64 `json:"eventsDropped"`
	MonitorChecked string `json:"monitorChecked,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toProductDTO(p engine.Product) ProductDTO {
	return ProductDTO{
		ID:            string(p.ID),
		Name:          p.Name,
		Kumulatif:     p.Kumulatif,
		DiTimbang:     p.DiTimbang,
		DiInventori:   p.DiInventori,
		SdhDiserahkan: p.SdhDiserahkan,
		TargetPaket:   p.TargetPaket,
		Progress:      p.Progress().StringFixed(2),
		Balanced:      p.Balanced(),
		CreatedAt:     formatTime(p.CreatedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
}

func toAnalysisDTO(a engine.Analysis) AnalysisDTO {
	return AnalysisDTO{
		ExpectedInventori: a.ExpectedInventori,
		InventoryDelta:    a.InventoryDelta,
		TotalAccounted:    a.TotalAccounted,
		CumulativeDelta:   a.CumulativeDelta,
		Balanced:          a.Balanced(),
	}
}

func toLogEntryDTO(e engine.ProductLogEntry) LogEntryDTO {
	return LogEntryDTO{
		ID:        string(e.ID),
		ProductID: string(e.ProductID),
		Event:     string(e.Event),
		Place:     string(e.Place),
		Counter:   string(e.Counter),
		Value:     e.Value,
		Note:      e.Note,
		Reference: e.Reference,
		Timestamp: formatTime(e.Timestamp),
	}
}

func toShipmentDTO(s engine.Shipment) ShipmentDTO {
	items := make([]LineItemDTO, len(s.LineItems))
	for i, li := range s.LineItems {
		items[i] = LineItemDTO{
			ProductID:        string(li.ProductID),
			QuantityShipped:  li.QuantityShipped,
			QuantityReceived: li.QuantityReceived,
		}
	}
	return ShipmentDTO{
		ID:          string(s.ID),
		Status:      string(s.Status),
		Note:        s.Note,
		LineItems:   items,
		CreatedAt:   formatTime(s.CreatedAt),
		ReceivedAt:  formatTimePtr(s.ReceivedAt),
		CancelledAt: formatTimePtr(s.CancelledAt),
	}
}

func toErrorLogDTO(e engine.ErrorLog) ErrorLogDTO {
	return ErrorLogDTO{
		ID:               string(e.ID),
		ProductID:        string(e.ProductID),
		ShipmentID:       string(e.ShipmentID),
		QuantityExpected: e.QuantityExpected,
		QuantityActual:   e.QuantityActual,
		Note:             e.Note,
		Resolved:         e.Resolved,
		Strategy:         string(e.Strategy),
		ResolutionNote:   e.ResolutionNote,
		ResolvedAt:       formatTimePtr(e.ResolvedAt),
		CreatedAt:        formatTime(e.CreatedAt),
	}
}

func toErrorLogDTOs(logs []engine.ErrorLog) []ErrorLogDTO {
	out := make([]ErrorLogDTO, len(logs))
	for i, e := range logs {
		out[i] = toErrorLogDTO(e)
	}
	return out
}

func toMonitorReportDTO(r MonitorReport) MonitorReportDTO {
	dto := MonitorReportDTO{
		CheckedAt:      formatTime(r.CheckedAt),
		Clean:          r.Clean(),
		StaleErrorLogs: toErrorLogDTOs(r.StaleErrorLogs),
		StaleShipments: make([]ShipmentDTO, len(r.StaleShipments)),
		Drifted:        make([]ProductDTO, len(r.Drifted)),
	}
	for i, s := range r.StaleShipments {
		dto.StaleShipments[i] = toShipmentDTO(s)
	}
	for i, p := range r.Drifted {
		dto.Drifted[i] = toProductDTO(p)
	}
	return dto
}

func toCorrectionDTOs(cs []engine.Correction) []CorrectionDTO {
	out := make([]CorrectionDTO, len(cs))
	for i, c := range cs {
		out[i] = CorrectionDTO{Counter: string(c.Counter), Value: c.Value}
	}
	return out
}

func toShipmentItems(reqs []QuantityRequest) []engine.ShipmentItem {
	out := make([]engine.ShipmentItem, len(reqs))
	for i, q := range reqs {
		out[i] = engine.ShipmentItem{ProductID: engine.ProductID(q.ProductID), Quantity: q.Quantity}
	}
	return out
}

func toReceivedItems(reqs []QuantityRequest) []engine.ReceivedItem {
	out := make([]engine.ReceivedItem, len(reqs))
	for i, q := range reqs {
		out[i] = engine.ReceivedItem{ProductID: engine.ProductID(q.ProductID), Quantity: q.Quantity}
	}
	return out
}
