/*
Package engine provides the product counter ledger and shipment
reconciliation engine.

PURPOSE:
  Tracks animal-product packages across two handling stations during a
  distribution event: the weighing (slaughter) station and the inventory
  station. Every product carries three interdependent counters that must
  stay consistent while quantities move between stations in batches.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: counters for one product (kumulatif, di timbang, di inventori)
  - ProductLogEntry: immutable audit row, one per counter mutation
  - Mutation: a requested add/move/correct against one counter
  - Shipment: a batch transfer from WEIGH to INVENTORY
  - ErrorLog: a received-vs-shipped mismatch awaiting resolution

CONSERVATION INVARIANT:
  When no shipment is in flight and no discrepancy is open:

    kumulatif == diTimbang + diInventori + sdhDiserahkan

  Only correct mutations issued by the DiscrepancyResolver may set a
  counter directly; everything else is an increment or a guarded decrement.

SEE ALSO:
  - ledger.go: mutation rules
  - shipment.go: shipment state machine
  - resolver.go: discrepancy analysis and resolution
  - store.go: persistence contract
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type LogEntryID string
type ShipmentID string
type ErrorLogID string

// =============================================================================
// MUTATION VOCABULARY
// =============================================================================

// Event is the kind of counter mutation recorded in the product log.
type Event string

const (
	EventAdd     Event = "add"     // Increment a station counter
	EventMove    Event = "move"    // Guarded decrement of a station counter
	EventCorrect Event = "correct" // Absolute set, discrepancy resolution only
	EventReturn  Event = "return"  // Cancelled shipment restored to WEIGH
)

func (e Event) Valid() bool {
	switch e {
	case EventAdd, EventMove, EventCorrect, EventReturn:
		return true
	}
	return false
}

// Place is the handling station a mutation applies to.
type Place string

const (
	PlaceWeigh     Place = "WEIGH"
	PlaceInventory Place = "INVENTORY"
)

func (p Place) Valid() bool {
	return p == PlaceWeigh || p == PlaceInventory
}

// Counter returns the station counter for the place.
func (p Place) Counter() Counter {
	if p == PlaceInventory {
		return CounterInventory
	}
	return CounterWeigh
}

// Counter names one of the product counters. Values double as storage
// column names.
type Counter string

const (
	CounterWeigh      Counter = "di_timbang"
	CounterInventory  Counter = "di_inventori"
	CounterCumulative Counter = "kumulatif"
)

func (c Counter) Valid() bool {
	switch c {
	case CounterWeigh, CounterInventory, CounterCumulative:
		return true
	}
	return false
}

// Place returns the station a counter is tallied at. Cumulative is
// recorded at the weighing station.
func (c Counter) Place() Place {
	if c == CounterInventory {
		return PlaceInventory
	}
	return PlaceWeigh
}

// =============================================================================
// PRODUCT
// =============================================================================

type Product struct {
	ID            ProductID
	Name          string
	Kumulatif     int // Lifetime total recorded at WEIGH
	DiTimbang     int // On hand at the weighing station
	DiInventori   int // On hand at the inventory station
	SdhDiserahkan int // Already handed to recipients
	TargetPaket   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Get returns the value of a counter.
func (p Product) Get(c Counter) int {
	switch c {
	case CounterWeigh:
		return p.DiTimbang
	case CounterInventory:
		return p.DiInventori
	case CounterCumulative:
		return p.Kumulatif
	}
	return 0
}

// Set returns a copy of p with counter c set to v.
func (p Product) Set(c Counter, v int) Product {
	switch c {
	case CounterWeigh:
		p.DiTimbang = v
	case CounterInventory:
		p.DiInventori = v
	case CounterCumulative:
		p.Kumulatif = v
	}
	return p
}

// Balanced reports whether the conservation invariant holds.
func (p Product) Balanced() bool {
	return p.Kumulatif == p.DiTimbang+p.DiInventori+p.SdhDiserahkan
}

// Progress is the distributed share of the package target, in percent.
func (p Product) Progress() decimal.Decimal {
	if p.TargetPaket <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(p.SdhDiserahkan)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(p.TargetPaket))).
		Round(2)
}

// =============================================================================
// PRODUCT LOG
// =============================================================================

// ProductLogEntry is the audit record of one counter mutation.
// Immutable once written.
type ProductLogEntry struct {
	ID        LogEntryID
	ProductID ProductID
	Event     Event
	Place     Place
	Counter   Counter
	Value     int
	Note      string
	Reference string // Shipment or error log that caused the mutation
	Timestamp time.Time
}

// Mutation is a request to change one product counter.
type Mutation struct {
	ProductID ProductID
	Event     Event
	Place     Place
	Value     int
	Note      string
	Reference string
}

// =============================================================================
// SHIPMENT
// =============================================================================

type ShipmentStatus string

const (
	ShipmentSent      ShipmentStatus = "SENT"
	ShipmentReceived  ShipmentStatus = "RECEIVED"
	ShipmentCancelled ShipmentStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s ShipmentStatus) Terminal() bool {
	return s == ShipmentReceived || s == ShipmentCancelled
}

type LineItem struct {
	ProductID        ProductID
	QuantityShipped  int
	QuantityReceived *int // Set at receipt
}

type Shipment struct {
	ID          ShipmentID
	Status      ShipmentStatus
	Note        string
	LineItems   []LineItem
	CreatedAt   time.Time
	ReceivedAt  *time.Time
	CancelledAt *time.Time
}

// Item returns the line item for a product.
func (s Shipment) Item(id ProductID) (LineItem, bool) {
	for _, li := range s.LineItems {
		if li.ProductID == id {
			return li, true
		}
	}
	return LineItem{}, false
}

// ShipmentItem is a requested line of a new shipment.
type ShipmentItem struct {
	ProductID ProductID
	Quantity  int
}

// ReceivedItem is the physically counted quantity of a product at receipt.
type ReceivedItem struct {
	ProductID ProductID
	Quantity  int
}

// MaxQuantity bounds any single quantity accepted from a caller. Counters
// are stored as SQLite INTEGER and must stay far from int64 overflow.
const MaxQuantity = 1_000_000

// ReceiveResult is the outcome of receiving a shipment. Success is false
// when any line item filed an ErrorLog; counters are committed either way.
type ReceiveResult struct {
	Success       bool
	Shipment      Shipment
	Discrepancies []ErrorLog
}

// =============================================================================
// ERROR LOG
// =============================================================================

// ErrorLog records a mismatch between shipped and received quantities.
type ErrorLog struct {
	ID               ErrorLogID
	ProductID        ProductID
	ShipmentID       ShipmentID
	QuantityExpected int
	QuantityActual   int
	Note             string
	Resolved         bool
	Strategy         StrategyKind
	ResolutionNote   string
	ResolvedAt       *time.Time
	CreatedAt        time.Time
}

// Shortfall is expected minus actual; negative when more arrived than sent.
func (e ErrorLog) Shortfall() int {
	return e.QuantityExpected - e.QuantityActual
}

type ErrorLogFilter struct {
	ProductID  *ProductID
	ShipmentID *ShipmentID
	Unresolved bool
}
