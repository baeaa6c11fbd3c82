/*
engine.go - Wiring and the operations exposed to application code

PURPOSE:
  Builds the five components over one TxStore and exposes the operations
  surrounding application code calls (HTTP handlers, CLI, scenarios).

EXPOSED OPERATIONS:
  AddProductLog(productID, event, place, value, note)   -> Product
  CreateShipment(lineItems, note)                       -> Shipment
  ReceiveShipment(shipmentID, receivedLineItems)        -> ReceiveResult
  ResolveDiscrepancy(errorLogID, strategy, note)        -> Product
  CancelShipment(shipmentID, note)                      -> Shipment

  AddProductLog and Ledger.ApplyMutation refuse the correct event. Direct
  counter corrections are only reachable through ResolveDiscrepancy so
  every correct row in the product log is tied to an error log.

EVENTS:
  Domain events are published after commit to the configured Publisher.
  The engine holds no global state; fan-out belongs to the publisher.

USAGE:
  eng := engine.New(store,
      engine.WithLogger(logger),
      engine.WithPublisher(bus),
  )
  p, err := eng.AddProductLog(ctx, id, engine.EventAdd, engine.PlaceWeigh, 10, "")
*/
package engine

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// deps is shared by every component built by New.
type deps struct {
	store TxStore
	ids   IDGenerator
	now   func() time.Time
	pub   Publisher
	log   *slog.Logger
}

func (d *deps) emit(topic Topic, subject string, payload any) {
	d.pub.Publish(DomainEvent{Topic: topic, At: d.now(), Subject: subject, Payload: payload})
}

// Option configures New.
type Option func(*deps)

func WithLogger(l *slog.Logger) Option {
	return func(d *deps) { d.log = l }
}

func WithPublisher(p Publisher) Option {
	return func(d *deps) { d.pub = p }
}

func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

func WithIDGenerator(g IDGenerator) Option {
	return func(d *deps) { d.ids = g }
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Ledger    *ProductLedger
	Log       *ProductLog
	Shipments *ShipmentManager
	ErrorLogs *ErrorLogStore
	Resolver  *DiscrepancyResolver
}

func New(store TxStore, opts ...Option) *Engine {
	d := &deps{
		store: store,
		ids:   UUIDGenerator{},
		now:   func() time.Time { return time.Now().UTC() },
		pub:   nopPublisher{},
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}

	ledger := &ProductLedger{deps: d}
	errorLogs := &ErrorLogStore{deps: d}
	return &Engine{
		Ledger:    ledger,
		Log:       &ProductLog{deps: d},
		Shipments: &ShipmentManager{deps: d, ledger: ledger, errorLogs: errorLogs},
		ErrorLogs: errorLogs,
		Resolver:  &DiscrepancyResolver{deps: d, ledger: ledger, errorLogs: errorLogs},
	}
}

func (e *Engine) CreateProduct(ctx context.Context, name string, targetPaket int) (Product, error) {
	return e.Ledger.CreateProduct(ctx, name, targetPaket)
}

// AddProductLog is the operator mutation surface for add and move.
func (e *Engine) AddProductLog(ctx context.Context, id ProductID, ev Event, place Place, value int, note string) (Product, error) {
	return e.Ledger.ApplyMutation(ctx, Mutation{
		ProductID: id,
		Event:     ev,
		Place:     place,
		Value:     value,
		Note:      note,
	})
}

func (e *Engine) CreateShipment(ctx context.Context, items []ShipmentItem, note string) (Shipment, error) {
	return e.Shipments.CreateShipment(ctx, items, note)
}

func (e *Engine) ReceiveShipment(ctx context.Context, id ShipmentID, received []ReceivedItem) (ReceiveResult, error) {
	return e.Shipments.ReceiveShipment(ctx, id, received)
}

func (e *Engine) CancelShipment(ctx context.Context, id ShipmentID, note string) (Shipment, error) {
	return e.Shipments.CancelShipment(ctx, id, note)
}

func (e *Engine) ResolveDiscrepancy(ctx context.Context, id ErrorLogID, st Strategy, note string) (Product, error) {
	return e.Resolver.Resolve(ctx, id, st, note)
}
