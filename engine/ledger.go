/*
ledger.go - Product counter ledger

PURPOSE:
  The ProductLedger exclusively owns counter values. Every change to a
  counter goes through it, and every change it makes is written together
  with exactly one ProductLog row in the same store transaction.

MUTATION RULES:
  add     WEIGH      di_timbang += v, kumulatif += v
  add     INVENTORY  di_inventori += v
  move    WEIGH      di_timbang -= v   (requires di_timbang >= v)
  move    INVENTORY  di_inventori -= v (requires di_inventori >= v)
  correct WEIGH      di_timbang := v
  correct INVENTORY  di_inventori := v

  ApplyMutation accepts add and move only, with 0 < v <= MaxQuantity.
  Correct bypasses the conservation invariant, so it is reachable only
  through the unexported correct path used by the DiscrepancyResolver.

  Two internal paths exist beside ApplyMutation:
  - correct: absolute set of any counter including kumulatif, v >= 0
  - restore: cancelled shipment quantity back to di_timbang ("return")

CONCURRENCY:
  add and move are atomic increments at the storage layer. Concurrent
  operators on the same product never lose updates. correct is last
  writer wins.

SEE ALSO:
  - productlog.go: Read side of the audit trail
  - store.go: IncrementCounters / DecrementCounter / SetCounter
*/
package engine

import (
	"context"
	"strings"
)

// =============================================================================
// PRODUCT LEDGER
// =============================================================================

type ProductLedger struct {
	*deps
}

// CreateProduct registers a product during event setup. Counters start at 0.
func (l *ProductLedger) CreateProduct(ctx context.Context, name string, targetPaket int) (Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Product{}, invalid("name", "is required")
	}
	if targetPaket < 0 {
		return Product{}, invalid("targetPaket", "must not be negative, got %d", targetPaket)
	}

	now := l.now()
	p := Product{
		ID:          ProductID(l.ids.NewID()),
		Name:        name,
		TargetPaket: targetPaket,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.CreateProduct(ctx, p); err != nil {
		return Product{}, err
	}

	l.log.Info("product created", "product", p.ID, "name", p.Name, "target", p.TargetPaket)
	l.emit(TopicProductUpdated, string(p.ID), p)
	return p, nil
}

func (l *ProductLedger) Product(ctx context.Context, id ProductID) (Product, error) {
	return l.store.GetProduct(ctx, id)
}

func (l *ProductLedger) Products(ctx context.Context) ([]Product, error) {
	return l.store.ListProducts(ctx)
}

// ApplyMutation validates and applies one mutation and its log row
// atomically, then emits product-updated.
func (l *ProductLedger) ApplyMutation(ctx context.Context, m Mutation) (Product, error) {
	var out Product
	err := l.store.WithTx(ctx, func(s Store) error {
		p, err := l.apply(ctx, s, m)
		out = p
		return err
	})
	if err != nil {
		l.log.Debug("mutation rejected", "product", m.ProductID, "event", m.Event, "place", m.Place, "value", m.Value, "err", err)
		return Product{}, err
	}

	l.log.Info("mutation applied", "product", out.ID, "event", m.Event, "place", m.Place, "value", m.Value)
	l.emit(TopicProductUpdated, string(out.ID), out)
	return out, nil
}

// apply runs inside the caller's transaction.
func (l *ProductLedger) apply(ctx context.Context, s Store, m Mutation) (Product, error) {
	if err := validateMutation(m); err != nil {
		return Product{}, err
	}

	var (
		p   Product
		err error
	)
	counter := m.Place.Counter()
	switch m.Event {
	case EventAdd:
		if m.Place == PlaceWeigh {
			p, err = s.IncrementCounters(ctx, m.ProductID, m.Value, CounterWeigh, CounterCumulative)
		} else {
			p, err = s.IncrementCounters(ctx, m.ProductID, m.Value, CounterInventory)
		}
	case EventMove:
		p, err = s.DecrementCounter(ctx, m.ProductID, counter, m.Value)
	}
	if err != nil {
		return Product{}, err
	}

	if err := l.record(ctx, s, m.ProductID, m.Event, m.Place, counter, m.Value, m.Note, m.Reference); err != nil {
		return Product{}, err
	}
	return p, nil
}

func validateMutation(m Mutation) error {
	if m.ProductID == "" {
		return invalid("productId", "is required")
	}
	if !m.Place.Valid() {
		return invalid("place", "unknown place %q", m.Place)
	}
	switch m.Event {
	case EventAdd, EventMove:
	case EventCorrect:
		return invalid("event", "correct is only available through discrepancy resolution")
	case EventReturn:
		return invalid("event", "return is reserved for shipment cancellation")
	default:
		return invalid("event", "unknown event %q", m.Event)
	}
	if m.Value <= 0 {
		return invalid("value", "must be positive, got %d", m.Value)
	}
	if m.Value > MaxQuantity {
		return invalid("value", "must not exceed %d, got %d", MaxQuantity, m.Value)
	}
	return nil
}

// correct sets a counter to an absolute value. Reserved for the resolver.
func (l *ProductLedger) correct(ctx context.Context, s Store, id ProductID, c Correction, note, ref string) (Product, error) {
	if !c.Counter.Valid() {
		return Product{}, invalid("counter", "unknown counter %q", c.Counter)
	}
	if c.Value < 0 {
		return Product{}, invalid(string(c.Counter), "correction would set a negative value %d", c.Value)
	}

	p, err := s.SetCounter(ctx, id, c.Counter, c.Value)
	if err != nil {
		return Product{}, err
	}
	if err := l.record(ctx, s, id, EventCorrect, c.Counter.Place(), c.Counter, c.Value, note, ref); err != nil {
		return Product{}, err
	}
	return p, nil
}

// restore returns a cancelled shipment's quantity to di_timbang without
// touching kumulatif.
func (l *ProductLedger) restore(ctx context.Context, s Store, id ProductID, qty int, note, ref string) (Product, error) {
	p, err := s.IncrementCounters(ctx, id, qty, CounterWeigh)
	if err != nil {
		return Product{}, err
	}
	if err := l.record(ctx, s, id, EventReturn, PlaceWeigh, CounterWeigh, qty, note, ref); err != nil {
		return Product{}, err
	}
	return p, nil
}

func (l *ProductLedger) record(ctx context.Context, s Store, id ProductID, ev Event, place Place, c Counter, value int, note, ref string) error {
	return s.AppendLog(ctx, ProductLogEntry{
		ID:        LogEntryID(l.ids.NewID()),
		ProductID: id,
		Event:     ev,
		Place:     place,
		Counter:   c,
		Value:     value,
		Note:      note,
		Reference: ref,
		Timestamp: l.now(),
	})
}
