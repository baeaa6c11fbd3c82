/*
shipment.go - Batch transfers from the weighing station to inventory

PURPOSE:
  The ShipmentManager exclusively owns the Shipment lifecycle. It batches
  move mutations at WEIGH into a shipment and, on physical receipt, adds
  what actually arrived at INVENTORY and files an ErrorLog for every
  product whose received quantity differs from the shipped quantity.

STATE MACHINE:
  SENT --receive--> RECEIVED   (terminal)
  SENT --cancel---> CANCELLED  (terminal)

ATOMICITY:
  CreateShipment: every line item is deducted or none are.
  ReceiveShipment: inventory adds, error logs and the status change commit
  together.
  CancelShipment: restores and the status change commit together.

INVENTORY REFLECTS PHYSICAL REALITY:
  Receipt always adds the counted quantity, never the paperwork figure.
  The difference is left for the DiscrepancyResolver.

SEE ALSO:
  - ledger.go: move / add / restore mutations
  - errorlog.go: Discrepancy records
*/
package engine

import (
	"context"
	"fmt"
	"strings"
)

// =============================================================================
// SHIPMENT MANAGER
// =============================================================================

type ShipmentManager struct {
	*deps
	ledger    *ProductLedger
	errorLogs *ErrorLogStore
}

// CreateShipment deducts every line item from di_timbang and persists a
// SENT shipment. Any failure leaves all counters unchanged.
func (m *ShipmentManager) CreateShipment(ctx context.Context, items []ShipmentItem, note string) (Shipment, error) {
	if err := validateShipmentItems(items); err != nil {
		return Shipment{}, err
	}

	sh := Shipment{
		ID:        ShipmentID(m.ids.NewID()),
		Status:    ShipmentSent,
		Note:      strings.TrimSpace(note),
		LineItems: make([]LineItem, 0, len(items)),
		CreatedAt: m.now(),
	}

	var updated []Product
	err := m.store.WithTx(ctx, func(s Store) error {
		for _, it := range items {
			p, err := m.ledger.apply(ctx, s, Mutation{
				ProductID: it.ProductID,
				Event:     EventMove,
				Place:     PlaceWeigh,
				Value:     it.Quantity,
				Note:      shipmentNote("shipped", sh.ID, sh.Note),
				Reference: string(sh.ID),
			})
			if err != nil {
				return err
			}
			updated = append(updated, p)
			sh.LineItems = append(sh.LineItems, LineItem{
				ProductID:       it.ProductID,
				QuantityShipped: it.Quantity,
			})
		}
		return s.CreateShipment(ctx, sh)
	})
	if err != nil {
		m.log.Debug("shipment rejected", "items", len(items), "err", err)
		return Shipment{}, err
	}

	m.log.Info("shipment sent", "shipment", sh.ID, "items", len(sh.LineItems))
	for _, p := range updated {
		m.emit(TopicProductUpdated, string(p.ID), p)
	}
	m.emit(TopicShipmentCreated, string(sh.ID), sh)
	return sh, nil
}

func validateShipmentItems(items []ShipmentItem) error {
	if len(items) == 0 {
		return invalid("lineItems", "at least one line item is required")
	}
	seen := make(map[ProductID]bool, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return invalid("lineItems", "product id is required")
		}
		if seen[it.ProductID] {
			return invalid("lineItems", "product %s listed more than once", it.ProductID)
		}
		seen[it.ProductID] = true
		if it.Quantity <= 0 {
			return invalid("lineItems", "quantity for %s must be positive, got %d", it.ProductID, it.Quantity)
		}
		if it.Quantity > MaxQuantity {
			return invalid("lineItems", "quantity for %s must not exceed %d, got %d", it.ProductID, MaxQuantity, it.Quantity)
		}
	}
	return nil
}

// ReceiveShipment records the physically received quantities. A line item
// missing from received counts as 0 received.
func (m *ShipmentManager) ReceiveShipment(ctx context.Context, id ShipmentID, received []ReceivedItem) (ReceiveResult, error) {
	counted := make(map[ProductID]int, len(received))
	for _, r := range received {
		if r.Quantity < 0 {
			return ReceiveResult{}, invalid("receivedLineItems", "quantity for %s must not be negative, got %d", r.ProductID, r.Quantity)
		}
		if r.Quantity > MaxQuantity {
			return ReceiveResult{}, invalid("receivedLineItems", "quantity for %s must not exceed %d, got %d", r.ProductID, MaxQuantity, r.Quantity)
		}
		if _, dup := counted[r.ProductID]; dup {
			return ReceiveResult{}, invalid("receivedLineItems", "product %s listed more than once", r.ProductID)
		}
		counted[r.ProductID] = r.Quantity
	}

	var (
		sh            Shipment
		updated       []Product
		discrepancies []ErrorLog
	)
	err := m.store.WithTx(ctx, func(s Store) error {
		var err error
		sh, err = s.GetShipment(ctx, id)
		if err != nil {
			return err
		}
		if sh.Status != ShipmentSent {
			return &ConflictError{Resource: "shipment", ID: string(id), Reason: fmt.Sprintf("cannot receive a %s shipment", sh.Status)}
		}
		for pid := range counted {
			if _, ok := sh.Item(pid); !ok {
				return invalid("receivedLineItems", "product %s is not on shipment %s", pid, id)
			}
		}

		now := m.now()
		for i, li := range sh.LineItems {
			qty := counted[li.ProductID]
			if qty > 0 {
				p, err := m.ledger.apply(ctx, s, Mutation{
					ProductID: li.ProductID,
					Event:     EventAdd,
					Place:     PlaceInventory,
					Value:     qty,
					Note:      shipmentNote("received", sh.ID, ""),
					Reference: string(sh.ID),
				})
				if err != nil {
					return err
				}
				updated = append(updated, p)
			}
			q := qty
			sh.LineItems[i].QuantityReceived = &q

			if qty != li.QuantityShipped {
				el, err := m.errorLogs.create(ctx, s, ErrorLog{
					ProductID:        li.ProductID,
					ShipmentID:       sh.ID,
					QuantityExpected: li.QuantityShipped,
					QuantityActual:   qty,
					Note:             fmt.Sprintf("shipment %s: shipped %d, received %d", sh.ID, li.QuantityShipped, qty),
				})
				if err != nil {
					return err
				}
				discrepancies = append(discrepancies, el)
			}
		}

		sh.Status = ShipmentReceived
		sh.ReceivedAt = &now
		return s.UpdateShipment(ctx, sh)
	})
	if err != nil {
		m.log.Debug("receive rejected", "shipment", id, "err", err)
		return ReceiveResult{}, err
	}

	m.log.Info("shipment received", "shipment", sh.ID, "discrepancies", len(discrepancies))
	for _, p := range updated {
		m.emit(TopicProductUpdated, string(p.ID), p)
	}
	m.emit(TopicShipmentReceived, string(sh.ID), sh)
	for _, el := range discrepancies {
		m.log.Warn("discrepancy logged", "errorLog", el.ID, "product", el.ProductID, "expected", el.QuantityExpected, "actual", el.QuantityActual)
		m.emit(TopicDiscrepancyLogged, string(el.ID), el)
	}

	if discrepancies == nil {
		discrepancies = []ErrorLog{}
	}
	return ReceiveResult{Success: len(discrepancies) == 0, Shipment: sh, Discrepancies: discrepancies}, nil
}

// CancelShipment reverses a SENT shipment that never physically departed.
// Quantities go back to di_timbang through logged return mutations;
// kumulatif is untouched.
func (m *ShipmentManager) CancelShipment(ctx context.Context, id ShipmentID, note string) (Shipment, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return Shipment{}, invalid("note", "a cancellation reason is required")
	}

	var (
		sh      Shipment
		updated []Product
	)
	err := m.store.WithTx(ctx, func(s Store) error {
		var err error
		sh, err = s.GetShipment(ctx, id)
		if err != nil {
			return err
		}
		if sh.Status != ShipmentSent {
			return &ConflictError{Resource: "shipment", ID: string(id), Reason: fmt.Sprintf("cannot cancel a %s shipment", sh.Status)}
		}
		for _, li := range sh.LineItems {
			p, err := m.ledger.restore(ctx, s, li.ProductID, li.QuantityShipped, shipmentNote("cancelled", sh.ID, note), string(sh.ID))
			if err != nil {
				return err
			}
			updated = append(updated, p)
		}
		now := m.now()
		sh.Status = ShipmentCancelled
		sh.CancelledAt = &now
		return s.UpdateShipment(ctx, sh)
	})
	if err != nil {
		m.log.Debug("cancel rejected", "shipment", id, "err", err)
		return Shipment{}, err
	}

	m.log.Info("shipment cancelled", "shipment", sh.ID, "reason", note)
	for _, p := range updated {
		m.emit(TopicProductUpdated, string(p.ID), p)
	}
	m.emit(TopicShipmentCancelled, string(sh.ID), sh)
	return sh, nil
}

func (m *ShipmentManager) Shipment(ctx context.Context, id ShipmentID) (Shipment, error) {
	return m.store.GetShipment(ctx, id)
}

// Shipments lists shipments, optionally filtered by status.
func (m *ShipmentManager) Shipments(ctx context.Context, status ShipmentStatus) ([]Shipment, error) {
	switch status {
	case "", ShipmentSent, ShipmentReceived, ShipmentCancelled:
	default:
		return nil, invalid("status", "unknown shipment status %q", status)
	}
	return m.store.ListShipments(ctx, status)
}

func shipmentNote(action string, id ShipmentID, extra string) string {
	if extra == "" {
		return fmt.Sprintf("shipment %s %s", id, action)
	}
	return fmt.Sprintf("shipment %s %s: %s", id, action, extra)
}
