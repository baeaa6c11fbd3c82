package engine

import "time"

// Topic names a domain event emitted after a successful commit.
type Topic string

const (
	TopicProductUpdated      Topic = "product-updated"
	TopicShipmentCreated     Topic = "shipment-created"
	TopicShipmentReceived    Topic = "shipment-received"
	TopicShipmentCancelled   Topic = "shipment-cancelled"
	TopicDiscrepancyLogged   Topic = "discrepancy-logged"
	TopicDiscrepancyResolved Topic = "discrepancy-resolved"
)

// DomainEvent notifies an external real-time layer that state changed.
// Payload is the affected record (Product, Shipment or ErrorLog).
type DomainEvent struct {
	Topic   Topic
	At      time.Time
	Subject string // Id of the affected record
	Payload any
}

// Publisher receives domain events. Publish must not block the caller.
type Publisher interface {
	Publish(ev DomainEvent)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(DomainEvent)

func (f PublisherFunc) Publish(ev DomainEvent) { f(ev) }

type nopPublisher struct{}

func (nopPublisher) Publish(DomainEvent) {}
